package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatusRateLimit throttles the public status lookups per client address.
// A limiter outage fails open: status reads are cheap and read-only, and
// refusing them because redis is down helps nobody.
func (s *Server) StatusRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.statusLimiter == nil || !s.statusLimiter.Enabled() {
			c.Next()
			return
		}

		allowed, err := s.statusLimiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.log.Warn("status rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
