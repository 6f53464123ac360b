package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ceylonbites/checkout/internal/clock"
	"github.com/ceylonbites/checkout/internal/config"
	"github.com/ceylonbites/checkout/internal/notification"
	notificationdomain "github.com/ceylonbites/checkout/internal/notification/domain"
	"github.com/ceylonbites/checkout/internal/observability"
	obsmiddleware "github.com/ceylonbites/checkout/internal/observability/logger"
	obsmetrics "github.com/ceylonbites/checkout/internal/observability/metrics"
	obstracing "github.com/ceylonbites/checkout/internal/observability/tracing"
	"github.com/ceylonbites/checkout/internal/order"
	orderdomain "github.com/ceylonbites/checkout/internal/order/domain"
	"github.com/ceylonbites/checkout/internal/payhere"
	"github.com/ceylonbites/checkout/internal/ratelimit"
	"github.com/ceylonbites/checkout/internal/subscription"
	subscriptiondomain "github.com/ceylonbites/checkout/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	clock.Module,
	payhere.Module,
	order.Module,
	subscription.Module,
	notification.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Log:   log,
		Debug: obsCfg.Debug(),
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(obsCfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	plans           *config.PlanCatalogHolder
	orderSvc        orderdomain.Service
	subscriptionSvc subscriptiondomain.Service
	notificationSvc notificationdomain.Service
	statusLimiter   *ratelimit.StatusLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Plans           *config.PlanCatalogHolder
	OrderSvc        orderdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	NotificationSvc notificationdomain.Service
	StatusLimiter   *ratelimit.StatusLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log.Named("http.server"),
		genID:           p.GenID,
		plans:           p.Plans,
		orderSvc:        p.OrderSvc,
		subscriptionSvc: p.SubscriptionSvc,
		notificationSvc: p.NotificationSvc,
		statusLimiter:   p.StatusLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerGatewayRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerGatewayRoutes() {
	// The gateway posts callbacks form-encoded; this route carries its own
	// response contract and bypasses the JSON error envelope.
	s.engine.POST("/payhere/notify", s.PayHereNotify)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/checkout", s.CreateCheckout)
	api.GET("/orders/:orderID/status", s.StatusRateLimit(), s.OrderStatus)

	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/:orderID/status", s.StatusRateLimit(), s.SubscriptionStatus)
	api.POST("/subscriptions/cancel-auto-renewal", s.CancelAutoRenewal)
	api.POST("/subscriptions/reactivate-auto-renewal", s.ReactivateAutoRenewal)
}
