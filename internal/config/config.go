package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimit RateLimitConfig

	PayHere PayHereConfig
}

// RateLimitConfig throttles the public status endpoints. Disabled unless a
// redis address is configured.
type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

// PayHereConfig carries the gateway credentials the notification
// pipeline verifies against and the endpoints used for outbound calls.
type PayHereConfig struct {
	MerchantID     string
	MerchantSecret string

	// App credentials for the subscription-manager API used to retire
	// recurring tokens.
	AppID     string
	AppSecret string
	APIBase   string

	MaxRenewalAttempts int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "checkout"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "checkout"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		RateLimit: RateLimitConfig{
			Enabled: getenv("RATE_LIMIT_ENABLED", "false") == "true",
			Rate:    getenvFloat("RATE_LIMIT_RATE", 10),
			Burst:   getenvInt("RATE_LIMIT_BURST", 20),
		},

		PayHere: PayHereConfig{
			MerchantID:         strings.TrimSpace(getenv("PAYHERE_MERCHANT_ID", "")),
			MerchantSecret:     strings.TrimSpace(getenv("PAYHERE_MERCHANT_SECRET", "")),
			AppID:              strings.TrimSpace(getenv("PAYHERE_APP_ID", "")),
			AppSecret:          strings.TrimSpace(getenv("PAYHERE_APP_SECRET", "")),
			APIBase:            getenv("PAYHERE_API_BASE", "https://sandbox.payhere.lk"),
			MaxRenewalAttempts: getenvInt("PAYHERE_MAX_RENEWAL_ATTEMPTS", 3),
		},
	}

	if cfg.PayHere.MerchantID == "" {
		log.Println("[config] PAYHERE_MERCHANT_ID is not set; inbound notifications will be rejected")
	}

	return cfg
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, value, fallback)
		return fallback
	}
	return parsed
}

func getenvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return parsed
}
