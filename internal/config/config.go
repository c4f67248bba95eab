// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the server configuration.
type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	JWTSecret   string
	LogLevel    zerolog.Level

	// Rate limiting
	RedisURL         string
	RateLimitPrefix  string
	RateLimitWindow  time.Duration
	RateLimitImprove int
	RateLimitMeta    int

	// Events and tracing
	RabbitMQURL  string
	OTLPEndpoint string

	// Assistant
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
}

// Production reports whether the server runs in production.
func (c *Config) Production() bool {
	return c.Env == EnvProduction
}

// Load reads the server configuration, preloading .env when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.Env = getEnvString("APP_ENV", EnvDevelopment)
	if cfg.Env != EnvDevelopment && cfg.Env != EnvProduction {
		return nil, fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, cfg.Env)
	}
	cfg.Port = getEnvString("PORT", "8080")
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", zerolog.InfoLevel)

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.RateLimitPrefix = getEnvString("RATE_LIMIT_PREFIX", "textly-chat")
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", 5*time.Minute)
	cfg.RateLimitImprove = getEnvInt("RATE_LIMIT_IMPROVE_MAX", 20)
	cfg.RateLimitMeta = getEnvInt("RATE_LIMIT_META_MAX", 60)

	cfg.RabbitMQURL = os.Getenv("RABBITMQ_URL")
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnvString("GEMINI_MODEL", "gemini-1.5-flash")
	cfg.GeminiBaseURL = getEnvString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")

	return cfg, nil
}

// ClientConfig is the terminal client configuration.
type ClientConfig struct {
	APIURL      string
	RealtimeURL string
	Token       string
	DatabaseURL string
	CachePath   string
	LogLevel    zerolog.Level
}

// LoadClient reads the terminal client configuration.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{}
	var missing []string
	cfg.APIURL = os.Getenv("TEXTLY_API_URL")
	if cfg.APIURL == "" {
		missing = append(missing, "TEXTLY_API_URL")
	}
	cfg.Token = os.Getenv("TEXTLY_TOKEN")
	if cfg.Token == "" {
		missing = append(missing, "TEXTLY_TOKEN")
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.CachePath = os.Getenv("TEXTLY_CACHE_PATH")
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", zerolog.WarnLevel)
	cfg.RealtimeURL = os.Getenv("TEXTLY_REALTIME_URL")
	if cfg.RealtimeURL == "" {
		derived, err := RealtimeURLFromAPI(cfg.APIURL)
		if err != nil {
			return nil, err
		}
		cfg.RealtimeURL = derived
	}
	return cfg, nil
}

// RealtimeURLFromAPI maps http(s)://host/base to ws(s)://host/base/realtime.
func RealtimeURLFromAPI(apiURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid TEXTLY_API_URL %q", apiURL)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported TEXTLY_API_URL scheme %q", u.Scheme)
	}
	u.Path += "/realtime"
	return u.String(), nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvLevel(key string, defaultVal zerolog.Level) zerolog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	level, err := zerolog.ParseLevel(strings.ToLower(v))
	if err != nil {
		return defaultVal
	}
	return level
}
