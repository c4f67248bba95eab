package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"textly-chat/internal/assist"
	"textly-chat/internal/auth"
	"textly-chat/internal/config"
	"textly-chat/internal/db"
	"textly-chat/internal/handlers"
	"textly-chat/internal/middleware"
	"textly-chat/internal/observability"
	"textly-chat/internal/rabbitmq"
	"textly-chat/internal/ratelimit"
	"textly-chat/internal/realtime"
	"textly-chat/internal/repositories"
	"textly-chat/internal/telemetry"
	"textly-chat/internal/ws"
)

const serviceName = "textly-chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Env)
	if err != nil {
		logger.Fatal().Err(err).Msg("init tracing")
	}

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.RabbitMQURL, "textly.events", logger.With().Str("component", "rabbitmq").Logger())
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, "audit_log.textly", serviceName, cfg.Env, logger)
	security := observability.NewSecurityLog(logger.With().Str("component", "security").Logger(), audit)

	limiter := ratelimit.New(ratelimit.Config{
		RedisURL:   cfg.RedisURL,
		Prefix:     cfg.RateLimitPrefix,
		Window:     cfg.RateLimitWindow,
		MetaMax:    cfg.RateLimitMeta,
		ImproveMax: cfg.RateLimitImprove,
		Production: cfg.Production(),
	}, logger.With().Str("component", "ratelimit").Logger())
	defer limiter.Close()
	logger.Info().Str("backend", limiter.Backend()).Msg("rate limiter ready")

	roomRepo := repositories.NewRoomRepo(database)
	profileRepo := repositories.NewProfileRepo(database)
	settingsRepo := repositories.NewSettingsRepo(database)

	var provider assist.Provider
	if cfg.GeminiAPIKey != "" {
		provider = assist.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL)
	} else {
		logger.Warn().Msg("GEMINI_API_KEY not set, assistant requests will fail")
	}
	assistant := assist.New(provider)

	broker := realtime.NewBroker()
	hub := ws.NewHub(ws.NewRowVisibility(roomRepo, logger), logger.With().Str("component", "hub").Logger())
	if _, err := hub.Attach(broker); err != nil {
		logger.Fatal().Err(err).Msg("attach realtime hub")
	}
	defer hub.Close()

	listener := realtime.NewListener(cfg.DatabaseURL, db.ChangeChannel, broker, realtime.NewSQLRowLoader(database), logger.With().Str("component", "listener").Logger())
	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("change listener stopped")
			stop()
		}
	}()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestContext())

	router.GET("/healthz", handlers.Healthz(database))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/realtime", ws.NewHandler(hub, auth.NewVerifier(cfg.JWTSecret), publisher, security, logger.With().Str("component", "ws").Logger()).Handle)

	api := router.Group("/api", middleware.Auth(auth.NewVerifier(cfg.JWTSecret), security))
	meta := handlers.NewMetaHandler(roomRepo, profileRepo, security, logger)
	improve := handlers.NewImproveHandler(settingsRepo, assistant, security, logger)
	settings := handlers.NewSettingsHandler(settingsRepo, logger)

	api.POST("/users/meta", middleware.RateLimit(limiter, ratelimit.NamespaceUsersMeta, security), meta.UsersMeta)
	api.POST("/improve", middleware.RateLimit(limiter, ratelimit.NamespaceImprove, security), improve.Improve)
	api.GET("/settings", settings.GetSettings)
	api.PUT("/settings", settings.UpdateSettings)
	handlers.RegisterDebugRoutes(api, audit, !cfg.Production())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.LogLevel)
	var logger zerolog.Logger
	if cfg.Production() {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.With().Timestamp().Str("service", serviceName).Logger()
}
