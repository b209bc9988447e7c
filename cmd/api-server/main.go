package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-scorer/configs"
	"github.com/enterprise/fraud-scorer/internal/analytics"
	"github.com/enterprise/fraud-scorer/internal/auth"
	"github.com/enterprise/fraud-scorer/internal/queue"
	"github.com/enterprise/fraud-scorer/internal/scoring"
	"github.com/enterprise/fraud-scorer/internal/services"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	if len(os.Args) > 2 && os.Args[1] == "hash-secret" {
		hash, err := services.HashClientSecret(os.Args[2])
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash client secret")
		}
		fmt.Println(hash)
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting Fraud Scorer API Server")

	ctx := context.Background()

	sinks, err := services.NewSinkService(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect result sinks")
	}
	defer sinks.Close()

	var cacheClient *queue.CacheClient
	if cfg.Redis.URL != "" {
		client := sinks.Redis
		if client == nil {
			client, err = queue.NewRedisClient(cfg.Redis)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to connect to Redis cache")
			}
			defer client.Close()
		}
		cacheClient = queue.NewCacheClient(client, cfg.Redis.CacheTTL)
	}

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	srvDeps := &server{
		scoring:     cfg.Scoring,
		policy:      outputPolicy(cfg.Output),
		rules:       scoring.NewRuleSet(scoring.ThresholdsFromConfig(cfg.Scoring)),
		jwtManager:  jwtManager,
		authService: services.NewAuthService(cfg.APIClient, jwtManager),
		sinks:       sinks.MultiSink,
	}
	if cacheClient != nil {
		srvDeps.cache = cacheClient
	}
	if sinks.Runs != nil {
		srvDeps.runs = sinks.Runs
	}
	if sinks.DB != nil {
		srvDeps.analytics = analytics.NewAnalyticsService(sinks.DB, cacheClient)
	}
	if sinks.Alerts != nil {
		srvDeps.alerts = sinks.Alerts
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	// 100 requests per minute per IP
	rateLimiter := NewRateLimiter(100, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	srvDeps.setupRoutes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
