package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-scorer/configs"
	"github.com/enterprise/fraud-scorer/internal/queue"
)

const (
	connectAttempts = 30
	reportInterval  = 30 * time.Second
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.AlertTopic).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("Starting fraud alert monitor")

	// latest alert per user is cached when Redis is configured
	var recent *queue.CacheClient
	if cfg.Redis.URL != "" {
		client, err := queue.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer client.Close()
		recent = queue.NewCacheClient(client, cfg.Redis.CacheTTL)
	}

	var (
		consumerGroup sarama.ConsumerGroup
		err           error
	)
	for i := 0; i < connectAttempts; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, queue.NewSaramaConfig())
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := queue.NewAlertConsumerHandler(queue.NewAlertMetrics(), recent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping alert monitor...")
		cancel()
	}()

	go func() {
		for err := range consumerGroup.Errors() {
			log.Error().Err(err).Msg("Consumer group error")
		}
	}()

	go handler.StartReporter(ctx, reportInterval)

	topics := []string{cfg.Kafka.AlertTopic}
	for {
		if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}
		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, alert monitor stopped")
			return
		}
	}
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
