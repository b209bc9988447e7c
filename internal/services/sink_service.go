package services

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-scorer/configs"
	"github.com/enterprise/fraud-scorer/internal/output"
	"github.com/enterprise/fraud-scorer/internal/queue"
	"github.com/enterprise/fraud-scorer/internal/repositories"
)

// SinkService owns the sinks enabled in configuration and the connections
// behind them.
type SinkService struct {
	*output.MultiSink

	// DB and Runs are set when the Postgres sink is enabled
	DB   *repositories.Database
	Runs *repositories.ScoringRunRepository
	// Alerts is set when the Redis sink is enabled
	Alerts *queue.AlertStream
	// Redis is the connection behind Alerts
	Redis *redis.Client

	closers []func()
}

// NewSinkService connects every enabled sink. On error the connections opened
// so far are closed.
func NewSinkService(ctx context.Context, cfg *configs.Config) (*SinkService, error) {
	s := &SinkService{}
	var sinks []output.Sink

	if cfg.Sinks.Postgres {
		db, err := repositories.NewDatabase(ctx, cfg.Database)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		s.DB = db
		s.Runs = repositories.NewScoringRunRepository(db)
		sinks = append(sinks, output.NewStoreSink(s.Runs))
	}

	if cfg.Sinks.Redis {
		client, err := queue.NewRedisClient(cfg.Redis)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { client.Close() })
		s.Redis = client
		s.Alerts = queue.NewAlertStream(client, cfg.Redis)
		sinks = append(sinks, output.NewAlertSink("redis", s.Alerts, cfg.Output.AlertMinScore))
	}

	if cfg.Sinks.Kafka {
		publisher, err := queue.NewKafkaAlertPublisher(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { publisher.Close() })
		sinks = append(sinks, output.NewAlertSink("kafka", publisher, cfg.Output.AlertMinScore))
	}

	s.MultiSink = output.NewMultiSink(sinks...)
	log.Info().
		Bool("postgres", cfg.Sinks.Postgres).
		Bool("redis", cfg.Sinks.Redis).
		Bool("kafka", cfg.Sinks.Kafka).
		Msg("Result sinks configured")
	return s, nil
}

// Close releases the sink connections in reverse order
func (s *SinkService) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
