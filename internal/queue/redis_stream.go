package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-scorer/configs"
	"github.com/enterprise/fraud-scorer/internal/models"
)

// ErrCacheMiss is returned by CacheClient.Get when the key does not exist
var ErrCacheMiss = errors.New("cache miss")

// NewRedisClient parses the URL and pings the server
func NewRedisClient(cfg configs.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// AlertStream appends fraud alerts to a capped Redis stream
type AlertStream struct {
	client     *redis.Client
	streamName string
	maxLen     int64
}

// NewAlertStream creates an alert stream over an existing client
func NewAlertStream(client *redis.Client, cfg configs.RedisConfig) *AlertStream {
	log.Info().Str("stream", cfg.AlertStream).Int64("max_len", cfg.MaxStreamLen).Msg("Redis alert stream initialized")
	return &AlertStream{
		client:     client,
		streamName: cfg.AlertStream,
		maxLen:     cfg.MaxStreamLen,
	}
}

// Publish appends one alert and returns its stream id
func (s *AlertStream) Publish(ctx context.Context, alert models.FraudAlert) (string, error) {
	args, err := s.addArgs(alert)
	if err != nil {
		return "", err
	}

	msgID, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish alert: %w", err)
	}

	log.Debug().
		Str("message_id", msgID).
		Str("alert_id", alert.AlertID).
		Msg("Alert published to stream")

	return msgID, nil
}

// PublishAlerts appends alerts in one pipeline round trip
func (s *AlertStream) PublishAlerts(ctx context.Context, alerts []models.FraudAlert) error {
	if len(alerts) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for i, alert := range alerts {
		args, err := s.addArgs(alert)
		if err != nil {
			return fmt.Errorf("failed to encode alert %d: %w", i, err)
		}
		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute pipeline: %w", err)
	}

	log.Debug().
		Int("count", len(alerts)).
		Str("stream", s.streamName).
		Msg("Alerts published to stream")

	return nil
}

// Recent returns up to count alerts, newest first
func (s *AlertStream) Recent(ctx context.Context, count int64) ([]models.FraudAlert, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.streamName, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alert stream: %w", err)
	}

	alerts := make([]models.FraudAlert, 0, len(msgs))
	for _, msg := range msgs {
		alert, err := decodeAlertMessage(msg)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to parse alert message")
			continue
		}
		alerts = append(alerts, *alert)
	}
	return alerts, nil
}

// Length returns the number of alerts in the stream
func (s *AlertStream) Length(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.streamName).Result()
}

func (s *AlertStream) addArgs(alert models.FraudAlert) (*redis.XAddArgs, error) {
	values, err := encodeAlertValues(alert)
	if err != nil {
		return nil, err
	}
	args := &redis.XAddArgs{
		Stream: s.streamName,
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return args, nil
}

func encodeAlertValues(alert models.FraudAlert) (map[string]interface{}, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}
	return map[string]interface{}{
		"data":       string(data),
		"run_id":     alert.RunID,
		"risk_level": alert.RiskLevel,
	}, nil
}

func decodeAlertMessage(msg redis.XMessage) (*models.FraudAlert, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid message format")
	}

	var alert models.FraudAlert
	if err := json.Unmarshal([]byte(data), &alert); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert: %w", err)
	}
	return &alert, nil
}

// CacheClient provides JSON caching operations
type CacheClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheClient creates a cache client sharing an existing connection
func NewCacheClient(client *redis.Client, ttl time.Duration) *CacheClient {
	return &CacheClient{client: client, ttl: ttl}
}

// Set stores value under key with the default TTL
func (c *CacheClient) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL
func (c *CacheClient) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get loads key into dest. A missing key yields ErrCacheMiss.
func (c *CacheClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete removes keys from the cache
func (c *CacheClient) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}
