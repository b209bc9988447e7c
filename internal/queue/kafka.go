package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-scorer/internal/metrics"
	"github.com/enterprise/fraud-scorer/internal/models"
)

// NewSaramaConfig returns the client configuration shared by the alert
// producer and the alert monitor consumer group.
func NewSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V3_0_0_0
	config.ClientID = "fraud-scorer"

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	return config
}

// KafkaAlertPublisher writes fraud alerts to a Kafka topic keyed by user id,
// so one user's alerts stay on one partition.
type KafkaAlertPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaAlertPublisher connects a synchronous producer to brokers
func NewKafkaAlertPublisher(brokers []string, topic string) (*KafkaAlertPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Kafka alert publisher initialized")
	return NewKafkaAlertPublisherWithProducer(producer, topic), nil
}

// NewKafkaAlertPublisherWithProducer wraps an existing producer
func NewKafkaAlertPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{producer: producer, topic: topic}
}

// PublishAlerts sends all alerts in one batch
func (p *KafkaAlertPublisher) PublishAlerts(ctx context.Context, alerts []models.FraudAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, len(alerts))
	for i, alert := range alerts {
		data, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("failed to marshal alert %d: %w", i, err)
		}
		msgs[i] = &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(alert.UserID),
			Value: sarama.ByteEncoder(data),
			Headers: []sarama.RecordHeader{
				{Key: []byte("run_id"), Value: []byte(alert.RunID)},
				{Key: []byte("risk_level"), Value: []byte(alert.RiskLevel)},
			},
		}
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			return fmt.Errorf("failed to publish %d of %d alerts: %w", len(perrs), len(msgs), err)
		}
		return fmt.Errorf("failed to publish alerts: %w", err)
	}

	log.Debug().Int("count", len(alerts)).Str("topic", p.topic).Msg("Alerts published to Kafka")
	return nil
}

// Close closes the producer
func (p *KafkaAlertPublisher) Close() error {
	return p.producer.Close()
}

// AlertMetrics tracks live alert counts for the alert monitor
type AlertMetrics struct {
	mu            sync.RWMutex
	alerts        int64
	malformed     int64
	byLevel       map[string]int64
	byRule        map[string]int64
	lastAlertTime time.Time
	windowStart   time.Time
	windowCount   int64
	perSecond     float64
}

// AlertSnapshot is a point-in-time copy of AlertMetrics
type AlertSnapshot struct {
	Alerts          int64            `json:"alerts"`
	Malformed       int64            `json:"malformed"`
	ByLevel         map[string]int64 `json:"by_level"`
	ByRule          map[string]int64 `json:"by_rule"`
	AlertsPerSecond float64          `json:"alerts_per_second"`
	LastAlertTime   time.Time        `json:"last_alert_time"`
}

// NewAlertMetrics creates empty metrics
func NewAlertMetrics() *AlertMetrics {
	return &AlertMetrics{
		byLevel:     make(map[string]int64),
		byRule:      make(map[string]int64),
		windowStart: time.Now(),
	}
}

// Record counts one alert
func (m *AlertMetrics) Record(alert *models.FraudAlert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alerts++
	m.lastAlertTime = time.Now()
	m.windowCount++

	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed > 0 {
		m.perSecond = float64(m.windowCount) / elapsed
	}
	// rate window resets every minute
	if elapsed > 60 {
		m.windowStart = time.Now()
		m.windowCount = 0
	}

	m.byLevel[alert.RiskLevel]++
	for _, rule := range alert.TriggeredRules {
		m.byRule[rule]++
	}
}

// RecordMalformed counts a message that could not be decoded
func (m *AlertMetrics) RecordMalformed() {
	m.mu.Lock()
	m.malformed++
	m.mu.Unlock()
}

// Snapshot returns a copy of the counters
func (m *AlertMetrics) Snapshot() AlertSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := AlertSnapshot{
		Alerts:          m.alerts,
		Malformed:       m.malformed,
		ByLevel:         make(map[string]int64, len(m.byLevel)),
		ByRule:          make(map[string]int64, len(m.byRule)),
		AlertsPerSecond: m.perSecond,
		LastAlertTime:   m.lastAlertTime,
	}
	for k, v := range m.byLevel {
		s.ByLevel[k] = v
	}
	for k, v := range m.byRule {
		s.ByRule[k] = v
	}
	return s
}

// AlertConsumerHandler is a sarama.ConsumerGroupHandler over the alert topic
type AlertConsumerHandler struct {
	metrics *AlertMetrics
	recent  *CacheClient
}

// NewAlertConsumerHandler creates a handler. recent may be nil.
func NewAlertConsumerHandler(m *AlertMetrics, recent *CacheClient) *AlertConsumerHandler {
	return &AlertConsumerHandler{metrics: m, recent: recent}
}

// Setup implements sarama.ConsumerGroupHandler
func (h *AlertConsumerHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Alert monitor session started")
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler
func (h *AlertConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Alert monitor session ended")
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler
func (h *AlertConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// LatestAlertKey is the cache key of the most recent alert consumed for userID
func LatestAlertKey(userID string) string {
	return "alerts:latest:" + userID
}

func (h *AlertConsumerHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var alert models.FraudAlert
	if err := json.Unmarshal(message.Value, &alert); err != nil {
		h.metrics.RecordMalformed()
		log.Error().Err(err).Int64("offset", message.Offset).Msg("Failed to parse alert message")
		return
	}

	h.metrics.Record(&alert)
	metrics.AlertsConsumedTotal.WithLabelValues(alert.RiskLevel).Inc()

	event := log.Info()
	if alert.RiskLevel == models.RiskLevelCritical {
		event = log.Warn()
	}
	event.
		Str("alert_id", alert.AlertID).
		Str("run_id", alert.RunID).
		Str("user_id", alert.UserID).
		Float64("risk_score", alert.RiskScore).
		Strs("rules", alert.TriggeredRules).
		Msg("Fraud alert received")

	if h.recent != nil {
		if err := h.recent.Set(ctx, LatestAlertKey(alert.UserID), alert); err != nil {
			log.Warn().Err(err).Str("user_id", alert.UserID).Msg("Failed to cache latest alert")
		}
	}
}

// StartReporter logs a metrics snapshot every interval until ctx is done
func (h *AlertConsumerHandler) StartReporter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s := h.metrics.Snapshot()
			log.Info().
				Int64("alerts", s.Alerts).
				Int64("malformed", s.Malformed).
				Int64("critical", s.ByLevel[models.RiskLevelCritical]).
				Int64("high", s.ByLevel[models.RiskLevelHigh]).
				Interface("by_rule", s.ByRule).
				Float64("alerts_per_sec", s.AlertsPerSecond).
				Msg("Alert monitor metrics")

		case <-ctx.Done():
			return
		}
	}
}
