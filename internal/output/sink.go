package output

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-scorer/internal/metrics"
	"github.com/enterprise/fraud-scorer/internal/models"
)

// Batch is a finished scoring run handed to sinks
type Batch struct {
	RunID        string
	Transactions []models.ScoredTransaction
	Summary      models.DetectionSummary
}

// Sink receives finished runs
type Sink interface {
	Name() string
	Publish(ctx context.Context, batch Batch) error
}

// AlertPublisher delivers fraud alerts to a stream or topic
type AlertPublisher interface {
	PublishAlerts(ctx context.Context, alerts []models.FraudAlert) error
}

// RunStore persists a run and its scored rows
type RunStore interface {
	SaveRun(ctx context.Context, summary models.DetectionSummary, txs []models.ScoredTransaction) error
}

// MultiSink publishes to every sink. A failing sink does not stop the others;
// all failures are returned joined.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out over sinks
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Len returns the number of sinks
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Publish sends batch to all sinks
func (m *MultiSink) Publish(ctx context.Context, batch Batch) error {
	var errs []error
	for _, s := range m.sinks {
		start := time.Now()
		if err := s.Publish(ctx, batch); err != nil {
			log.Error().Err(err).Str("sink", s.Name()).Str("run_id", batch.RunID).Msg("Failed to publish run")
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
			continue
		}
		log.Info().
			Str("sink", s.Name()).
			Str("run_id", batch.RunID).
			Dur("duration", time.Since(start)).
			Msg("Run published")
	}
	return errors.Join(errs...)
}

// AlertSink turns flagged rows into alerts for an AlertPublisher
type AlertSink struct {
	name      string
	publisher AlertPublisher
	minScore  float64
	now       func() time.Time
}

// NewAlertSink creates an alert sink. Rows scoring below minScore are skipped.
func NewAlertSink(name string, publisher AlertPublisher, minScore float64) *AlertSink {
	return &AlertSink{
		name:      name,
		publisher: publisher,
		minScore:  minScore,
		now:       time.Now,
	}
}

// Name implements Sink
func (s *AlertSink) Name() string {
	return s.name
}

// Publish implements Sink
func (s *AlertSink) Publish(ctx context.Context, batch Batch) error {
	alerts := BuildAlerts(batch, s.minScore, s.now().UTC())
	if len(alerts) == 0 {
		return nil
	}
	if err := s.publisher.PublishAlerts(ctx, alerts); err != nil {
		metrics.AlertsPublishedTotal.WithLabelValues(s.name, "error").Add(float64(len(alerts)))
		return err
	}
	metrics.AlertsPublishedTotal.WithLabelValues(s.name, "ok").Add(float64(len(alerts)))
	return nil
}

// BuildAlerts creates one alert per flagged row with score >= minScore, in
// input order.
func BuildAlerts(batch Batch, minScore float64, createdAt time.Time) []models.FraudAlert {
	var alerts []models.FraudAlert
	for _, tx := range batch.Transactions {
		if !tx.Flagged() || tx.RiskScore < minScore {
			continue
		}
		alerts = append(alerts, models.FraudAlert{
			AlertID:        uuid.New().String(),
			RunID:          batch.RunID,
			RowIndex:       tx.RowIndex,
			UserID:         tx.UserID,
			Timestamp:      tx.Timestamp,
			MerchantName:   tx.MerchantName,
			Amount:         tx.AmountText(),
			RiskScore:      tx.RiskScore,
			RiskLevel:      tx.RiskLevel,
			TriggeredRules: tx.TriggeredRules,
			Explanation:    tx.Explanation,
			CreatedAt:      createdAt,
		})
	}
	return alerts
}

// StoreSink persists runs through a RunStore
type StoreSink struct {
	store RunStore
}

// NewStoreSink creates a sink over store
func NewStoreSink(store RunStore) *StoreSink {
	return &StoreSink{store: store}
}

// Name implements Sink
func (s *StoreSink) Name() string {
	return "postgres"
}

// Publish implements Sink
func (s *StoreSink) Publish(ctx context.Context, batch Batch) error {
	return s.store.SaveRun(ctx, batch.Summary, batch.Transactions)
}
