package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/enterprise/fraud-scorer/internal/models"
)

var (
	ErrRunNotFound = errors.New("scoring run not found")
)

// ScoringRunRepository stores finished scoring runs and their scored rows
type ScoringRunRepository struct {
	db *Database
}

// NewScoringRunRepository creates a new scoring run repository
func NewScoringRunRepository(db *Database) *ScoringRunRepository {
	return &ScoringRunRepository{db: db}
}

const insertRunQuery = `
	INSERT INTO scoring_runs (
		id, total_transactions, total_users, flagged_transactions, flagged_percentage,
		avg_flagged_risk_score, max_risk_score, rule_triggers, risk_distribution,
		processing_time_ms, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const insertScoredQuery = `
	INSERT INTO scored_transactions (
		run_id, row_index, user_id, occurred_at, raw_timestamp, merchant_name,
		amount, risk_score, risk_level, triggered_rules, explanation, raw_amount
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// SaveRun writes the run summary and every scored row in one transaction
func (r *ScoringRunRepository) SaveRun(ctx context.Context, summary models.DetectionSummary, txs []models.ScoredTransaction) error {
	runID, err := uuid.Parse(summary.RunID)
	if err != nil {
		return fmt.Errorf("invalid run_id: %w", err)
	}

	ruleTriggers, err := json.Marshal(summary.RuleTriggers)
	if err != nil {
		return fmt.Errorf("failed to marshal rule triggers: %w", err)
	}
	distribution, err := json.Marshal(summary.RiskDistribution)
	if err != nil {
		return fmt.Errorf("failed to marshal risk distribution: %w", err)
	}

	err = r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertRunQuery,
			runID,
			summary.TotalTransactions,
			summary.TotalUsers,
			summary.FlaggedTransactions,
			summary.FlaggedPercentage,
			summary.AvgFlaggedRiskScore,
			summary.MaxRiskScore,
			ruleTriggers,
			distribution,
			summary.ProcessingTimeMs,
			time.Now(),
		); err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		batch := &pgx.Batch{}
		for _, s := range txs {
			batch.Queue(insertScoredQuery,
				runID,
				s.RowIndex,
				s.UserID,
				s.Timestamp,
				s.RawTimestamp,
				s.MerchantName,
				s.Amount.String(),
				s.RiskScore,
				s.RiskLevel,
				pq.Array(s.TriggeredRules),
				s.Explanation,
				s.AmountText(),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert scored transactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("run_id", summary.RunID).
		Int("rows", len(txs)).
		Msg("Scoring run persisted")
	return nil
}

// GetRun retrieves a run summary by id
func (r *ScoringRunRepository) GetRun(ctx context.Context, runID uuid.UUID) (*models.DetectionSummary, error) {
	query := `
		SELECT id, total_transactions, total_users, flagged_transactions,
			   flagged_percentage::float8, avg_flagged_risk_score::float8, max_risk_score::float8,
			   rule_triggers, risk_distribution, processing_time_ms
		FROM scoring_runs
		WHERE id = $1
	`

	var (
		id           uuid.UUID
		ruleTriggers []byte
		distribution []byte
		summary      models.DetectionSummary
	)
	err := r.db.Pool.QueryRow(ctx, query, runID).Scan(
		&id,
		&summary.TotalTransactions,
		&summary.TotalUsers,
		&summary.FlaggedTransactions,
		&summary.FlaggedPercentage,
		&summary.AvgFlaggedRiskScore,
		&summary.MaxRiskScore,
		&ruleTriggers,
		&distribution,
		&summary.ProcessingTimeMs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	summary.RunID = id.String()
	if err := json.Unmarshal(ruleTriggers, &summary.RuleTriggers); err != nil {
		return nil, fmt.Errorf("failed to decode rule triggers: %w", err)
	}
	if err := json.Unmarshal(distribution, &summary.RiskDistribution); err != nil {
		return nil, fmt.Errorf("failed to decode risk distribution: %w", err)
	}
	return &summary, nil
}

// ListFlagged returns the run's rows with a positive score, highest first,
// ties in input order.
func (r *ScoringRunRepository) ListFlagged(ctx context.Context, runID uuid.UUID, limit int) ([]models.ScoredTransaction, error) {
	query := `
		SELECT row_index, user_id, occurred_at, raw_timestamp, merchant_name,
			   amount::text, risk_score::float8, risk_level, triggered_rules, explanation, raw_amount
		FROM scored_transactions
		WHERE run_id = $1 AND risk_score > 0
		ORDER BY risk_score DESC, row_index
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredTransaction
	for rows.Next() {
		var (
			s      models.ScoredTransaction
			amount string
		)
		if err := rows.Scan(
			&s.RowIndex,
			&s.UserID,
			&s.Timestamp,
			&s.RawTimestamp,
			&s.MerchantName,
			&amount,
			&s.RiskScore,
			&s.RiskLevel,
			&s.TriggeredRules, // pgx scans text[] into []string
			&s.Explanation,
			&s.RawAmount,
		); err != nil {
			return nil, err
		}
		if s.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
