// Package analytics reports on scoring runs persisted by the Postgres sink.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-scorer/internal/models"
	"github.com/enterprise/fraud-scorer/internal/queue"
	"github.com/enterprise/fraud-scorer/internal/repositories"
)

// ErrUserNotFound is returned when no stored row belongs to the user
var ErrUserNotFound = errors.New("user has no scored transactions")

const summaryCacheTTL = 5 * time.Minute

// AnalyticsService aggregates stored runs. cacheClient may be nil.
type AnalyticsService struct {
	db          *repositories.Database
	cacheClient *queue.CacheClient
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(db *repositories.Database, cacheClient *queue.CacheClient) *AnalyticsService {
	return &AnalyticsService{db: db, cacheClient: cacheClient}
}

// RiskDistribution is the number of stored rows per risk level
type RiskDistribution struct {
	Period string         `json:"period"`
	Levels map[string]int `json:"levels"`
	Total  int            `json:"total"`
}

// UserRiskProfile summarizes every stored row of one user across runs
type UserRiskProfile struct {
	UserID           string     `json:"user_id"`
	Transactions     int        `json:"transactions"`
	Flagged          int        `json:"flagged"`
	Runs             int        `json:"runs"`
	AvgRiskScore     float64    `json:"avg_risk_score"`
	MaxRiskScore     float64    `json:"max_risk_score"`
	LastFlaggedAt    *time.Time `json:"last_flagged_at,omitempty"`
	HighestRiskLevel string     `json:"highest_risk_level"`
}

// GetRiskDistribution counts rows of runs created in the last days days
func (s *AnalyticsService) GetRiskDistribution(ctx context.Context, days int) (*RiskDistribution, error) {
	cacheKey := fmt.Sprintf("analytics:distribution:%d", days)
	var cached RiskDistribution
	if s.cached(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	query := `
		SELECT st.risk_level, COUNT(*)
		FROM scored_transactions st
		JOIN scoring_runs r ON r.id = st.run_id
		WHERE r.created_at >= NOW() - make_interval(days => $1)
		GROUP BY st.risk_level
	`

	rows, err := s.db.Pool.Query(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk distribution: %w", err)
	}
	defer rows.Close()

	distribution := newRiskDistribution(days)
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		distribution.add(level, count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.store(ctx, cacheKey, distribution)
	return distribution, nil
}

// GetTopTriggeredRules returns rules by the number of stored rows they fired
// on, most frequent first.
func (s *AnalyticsService) GetTopTriggeredRules(ctx context.Context, days, limit int) ([]models.RuleCount, error) {
	query := `
		SELECT rule_id, COUNT(*) AS count
		FROM (
			SELECT unnest(st.triggered_rules) AS rule_id
			FROM scored_transactions st
			JOIN scoring_runs r ON r.id = st.run_id
			WHERE r.created_at >= NOW() - make_interval(days => $1)
		) t
		GROUP BY rule_id
		ORDER BY count DESC, rule_id
		LIMIT $2
	`

	rows, err := s.db.Pool.Query(ctx, query, days, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top rules: %w", err)
	}
	defer rows.Close()

	rules := []models.RuleCount{}
	for rows.Next() {
		var rc models.RuleCount
		if err := rows.Scan(&rc.RuleID, &rc.Count); err != nil {
			return nil, err
		}
		rules = append(rules, rc)
	}
	return rules, rows.Err()
}

// GetUserRiskProfile aggregates all stored rows of userID
func (s *AnalyticsService) GetUserRiskProfile(ctx context.Context, userID string) (*UserRiskProfile, error) {
	query := `
		SELECT COUNT(*),
			   COUNT(*) FILTER (WHERE risk_score > 0),
			   COUNT(DISTINCT run_id),
			   COALESCE(AVG(risk_score), 0)::float8,
			   COALESCE(MAX(risk_score), 0)::float8,
			   MAX(occurred_at) FILTER (WHERE risk_score > 0)
		FROM scored_transactions
		WHERE user_id = $1
	`

	profile := &UserRiskProfile{UserID: userID}
	err := s.db.Pool.QueryRow(ctx, query, userID).Scan(
		&profile.Transactions,
		&profile.Flagged,
		&profile.Runs,
		&profile.AvgRiskScore,
		&profile.MaxRiskScore,
		&profile.LastFlaggedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && profile.Transactions == 0) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user profile: %w", err)
	}

	profile.AvgRiskScore = roundTo2(profile.AvgRiskScore)
	profile.HighestRiskLevel = levelForScore(profile.MaxRiskScore)
	return profile, nil
}

func (s *AnalyticsService) cached(ctx context.Context, key string, dest interface{}) bool {
	if s.cacheClient == nil {
		return false
	}
	return s.cacheClient.Get(ctx, key, dest) == nil
}

func (s *AnalyticsService) store(ctx context.Context, key string, value interface{}) {
	if s.cacheClient == nil {
		return
	}
	if err := s.cacheClient.SetWithTTL(ctx, key, value, summaryCacheTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache analytics result")
	}
}
