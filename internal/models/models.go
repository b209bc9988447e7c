package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is one parsed input row. It is never mutated after
// ingestion.
type TransactionRecord struct {
	RowIndex     int             `json:"-"`
	UserID       string          `json:"user_id"`
	Timestamp    time.Time       `json:"-"`
	RawTimestamp string          `json:"timestamp"`
	MerchantName string          `json:"merchant_name"`
	Amount       decimal.Decimal `json:"-"`
	RawAmount    string          `json:"amount"`
}

// AmountValue returns the amount as a float for statistics.
func (t TransactionRecord) AmountValue() float64 {
	return t.Amount.InexactFloat64()
}

// AmountText is the amount as it appeared in the input, falling back to the
// canonical decimal form for records built without one.
func (t TransactionRecord) AmountText() string {
	if t.RawAmount != "" {
		return t.RawAmount
	}
	return t.Amount.String()
}

// RuleOutcome is the result of one rule for one transaction
type RuleOutcome struct {
	RuleID      string  `json:"rule_id"`
	Triggered   bool    `json:"triggered"`
	Weight      float64 `json:"weight"`
	Explanation string  `json:"explanation"`
}

// StatSnapshot holds the per-user statistics derived from history-so-far.
// It is recomputed for every evaluated transaction and never stored.
type StatSnapshot struct {
	HistoryCount  int     `json:"history_count"`
	Mean          float64 `json:"mean"`
	StdDev        float64 `json:"std_dev"`
	DailySum      float64 `json:"sum_last_24h"`
	DailyCount    int     `json:"count_last_24h"`
	DailyAverage  float64 `json:"daily_average"`
	Percentile    float64 `json:"percentile"`
	HasPercentile bool    `json:"has_percentile"`
	IsNewMerchant bool    `json:"is_new_merchant"`
	CountInWindow int     `json:"count_last_10min"`
	LocalHour     int     `json:"local_hour"`
}

// ScoredTransaction is the annotated output record, one per input row
type ScoredTransaction struct {
	TransactionRecord
	RiskScore      float64  `json:"risk_score"`
	RiskLevel      string   `json:"risk_level"`
	TriggeredRules []string `json:"triggered_rules"`
	Explanation    string   `json:"explanation"`
}

// Flagged reports whether at least one rule fired.
func (s ScoredTransaction) Flagged() bool {
	return len(s.TriggeredRules) > 0
}

// RiskLevel enum values
const (
	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// FraudAlert is published to the alert stream/topic for flagged rows
type FraudAlert struct {
	AlertID        string    `json:"alert_id"`
	RunID          string    `json:"run_id"`
	RowIndex       int       `json:"row_index"`
	UserID         string    `json:"user_id"`
	Timestamp      time.Time `json:"timestamp"`
	MerchantName   string    `json:"merchant_name"`
	Amount         string    `json:"amount"`
	RiskScore      float64   `json:"risk_score"`
	RiskLevel      string    `json:"risk_level"`
	TriggeredRules []string  `json:"triggered_rules"`
	Explanation    string    `json:"explanation"`
	CreatedAt      time.Time `json:"created_at"`
}

// RuleCount represents a rule and its trigger count
type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}

// DetectionSummary aggregates a scoring run
type DetectionSummary struct {
	RunID               string         `json:"run_id"`
	TotalTransactions   int            `json:"total_transactions"`
	TotalUsers          int            `json:"total_users"`
	FlaggedTransactions int            `json:"flagged_transactions"`
	FlaggedPercentage   float64        `json:"flagged_percentage"`
	AvgFlaggedRiskScore float64        `json:"avg_flagged_risk_score"`
	MaxRiskScore        float64        `json:"max_risk_score"`
	RuleTriggers        []RuleCount    `json:"rule_triggers"`
	TopTriggeredRules   []RuleCount    `json:"top_triggered_rules"`
	RiskDistribution    map[string]int `json:"risk_distribution"`
	ProcessingTimeMs    int64          `json:"processing_time_ms"`
}
