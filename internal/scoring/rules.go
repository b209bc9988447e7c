package scoring

import (
	"time"

	"github.com/enterprise/fraud-scorer/configs"
	"github.com/enterprise/fraud-scorer/internal/models"
)

// Rule identifiers, in evaluation order
const (
	RuleVelocity      = "Rule1:Velocity"
	RuleAmountAnomaly = "Rule2:AmountAnomaly"
	RuleSpendingSpike = "Rule3:SpendingSpike"
	RuleNewMerchant   = "Rule4:NewMerchant"
	RuleNocturnal     = "Rule5:Nocturnal"
)

// Rule represents a scoring rule
type Rule struct {
	ID          string
	Name        string
	Explanation string
	Weight      float64
	Evaluate    func(ev *Evaluation) bool
}

// Evaluation is the input every rule sees: the transaction and the
// statistics of its history-so-far.
type Evaluation struct {
	Tx     models.TransactionRecord
	Amount float64
	Stats  models.StatSnapshot
}

// Thresholds are the rule constants. Zero values are not meaningful; build
// them with DefaultThresholds or ThresholdsFromConfig.
type Thresholds struct {
	VelocityWindow     time.Duration
	VelocityCount      int
	AnomalySigma       float64
	AnomalyMinAmount   float64
	AnomalyMinHistory  int
	SpikeWindow        time.Duration
	SpikeAbsolute      float64
	SpikeMultiplier    float64
	MerchantMinAmount  float64
	MerchantMultiplier float64
	NightStartHour     int
	NightEndHour       int
	NightPercentile    float64
	Weights            [5]float64
}

// DefaultThresholds returns the production constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VelocityWindow:     10 * time.Minute,
		VelocityCount:      5,
		AnomalySigma:       3,
		AnomalyMinAmount:   500,
		AnomalyMinHistory:  2,
		SpikeWindow:        24 * time.Hour,
		SpikeAbsolute:      5000,
		SpikeMultiplier:    10,
		MerchantMinAmount:  300,
		MerchantMultiplier: 2,
		NightStartHour:     2,
		NightEndHour:       6,
		NightPercentile:    75,
		Weights:            [5]float64{80, 70, 75, 60, 55},
	}
}

// ThresholdsFromConfig maps validated configuration onto rule thresholds.
func ThresholdsFromConfig(cfg configs.ScoringConfig) Thresholds {
	return Thresholds{
		VelocityWindow:     cfg.VelocityWindow,
		VelocityCount:      cfg.VelocityCount,
		AnomalySigma:       cfg.AnomalySigma,
		AnomalyMinAmount:   cfg.AnomalyMinAmount,
		AnomalyMinHistory:  cfg.AnomalyMinHistory,
		SpikeWindow:        cfg.SpikeWindow,
		SpikeAbsolute:      cfg.SpikeAbsolute,
		SpikeMultiplier:    cfg.SpikeMultiplier,
		MerchantMinAmount:  cfg.MerchantMinAmount,
		MerchantMultiplier: cfg.MerchantMultiplier,
		NightStartHour:     cfg.NightStartHour,
		NightEndHour:       cfg.NightEndHour,
		NightPercentile:    cfg.NightPercentile,
		Weights:            cfg.Weights,
	}
}

// RuleSet is the fixed, ordered list of the five detection rules.
type RuleSet struct {
	rules       []Rule
	thresholds  Thresholds
	totalWeight float64
}

// NewRuleSet builds the five rules over th.
func NewRuleSet(th Thresholds) *RuleSet {
	rs := &RuleSet{thresholds: th}
	rs.rules = []Rule{
		{
			ID:          RuleVelocity,
			Name:        "Velocity Burst",
			Explanation: "Multiple transactions in 10 minutes",
			Weight:      th.Weights[0],
			Evaluate: func(ev *Evaluation) bool {
				// the current transaction is the n-th inside the window
				return ev.Stats.CountInWindow+1 >= th.VelocityCount
			},
		},
		{
			ID:          RuleAmountAnomaly,
			Name:        "Amount Anomaly",
			Explanation: "Amount exceeds user pattern (>3 std dev)",
			Weight:      th.Weights[1],
			Evaluate: func(ev *Evaluation) bool {
				s := ev.Stats
				return s.HistoryCount >= th.AnomalyMinHistory &&
					s.Mean > 0 &&
					ev.Amount > s.Mean+th.AnomalySigma*s.StdDev &&
					ev.Amount > th.AnomalyMinAmount
			},
		},
		{
			ID:          RuleSpendingSpike,
			Name:        "Spending Spike",
			Explanation: "Cumulative 24h spend exceeds threshold",
			Weight:      th.Weights[2],
			Evaluate: func(ev *Evaluation) bool {
				// history-so-far only; the current amount is not part of the sum
				s := ev.Stats
				if s.DailySum > th.SpikeAbsolute {
					return true
				}
				return s.DailyAverage > 0 && s.DailySum > th.SpikeMultiplier*s.DailyAverage
			},
		},
		{
			ID:          RuleNewMerchant,
			Name:        "New Merchant High Amount",
			Explanation: "First-time merchant with high amount",
			Weight:      th.Weights[3],
			Evaluate: func(ev *Evaluation) bool {
				s := ev.Stats
				return s.IsNewMerchant &&
					ev.Amount > th.MerchantMinAmount &&
					s.Mean > 0 &&
					ev.Amount > th.MerchantMultiplier*s.Mean
			},
		},
		{
			ID:          RuleNocturnal,
			Name:        "Nocturnal High Value",
			Explanation: "High-value transaction during 2am-6am",
			Weight:      th.Weights[4],
			Evaluate: func(ev *Evaluation) bool {
				s := ev.Stats
				return s.LocalHour >= th.NightStartHour &&
					s.LocalHour < th.NightEndHour &&
					s.HasPercentile &&
					ev.Amount > s.Percentile
			},
		},
	}

	for _, r := range rs.rules {
		rs.totalWeight += r.Weight
	}
	return rs
}

// DefaultRuleSet builds the rules over DefaultThresholds.
func DefaultRuleSet() *RuleSet {
	return NewRuleSet(DefaultThresholds())
}

// Rules returns a copy of the rules in evaluation order
func (rs *RuleSet) Rules() []Rule {
	rules := make([]Rule, len(rs.rules))
	copy(rules, rs.rules)
	return rules
}

// Thresholds returns the constants the rules were built with
func (rs *RuleSet) Thresholds() Thresholds {
	return rs.thresholds
}

// TotalWeight is the sum of all rule weights, the aggregation denominator.
func (rs *RuleSet) TotalWeight() float64 {
	return rs.totalWeight
}

// Evaluate runs every rule against ev. There is no short-circuiting; the
// outcomes are returned in rule order.
func (rs *RuleSet) Evaluate(ev *Evaluation) []models.RuleOutcome {
	outcomes := make([]models.RuleOutcome, len(rs.rules))
	for i, rule := range rs.rules {
		outcomes[i] = models.RuleOutcome{
			RuleID:      rule.ID,
			Triggered:   rule.Evaluate(ev),
			Weight:      rule.Weight,
			Explanation: rule.Explanation,
		}
	}
	return outcomes
}
