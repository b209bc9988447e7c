package scoring

import (
	"sort"
	"time"

	"github.com/enterprise/fraud-scorer/internal/models"
)

// Summarize builds the detection summary of a run. RuleTriggers lists every
// rule in evaluation order; TopTriggeredRules keeps only rules that fired,
// most frequent first.
func Summarize(runID string, scored []models.ScoredTransaction, users int, rules []Rule, elapsed time.Duration) models.DetectionSummary {
	summary := models.DetectionSummary{
		RunID:             runID,
		TotalTransactions: len(scored),
		TotalUsers:        users,
		RuleTriggers:      make([]models.RuleCount, 0, len(rules)),
		TopTriggeredRules: make([]models.RuleCount, 0, len(rules)),
		RiskDistribution: map[string]int{
			models.RiskLevelLow:      0,
			models.RiskLevelMedium:   0,
			models.RiskLevelHigh:     0,
			models.RiskLevelCritical: 0,
		},
		ProcessingTimeMs: elapsed.Milliseconds(),
	}

	ruleTriggers := make(map[string]int, len(rules))
	var flaggedScore float64

	for _, tx := range scored {
		summary.RiskDistribution[tx.RiskLevel]++
		if tx.RiskScore > summary.MaxRiskScore {
			summary.MaxRiskScore = tx.RiskScore
		}
		if !tx.Flagged() {
			continue
		}
		summary.FlaggedTransactions++
		flaggedScore += tx.RiskScore
		for _, ruleID := range tx.TriggeredRules {
			ruleTriggers[ruleID]++
		}
	}

	if summary.TotalTransactions > 0 {
		summary.FlaggedPercentage = roundScore(float64(summary.FlaggedTransactions) / float64(summary.TotalTransactions) * 100)
	}
	if summary.FlaggedTransactions > 0 {
		summary.AvgFlaggedRiskScore = roundScore(flaggedScore / float64(summary.FlaggedTransactions))
	}

	for _, rule := range rules {
		rc := models.RuleCount{RuleID: rule.ID, Count: ruleTriggers[rule.ID]}
		summary.RuleTriggers = append(summary.RuleTriggers, rc)
		if rc.Count > 0 {
			summary.TopTriggeredRules = append(summary.TopTriggeredRules, rc)
		}
	}
	sortRuleCounts(summary.TopTriggeredRules)

	return summary
}

// sortRuleCounts orders by count descending; ties keep evaluation order.
func sortRuleCounts(rules []models.RuleCount) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Count > rules[j].Count
	})
}
