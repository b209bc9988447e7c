package scoring

import (
	"math"
	"strings"

	"github.com/enterprise/fraud-scorer/internal/models"
)

const explanationSeparator = "; "

// Aggregate reduces rule outcomes to a bounded score: the triggered share of
// the total rule weight, scaled to 100 and rounded to two decimals. With
// positive weights the score is 0 iff nothing fired and strictly grows with
// the triggered set.
func Aggregate(outcomes []models.RuleOutcome) (score float64, triggered []string, explanation string) {
	triggered = make([]string, 0, len(outcomes))
	var parts []string
	var sum, total float64

	for _, o := range outcomes {
		total += o.Weight
		if !o.Triggered {
			continue
		}
		sum += o.Weight
		triggered = append(triggered, o.RuleID)
		parts = append(parts, o.Explanation)
	}

	if total > 0 && sum > 0 {
		score = math.Min(100, roundScore(sum/total*100))
	}
	return score, triggered, strings.Join(parts, explanationSeparator)
}

// DetermineRiskLevel maps a score onto a risk band
func DetermineRiskLevel(score float64) string {
	switch {
	case score >= 70:
		return models.RiskLevelCritical
	case score >= 50:
		return models.RiskLevelHigh
	case score >= 25:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}
