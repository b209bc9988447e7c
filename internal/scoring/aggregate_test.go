package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/enterprise/fraud-scorer/internal/models"
)

func outcomes(fired ...int) []models.RuleOutcome {
	out := DefaultRuleSet().Evaluate(&Evaluation{})
	for i := range out {
		out[i].Triggered = false
	}
	for _, n := range fired {
		out[n-1].Triggered = true
	}
	return out
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name        string
		fired       []int
		score       float64
		rules       []string
		explanation string
	}{
		{"none", nil, 0, []string{}, ""},
		{"rule 4 only", []int{4}, 17.65, []string{RuleNewMerchant}, "First-time merchant with high amount"},
		{"rules 2 4 5", []int{2, 4, 5}, 54.41, []string{RuleAmountAnomaly, RuleNewMerchant, RuleNocturnal},
			"Amount exceeds user pattern (>3 std dev); First-time merchant with high amount; High-value transaction during 2am-6am"},
		{"velocity", []int{1}, 23.53, []string{RuleVelocity}, "Multiple transactions in 10 minutes"},
		{"all", []int{1, 2, 3, 4, 5}, 100, []string{RuleVelocity, RuleAmountAnomaly, RuleSpendingSpike, RuleNewMerchant, RuleNocturnal}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, rules, explanation := Aggregate(outcomes(tt.fired...))
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.rules, rules)
			if tt.explanation != "" || len(tt.fired) == 0 {
				assert.Equal(t, tt.explanation, explanation)
			}
		})
	}
}

func TestAggregateIsMonotonic(t *testing.T) {
	prev := -1.0
	var fired []int
	for n := 1; n <= 5; n++ {
		fired = append(fired, n)
		score, _, _ := Aggregate(outcomes(fired...))
		assert.Greater(t, score, prev)
		prev = score
	}
}

func TestDetermineRiskLevel(t *testing.T) {
	assert.Equal(t, models.RiskLevelLow, DetermineRiskLevel(0))
	assert.Equal(t, models.RiskLevelLow, DetermineRiskLevel(24.99))
	assert.Equal(t, models.RiskLevelMedium, DetermineRiskLevel(25))
	assert.Equal(t, models.RiskLevelHigh, DetermineRiskLevel(54.41))
	assert.Equal(t, models.RiskLevelCritical, DetermineRiskLevel(70))
	assert.Equal(t, models.RiskLevelCritical, DetermineRiskLevel(100))
}
