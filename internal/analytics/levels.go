package analytics

import (
	"fmt"
	"math"

	"github.com/enterprise/fraud-scorer/internal/models"
	"github.com/enterprise/fraud-scorer/internal/scoring"
)

var riskLevels = []string{
	models.RiskLevelLow,
	models.RiskLevelMedium,
	models.RiskLevelHigh,
	models.RiskLevelCritical,
}

func newRiskDistribution(days int) *RiskDistribution {
	d := &RiskDistribution{
		Period: fmt.Sprintf("%d days", days),
		Levels: make(map[string]int, len(riskLevels)),
	}
	for _, level := range riskLevels {
		d.Levels[level] = 0
	}
	return d
}

func (d *RiskDistribution) add(level string, count int) {
	d.Levels[level] += count
	d.Total += count
}

// levelForScore maps a stored score back to its band
func levelForScore(score float64) string {
	return scoring.DetermineRiskLevel(score)
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
