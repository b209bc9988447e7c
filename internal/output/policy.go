// Package output renders scored transactions and fans finished runs out to
// the configured sinks.
package output

import (
	"sort"

	"github.com/enterprise/fraud-scorer/internal/models"
)

// Policy selects and orders the rows that are written
type Policy struct {
	FlaggedOnly bool
	SortByRisk  bool
}

// Apply returns the rows to emit. The input slice is left untouched; without
// sorting the input order is kept.
func (p Policy) Apply(txs []models.ScoredTransaction) []models.ScoredTransaction {
	out := make([]models.ScoredTransaction, 0, len(txs))
	for _, tx := range txs {
		if p.FlaggedOnly && !tx.Flagged() {
			continue
		}
		out = append(out, tx)
	}

	if p.SortByRisk {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].RiskScore > out[j].RiskScore
		})
	}
	return out
}
