// Package history groups transactions per user and hands out each user's
// chronologically ordered history one step at a time.
package history

import (
	"sort"
	"strings"

	"github.com/enterprise/fraud-scorer/internal/models"
)

// Index is an arena of records plus, per user, the arena positions sorted by
// (timestamp, input row). The order is total, so no stable sort is needed.
type Index struct {
	records []models.TransactionRecord
	users   []string
	byUser  map[string][]int
	// position of each arena slot inside its user's sorted sequence
	rank []int
}

// Build indexes records, which must be in input order with RowIndex equal to
// their slice position.
func Build(records []models.TransactionRecord) *Index {
	idx := &Index{
		records: records,
		byUser:  make(map[string][]int),
		rank:    make([]int, len(records)),
	}

	for i, r := range records {
		if _, ok := idx.byUser[r.UserID]; !ok {
			idx.users = append(idx.users, r.UserID)
		}
		idx.byUser[r.UserID] = append(idx.byUser[r.UserID], i)
	}

	for _, positions := range idx.byUser {
		sort.Slice(positions, func(a, b int) bool {
			ra, rb := records[positions[a]], records[positions[b]]
			if ra.Timestamp.Equal(rb.Timestamp) {
				return positions[a] < positions[b]
			}
			return ra.Timestamp.Before(rb.Timestamp)
		})
		for k, pos := range positions {
			idx.rank[pos] = k
		}
	}

	return idx
}

// Len returns the number of indexed records
func (idx *Index) Len() int {
	return len(idx.records)
}

// Users returns user ids in order of first appearance in the input.
func (idx *Index) Users() []string {
	return idx.users
}

// Sequence returns the user's records in evaluation order.
func (idx *Index) Sequence(userID string) []models.TransactionRecord {
	positions := idx.byUser[userID]
	out := make([]models.TransactionRecord, len(positions))
	for k, pos := range positions {
		out[k] = idx.records[pos]
	}
	return out
}

// HistoryFor returns the history-so-far of the record at rowIndex: every
// record of the same user that precedes it by (timestamp, input row).
func (idx *Index) HistoryFor(rowIndex int) []models.TransactionRecord {
	if rowIndex < 0 || rowIndex >= len(idx.records) {
		return nil
	}
	user := idx.records[rowIndex].UserID
	return idx.Sequence(user)[:idx.rank[rowIndex]]
}

// Cursor walks one user's sequence. At each step the current record is
// evaluated against History(), then Advance moves it into the history.
type Cursor struct {
	seq     []models.TransactionRecord
	amounts []float64
	// amounts of History() in ascending order
	sorted   []float64
	pos      int
	merchant map[string]struct{}
}

// Cursor returns a cursor positioned at the user's first transaction.
func (idx *Index) Cursor(userID string) *Cursor {
	seq := idx.Sequence(userID)
	amounts := make([]float64, len(seq))
	for k, r := range seq {
		amounts[k] = r.AmountValue()
	}
	return &Cursor{
		seq:      seq,
		amounts:  amounts,
		sorted:   make([]float64, 0, len(seq)),
		merchant: make(map[string]struct{}),
	}
}

// Next reports whether a current record is available.
func (c *Cursor) Next() bool {
	return c.pos < len(c.seq)
}

// Current returns the record under evaluation.
func (c *Cursor) Current() models.TransactionRecord {
	return c.seq[c.pos]
}

// History returns the records strictly before the current one.
func (c *Cursor) History() []models.TransactionRecord {
	return c.seq[:c.pos]
}

// HistoryAmounts returns the amounts of History() as floats.
func (c *Cursor) HistoryAmounts() []float64 {
	return c.amounts[:c.pos]
}

// SortedHistoryAmounts returns the amounts of History() in ascending order.
// The slice is owned by the cursor and changes on Advance.
func (c *Cursor) SortedHistoryAmounts() []float64 {
	return c.sorted
}

// SeenMerchant reports whether the merchant occurs in History().
func (c *Cursor) SeenMerchant(name string) bool {
	_, ok := c.merchant[MerchantKey(name)]
	return ok
}

// Advance moves the current record into the history.
func (c *Cursor) Advance() {
	c.merchant[MerchantKey(c.seq[c.pos].MerchantName)] = struct{}{}

	a := c.amounts[c.pos]
	i := sort.SearchFloat64s(c.sorted, a)
	c.sorted = append(c.sorted, 0)
	copy(c.sorted[i+1:], c.sorted[i:])
	c.sorted[i] = a

	c.pos++
}

// MerchantKey normalizes a merchant name for novelty comparison.
func MerchantKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
