package history

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/fraud-scorer/internal/models"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(row int, user string, offset time.Duration, merchant string, amount int64) models.TransactionRecord {
	return models.TransactionRecord{
		RowIndex:     row,
		UserID:       user,
		Timestamp:    base.Add(offset),
		MerchantName: merchant,
		Amount:       decimal.NewFromInt(amount),
	}
}

func rows(idx []models.TransactionRecord) []int {
	out := make([]int, len(idx))
	for i, r := range idx {
		out[i] = r.RowIndex
	}
	return out
}

func TestBuildGroupsAndSortsPerUser(t *testing.T) {
	records := []models.TransactionRecord{
		rec(0, "u1", 3*time.Hour, "a", 10),
		rec(1, "u2", time.Hour, "b", 20),
		rec(2, "u1", time.Hour, "c", 30),
		rec(3, "u1", 2*time.Hour, "d", 40),
	}

	idx := Build(records)

	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, []string{"u1", "u2"}, idx.Users())
	assert.Equal(t, []int{2, 3, 0}, rows(idx.Sequence("u1")))
	assert.Equal(t, []int{1}, rows(idx.Sequence("u2")))
	assert.Empty(t, idx.Sequence("nobody"))
}

func TestHistoryForExcludesSelfAndFuture(t *testing.T) {
	records := []models.TransactionRecord{
		rec(0, "u1", 3*time.Hour, "a", 10),
		rec(1, "u1", time.Hour, "b", 20),
		rec(2, "u1", 2*time.Hour, "c", 30),
	}
	idx := Build(records)

	assert.Empty(t, idx.HistoryFor(1))
	assert.Equal(t, []int{1}, rows(idx.HistoryFor(2)))
	assert.Equal(t, []int{1, 2}, rows(idx.HistoryFor(0)))
	assert.Nil(t, idx.HistoryFor(-1))
	assert.Nil(t, idx.HistoryFor(3))
}

func TestTimestampTiesUseInputOrder(t *testing.T) {
	records := []models.TransactionRecord{
		rec(0, "u1", time.Hour, "a", 10),
		rec(1, "u1", time.Hour, "b", 20),
		rec(2, "u1", time.Hour, "c", 30),
	}
	idx := Build(records)

	assert.Equal(t, []int{0, 1, 2}, rows(idx.Sequence("u1")))
	assert.Empty(t, idx.HistoryFor(0))
	assert.Equal(t, []int{0}, rows(idx.HistoryFor(1)))
	assert.Equal(t, []int{0, 1}, rows(idx.HistoryFor(2)))
}

func TestCursorWalksSequence(t *testing.T) {
	records := []models.TransactionRecord{
		rec(0, "u1", 2*time.Hour, " Coffee Shop ", 5),
		rec(1, "u1", time.Hour, "coffee shop", 7),
	}
	idx := Build(records)
	c := idx.Cursor("u1")

	require.True(t, c.Next())
	assert.Equal(t, 1, c.Current().RowIndex)
	assert.Empty(t, c.History())
	assert.False(t, c.SeenMerchant("coffee shop"))
	c.Advance()

	require.True(t, c.Next())
	assert.Equal(t, 0, c.Current().RowIndex)
	assert.Equal(t, []float64{7}, c.HistoryAmounts())
	assert.True(t, c.SeenMerchant(" Coffee Shop "))
	c.Advance()

	assert.False(t, c.Next())
}

func TestCursorKeepsHistoryAmountsSorted(t *testing.T) {
	records := []models.TransactionRecord{
		rec(0, "u1", time.Hour, "a", 50),
		rec(1, "u1", 2*time.Hour, "b", 10),
		rec(2, "u1", 3*time.Hour, "c", 30),
		rec(3, "u1", 4*time.Hour, "d", 10),
		rec(4, "u1", 5*time.Hour, "e", 99),
	}
	c := Build(records).Cursor("u1")

	assert.Empty(t, c.SortedHistoryAmounts())
	var seen [][]float64
	for ; c.Next(); c.Advance() {
		seen = append(seen, append([]float64(nil), c.SortedHistoryAmounts()...))
	}

	assert.Equal(t, []float64{50}, seen[1])
	assert.Equal(t, []float64{10, 50}, seen[2])
	assert.Equal(t, []float64{10, 30, 50}, seen[3])
	assert.Equal(t, []float64{10, 10, 30, 50}, seen[4])
	assert.Equal(t, []float64{50, 10, 30, 10}, c.HistoryAmounts()[:4])
}

func TestMerchantKey(t *testing.T) {
	assert.Equal(t, "amazon", MerchantKey("  AMAZON "))
	assert.Equal(t, "", MerchantKey("   "))
}
