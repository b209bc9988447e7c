package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/enterprise/fraud-scorer/internal/models"
)

// MeanAndStdDev returns the mean and sample standard deviation of amounts.
// The standard deviation is floored to 0 below two samples.
func MeanAndStdDev(amounts []float64) (mean, stdDev float64) {
	n := len(amounts)
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for _, a := range amounts {
		sum += a
	}
	mean = sum / float64(n)

	if n < 2 {
		return mean, 0
	}

	var sq float64
	for _, a := range amounts {
		d := a - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(n-1))
}

// DailySumAndAverage sums history entries with timestamp in (now-window, now].
// history is sorted ascending and holds only records preceding the current
// one, so same-timestamp rows earlier in the input are included.
func DailySumAndAverage(history []models.TransactionRecord, now time.Time, window time.Duration) (sum float64, count int, avg float64) {
	from := now.Add(-window)
	for i := len(history) - 1; i >= 0; i-- {
		ts := history[i].Timestamp
		if !ts.After(from) {
			break
		}
		sum += history[i].AmountValue()
		count++
	}
	if count > 0 {
		avg = sum / float64(count)
	}
	return sum, count, avg
}

// Percentile returns the p-th percentile of amounts using linear
// interpolation between order statistics. ok is false for empty input.
func Percentile(amounts []float64, p float64) (value float64, ok bool) {
	n := len(amounts)
	if n == 0 {
		return math.Inf(-1), false
	}

	sorted := make([]float64, n)
	copy(sorted, amounts)
	sort.Float64s(sorted)
	return PercentileSorted(sorted, p)
}

// PercentileSorted is Percentile over amounts already in ascending order.
func PercentileSorted(sorted []float64, p float64) (value float64, ok bool) {
	n := len(sorted)
	if n == 0 {
		return math.Inf(-1), false
	}

	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if hi >= n {
		hi = n - 1
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac, true
}

// CountInWindow counts history entries with timestamp in [now-window, now].
// Same ordering contract as DailySumAndAverage.
func CountInWindow(history []models.TransactionRecord, now time.Time, window time.Duration) int {
	from := now.Add(-window)
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		ts := history[i].Timestamp
		if ts.Before(from) {
			break
		}
		count++
	}
	return count
}

// snapshot computes the statistics for the current record from its
// history-so-far. sorted holds the same amounts as amounts in ascending order.
// Timestamps already carry the zone their local hour is read in.
func snapshot(cur models.TransactionRecord, history []models.TransactionRecord, amounts, sorted []float64, seenMerchant bool, th Thresholds) models.StatSnapshot {
	mean, std := MeanAndStdDev(amounts)
	dailySum, dailyCount, dailyAvg := DailySumAndAverage(history, cur.Timestamp, th.SpikeWindow)
	p, ok := PercentileSorted(sorted, th.NightPercentile)

	return models.StatSnapshot{
		HistoryCount:  len(history),
		Mean:          mean,
		StdDev:        std,
		DailySum:      dailySum,
		DailyCount:    dailyCount,
		DailyAverage:  dailyAvg,
		Percentile:    p,
		HasPercentile: ok,
		IsNewMerchant: !seenMerchant,
		CountInWindow: CountInWindow(history, cur.Timestamp, th.VelocityWindow),
		LocalHour:     cur.Timestamp.Hour(),
	}
}
