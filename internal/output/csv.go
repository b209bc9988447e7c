package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/enterprise/fraud-scorer/internal/models"
)

// Columns is the header of the scored CSV
var Columns = []string{
	"user_id",
	"timestamp",
	"merchant_name",
	"amount",
	"risk_score",
	"triggered_rules",
	"explanation",
}

// WriteCSV writes a header and one line per transaction
func WriteCSV(w io.Writer, txs []models.ScoredTransaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, tx := range txs {
		record := []string{
			tx.UserID,
			tx.RawTimestamp,
			tx.MerchantName,
			tx.AmountText(),
			strconv.FormatFloat(tx.RiskScore, 'f', 2, 64),
			strings.Join(tx.TriggeredRules, ","),
			tx.Explanation,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", tx.RowIndex, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// WriteSummary prints a human readable run summary
func WriteSummary(w io.Writer, s models.DetectionSummary) error {
	line := strings.Repeat("=", 60)
	var b strings.Builder

	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "FRAUD DETECTION SUMMARY")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "%-27s%s\n", "Run ID:", s.RunID)
	fmt.Fprintf(&b, "%-27s%d\n", "Total Transactions:", s.TotalTransactions)
	fmt.Fprintf(&b, "%-27s%d\n", "Total Users:", s.TotalUsers)
	fmt.Fprintf(&b, "%-27s%d\n", "Flagged Transactions:", s.FlaggedTransactions)
	fmt.Fprintf(&b, "%-27s%.2f%%\n", "Flagged Percentage:", s.FlaggedPercentage)
	fmt.Fprintf(&b, "%-27s%.2f\n", "Average Flagged Score:", s.AvgFlaggedRiskScore)
	fmt.Fprintf(&b, "%-27s%.2f\n", "Max Risk Score:", s.MaxRiskScore)
	fmt.Fprintln(&b, strings.Repeat("-", 60))
	for _, rc := range s.RuleTriggers {
		fmt.Fprintf(&b, "%-27s%d\n", rc.RuleID+":", rc.Count)
	}
	fmt.Fprintln(&b, line)

	_, err := io.WriteString(w, b.String())
	return err
}
