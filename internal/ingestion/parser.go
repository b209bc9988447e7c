// Package ingestion turns raw input rows into validated transaction records.
package ingestion

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enterprise/fraud-scorer/internal/models"
)

// Column names of the input schema
const (
	FieldUserID       = "user_id"
	FieldTimestamp    = "timestamp"
	FieldMerchantName = "merchant_name"
	FieldAmount       = "amount"
)

// RequiredColumns lists the input columns in canonical order
var RequiredColumns = []string{FieldUserID, FieldTimestamp, FieldMerchantName, FieldAmount}

// RawRow is one unparsed input row
type RawRow struct {
	UserID       string
	Timestamp    string
	MerchantName string
	Amount       string
}

// layouts without an offset are read in the parser's location
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

// Parser converts raw rows into transaction records
type Parser struct {
	loc *time.Location
}

// NewParser returns a parser that reads offset-less timestamps in loc.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc}
}

// ParseAll parses rows in order. The first bad row aborts the whole batch.
func (p *Parser) ParseAll(rows []RawRow) ([]models.TransactionRecord, error) {
	records := make([]models.TransactionRecord, len(rows))
	for i, raw := range rows {
		rec, err := p.Parse(i, raw)
		if err != nil {
			return nil, err
		}
		records[i] = rec
	}
	return records, nil
}

// Parse validates a single row.
func (p *Parser) Parse(row int, raw RawRow) (models.TransactionRecord, error) {
	userID := strings.TrimSpace(raw.UserID)
	if userID == "" {
		return models.TransactionRecord{}, rowError(row, FieldUserID, "missing value")
	}

	merchant := strings.TrimSpace(raw.MerchantName)
	if merchant == "" {
		return models.TransactionRecord{}, rowError(row, FieldMerchantName, "missing value")
	}

	rawTS := strings.TrimSpace(raw.Timestamp)
	if rawTS == "" {
		return models.TransactionRecord{}, rowError(row, FieldTimestamp, "missing value")
	}
	ts, ok := p.ParseTimestamp(rawTS)
	if !ok {
		return models.TransactionRecord{}, rowError(row, FieldTimestamp, "unparseable timestamp "+strconv.Quote(rawTS))
	}

	amount, err := ParseAmount(raw.Amount)
	if err != nil {
		return models.TransactionRecord{}, rowError(row, FieldAmount, err.Error())
	}

	return models.TransactionRecord{
		RowIndex:     row,
		UserID:       userID,
		Timestamp:    ts,
		RawTimestamp: rawTS,
		MerchantName: merchant,
		Amount:       amount,
		RawAmount:    strings.TrimSpace(raw.Amount),
	}, nil
}

// ParseTimestamp accepts RFC 3339, offset-less ISO-8601 date/time forms and
// Unix epoch seconds. Values carrying an offset keep it; the others are read
// in the parser's location.
func (p *Parser) ParseTimestamp(s string) (time.Time, bool) {
	if isEpoch(s) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return time.Time{}, false
		}
		sec := d.IntPart()
		nsec := d.Sub(decimal.NewFromInt(sec)).Shift(9).IntPart()
		return time.Unix(sec, nsec).In(p.loc), true
	}

	for _, layout := range offsetLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ParseAmount parses a non-negative decimal amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errMissingValue
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errNotNumeric
	}
	if amount.IsNegative() {
		return decimal.Zero, errNegativeAmount
	}
	return amount, nil
}

// isEpoch reports whether s looks like a bare number of seconds.
func isEpoch(s string) bool {
	digits, dots := 0, 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
		case r == '-' && i == 0:
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}
