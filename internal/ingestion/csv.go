package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ReadCSV reads rows from a CSV stream whose first record is a header naming
// at least the required columns. Column order is free, names are matched
// case-insensitively and extra columns are ignored.
func ReadCSV(r io.Reader) ([]RawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &Error{Row: -1, Field: "input", Reason: "empty input"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var rows []RawRow
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, rowError(len(rows), "input", perr.Err.Error())
			}
			return nil, fmt.Errorf("failed to read csv row %d: %w", len(rows), err)
		}

		rows = append(rows, RawRow{
			UserID:       field(record, cols[FieldUserID]),
			Timestamp:    field(record, cols[FieldTimestamp]),
			MerchantName: field(record, cols[FieldMerchantName]),
			Amount:       field(record, cols[FieldAmount]),
		})
	}

	if len(rows) == 0 {
		return nil, &Error{Row: -1, Field: "input", Reason: "no transactions"}
	}
	return rows, nil
}

func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}

	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &Error{Row: -1, Field: strings.Join(missing, ","), Reason: "missing column"}
	}
	return cols, nil
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return record[i]
}
