package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexString accepts a JSON string or number and keeps its literal text, so
// epoch timestamps and amounts can be sent either way.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// TransactionRequest is one transaction in a scoring request
type TransactionRequest struct {
	UserID       string     `json:"user_id" binding:"required"`
	Timestamp    FlexString `json:"timestamp" binding:"required"`
	MerchantName string     `json:"merchant_name" binding:"required"`
	Amount       FlexString `json:"amount" binding:"required"`
}

// ScoreRequest is a batch of transactions scored together
type ScoreRequest struct {
	Transactions []TransactionRequest `json:"transactions" binding:"required,min=1,max=50000,dive"`
	FlaggedOnly  bool                 `json:"flagged_only"`
	SortByRisk   bool                 `json:"sort_by_risk"`
}

// RawRows converts the request into raw rows in request order
func (r *ScoreRequest) RawRows() []RawRow {
	rows := make([]RawRow, len(r.Transactions))
	for i, tx := range r.Transactions {
		rows[i] = RawRow{
			UserID:       tx.UserID,
			Timestamp:    string(tx.Timestamp),
			MerchantName: tx.MerchantName,
			Amount:       string(tx.Amount),
		}
	}
	return rows
}
