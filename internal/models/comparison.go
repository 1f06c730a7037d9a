package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type LineItem struct {
	Date   Value `json:"Date of Service"`
	Code   Value `json:"Procedure Code"`
	Amount Value `json:"Amount"`
}

// UnmarshalJSON matches the three keys exactly. A key spelled with other
// casing is treated as missing.
func (li *LineItem) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("line item is null")
	}

	*li = LineItem{}
	for key, dst := range map[string]*Value{
		"Date of Service": &li.Date,
		"Procedure Code":  &li.Code,
		"Amount":          &li.Amount,
	} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := dst.UnmarshalJSON(raw); err != nil {
			return err
		}
	}
	return nil
}

type MismatchType string

const (
	AmountMismatch MismatchType = "Amount Mismatch"
	MissingInNF3   MismatchType = "Missing in NF3"
	ExtraInNF3     MismatchType = "Extra in NF3"
)

// Mismatch is one reconciliation finding. Amount fields are present only
// for the side(s) the finding involves.
type Mismatch struct {
	Type      MismatchType `json:"type"`
	Date      Value        `json:"date"`
	Code      Value        `json:"code"`
	AR1Amount *Value       `json:"ar1_amount,omitempty"`
	NF3Amount *Value       `json:"nf3_amount,omitempty"`
}

// Report is the outcome of reconciling an AR1 against an NF3.
type Report struct {
	AR1ClaimNumber    Value      `json:"ar1_claim_number"`
	NF3ClaimNumber    Value      `json:"nf3_claim_number"`
	ClaimNumbersMatch bool       `json:"claim_numbers_match"`
	AR1TotalBilled    Value      `json:"ar1_total_billed"`
	NF3TotalBilled    Value      `json:"nf3_total_billed"`
	Mismatches        []Mismatch `json:"mismatches"`
}

// Matched reports whether every billed line item agreed.
func (r Report) Matched() bool {
	return len(r.Mismatches) == 0
}

// Count returns the number of findings of the given type.
func (r Report) Count(t MismatchType) int {
	n := 0
	for _, m := range r.Mismatches {
		if m.Type == t {
			n++
		}
	}
	return n
}

type Comparison struct {
	ID        string    `json:"id"`
	AR1       *Document `json:"AR1"`
	NF3       *Document `json:"NF3"`
	Report    Report    `json:"comparison"`
	CreatedAt time.Time `json:"created_at"`
}
