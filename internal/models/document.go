package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DocumentKind selects the extraction prompt used for an upload.
type DocumentKind string

const (
	// KindClaim is a single NF-10 style claim document with the full field set.
	KindClaim DocumentKind = "claim"
	// KindBilling is an AR1 or NF3 form reduced to its billed line items.
	KindBilling DocumentKind = "billing"
)

func (k DocumentKind) Valid() bool {
	return k == KindClaim || k == KindBilling
}

// Claim document panels, in display order.
const (
	PanelBasicInfo         = "basic_info"
	PanelHealthServiceInfo = "health_service_info"
	PanelLossOfEarnings    = "loss_of_earnings"
	PanelServiceDisputes   = "health_services_disputes"
	PanelOtherExpenses     = "other_expenses"
	PanelArbitrationInfo   = "arbitration_info"
)

// InvalidDocument is the classification the model uses for unusable uploads.
const InvalidDocument = "Invalid Document"

type Document struct {
	ID         string          `json:"id"`
	Filename   string          `json:"filename"`
	Kind       DocumentKind    `json:"kind"`
	Checksum   string          `json:"checksum"`
	Text       string          `json:"-"`
	Response   string          `json:"-"`
	Result     json.RawMessage `json:"result"`
	Extraction *Extraction     `json:"-"`
	Embedding  []float32       `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Extraction is the parsed model response. Only the top-level object shape
// is required; every field inside it is optional.
type Extraction struct {
	DocumentType    string
	HasDocumentType bool
	Summary         string
	Invalid         string
	Fields          map[string]json.RawMessage
}

// DecodeExtraction parses a model response. It fails when the text is not
// a JSON object.
func DecodeExtraction(raw []byte) (*Extraction, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, err
	}
	if top == nil {
		return nil, fmt.Errorf("response is not a JSON object")
	}

	ext := &Extraction{Fields: map[string]json.RawMessage{}}
	if v, ok := top["document_type"]; ok {
		ext.HasDocumentType = true
		ext.DocumentType = scalarText(v)
	}
	ext.Summary = scalarText(top["summary"])
	ext.Invalid = scalarText(top["Invalid"])

	if f, ok := top["fields"]; ok {
		// Anything other than an object leaves the panels empty.
		_ = json.Unmarshal(f, &ext.Fields)
		if ext.Fields == nil {
			ext.Fields = map[string]json.RawMessage{}
		}
	}
	return ext, nil
}

// IsInvalid reports whether the model classified the upload as unusable.
func (e *Extraction) IsInvalid() bool {
	return e.DocumentType == InvalidDocument
}

// Panel returns a claim panel, defaulting to {} for object panels and [] for
// the two list panels when the model left them out.
func (e *Extraction) Panel(name string) json.RawMessage {
	if v, ok := e.Fields[name]; ok && len(v) > 0 {
		return v
	}
	if name == PanelServiceDisputes || name == PanelOtherExpenses {
		return json.RawMessage("[]")
	}
	return json.RawMessage("{}")
}

// LineItems decodes fields.line_items. A missing list is empty.
func (e *Extraction) LineItems() ([]LineItem, error) {
	raw, ok := e.Fields["line_items"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var items []LineItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("unexpected line_items shape: %w", err)
	}
	return items, nil
}

func (e *Extraction) ClaimNumber() Value {
	return e.field("claim_number")
}

func (e *Extraction) TotalBilled() Value {
	return e.field("total_billed")
}

func (e *Extraction) field(name string) Value {
	var v Value
	if raw, ok := e.Fields[name]; ok {
		_ = v.UnmarshalJSON(raw)
	}
	return v
}

func scalarText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return ""
	}
	return v.String()
}
