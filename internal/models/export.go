package models

import (
	"bytes"
	"encoding/json"
)

// Export returns the extraction as indented JSON in the model's key order.
func (d *Document) Export() ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, d.Result, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export returns both extractions and the report as indented JSON.
func (c *Comparison) Export() ([]byte, error) {
	out := struct {
		AR1        json.RawMessage `json:"AR1"`
		NF3        json.RawMessage `json:"NF3"`
		Comparison Report          `json:"comparison"`
	}{
		AR1:        c.AR1.Result,
		NF3:        c.NF3.Result,
		Comparison: c.Report,
	}
	return json.MarshalIndent(out, "", "  ")
}
