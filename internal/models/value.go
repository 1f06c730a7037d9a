package models

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Value is a JSON scalar exactly as the model returned it. Dates, procedure
// codes and amounts come back as strings or numbers depending on the
// document, so the raw text is kept and compared instead of coerced.
type Value struct {
	raw json.RawMessage
}

// NewValue marshals v into a Value. It panics if v cannot be marshalled.
func NewValue(v interface{}) Value {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Value{raw: b}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return err
	}
	v.raw = buf.Bytes()
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// IsNull reports whether the value is missing or JSON null.
func (v Value) IsNull() bool {
	return len(v.raw) == 0 || string(v.raw) == "null"
}

// String returns the unquoted text of a JSON string, or the raw JSON text
// of any other value. Missing values render as an empty string.
func (v Value) String() string {
	if v.IsNull() {
		return ""
	}
	if v.raw[0] == '"' {
		var s string
		if err := json.Unmarshal(v.raw, &s); err == nil {
			return s
		}
	}
	return string(v.raw)
}

// Decimal returns the numeric value when the JSON value is a number.
func (v Value) Decimal() (decimal.Decimal, bool) {
	if !v.isNumber() {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(string(v.raw))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Equal compares two values. Numbers compare numerically so 100 and 100.0
// are equal, including inside arrays and objects, and object keys compare
// regardless of order. Booleans never equal numbers, and 100 and "100" stay
// distinct.
func (v Value) Equal(other Value) bool {
	if a, ok := v.Decimal(); ok {
		if b, ok := other.Decimal(); ok {
			return a.Equal(b)
		}
		return false
	}
	a, b := v.text(), other.text()
	if bytes.Equal(a, b) {
		return true
	}
	if !isComposite(a) || !isComposite(b) {
		return false
	}
	x, err := decodeTree(a)
	if err != nil {
		return false
	}
	y, err := decodeTree(b)
	if err != nil {
		return false
	}
	return treeEqual(x, y)
}

func isComposite(raw []byte) bool {
	return raw[0] == '{' || raw[0] == '['
}

func decodeTree(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree interface{}
	err := dec.Decode(&tree)
	return tree, err
}

func treeEqual(a, b interface{}) bool {
	switch x := a.(type) {
	case json.Number:
		y, ok := b.(json.Number)
		if !ok {
			return false
		}
		dx, err := decimal.NewFromString(x.String())
		if err != nil {
			return x == y
		}
		dy, err := decimal.NewFromString(y.String())
		if err != nil {
			return false
		}
		return dx.Equal(dy)
	case []interface{}:
		y, ok := b.([]interface{})
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !treeEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		y, ok := b.(map[string]interface{})
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !treeEqual(xv, yv) {
				return false
			}
		}
		return true
	default:
		// strings, booleans and nil
		return a == b
	}
}

func (v Value) text() []byte {
	if len(v.raw) == 0 {
		return []byte("null")
	}
	return v.raw
}

func (v Value) isNumber() bool {
	if len(v.raw) == 0 {
		return false
	}
	c := v.raw[0]
	return c == '-' || (c >= '0' && c <= '9')
}
