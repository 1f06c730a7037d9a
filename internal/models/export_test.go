package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentExportKeepsKeyOrder(t *testing.T) {
	doc := &Document{Result: json.RawMessage(`{"summary":"s","document_type":"NF-10 doc"}`)}

	out, err := doc.Export()
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"summary\": \"s\",\n  \"document_type\": \"NF-10 doc\"\n}", string(out))
}

func TestComparisonExport(t *testing.T) {
	amount := NewValue(40)
	cmp := &Comparison{
		AR1: &Document{Result: json.RawMessage(`{"document_type":"AR1"}`)},
		NF3: &Document{Result: json.RawMessage(`{"document_type":"NF3"}`)},
		Report: Report{
			ClaimNumbersMatch: true,
			Mismatches: []Mismatch{{
				Type:      ExtraInNF3,
				Date:      NewValue("01/05/2024"),
				Code:      NewValue("97750"),
				NF3Amount: &amount,
			}},
		},
	}

	out, err := cmp.Export()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "AR1", decoded["AR1"].(map[string]interface{})["document_type"])
	assert.Equal(t, "NF3", decoded["NF3"].(map[string]interface{})["document_type"])

	report := decoded["comparison"].(map[string]interface{})
	mismatches := report["mismatches"].([]interface{})
	require.Len(t, mismatches, 1)
	assert.Equal(t, "Extra in NF3", mismatches[0].(map[string]interface{})["type"])
	assert.NotContains(t, mismatches[0], "ar1_amount")
}
