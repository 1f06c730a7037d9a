package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/claimcheck/internal/models"
	cfgPkg "github.com/xhad/claimcheck/pkg/config"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		command string
		wantErr bool
	}{
		{name: "serve", args: []string{"-port", "9090", "serve"}, command: "serve"},
		{name: "extract", args: []string{"-o", "out.json", "extract", "claim.pdf"}, command: "extract"},
		{name: "compare", args: []string{"compare", "ar1.pdf", "nf3.pdf"}, command: "compare"},
		{name: "no command", args: nil, wantErr: true},
		{name: "unknown command", args: []string{"chat"}, wantErr: true},
		{name: "extract without file", args: []string{"extract"}, wantErr: true},
		{name: "compare with one file", args: []string{"compare", "ar1.pdf"}, wantErr: true},
		{name: "bad kind", args: []string{"-kind", "receipt", "extract", "a.pdf"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.command, opts.command)
		})
	}

	opts, err := parseArgs([]string{"-port", "9090", "-o", "out.json", "extract", "claim.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 9090, opts.port)
	assert.Equal(t, "out.json", opts.output)
	assert.Equal(t, []string{"claim.pdf"}, opts.args)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug", true)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger("loud", false)
	assert.Error(t, err)
}

func mustExtraction(t *testing.T, raw string) *models.Extraction {
	t.Helper()
	ext, err := models.DecodeExtraction([]byte(raw))
	require.NoError(t, err)
	return ext
}

func TestPrintDocument(t *testing.T) {
	raw := `{"document_type": "NF-10 doc", "fields": {"basic_info": {"Claim Number": "CL-7"}}}`
	doc := &models.Document{Kind: models.KindClaim, Result: []byte(raw), Extraction: mustExtraction(t, raw)}

	var buf bytes.Buffer
	printDocument(&buf, doc)
	out := buf.String()

	assert.Contains(t, out, "Document Classification: NF-10 doc")
	assert.Contains(t, out, "Summary not available.")
	assert.Contains(t, out, "Basic Case Information\n{\n  \"Claim Number\": \"CL-7\"\n}")
	assert.Contains(t, out, "Other Necessary Expenses\n[]")
}

func TestPrintComparison(t *testing.T) {
	ar1 := `{"summary": "Request.", "fields": {"claim_number": "CL-1"}}`
	nf3 := `{"fields": {"claim_number": "CL-1"}}`
	cmp := &models.Comparison{
		AR1: &models.Document{Extraction: mustExtraction(t, ar1)},
		NF3: &models.Document{Extraction: mustExtraction(t, nf3)},
		Report: models.Report{
			AR1ClaimNumber:    models.NewValue("CL-1"),
			NF3ClaimNumber:    models.NewValue("CL-1"),
			ClaimNumbersMatch: true,
		},
	}

	var buf bytes.Buffer
	printComparison(&buf, cmp)
	assert.Contains(t, buf.String(), "AR1 Summary: Request.")
	assert.Contains(t, buf.String(), "NF3 Summary: N/A")
	assert.Contains(t, buf.String(), "All billed items match correctly!")

	cmp.Report.Mismatches = []models.Mismatch{{
		Type: models.MissingInNF3,
		Date: models.NewValue("01/02/2024"),
		Code: models.NewValue("97110"),
	}}
	buf.Reset()
	printComparison(&buf, cmp)
	assert.Contains(t, buf.String(), "Mismatches Found")
	assert.Contains(t, buf.String(), `"type": "Missing in NF3"`)
}

func TestRemoteFetcherOptIn(t *testing.T) {
	cfg := &cfgPkg.Config{}
	assert.Nil(t, remoteFetcher(cfg))

	cfg.Intake.AllowRemote = true
	cfg.Intake.FetchRateLimit = 1
	assert.NotNil(t, remoteFetcher(cfg))
}
