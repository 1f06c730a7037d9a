package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/claimcheck/internal/models"
)

var panelTitles = []struct{ name, title string }{
	{models.PanelBasicInfo, "Basic Case Information"},
	{models.PanelHealthServiceInfo, "Health Service Info"},
	{models.PanelLossOfEarnings, "Loss of Earnings Section"},
	{models.PanelServiceDisputes, "Health Services Disputes"},
	{models.PanelOtherExpenses, "Other Necessary Expenses"},
	{models.PanelArbitrationInfo, "User Requester Info"},
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func printDocument(w io.Writer, doc *models.Document) {
	ext := doc.Extraction

	if ext.HasDocumentType {
		fmt.Fprintln(w, color.GreenString("✓ Document Classification: %s", ext.DocumentType))
	} else {
		fmt.Fprintln(w, color.YellowString("Unable to determine document type."))
	}
	if ext.IsInvalid() && ext.Invalid != "" {
		fmt.Fprintln(w, color.YellowString("%s", ext.Invalid))
	}

	fmt.Fprintln(w, color.CyanString("\nSummary"))
	if ext.Summary != "" {
		fmt.Fprintln(w, ext.Summary)
	} else {
		fmt.Fprintln(w, "Summary not available.")
	}

	if doc.Kind == models.KindBilling {
		fmt.Fprintln(w, color.CyanString("\nExtracted Fields"))
		fmt.Fprintln(w, indent(doc.Result))
		return
	}
	for _, p := range panelTitles {
		fmt.Fprintln(w, color.CyanString("\n%s", p.title))
		fmt.Fprintln(w, indent(ext.Panel(p.name)))
	}
}

func printComparison(w io.Writer, cmp *models.Comparison) {
	fmt.Fprintln(w, color.CyanString("Document Summaries"))
	fmt.Fprintf(w, "AR1 Summary: %s\n", summaryOr(cmp.AR1, "N/A"))
	fmt.Fprintf(w, "NF3 Summary: %s\n", summaryOr(cmp.NF3, "N/A"))

	report := cmp.Report
	fmt.Fprintln(w, color.CyanString("\nComparison Result"))
	if report.ClaimNumbersMatch {
		fmt.Fprintln(w, color.GreenString("✓ Claim numbers match: %s", report.AR1ClaimNumber.String()))
	} else {
		fmt.Fprintln(w, color.YellowString("Claim numbers differ: AR1 %s, NF3 %s",
			report.AR1ClaimNumber.String(), report.NF3ClaimNumber.String()))
	}

	if report.Matched() {
		fmt.Fprintln(w, color.GreenString("All billed items match correctly!"))
		return
	}

	fmt.Fprintln(w, color.RedString("Mismatches Found"))
	for _, m := range report.Mismatches {
		b, _ := json.MarshalIndent(m, "", "  ")
		fmt.Fprintln(w, string(b))
	}
}

func summaryOr(doc *models.Document, fallback string) string {
	if doc.Extraction == nil || doc.Extraction.Summary == "" {
		return fallback
	}
	return doc.Extraction.Summary
}

func indent(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
