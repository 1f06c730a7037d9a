package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xhad/claimcheck/internal/models"
	"github.com/xhad/claimcheck/internal/types"
	"github.com/xhad/claimcheck/pkg/extractor"
	"github.com/xhad/claimcheck/pkg/fetcher"
	"github.com/xhad/claimcheck/pkg/llm"
	"github.com/xhad/claimcheck/pkg/service"
)

const (
	extractPrompt = "Upload a valid legal document to begin."
	comparePrompt = "Please upload both AR1 and NF3 documents to continue."
	parseFailure  = "Failed to parse model response as JSON."

	documentDownloadName   = "nf10_extracted_output.json"
	comparisonDownloadName = "ar1_nf3_comparison.json"
)

var errMissingUpload = errors.New("missing upload")

type panel struct {
	Title string
	JSON  string
}

var panelTitles = []struct{ name, title string }{
	{models.PanelBasicInfo, "Basic Case Information"},
	{models.PanelHealthServiceInfo, "Health Service Info"},
	{models.PanelLossOfEarnings, "Loss of Earnings Section"},
	{models.PanelServiceDisputes, "Health Services Disputes"},
	{models.PanelOtherExpenses, "Other Necessary Expenses"},
	{models.PanelArbitrationInfo, "User Requester Info"},
}

type indexView struct {
	Error         string
	ExtractNotice string
	CompareNotice string
}

type documentView struct {
	ID             string
	Filename       string
	Classified     bool
	Classification string
	Invalid        string
	Summary        string
	Panels         []panel
}

type comparisonView struct {
	ID                string
	AR1Summary        string
	NF3Summary        string
	Extracted         string
	ClaimNumbersMatch bool
	AR1ClaimNumber    string
	NF3ClaimNumber    string
	AR1TotalBilled    string
	NF3TotalBilled    string
	Matched           bool
	Mismatches        []string
}

type parseErrorView struct {
	Message string
	Raw     string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", indexView{
		ExtractNotice: extractPrompt,
		CompareNotice: comparePrompt,
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r, "document", "url")
	if err != nil {
		s.renderUploadError(w, err, indexView{ExtractNotice: extractPrompt, CompareNotice: comparePrompt})
		return
	}

	doc, err := s.service.ExtractDocument(r.Context(), up, models.KindClaim)
	s.metrics.RecordExtraction(models.KindClaim, err)
	if err != nil {
		s.renderPipelineError(w, err)
		return
	}

	s.render(w, http.StatusOK, "document.html", newDocumentView(doc))
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	ar1, err := s.readUpload(w, r, "ar1", "ar1_url")
	if err != nil {
		s.renderUploadError(w, err, indexView{ExtractNotice: extractPrompt, CompareNotice: comparePrompt})
		return
	}
	nf3, err := s.readUpload(w, r, "nf3", "nf3_url")
	if err != nil {
		s.renderUploadError(w, err, indexView{ExtractNotice: extractPrompt, CompareNotice: comparePrompt})
		return
	}

	cmp, err := s.service.Compare(r.Context(), ar1, nf3)
	s.metrics.RecordComparison(cmp, err)
	if err != nil {
		s.renderPipelineError(w, err)
		return
	}

	view, err := newComparisonView(cmp)
	if err != nil {
		s.renderPipelineError(w, err)
		return
	}
	s.render(w, http.StatusOK, "comparison.html", view)
}

func (s *Server) handleDocumentDownload(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.Document(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	data, err := doc.Export()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeDownload(w, documentDownloadName, data)
}

func (s *Server) handleComparisonDownload(w http.ResponseWriter, r *http.Request) {
	cmp, err := s.service.Comparison(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	data, err := cmp.Export()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeDownload(w, comparisonDownloadName, data)
}

// readUpload reads a PDF from the multipart file field, or fetches it from
// the URL in urlField when no file was sent.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, fileField, urlField string) (service.Upload, error) {
	if r.MultipartForm == nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
		if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return service.Upload{}, err
		}
	}

	file, header, err := r.FormFile(fileField)
	if err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return service.Upload{}, fmt.Errorf("failed to read %s: %w", fileField, err)
		}
		return service.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}

	if rawURL := r.FormValue(urlField); rawURL != "" {
		return s.service.FetchUpload(r.Context(), rawURL)
	}
	return service.Upload{}, fmt.Errorf("%s: %w", fileField, errMissingUpload)
}

func (s *Server) renderUploadError(w http.ResponseWriter, err error, view indexView) {
	status := statusFor(err)
	if !errors.Is(err, errMissingUpload) {
		view.Error = err.Error()
	}
	s.render(w, status, "index.html", view)
}

func (s *Server) renderPipelineError(w http.ResponseWriter, err error) {
	var respErr *llm.ResponseError
	if errors.As(err, &respErr) {
		s.render(w, statusFor(err), "parse_error.html", parseErrorView{
			Message: parseFailure,
			Raw:     respErr.Raw,
		})
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	s.render(w, status, "index.html", indexView{
		Error:         err.Error(),
		ExtractNotice: extractPrompt,
		CompareNotice: comparePrompt,
	})
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("Failed to render template", zap.String("template", name), zap.Error(err))
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeDownload(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, fetcher.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRemoteDisabled):
		return http.StatusForbidden
	case isResponseError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, extractor.ErrNotPDF), errors.Is(err, errMissingUpload), errors.Is(err, fetcher.ErrNoPDFLink),
		errors.Is(err, fetcher.ErrForbiddenHost):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func isResponseError(err error) bool {
	var respErr *llm.ResponseError
	return errors.As(err, &respErr)
}

func newDocumentView(doc *models.Document) documentView {
	ext := doc.Extraction
	view := documentView{
		ID:       doc.ID,
		Filename: doc.Filename,
		Summary:  "Summary not available.",
	}
	if ext == nil {
		return view
	}

	if ext.HasDocumentType {
		view.Classified = true
		view.Classification = ext.DocumentType
	}
	if ext.IsInvalid() {
		view.Invalid = ext.Invalid
	}
	if ext.Summary != "" {
		view.Summary = ext.Summary
	}
	for _, p := range panelTitles {
		view.Panels = append(view.Panels, panel{Title: p.title, JSON: indent(ext.Panel(p.name))})
	}
	return view
}

func newComparisonView(cmp *models.Comparison) (comparisonView, error) {
	view := comparisonView{
		ID:                cmp.ID,
		AR1Summary:        summaryOr(cmp.AR1, "N/A"),
		NF3Summary:        summaryOr(cmp.NF3, "N/A"),
		ClaimNumbersMatch: cmp.Report.ClaimNumbersMatch,
		AR1ClaimNumber:    orNA(cmp.Report.AR1ClaimNumber),
		NF3ClaimNumber:    orNA(cmp.Report.NF3ClaimNumber),
		AR1TotalBilled:    orNA(cmp.Report.AR1TotalBilled),
		NF3TotalBilled:    orNA(cmp.Report.NF3TotalBilled),
		Matched:           cmp.Report.Matched(),
	}

	extracted, err := json.MarshalIndent(map[string]json.RawMessage{
		"AR1": cmp.AR1.Result,
		"NF3": cmp.NF3.Result,
	}, "", "  ")
	if err != nil {
		return view, err
	}
	view.Extracted = string(extracted)

	for _, m := range cmp.Report.Mismatches {
		b, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return view, err
		}
		view.Mismatches = append(view.Mismatches, string(b))
	}
	return view, nil
}

func summaryOr(doc *models.Document, fallback string) string {
	if doc == nil || doc.Extraction == nil || doc.Extraction.Summary == "" {
		return fallback
	}
	return doc.Extraction.Summary
}

func orNA(v models.Value) string {
	if v.IsNull() {
		return "N/A"
	}
	return v.String()
}

func indent(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
