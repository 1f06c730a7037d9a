package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/xhad/claimcheck/internal/models"
	"github.com/xhad/claimcheck/pkg/llm"
)

type documentResponse struct {
	ID           string          `json:"id"`
	Filename     string          `json:"filename"`
	Kind         string          `json:"kind"`
	DocumentType string          `json:"document_type,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	Result       json.RawMessage `json:"result"`
	DownloadURL  string          `json:"download_url"`
	CreatedAt    time.Time       `json:"created_at"`
}

type comparisonResponse struct {
	ID          string          `json:"id"`
	AR1         json.RawMessage `json:"AR1"`
	NF3         json.RawMessage `json:"NF3"`
	Comparison  models.Report   `json:"comparison"`
	Matched     bool            `json:"matched"`
	DownloadURL string          `json:"download_url"`
	CreatedAt   time.Time       `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
	Raw   string `json:"raw,omitempty"`
}

func newDocumentResponse(doc *models.Document) documentResponse {
	resp := documentResponse{
		ID:          doc.ID,
		Filename:    doc.Filename,
		Kind:        string(doc.Kind),
		Result:      doc.Result,
		DownloadURL: "/documents/" + doc.ID + "/download",
		CreatedAt:   doc.CreatedAt,
	}
	if doc.Extraction != nil {
		resp.DocumentType = doc.Extraction.DocumentType
		resp.Summary = doc.Extraction.Summary
	}
	return resp
}

func newComparisonResponse(cmp *models.Comparison) comparisonResponse {
	return comparisonResponse{
		ID:          cmp.ID,
		AR1:         cmp.AR1.Result,
		NF3:         cmp.NF3.Result,
		Comparison:  cmp.Report,
		Matched:     cmp.Report.Matched(),
		DownloadURL: "/comparisons/" + cmp.ID + "/download",
		CreatedAt:   cmp.CreatedAt,
	}
}

func newErrorResponse(err error) errorResponse {
	var respErr *llm.ResponseError
	if errors.As(err, &respErr) {
		return errorResponse{Error: parseFailure, Raw: respErr.Raw}
	}
	return errorResponse{Error: err.Error()}
}

func (s *Server) handleAPIExtract(w http.ResponseWriter, r *http.Request) {
	kind := models.DocumentKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = models.KindClaim
	}
	if !kind.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "kind must be claim or billing"})
		return
	}

	up, err := s.readUpload(w, r, "document", "url")
	if err != nil {
		writeJSON(w, statusFor(err), newErrorResponse(err))
		return
	}

	doc, err := s.service.ExtractDocument(r.Context(), up, kind)
	s.metrics.RecordExtraction(kind, err)
	if err != nil {
		writeJSON(w, statusFor(err), newErrorResponse(err))
		return
	}
	writeJSON(w, http.StatusCreated, newDocumentResponse(doc))
}

func (s *Server) handleAPICompare(w http.ResponseWriter, r *http.Request) {
	ar1, err := s.readUpload(w, r, "ar1", "ar1_url")
	if err != nil {
		writeJSON(w, statusFor(err), newErrorResponse(err))
		return
	}
	nf3, err := s.readUpload(w, r, "nf3", "nf3_url")
	if err != nil {
		writeJSON(w, statusFor(err), newErrorResponse(err))
		return
	}

	cmp, err := s.service.Compare(r.Context(), ar1, nf3)
	s.metrics.RecordComparison(cmp, err)
	if err != nil {
		writeJSON(w, statusFor(err), newErrorResponse(err))
		return
	}
	writeJSON(w, http.StatusCreated, newComparisonResponse(cmp))
}

func (s *Server) handleAPIDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.Document(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, statusFor(err), newErrorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, newDocumentResponse(doc))
}

func (s *Server) handleAPISimilar(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	docs, err := s.service.Similar(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeJSON(w, statusFor(err), newErrorResponse(err))
		return
	}

	resp := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, newDocumentResponse(doc))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIComparison(w http.ResponseWriter, r *http.Request) {
	cmp, err := s.service.Comparison(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, statusFor(err), newErrorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, newComparisonResponse(cmp))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
