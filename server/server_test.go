package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xhad/claimcheck/internal/models"
	"github.com/xhad/claimcheck/internal/types"
	"github.com/xhad/claimcheck/pkg/processor"
	"github.com/xhad/claimcheck/pkg/service"
	"github.com/xhad/claimcheck/pkg/store"
)

type textExtractor struct{}

func (textExtractor) ExtractText(ctx context.Context, r io.ReaderAt, size int64) (string, error) {
	data, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(string(data), "%PDF-1.4\n"), nil
}

// completer answers with the reply registered for the first marker found in
// the document text.
type completer map[string]string

func (c completer) Complete(ctx context.Context, kind models.DocumentKind, text string) (string, error) {
	for marker, reply := range c {
		if strings.Contains(text, marker) {
			return reply, nil
		}
	}
	return "", errors.New("no reply registered")
}

const (
	claimReply = `{
  "document_type": "NF-10 doc",
  "summary": "Denial of claim for physical therapy.",
  "fields": {
    "basic_info": {"Claim Number": "CL-7", "Policy Holder": "J. Doe"},
    "health_services_disputes": [{"Provider": "ABC PT", "Amount": 250}]
  }
}`
	bareReply  = `{"fields": {}}`
	ar1Reply   = `{"document_type": "AR1", "summary": "Arbitration request.", "fields": {"claim_number": "CL-100", "total_billed": 205, "line_items": [{"Date of Service": "01/02/2024", "Procedure Code": "97110", "Amount": 125}, {"Date of Service": "01/03/2024", "Procedure Code": "97140", "Amount": 80}]}}`
	nf3Reply   = `{"document_type": "NF3", "summary": "No-fault bill.", "fields": {"claim_number": "CL-100", "total_billed": 205, "line_items": [{"Date of Service": "01/02/2024", "Procedure Code": "97110", "Amount": 125}, {"Date of Service": "01/03/2024", "Procedure Code": "97140", "Amount": 80.00}]}}`
	nf3Differs = `{"document_type": "NF3", "fields": {"claim_number": "CL-200", "line_items": [{"Date of Service": "01/02/2024", "Procedure Code": "97110", "Amount": 100}]}}`
)

func newTestServer(t *testing.T, replies types.Completer) *Server {
	t.Helper()
	svc := service.New(service.ServiceConfig{}, service.Dependencies{
		Extractor:  textExtractor{},
		Processor:  processor.NewWithConfig(processor.ProcessorConfig{}),
		Completer:  replies,
		Repository: store.NewMemory(),
		Logger:     zap.NewNop(),
	})
	s, err := New(Config{MaxUploadBytes: 1 << 20}, svc, zap.NewNop())
	require.NoError(t, err)
	return s
}

type part struct {
	field    string
	filename string
	body     string
}

func pdfPart(field, text string) part {
	return part{field: field, filename: field + ".pdf", body: "%PDF-1.4\n" + text}
}

func multipartRequest(t *testing.T, target string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, mw.WriteField(p.field, p.body))
			continue
		}
		fw, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(p.body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func parseHTML(t *testing.T, rec *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	return doc
}

func TestIndexAndHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	page := parseHTML(t, rec)
	assert.Equal(t, extractPrompt, page.Find("#extract .info").Text())
	assert.Equal(t, comparePrompt, page.Find("#compare .info").Text())
	assert.Equal(t, 1, page.Find(`input[name="document"]`).Length())

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestExtractPage(t *testing.T) {
	s := newTestServer(t, completer{"NF-10": claimReply})

	rec := serve(s, multipartRequest(t, "/extract", pdfPart("document", "NF-10 denial of claim")))
	require.Equal(t, http.StatusOK, rec.Code)

	page := parseHTML(t, rec)
	assert.Equal(t, "Document Classification: NF-10 doc", page.Find("#classification").Text())
	assert.Equal(t, "Denial of claim for physical therapy.", page.Find("#summary").Text())

	panels := page.Find(".panel")
	require.Equal(t, 6, panels.Length())
	assert.Equal(t, "Basic Case Information", panels.Eq(0).Find("h3").Text())
	assert.Contains(t, panels.Eq(0).Find("pre").Text(), `"Claim Number": "CL-7"`)
	assert.Equal(t, "{}", panels.Eq(1).Find("pre").Text())
	assert.Contains(t, panels.Eq(3).Find("pre").Text(), `"Provider": "ABC PT"`)
	assert.Equal(t, "[]", panels.Eq(4).Find("pre").Text())

	href, ok := page.Find("#download").Attr("href")
	require.True(t, ok)

	rec = serve(s, httptest.NewRequest(http.MethodGet, href, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="nf10_extracted_output.json"`, rec.Header().Get("Content-Disposition"))
	assert.JSONEq(t, claimReply, rec.Body.String())
	body := rec.Body.String()
	assert.Less(t, strings.Index(body, `"document_type"`), strings.Index(body, `"summary"`))
	assert.Less(t, strings.Index(body, `"summary"`), strings.Index(body, `"fields"`))
	assert.Contains(t, body, "\n  \"summary\": ")
}

func TestExtractPageDefaults(t *testing.T) {
	s := newTestServer(t, completer{"NF-10": bareReply})

	rec := serve(s, multipartRequest(t, "/extract", pdfPart("document", "NF-10 form")))
	require.Equal(t, http.StatusOK, rec.Code)

	page := parseHTML(t, rec)
	assert.Equal(t, "Unable to determine document type.", page.Find("#classification").Text())
	assert.Equal(t, "Summary not available.", page.Find("#summary").Text())
}

func TestExtractPageBlankDocumentType(t *testing.T) {
	for name, reply := range map[string]string{
		"empty": `{"document_type": "", "fields": {}}`,
		"null":  `{"document_type": null, "fields": {}}`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t, completer{"NF-10": reply})

			rec := serve(s, multipartRequest(t, "/extract", pdfPart("document", "NF-10 form")))
			require.Equal(t, http.StatusOK, rec.Code)

			page := parseHTML(t, rec)
			classification := page.Find("#classification")
			assert.Equal(t, "Document Classification: ", classification.Text())
			assert.True(t, classification.HasClass("success"))
		})
	}
}

func TestExtractPageParseFailure(t *testing.T) {
	s := newTestServer(t, completer{"NF-10": "Sorry, I can't help with that."})

	rec := serve(s, multipartRequest(t, "/extract", pdfPart("document", "NF-10 form")))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	page := parseHTML(t, rec)
	assert.Equal(t, parseFailure, page.Find("#error").Text())
	assert.Equal(t, "Sorry, I can't help with that.", page.Find("#raw").Text())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.extractions.WithLabelValues("claim", "parse_error")))
}

func TestExtractPageRejectsBadUploads(t *testing.T) {
	s := newTestServer(t, completer{"NF-10": claimReply})

	t.Run("not a pdf", func(t *testing.T) {
		rec := serve(s, multipartRequest(t, "/extract", part{field: "document", filename: "notes.txt", body: "hello"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotEmpty(t, parseHTML(t, rec).Find("#error").Text())
	})

	t.Run("missing file", func(t *testing.T) {
		rec := serve(s, multipartRequest(t, "/extract"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		page := parseHTML(t, rec)
		assert.Equal(t, 0, page.Find("#error").Length())
		assert.Equal(t, extractPrompt, page.Find("#extract .info").Text())
	})

	t.Run("url intake disabled", func(t *testing.T) {
		rec := serve(s, multipartRequest(t, "/extract", part{field: "url", body: "http://127.0.0.1/claims/nf10.pdf"}))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, parseHTML(t, rec).Find("#error").Text(), "remote intake is disabled")
	})

	t.Run("too large", func(t *testing.T) {
		big := pdfPart("document", strings.Repeat("x", 2<<20))
		rec := serve(s, multipartRequest(t, "/extract", big))
		assert.GreaterOrEqual(t, rec.Code, http.StatusBadRequest)
	})
}

func TestComparePage(t *testing.T) {
	t.Run("all items match", func(t *testing.T) {
		s := newTestServer(t, completer{"AR1": ar1Reply, "NF3": nf3Reply})

		rec := serve(s, multipartRequest(t, "/compare", pdfPart("ar1", "AR1 request"), pdfPart("nf3", "NF3 bill")))
		require.Equal(t, http.StatusOK, rec.Code)

		page := parseHTML(t, rec)
		assert.Equal(t, "All billed items match correctly!", page.Find("#result").Text())
		assert.Contains(t, page.Find("#ar1-summary").Text(), "Arbitration request.")
		assert.Contains(t, page.Find("#claim-numbers").Text(), "Claim numbers match: CL-100")
		assert.Equal(t, 0, page.Find(".mismatch").Length())
	})

	t.Run("mismatches", func(t *testing.T) {
		s := newTestServer(t, completer{"AR1": ar1Reply, "NF3": nf3Differs})

		rec := serve(s, multipartRequest(t, "/compare", pdfPart("ar1", "AR1 request"), pdfPart("nf3", "NF3 bill")))
		require.Equal(t, http.StatusOK, rec.Code)

		page := parseHTML(t, rec)
		assert.Equal(t, "Mismatches Found", page.Find("#result").Text())
		assert.Contains(t, page.Find("#nf3-summary").Text(), "N/A")
		assert.Contains(t, page.Find("#claim-numbers").Text(), "Claim numbers differ")

		mismatches := page.Find(".mismatch")
		require.Equal(t, 2, mismatches.Length())
		assert.Contains(t, mismatches.Eq(0).Text(), `"type": "Amount Mismatch"`)
		assert.Contains(t, mismatches.Eq(1).Text(), `"type": "Missing in NF3"`)
		assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.mismatches.WithLabelValues("Amount Mismatch")))

		href, _ := page.Find("#download").Attr("href")
		rec = serve(s, httptest.NewRequest(http.MethodGet, href, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `attachment; filename="ar1_nf3_comparison.json"`, rec.Header().Get("Content-Disposition"))

		var exported map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
		assert.JSONEq(t, ar1Reply, string(exported["AR1"]))
		assert.Contains(t, string(exported["comparison"]), "Missing in NF3")
	})

	t.Run("malformed answer", func(t *testing.T) {
		s := newTestServer(t, completer{"AR1": "not json", "NF3": nf3Reply})

		rec := serve(s, multipartRequest(t, "/compare", pdfPart("ar1", "AR1 request"), pdfPart("nf3", "NF3 bill")))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "not json\n\n"+nf3Reply, parseHTML(t, rec).Find("#raw").Text())
	})

	t.Run("missing nf3", func(t *testing.T) {
		s := newTestServer(t, nil)

		rec := serve(s, multipartRequest(t, "/compare", pdfPart("ar1", "AR1 request")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, comparePrompt, parseHTML(t, rec).Find("#compare .info").Text())
	})
}

func TestDownloadNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/documents/nope/download", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/comparisons/nope/download", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI(t *testing.T) {
	s := newTestServer(t, completer{"NF-10": claimReply, "AR1": ar1Reply, "NF3": nf3Differs})

	rec := serve(s, multipartRequest(t, "/api/extract", pdfPart("document", "NF-10 form")))
	require.Equal(t, http.StatusCreated, rec.Code)

	var doc documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "NF-10 doc", doc.DocumentType)
	assert.Equal(t, "claim", doc.Kind)
	assert.Equal(t, "/documents/"+doc.ID+"/download", doc.DownloadURL)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID+"/similar", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(s, multipartRequest(t, "/api/compare", pdfPart("ar1", "AR1 request"), pdfPart("nf3", "NF3 bill")))
	require.Equal(t, http.StatusCreated, rec.Code)

	var cmp comparisonResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmp))
	assert.False(t, cmp.Matched)
	assert.False(t, cmp.Comparison.ClaimNumbersMatch)
	assert.Len(t, cmp.Comparison.Mismatches, 2)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/comparisons/"+cmp.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/comparisons/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIExtractErrors(t *testing.T) {
	s := newTestServer(t, completer{"NF-10": "{broken"})

	rec := serve(s, multipartRequest(t, "/api/extract?kind=receipt", pdfPart("document", "NF-10 form")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, multipartRequest(t, "/api/extract", pdfPart("document", "NF-10 form")))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, parseFailure, resp.Error)
	assert.Equal(t, "{broken", resp.Raw)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, completer{"NF-10": claimReply})

	serve(s, multipartRequest(t, "/extract", pdfPart("document", "NF-10 form")))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `claimcheck_extractions_total{kind="claim",outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `claimcheck_http_requests_total{code="200",route="extract"} 1`)
}

func TestWebSocket(t *testing.T) {
	s := newTestServer(t, completer{"NF-10": claimReply, "AR1": ar1Reply, "NF3": nf3Reply})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]interface{} {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	require.NoError(t, conn.WriteJSON(request{
		Type:  "extract",
		Files: []wsFile{{Filename: "claim.pdf", Data: []byte("%PDF-1.4\nNF-10 form")}},
	}))
	assert.Equal(t, "status", read()["type"])
	result := read()
	assert.Equal(t, "result", result["type"])
	assert.Equal(t, "NF-10 doc", result["data"].(map[string]interface{})["document_type"])

	require.NoError(t, conn.WriteJSON(request{
		Type: "compare",
		Files: []wsFile{
			{Filename: "ar1.pdf", Data: []byte("%PDF-1.4\nAR1 request")},
			{Filename: "nf3.pdf", Data: []byte("%PDF-1.4\nNF3 bill")},
		},
	}))
	assert.Equal(t, "status", read()["type"])
	result = read()
	assert.Equal(t, "result", result["type"])
	assert.Equal(t, true, result["data"].(map[string]interface{})["matched"])

	require.NoError(t, conn.WriteJSON(request{Type: "compare"}))
	msg := read()
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, comparePrompt, msg["content"])
}

// slowCompleter records how many completions run at once.
type slowCompleter struct {
	completer
	inFlight int32
	peak     int32
}

func (c *slowCompleter) Complete(ctx context.Context, kind models.DocumentKind, text string) (string, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&c.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&c.peak, peak, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return c.completer.Complete(ctx, kind, text)
}

func TestWebSocketHandlesFramesInOrder(t *testing.T) {
	c := &slowCompleter{completer: completer{"NF-10": claimReply}}
	s := newTestServer(t, c)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	frame := request{
		Type:  "extract",
		Files: []wsFile{{Filename: "claim.pdf", Data: []byte("%PDF-1.4\nNF-10 form")}},
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(frame))
	}

	var got []string
	for i := 0; i < 6; i++ {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		got = append(got, msg.Type)
	}
	assert.Equal(t, []string{"status", "result", "status", "result", "status", "result"}, got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&c.peak))
}
