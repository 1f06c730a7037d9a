// Package service runs the extraction and comparison pipeline: PDF text,
// model completion, parsing, reconciliation and storage.
package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/claimcheck/internal/models"
	"github.com/xhad/claimcheck/internal/types"
	"github.com/xhad/claimcheck/pkg/extractor"
	"github.com/xhad/claimcheck/pkg/fetcher"
	"github.com/xhad/claimcheck/pkg/llm"
	"github.com/xhad/claimcheck/pkg/processor"
	"github.com/xhad/claimcheck/pkg/reconcile"
)

// ErrRemoteDisabled is returned by FetchUpload when no fetcher is configured.
var ErrRemoteDisabled = errors.New("remote intake is disabled")

// Upload is a file received from a user.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type ServiceConfig struct {
	// Cache reuses a stored extraction when identical bytes are uploaded again.
	Cache          bool
	EmbedSummaries bool
	SimilarLimit   int
}

// Dependencies are the collaborators a Service needs. Embedder and Fetcher
// are optional.
type Dependencies struct {
	Extractor  types.TextExtractor
	Processor  processor.Processor
	Completer  types.Completer
	Embedder   types.Embedder
	Repository types.Repository
	Fetcher    *fetcher.Fetcher
	Logger     *zap.Logger
}

type Service struct {
	config    ServiceConfig
	extractor types.TextExtractor
	processor processor.Processor
	completer types.Completer
	embedder  types.Embedder
	repo      types.Repository
	fetcher   *fetcher.Fetcher
	logger    *zap.Logger
	now       func() time.Time
}

func New(config ServiceConfig, deps Dependencies) *Service {
	if config.SimilarLimit == 0 {
		config.SimilarLimit = 5
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		config:    config,
		extractor: deps.Extractor,
		processor: deps.Processor,
		completer: deps.Completer,
		embedder:  deps.Embedder,
		repo:      deps.Repository,
		fetcher:   deps.Fetcher,
		logger:    logger,
		now:       time.Now,
	}
}

// ExtractDocument classifies an uploaded PDF and extracts its fields. A
// model answer that is not JSON comes back as *llm.ResponseError.
func (s *Service) ExtractDocument(ctx context.Context, up Upload, kind models.DocumentKind) (*models.Document, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown document kind: %q", kind)
	}
	if !extractor.IsPDF(up.Filename, up.ContentType, up.Data) {
		return nil, fmt.Errorf("%s: %w", up.Filename, extractor.ErrNotPDF)
	}

	log := s.logger.With(zap.String("filename", up.Filename), zap.String("kind", string(kind)))
	checksum := checksumOf(up.Data)

	if s.config.Cache {
		cached, err := s.repo.FindByChecksum(ctx, kind, checksum)
		switch {
		case err == nil:
			log.Info("Reusing stored extraction", zap.String("document_id", cached.ID))
			return cached, nil
		case !errors.Is(err, types.ErrNotFound):
			log.Warn("Checksum lookup failed", zap.Error(err))
		}
	}

	rawText, err := s.extractText(ctx, up, log)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text from %s: %w", up.Filename, err)
	}
	text, truncated := s.processor.Prepare(rawText)
	if truncated {
		log.Warn("Document text truncated",
			zap.Int("text_chars", len(rawText)),
			zap.Int("sent_chars", len(text)))
	}
	if text == "" {
		log.Warn("PDF has no text layer")
	}

	start := s.now()
	response, err := s.completer.Complete(ctx, kind, text)
	if err != nil {
		return nil, fmt.Errorf("failed to extract fields from %s: %w", up.Filename, err)
	}
	log.Debug("Model responded",
		zap.Int("text_chars", len(text)),
		zap.Int("response_chars", len(response)),
		zap.Duration("elapsed", s.now().Sub(start)))

	extraction, err := llm.ParseExtraction(response)
	if err != nil {
		log.Warn("Model response is not JSON", zap.Error(err))
		return nil, err
	}

	doc := &models.Document{
		ID:         uuid.NewString(),
		Filename:   up.Filename,
		Kind:       kind,
		Checksum:   checksum,
		Text:       text,
		Response:   response,
		Result:     []byte(response),
		Extraction: extraction,
		CreatedAt:  s.now().UTC(),
	}

	if s.embedder != nil && s.config.EmbedSummaries && extraction.Summary != "" {
		if doc.Embedding, err = s.embedder.Embed(ctx, extraction.Summary); err != nil {
			log.Warn("Failed to embed summary", zap.Error(err))
		}
	}

	if err := s.repo.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}

	log.Info("Document extracted",
		zap.String("document_id", doc.ID),
		zap.String("document_type", extraction.DocumentType))
	return doc, nil
}

// Compare extracts both billing forms concurrently and reconciles their
// line items. When either answer is malformed the returned
// *llm.ResponseError carries both raw answers separated by a blank line.
func (s *Service) Compare(ctx context.Context, ar1, nf3 Upload) (*models.Comparison, error) {
	var (
		uploads  = [2]Upload{ar1, nf3}
		labels   = [2]string{"AR1", "NF3"}
		docs     [2]*models.Document
		respErrs [2]*llm.ResponseError
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range uploads {
		i := i
		g.Go(func() error {
			doc, err := s.ExtractDocument(gctx, uploads[i], models.KindBilling)
			var respErr *llm.ResponseError
			if errors.As(err, &respErr) {
				respErrs[i] = respErr
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", labels[i], err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if respErrs[0] != nil || respErrs[1] != nil {
		return nil, combineResponseErrors(docs, respErrs)
	}

	report, err := reconcile.CompareExtractions(docs[0].Extraction, docs[1].Extraction)
	if err != nil {
		return nil, &llm.ResponseError{
			Raw: docs[0].Response + "\n\n" + docs[1].Response,
			Err: err,
		}
	}

	cmp := &models.Comparison{
		ID:        uuid.NewString(),
		AR1:       docs[0],
		NF3:       docs[1],
		Report:    report,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.SaveComparison(ctx, cmp); err != nil {
		return nil, err
	}

	s.logger.Info("Documents compared",
		zap.String("comparison_id", cmp.ID),
		zap.Int("mismatches", len(report.Mismatches)),
		zap.Bool("claim_numbers_match", report.ClaimNumbersMatch))
	return cmp, nil
}

// pageExtractor is implemented by extractors that can report a page cap.
type pageExtractor interface {
	ExtractPages(ctx context.Context, r io.ReaderAt, size int64) (extractor.Pages, error)
}

func (s *Service) extractText(ctx context.Context, up Upload, log *zap.Logger) (string, error) {
	r := bytes.NewReader(up.Data)
	pe, ok := s.extractor.(pageExtractor)
	if !ok {
		return s.extractor.ExtractText(ctx, r, int64(len(up.Data)))
	}

	pages, err := pe.ExtractPages(ctx, r, int64(len(up.Data)))
	if err != nil {
		return "", err
	}
	if pages.Truncated() {
		log.Warn("Document text truncated",
			zap.Int("pages_read", pages.Read),
			zap.Int("pages_total", pages.Total))
	}
	return pages.Text, nil
}

func combineResponseErrors(docs [2]*models.Document, respErrs [2]*llm.ResponseError) *llm.ResponseError {
	var (
		raws  [2]string
		cause error
	)
	for i := range docs {
		switch {
		case respErrs[i] != nil:
			raws[i] = respErrs[i].Raw
			if cause == nil {
				cause = respErrs[i].Err
			}
		case docs[i] != nil:
			raws[i] = docs[i].Response
		}
	}
	return &llm.ResponseError{Raw: raws[0] + "\n\n" + raws[1], Err: cause}
}

// FetchUpload downloads a PDF from a URL so it can be processed like an upload.
func (s *Service) FetchUpload(ctx context.Context, rawURL string) (Upload, error) {
	if s.fetcher == nil {
		return Upload{}, ErrRemoteDisabled
	}
	remote, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return Upload{}, err
	}
	return Upload{
		Filename:    remote.Filename,
		ContentType: remote.ContentType,
		Data:        remote.Data,
	}, nil
}

func (s *Service) Document(ctx context.Context, id string) (*models.Document, error) {
	return s.repo.GetDocument(ctx, id)
}

func (s *Service) Comparison(ctx context.Context, id string) (*models.Comparison, error) {
	return s.repo.GetComparison(ctx, id)
}

// Similar lists earlier documents whose summaries are closest to id's.
func (s *Service) Similar(ctx context.Context, id string, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = s.config.SimilarLimit
	}
	return s.repo.Similar(ctx, id, limit)
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
