package types

import (
	"context"
	"errors"
	"io"

	"github.com/xhad/claimcheck/internal/models"
)

// ErrNotFound is returned by repositories for unknown IDs.
var ErrNotFound = errors.New("not found")

// Core interfaces
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.ReaderAt, size int64) (string, error)
}

type Completer interface {
	Complete(ctx context.Context, kind models.DocumentKind, text string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Repository interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	FindByChecksum(ctx context.Context, kind models.DocumentKind, checksum string) (*models.Document, error)
	SaveComparison(ctx context.Context, cmp *models.Comparison) error
	GetComparison(ctx context.Context, id string) (*models.Comparison, error)
	Similar(ctx context.Context, id string, limit int) ([]*models.Document, error)
	Close()
}
