package store

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/xhad/claimcheck/internal/models"
	"github.com/xhad/claimcheck/internal/types"
)

// Memory keeps documents and comparisons for the life of the process.
type Memory struct {
	mu          sync.RWMutex
	documents   map[string]*models.Document
	comparisons map[string]*models.Comparison
}

func NewMemory() *Memory {
	return &Memory{
		documents:   make(map[string]*models.Document),
		comparisons: make(map[string]*models.Comparison),
	}
}

func (m *Memory) SaveDocument(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = doc
	return nil
}

func (m *Memory) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return doc, nil
}

func (m *Memory) FindByChecksum(ctx context.Context, kind models.DocumentKind, checksum string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *models.Document
	for _, doc := range m.documents {
		if doc.Kind != kind || doc.Checksum != checksum {
			continue
		}
		if found == nil || doc.CreatedAt.After(found.CreatedAt) {
			found = doc
		}
	}
	if found == nil {
		return nil, types.ErrNotFound
	}
	return found, nil
}

func (m *Memory) SaveComparison(ctx context.Context, cmp *models.Comparison) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comparisons[cmp.ID] = cmp
	return nil
}

func (m *Memory) GetComparison(ctx context.Context, id string) (*models.Comparison, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cmp, ok := m.comparisons[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cmp, nil
}

// Similar ranks documents of the same kind by cosine similarity of their
// summary embeddings. Documents without an embedding are skipped.
func (m *Memory) Similar(ctx context.Context, id string, limit int) ([]*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	target, ok := m.documents[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if len(target.Embedding) == 0 {
		return nil, nil
	}

	type scored struct {
		doc   *models.Document
		score float64
	}
	var candidates []scored
	for _, doc := range m.documents {
		if doc.ID == id || doc.Kind != target.Kind || len(doc.Embedding) != len(target.Embedding) {
			continue
		}
		candidates = append(candidates, scored{doc, cosine(target.Embedding, doc.Embedding)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].doc.ID < candidates[j].doc.ID
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	docs := make([]*models.Document, len(candidates))
	for i, c := range candidates {
		docs[i] = c.doc
	}
	return docs, nil
}

func (m *Memory) Close() {}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
