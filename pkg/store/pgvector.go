package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/claimcheck/internal/models"
	"github.com/xhad/claimcheck/internal/types"
)

type PostgresConfig struct {
	ConnString  string
	VectorDim   int
	SearchLimit int
}

// Postgres persists documents and comparisons. Summary embeddings live in
// a pgvector column for similarity search.
type Postgres struct {
	config PostgresConfig
	pool   *pgxpool.Pool
}

const documentColumns = `id, filename, kind, checksum, content, response, result, created_at`

func NewWithConfig(config PostgresConfig) (*Postgres, error) {
	if config.VectorDim == 0 {
		config.VectorDim = 1536 // Default for OpenAI embeddings
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	p := &Postgres{
		config: config,
		pool:   pool,
	}

	if err := p.initialize(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	return p, nil
}

func (p *Postgres) initialize(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// result is JSON rather than JSONB so downloads keep the model's key order.
	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			kind TEXT NOT NULL,
			checksum TEXT NOT NULL,
			content TEXT,
			response TEXT,
			result JSON,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL
		)`, p.config.VectorDim),
		`CREATE INDEX IF NOT EXISTS documents_checksum_idx ON documents (kind, checksum, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS comparisons (
			id TEXT PRIMARY KEY,
			ar1_id TEXT NOT NULL REFERENCES documents (id),
			nf3_id TEXT NOT NULL REFERENCES documents (id),
			report JSON NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

func (p *Postgres) SaveDocument(ctx context.Context, doc *models.Document) error {
	var embedding interface{}
	if len(doc.Embedding) > 0 {
		embedding = pgvector.NewVector(doc.Embedding)
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, kind, checksum, content, response, result, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			response = EXCLUDED.response,
			result = EXCLUDED.result,
			embedding = EXCLUDED.embedding`,
		doc.ID,
		doc.Filename,
		string(doc.Kind),
		doc.Checksum,
		doc.Text,
		doc.Response,
		string(doc.Result),
		embedding,
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (p *Postgres) FindByChecksum(ctx context.Context, kind models.DocumentKind, checksum string) (*models.Document, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE kind = $1 AND checksum = $2
		ORDER BY created_at DESC
		LIMIT 1`, string(kind), checksum)
	return scanDocument(row)
}

func (p *Postgres) SaveComparison(ctx context.Context, cmp *models.Comparison) error {
	report, err := json.Marshal(cmp.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO comparisons (id, ar1_id, nf3_id, report, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		cmp.ID, cmp.AR1.ID, cmp.NF3.ID, string(report), cmp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert comparison: %w", err)
	}
	return nil
}

func (p *Postgres) GetComparison(ctx context.Context, id string) (*models.Comparison, error) {
	var (
		cmp          = &models.Comparison{ID: id}
		ar1ID, nf3ID string
		report       []byte
	)

	err := p.pool.QueryRow(ctx, `
		SELECT ar1_id, nf3_id, report, created_at
		FROM comparisons WHERE id = $1`, id).
		Scan(&ar1ID, &nf3ID, &report, &cmp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query comparison: %w", err)
	}

	if err := json.Unmarshal(report, &cmp.Report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	if cmp.AR1, err = p.GetDocument(ctx, ar1ID); err != nil {
		return nil, err
	}
	if cmp.NF3, err = p.GetDocument(ctx, nf3ID); err != nil {
		return nil, err
	}
	return cmp, nil
}

func (p *Postgres) Similar(ctx context.Context, id string, limit int) ([]*models.Document, error) {
	if limit == 0 {
		limit = p.config.SearchLimit
	}
	if _, err := p.GetDocument(ctx, id); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT d.id, d.filename, d.kind, d.checksum, d.content, d.response, d.result, d.created_at
		FROM documents d, documents t
		WHERE t.id = $1
			AND d.id <> t.id
			AND d.kind = t.kind
			AND d.embedding IS NOT NULL
			AND t.embedding IS NOT NULL
		ORDER BY d.embedding <=> t.embedding
		LIMIT $2`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read similar documents: %w", err)
	}
	return docs, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var (
		doc       models.Document
		kind      string
		result    []byte
		createdAt time.Time
	)

	err := row.Scan(&doc.ID, &doc.Filename, &kind, &doc.Checksum, &doc.Text, &doc.Response, &result, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.Kind = models.DocumentKind(kind)
	doc.Result = result
	doc.CreatedAt = createdAt
	if len(result) > 0 {
		if doc.Extraction, err = models.DecodeExtraction(result); err != nil {
			return nil, fmt.Errorf("failed to decode stored result: %w", err)
		}
	}
	return &doc, nil
}
