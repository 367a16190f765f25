package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docintel/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// PostgresStore is both the pgvector Index and the StateStore.
type PostgresStore struct {
	pool   *pgxpool.Pool
	dims   int
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, dims int, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PostgresStore{
		pool:   pool,
		dims:   dims,
		logger: logger,
	}, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, id string, vector []float32, text string) error {
	if id == "" {
		return types.InvalidInput(types.StageIndex, "id is empty")
	}
	if err := checkVector(types.StageIndex, vector); err != nil {
		return err
	}
	if p.dims > 0 && len(vector) != p.dims {
		return types.InvalidInput(types.StageIndex, fmt.Sprintf("vector has %d dimensions, index has %d", len(vector), p.dims))
	}

	query := `
	INSERT INTO index_entries (id, embedding, text, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET
		embedding = EXCLUDED.embedding,
		text = EXCLUDED.text,
		updated_at = EXCLUDED.updated_at
	`
	_, err := p.pool.Exec(ctx, query, id, pgvector.NewVector(vector), text, time.Now().UTC())
	if err != nil {
		return types.Unavailable(types.StageIndex, "upsert "+id, err)
	}
	return nil
}

// Search ranks by cosine distance, ties broken by id.
func (p *PostgresStore) Search(ctx context.Context, vector []float32, topK int) ([]types.RetrievalHit, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}
	if err := checkVector(types.StageRetrieve, vector); err != nil {
		return nil, err
	}

	query := `
		SELECT id, text, 1-(embedding <=> $1) AS score
		FROM index_entries
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1, id
		LIMIT $2
	`
	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, types.Unavailable(types.StageRetrieve, "vector search", err)
	}
	defer rows.Close()

	hits := []types.RetrievalHit{}
	for rows.Next() {
		var hit types.RetrievalHit
		if err := rows.Scan(&hit.ID, &hit.Text, &hit.Score); err != nil {
			return nil, types.Unavailable(types.StageRetrieve, "scan hit", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Unavailable(types.StageRetrieve, "vector search", err)
	}
	p.logger.Debug("vector search", zap.Int("top_k", topK), zap.Int("hits", len(hits)))
	return hits, nil
}

func (p *PostgresStore) SaveDocument(ctx context.Context, doc *types.DocumentRecord) error {
	query := `INSERT INTO documents (key, bucket, object_key, extracted_text, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			bucket = EXCLUDED.bucket,
			object_key = EXCLUDED.object_key,
			extracted_text = EXCLUDED.extracted_text,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
			`
	_, err := p.pool.Exec(ctx, query,
		doc.Key,
		doc.SourceRef.Container,
		doc.SourceRef.ObjectKey,
		doc.ExtractedText,
		string(doc.Status),
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return types.Unavailable(types.StageStorage, "save document "+doc.Key, err)
	}
	return nil
}

func (p *PostgresStore) GetDocument(ctx context.Context, key string) (*types.DocumentRecord, error) {
	doc := &types.DocumentRecord{}
	var status string
	err := p.pool.QueryRow(ctx,
		`SELECT key, bucket, object_key, extracted_text, status, created_at, updated_at FROM documents WHERE key = $1`, key,
	).Scan(&doc.Key, &doc.SourceRef.Container, &doc.SourceRef.ObjectKey, &doc.ExtractedText, &status, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get document "+key)
	}
	doc.Status = types.DocumentStatus(status)
	return doc, nil
}

func (p *PostgresStore) SaveKnowledgeBase(ctx context.Context, job *types.KnowledgeBaseJob) error {
	query := `INSERT INTO knowledge_bases (id, name, bucket, object_key, status, linked_agent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			linked_agent_id = EXCLUDED.linked_agent_id,
			updated_at = EXCLUDED.updated_at
			`
	_, err := p.pool.Exec(ctx, query,
		job.ID,
		job.Name,
		job.SourceRef.Container,
		job.SourceRef.ObjectKey,
		string(job.Status),
		job.LinkedAgentID,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return types.Unavailable(types.StageStorage, "save knowledge base "+job.ID, err)
	}
	return nil
}

func (p *PostgresStore) GetKnowledgeBase(ctx context.Context, id string) (*types.KnowledgeBaseJob, error) {
	job := &types.KnowledgeBaseJob{}
	var status string
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, bucket, object_key, status, linked_agent_id, created_at, updated_at FROM knowledge_bases WHERE id = $1`, id,
	).Scan(&job.ID, &job.Name, &job.SourceRef.Container, &job.SourceRef.ObjectKey, &status, &job.LinkedAgentID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get knowledge base "+id)
	}
	job.Status = types.KnowledgeBaseStatus(status)
	return job, nil
}

func (p *PostgresStore) SaveJob(ctx context.Context, job *types.Job) error {
	query := `INSERT INTO jobs (id, kind, status, bucket, object_key, result, error, error_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			error_code = EXCLUDED.error_code,
			updated_at = EXCLUDED.updated_at
			`
	result := job.Result
	if result == nil {
		result = map[string]string{}
	}
	_, err := p.pool.Exec(ctx, query,
		job.ID,
		string(job.Kind),
		string(job.Status),
		job.SourceRef.Container,
		job.SourceRef.ObjectKey,
		result,
		job.Error,
		job.ErrorCode,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return types.Unavailable(types.StageJobs, "save job "+job.ID, err)
	}
	return nil
}

func (p *PostgresStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	job := &types.Job{}
	var kind, status string
	err := p.pool.QueryRow(ctx,
		`SELECT id, kind, status, bucket, object_key, result, error, error_code, created_at, updated_at FROM jobs WHERE id = $1`, id,
	).Scan(&job.ID, &kind, &status, &job.SourceRef.Container, &job.SourceRef.ObjectKey, &job.Result, &job.Error, &job.ErrorCode, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get job "+id)
	}
	job.Kind = types.JobKind(kind)
	job.Status = types.JobStatus(status)
	return job, nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return types.Unavailable(types.StageStorage, msg, err)
}

func (p *PostgresStore) createTables(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		bucket TEXT NOT NULL,
		object_key TEXT NOT NULL,
		extracted_text TEXT,
		status TEXT NOT NULL CHECK (status IN ('pending','extracted','failed')),
		created_at TIMESTAMP WITH TIME ZONE,
		updated_at TIMESTAMP WITH TIME ZONE
	);

	CREATE TABLE IF NOT EXISTS index_entries (
		id TEXT PRIMARY KEY,
		embedding vector(%d),
		text TEXT NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_index_entries_embedding ON index_entries USING hnsw (embedding vector_cosine_ops);

	CREATE TABLE IF NOT EXISTS knowledge_bases (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		bucket TEXT NOT NULL,
		object_key TEXT NOT NULL,
		status TEXT NOT NULL,
		linked_agent_id TEXT,
		created_at TIMESTAMP WITH TIME ZONE,
		updated_at TIMESTAMP WITH TIME ZONE
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		bucket TEXT NOT NULL,
		object_key TEXT NOT NULL,
		result JSONB NOT NULL DEFAULT '{}'::jsonb,
		error TEXT NOT NULL DEFAULT '',
		error_code TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE,
		updated_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`, p.dims)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	if p.dims <= 0 {
		return fmt.Errorf("index dimensions must be set, got %d", p.dims)
	}
	return p.createTables(ctx)
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}
