package store

import (
	"context"
	"errors"
	"math"

	"docintel/types"
)

// ErrNotFound is returned by state lookups for unknown ids.
var ErrNotFound = errors.New("not found")

// Index is the vector index. Scores are cosine similarity, higher is closer,
// and Upsert on an existing id replaces the entry.
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32, text string) error
	Search(ctx context.Context, vector []float32, topK int) ([]types.RetrievalHit, error)
}

type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *types.DocumentRecord) error
	GetDocument(ctx context.Context, key string) (*types.DocumentRecord, error)
}

type KnowledgeBaseStore interface {
	SaveKnowledgeBase(ctx context.Context, job *types.KnowledgeBaseJob) error
	GetKnowledgeBase(ctx context.Context, id string) (*types.KnowledgeBaseJob, error)
}

type JobStore interface {
	SaveJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
}

// StateStore persists the pipeline records that outlive one request.
type StateStore interface {
	DocumentStore
	KnowledgeBaseStore
	JobStore
}

func checkTopK(topK int) error {
	if topK <= 0 {
		return types.InvalidInput(types.StageRetrieve, "topK must be a positive integer")
	}
	return nil
}

func checkVector(stage types.Stage, vector []float32) error {
	if len(vector) == 0 {
		return types.InvalidInput(stage, "vector is empty")
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
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
