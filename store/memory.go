package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"docintel/types"
)

type memEntry struct {
	seq    int
	vector []float32
	text   string
}

// MemoryIndex is an exact cosine index. Equal scores keep first-insert order.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	dims    int
	seq     int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]*memEntry)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, id string, vector []float32, text string) error {
	if id == "" {
		return types.InvalidInput(types.StageIndex, "id is empty")
	}
	if err := checkVector(types.StageIndex, vector); err != nil {
		return err
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dims != 0 && len(vec) != m.dims {
		return types.InvalidInput(types.StageIndex, fmt.Sprintf("vector has %d dimensions, index has %d", len(vec), m.dims))
	}
	m.dims = len(vec)

	if e, ok := m.entries[id]; ok {
		e.vector = vec
		e.text = text
		return nil
	}
	m.seq++
	m.entries[id] = &memEntry{seq: m.seq, vector: vec, text: text}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, vector []float32, topK int) ([]types.RetrievalHit, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}
	if err := checkVector(types.StageRetrieve, vector); err != nil {
		return nil, err
	}

	m.mu.RLock()
	type scored struct {
		hit types.RetrievalHit
		seq int
	}
	all := make([]scored, 0, len(m.entries))
	for id, e := range m.entries {
		all = append(all, scored{
			hit: types.RetrievalHit{ID: id, Score: cosine(vector, e.vector), Text: e.text},
			seq: e.seq,
		})
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].hit.Score != all[j].hit.Score {
			return all[i].hit.Score > all[j].hit.Score
		}
		return all[i].seq < all[j].seq
	})

	if topK > len(all) {
		topK = len(all)
	}
	hits := make([]types.RetrievalHit, topK)
	for i := range hits {
		hits[i] = all[i].hit
	}
	return hits, nil
}

// Len reports the number of entries.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// MemoryStore is the in-process StateStore.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]types.DocumentRecord
	kbs  map[string]types.KnowledgeBaseJob
	jobs map[string]types.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]types.DocumentRecord),
		kbs:  make(map[string]types.KnowledgeBaseJob),
		jobs: make(map[string]types.Job),
	}
}

func (m *MemoryStore) SaveDocument(ctx context.Context, doc *types.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	if doc.ExtractedText != nil {
		text := *doc.ExtractedText
		cp.ExtractedText = &text
	}
	m.docs[doc.Key] = cp
	return nil
}

func (m *MemoryStore) GetDocument(ctx context.Context, key string) (*types.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (m *MemoryStore) SaveKnowledgeBase(ctx context.Context, job *types.KnowledgeBaseJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kbs[job.ID] = *job
	return nil
}

func (m *MemoryStore) GetKnowledgeBase(ctx context.Context, id string) (*types.KnowledgeBaseJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.kbs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (m *MemoryStore) SaveJob(ctx context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	if job.Result != nil {
		cp.Result = make(map[string]string, len(job.Result))
		for k, v := range job.Result {
			cp.Result[k] = v
		}
	}
	m.jobs[job.ID] = cp
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}
