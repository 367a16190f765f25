package pipeline

import (
	"context"
	"time"

	"docintel/kb"
	"docintel/ocr"
	"docintel/types"

	"github.com/stretchr/testify/mock"
)

type mockEngine struct{ mock.Mock }

func (m *mockEngine) StartJob(ctx context.Context, container, key string) (string, error) {
	args := m.Called(ctx, container, key)
	return args.String(0), args.Error(1)
}

func (m *mockEngine) JobStatus(ctx context.Context, jobID string) (*ocr.JobResult, error) {
	args := m.Called(ctx, jobID)
	res, _ := args.Get(0).(*ocr.JobResult)
	return res, args.Error(1)
}

type mockEmbedder struct{ mock.Mock }

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	vec, _ := args.Get(0).([]float32)
	return vec, args.Error(1)
}

type mockIndex struct{ mock.Mock }

func (m *mockIndex) Upsert(ctx context.Context, id string, vector []float32, text string) error {
	return m.Called(ctx, id, vector, text).Error(0)
}

func (m *mockIndex) Search(ctx context.Context, vector []float32, topK int) ([]types.RetrievalHit, error) {
	args := m.Called(ctx, vector, topK)
	hits, _ := args.Get(0).([]types.RetrievalHit)
	return hits, args.Error(1)
}

type mockCompleter struct{ mock.Mock }

func (m *mockCompleter) Complete(ctx context.Context, system, contextBlock, question string) (string, error) {
	args := m.Called(ctx, system, contextBlock, question)
	return args.String(0), args.Error(1)
}

type mockPlatform struct{ mock.Mock }

func (m *mockPlatform) CreateKnowledgeBase(ctx context.Context, name, filename string, file []byte) (string, error) {
	args := m.Called(ctx, name, filename, file)
	return args.String(0), args.Error(1)
}

func (m *mockPlatform) GetKnowledgeBase(ctx context.Context, id string) (*kb.KnowledgeBase, error) {
	args := m.Called(ctx, id)
	base, _ := args.Get(0).(*kb.KnowledgeBase)
	return base, args.Error(1)
}

func (m *mockPlatform) AgentKnowledgeBases(ctx context.Context, agentID string) ([]string, error) {
	args := m.Called(ctx, agentID)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockPlatform) UpdateAgentKnowledgeBases(ctx context.Context, agentID string, ids []string) error {
	return m.Called(ctx, agentID, ids).Error(0)
}

// waits records poll delays without sleeping.
type waits struct{ delays []time.Duration }

func (w *waits) wait(ctx context.Context, d time.Duration) error {
	w.delays = append(w.delays, d)
	return ctx.Err()
}
