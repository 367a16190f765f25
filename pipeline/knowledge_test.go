package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docintel/kb"
	"docintel/objstore"
	"docintel/poll"
	"docintel/store"
	"docintel/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var deck = types.SourceRef{Container: "ai-cfo-docs", ObjectKey: "uploads/board-deck.pdf"}

func newIngester(t *testing.T, platform kb.Platform, agentID string, w *waits) (*KnowledgeBaseIngester, *store.MemoryStore) {
	t.Helper()
	files := objstore.NewMemoryStore()
	require.NoError(t, files.Put(context.Background(), deck.Container, deck.ObjectKey, []byte("%PDF-1.7"), "application/pdf"))
	records := store.NewMemoryStore()
	ing := NewKnowledgeBaseIngester(files, platform, IngesterOptions{
		AgentID: agentID,
		Policy:  poll.Policy{Interval: 5 * time.Second, MaxInterval: 30 * time.Second, Multiplier: 1.5, Wait: w.wait},
		Records: records,
	})
	ing.newName = func(string) string { return "board-deck-test" }
	return ing, records
}

func TestIngest(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("CreateKnowledgeBase", mock.Anything, "board-deck-test", "board-deck.pdf", []byte("%PDF-1.7")).Return("kb_new", nil).Once()
	platform.On("GetKnowledgeBase", mock.Anything, "kb_new").Return(&kb.KnowledgeBase{ID: "kb_new", Status: "in_progress"}, nil).Twice()
	platform.On("GetKnowledgeBase", mock.Anything, "kb_new").Return(&kb.KnowledgeBase{ID: "kb_new", Status: "complete"}, nil).Once()
	platform.On("AgentKnowledgeBases", mock.Anything, "llm_1").Return([]string{"kb_old"}, nil).Once()
	platform.On("UpdateAgentKnowledgeBases", mock.Anything, "llm_1", []string{"kb_old", "kb_new"}).Return(nil).Once()

	w := &waits{}
	ing, records := newIngester(t, platform, "llm_1", w)

	id, err := ing.Ingest(context.Background(), deck)
	require.NoError(t, err)
	assert.Equal(t, "kb_new", id)
	assert.Equal(t, []time.Duration{5 * time.Second, 7500 * time.Millisecond}, w.delays)
	platform.AssertExpectations(t)

	job, err := records.GetKnowledgeBase(context.Background(), "kb_new")
	require.NoError(t, err)
	assert.Equal(t, types.KnowledgeBaseReady, job.Status)
	require.NotNil(t, job.LinkedAgentID)
	assert.Equal(t, "llm_1", *job.LinkedAgentID)
	assert.Equal(t, deck, job.SourceRef)
}

func TestIngestFailed(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("CreateKnowledgeBase", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("kb_bad", nil)
	platform.On("GetKnowledgeBase", mock.Anything, "kb_bad").Return(&kb.KnowledgeBase{ID: "kb_bad", Status: "in_progress"}, nil).Once()
	platform.On("GetKnowledgeBase", mock.Anything, "kb_bad").Return(&kb.KnowledgeBase{ID: "kb_bad", Status: "error"}, nil).Once()

	ing, records := newIngester(t, platform, "llm_1", &waits{})
	_, err := ing.Ingest(context.Background(), deck)

	assert.ErrorIs(t, err, types.ErrUpstreamJobFailed)
	assert.Equal(t, types.StageKnowledgeBase, types.StageOf(err))
	platform.AssertNotCalled(t, "AgentKnowledgeBases", mock.Anything, mock.Anything)
	platform.AssertNotCalled(t, "UpdateAgentKnowledgeBases", mock.Anything, mock.Anything, mock.Anything)

	job, err := records.GetKnowledgeBase(context.Background(), "kb_bad")
	require.NoError(t, err)
	assert.Equal(t, types.KnowledgeBaseFailed, job.Status)
}

func TestIngestTimeoutLeavesPending(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("CreateKnowledgeBase", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("kb_slow", nil)
	platform.On("GetKnowledgeBase", mock.Anything, "kb_slow").Return(&kb.KnowledgeBase{ID: "kb_slow", Status: "in_progress"}, nil)

	ing, records := newIngester(t, platform, "llm_1", &waits{})
	ing.policy.MaxAttempts = 4

	_, err := ing.Ingest(context.Background(), deck)
	assert.ErrorIs(t, err, types.ErrTimedOut)
	platform.AssertNumberOfCalls(t, "GetKnowledgeBase", 4)

	job, err := records.GetKnowledgeBase(context.Background(), "kb_slow")
	require.NoError(t, err)
	assert.Equal(t, types.KnowledgeBasePending, job.Status)
}

func TestIngestAlreadyLinked(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("CreateKnowledgeBase", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("kb_new", nil)
	platform.On("GetKnowledgeBase", mock.Anything, "kb_new").Return(&kb.KnowledgeBase{ID: "kb_new", Status: "ready"}, nil)
	platform.On("AgentKnowledgeBases", mock.Anything, "llm_1").Return([]string{"kb_new"}, nil)

	ing, _ := newIngester(t, platform, "llm_1", &waits{})
	_, err := ing.Ingest(context.Background(), deck)
	require.NoError(t, err)
	platform.AssertNotCalled(t, "UpdateAgentKnowledgeBases", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestWithoutAgent(t *testing.T) {
	platform := &mockPlatform{}
	platform.On("CreateKnowledgeBase", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("kb_new", nil)
	platform.On("GetKnowledgeBase", mock.Anything, "kb_new").Return(&kb.KnowledgeBase{ID: "kb_new", Status: "ready"}, nil)

	ing, records := newIngester(t, platform, "", &waits{})
	_, err := ing.Ingest(context.Background(), deck)
	require.NoError(t, err)
	platform.AssertNotCalled(t, "AgentKnowledgeBases", mock.Anything, mock.Anything)

	job, err := records.GetKnowledgeBase(context.Background(), "kb_new")
	require.NoError(t, err)
	assert.Nil(t, job.LinkedAgentID)
}

func TestIngestMissingObject(t *testing.T) {
	platform := &mockPlatform{}
	ing, _ := newIngester(t, platform, "llm_1", &waits{})

	_, err := ing.Ingest(context.Background(), types.SourceRef{Container: deck.Container, ObjectKey: "missing.pdf"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	platform.AssertNotCalled(t, "CreateKnowledgeBase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// agentPlatform keeps one agent's knowledge bases and yields between the read
// and the write of a link so concurrent ingests interleave.
type agentPlatform struct {
	mu     sync.Mutex
	linked []string
	next   atomic.Int32
}

func (p *agentPlatform) CreateKnowledgeBase(ctx context.Context, name, filename string, file []byte) (string, error) {
	return fmt.Sprintf("kb_%d", p.next.Add(1)), nil
}

func (p *agentPlatform) GetKnowledgeBase(ctx context.Context, id string) (*kb.KnowledgeBase, error) {
	return &kb.KnowledgeBase{ID: id, Status: "complete"}, nil
}

func (p *agentPlatform) AgentKnowledgeBases(ctx context.Context, agentID string) ([]string, error) {
	p.mu.Lock()
	ids := append([]string(nil), p.linked...)
	p.mu.Unlock()
	time.Sleep(2 * time.Millisecond)
	return ids, nil
}

func (p *agentPlatform) UpdateAgentKnowledgeBases(ctx context.Context, agentID string, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.linked = append([]string(nil), ids...)
	return nil
}

func TestIngestConcurrentKeepsEveryLink(t *testing.T) {
	platform := &agentPlatform{linked: []string{"kb_old"}}
	ing, _ := newIngester(t, platform, "llm_1", &waits{})
	ing.policy.Wait = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ing.Ingest(context.Background(), deck)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	want := []string{"kb_old"}
	for i := 1; i <= n; i++ {
		want = append(want, fmt.Sprintf("kb_%d", i))
	}
	assert.ElementsMatch(t, want, platform.linked)
}

func TestIngestAgentMisconfiguredIsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/create-knowledge-base":
			fmt.Fprint(w, `{"knowledge_base_id":"kb_new","status":"in_progress"}`)
		case strings.HasPrefix(r.URL.Path, "/get-knowledge-base/"):
			fmt.Fprint(w, `{"knowledge_base_id":"kb_new","status":"complete"}`)
		default:
			http.Error(w, `{"message":"llm not found"}`, http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ing, _ := newIngester(t, kb.NewRetellClient(srv.URL, "key", nil), "llm_missing", &waits{})
	_, err := ing.Ingest(context.Background(), deck)

	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, types.ErrInvalidInput)
	assert.Equal(t, types.StageKnowledgeBase, types.StageOf(err))
}

func TestKnowledgeBaseName(t *testing.T) {
	name := knowledgeBaseName("uploads/1718000000000-board-deck.pdf")
	assert.Regexp(t, `^1718000000000-board-deck-[0-9a-f]{8}$`, name)
}
