package pipeline

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"docintel/kb"
	"docintel/metrics"
	"docintel/objstore"
	"docintel/poll"
	"docintel/store"
	"docintel/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// KnowledgeBaseIngester uploads a stored document to the agent platform,
// waits for it to be indexed there and attaches it to the configured agent.
type KnowledgeBaseIngester struct {
	storage  objstore.Storage
	platform kb.Platform
	agentID  string
	policy   poll.Policy
	records  store.KnowledgeBaseStore
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	newName  func(key string) string

	// linkMu serializes the agent's read-modify-write of its knowledge bases.
	linkMu sync.Mutex
}

type IngesterOptions struct {
	AgentID string
	Policy  poll.Policy
	Records store.KnowledgeBaseStore
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func NewKnowledgeBaseIngester(storage objstore.Storage, platform kb.Platform, opts IngesterOptions) *KnowledgeBaseIngester {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeBaseIngester{
		storage:  storage,
		platform: platform,
		agentID:  opts.AgentID,
		policy:   opts.Policy,
		records:  opts.Records,
		metrics:  opts.Metrics,
		logger:   logger,
		now:      time.Now,
		newName:  knowledgeBaseName,
	}
}

// knowledgeBaseName keeps the file's base name readable and unique per upload.
func knowledgeBaseName(key string) string {
	base := strings.TrimSuffix(path.Base(key), path.Ext(key))
	return base + "-" + uuid.NewString()[:8]
}

func (k *KnowledgeBaseIngester) Ingest(ctx context.Context, ref types.SourceRef) (id string, err error) {
	if strings.TrimSpace(ref.Container) == "" || strings.TrimSpace(ref.ObjectKey) == "" {
		return "", types.InvalidInput(types.StageKnowledgeBase, "bucket and key are required")
	}
	start := time.Now()
	defer func() { k.metrics.Observe(string(types.StageKnowledgeBase), start, err) }()
	log := k.logger.With(zap.String("bucket", ref.Container), zap.String("key", ref.ObjectKey))

	data, err := k.storage.Get(ctx, ref.Container, ref.ObjectKey)
	if err != nil {
		return "", types.Wrap(err, types.KindUpstreamUnavailable, types.StageStorage, "fetch document")
	}

	name := k.newName(ref.ObjectKey)
	id, err = k.platform.CreateKnowledgeBase(ctx, name, path.Base(ref.ObjectKey), data)
	if err != nil {
		return "", types.Wrap(err, types.KindUpstreamUnavailable, types.StageKnowledgeBase, "create knowledge base")
	}
	log = log.With(zap.String("kb_id", id))

	now := k.now().UTC()
	job := &types.KnowledgeBaseJob{
		ID:        id,
		Name:      name,
		SourceRef: ref,
		Status:    types.KnowledgeBasePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	k.save(ctx, job, log)

	attempts, err := poll.Until(ctx, types.StageKnowledgeBase, k.policy, func(ctx context.Context) (poll.State, error) {
		base, err := k.platform.GetKnowledgeBase(ctx, id)
		if err != nil {
			return poll.Pending, err
		}
		switch base.State() {
		case types.KnowledgeBaseReady:
			return poll.Ready, nil
		case types.KnowledgeBaseFailed:
			return poll.Failed, nil
		}
		log.Debug("waiting for knowledge base", zap.String("status", base.Status))
		return poll.Pending, nil
	})
	k.metrics.PollAttempts("knowledge_base", attempts)
	if err != nil {
		if types.KindOf(err) == types.KindUpstreamJobFailed {
			job.Status = types.KnowledgeBaseFailed
			k.save(ctx, job, log)
		}
		log.Error("knowledge base did not become ready", zap.Int("attempt", attempts), zap.Error(err))
		return "", types.Wrap(err, types.KindUpstreamUnavailable, types.StageKnowledgeBase, "poll knowledge base")
	}

	job.Status = types.KnowledgeBaseReady
	if err := k.link(ctx, id, log); err != nil {
		k.save(ctx, job, log)
		return "", err
	}
	if k.agentID != "" {
		agent := k.agentID
		job.LinkedAgentID = &agent
	}
	k.save(ctx, job, log)

	log.Info("knowledge base ready", zap.Int("attempt", attempts), zap.Duration("duration", time.Since(start)))
	return id, nil
}

// link adds id to the agent's knowledge bases, keeping the ones already attached.
func (k *KnowledgeBaseIngester) link(ctx context.Context, id string, log *zap.Logger) error {
	if k.agentID == "" {
		log.Warn("no agent configured, knowledge base left unlinked")
		return nil
	}
	k.linkMu.Lock()
	defer k.linkMu.Unlock()

	current, err := k.platform.AgentKnowledgeBases(ctx, k.agentID)
	if err != nil {
		return types.Wrap(err, types.KindUpstreamUnavailable, types.StageKnowledgeBase, "read agent knowledge bases")
	}

	ids := make([]string, 0, len(current)+1)
	for _, existing := range current {
		if existing == id {
			log.Info("knowledge base already linked", zap.String("agent_id", k.agentID))
			return nil
		}
		ids = append(ids, existing)
	}
	ids = append(ids, id)

	if err := k.platform.UpdateAgentKnowledgeBases(ctx, k.agentID, ids); err != nil {
		return types.Wrap(err, types.KindUpstreamUnavailable, types.StageKnowledgeBase, "link knowledge base")
	}
	log.Info("knowledge base linked", zap.String("agent_id", k.agentID), zap.Int("linked", len(ids)))
	return nil
}

func (k *KnowledgeBaseIngester) save(ctx context.Context, job *types.KnowledgeBaseJob, log *zap.Logger) {
	if k.records == nil {
		return
	}
	job.UpdatedAt = k.now().UTC()
	if err := k.records.SaveKnowledgeBase(context.WithoutCancel(ctx), job); err != nil {
		log.Error("failed to save knowledge base job", zap.String("status", string(job.Status)), zap.Error(err))
	}
}
