package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"docintel/app/agent"
	"docintel/metrics"
	"docintel/model"
	"docintel/store"
	"docintel/types"

	"go.uber.org/zap"
)

const DefaultTopK = 5

// InsufficientInformation is returned in place of a model answer when nothing
// relevant was retrieved.
const InsufficientInformation = "There is insufficient information in the provided documents to answer this question."

const SystemPrompt = `You are an AI CFO assistant answering questions about the user's financial documents.
Answer ONLY from the context passages supplied with the question. Each passage is labeled with its rank and retrieval score.
If the context does not contain the information needed, reply exactly: "` + InsufficientInformation + `"
Never invent numbers or facts that do not appear in the context. Do not add introductions.`

// TokenCounter measures prompt size against the context budget.
type TokenCounter interface {
	Count(text string) int
}

type AnswerOptions struct {
	TopK             int
	MaxContextTokens int
	Tokens           TokenCounter
	Grounding        *GroundingChecker
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
}

type Answerer struct {
	embedder  model.Embedder
	index     store.Index
	completer agent.Completer
	opts      AnswerOptions
	logger    *zap.Logger
}

func NewAnswerer(embedder model.Embedder, index store.Index, completer agent.Completer, opts AnswerOptions) *Answerer {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Answerer{
		embedder:  embedder,
		index:     index,
		completer: completer,
		opts:      opts,
		logger:    logger,
	}
}

func (a *Answerer) Answer(ctx context.Context, question string) (ans *types.Answer, err error) {
	if strings.TrimSpace(question) == "" {
		return nil, types.InvalidInput("", "question must not be empty")
	}
	start := time.Now()
	defer func() { a.opts.Metrics.Observe("answer", start, err) }()

	vector, err := a.embedder.Embed(ctx, question)
	if err != nil {
		return nil, types.Wrap(err, types.KindUpstreamUnavailable, types.StageEmbed, "embed question")
	}

	hits, err := a.index.Search(ctx, vector, a.opts.TopK)
	if err != nil {
		return nil, types.Wrap(err, types.KindUpstreamUnavailable, types.StageRetrieve, "search index")
	}
	if len(hits) == 0 {
		a.logger.Info("no evidence for question", zap.Int("top_k", a.opts.TopK))
		return nil, types.NoEvidence(types.StageRetrieve, "no indexed context matches the question")
	}

	hits = a.fitBudget(rankHits(hits))
	contextBlock := BuildContext(hits)

	text, err := a.completer.Complete(ctx, SystemPrompt, contextBlock, question)
	if err != nil {
		return nil, types.Wrap(err, types.KindUpstreamUnavailable, types.StageComplete, "complete answer")
	}

	ans = &types.Answer{Text: text, Sources: hits, Grounded: true, Overlap: 1}
	if a.opts.Grounding != nil {
		report := a.opts.Grounding.Check(text, hits)
		ans.Grounded = report.Grounded
		ans.Overlap = report.Overlap
		if !report.Grounded {
			a.opts.Metrics.Ungrounded()
			a.logger.Warn("answer not grounded in retrieved context",
				zap.Float64("overlap", report.Overlap),
				zap.Float64("threshold", a.opts.Grounding.MinOverlap),
				zap.Strings("unsupported", report.Unsupported))
		}
	}

	a.logger.Info("question answered",
		zap.Int("hits", len(hits)),
		zap.Bool("grounded", ans.Grounded),
		zap.Duration("duration", time.Since(start)))
	return ans, nil
}

// fitBudget drops the lowest ranked hits until the context block fits
// MaxContextTokens. The best hit is always kept.
func (a *Answerer) fitBudget(hits []types.RetrievalHit) []types.RetrievalHit {
	if a.opts.Tokens == nil || a.opts.MaxContextTokens <= 0 {
		return hits
	}
	for n := len(hits); n > 1; n-- {
		if a.opts.Tokens.Count(BuildContext(hits[:n])) <= a.opts.MaxContextTokens {
			return hits[:n]
		}
		a.logger.Debug("context over token budget, dropping hit", zap.String("id", hits[n-1].ID))
	}
	return hits[:1]
}

// BuildContext renders hits best-first, each under a rank and score label.
func BuildContext(hits []types.RetrievalHit) string {
	ranked := rankHits(hits)
	parts := make([]string, len(ranked))
	for i, h := range ranked {
		parts[i] = fmt.Sprintf("---\n(%d) score=%.3f\n%s", i+1, h.Score, h.Text)
	}
	return strings.Join(parts, "\n")
}

func rankHits(hits []types.RetrievalHit) []types.RetrievalHit {
	ranked := make([]types.RetrievalHit, len(hits))
	copy(ranked, hits)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
