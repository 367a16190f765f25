package pipeline

import (
	"context"
	"strings"
	"time"

	"docintel/metrics"
	"docintel/model"
	"docintel/store"
	"docintel/types"

	"go.uber.org/zap"
)

// Indexer embeds a document's text and writes it under the document key.
type Indexer struct {
	embedder model.Embedder
	index    store.Index
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewIndexer(embedder model.Embedder, index store.Index, m *metrics.Metrics, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{embedder: embedder, index: index, metrics: m, logger: logger}
}

// Index upserts one entry for key. Blank text is skipped.
func (i *Indexer) Index(ctx context.Context, key, text string) (err error) {
	if strings.TrimSpace(key) == "" {
		return types.InvalidInput(types.StageIndex, "key is required")
	}
	if strings.TrimSpace(text) == "" {
		i.logger.Warn("no text to index", zap.String("key", key))
		return nil
	}
	start := time.Now()
	defer func() { i.metrics.Observe(string(types.StageIndex), start, err) }()

	vector, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return types.Wrap(err, types.KindUpstreamUnavailable, types.StageEmbed, "embed document")
	}
	if err := i.index.Upsert(ctx, key, vector, text); err != nil {
		return types.Wrap(err, types.KindUpstreamUnavailable, types.StageIndex, "upsert "+key)
	}

	i.logger.Info("document indexed",
		zap.String("key", key),
		zap.Int("dims", len(vector)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Pipeline is the extract-then-index flow behind POST /extract.
type Pipeline struct {
	Extractor *Extractor
	Indexer   *Indexer
}

func (p *Pipeline) ExtractAndIndex(ctx context.Context, ref types.SourceRef) (string, error) {
	text, err := p.Extractor.Extract(ctx, ref)
	if err != nil {
		return "", err
	}
	if err := p.Indexer.Index(ctx, ref.ObjectKey, text); err != nil {
		return "", err
	}
	return text, nil
}
