package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docintel/metrics"
	"docintel/objstore"
	"docintel/ocr"
	"docintel/poll"
	"docintel/store"
	"docintel/types"

	"go.uber.org/zap"
)

// Extractor runs one OCR job per call: submit, poll, collect.
type Extractor struct {
	engine    ocr.Engine
	policy    poll.Policy
	records   store.DocumentStore
	artifacts objstore.Storage
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

type ExtractorOption func(*Extractor)

// WithRecords tracks a DocumentRecord per extraction.
func WithRecords(s store.DocumentStore) ExtractorOption {
	return func(e *Extractor) { e.records = s }
}

// WithTextArtifact writes the extracted text next to the source as <key>.txt.
func WithTextArtifact(s objstore.Storage) ExtractorOption {
	return func(e *Extractor) { e.artifacts = s }
}

func WithExtractorMetrics(m *metrics.Metrics) ExtractorOption {
	return func(e *Extractor) { e.metrics = m }
}

func WithExtractorLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewExtractor(engine ocr.Engine, policy poll.Policy, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		engine: engine,
		policy: policy,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) Extract(ctx context.Context, ref types.SourceRef) (text string, err error) {
	if strings.TrimSpace(ref.Container) == "" || strings.TrimSpace(ref.ObjectKey) == "" {
		return "", types.InvalidInput(types.StageExtract, "bucket and key are required")
	}
	start := time.Now()
	log := e.logger.With(zap.String("bucket", ref.Container), zap.String("key", ref.ObjectKey))
	defer func() { e.metrics.Observe(string(types.StageExtract), start, err) }()

	record, err := e.begin(ctx, ref)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			e.finish(ctx, record, types.DocumentFailed, nil, log)
		}
	}()

	jobID, err := e.engine.StartJob(ctx, ref.Container, ref.ObjectKey)
	if err != nil {
		return "", types.Wrap(err, types.KindUpstreamUnavailable, types.StageExtract, "start text detection")
	}
	log = log.With(zap.String("job_id", jobID))
	log.Info("text detection started")

	var last *ocr.JobResult
	attempts, err := poll.Until(ctx, types.StageExtract, e.policy, func(ctx context.Context) (poll.State, error) {
		res, err := e.engine.JobStatus(ctx, jobID)
		if err != nil {
			return poll.Pending, err
		}
		last = res
		switch res.Status {
		case ocr.StatusSucceeded:
			return poll.Ready, nil
		case ocr.StatusFailed:
			return poll.Failed, nil
		}
		return poll.Pending, nil
	})
	e.metrics.PollAttempts("ocr", attempts)
	if err != nil {
		if types.KindOf(err) == types.KindUpstreamJobFailed && last != nil && last.Message != "" {
			err = types.JobFailed(types.StageExtract, fmt.Sprintf("text detection job %s failed: %s", jobID, last.Message), nil)
		}
		log.Error("text detection failed", zap.Int("attempt", attempts), zap.Error(err))
		return "", types.Wrap(err, types.KindUpstreamUnavailable, types.StageExtract, "poll text detection")
	}

	text = CollectLines(last.Blocks)
	log.Info("text detection finished",
		zap.Int("attempt", attempts),
		zap.Int("chars", len(text)),
		zap.Duration("duration", time.Since(start)))

	if e.artifacts != nil && text != "" {
		key := ref.ObjectKey + ".txt"
		if err := e.artifacts.Put(ctx, ref.Container, key, []byte(text), "text/plain; charset=utf-8"); err != nil {
			return "", types.Wrap(err, types.KindUpstreamUnavailable, types.StageStorage, "store text artifact")
		}
		log.Debug("text artifact stored", zap.String("artifact", key))
	}

	e.finish(ctx, record, types.DocumentExtracted, &text, log)
	return text, nil
}

// CollectLines keeps LINE blocks with non-blank text, trimmed, in delivery order.
func CollectLines(blocks []ocr.Block) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type != ocr.BlockLine {
			continue
		}
		line := strings.TrimSpace(b.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (e *Extractor) begin(ctx context.Context, ref types.SourceRef) (*types.DocumentRecord, error) {
	if e.records == nil {
		return nil, nil
	}
	now := e.now().UTC()
	record := &types.DocumentRecord{
		Key:       ref.ObjectKey,
		SourceRef: ref,
		Status:    types.DocumentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev, err := e.records.GetDocument(ctx, ref.ObjectKey); err == nil {
		record.CreatedAt = prev.CreatedAt
	}
	if err := e.records.SaveDocument(ctx, record); err != nil {
		return nil, types.Wrap(err, types.KindUpstreamUnavailable, types.StageStorage, "save document record")
	}
	return record, nil
}

func (e *Extractor) finish(ctx context.Context, record *types.DocumentRecord, status types.DocumentStatus, text *string, log *zap.Logger) {
	if record == nil || record.Status != types.DocumentPending {
		return
	}
	record.Status = status
	record.ExtractedText = text
	record.UpdatedAt = e.now().UTC()
	if err := e.records.SaveDocument(context.WithoutCancel(ctx), record); err != nil {
		log.Error("failed to update document record", zap.String("status", string(status)), zap.Error(err))
	}
}
