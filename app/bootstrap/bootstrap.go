// Package bootstrap wires configuration into concrete clients. Every
// dependency is built here and passed down explicitly.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"docintel/config"
	"docintel/kb"
	"docintel/loader"
	"docintel/metrics"
	"docintel/objstore"
	"docintel/ocr"
	"docintel/pipeline"
	"docintel/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Storage  objstore.Storage
	State    store.StateStore
	Pipeline *pipeline.Pipeline
	Answerer *pipeline.Answerer
	Ingester *pipeline.KnowledgeBaseIngester
	Runner   *loader.Runner

	pg      *store.PostgresStore
	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	if cfg.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.Metrics = metrics.New(a.Registry)
	}

	files, err := objstore.NewMinioStore(objstore.Options{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
	}, a.Logger.Named("storage"))
	if err != nil {
		return err
	}
	a.Storage = files

	state, err := a.stateStore(ctx)
	if err != nil {
		return err
	}
	a.State = state

	index, err := a.index(ctx)
	if err != nil {
		return err
	}

	engine, err := ocr.NewTextractEngine(ctx, ocr.Options{
		Region:            cfg.OCR.Region,
		AccessKey:         cfg.OCR.AccessKey,
		SecretKey:         cfg.OCR.SecretKey,
		RequestsPerSecond: cfg.OCR.RequestsPerSecond,
	}, a.Logger.Named("ocr"))
	if err != nil {
		return err
	}

	embedder, err := a.embedder(ctx)
	if err != nil {
		return err
	}
	completer, tokens, err := a.completer(ctx)
	if err != nil {
		return err
	}

	opts := []pipeline.ExtractorOption{
		pipeline.WithRecords(state),
		pipeline.WithExtractorMetrics(a.Metrics),
		pipeline.WithExtractorLogger(a.Logger.Named("extract")),
	}
	if cfg.Storage.PersistText {
		opts = append(opts, pipeline.WithTextArtifact(files))
	}
	a.Pipeline = &pipeline.Pipeline{
		Extractor: pipeline.NewExtractor(engine, cfg.OCR.Poll.Policy(), opts...),
		Indexer:   pipeline.NewIndexer(embedder, index, a.Metrics, a.Logger.Named("index")),
	}

	answerOpts := pipeline.AnswerOptions{
		TopK:             cfg.Answer.TopK,
		MaxContextTokens: cfg.Answer.MaxContextTokens,
		Grounding:        &pipeline.GroundingChecker{MinOverlap: cfg.Answer.MinGroundingOverlap},
		Metrics:          a.Metrics,
		Logger:           a.Logger.Named("answer"),
	}
	if tokens != nil {
		answerOpts.Tokens = tokens
	}
	a.Answerer = pipeline.NewAnswerer(embedder, index, completer, answerOpts)

	if cfg.KB.LLMID == "" {
		a.Logger.Warn("kb.llm_id not set, ingested knowledge bases will not be linked")
	}
	a.Ingester = pipeline.NewKnowledgeBaseIngester(files, kb.NewRetellClient(cfg.KB.BaseURL, cfg.KB.APIKey, a.Logger.Named("kb")), pipeline.IngesterOptions{
		AgentID: cfg.KB.LLMID,
		Policy:  cfg.KB.Poll.Policy(),
		Records: state,
		Metrics: a.Metrics,
		Logger:  a.Logger.Named("ingest"),
	})

	a.Runner = loader.NewRunner(state, cfg.Jobs.Workers, cfg.Jobs.QueueSize, a.Logger.Named("jobs"))
	return nil
}

func (a *App) stateStore(ctx context.Context) (store.StateStore, error) {
	cfg := a.Config
	switch cfg.Jobs.Provider {
	case "redis":
		r, err := store.NewRedisStore(ctx, cfg.Jobs.RedisAddr, cfg.Jobs.RedisPassword, cfg.Jobs.RedisDB, cfg.Jobs.TTL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	case "postgres":
		return a.postgres(ctx)
	default:
		return store.NewMemoryStore(), nil
	}
}

func (a *App) index(ctx context.Context) (store.Index, error) {
	cfg := a.Config
	switch cfg.Index.Provider {
	case "milvus":
		m, err := store.NewMilvusIndex(ctx, store.MilvusOptions{
			Address:    cfg.Index.Milvus.Address,
			Username:   cfg.Index.Milvus.Username,
			Password:   cfg.Index.Milvus.Password,
			Collection: cfg.Index.Milvus.Collection,
			Dimensions: cfg.Index.Dimensions,
		}, a.Logger.Named("milvus"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, m.Close)
		return m, nil
	case "memory":
		a.Logger.Warn("using in-memory vector index, entries are lost on restart")
		return store.NewMemoryIndex(), nil
	default:
		return a.postgres(ctx)
	}
}

// postgres opens one pool shared by the index and the state store.
func (a *App) postgres(ctx context.Context) (*store.PostgresStore, error) {
	if a.pg != nil {
		return a.pg, nil
	}
	if a.Config.Index.PgDSN == "" {
		return nil, errors.New("index.pg_dsn is required for postgres storage")
	}
	pg, err := store.NewPostgresStore(ctx, a.Config.Index.PgDSN, a.Config.Index.Dimensions, a.Logger.Named("postgres"))
	if err != nil {
		return nil, err
	}
	if err := pg.Init(ctx); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	a.pg = pg
	a.closers = append(a.closers, pg.Close)
	return pg, nil
}
