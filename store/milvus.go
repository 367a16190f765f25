package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"

	"docintel/types"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

// Milvus refuses topK above this.
const milvusMaxTopK = 16384

// milvusMaxText is the max_length of the text field, in bytes.
const milvusMaxText = 65535

type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Dimensions int
}

// MilvusIndex stores one row per document key in a COSINE/HNSW collection.
type MilvusIndex struct {
	client     client.Client
	collection string
	dims       int
	logger     *zap.Logger
}

func NewMilvusIndex(ctx context.Context, opts MilvusOptions, logger *zap.Logger) (*MilvusIndex, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "documents"
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("milvus dimensions must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c, err := client.NewClient(ctx, client.Config{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	m := &MilvusIndex{
		client:     c,
		collection: opts.Collection,
		dims:       opts.Dimensions,
		logger:     logger,
	}
	if err := m.ensureCollection(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return m, nil
}

func (m *MilvusIndex) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    "document vectors keyed by upload key",
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": "1024"},
				},
				{
					Name:       "text",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": strconv.Itoa(milvusMaxText)},
				},
				{
					Name:       "vector",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(m.dims)},
				},
			},
		}
		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if err != nil {
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collection, "vector", idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		m.logger.Info("created milvus collection", zap.String("collection", m.collection), zap.Int("dims", m.dims))
	}

	if err := m.client.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (m *MilvusIndex) Upsert(ctx context.Context, id string, vector []float32, text string) error {
	if id == "" {
		return types.InvalidInput(types.StageIndex, "id is empty")
	}
	if err := checkVector(types.StageIndex, vector); err != nil {
		return err
	}
	if len(vector) != m.dims {
		return types.InvalidInput(types.StageIndex, fmt.Sprintf("vector has %d dimensions, index has %d", len(vector), m.dims))
	}

	if len(text) > milvusMaxText {
		m.logger.Warn("document text exceeds milvus field limit, truncating",
			zap.String("key", id), zap.Int("bytes", len(text)), zap.Int("limit", milvusMaxText))
		text = truncateUTF8(text, milvusMaxText)
	}

	_, err := m.client.Upsert(ctx, m.collection, "",
		entity.NewColumnVarChar("id", []string{id}),
		entity.NewColumnVarChar("text", []string{text}),
		entity.NewColumnFloatVector("vector", m.dims, [][]float32{vector}),
	)
	if err != nil {
		return types.Unavailable(types.StageIndex, "milvus upsert "+id, err)
	}
	return nil
}

func (m *MilvusIndex) Search(ctx context.Context, vector []float32, topK int) ([]types.RetrievalHit, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}
	if err := checkVector(types.StageRetrieve, vector); err != nil {
		return nil, err
	}
	if topK > milvusMaxTopK {
		topK = milvusMaxTopK
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, types.Wrap(err, types.KindUnknown, types.StageRetrieve, "build search params")
	}
	results, err := m.client.Search(
		ctx,
		m.collection,
		[]string{},
		"",
		[]string{"text"},
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		topK,
		sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, types.Unavailable(types.StageRetrieve, "milvus search", err)
	}
	if len(results) == 0 {
		return []types.RetrievalHit{}, nil
	}
	if results[0].Err != nil {
		return nil, types.Unavailable(types.StageRetrieve, "milvus search", results[0].Err)
	}
	return hitsFromResult(results[0]), nil
}

// hitsFromResult converts one query's result and fixes the tie order by id.
func hitsFromResult(res client.SearchResult) []types.RetrievalHit {
	hits := []types.RetrievalHit{}
	if res.ResultCount == 0 {
		return hits
	}

	var ids, texts []string
	if col, ok := res.IDs.(*entity.ColumnVarChar); ok {
		ids = col.Data()
	}
	for _, field := range res.Fields {
		if field.Name() != "text" {
			continue
		}
		if col, ok := field.(*entity.ColumnVarChar); ok {
			texts = col.Data()
		}
	}

	for i := 0; i < res.ResultCount && i < len(ids); i++ {
		hit := types.RetrievalHit{ID: ids[i]}
		if i < len(texts) {
			hit.Text = texts[i]
		}
		if i < len(res.Scores) {
			hit.Score = float64(res.Scores[i])
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}

func (m *MilvusIndex) Close() error {
	return m.client.Close()
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
