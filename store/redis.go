package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"docintel/types"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "docintel:"

// RedisStore keeps state records as JSON values that expire after ttl.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) SaveDocument(ctx context.Context, doc *types.DocumentRecord) error {
	return r.put(ctx, "doc:"+doc.Key, doc)
}

func (r *RedisStore) GetDocument(ctx context.Context, key string) (*types.DocumentRecord, error) {
	doc := &types.DocumentRecord{}
	if err := r.get(ctx, "doc:"+key, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *RedisStore) SaveKnowledgeBase(ctx context.Context, job *types.KnowledgeBaseJob) error {
	return r.put(ctx, "kb:"+job.ID, job)
}

func (r *RedisStore) GetKnowledgeBase(ctx context.Context, id string) (*types.KnowledgeBaseJob, error) {
	job := &types.KnowledgeBaseJob{}
	if err := r.get(ctx, "kb:"+id, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *RedisStore) SaveJob(ctx context.Context, job *types.Job) error {
	return r.put(ctx, "job:"+job.ID, job)
}

func (r *RedisStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	job := &types.Job{}
	if err := r.get(ctx, "job:"+id, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *RedisStore) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, keyPrefix+key, data, r.ttl).Err(); err != nil {
		return types.Unavailable(types.StageStorage, "redis set "+key, err)
	}
	return nil
}

func (r *RedisStore) get(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return types.Unavailable(types.StageStorage, "redis get "+key, err)
	}
	return json.Unmarshal(data, v)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
