package airtable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisStore is the shared tier used when several instances run. Values
// are msgpack-encoded; each table keeps a set of its keys so a refresh can
// drop them together.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a tier storing keys under prefix for ttl.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "parlance:airtable:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) dataKey(key string) string    { return r.prefix + "data:" + key }
func (r *RedisStore) indexKey(table string) string { return r.prefix + "index:" + table }

func (r *RedisStore) Get(ctx context.Context, key string) ([]Record, bool, error) {
	raw, err := r.client.Get(ctx, r.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var records []Record
	if err := msgpack.Unmarshal(raw, &records); err != nil {
		return nil, false, fmt.Errorf("decode cached records: %w", err)
	}
	return records, true, nil
}

func (r *RedisStore) Set(ctx context.Context, table, key string, records []Record) error {
	raw, err := msgpack.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	index := r.indexKey(table)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.dataKey(key), raw, r.ttl)
		p.SAdd(ctx, index, key)
		p.Expire(ctx, index, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) InvalidateTable(ctx context.Context, table string) error {
	index := r.indexKey(table)
	keys, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}

	del := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		del = append(del, r.dataKey(k))
	}
	del = append(del, index)

	if err := r.client.Del(ctx, del...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
