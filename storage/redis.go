package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nubster/egide/interfaces"
	"github.com/redis/go-redis/v9"
)

const redisTxnRetries = 16

// RedisBackend stores keys in Redis under a namespace prefix. Transactions use
// WATCH/MULTI/EXEC and are retried when a watched key changes.
type RedisBackend struct {
	client      redis.UniversalClient
	namespace   string
	log         *slog.Logger
	locationURI string
}

// NewRedisBackend connects to the Redis server at addr (host:port). Every key
// is stored as namespace + key.
func NewRedisBackend(addr, password string, db int, namespace string, log *slog.Logger) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisBackendFromClient(client, namespace, log)
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client redis.UniversalClient, namespace string, log *slog.Logger) *RedisBackend {
	return &RedisBackend{
		client:      client,
		namespace:   namespace,
		log:         log,
		locationURI: fmt.Sprintf("redis://%s", namespace),
	}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return redisGet(ctx, b.client, b.namespace+key)
}

func (b *RedisBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, b.namespace+key, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.namespace+key).Err(); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(b.namespace+prefix) + "*"
	keys := make([]string, 0)
	iter := b.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), b.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Txn watches every key fn reads and commits the writes in one MULTI/EXEC.
func (b *RedisBackend) Txn(ctx context.Context, fn func(tx interfaces.Txn) error) error {
	for attempt := 0; attempt < redisTxnRetries; attempt++ {
		err := b.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := newBufferedTxn(ctx, func(ctx context.Context, key string) ([]byte, error) {
				full := b.namespace + key
				if err := rtx.Watch(ctx, full).Err(); err != nil {
					return nil, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
				}
				return redisGet(ctx, rtx, full)
			})
			if err := fn(tx); err != nil {
				return err
			}

			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, op := range tx.committed() {
					if op.delete {
						pipe.Del(ctx, b.namespace+op.key)
					} else {
						pipe.Set(ctx, b.namespace+op.key, op.value, 0)
					}
				}
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			b.log.Debug("Redis transaction conflict, retrying", slog.Int("attempt", attempt+1))
			continue
		}
		return err
	}
	return interfaces.ErrTxnConflict
}

func (b *RedisBackend) Available(ctx context.Context) bool {
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.log.Debug("Redis backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *RedisBackend) Name() string {
	return "redis"
}

func (b *RedisBackend) LocationURI() string {
	return b.locationURI
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func redisGet(ctx context.Context, c redisGetter, key string) ([]byte, error) {
	value, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}
	return value, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
