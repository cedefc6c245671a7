package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/workernode/types"
)

// DefaultRedisKey is the default key holding the persisted queue document.
const DefaultRedisKey = "workernode:scheduler:queue"

// DefaultRedisTimeout is the default per-operation timeout.
const DefaultRedisTimeout = 5 * time.Second

// DefaultRedisRetries is the default retry attempt count on top of the
// initial attempt, matching the teacher's pub/sub adapter's retry count.
const DefaultRedisRetries = 3

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	URL     string
	Key     string
	Timeout time.Duration
	Retries int
}

// RedisStore is an optional Store backend for fleets that run workers
// behind a process supervisor that does not preserve local disk between
// restarts. It stores the exact same JSON document shape FileStore does,
// under a single Redis key, so persist/restore round-trips identically.
type RedisStore struct {
	cfg    RedisStoreConfig
	client *goredis.Client
}

// NewRedisStore creates a RedisStore from the given config.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis scheduler store requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis scheduler store: invalid URL: %w", err)
	}
	if cfg.Key == "" {
		cfg.Key = DefaultRedisKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &RedisStore{cfg: cfg, client: goredis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, used by
// tests against miniredis.
func NewRedisStoreFromClient(client *goredis.Client, cfg RedisStoreConfig) *RedisStore {
	if cfg.Key == "" {
		cfg.Key = DefaultRedisKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisTimeout
	}
	return &RedisStore{cfg: cfg, client: client}
}

// Save writes doc to the configured key, retrying with exponential backoff
// on transient failures.
func (r *RedisStore) Save(doc types.PersistedQueueDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis scheduler store: marshal: %w", err)
	}
	return r.withRetry(func(ctx context.Context) error {
		return r.client.Set(ctx, r.cfg.Key, body, 0).Err()
	})
}

// Load reads the document from the configured key. A missing key is
// treated as an empty, freshly-initialized queue.
func (r *RedisStore) Load() (types.PersistedQueueDocument, error) {
	var body []byte
	err := r.withRetry(func(ctx context.Context) error {
		v, err := r.client.Get(ctx, r.cfg.Key).Bytes()
		if errors.Is(err, goredis.Nil) {
			body = nil
			return nil
		}
		if err != nil {
			return err
		}
		body = v
		return nil
	})
	if err != nil {
		return types.PersistedQueueDocument{}, err
	}
	if body == nil {
		return types.PersistedQueueDocument{Version: 1}, nil
	}

	var doc types.PersistedQueueDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return types.PersistedQueueDocument{}, fmt.Errorf("redis scheduler store: unmarshal: %w", err)
	}
	return doc, nil
}

// Close releases the underlying Redis client.
func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) withRetry(op func(ctx context.Context) error) error {
	var lastErr error
	attempts := 1 + r.cfg.Retries
	for i := range attempts {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * 500 * time.Millisecond)
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		lastErr = op(ctx)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("redis scheduler store: failed after %d attempts: %w", attempts, lastErr)
}

var _ Store = (*RedisStore)(nil)
