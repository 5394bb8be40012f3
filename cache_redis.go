package breakwater

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisStore is a Store backed by redis, for sharing cached responses across
// processes. Entries are encoded with msgpack. Redis failures degrade to
// cache misses; the pipeline must keep working when the cache backend is
// down.
type RedisStore struct {
	rdb       goredis.UniversalClient
	keyPrefix string
	opTimeout time.Duration
	logger    Logger
}

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	// Client is the redis client to use. Required.
	Client goredis.UniversalClient

	// KeyPrefix namespaces this store's keys. Default "breakwater:".
	KeyPrefix string

	// OpTimeout bounds each redis operation. Default 250ms.
	OpTimeout time.Duration

	// Logger receives backend failures. Default NopLogger.
	Logger Logger
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, newPluginError("cache", ErrorTypeValidation, "", "redis store: nil client", nil, nil)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "breakwater:"
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger{}
	}
	return &RedisStore{
		rdb:       cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		opTimeout: cfg.OpTimeout,
		logger:    cfg.Logger,
	}, nil
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

// Get fetches and decodes the entry for key. Backend errors and undecodable
// payloads are treated as misses.
func (s *RedisStore) Get(key string) (*Entry, bool) {
	ctx, cancel := s.ctx()
	defer cancel()

	b, err := s.rdb.Get(ctx, s.keyPrefix+key).Bytes()
	if err == goredis.Nil {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("redis cache get failed", "key", key, "error", err)
		return nil, false
	}

	var entry Entry
	if err := msgpack.Unmarshal(b, &entry); err != nil {
		s.logger.Warn("redis cache entry undecodable, dropping", "key", key, "error", err)
		s.Delete(key)
		return nil, false
	}
	return &entry, true
}

// Set encodes and stores the entry; redis expiry doubles as the outer
// retention bound.
func (s *RedisStore) Set(key string, entry *Entry, ttl time.Duration) {
	b, err := msgpack.Marshal(entry)
	if err != nil {
		s.logger.Warn("redis cache encode failed", "key", key, "error", err)
		return
	}
	if ttl <= 0 {
		ttl = entry.TTL
	}

	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Set(ctx, s.keyPrefix+key, b, ttl).Err(); err != nil {
		s.logger.Warn("redis cache set failed", "key", key, "error", err)
	}
}

// Delete removes the entry for key.
func (s *RedisStore) Delete(key string) {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		s.logger.Warn("redis cache delete failed", "key", key, "error", err)
	}
}

// Clear removes every entry under this store's prefix.
func (s *RedisStore) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	iter := s.rdb.Scan(ctx, 0, s.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			s.logger.Warn("redis cache clear failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("redis cache scan failed", "error", err)
	}
}
