package pricing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenMeta is the cached metadata needed to enrich an observation.
type TokenMeta struct {
	Name   string  `json:"name"`
	Supply float64 `json:"supply"`
}

// MetadataLookup resolves token metadata. A false return means the token is
// unknown and the observation is emitted without name/market-cap enrichment.
type MetadataLookup interface {
	TokenMeta(ctx context.Context, mint string) (TokenMeta, bool)
}

// RedisMetadata reads token metadata written by an external metadata job
// under token_meta:<mint>, with a small in-process cache in front so a hot
// mint does not hit Redis on every swap.
type RedisMetadata struct {
	client *redis.Client
	ttl    time.Duration

	mu    sync.RWMutex
	local map[string]localMeta
}

type localMeta struct {
	meta    TokenMeta
	ok      bool
	expires time.Time
}

const metadataKeyPrefix = "token_meta:"

// NewRedisMetadata creates a metadata lookup sharing the reference cache's
// Redis configuration.
func NewRedisMetadata(cfg RedisConfig) *RedisMetadata {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisMetadata{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:   ttl,
		local: make(map[string]localMeta),
	}
}

// TokenMeta resolves metadata for a mint. Lookup failures are treated as
// unknown tokens; negative results are cached too so missing mints do not
// hammer Redis.
func (m *RedisMetadata) TokenMeta(ctx context.Context, mint string) (TokenMeta, bool) {
	m.mu.RLock()
	cached, ok := m.local[mint]
	m.mu.RUnlock()
	if ok && time.Now().Before(cached.expires) {
		return cached.meta, cached.ok
	}

	meta, found := m.fetch(ctx, mint)

	m.mu.Lock()
	m.local[mint] = localMeta{meta: meta, ok: found, expires: time.Now().Add(m.ttl)}
	m.mu.Unlock()

	return meta, found
}

func (m *RedisMetadata) fetch(ctx context.Context, mint string) (TokenMeta, bool) {
	payload, err := m.client.Get(ctx, metadataKeyPrefix+mint).Result()
	if err != nil {
		return TokenMeta{}, false
	}
	var meta TokenMeta
	if err := json.Unmarshal([]byte(payload), &meta); err != nil {
		return TokenMeta{}, false
	}
	return meta, true
}

// Close releases the underlying Redis connection.
func (m *RedisMetadata) Close() error {
	return m.client.Close()
}

// StaticMetadata is an in-memory MetadataLookup for tests.
type StaticMetadata map[string]TokenMeta

// TokenMeta returns the static entry for the mint.
func (s StaticMetadata) TokenMeta(_ context.Context, mint string) (TokenMeta, bool) {
	meta, ok := s[mint]
	return meta, ok
}
