package pricing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoReferencePrice indicates no SOL price has ever been observed, neither
// from Redis nor a previous successful fetch.
var ErrNoReferencePrice = errors.New("no reference price available")

const solPriceKey = "sol_price"

// RedisConfig represents Redis client configuration for the reference cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisConfigFromEnv constructs a RedisConfig from environment variables.
//
// Recognized variables:
//   - PRICE_REDIS_ADDR (required)
//   - PRICE_REDIS_PASSWORD (optional)
//   - PRICE_REDIS_DB (defaults to 0)
//   - PRICE_REDIS_TTL (parseable duration, defaults to 5m)
func RedisConfigFromEnv() (RedisConfig, error) {
	cfg := RedisConfig{
		Addr:     os.Getenv("PRICE_REDIS_ADDR"),
		Password: os.Getenv("PRICE_REDIS_PASSWORD"),
		TTL:      5 * time.Minute,
	}
	if cfg.Addr == "" {
		return RedisConfig{}, fmt.Errorf("PRICE_REDIS_ADDR is required")
	}
	if rawDB := os.Getenv("PRICE_REDIS_DB"); rawDB != "" {
		parsed, err := strconv.Atoi(rawDB)
		if err != nil {
			return RedisConfig{}, fmt.Errorf("invalid PRICE_REDIS_DB: %w", err)
		}
		cfg.DB = parsed
	}
	if rawTTL := os.Getenv("PRICE_REDIS_TTL"); rawTTL != "" {
		parsed, err := time.ParseDuration(rawTTL)
		if err != nil {
			return RedisConfig{}, fmt.Errorf("invalid PRICE_REDIS_TTL: %w", err)
		}
		cfg.TTL = parsed
	}
	return cfg, nil
}

// RefCache is a Redis-backed reference price source. An external price feed
// writes the current SOL price under sol_price; the cache reads it on demand
// and retains the last-known value so a Redis outage degrades instead of
// stalling the pipeline.
type RefCache struct {
	client *redis.Client
	cfg    RedisConfig
	logger *log.Logger

	mu        sync.RWMutex
	lastKnown float64
	hasValue  bool
}

// NewRefCache creates a reference cache from the provided configuration.
func NewRefCache(cfg RedisConfig, logger *log.Logger) *RefCache {
	if logger == nil {
		logger = log.New(os.Stdout, "refcache ", log.LstdFlags)
	}
	return &RefCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		cfg:    cfg,
		logger: logger,
	}
}

// SolPrice returns the current SOL/USD reference price. Fetch failures fall
// back to the last successfully fetched value.
func (c *RefCache) SolPrice(ctx context.Context) (float64, error) {
	raw, err := c.client.Get(ctx, solPriceKey).Result()
	if err == nil {
		price, perr := strconv.ParseFloat(raw, 64)
		if perr == nil && price > 0 {
			c.mu.Lock()
			c.lastKnown = price
			c.hasValue = true
			c.mu.Unlock()
			return price, nil
		}
		err = fmt.Errorf("malformed sol_price %q: %v", raw, perr)
	}

	c.mu.RLock()
	last, ok := c.lastKnown, c.hasValue
	c.mu.RUnlock()
	if ok {
		c.logger.Printf("sol price fetch failed, using last-known %.4f: %v", last, err)
		return last, nil
	}
	return 0, ErrNoReferencePrice
}

// SetSolPrice writes the reference price. Used by the external feed and by
// tests to seed the cache.
func (c *RefCache) SetSolPrice(ctx context.Context, price float64) error {
	return c.client.Set(ctx, solPriceKey, strconv.FormatFloat(price, 'f', -1, 64), c.cfg.TTL).Err()
}

// Close releases the underlying Redis connection.
func (c *RefCache) Close() error {
	return c.client.Close()
}

// StaticRef is a fixed-price RefSource for tests and offline runs.
type StaticRef float64

// SolPrice returns the fixed price.
func (s StaticRef) SolPrice(context.Context) (float64, error) {
	if s <= 0 {
		return 0, ErrNoReferencePrice
	}
	return float64(s), nil
}
