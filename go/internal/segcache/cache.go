package segcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Fetcher resolves a segment key to its bytes at the origin. Keys are stable
// content hashes of the upstream URL, so the bytes behind a key are immutable
// within its expiry window.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, key string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f(ctx, key)
}

// Config controls entry lifetime and sweep cadence.
type Config struct {
	// TTL is how long a resolved entry stays servable. Upstream resource
	// URLs expire and must be re-resolved, not re-served stale.
	TTL time.Duration
	// SweepInterval is how often expired entries are evicted regardless of
	// access patterns.
	SweepInterval time.Duration
}

// DefaultConfig matches the hour-long upstream URL lifetime with a sweep
// every minute.
func DefaultConfig() Config {
	return Config{
		TTL:           time.Hour,
		SweepInterval: time.Minute,
	}
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is a singleflight, expiry-evicted cache for remote segment bytes.
// N concurrent Get calls for one key produce exactly one origin fetch; all
// callers share the result or the failure. A failed fetch clears the key so
// the next caller retries instead of receiving a cached error.
type Cache struct {
	fetcher Fetcher
	clock   clockwork.Clock
	cfg     Config

	group singleflight.Group

	mu       sync.RWMutex
	resolved map[string]entry
}

func New(fetcher Fetcher, clock clockwork.Clock, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Cache{
		fetcher:  fetcher,
		clock:    clock,
		cfg:      cfg,
		resolved: make(map[string]entry),
	}
}

// Get returns the bytes for key, fetching them at most once no matter how
// many callers arrive concurrently.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if data, ok := c.lookup(key); ok {
		return data, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent flight may have landed between the lookup and here.
		if data, ok := c.lookup(key); ok {
			return data, nil
		}
		// The fetch belongs to every waiter on this key, not just the first
		// caller, so the first caller walking away must not cancel it.
		data, err := c.fetcher.Fetch(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, fmt.Errorf("fetch segment %s: %w", key, err)
		}
		c.mu.Lock()
		c.resolved[key] = entry{data: data, expiresAt: c.clock.Now().Add(c.cfg.TTL)}
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) lookup(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.resolved[key]
	if !ok || c.clock.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

// Release evicts key immediately, freeing its bytes once no caller holds a
// reference. An in-flight fetch for the key is unaffected.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	delete(c.resolved, key)
	c.mu.Unlock()
}

// Len reports the number of resolved entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.resolved)
}

// Run sweeps expired entries periodically until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := c.clock.Now()
	c.mu.Lock()
	evicted := 0
	for key, e := range c.resolved {
		if now.After(e.expiresAt) {
			delete(c.resolved, key)
			evicted++
		}
	}
	remaining := len(c.resolved)
	c.mu.Unlock()

	if evicted > 0 {
		log.Debug().
			Int("evicted", evicted).
			Int("remaining", remaining).
			Msg("swept expired segments")
	}
}
