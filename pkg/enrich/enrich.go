// Package enrich provides enrichment providers: external knowledge sources
// that fill columns keyed by a value in the row, fronted by a cache so that
// repeated keys cost one upstream call at most.
package enrich

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sheetforge/sheetforge/pkg/plan"
)

// ErrNotFound means the key has no record anywhere the strategy allowed the
// provider to look. The engine records it as an enrichment miss on the cell.
var ErrNotFound = errors.New("no enrichment record")

// Source is the upstream side of a provider: a raw lookup with no caching.
type Source interface {
	// Fields returns the output fields in a fixed order.
	Fields() []string

	// Fetch resolves one key upstream. ErrNotFound for a known absence.
	Fetch(ctx context.Context, key string) ([]string, error)
}

// Cache stores resolved enrichment records keyed by provider and key.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached values and whether the key was present.
	Get(ctx context.Context, provider, key string) ([]string, bool, error)

	// Put stores values for a key.
	Put(ctx context.Context, provider, key string, values []string) error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string][]string
}

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string][]string)}
}

func cacheKey(provider, key string) string { return provider + "\x00" + key }

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, provider, key string) ([]string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[cacheKey(provider, key)]
	return v, ok, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, provider, key string, values []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[cacheKey(provider, key)] = values
	return nil
}

// Seed preloads one record, bypassing Put's context plumbing. Used at
// startup to load warm data.
func (c *MemoryCache) Seed(provider, key string, values []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[cacheKey(provider, key)] = values
}

// Provider wraps a Source with a Cache and honors the plan's consultation
// strategy. It satisfies the engine's Enricher interface.
type Provider struct {
	name   string
	source Source
	cache  Cache
	flight singleflight.Group
}

// NewProvider builds a cached provider. A nil cache disables caching and
// forces every lookup upstream.
func NewProvider(name string, source Source, cache Cache) *Provider {
	return &Provider{name: name, source: source, cache: cache}
}

// Fields returns the source's output fields.
func (p *Provider) Fields() []string { return p.source.Fields() }

// Lookup resolves one key per the strategy. Cache-first lookups call the
// source exactly once per distinct missing key and store the answer; rows
// that miss the same key concurrently share a single in-flight fetch.
func (p *Provider) Lookup(ctx context.Context, key string, strategy plan.EnrichmentStrategy) ([]string, error) {
	if strategy == "" {
		strategy = plan.StrategyCacheFirst
	}
	if strategy == plan.StrategyAPIOnly {
		return p.source.Fetch(ctx, key)
	}
	if p.cache == nil {
		if strategy == plan.StrategyCacheOnly {
			return nil, ErrNotFound
		}
		return p.source.Fetch(ctx, key)
	}

	values, ok, err := p.cache.Get(ctx, p.name, key)
	if err == nil && ok {
		return values, nil
	}
	if strategy == plan.StrategyCacheOnly {
		return nil, ErrNotFound
	}

	v, err, _ := p.flight.Do(key, func() (any, error) {
		// A concurrent lookup may have filled the cache while this call
		// waited its turn.
		if values, ok, err := p.cache.Get(ctx, p.name, key); err == nil && ok {
			return values, nil
		}
		values, err := p.source.Fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := p.cache.Put(ctx, p.name, key, values); err != nil {
			return values, nil
		}
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}
