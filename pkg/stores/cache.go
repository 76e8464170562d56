package stores

import "context"

// EnrichmentCache adapts a Store to the enrichment cache interface, giving
// enrichment lookups durability across process restarts.
type EnrichmentCache struct {
	Store Store
}

// Get returns the cached values and whether the key was present.
func (c EnrichmentCache) Get(ctx context.Context, provider, key string) ([]string, bool, error) {
	return c.Store.CacheGet(ctx, provider, key)
}

// Put stores values for a key.
func (c EnrichmentCache) Put(ctx context.Context, provider, key string, values []string) error {
	return c.Store.CachePut(ctx, provider, key, values)
}
