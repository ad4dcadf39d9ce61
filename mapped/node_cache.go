package mapped

import lru "github.com/hashicorp/golang-lru"

// NodeCache caches nodes loaded from a region, so that trees sharing
// subtrees also share the decoded nodes. It is keyed by store and address,
// which never change meaning in an append-only region, so one cache can be
// shared by any number of stores.
type NodeCache interface {
	// Add adds a node known by address to the cache.
	Add(key, value interface{})
	// Get retrieves the node with the given key, if cached.
	Get(key interface{}) (value interface{}, ok bool)
}

// DefaultNodeCacheSize is the number of nodes a store caches unless
// WithNodeCache says otherwise.
const DefaultNodeCacheSize = 4096

// NewNodeCache creates a new ARC-based node cache of the given size.
func NewNodeCache(size int) NodeCache {
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}
	return cache
}

type cacheKey struct {
	store *Store
	addr  uint64
}
