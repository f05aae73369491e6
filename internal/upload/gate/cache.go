package gate

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// listingCacheSize caps how many (backend, folder) listings are held.
const listingCacheSize = 64

// folderListing is one cached remote listing: file name to remote id.
type folderListing struct {
	mu    sync.RWMutex
	files map[string]string
}

func (l *folderListing) lookup(name string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.files[name]
	return id, ok
}

func (l *folderListing) insert(name, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files[name] = id
}

// listingCache caches remote folder listings per (backend, folder) with a
// TTL. Invalidation is TTL-only; files uploaded during a run are inserted
// into the cached listing so decisions within the run stay correct even
// while the entry is stale relative to the backend.
type listingCache struct {
	lru *expirable.LRU[string, *folderListing]
}

func newListingCache(ttl time.Duration) *listingCache {
	return &listingCache{
		lru: expirable.NewLRU[string, *folderListing](listingCacheSize, nil, ttl),
	}
}

func cacheKey(backend, folder string) string {
	return backend + "|" + folder
}

func (c *listingCache) get(backend, folder string) (*folderListing, bool) {
	return c.lru.Get(cacheKey(backend, folder))
}

func (c *listingCache) put(backend, folder string, files map[string]string) *folderListing {
	l := &folderListing{files: files}
	c.lru.Add(cacheKey(backend, folder), l)
	return l
}
