package vaultcache

import (
	"container/list"
	"sync"

	"github.com/cipherbox/vaultfs/pkg/secret"
)

// MaxContentCacheSize is the memory budget for cached decrypted file
// content (256 MiB).
const MaxContentCacheSize = 256 * 1024 * 1024

type contentEntry struct {
	cid     string
	data    *secret.Bytes
	size    int
	element *list.Element
}

// ContentCache is an LRU cache of decrypted file content keyed by CID.
// Content is plaintext and never touches disk; evicted and cleared
// entries are zeroized rather than just dropped.
type ContentCache struct {
	mu          sync.Mutex
	entries     map[string]*contentEntry
	lru         *list.List // front = most recently used
	currentSize int
}

// NewContentCache creates an empty content cache.
func NewContentCache() *ContentCache {
	return &ContentCache{
		entries: make(map[string]*contentEntry),
		lru:     list.New(),
	}
}

// Get returns a copy of the cached content for cid and marks it most
// recently used. The second return value reports whether it was present.
func (c *ContentCache) Get(cid string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cid]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(entry.element)
	data := entry.data.Bytes()
	if data == nil {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Set stores decrypted content for cid, evicting least-recently-used
// entries until the cache is back within budget. A single item larger
// than the whole budget is still cached; it will be the first thing
// evicted on the next insertion.
func (c *ContentCache) Set(cid string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[cid]; ok {
		c.lru.Remove(old.element)
		old.data.Zero()
		c.currentSize -= old.size
		delete(c.entries, cid)
	}

	size := len(data)
	for c.currentSize+size > MaxContentCacheSize && c.lru.Len() > 0 {
		c.evictLRU()
	}

	owned := make([]byte, size)
	copy(owned, data)
	element := c.lru.PushFront(cid)
	c.entries[cid] = &contentEntry{cid: cid, data: secret.New(owned), size: size, element: element}
	c.currentSize += size
}

func (c *ContentCache) evictLRU() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	cid := oldest.Value.(string)
	entry := c.entries[cid]
	c.lru.Remove(oldest)
	entry.data.Zero()
	c.currentSize -= entry.size
	delete(c.entries, cid)
}

// CurrentSize returns the total size in bytes of cached content.
func (c *ContentCache) CurrentSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Clear removes and zeroizes all cached content, used on unmount for
// defense-in-depth cleanup.
func (c *ContentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		entry.data.Zero()
	}
	c.entries = make(map[string]*contentEntry)
	c.lru = list.New()
	c.currentSize = 0
}
