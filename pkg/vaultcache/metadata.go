// Package vaultcache holds the two in-memory caches the mount keeps: a
// short-TTL folder-manifest cache and a size-bounded LRU cache of
// decrypted file content. Both are rebuilt from scratch on mount; neither
// is ever persisted to disk.
package vaultcache

import (
	"sync"
	"time"

	"github.com/cipherbox/vaultfs/pkg/manifest"
)

// MetadataTTL is how long a cached folder manifest is considered fresh,
// matching the 30s background sync polling interval.
const MetadataTTL = 30 * time.Second

// CachedMetadata is a folder manifest plus the CID it was fetched from.
type CachedMetadata struct {
	Metadata  *manifest.FolderMetadata
	CID       string
	fetchedAt time.Time
}

// MetadataCache caches decrypted folder manifests keyed by IPNS name.
// Entries older than MetadataTTL are reported as misses by Get but are
// left in place until overwritten or explicitly invalidated.
type MetadataCache struct {
	mu      sync.RWMutex
	entries map[string]*CachedMetadata
}

// NewMetadataCache creates an empty metadata cache.
func NewMetadataCache() *MetadataCache {
	return &MetadataCache{entries: make(map[string]*CachedMetadata)}
}

// Get returns the cached manifest for ipnsName if present and still
// within MetadataTTL.
func (c *MetadataCache) Get(ipnsName string) (*CachedMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[ipnsName]
	if !ok || time.Since(entry.fetchedAt) >= MetadataTTL {
		return nil, false
	}
	return entry, true
}

// Set stores (or replaces) the cached manifest for ipnsName.
func (c *MetadataCache) Set(ipnsName string, metadata *manifest.FolderMetadata, cid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ipnsName] = &CachedMetadata{Metadata: metadata, CID: cid, fetchedAt: time.Now()}
}

// Invalidate removes a single entry, used after a publish that is known
// to have changed the manifest.
func (c *MetadataCache) Invalidate(ipnsName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ipnsName)
}

// Clear removes all entries, used on unmount.
func (c *MetadataCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CachedMetadata)
}
