package vaultcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cipherbox/vaultfs/pkg/manifest"
)

func TestMetadataCacheSetAndGet(t *testing.T) {
	cache := NewMetadataCache()
	cache.Set("k51test", &manifest.FolderMetadata{Version: "v2"}, "bafytest")

	entry, ok := cache.Get("k51test")
	require.True(t, ok)
	require.Equal(t, "bafytest", entry.CID)
}

func TestMetadataCacheMiss(t *testing.T) {
	cache := NewMetadataCache()
	_, ok := cache.Get("nonexistent")
	require.False(t, ok)
}

func TestMetadataCacheInvalidate(t *testing.T) {
	cache := NewMetadataCache()
	cache.Set("k51test", &manifest.FolderMetadata{Version: "v2"}, "bafytest")
	cache.Invalidate("k51test")
	_, ok := cache.Get("k51test")
	require.False(t, ok)
}

func TestMetadataCacheExpiresAfterTTL(t *testing.T) {
	cache := NewMetadataCache()
	cache.entries["k51test"] = &CachedMetadata{
		Metadata:  &manifest.FolderMetadata{Version: "v2"},
		CID:       "bafytest",
		fetchedAt: time.Now().Add(-MetadataTTL - time.Second),
	}
	_, ok := cache.Get("k51test")
	require.False(t, ok)
}

func TestContentCacheSetAndGet(t *testing.T) {
	cache := NewContentCache()
	cache.Set("bafyfile1", []byte{1, 2, 3, 4})

	data, ok := cache.Get("bafyfile1")
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4}, data)
}

func TestContentCacheMiss(t *testing.T) {
	cache := NewContentCache()
	_, ok := cache.Get("nonexistent")
	require.False(t, ok)
}

func TestContentCacheEvictsWhenOverBudget(t *testing.T) {
	cache := NewContentCache()
	halfPlus := MaxContentCacheSize/2 + 1
	data1 := make([]byte, halfPlus)
	data2 := make([]byte, halfPlus)
	for i := range data2 {
		data2[i] = 1
	}

	cache.Set("cid1", data1)
	require.Equal(t, halfPlus, cache.CurrentSize())

	cache.Set("cid2", data2)
	_, ok := cache.Get("cid1")
	require.False(t, ok, "cid1 should have been evicted to make room for cid2")
	_, ok = cache.Get("cid2")
	require.True(t, ok)
	require.Equal(t, halfPlus, cache.CurrentSize())
}

func TestContentCacheLRUEvictionOrder(t *testing.T) {
	cache := NewContentCache()
	chunk := MaxContentCacheSize/3 + 1

	cache.Set("a", make([]byte, chunk))
	cache.Set("b", make([]byte, chunk))
	_, _ = cache.Get("a") // touch a, making it more recently used than b

	cache.Set("c", make([]byte, chunk)) // should evict b, the LRU entry

	_, ok := cache.Get("a")
	require.True(t, ok, "a should still be cached (recently accessed)")
	_, ok = cache.Get("b")
	require.False(t, ok, "b should be evicted (LRU)")
	_, ok = cache.Get("c")
	require.True(t, ok, "c should be cached (just inserted)")
}

func TestContentCacheUpdateExisting(t *testing.T) {
	cache := NewContentCache()
	cache.Set("cid1", []byte{1, 2, 3})
	require.Equal(t, 3, cache.CurrentSize())

	cache.Set("cid1", []byte{1, 2, 3, 4, 5})
	require.Equal(t, 5, cache.CurrentSize())
	data, ok := cache.Get("cid1")
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, data)
}

func TestContentCacheClearZeroizes(t *testing.T) {
	cache := NewContentCache()
	cache.Set("cid1", []byte{1, 2, 3})
	cache.Clear()

	require.Equal(t, 0, cache.CurrentSize())
	_, ok := cache.Get("cid1")
	require.False(t, ok)
}
