// Package vaultfs implements the FUSE surface (spec §4.8) on top of
// github.com/hanwen/go-fuse/v2/fs: every inode variant is served by the
// same Node type, which dispatches on the underlying pkg/inode.Data's
// Kind rather than using separate Go types per kind, mirroring the
// teacher's tagged-union inode shape at the FUSE layer too.
package vaultfs

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"

	"github.com/cipherbox/vaultfs/pkg/inode"
	"github.com/cipherbox/vaultfs/pkg/keyprovider"
	"github.com/cipherbox/vaultfs/pkg/objectstore/ipfsstore"
	"github.com/cipherbox/vaultfs/pkg/objectstore/ipnsresolve"
	"github.com/cipherbox/vaultfs/pkg/publish"
	"github.com/cipherbox/vaultfs/pkg/vaultcache"
)

const (
	// dirAttrTTL and fileAttrTTL are the kernel cache-control TTLs spec
	// §4.8 requires: directories are never cached (mutations must be
	// visible immediately), files are cached briefly to absorb repeated
	// stat() bursts.
	dirAttrTTL  = 0
	fileAttrTTL = 60 * time.Second

	// refreshTimeout bounds a single background folder-manifest refresh.
	refreshTimeout = 10 * time.Second
	// writeOpTimeout bounds a synchronous mutating operation (mkdir,
	// create, unlink, rmdir, rename) that must confirm before replying.
	writeOpTimeout = 15 * time.Second
	// recordLifetime is how long a freshly published name record claims
	// validity for before it must be refreshed.
	recordLifetime = 48 * time.Hour

	// quotaBytes is the fixed volume quota reported by statfs.
	quotaBytes = 500 * 1024 * 1024

	// mutationCooldown: a folder refreshed within this long after a local
	// mutation is populated merge-only, so a background refresh carrying
	// a pre-mutation manifest can't drop the just-written child.
	mutationCooldown = 30 * time.Second
)

// platformNoiseNames are looked up constantly by desktop clients and
// must be rejected fast, without triggering a lazy directory load.
var platformNoiseNames = map[string]bool{
	".DS_Store":    true,
	"._.DS_Store":  true,
	".Trashes":     true,
	".fseventsd":   true,
	".Spotlight-V100": true,
	"desktop.ini":  true,
	"Thumbs.db":    true,
	"autorun.inf":  true,
}

func isNoiseName(name string) bool {
	if platformNoiseNames[name] {
		return true
	}
	return strings.HasPrefix(name, "._")
}

// FS bundles every external collaborator a mounted vault needs: the
// inode table, the two caches, the object-store and name-resolution
// adapters, the publish coordinator, and the recipient key provider.
type FS struct {
	table        *inode.Table
	metaCache    *vaultcache.MetadataCache
	contentCache *vaultcache.ContentCache
	store        *ipfsstore.Store
	resolver     *ipnsresolve.Resolver
	publisher    *publish.Coordinator
	keys         keyprovider.Provider
	tempDir      string
	readOnly     bool
	mountUid     uint32

	refreshMu  sync.Mutex
	refreshing map[uint64]struct{}

	mutatedMu sync.Mutex
	mutatedAt map[uint64]time.Time
}

// New constructs an FS. The caller is expected to bootstrap the root
// inode's crypto context (inode.RootData) before serving any requests.
func New(store *ipfsstore.Store, resolver *ipnsresolve.Resolver, keys keyprovider.Provider, tempDir string, readOnly bool) *FS {
	return &FS{
		table:        inode.New(),
		metaCache:    vaultcache.NewMetadataCache(),
		contentCache: vaultcache.NewContentCache(),
		store:        store,
		resolver:     resolver,
		publisher:    publish.New(),
		keys:         keys,
		tempDir:      tempDir,
		readOnly:     readOnly,
		mountUid:     uint32(os.Getuid()),
		refreshing:   make(map[uint64]struct{}),
		mutatedAt:    make(map[uint64]time.Time),
	}
}

// markMutated timestamps ino as just locally mutated, starting its
// refresh cooldown.
func (fsys *FS) markMutated(ino uint64) {
	fsys.mutatedMu.Lock()
	fsys.mutatedAt[ino] = time.Now()
	fsys.mutatedMu.Unlock()
}

// recentlyMutated reports whether ino was locally mutated within
// mutationCooldown.
func (fsys *FS) recentlyMutated(ino uint64) bool {
	fsys.mutatedMu.Lock()
	t, ok := fsys.mutatedAt[ino]
	fsys.mutatedMu.Unlock()
	return ok && time.Since(t) < mutationCooldown
}

// Root returns the InodeEmbedder go-fuse should mount as the filesystem
// root.
func (fsys *FS) Root() fs.InodeEmbedder {
	return &Node{fsys: fsys, ino: inode.RootIno}
}

// Destroy implements spec §4.8's `destroy` callback: wipe both caches.
// go-fuse's modern API has no per-node "destroy" hook, so mount.go calls
// this once directly after the kernel event loop (server.Wait()) returns,
// which is equivalent: no further callbacks can race it by then.
func (fsys *FS) Destroy() {
	fsys.contentCache.Clear()
	fsys.metaCache.Clear()
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}
