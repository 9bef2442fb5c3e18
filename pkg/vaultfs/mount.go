package vaultfs

import (
	"context"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/cipherbox/vaultfs/pkg/inode"
	"github.com/cipherbox/vaultfs/pkg/secret"
)

// bootstrapTimeout bounds the initial root-manifest fetch at mount time;
// a slow or unreachable daemon should fail the mount quickly rather than
// hang indefinitely.
const bootstrapTimeout = 30 * time.Second

// Bootstrap resolves and decrypts the vault's root manifest and
// populates the root inode plus, per spec §4.9, one level of immediate
// subdirectories eagerly, so the first `ls` after mount never waits on a
// lazy Lookup/Readdir round trip.
func (fsys *FS) Bootstrap(ctx context.Context, rootIPNSName string, rootFolderKey []byte, rootSigningSeed []byte) error {
	ctx, cancel := withTimeout(ctx, bootstrapTimeout)
	defer cancel()

	fsys.table.Mutate(inode.RootIno, func(d *inode.Data) {
		d.Root.IPNSName = rootIPNSName
		d.Root.FolderKey = secret.New(append([]byte{}, rootFolderKey...))
		if rootSigningSeed != nil {
			d.Root.IPNSPrivateKey = secret.New(append([]byte{}, rootSigningSeed...))
		}
	})

	root := fsys.table.Get(inode.RootIno)
	fc, err := fsys.folderContext(root)
	if err != nil {
		return err
	}

	meta, cid, err := fsys.fetchFolder(ctx, fc)
	if err != nil {
		return err
	}
	fsys.metaCache.Set(fc.ipnsName, meta, cid)
	if err := fsys.table.PopulateFolder(inode.RootIno, meta, fsys.recipientPrivateKey(), false); err != nil {
		return err
	}

	root = fsys.table.Get(inode.RootIno)
	for _, childIno := range root.Children {
		child := fsys.table.Get(childIno)
		if child == nil || child.Kind != inode.KindFolder {
			continue
		}
		childFC, err := fsys.folderContext(child)
		if err != nil {
			continue
		}
		childMeta, childCID, err := fsys.fetchFolder(ctx, childFC)
		if err != nil {
			continue // best-effort: lazy Lookup/Readdir will retry later
		}
		fsys.metaCache.Set(childFC.ipnsName, childMeta, childCID)
		_ = fsys.table.PopulateFolder(childIno, childMeta, fsys.recipientPrivateKey(), false)
	}

	for _, ptr := range fsys.table.UnresolvedFilePointers() {
		file := fsys.table.Get(ptr.Ino)
		if file == nil {
			continue
		}
		parent := fsys.table.Get(file.ParentIno)
		if parent == nil {
			continue
		}
		parentFC, err := fsys.folderContext(parent)
		if err != nil {
			continue
		}
		_ = fsys.resolveFilePointer(ctx, ptr, parentFC.folderKey)
	}

	return nil
}

// Mount starts serving the FUSE filesystem at mountPath and blocks until
// it is unmounted, cleaning up both in-memory caches on the way out.
func Mount(mountPath string, fsys *FS, debug bool) error {
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:     "cipherbox",
			Name:       "vaultfs",
			Debug:      debug,
			AllowOther: false,
		},
	}
	server, err := fs.Mount(mountPath, fsys.Root(), opts)
	if err != nil {
		return err
	}
	server.Wait()
	fsys.Destroy()
	return nil
}
