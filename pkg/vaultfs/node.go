package vaultfs

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/cipherbox/vaultfs/pkg/inode"
)

// Node serves every inode kind (root, folder, file); behavior dispatches
// on the underlying inode.Data.Kind rather than on the Go type.
type Node struct {
	fs.Inode
	fsys *FS
	ino  uint64
}

var (
	_ fs.NodeLookuper    = (*Node)(nil)
	_ fs.NodeGetattrer   = (*Node)(nil)
	_ fs.NodeSetattrer   = (*Node)(nil)
	_ fs.NodeReaddirer   = (*Node)(nil)
	_ fs.NodeOpendirer   = (*Node)(nil)
	_ fs.NodeOpener      = (*Node)(nil)
	_ fs.NodeCreater     = (*Node)(nil)
	_ fs.NodeMkdirer     = (*Node)(nil)
	_ fs.NodeUnlinker    = (*Node)(nil)
	_ fs.NodeRmdirer     = (*Node)(nil)
	_ fs.NodeRenamer     = (*Node)(nil)
	_ fs.NodeStatfser    = (*Node)(nil)
	_ fs.NodeAccesser    = (*Node)(nil)
	_ fs.NodeGetxattrer  = (*Node)(nil)
	_ fs.NodeListxattrer = (*Node)(nil)
)

func (n *Node) data() *inode.Data {
	return n.fsys.table.Get(n.ino)
}

func ttlFor(d *inode.Data) time.Duration {
	if d.Kind == inode.KindFile {
		return fileAttrTTL
	}
	return dirAttrTTL
}

func setEntryTimeout(out *fuse.EntryOut, ttl time.Duration) {
	sec := uint64(ttl / time.Second)
	nsec := uint32(ttl % time.Second)
	out.EntryValid, out.EntryValidNsec = sec, nsec
	out.AttrValid, out.AttrValidNsec = sec, nsec
}

func setAttrTimeout(out *fuse.AttrOut, ttl time.Duration) {
	out.AttrValid = uint64(ttl / time.Second)
	out.AttrValidNsec = uint32(ttl % time.Second)
}

func (n *Node) newChildInode(ctx context.Context, childIno uint64) *fs.Inode {
	child := n.fsys.table.Get(childIno)
	mode := uint32(fuse.S_IFREG)
	if child != nil {
		mode = child.Attr.Mode &^ 0o7777 // StableAttr.Mode wants the type bits only
	}
	return n.NewInode(ctx, &Node{fsys: n.fsys, ino: childIno}, fs.StableAttr{Mode: mode, Ino: childIno})
}

// Lookup implements spec §4.8's lookup: reject platform-noise names fast,
// trigger a non-blocking background refresh when the parent's children
// haven't been loaded yet (replying NOT-FOUND immediately rather than
// blocking on the network), otherwise consult the name index.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if isNoiseName(name) {
		return nil, syscall.ENOENT
	}
	d := n.data()
	if d == nil {
		return nil, syscall.ENOENT
	}
	if d.Kind == inode.KindFile {
		return nil, syscall.ENOTDIR
	}
	if !d.ChildrenLoaded() {
		n.fsys.triggerRefresh(n.ino)
		return nil, syscall.ENOENT
	}

	childIno, ok := n.fsys.table.FindChild(n.ino, name)
	if !ok {
		return nil, syscall.ENOENT
	}
	child := n.fsys.table.Get(childIno)
	if child == nil {
		return nil, syscall.ENOENT
	}

	childInode := n.newChildInode(ctx, childIno)
	out.Attr = child.Attr
	setEntryTimeout(out, ttlFor(child))
	return childInode, 0
}

// Getattr implements spec §4.8's getattr: read straight from the
// in-memory node, no network I/O.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	d := n.data()
	if d == nil {
		return syscall.ENOENT
	}
	out.Attr = d.Attr
	setAttrTimeout(out, ttlFor(d))
	return 0
}

// Setattr implements spec §4.8's setattr: only size (truncate) is
// honored; every other mutator is silently accepted without effect.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	d := n.data()
	if d == nil {
		return syscall.ENOENT
	}
	if sz, ok := in.GetSize(); ok {
		if d.Kind != inode.KindFile {
			return syscall.EISDIR
		}
		if fh, ok := f.(*fileHandle); ok {
			if err := fh.truncate(sz); err != nil {
				return errnoFor(err)
			}
		}
		n.fsys.table.Mutate(n.ino, func(dd *inode.Data) {
			dd.Attr.Size = sz
			dd.Attr.Blocks = (sz + 511) / 512
			now := time.Now()
			dd.Attr.SetTimes(nil, &now, &now)
		})
	}
	d = n.data()
	out.Attr = d.Attr
	setAttrTimeout(out, ttlFor(d))
	return 0
}

// Opendir succeeds for any existing directory inode (ENOENT for an
// unknown inode, ENOTDIR for a file); go-fuse itself allocates a nonzero directory
// handle id internally, satisfying spec §4.8's "never hand out handle 0"
// requirement without any node-level bookkeeping.
func (n *Node) Opendir(ctx context.Context) syscall.Errno {
	d := n.data()
	if d == nil {
		return syscall.ENOENT
	}
	if d.Kind == inode.KindFile {
		return syscall.ENOTDIR
	}
	return 0
}

// Readdir implements spec §4.8's readdir: trigger a background refresh
// if the children were never loaded or the cached manifest is missing or
// stale (refreshes write into the inode table themselves, so there is
// nothing to drain here), emit `.`/`..` plus the current children
// (filtering platform noise), and kick off best-effort content
// prefetching for known-but-uncached file children.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	d := n.data()
	if d == nil {
		return nil, syscall.ENOENT
	}
	if d.Kind == inode.KindFile {
		return nil, syscall.ENOTDIR
	}
	if !d.ChildrenLoaded() {
		n.fsys.triggerRefresh(n.ino)
	} else if _, fresh := n.fsys.metaCache.Get(d.FolderIPNSName()); !fresh {
		n.fsys.triggerRefresh(n.ino)
	}
	d = n.data()

	entries := make([]fuse.DirEntry, 0, len(d.Children)+2)
	entries = append(entries,
		fuse.DirEntry{Name: ".", Ino: n.ino, Mode: fuse.S_IFDIR},
		fuse.DirEntry{Name: "..", Ino: d.ParentIno, Mode: fuse.S_IFDIR},
	)
	for _, childIno := range d.Children {
		child := n.fsys.table.Get(childIno)
		if child == nil || isNoiseName(child.Name) {
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: child.Name, Ino: childIno, Mode: child.Attr.Mode &^ 0o7777})
	}

	n.fsys.triggerPrefetch(d)
	return fs.NewListDirStream(entries), 0
}

// Statfs reports a fixed 500 MiB volume quota minus the sum of known
// file sizes, since the backing store is a content-addressed network
// service with no block device of its own to report against.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	out.Bsize = inode.BlockSize
	out.Frsize = inode.BlockSize

	used := n.fsys.table.TotalFileSize()
	free := uint64(quotaBytes)
	if used < free {
		free -= used
	} else {
		free = 0
	}
	out.Blocks = quotaBytes / inode.BlockSize
	out.Bfree = free / inode.BlockSize
	out.Bavail = out.Bfree
	out.Files, out.Ffree = 1 << 20, 1 << 20
	out.NameLen = 255
	return 0
}

// Access implements spec §4.8's owner-only access check: the caller's
// uid must match the mount's own uid, and F_OK/R/W/X are checked against
// the owner permission triad.
func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	d := n.data()
	if d == nil {
		return syscall.ENOENT
	}
	if caller, ok := ctx.(*fuse.Context); ok && caller.Caller.Uid != n.fsys.mountUid {
		return syscall.EACCES
	}
	if mask == 0 { // F_OK
		return 0
	}
	perm := d.Attr.Mode & 0o700 >> 6
	if mask&perm == mask {
		return 0
	}
	return syscall.EACCES
}

// Getxattr/Listxattr always report "no attributes" per spec §4.8:
// Getxattr returns syscall.ENODATA rather than ENOSYS (ENOSYS would
// disable xattr support for the whole mount; ENODATA is the platform's
// "no data" code), and Listxattr succeeds with an empty list.
func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	return 0, syscall.ENODATA
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	return 0, 0
}
