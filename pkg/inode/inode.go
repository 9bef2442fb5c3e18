// Package inode maintains the in-memory inode table the FUSE surface
// walks: inode numbers, their parent/name linkage, and the type-specific
// crypto/remote-pointer state each kind of entry carries. The table is
// rebuilt lazily from remote folder manifests as directories are read.
package inode

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/text/unicode/norm"

	"github.com/cipherbox/vaultfs/pkg/secret"
)

// RootIno is the FUSE root inode number by convention.
const RootIno = 1

// BlockSize is the block size reported to statfs/getattr.
const BlockSize = 4096

func normalizeName(name string) string {
	return norm.NFC.String(name)
}

// Kind discriminates the three inode shapes: Root, Folder, File.
type Kind int

const (
	KindRoot Kind = iota
	KindFolder
	KindFile
)

// RootData holds the root inode's crypto context: the vault owner's
// signing key for the root folder's own name record, and the AEAD key
// for the root folder's own manifest. Unlike a Folder, the root key is
// never wrapped in any manifest entry — there is no parent to hold it —
// so it is supplied directly to the mount bootstrap (from the mount
// configuration) and held only in memory.
type RootData struct {
	IPNSPrivateKey *secret.Bytes
	IPNSName       string
	FolderKey      *secret.Bytes
	ChildrenLoaded bool
}

// FolderData holds a subfolder inode's remote pointer and decrypted keys.
type FolderData struct {
	IPNSName              string
	EncryptedFolderKey    string
	FolderKey             *secret.Bytes
	IPNSPrivateKey        *secret.Bytes
	ChildrenLoaded        bool
}

// FileData holds a file inode's crypto context. A freshly-populated
// FilePointer has FileMetaResolved=false and only FileMetaIPNSName, the
// default EncryptionMode and (when the pointer carries one) the per-file
// signing key set; the rest is filled in by Resolve once the per-file
// record is fetched.
type FileData struct {
	CID                string
	EncryptedFileKey   string
	IV                 string
	Size               uint64
	EncryptionMode     string
	FileMetaIPNSName   string
	FileMetaResolved   bool
	FileIPNSPrivateKey *secret.Bytes
}

// Data is the complete state for one inode.
type Data struct {
	Ino       uint64
	ParentIno uint64
	Name      string
	Kind      Kind

	Root   *RootData
	Folder *FolderData
	File   *FileData

	Attr     fuse.Attr
	Children []uint64 // nil for files; non-nil (possibly empty) for directories
}

// ChildrenLoaded reports whether this directory's children reflect at
// least one successful manifest population, regardless of variant.
func (d *Data) ChildrenLoaded() bool {
	switch d.Kind {
	case KindRoot:
		return d.Root.ChildrenLoaded
	case KindFolder:
		return d.Folder.ChildrenLoaded
	default:
		return false
	}
}

// FolderIPNSName returns the IPNS name whose record points at this
// directory's manifest, regardless of variant.
func (d *Data) FolderIPNSName() string {
	switch d.Kind {
	case KindRoot:
		return d.Root.IPNSName
	case KindFolder:
		return d.Folder.IPNSName
	default:
		return ""
	}
}

// Table maps inode numbers to data and provides parent+name lookup.
type Table struct {
	mu         sync.RWMutex
	inodes     map[uint64]*Data
	nameToIno  map[nameKey]uint64
	nextIno    atomic.Uint64
}

type nameKey struct {
	parent uint64
	name   string
}

// New creates a table seeded with the root inode.
func New() *Table {
	now := time.Now()
	uid, gid := uint32(os.Getuid()), uint32(os.Getgid())

	root := &Data{
		Ino:       RootIno,
		ParentIno: RootIno,
		Name:      "",
		Kind:      KindRoot,
		Root:      &RootData{},
		Attr: fuse.Attr{
			Ino:     RootIno,
			Mode:    fuse.S_IFDIR | 0o755,
			Nlink:   2,
			Owner:   fuse.Owner{Uid: uid, Gid: gid},
			Blksize: BlockSize,
		},
		Children: []uint64{},
	}
	root.Attr.SetTimes(&now, &now, &now)

	t := &Table{
		inodes:    map[uint64]*Data{RootIno: root},
		nameToIno: map[nameKey]uint64{},
	}
	t.nextIno.Store(1) // AllocateIno's first Add(1) yields 2
	return t
}

// AllocateIno reserves the next unique inode number (2, 3, 4, ...).
func (t *Table) AllocateIno() uint64 {
	return t.nextIno.Add(1)
}

// Insert adds or replaces an inode and updates the name lookup index. The
// name is NFC-normalized so macOS NFS clients sending NFD-form names
// (accented characters decomposed) still resolve to the same entry.
func (t *Table) Insert(data *Data) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertLocked(data)
}

func (t *Table) insertLocked(data *Data) {
	key := nameKey{data.ParentIno, normalizeName(data.Name)}
	t.nameToIno[key] = data.Ino
	t.inodes[data.Ino] = data
}

// Get returns the inode data for ino, or nil if it isn't present.
func (t *Table) Get(ino uint64) *Data {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inodes[ino]
}

// Mutate runs fn with exclusive access to ino's data, if present. It
// reports whether the inode existed.
func (t *Table) Mutate(ino uint64, fn func(*Data)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.inodes[ino]
	if !ok {
		return false
	}
	fn(d)
	return true
}

// TotalFileSize sums the known size of every File inode in the table,
// used to compute statfs's free-quota accounting.
func (t *Table) TotalFileSize() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total uint64
	for _, d := range t.inodes {
		if d.Kind == KindFile {
			total += d.Attr.Size
		}
	}
	return total
}

// FindChild looks up a child inode by parent inode and entry name.
func (t *Table) FindChild(parentIno uint64, name string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ino, ok := t.nameToIno[nameKey{parentIno, normalizeName(name)}]
	return ino, ok
}

// Remove deletes an inode and its name-index entry, and unlinks it from
// its parent's children list.
func (t *Table) Remove(ino uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(ino)
}

func (t *Table) removeLocked(ino uint64) {
	data, ok := t.inodes[ino]
	if !ok {
		return
	}
	delete(t.inodes, ino)
	delete(t.nameToIno, nameKey{data.ParentIno, normalizeName(data.Name)})
	if parent, ok := t.inodes[data.ParentIno]; ok && parent.Children != nil {
		parent.Children = removeIno(parent.Children, ino)
	}
}

func removeIno(children []uint64, ino uint64) []uint64 {
	out := children[:0]
	for _, c := range children {
		if c != ino {
			out = append(out, c)
		}
	}
	return out
}
