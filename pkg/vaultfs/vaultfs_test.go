package vaultfs

import (
	"context"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/require"

	"github.com/cipherbox/vaultfs/pkg/inode"
	"github.com/cipherbox/vaultfs/pkg/keyprovider"
	"github.com/cipherbox/vaultfs/pkg/secret"
	"github.com/cipherbox/vaultfs/pkg/vaultcrypto"
	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// newTestFS builds an FS with no object-store/resolver (nil — any test
// that would dereference them must not exercise a network path) and a
// throwaway recipient keypair, for tests that only cover inode-table,
// node-callback, and write-buffer logic.
func newTestFS(t *testing.T) *FS {
	t.Helper()
	priv, pub, err := vaultcrypto.DeriveRecipientKeypair([]byte("vaultfs-test-seed"), vaultcrypto.InfoRecipientKey)
	require.NoError(t, err)
	keys, err := keyprovider.NewStaticProvider(priv, pub)
	require.NoError(t, err)
	return New(nil, nil, keys, t.TempDir(), false)
}

func insertFile(t *testing.T, fsys *FS, parent uint64, name string, size uint64) uint64 {
	t.Helper()
	ino := fsys.table.AllocateIno()
	attr := fuse.Attr{Mode: syscall.S_IFREG | 0o600, Size: size}
	fsys.table.Insert(&inode.Data{
		Ino:       ino,
		ParentIno: parent,
		Name:      name,
		Kind:      inode.KindFile,
		Attr:      attr,
		File: &inode.FileData{
			CID:             "bafytest",
			EncryptedFileKey: "deadbeef",
			IV:               "00",
			Size:             size,
			EncryptionMode:   "GCM",
		},
	})
	return ino
}

func TestLookupRejectsNoiseNames(t *testing.T) {
	fsys := newTestFS(t)
	n := &Node{fsys: fsys, ino: inode.RootIno}
	fsys.table.Mutate(inode.RootIno, func(d *inode.Data) { d.Root.ChildrenLoaded = true })

	var out fuse.EntryOut
	_, errno := n.Lookup(context.Background(), ".DS_Store", &out)
	require.Equal(t, syscall.ENOENT, errno)
}

func TestLookupNotLoadedTriggersRefreshAndMisses(t *testing.T) {
	fsys := newTestFS(t)
	n := &Node{fsys: fsys, ino: inode.RootIno}

	var out fuse.EntryOut
	_, errno := n.Lookup(context.Background(), "anything", &out)
	require.Equal(t, syscall.ENOENT, errno)
}

func TestLookupFindsKnownChild(t *testing.T) {
	fsys := newTestFS(t)
	ino := insertFile(t, fsys, inode.RootIno, "hello.txt", 5)
	fsys.table.Mutate(inode.RootIno, func(d *inode.Data) {
		d.Root.ChildrenLoaded = true
		d.Children = append(d.Children, ino)
	})

	n := &Node{fsys: fsys, ino: inode.RootIno}
	var out fuse.EntryOut
	child, errno := n.Lookup(context.Background(), "hello.txt", &out)
	require.Equal(t, syscall.Errno(0), errno)
	require.NotNil(t, child)
	require.Equal(t, uint64(5), out.Attr.Size)
}

func TestLookupOnFileReturnsNotDir(t *testing.T) {
	fsys := newTestFS(t)
	ino := insertFile(t, fsys, inode.RootIno, "f.txt", 1)
	n := &Node{fsys: fsys, ino: ino}
	var out fuse.EntryOut
	_, errno := n.Lookup(context.Background(), "x", &out)
	require.Equal(t, syscall.ENOTDIR, errno)
}

func TestGetattrUsesFileTTL(t *testing.T) {
	fsys := newTestFS(t)
	ino := insertFile(t, fsys, inode.RootIno, "f.txt", 42)
	n := &Node{fsys: fsys, ino: ino}

	var out fuse.AttrOut
	errno := n.Getattr(context.Background(), nil, &out)
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, uint64(42), out.Attr.Size)
	require.Equal(t, uint64(fileAttrTTL/1e9), out.AttrValid)
}

func TestGetattrMissingInodeIsENOENT(t *testing.T) {
	fsys := newTestFS(t)
	n := &Node{fsys: fsys, ino: 9999}
	var out fuse.AttrOut
	errno := n.Getattr(context.Background(), nil, &out)
	require.Equal(t, syscall.ENOENT, errno)
}

func TestReaddirFiltersNoiseAndAddsDotEntries(t *testing.T) {
	fsys := newTestFS(t)
	visible := insertFile(t, fsys, inode.RootIno, "keep.txt", 1)
	noisy := insertFile(t, fsys, inode.RootIno, ".DS_Store", 1)
	fsys.table.Mutate(inode.RootIno, func(d *inode.Data) {
		d.Root.ChildrenLoaded = true
		d.Children = append(d.Children, visible, noisy)
	})

	n := &Node{fsys: fsys, ino: inode.RootIno}
	stream, errno := n.Readdir(context.Background())
	require.Equal(t, syscall.Errno(0), errno)

	var names []string
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Equal(t, syscall.Errno(0), errno)
		names = append(names, e.Name)
	}
	require.Contains(t, names, ".")
	require.Contains(t, names, "..")
	require.Contains(t, names, "keep.txt")
	require.NotContains(t, names, ".DS_Store")
}

func TestAccessOwnerOnly(t *testing.T) {
	fsys := newTestFS(t)
	ino := fsys.table.AllocateIno()
	fsys.table.Insert(&inode.Data{
		Ino:       ino,
		ParentIno: inode.RootIno,
		Name:      "ro.txt",
		Kind:      inode.KindFile,
		Attr:      fuse.Attr{Mode: syscall.S_IFREG | 0o400},
		File:      &inode.FileData{},
	})
	n := &Node{fsys: fsys, ino: ino}

	require.Equal(t, syscall.Errno(0), n.Access(context.Background(), 4)) // R_OK
	require.Equal(t, syscall.EACCES, n.Access(context.Background(), 2))  // W_OK
}

func TestGetxattrReturnsENODATA(t *testing.T) {
	fsys := newTestFS(t)
	n := &Node{fsys: fsys, ino: inode.RootIno}
	_, errno := n.Getxattr(context.Background(), "user.foo", nil)
	require.Equal(t, syscall.ENODATA, errno)
}

func TestWriteHandleUpdatesSizeAndIsReadableBack(t *testing.T) {
	fsys := newTestFS(t)
	ino := insertFile(t, fsys, inode.RootIno, "w.txt", 0)

	h, err := newWriteHandle(fsys, ino, 0, nil)
	require.NoError(t, err)
	defer h.wb.Cleanup()

	n, errno := h.Write(context.Background(), []byte("hello"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, uint32(5), n)

	d := fsys.table.Get(ino)
	require.Equal(t, uint64(5), d.Attr.Size)

	dest := make([]byte, 5)
	res, errno := h.Read(context.Background(), dest, 0)
	require.Equal(t, syscall.Errno(0), errno)
	data, status := res.Bytes(dest)
	require.Equal(t, fuse.OK, status)
	require.Equal(t, "hello", string(data))
}

func TestTruncateShrinksWriteBuffer(t *testing.T) {
	fsys := newTestFS(t)
	ino := insertFile(t, fsys, inode.RootIno, "t.txt", 0)

	h, err := newWriteHandle(fsys, ino, 0, []byte("abcdef"))
	require.NoError(t, err)
	defer h.wb.Cleanup()

	require.NoError(t, h.truncate(3))
	size, err := h.wb.Size()
	require.NoError(t, err)
	require.Equal(t, uint64(3), size)
}

func TestErrnoForMapsVaultErrKinds(t *testing.T) {
	require.Equal(t, syscall.Errno(0), errnoFor(nil))
	require.Equal(t, syscall.ENOENT, errnoFor(vaulterr.New(vaulterr.NotFound, "test", nil)))
	require.Equal(t, syscall.ENOTEMPTY, errnoFor(vaulterr.New(vaulterr.NotEmpty, "test", nil)))
	require.Equal(t, syscall.EIO, errnoFor(vaulterr.New(vaulterr.Decryption, "test", nil)))
}

func TestSecretZeroDoesNotPanicOnRootKey(t *testing.T) {
	s := secret.New([]byte("k"))
	s.Zero()
	require.Nil(t, s.Bytes())
}
