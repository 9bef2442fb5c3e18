package inode

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cipherbox/vaultfs/pkg/manifest"
	"github.com/cipherbox/vaultfs/pkg/secret"
	"github.com/cipherbox/vaultfs/pkg/vaultcrypto"
)

func testRecipientKeypair(t *testing.T) ([]byte, []byte, error) {
	t.Helper()
	return vaultcrypto.DeriveRecipientKeypair([]byte("inode-test-seed"), vaultcrypto.InfoRecipientKey)
}

func wrapForTest(t *testing.T, data []byte) string {
	t.Helper()
	_, pub, err := testRecipientKeypair(t)
	require.NoError(t, err)
	wrapped, err := vaultcrypto.WrapKey(data, pub)
	require.NoError(t, err)
	return hex.EncodeToString(wrapped)
}

func TestNewHasRoot(t *testing.T) {
	table := New()
	root := table.Get(RootIno)
	require.NotNil(t, root)
	require.Equal(t, uint64(RootIno), root.Ino)
	require.Equal(t, uint64(RootIno), root.ParentIno)
	require.Equal(t, KindRoot, root.Kind)
	require.NotNil(t, root.Children)
}

func TestAllocateInoSequential(t *testing.T) {
	table := New()
	require.Equal(t, uint64(2), table.AllocateIno())
	require.Equal(t, uint64(3), table.AllocateIno())
	require.Equal(t, uint64(4), table.AllocateIno())
}

func TestInsertAndFindChild(t *testing.T) {
	table := New()
	ino := table.AllocateIno()

	table.Insert(&Data{
		Ino:       ino,
		ParentIno: RootIno,
		Name:      "documents",
		Kind:      KindFolder,
		Folder: &FolderData{
			IPNSName:           "k51test",
			EncryptedFolderKey: "deadbeef",
			FolderKey:          secret.New(make([]byte, 32)),
			IPNSPrivateKey:     secret.New(make([]byte, 32)),
		},
		Children: []uint64{},
	})

	found, ok := table.FindChild(RootIno, "documents")
	require.True(t, ok)
	require.Equal(t, ino, found)

	got := table.Get(ino)
	require.NotNil(t, got)
	require.Equal(t, "documents", got.Name)
}

func TestFindChildNotFound(t *testing.T) {
	table := New()
	_, ok := table.FindChild(RootIno, "nonexistent")
	require.False(t, ok)
}

func TestRemoveInode(t *testing.T) {
	table := New()
	ino := table.AllocateIno()

	table.Mutate(RootIno, func(d *Data) {
		d.Children = append(d.Children, ino)
	})

	table.Insert(&Data{
		Ino:       ino,
		ParentIno: RootIno,
		Name:      "test.txt",
		Kind:      KindFile,
		File: &FileData{
			CID: "bafytest", EncryptedFileKey: "aabb", IV: "ccdd",
			Size: 1024, EncryptionMode: "GCM", FileMetaResolved: true,
		},
	})

	require.NotNil(t, table.Get(ino))
	_, ok := table.FindChild(RootIno, "test.txt")
	require.True(t, ok)

	table.Remove(ino)
	require.Nil(t, table.Get(ino))
	_, ok = table.FindChild(RootIno, "test.txt")
	require.False(t, ok)
}

func TestFindChildNormalizesNFCAndNFD(t *testing.T) {
	table := New()
	ino := table.AllocateIno()

	// "cafe" with a combining acute accent (NFD form).
	nfd := "café"
	table.Insert(&Data{Ino: ino, ParentIno: RootIno, Name: nfd, Kind: KindFile, File: &FileData{}})

	// The precomposed (NFC) form must resolve to the same inode.
	found, ok := table.FindChild(RootIno, "café")
	require.True(t, ok)
	require.Equal(t, ino, found)
}

func TestPopulateFolderWithFilePointers(t *testing.T) {
	table := New()

	meta := &manifest.FolderMetadata{
		Version: "v2",
		Children: []manifest.FolderChild{
			{Type: manifest.ChildFile, File: &manifest.FilePointer{
				ID:               "file-1",
				Name:             "hello.txt",
				FileMetaIPNSName: "k51qzi5uqu5dljtg5upm7x7ugan9lql3ewyknv4r4mhhkwzn8n7cnbd1unfwgx",
				CreatedAt:        1700000000000,
				ModifiedAt:       1700000000000,
			}},
		},
	}

	privateKey := make([]byte, 32) // unused for FilePointer children
	err := table.PopulateFolder(RootIno, meta, privateKey, false)
	require.NoError(t, err)

	root := table.Get(RootIno)
	require.Len(t, root.Children, 1)

	child := table.Get(root.Children[0])
	require.NotNil(t, child)
	require.Equal(t, "hello.txt", child.Name)
	require.Equal(t, KindFile, child.Kind)
	require.Equal(t, "k51qzi5uqu5dljtg5upm7x7ugan9lql3ewyknv4r4mhhkwzn8n7cnbd1unfwgx", child.File.FileMetaIPNSName)
	require.False(t, child.File.FileMetaResolved)
}

func TestPopulateFolderReusesInoAcrossRefresh(t *testing.T) {
	table := New()
	meta := &manifest.FolderMetadata{Version: "v2", Children: []manifest.FolderChild{
		{Type: manifest.ChildFile, File: &manifest.FilePointer{Name: "a.txt", FileMetaIPNSName: "k51a"}},
	}}
	require.NoError(t, table.PopulateFolder(RootIno, meta, nil, false))
	firstIno, ok := table.FindChild(RootIno, "a.txt")
	require.True(t, ok)

	require.NoError(t, table.PopulateFolder(RootIno, meta, nil, false))
	secondIno, ok := table.FindChild(RootIno, "a.txt")
	require.True(t, ok)

	require.Equal(t, firstIno, secondIno)
}

func TestPopulateFolderMergeOnlyPreservesAbsentChildren(t *testing.T) {
	table := New()
	initial := &manifest.FolderMetadata{Version: "v2", Children: []manifest.FolderChild{
		{Type: manifest.ChildFile, File: &manifest.FilePointer{Name: "a.txt", FileMetaIPNSName: "k51a"}},
		{Type: manifest.ChildFile, File: &manifest.FilePointer{Name: "b.txt", FileMetaIPNSName: "k51b"}},
	}}
	require.NoError(t, table.PopulateFolder(RootIno, initial, nil, false))

	refreshed := &manifest.FolderMetadata{Version: "v2", Children: []manifest.FolderChild{
		{Type: manifest.ChildFile, File: &manifest.FilePointer{Name: "a.txt", FileMetaIPNSName: "k51a"}},
	}}
	require.NoError(t, table.PopulateFolder(RootIno, refreshed, nil, true))

	_, ok := table.FindChild(RootIno, "b.txt")
	require.True(t, ok, "merge-only refresh must not remove a child absent from the new manifest")
}

func TestPopulateFolderNonMergeRemovesAbsentChildren(t *testing.T) {
	table := New()
	initial := &manifest.FolderMetadata{Version: "v2", Children: []manifest.FolderChild{
		{Type: manifest.ChildFile, File: &manifest.FilePointer{Name: "a.txt", FileMetaIPNSName: "k51a"}},
		{Type: manifest.ChildFile, File: &manifest.FilePointer{Name: "b.txt", FileMetaIPNSName: "k51b"}},
	}}
	require.NoError(t, table.PopulateFolder(RootIno, initial, nil, false))

	refreshed := &manifest.FolderMetadata{Version: "v2", Children: []manifest.FolderChild{
		{Type: manifest.ChildFile, File: &manifest.FilePointer{Name: "a.txt", FileMetaIPNSName: "k51a"}},
	}}
	require.NoError(t, table.PopulateFolder(RootIno, refreshed, nil, false))

	_, ok := table.FindChild(RootIno, "b.txt")
	require.False(t, ok)
}

func TestResolveFillsInFileMetadata(t *testing.T) {
	table := New()
	meta := &manifest.FolderMetadata{Version: "v2", Children: []manifest.FolderChild{
		{Type: manifest.ChildFile, File: &manifest.FilePointer{Name: "a.txt", FileMetaIPNSName: "k51a"}},
	}}
	require.NoError(t, table.PopulateFolder(RootIno, meta, nil, false))
	ino, ok := table.FindChild(RootIno, "a.txt")
	require.True(t, ok)

	table.Resolve(ino, "bafyresolved", "aabbcc", "ddeeff", 4096, "GCM")

	got := table.Get(ino)
	require.True(t, got.File.FileMetaResolved)
	require.Equal(t, "bafyresolved", got.File.CID)
	require.EqualValues(t, 4096, got.Attr.Size)
}

func TestUnresolvedFilePointers(t *testing.T) {
	table := New()
	meta := &manifest.FolderMetadata{Version: "v2", Children: []manifest.FolderChild{
		{Type: manifest.ChildFile, File: &manifest.FilePointer{Name: "a.txt", FileMetaIPNSName: "k51a"}},
		{Type: manifest.ChildFile, File: &manifest.FilePointer{Name: "b.txt", FileMetaIPNSName: "k51b"}},
	}}
	require.NoError(t, table.PopulateFolder(RootIno, meta, nil, false))

	unresolved := table.UnresolvedFilePointers()
	require.Len(t, unresolved, 2)

	inoA, _ := table.FindChild(RootIno, "a.txt")
	table.Resolve(inoA, "bafy", "k", "iv", 1, "GCM")

	unresolved = table.UnresolvedFilePointers()
	require.Len(t, unresolved, 1)
	require.Equal(t, "k51b", unresolved[0].FileMetaIPNSName)
}

func TestChildrenLoadedAndFolderIPNSNameAcrossVariants(t *testing.T) {
	table := New()
	root := table.Get(RootIno)
	require.False(t, root.ChildrenLoaded())
	root.Root.IPNSName = "k51root"
	require.Equal(t, "k51root", root.FolderIPNSName())

	meta := &manifest.FolderMetadata{Version: "v2", Children: []manifest.FolderChild{
		{Type: manifest.ChildFolder, Folder: &manifest.FolderEntry{
			Name: "docs", IPNSName: "k51docs",
			FolderKeyEncrypted:      wrapForTest(t, make([]byte, 32)),
			IPNSPrivateKeyEncrypted: wrapForTest(t, make([]byte, 32)),
		}},
	}}
	priv, _, err := testRecipientKeypair(t)
	require.NoError(t, err)
	require.NoError(t, table.PopulateFolder(RootIno, meta, priv, false))
	require.True(t, table.Get(RootIno).ChildrenLoaded())

	docsIno, ok := table.FindChild(RootIno, "docs")
	require.True(t, ok)
	docs := table.Get(docsIno)
	require.False(t, docs.ChildrenLoaded())
	require.Equal(t, "k51docs", docs.FolderIPNSName())
}
