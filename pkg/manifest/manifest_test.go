package manifest

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

func randKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

func TestFolderMetadataRoundTrip(t *testing.T) {
	key := randKey(t)
	m := &FolderMetadata{
		Version: SchemaVersion,
		Children: []FolderChild{
			{Type: ChildFolder, Folder: &FolderEntry{
				ID: "f1", Name: "Photos", IPNSName: "k51abc",
				FolderKeyEncrypted: "deadbeef", IPNSPrivateKeyEncrypted: "beefdead",
				CreatedAt: 1000, ModifiedAt: 1000,
			}},
			{Type: ChildFile, File: &FilePointer{
				ID: "p1", Name: "hello.txt", FileMetaIPNSName: "k51def",
				CreatedAt: 1000, ModifiedAt: 1000,
			}},
		},
	}

	sealed, err := EncryptFolderMetadata(m, key)
	require.NoError(t, err)

	got, err := DecryptFolderMetadata(sealed, key)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestFolderMetadataRejectsWrongVersion(t *testing.T) {
	key := randKey(t)
	body := []byte(`{"version":"v1","children":[]}`)
	sealed, err := sealJSON(body, key)
	require.NoError(t, err)

	_, err = DecryptFolderMetadata(sealed, key)
	require.Error(t, err)
}

func TestFileMetadataRoundTrip(t *testing.T) {
	key := randKey(t)
	m := &FileMetadata{
		Version: SchemaVersion, CID: "bafy123", FileKeyEncrypted: "aabb",
		FileIV: "ccdd", Size: 13, MimeType: "text/plain",
		EncryptionMode: string(ModeGCM), CreatedAt: 1, ModifiedAt: 2,
	}

	sealed, err := EncryptFileMetadata(m, key)
	require.NoError(t, err)

	got, err := DecryptFileMetadata(sealed, key)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestUnsealWrongKeyFailsAsDecryption(t *testing.T) {
	key1, key2 := randKey(t), randKey(t)
	m := &FolderMetadata{Version: SchemaVersion}
	sealed, err := EncryptFolderMetadata(m, key1)
	require.NoError(t, err)

	_, err = DecryptFolderMetadata(sealed, key2)
	require.Error(t, err)
	require.True(t, vaulterr.Is(err, vaulterr.Decryption))
}
