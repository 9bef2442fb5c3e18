package manifest

import (
	"encoding/json"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// VersionEntry is a single past version of a file, carrying enough crypto
// context to decrypt that version independently of the current one.
type VersionEntry struct {
	CID              string `json:"cid"`
	FileKeyEncrypted string `json:"fileKeyEncrypted"`
	FileIV           string `json:"fileIv"`
	Size             uint64 `json:"size"`
	Timestamp        uint64 `json:"timestamp"`
	EncryptionMode   string `json:"encryptionMode"`
}

// FileMetadata is the plaintext structure describing a single file's
// current crypto context and, optionally, past versions. It is sealed
// under the *parent folder's* AEAD key, never the file's own key.
type FileMetadata struct {
	Version          string          `json:"version"`
	CID              string          `json:"cid"`
	FileKeyEncrypted string          `json:"fileKeyEncrypted"`
	FileIV           string          `json:"fileIv"`
	Size             uint64          `json:"size"`
	MimeType         string          `json:"mimeType"`
	EncryptionMode   string          `json:"encryptionMode"`
	CreatedAt        uint64          `json:"createdAt"`
	ModifiedAt       uint64          `json:"modifiedAt"`
	Versions         []VersionEntry  `json:"versions,omitempty"`
}

// EncryptionMode enumerates the two supported per-file encryption modes.
type EncryptionMode string

const (
	ModeGCM EncryptionMode = "GCM"
	ModeCTR EncryptionMode = "CTR"
)

// EncryptFileMetadata seals a file manifest under its parent folder's key.
func EncryptFileMetadata(m *FileMetadata, parentFolderKey []byte) ([]byte, error) {
	if m.Version == "" {
		m.Version = SchemaVersion
	}
	if m.EncryptionMode == "" {
		m.EncryptionMode = string(ModeGCM)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Serialization, "manifest.EncryptFileMetadata", err)
	}
	return sealJSON(body, parentFolderKey)
}

// DecryptFileMetadata unseals and parses a file manifest using the
// parent folder's key, rejecting any version other than SchemaVersion
// with DESERIALIZATION.
func DecryptFileMetadata(sealed, parentFolderKey []byte) (*FileMetadata, error) {
	body, err := unsealJSON(sealed, parentFolderKey)
	if err != nil {
		return nil, err
	}
	var m FileMetadata
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, vaulterr.New(vaulterr.Deserialization, "manifest.DecryptFileMetadata", err)
	}
	if m.Version != SchemaVersion {
		return nil, vaulterr.New(vaulterr.Deserialization, "manifest.DecryptFileMetadata", nil)
	}
	if m.EncryptionMode == "" {
		m.EncryptionMode = string(ModeGCM)
	}
	return &m, nil
}
