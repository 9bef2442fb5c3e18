package manifest

import (
	"encoding/json"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// SchemaVersion is the only folder/file manifest version this engine will
// write or accept. Older schemas are rejected outright — see SPEC_FULL.md
// §9 for why no migration path is implemented.
const SchemaVersion = "v2"

// FolderEntry is a subfolder reference within a folder manifest. Its
// folder key and record-signing key are hex-encoded ECIES wraps under the
// vault owner's recipient public key.
type FolderEntry struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	IPNSName                string `json:"ipnsName"`
	FolderKeyEncrypted      string `json:"folderKeyEncrypted"`
	IPNSPrivateKeyEncrypted string `json:"ipnsPrivateKeyEncrypted"`
	CreatedAt               uint64 `json:"createdAt"`
	ModifiedAt              uint64 `json:"modifiedAt"`
}

// FilePointer is a slim file reference within a folder manifest: it names
// the file's own record instead of embedding file crypto context inline.
type FilePointer struct {
	ID                      string  `json:"id"`
	Name                    string  `json:"name"`
	FileMetaIPNSName        string  `json:"fileMetaIpnsName"`
	IPNSPrivateKeyEncrypted *string `json:"ipnsPrivateKeyEncrypted,omitempty"`
	CreatedAt               uint64  `json:"createdAt"`
	ModifiedAt              uint64  `json:"modifiedAt"`
}

// ChildKind distinguishes a FolderChild's variant.
type ChildKind string

const (
	ChildFolder ChildKind = "folder"
	ChildFile   ChildKind = "file"
)

// FolderChild is a tagged union of FolderEntry and FilePointer, matching
// the wire shape `{"type": "folder"|"file", ...}`.
type FolderChild struct {
	Type   ChildKind    `json:"type"`
	Folder *FolderEntry `json:"-"`
	File   *FilePointer `json:"-"`
}

// MarshalJSON flattens the tagged variant into a single object with a
// "type" discriminator field, matching the Rust `#[serde(tag = "type")]`
// wire shape this engine must interoperate with.
func (c FolderChild) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ChildFolder:
		return marshalTagged("folder", c.Folder)
	case ChildFile:
		return marshalTagged("file", c.File)
	default:
		return nil, vaulterr.New(vaulterr.Serialization, "FolderChild.MarshalJSON", nil)
	}
}

func marshalTagged(tag string, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	tagged := struct {
		Type string `json:"type"`
	}{Type: tag}
	tagBytes, _ := json.Marshal(tagged)
	var tagMap map[string]json.RawMessage
	_ = json.Unmarshal(tagBytes, &tagMap)
	for k, v := range tagMap {
		m[k] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON dispatches on the "type" discriminator.
func (c *FolderChild) UnmarshalJSON(data []byte) error {
	var disc struct {
		Type ChildKind `json:"type"`
	}
	if err := json.Unmarshal(data, &disc); err != nil {
		return vaulterr.New(vaulterr.Deserialization, "FolderChild.UnmarshalJSON", err)
	}
	switch disc.Type {
	case ChildFolder:
		var f FolderEntry
		if err := json.Unmarshal(data, &f); err != nil {
			return vaulterr.New(vaulterr.Deserialization, "FolderChild.UnmarshalJSON", err)
		}
		c.Type, c.Folder = ChildFolder, &f
	case ChildFile:
		var f FilePointer
		if err := json.Unmarshal(data, &f); err != nil {
			return vaulterr.New(vaulterr.Deserialization, "FolderChild.UnmarshalJSON", err)
		}
		c.Type, c.File = ChildFile, &f
	default:
		return vaulterr.New(vaulterr.Deserialization, "FolderChild.UnmarshalJSON", nil)
	}
	return nil
}

// FolderMetadata is the plaintext structure describing a folder's
// children. The entire struct is JSON-serialized and AEAD-sealed as a
// single blob under the folder's own AEAD key.
type FolderMetadata struct {
	Version  string        `json:"version"`
	Children []FolderChild `json:"children"`
}

// EncryptFolderMetadata seals a folder manifest under folderKey.
func EncryptFolderMetadata(m *FolderMetadata, folderKey []byte) ([]byte, error) {
	if m.Version == "" {
		m.Version = SchemaVersion
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Serialization, "manifest.EncryptFolderMetadata", err)
	}
	return sealJSON(body, folderKey)
}

// DecryptFolderMetadata unseals and parses a folder manifest, rejecting
// any version other than SchemaVersion with DESERIALIZATION.
func DecryptFolderMetadata(sealed, folderKey []byte) (*FolderMetadata, error) {
	body, err := unsealJSON(sealed, folderKey)
	if err != nil {
		return nil, err
	}
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, vaulterr.New(vaulterr.Deserialization, "manifest.DecryptFolderMetadata", err)
	}
	if probe.Version != SchemaVersion {
		return nil, vaulterr.New(vaulterr.Deserialization, "manifest.DecryptFolderMetadata", nil)
	}
	var m FolderMetadata
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, vaulterr.New(vaulterr.Deserialization, "manifest.DecryptFolderMetadata", err)
	}
	return &m, nil
}
