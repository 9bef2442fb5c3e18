package vaultfs

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/cipherbox/vaultfs/pkg/inode"
	"github.com/cipherbox/vaultfs/pkg/manifest"
	"github.com/cipherbox/vaultfs/pkg/namerecord"
	"github.com/cipherbox/vaultfs/pkg/vaultcrypto"
	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// newAESKey generates a fresh random AES-256 key for a new folder's or
// file's own content encryption.
func newAESKey() ([]byte, error) {
	key := make([]byte, vaultcrypto.KeySize)
	if _, err := cryptorand.Read(key); err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultfs.newAESKey", err)
	}
	return key, nil
}

// folderContext is everything mutateFolder/refreshFolder need to locate
// and decrypt a directory's own manifest.
type folderContext struct {
	ipnsName   string
	folderKey  []byte
	signingKey libp2pcrypto.PrivKey // nil for directories this mount cannot publish to
}

func (fsys *FS) folderContext(d *inode.Data) (*folderContext, error) {
	switch d.Kind {
	case inode.KindRoot:
		var signingKey libp2pcrypto.PrivKey
		if d.Root.IPNSPrivateKey != nil {
			k, err := vaultcrypto.SigningKeyFromSeed(d.Root.IPNSPrivateKey.Bytes())
			if err != nil {
				return nil, err
			}
			signingKey = k
		}
		if d.Root.FolderKey == nil {
			return nil, vaulterr.New(vaulterr.Internal, "vaultfs.folderContext", nil)
		}
		return &folderContext{ipnsName: d.Root.IPNSName, folderKey: d.Root.FolderKey.Bytes(), signingKey: signingKey}, nil
	case inode.KindFolder:
		k, err := vaultcrypto.SigningKeyFromSeed(d.Folder.IPNSPrivateKey.Bytes())
		if err != nil {
			return nil, err
		}
		return &folderContext{ipnsName: d.Folder.IPNSName, folderKey: d.Folder.FolderKey.Bytes(), signingKey: k}, nil
	default:
		return nil, vaulterr.New(vaulterr.NotDirectory, "vaultfs.folderContext", nil)
	}
}

// fetchFolder resolves, fetches, and decrypts the manifest currently
// published under fc, bypassing the TTL cache.
func (fsys *FS) fetchFolder(ctx context.Context, fc *folderContext) (*manifest.FolderMetadata, string, error) {
	resolved, err := fsys.resolver.Resolve(ctx, fc.ipnsName)
	if err != nil {
		return nil, "", err
	}
	sealed, err := fsys.store.Fetch(ctx, resolved.Address)
	if err != nil {
		return nil, "", err
	}
	meta, err := manifest.DecryptFolderMetadata(sealed, fc.folderKey)
	if err != nil {
		return nil, "", err
	}
	return meta, resolved.Address, nil
}

// triggerRefresh kicks off a background manifest refresh for ino,
// deduplicating concurrent refreshes of the same directory. Lookup and
// Readdir never block on this — they reply immediately and rely on the
// kernel retrying once the refresh lands. A directory mutated locally
// within mutationCooldown is populated merge-only, so a refresh carrying
// a manifest fetched before that mutation propagated can't drop the
// just-written child.
func (fsys *FS) triggerRefresh(ino uint64) {
	fsys.refreshMu.Lock()
	if _, inFlight := fsys.refreshing[ino]; inFlight {
		fsys.refreshMu.Unlock()
		return
	}
	fsys.refreshing[ino] = struct{}{}
	fsys.refreshMu.Unlock()

	go func() {
		defer func() {
			fsys.refreshMu.Lock()
			delete(fsys.refreshing, ino)
			fsys.refreshMu.Unlock()
		}()

		ctx, cancel := withTimeout(context.Background(), refreshTimeout)
		defer cancel()

		d := fsys.table.Get(ino)
		if d == nil {
			return
		}
		fc, err := fsys.folderContext(d)
		if err != nil {
			return
		}
		mergeOnly := fsys.recentlyMutated(ino)

		if cached, ok := fsys.metaCache.Get(fc.ipnsName); ok {
			_ = fsys.table.PopulateFolder(ino, cached.Metadata, fsys.recipientPrivateKey(), mergeOnly)
			return
		}

		meta, cid, err := fsys.fetchFolder(ctx, fc)
		if err != nil {
			return
		}
		fsys.metaCache.Set(fc.ipnsName, meta, cid)
		_ = fsys.table.PopulateFolder(ino, meta, fsys.recipientPrivateKey(), mergeOnly)
	}()
}

func (fsys *FS) recipientPrivateKey() []byte {
	priv, err := fsys.keys.PrivateKey()
	if err != nil {
		return nil
	}
	return priv
}

// triggerPrefetch starts best-effort background content fetches for
// resolved-but-uncached file children, so a subsequent read() is warm.
// Unresolved pointers (no CID yet) are skipped; they are resolved
// separately via resolveFilePointer, which Bootstrap runs for every
// unresolved pointer.
func (fsys *FS) triggerPrefetch(d *inode.Data) {
	for _, childIno := range d.Children {
		child := fsys.table.Get(childIno)
		if child == nil || child.Kind != inode.KindFile || !child.File.FileMetaResolved {
			continue
		}
		if _, cached := fsys.contentCache.Get(child.File.CID); cached {
			continue
		}
		go func() {
			ctx, cancel := withTimeout(context.Background(), refreshTimeout)
			defer cancel()
			_, _ = fsys.fetchFileContent(ctx, child) // fetches, decrypts and caches the plaintext
		}()
	}
}

// resolveFilePointer fetches and decrypts a placeholder File inode's own
// record, filling in its crypto context via inode.Table.Resolve.
func (fsys *FS) resolveFilePointer(ctx context.Context, ptr inode.UnresolvedPointer, parentFolderKey []byte) error {
	resolved, err := fsys.resolver.Resolve(ctx, ptr.FileMetaIPNSName)
	if err != nil {
		return err
	}
	sealed, err := fsys.store.Fetch(ctx, resolved.Address)
	if err != nil {
		return err
	}
	meta, err := manifest.DecryptFileMetadata(sealed, parentFolderKey)
	if err != nil {
		return err
	}
	fsys.table.Resolve(ptr.Ino, meta.CID, meta.FileKeyEncrypted, meta.FileIV, meta.Size, meta.EncryptionMode)
	return nil
}

// mutateFolder runs mutate against parentIno's current (non-cached)
// manifest, then re-encrypts, uploads, and publishes the result,
// updating local state to match before returning. This is a deliberate
// departure from the "never block on network I/O" rule that governs the
// read path: a create/write/rename must be confirmed published before
// the kernel can be told it succeeded.
func (fsys *FS) mutateFolder(ctx context.Context, parentIno uint64, mutate func(*manifest.FolderMetadata) error) error {
	d := fsys.table.Get(parentIno)
	if d == nil {
		return vaulterr.New(vaulterr.NotFound, "vaultfs.mutateFolder", nil)
	}
	fc, err := fsys.folderContext(d)
	if err != nil {
		return err
	}
	if fc.signingKey == nil {
		return vaulterr.New(vaulterr.AccessDenied, "vaultfs.mutateFolder", nil)
	}

	meta, _, err := fsys.fetchFolder(ctx, fc)
	if err != nil {
		return err
	}
	if err := mutate(meta); err != nil {
		return err
	}

	sealed, err := manifest.EncryptFolderMetadata(meta, fc.folderKey)
	if err != nil {
		return err
	}
	cid, err := fsys.store.Upload(ctx, sealed)
	if err != nil {
		return err
	}

	err = fsys.publisher.WithLock(fc.ipnsName, func() error {
		seq, _, err := fsys.publisher.ResolveSequence(ctx, fsys.resolver, fc.ipnsName)
		if err != nil {
			return err
		}
		next := seq + 1
		rec, err := namerecord.Create(fc.signingKey, "/ipfs/"+cid, next, recordLifetime)
		if err != nil {
			return err
		}
		if err := fsys.resolver.Publish(ctx, fc.ipnsName, rec); err != nil {
			return err
		}
		fsys.publisher.RecordPublish(fc.ipnsName, next)
		return nil
	})
	if err != nil {
		return err
	}

	fsys.metaCache.Set(fc.ipnsName, meta, cid)
	fsys.markMutated(parentIno)
	return fsys.table.PopulateFolder(parentIno, meta, fsys.recipientPrivateKey(), false)
}

// newIdentity generates a fresh Ed25519 signing keypair for a new
// folder's or file's own name record, returning both the usable PrivKey
// and its raw 32-byte seed (the seed is what gets ECIES-wrapped and
// stored in the parent manifest; SigningKeyFromSeed reconstitutes the
// PrivKey from it on every later load).
func newIdentity() (libp2pcrypto.PrivKey, []byte, string, error) {
	seed := make([]byte, vaultcrypto.SeedSize)
	if _, err := cryptorand.Read(seed); err != nil {
		return nil, nil, "", vaulterr.New(vaulterr.Internal, "vaultfs.newIdentity", err)
	}
	priv, err := vaultcrypto.SigningKeyFromSeed(seed)
	if err != nil {
		return nil, nil, "", err
	}
	name, err := namerecord.DeriveName(priv.GetPublic())
	if err != nil {
		return nil, nil, "", err
	}
	return priv, seed, name, nil
}

// publishInitial publishes the first (sequence 0) record for a brand
// new name, recording the sequence in the publish coordinator so a
// later mutateFolder on the same name starts from the right place.
func (fsys *FS) publishInitial(ctx context.Context, signingKey libp2pcrypto.PrivKey, name, value string) error {
	rec, err := namerecord.Create(signingKey, value, 0, recordLifetime)
	if err != nil {
		return err
	}
	if err := fsys.resolver.Publish(ctx, name, rec); err != nil {
		return err
	}
	fsys.publisher.RecordPublish(name, 0)
	return nil
}

// fileKeyFor unwraps a file inode's content encryption key.
func (fsys *FS) fileKeyFor(d *inode.Data) ([]byte, error) {
	wrapped, err := hex.DecodeString(d.File.EncryptedFileKey)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Deserialization, "vaultfs.fileKeyFor", err)
	}
	return vaultcrypto.UnwrapKey(wrapped, fsys.recipientPrivateKey())
}

// fetchFileContent returns d's decrypted content, serving from the
// content cache when possible.
func (fsys *FS) fetchFileContent(ctx context.Context, d *inode.Data) ([]byte, error) {
	if cached, ok := fsys.contentCache.Get(d.File.CID); ok {
		return cached, nil
	}
	sealed, err := fsys.store.Fetch(ctx, d.File.CID)
	if err != nil {
		return nil, err
	}
	key, err := fsys.fileKeyFor(d)
	if err != nil {
		return nil, err
	}

	var pt []byte
	switch manifest.EncryptionMode(d.File.EncryptionMode) {
	case manifest.ModeCTR:
		iv, err := hex.DecodeString(d.File.IV)
		if err != nil {
			return nil, vaulterr.New(vaulterr.Deserialization, "vaultfs.fetchFileContent", err)
		}
		pt, err = vaultcrypto.DecryptCTR(sealed, key, iv)
		if err != nil {
			return nil, err
		}
	default:
		pt, err = vaultcrypto.Unseal(sealed, key)
		if err != nil {
			return nil, err
		}
	}
	fsys.contentCache.Set(d.File.CID, pt)
	return pt, nil
}

// fetchFileRange returns d's decrypted content restricted to
// [off, off+size), without fetching or decrypting bytes past what's
// needed. Only ModeCTR (streaming) files support this: CTR is a stream
// cipher so any block can be decrypted independently, while a GCM-sealed
// file must be authenticated over its entire ciphertext before any byte
// of it can be trusted, so those fall back to fetchFileContent plus a
// local slice.
func (fsys *FS) fetchFileRange(ctx context.Context, d *inode.Data, off, size int64) ([]byte, error) {
	if manifest.EncryptionMode(d.File.EncryptionMode) != manifest.ModeCTR {
		content, err := fsys.fetchFileContent(ctx, d)
		if err != nil {
			return nil, err
		}
		if off >= int64(len(content)) {
			return nil, nil
		}
		end := off + size
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		return content[off:end], nil
	}

	if off < 0 || off >= int64(d.File.Size) {
		return nil, nil
	}
	end := off + size - 1
	if end >= int64(d.File.Size) {
		end = int64(d.File.Size) - 1
	}

	key, err := fsys.fileKeyFor(d)
	if err != nil {
		return nil, err
	}
	iv, err := hex.DecodeString(d.File.IV)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Deserialization, "vaultfs.fetchFileRange", err)
	}

	ct, err := fsys.store.FetchRange(ctx, d.File.CID, 0, end)
	if err != nil {
		return nil, err
	}
	return vaultcrypto.DecryptCTRRange(ct, key, iv, off, end)
}

// commitFile encrypts and uploads a write-buffer handle's dirty content,
// publishes a new record under the file's own name (bumping its
// sequence), and updates the inode table to reflect the new CID/size.
func (fsys *FS) commitFile(ctx context.Context, ino uint64, content []byte) error {
	d := fsys.table.Get(ino)
	if d == nil {
		return vaulterr.New(vaulterr.NotFound, "vaultfs.commitFile", nil)
	}
	if d.File.FileIPNSPrivateKey == nil {
		return vaulterr.New(vaulterr.AccessDenied, "vaultfs.commitFile", nil)
	}
	parent := fsys.table.Get(d.ParentIno)
	if parent == nil {
		return vaulterr.New(vaulterr.NotFound, "vaultfs.commitFile", nil)
	}
	parentFC, err := fsys.folderContext(parent)
	if err != nil {
		return err
	}

	key, err := fsys.fileKeyFor(d)
	if err != nil {
		return err
	}
	sealed, err := vaultcrypto.Seal(content, key)
	if err != nil {
		return err
	}
	contentCID, err := fsys.store.Upload(ctx, sealed)
	if err != nil {
		return err
	}

	now := nowMillis()
	fileMeta := &manifest.FileMetadata{
		Version:          manifest.SchemaVersion,
		CID:              contentCID,
		FileKeyEncrypted: d.File.EncryptedFileKey,
		FileIV:           d.File.IV,
		Size:             uint64(len(content)),
		EncryptionMode:   string(manifest.ModeGCM),
		ModifiedAt:       now,
	}
	metaSealed, err := manifest.EncryptFileMetadata(fileMeta, parentFC.folderKey)
	if err != nil {
		return err
	}
	metaCID, err := fsys.store.Upload(ctx, metaSealed)
	if err != nil {
		return err
	}

	signingKey, err := vaultcrypto.SigningKeyFromSeed(d.File.FileIPNSPrivateKey.Bytes())
	if err != nil {
		return err
	}
	name := d.File.FileMetaIPNSName

	err = fsys.publisher.WithLock(name, func() error {
		seq, _, err := fsys.publisher.ResolveSequence(ctx, fsys.resolver, name)
		if err != nil {
			return err
		}
		next := seq + 1
		rec, err := namerecord.Create(signingKey, "/ipfs/"+metaCID, next, recordLifetime)
		if err != nil {
			return err
		}
		if err := fsys.resolver.Publish(ctx, name, rec); err != nil {
			return err
		}
		fsys.publisher.RecordPublish(name, next)
		return nil
	})
	if err != nil {
		return err
	}

	fsys.contentCache.Set(contentCID, content)
	fsys.table.Resolve(ino, contentCID, d.File.EncryptedFileKey, d.File.IV, uint64(len(content)), string(manifest.ModeGCM))
	return nil
}

// wrapForRecipient ECIES-wraps key material under this mount's own
// recipient public key, so a newly-created child's keys are readable by
// the same owner that created it (the spec has no multi-recipient
// sharing surface yet — see DESIGN.md's pkg/vaultfs notes).
func (fsys *FS) wrapForRecipient(data []byte) (string, error) {
	pub, err := fsys.keys.PublicKey()
	if err != nil {
		return "", err
	}
	wrapped, err := vaultcrypto.WrapKey(data, pub)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(wrapped), nil
}
