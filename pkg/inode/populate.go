package inode

import (
	"encoding/hex"
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/cipherbox/vaultfs/pkg/manifest"
	"github.com/cipherbox/vaultfs/pkg/secret"
	"github.com/cipherbox/vaultfs/pkg/vaultcrypto"
	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// PopulateFolder rebuilds parentIno's children from a decrypted folder
// manifest, reusing existing inode numbers for children matching by name
// so open file handles and NFS clients see stable inode numbers across
// remote refreshes.
//
// Subfolder keys and per-folder record-signing keys arrive ECIES-wrapped
// under the vault owner's recipientPrivateKey and are unwrapped here.
// FilePointer children become placeholder File inodes carrying
// FileMetaIPNSName, the default GCM mode and, when the pointer has one,
// the unwrapped per-file signing key; a child that already resolved
// keeps its resolved crypto context. Callers must resolve new
// placeholders (Resolve) before the
// first readdir that needs their size, matching the "resolve before
// first READDIR" stability requirement.
//
// When mergeOnly is true (a background refresh), existing children absent
// from the new manifest are preserved rather than removed, so an
// in-flight publish that hasn't propagated yet doesn't make the file
// disappear from the tree. When false (first population), absent
// children are removed.
func (t *Table) PopulateFolder(parentIno uint64, meta *manifest.FolderMetadata, recipientPrivateKey []byte, mergeOnly bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	uid, gid := uint32(os.Getuid()), uint32(os.Getgid())

	newNames := make(map[string]struct{}, len(meta.Children))
	for _, c := range meta.Children {
		switch c.Type {
		case manifest.ChildFolder:
			newNames[c.Folder.Name] = struct{}{}
		case manifest.ChildFile:
			newNames[c.File.Name] = struct{}{}
		}
	}

	parent, ok := t.inodes[parentIno]
	if !ok {
		return vaulterr.New(vaulterr.NotFound, "inode.PopulateFolder", nil)
	}
	oldChildren := append([]uint64{}, parent.Children...)

	if !mergeOnly {
		for _, oldIno := range oldChildren {
			old, ok := t.inodes[oldIno]
			if !ok {
				continue
			}
			if _, keep := newNames[old.Name]; !keep {
				t.removeLocked(oldIno)
			}
		}
	}

	childInos := []uint64{}

	for _, c := range meta.Children {
		switch c.Type {
		case manifest.ChildFolder:
			ino, err := t.populateFolderChild(parentIno, c.Folder, recipientPrivateKey, uid, gid)
			if err != nil {
				return err
			}
			childInos = append(childInos, ino)
		case manifest.ChildFile:
			ino, err := t.populateFileChild(parentIno, c.File, recipientPrivateKey, uid, gid)
			if err != nil {
				return err
			}
			childInos = append(childInos, ino)
		}
	}

	if mergeOnly {
		present := make(map[uint64]struct{}, len(childInos))
		for _, ino := range childInos {
			present[ino] = struct{}{}
		}
		for _, oldIno := range oldChildren {
			if _, ok := present[oldIno]; !ok {
				childInos = append(childInos, oldIno)
			}
		}
	}

	parent = t.inodes[parentIno]
	changed := len(parent.Children) != len(childInos) || !equalInoSlices(parent.Children, childInos)
	if changed {
		now := time.Now()
		parent.Attr.SetTimes(nil, &now, &now)
	}
	parent.Children = childInos
	switch parent.Kind {
	case KindFolder:
		parent.Folder.ChildrenLoaded = true
	case KindRoot:
		parent.Root.ChildrenLoaded = true
	}
	return nil
}

func equalInoSlices(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Table) populateFolderChild(parentIno uint64, f *manifest.FolderEntry, recipientPrivateKey []byte, uid, gid uint32) (uint64, error) {
	existingIno, existed := t.nameToIno[nameKey{parentIno, normalizeName(f.Name)}]
	ino := existingIno
	if !existed {
		ino = t.nextIno.Add(1)
	}

	op := "inode.populateFolderChild " + f.Name
	wrappedFolderKey, err := hex.DecodeString(f.FolderKeyEncrypted)
	if err != nil {
		return 0, vaulterr.New(vaulterr.Deserialization, op, err)
	}
	folderKeyRaw, err := vaultcrypto.UnwrapKey(wrappedFolderKey, recipientPrivateKey)
	if err != nil {
		return 0, vaulterr.New(vaulterr.KindOf(err), op, err)
	}

	wrappedIPNSKey, err := hex.DecodeString(f.IPNSPrivateKeyEncrypted)
	if err != nil {
		return 0, vaulterr.New(vaulterr.Deserialization, op, err)
	}
	ipnsKeyRaw, err := vaultcrypto.UnwrapKey(wrappedIPNSKey, recipientPrivateKey)
	if err != nil {
		return 0, vaulterr.New(vaulterr.KindOf(err), op, err)
	}

	existingChildren := []uint64{}
	childrenLoaded := false
	if existed {
		if old, ok := t.inodes[ino]; ok {
			existingChildren = old.Children
			if old.Kind == KindFolder {
				childrenLoaded = old.Folder.ChildrenLoaded
			}
		}
	}

	created := time.UnixMilli(int64(f.CreatedAt))
	modified := time.UnixMilli(int64(f.ModifiedAt))

	data := &Data{
		Ino:       ino,
		ParentIno: parentIno,
		Name:      f.Name,
		Kind:      KindFolder,
		Folder: &FolderData{
			IPNSName:           f.IPNSName,
			EncryptedFolderKey: f.FolderKeyEncrypted,
			FolderKey:          secret.New(folderKeyRaw),
			IPNSPrivateKey:     secret.New(ipnsKeyRaw),
			ChildrenLoaded:     childrenLoaded,
		},
		Attr: fuse.Attr{
			Ino:     ino,
			Mode:    fuse.S_IFDIR | 0o755,
			Nlink:   2,
			Owner:   fuse.Owner{Uid: uid, Gid: gid},
			Blksize: BlockSize,
		},
		Children: existingChildren,
	}
	data.Attr.SetTimes(&modified, &modified, &modified)
	_ = created // FUSE has no creation-time field; retained for parity with the source manifest only

	t.insertLocked(data)
	return ino, nil
}

func (t *Table) populateFileChild(parentIno uint64, f *manifest.FilePointer, recipientPrivateKey []byte, uid, gid uint32) (uint64, error) {
	existingIno, existed := t.nameToIno[nameKey{parentIno, normalizeName(f.Name)}]
	ino := existingIno
	if !existed {
		ino = t.nextIno.Add(1)
	}

	var file *FileData
	if existed {
		if old, ok := t.inodes[ino]; ok && old.Kind == KindFile && old.File.FileMetaResolved {
			file = old.File
		}
	}
	if file == nil {
		file = &FileData{
			EncryptionMode:   string(manifest.ModeGCM),
			FileMetaIPNSName: f.FileMetaIPNSName,
			FileMetaResolved: false,
		}
	}
	if f.IPNSPrivateKeyEncrypted != nil && file.FileIPNSPrivateKey == nil {
		wrapped, err := hex.DecodeString(*f.IPNSPrivateKeyEncrypted)
		if err != nil {
			return 0, vaulterr.New(vaulterr.Deserialization, "inode.populateFileChild", err)
		}
		raw, err := vaultcrypto.UnwrapKey(wrapped, recipientPrivateKey)
		if err != nil {
			return 0, err
		}
		file.FileIPNSPrivateKey = secret.New(raw)
	}

	modified := time.UnixMilli(int64(f.ModifiedAt))

	data := &Data{
		Ino:       ino,
		ParentIno: parentIno,
		Name:      f.Name,
		Kind:      KindFile,
		File:      file,
		Attr: fuse.Attr{
			Ino:     ino,
			Mode:    fuse.S_IFREG | 0o644,
			Nlink:   1,
			Size:    file.Size,
			Blocks:  (file.Size + 511) / 512,
			Owner:   fuse.Owner{Uid: uid, Gid: gid},
			Blksize: BlockSize,
		},
	}
	data.Attr.SetTimes(&modified, &modified, &modified)

	t.insertLocked(data)
	return ino, nil
}

// Resolve fills in a placeholder File inode's crypto context once its
// per-file name record has been fetched and decrypted.
func (t *Table) Resolve(ino uint64, cid, encryptedFileKey, iv string, size uint64, encryptionMode string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.inodes[ino]
	if !ok || d.Kind != KindFile {
		return
	}
	d.File.CID = cid
	d.File.EncryptedFileKey = encryptedFileKey
	d.File.IV = iv
	d.File.Size = size
	d.File.EncryptionMode = encryptionMode
	d.File.FileMetaResolved = true
	d.Attr.Size = size
	d.Attr.Blocks = (size + 511) / 512
}

// UnresolvedPointer names a File inode whose per-file record hasn't been
// fetched yet.
type UnresolvedPointer struct {
	Ino              uint64
	FileMetaIPNSName string
}

// UnresolvedFilePointers returns every File inode still awaiting
// per-file record resolution, for batch resolution before readdir.
func (t *Table) UnresolvedFilePointers() []UnresolvedPointer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []UnresolvedPointer
	for _, d := range t.inodes {
		if d.Kind == KindFile && !d.File.FileMetaResolved && d.File.FileMetaIPNSName != "" {
			out = append(out, UnresolvedPointer{Ino: d.Ino, FileMetaIPNSName: d.File.FileMetaIPNSName})
		}
	}
	return out
}
