// Package writebuffer implements the open-file-handle write-buffering
// model: writes land in a local temp file, and the temp file's contents
// are only encrypted and uploaded when the handle is flushed or released
// (pkg/vaultfs commits a dirty handle on either). This avoids round-tripping
// to the object store on every write() call and makes each file update
// atomic from the object store's point of view.
package writebuffer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// Handle tracks one open file's temp-file write buffer.
//
// A read-only open has no temp file at all; content is served straight
// from the caller's own decrypted buffer. A writable open gets a temp
// file, pre-populated with the file's existing decrypted content when
// editing rather than creating.
type Handle struct {
	Ino          uint64
	Flags        int
	TempPath     string // empty for read-only opens
	Dirty        bool
	OriginalSize uint64
}

// NewRead creates a read-only handle: no temp file, never dirty.
func NewRead(ino uint64, flags int) *Handle {
	return &Handle{Ino: ino, Flags: flags}
}

// NewWrite creates a writable handle backed by a fresh temp file under
// tempDir, optionally pre-populated with existingContent (editing an
// existing file rather than creating one).
func NewWrite(ino uint64, flags int, tempDir string, existingContent []byte) (*Handle, error) {
	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return nil, vaulterr.New(vaulterr.IOGeneric, "writebuffer.NewWrite", err)
	}

	tempPath := filepath.Join(tempDir, fmt.Sprintf("cb-write-%d-%d", ino, time.Now().UnixNano()))

	var originalSize uint64
	if existingContent != nil {
		if err := os.WriteFile(tempPath, existingContent, 0o600); err != nil {
			return nil, vaulterr.New(vaulterr.IOGeneric, "writebuffer.NewWrite", err)
		}
		originalSize = uint64(len(existingContent))
	} else {
		f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, vaulterr.New(vaulterr.IOGeneric, "writebuffer.NewWrite", err)
		}
		f.Close()
	}

	return &Handle{Ino: ino, Flags: flags, TempPath: tempPath, OriginalSize: originalSize}, nil
}

// WriteAt writes data to the temp file at offset and marks the handle dirty.
func (h *Handle) WriteAt(offset int64, data []byte) (int, error) {
	if h.TempPath == "" {
		return 0, vaulterr.New(vaulterr.Internal, "writebuffer.WriteAt", nil)
	}
	f, err := os.OpenFile(h.TempPath, os.O_WRONLY, 0o600)
	if err != nil {
		return 0, vaulterr.New(vaulterr.IOGeneric, "writebuffer.WriteAt", err)
	}
	defer f.Close()

	n, err := f.WriteAt(data, offset)
	if err != nil {
		return n, vaulterr.New(vaulterr.IOGeneric, "writebuffer.WriteAt", err)
	}
	h.Dirty = true
	return n, nil
}

// ReadAt reads up to size bytes from the temp file at offset. Used for
// handles opened with read access alongside write access (O_RDWR).
func (h *Handle) ReadAt(offset int64, size int) ([]byte, error) {
	if h.TempPath == "" {
		return nil, vaulterr.New(vaulterr.Internal, "writebuffer.ReadAt", nil)
	}
	f, err := os.Open(h.TempPath)
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOGeneric, "writebuffer.ReadAt", err)
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, vaulterr.New(vaulterr.IOGeneric, "writebuffer.ReadAt", err)
	}
	return buf[:n], nil
}

// Size returns the temp file's current size.
func (h *Handle) Size() (uint64, error) {
	if h.TempPath == "" {
		return 0, vaulterr.New(vaulterr.Internal, "writebuffer.Size", nil)
	}
	info, err := os.Stat(h.TempPath)
	if err != nil {
		return 0, vaulterr.New(vaulterr.IOGeneric, "writebuffer.Size", err)
	}
	return uint64(info.Size()), nil
}

// ReadAll reads the temp file's entire contents, used to encrypt and
// upload on flush or release.
func (h *Handle) ReadAll() ([]byte, error) {
	if h.TempPath == "" {
		return nil, vaulterr.New(vaulterr.Internal, "writebuffer.ReadAll", nil)
	}
	b, err := os.ReadFile(h.TempPath)
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOGeneric, "writebuffer.ReadAll", err)
	}
	return b, nil
}

// Truncate resizes the temp file.
func (h *Handle) Truncate(size uint64) error {
	if h.TempPath == "" {
		return vaulterr.New(vaulterr.Internal, "writebuffer.Truncate", nil)
	}
	f, err := os.OpenFile(h.TempPath, os.O_WRONLY, 0o600)
	if err != nil {
		return vaulterr.New(vaulterr.IOGeneric, "writebuffer.Truncate", err)
	}
	defer f.Close()
	if err := f.Truncate(int64(size)); err != nil {
		return vaulterr.New(vaulterr.IOGeneric, "writebuffer.Truncate", err)
	}
	h.Dirty = true
	return nil
}

// Cleanup removes the temp file, if any. Called after a successful
// upload, or on error, or from release unconditionally.
func (h *Handle) Cleanup() error {
	if h.TempPath == "" {
		return nil
	}
	if err := os.Remove(h.TempPath); err != nil && !os.IsNotExist(err) {
		return vaulterr.New(vaulterr.IOGeneric, "writebuffer.Cleanup", err)
	}
	return nil
}
