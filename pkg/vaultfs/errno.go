package vaultfs

import (
	"syscall"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// errnoFor maps this engine's error taxonomy onto the kernel errno a FUSE
// callback must return. Per spec §7, callers outside vaulterr never
// branch on the underlying cause of a DECRYPTION-kind error — only the
// kind crosses this boundary.
func errnoFor(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch vaulterr.KindOf(err) {
	case vaulterr.NotFound:
		return syscall.ENOENT
	case vaulterr.NotDirectory:
		return syscall.ENOTDIR
	case vaulterr.IsDirectory:
		return syscall.EISDIR
	case vaulterr.NotEmpty:
		return syscall.ENOTEMPTY
	case vaulterr.AccessDenied:
		return syscall.EACCES
	case vaulterr.Timeout:
		return syscall.ETIMEDOUT
	case vaulterr.Decryption, vaulterr.Serialization, vaulterr.Deserialization,
		vaulterr.CryptoParam, vaulterr.NetResolve, vaulterr.NetFetch,
		vaulterr.NetUpload, vaulterr.NetPublish, vaulterr.IOGeneric,
		vaulterr.Internal:
		return syscall.EIO
	default:
		return syscall.EIO
	}
}
