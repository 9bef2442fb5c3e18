package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

const (
	// CTRIVSize is the IV length required for streaming-media encryption:
	// an 8-byte nonce followed by an 8-byte big-endian block counter.
	CTRIVSize = 16
	// blockSize is the AES block size, also the CTR counter granularity.
	blockSize = 16
)

// EncryptCTR and DecryptCTR are the same operation: AES-256-CTR is a
// symmetric stream cipher, so encryption and decryption are identical.
// iv must be CTRIVSize bytes: 8-byte nonce || 8-byte big-endian counter.
func EncryptCTR(pt, key, iv []byte) ([]byte, error) {
	return xorCTR(pt, key, iv)
}

func DecryptCTR(ct, key, iv []byte) ([]byte, error) {
	return xorCTR(ct, key, iv)
}

func xorCTR(data, key, iv []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.xorCTR", nil)
	}
	if len(iv) != CTRIVSize {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.xorCTR", nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.xorCTR", err)
	}
	out := make([]byte, len(data))
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(out, data)
	return out, nil
}

// DecryptCTRRange decrypts only the byte range [start, end] (inclusive) of
// ciphertext encrypted under (key, iv) in CTR mode, without decrypting any
// preceding bytes. It must return a result identical to
// DecryptCTR(ct, key, iv)[start:end+1].
func DecryptCTRRange(ct, key, iv []byte, start, end int64) ([]byte, error) {
	if len(key) != KeySize {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.DecryptCTRRange", nil)
	}
	if len(iv) != CTRIVSize {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.DecryptCTRRange", nil)
	}
	if start < 0 || end < start {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.DecryptCTRRange", nil)
	}
	if start >= int64(len(ct)) {
		return []byte{}, nil
	}
	if end >= int64(len(ct)) {
		end = int64(len(ct)) - 1
	}

	nonce := iv[:8]
	counterBase := binary.BigEndian.Uint64(iv[8:])

	blockStart := (start / blockSize) * blockSize
	counterOffset := uint64(blockStart / blockSize)

	blockIV := make([]byte, CTRIVSize)
	copy(blockIV[:8], nonce)
	binary.BigEndian.PutUint64(blockIV[8:], counterBase+counterOffset)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.DecryptCTRRange", err)
	}
	window := ct[blockStart : end+1]
	out := make([]byte, len(window))
	stream := cipher.NewCTR(block, blockIV)
	stream.XORKeyStream(out, window)

	skip := start - blockStart
	return out[skip:], nil
}
