// Package vaultcrypto implements the crypto primitives the vault engine
// depends on: AEAD sealing, streaming-media CTR encryption, hybrid
// asymmetric key wrap, Ed25519 signature keypairs, and deterministic key
// derivation. All of it must be byte-exact with the peer ecosystem this
// engine interoperates with, so formats here are fixed, not negotiated.
package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// GCMNonceSize is the AES-GCM nonce length in bytes.
	GCMNonceSize = 12
	// GCMTagSize is the AES-GCM authentication tag length in bytes.
	GCMTagSize = 16
	// MinSealedSize is the minimum plausible sealed-buffer length: nonce
	// plus tag with zero plaintext bytes.
	MinSealedSize = GCMNonceSize + GCMTagSize
)

// Seal encrypts pt under key with AES-256-GCM and a fresh random nonce,
// returning nonce || ciphertext || tag.
func Seal(pt, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.Seal", nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.Seal", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.Seal", err)
	}
	nonce := make([]byte, GCMNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.Seal", err)
	}
	out := gcm.Seal(nonce, nonce, pt, nil)
	return out, nil
}

// Unseal decrypts a buffer produced by Seal. Any failure — truncation,
// authentication failure — collapses to a single DECRYPTION error; the
// cause is never distinguishable to the caller.
func Unseal(sealed, key []byte) ([]byte, error) {
	if len(key) != KeySize || len(sealed) < MinSealedSize {
		return nil, vaulterr.New(vaulterr.Decryption, "vaultcrypto.Unseal", nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Decryption, "vaultcrypto.Unseal", nil)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Decryption, "vaultcrypto.Unseal", nil)
	}
	nonce, ct := sealed[:GCMNonceSize], sealed[GCMNonceSize:]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Decryption, "vaultcrypto.Unseal", nil)
	}
	return pt, nil
}
