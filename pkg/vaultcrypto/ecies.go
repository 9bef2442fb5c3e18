package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

const (
	// Secp256k1PublicKeySize is the uncompressed secp256k1 public key size:
	// a 0x04 prefix byte followed by the x and y coordinates.
	Secp256k1PublicKeySize = 65
	// Secp256k1PrivateKeySize is the secp256k1 scalar private key size.
	Secp256k1PrivateKeySize = 32
	// eciesNonceSize is the AES-GCM nonce size used by this wrap format —
	// 16 bytes, not the usual 12, to match the peer ecosystem's encoding.
	eciesNonceSize = 16
	// eciesMinCiphertextSize is ephemeral pubkey + nonce + tag, the
	// smallest a wrapped buffer can be even for zero-length plaintext.
	eciesMinCiphertextSize = Secp256k1PublicKeySize + eciesNonceSize + GCMTagSize
)

// WrapKey ECIES-wraps data under recipientPublicKey (uncompressed
// secp256k1, 65 bytes, leading 0x04). Output:
// ephemeral_pubkey(65) || nonce(16) || tag(16) || ciphertext.
func WrapKey(data, recipientPublicKey []byte) ([]byte, error) {
	if len(recipientPublicKey) != Secp256k1PublicKeySize {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.WrapKey", nil)
	}
	if recipientPublicKey[0] != 0x04 {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.WrapKey", nil)
	}
	recipientPub, err := secp256k1.ParsePubKey(recipientPublicKey)
	if err != nil {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.WrapKey", err)
	}

	ephemeralPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.WrapKey", err)
	}
	defer ephemeralPriv.Zero()

	symKey := sharedSymmetricKey(ephemeralPriv, recipientPub)

	nonce := make([]byte, eciesNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.WrapKey", err)
	}
	gcm, err := newGCMWithNonceSize(symKey, eciesNonceSize)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.WrapKey", err)
	}
	sealed := gcm.Seal(nil, nonce, data, nil)
	ct, tag := sealed[:len(data)], sealed[len(data):]

	ephemeralPub := ephemeralPriv.PubKey().SerializeUncompressed()

	out := make([]byte, 0, len(ephemeralPub)+len(nonce)+len(tag)+len(ct))
	out = append(out, ephemeralPub...)
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

// UnwrapKey is the inverse of WrapKey, given the recipient's private key.
func UnwrapKey(wrapped, privateKey []byte) ([]byte, error) {
	if len(privateKey) != Secp256k1PrivateKeySize {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.UnwrapKey", nil)
	}
	if len(wrapped) < eciesMinCiphertextSize {
		return nil, vaulterr.New(vaulterr.Decryption, "vaultcrypto.UnwrapKey", nil)
	}

	priv := secp256k1.PrivKeyFromBytes(privateKey)
	defer priv.Zero()

	ephemeralPub, err := secp256k1.ParsePubKey(wrapped[:Secp256k1PublicKeySize])
	if err != nil {
		return nil, vaulterr.New(vaulterr.Decryption, "vaultcrypto.UnwrapKey", nil)
	}
	rest := wrapped[Secp256k1PublicKeySize:]
	nonce := rest[:eciesNonceSize]
	tag := rest[eciesNonceSize : eciesNonceSize+GCMTagSize]
	ct := rest[eciesNonceSize+GCMTagSize:]

	symKey := sharedSymmetricKey(priv, ephemeralPub)
	gcm, err := newGCMWithNonceSize(symKey, eciesNonceSize)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Decryption, "vaultcrypto.UnwrapKey", nil)
	}
	sealed := append(append([]byte{}, ct...), tag...)
	pt, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Decryption, "vaultcrypto.UnwrapKey", nil)
	}
	return pt, nil
}

// sharedSymmetricKey performs ECDH over secp256k1 and hashes the shared
// point's x-coordinate down to a 32-byte AES key.
func sharedSymmetricKey(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) []byte {
	var pubJacobian secp256k1.JacobianPoint
	pub.AsJacobian(&pubJacobian)

	var shared secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&priv.Key, &pubJacobian, &shared)
	shared.ToAffine()

	x := shared.X.Bytes()
	sum := sha256.Sum256(x[:])
	return sum[:]
}

func newGCMWithNonceSize(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}
