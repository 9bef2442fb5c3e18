package vaultcrypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/crypto/hkdf"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// deriveSalt is the fixed HKDF salt shared by every derived key in this
// engine. Domain separation comes entirely from the info string.
var deriveSalt = []byte("CipherBox-v1")

const (
	// InfoVault is the domain-separation string for the root vault's
	// signing keypair.
	InfoVault = "cipherbox-vault-ipns-v1"
	// InfoDeviceRegistry is the domain-separation string for the device
	// registry's signing keypair.
	InfoDeviceRegistry = "cipherbox-device-registry-ipns-v1"
	// fileIDMinLength is the minimum length a fileId must have before it
	// may be used in a derived per-file info string.
	fileIDMinLength = 10
	// InfoRecipientKey is the domain-separation string for a passphrase-
	// derived recipient ECIES keypair.
	InfoRecipientKey = "cipherbox-recipient-ecies-v1"
)

// InfoFile builds the domain-separation string for a per-file signing
// keypair. fileID must be at least 10 characters; this is a deliberate
// floor against accidentally deriving from a short, guessable id.
func InfoFile(fileID string) (string, error) {
	if len(fileID) < fileIDMinLength {
		return "", vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.InfoFile", nil)
	}
	return fmt.Sprintf("cipherbox-file-ipns-v1:%s", fileID), nil
}

// DeriveSeed runs HKDF-SHA256 extract-and-expand over masterSecret with
// the fixed vault salt and the given domain-separated info string,
// producing a 32-byte seed suitable for SigningKeyFromSeed.
func DeriveSeed(masterSecret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, masterSecret, deriveSalt, []byte(info))
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.DeriveSeed", err)
	}
	return seed, nil
}

// DeriveSigningKey is DeriveSeed followed by SigningKeyFromSeed, the
// common case of deriving an Ed25519 keypair directly for a name record.
func DeriveSigningKey(masterSecret []byte, info string) (libp2pcrypto.PrivKey, error) {
	seed, err := DeriveSeed(masterSecret, info)
	if err != nil {
		return nil, err
	}
	return SigningKeyFromSeed(seed)
}

// DeriveAEADKey derives a 32-byte AES key via HKDF-SHA256 with the same
// fixed salt, used for e.g. the device-registry's manifest-sealing key.
func DeriveAEADKey(masterSecret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, masterSecret, deriveSalt, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.DeriveAEADKey", err)
	}
	return key, nil
}

// DeriveRecipientKeypair derives a secp256k1 ECIES keypair from
// masterSecret via HKDF-SHA256, domain-separated by info (normally
// InfoRecipientKey). Returns the 32-byte scalar private key and the
// 65-byte uncompressed public key, matching WrapKey/UnwrapKey's formats.
func DeriveRecipientKeypair(masterSecret []byte, info string) (priv []byte, pub []byte, err error) {
	r := hkdf.New(sha256.New, masterSecret, deriveSalt, []byte(info))
	scalar := make([]byte, Secp256k1PrivateKeySize)
	if _, err := io.ReadFull(r, scalar); err != nil {
		return nil, nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.DeriveRecipientKeypair", err)
	}
	key := secp256k1.PrivKeyFromBytes(scalar)
	defer key.Zero()
	return scalar, key.PubKey().SerializeUncompressed(), nil
}
