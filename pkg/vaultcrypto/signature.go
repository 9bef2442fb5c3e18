package vaultcrypto

import (
	"crypto/rand"

	stded25519 "crypto/ed25519"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

const (
	// SeedSize is the length of an Ed25519 signing seed.
	SeedSize = 32
	// VerifyKeySize is the length of an Ed25519 public (verify) key.
	VerifyKeySize = 32
	// SignatureSize is the length of an Ed25519 signature.
	SignatureSize = 64
)

// SigningKeyFromSeed deterministically derives an Ed25519 keypair from a
// 32-byte seed, wrapped in libp2p's crypto.PrivKey so the same key type
// serves both ad-hoc signing and the name-record key-type envelope (§4.3).
func SigningKeyFromSeed(seed []byte) (libp2pcrypto.PrivKey, error) {
	if len(seed) != SeedSize {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.SigningKeyFromSeed", nil)
	}
	raw := stded25519.NewKeyFromSeed(seed) // 64 bytes: seed || pubkey
	priv, err := libp2pcrypto.UnmarshalEd25519PrivateKey(raw)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.SigningKeyFromSeed", err)
	}
	return priv, nil
}

// GenerateSigningKey produces a fresh random Ed25519 keypair.
func GenerateSigningKey() (libp2pcrypto.PrivKey, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.GenerateSigningKey", err)
	}
	return SigningKeyFromSeed(seed)
}

// Sign produces a 64-byte Ed25519 signature over msg.
func Sign(priv libp2pcrypto.PrivKey, msg []byte) ([]byte, error) {
	sig, err := priv.Sign(msg)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.Sign", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid Ed25519 signature over msg by pub.
// It never panics: any internal failure (malformed key, malformed
// signature) is reported as false, matching the spec's "verify never
// panics" requirement.
func Verify(pub libp2pcrypto.PubKey, msg, sig []byte) bool {
	ok, err := pub.Verify(msg, sig)
	if err != nil {
		return false
	}
	return ok
}

// VerifyKeyBytes returns the raw 32-byte Ed25519 public key.
func VerifyKeyBytes(pub libp2pcrypto.PubKey) ([]byte, error) {
	raw, err := pub.Raw()
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.VerifyKeyBytes", err)
	}
	return raw, nil
}

// MarshalPublicKeyEnvelope produces the protobuf-framed key-type envelope
// libp2p uses for its PublicKey message: [tag=1 varint type, tag=2 bytes
// data]. This is exactly the "key-type envelope" spec §4.3 embeds in the
// identity multihash when deriving a record's self-certifying name.
func MarshalPublicKeyEnvelope(pub libp2pcrypto.PubKey) ([]byte, error) {
	b, err := libp2pcrypto.MarshalPublicKey(pub)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "vaultcrypto.MarshalPublicKeyEnvelope", err)
	}
	return b, nil
}

// UnmarshalVerifyKey parses a raw 32-byte Ed25519 public key into a
// libp2p PubKey usable with Verify.
func UnmarshalVerifyKey(raw []byte) (libp2pcrypto.PubKey, error) {
	if len(raw) != VerifyKeySize {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.UnmarshalVerifyKey", nil)
	}
	pub, err := libp2pcrypto.UnmarshalEd25519PublicKey(raw)
	if err != nil {
		return nil, vaulterr.New(vaulterr.CryptoParam, "vaultcrypto.UnmarshalVerifyKey", err)
	}
	return pub, nil
}
