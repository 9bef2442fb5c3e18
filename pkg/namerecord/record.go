// Package namerecord builds, signs, serializes, and verifies signed
// mutable-name records, and derives a record's self-certifying name from
// its verify key.
package namerecord

import (
	"time"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cipherbox/vaultfs/pkg/vaultcrypto"
	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// ValidityEOL is the only validity-type value this engine emits or
// accepts: end-of-life, matching the real IPNS record schema's enum.
const ValidityEOL = 0

// rfc3339NanoLayout is the fixed, always-UTC, 9-fractional-digit layout
// the spec requires for the validity timestamp.
const rfc3339NanoLayout = "2006-01-02T15:04:05.000000000Z"

// Record is a signed mutable-name record: a target path plus validity and
// sequencing metadata, double-signed (legacy layout and canonical CBOR
// layout) so it stays interoperable with both old and new verifiers.
type Record struct {
	Value          string
	Validity       string
	ValidityType   uint32
	Sequence       uint64
	TTL            uint64
	SignatureV1    []byte
	SignatureV2    []byte
	Data           []byte // canonical CBOR payload
	PubKeyEnvelope []byte // protobuf-framed libp2p PublicKey message
}

// Create builds and signs a new Record.
func Create(signingKey libp2pcrypto.PrivKey, value string, sequence uint64, lifetime time.Duration) (*Record, error) {
	validity := time.Now().UTC().Add(lifetime).Format(rfc3339NanoLayout)
	ttl := uint64(lifetime.Nanoseconds())

	cborPayload, err := encodeCBORPayload([]byte(value), []byte(validity), sequence, ttl)
	if err != nil {
		return nil, err
	}

	legacyMsg := append(append([]byte{}, []byte(value)...), []byte(validity)...)
	legacyMsg = append(legacyMsg, protowire.AppendVarint(nil, ValidityEOL)...)
	sigV1, err := vaultcrypto.Sign(signingKey, legacyMsg)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "namerecord.Create", err)
	}

	canonicalMsg := append([]byte("ipns-signature:"), cborPayload...)
	sigV2, err := vaultcrypto.Sign(signingKey, canonicalMsg)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "namerecord.Create", err)
	}

	pubEnvelope, err := vaultcrypto.MarshalPublicKeyEnvelope(signingKey.GetPublic())
	if err != nil {
		return nil, err
	}

	return &Record{
		Value:          value,
		Validity:       validity,
		ValidityType:   ValidityEOL,
		Sequence:       sequence,
		TTL:            ttl,
		SignatureV1:    sigV1,
		SignatureV2:    sigV2,
		Data:           cborPayload,
		PubKeyEnvelope: pubEnvelope,
	}, nil
}

// Marshal serializes r into the tagged length-delimited envelope (§3).
func (r *Record) Marshal() []byte {
	return marshalEnvelope(r)
}

// Unmarshal parses a tagged length-delimited envelope into a Record.
func Unmarshal(b []byte) (*Record, error) {
	return unmarshalEnvelope(b)
}

// Verify checks both the legacy-layout and canonical-layout signatures
// against the verify key embedded in the record's own envelope. It never
// panics: any malformed input reports false and an error.
func (r *Record) Verify() (bool, error) {
	pub, err := libp2pcrypto.UnmarshalPublicKey(r.PubKeyEnvelope)
	if err != nil {
		return false, vaulterr.New(vaulterr.CryptoParam, "Record.Verify", err)
	}

	legacyMsg := append(append([]byte{}, []byte(r.Value)...), []byte(r.Validity)...)
	legacyMsg = append(legacyMsg, protowire.AppendVarint(nil, uint64(r.ValidityType))...)
	if !vaultcrypto.Verify(pub, legacyMsg, r.SignatureV1) {
		return false, nil
	}

	canonicalMsg := append([]byte("ipns-signature:"), r.Data...)
	if !vaultcrypto.Verify(pub, canonicalMsg, r.SignatureV2) {
		return false, nil
	}
	return true, nil
}

// PublicKey extracts the libp2p public key embedded in the record.
func (r *Record) PublicKey() (libp2pcrypto.PubKey, error) {
	pub, err := libp2pcrypto.UnmarshalPublicKey(r.PubKeyEnvelope)
	if err != nil {
		return nil, vaulterr.New(vaulterr.CryptoParam, "Record.PublicKey", err)
	}
	return pub, nil
}
