package namerecord

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// canonicalPayload is the CBOR map backing a record's canonical signature.
// Field order matches struct declaration order under fxamacker/cbor's
// default (non-sorted) struct encoding, which is required here: the spec
// fixes the key order (TTL, Value, Sequence, Validity, ValidityType)
// rather than leaving it to canonical-CBOR key sorting.
type canonicalPayload struct {
	TTL          uint64 `cbor:"TTL"`
	Value        []byte `cbor:"Value"`
	Sequence     uint64 `cbor:"Sequence"`
	Validity     []byte `cbor:"Validity"`
	ValidityType uint64 `cbor:"ValidityType"`
}

func encodeCBORPayload(value []byte, validity []byte, sequence, ttl uint64) ([]byte, error) {
	p := canonicalPayload{
		TTL:          ttl,
		Value:        value,
		Sequence:     sequence,
		Validity:     validity,
		ValidityType: 0,
	}
	b, err := cbor.Marshal(p)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Serialization, "namerecord.encodeCBORPayload", err)
	}
	return b, nil
}

func decodeCBORPayload(data []byte) (*canonicalPayload, error) {
	var p canonicalPayload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, vaulterr.New(vaulterr.Deserialization, "namerecord.decodeCBORPayload", err)
	}
	return &p, nil
}
