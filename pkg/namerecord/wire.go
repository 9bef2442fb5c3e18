package namerecord

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// Protobuf field numbers for the tagged envelope, matching the IPNS
// record wire schema this engine interoperates with.
const (
	fieldValue        = 1
	fieldSignatureV1  = 2
	fieldValidityType = 3
	fieldValidity     = 4
	fieldSequence     = 5
	fieldTTL          = 6
	fieldPubKey       = 7
	fieldSignatureV2  = 8
	fieldData         = 9
)

// marshalEnvelope serializes a Record into the length-delimited tagged
// envelope described in spec §3/§4.3.
func marshalEnvelope(r *Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(r.Value))
	b = protowire.AppendTag(b, fieldSignatureV1, protowire.BytesType)
	b = protowire.AppendBytes(b, r.SignatureV1)
	b = protowire.AppendTag(b, fieldValidityType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ValidityType))
	b = protowire.AppendTag(b, fieldValidity, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(r.Validity))
	b = protowire.AppendTag(b, fieldSequence, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Sequence)
	b = protowire.AppendTag(b, fieldTTL, protowire.VarintType)
	b = protowire.AppendVarint(b, r.TTL)
	b = protowire.AppendTag(b, fieldPubKey, protowire.BytesType)
	b = protowire.AppendBytes(b, r.PubKeyEnvelope)
	b = protowire.AppendTag(b, fieldSignatureV2, protowire.BytesType)
	b = protowire.AppendBytes(b, r.SignatureV2)
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Data)
	return b
}

// unmarshalEnvelope is the inverse of marshalEnvelope.
func unmarshalEnvelope(b []byte) (*Record, error) {
	r := &Record{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, vaulterr.New(vaulterr.Deserialization, "namerecord.unmarshalEnvelope", nil)
		}
		b = b[n:]

		switch num {
		case fieldValue, fieldSignatureV1, fieldValidity, fieldPubKey, fieldSignatureV2, fieldData:
			if typ != protowire.BytesType {
				return nil, vaulterr.New(vaulterr.Deserialization, "namerecord.unmarshalEnvelope", nil)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, vaulterr.New(vaulterr.Deserialization, "namerecord.unmarshalEnvelope", nil)
			}
			b = b[n:]
			switch num {
			case fieldValue:
				r.Value = string(v)
			case fieldSignatureV1:
				r.SignatureV1 = append([]byte{}, v...)
			case fieldValidity:
				r.Validity = string(v)
			case fieldPubKey:
				r.PubKeyEnvelope = append([]byte{}, v...)
			case fieldSignatureV2:
				r.SignatureV2 = append([]byte{}, v...)
			case fieldData:
				r.Data = append([]byte{}, v...)
			}
		case fieldValidityType, fieldSequence, fieldTTL:
			if typ != protowire.VarintType {
				return nil, vaulterr.New(vaulterr.Deserialization, "namerecord.unmarshalEnvelope", nil)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, vaulterr.New(vaulterr.Deserialization, "namerecord.unmarshalEnvelope", nil)
			}
			b = b[n:]
			switch num {
			case fieldValidityType:
				r.ValidityType = uint32(v)
			case fieldSequence:
				r.Sequence = v
			case fieldTTL:
				r.TTL = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, vaulterr.New(vaulterr.Deserialization, "namerecord.unmarshalEnvelope", nil)
			}
			b = b[n:]
		}
	}
	return r, nil
}
