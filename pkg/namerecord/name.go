package namerecord

import (
	"github.com/ipfs/go-cid"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// libp2pKeyCodec is the CID multicodec for a libp2p public key, used to
// build self-certifying names the way the IPNS ecosystem does.
const libp2pKeyCodec = 0x72

// DeriveName computes the self-certifying name for a verify key: the
// protobuf key envelope, wrapped in an identity multihash, wrapped in a
// CIDv1 with the libp2p-key codec, base36-encoded. The resulting string
// always starts with 'k', a side effect of multibase's lowercase-base36
// prefix rather than anything this function chooses directly.
func DeriveName(pub libp2pcrypto.PubKey) (string, error) {
	envelope, err := libp2pcrypto.MarshalPublicKey(pub)
	if err != nil {
		return "", vaulterr.New(vaulterr.CryptoParam, "namerecord.DeriveName", err)
	}

	mh, err := multihash.Encode(envelope, multihash.IDENTITY)
	if err != nil {
		return "", vaulterr.New(vaulterr.Internal, "namerecord.DeriveName", err)
	}

	c := cid.NewCidV1(libp2pKeyCodec, mh)

	name, err := multibase.Encode(multibase.Base36, c.Bytes())
	if err != nil {
		return "", vaulterr.New(vaulterr.Internal, "namerecord.DeriveName", err)
	}
	return name, nil
}

// DeriveNameFromEnvelope derives the self-certifying name directly from a
// record's embedded public-key envelope, without re-marshaling a key.
func DeriveNameFromEnvelope(envelope []byte) (string, error) {
	pub, err := libp2pcrypto.UnmarshalPublicKey(envelope)
	if err != nil {
		return "", vaulterr.New(vaulterr.CryptoParam, "namerecord.DeriveNameFromEnvelope", err)
	}
	return DeriveName(pub)
}
