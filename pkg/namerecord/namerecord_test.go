package namerecord

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cipherbox/vaultfs/pkg/vaultcrypto"
)

func TestCreateVerifyRoundTrip(t *testing.T) {
	priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	rec, err := Create(priv, "/vault/folder/abc123", 7, 48*time.Hour)
	require.NoError(t, err)

	ok, err := rec.Verify()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsTamperedValue(t *testing.T) {
	priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	rec, err := Create(priv, "/vault/folder/abc123", 1, time.Hour)
	require.NoError(t, err)

	rec.Value = "/vault/folder/evil"
	ok, err := rec.Verify()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	rec, err := Create(priv, "/vault/folder/abc123", 42, time.Minute)
	require.NoError(t, err)

	b := rec.Marshal()
	got, err := Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, rec, got)

	ok, err := got.Verify()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestDecodeCBORPayloadMatchesRecordFields(t *testing.T) {
	priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	rec, err := Create(priv, "/vault/folder/xyz", 3, time.Hour)
	require.NoError(t, err)

	p, err := decodeCBORPayload(rec.Data)
	require.NoError(t, err)
	require.Equal(t, rec.Value, string(p.Value))
	require.Equal(t, rec.Validity, string(p.Validity))
	require.Equal(t, rec.Sequence, p.Sequence)
	require.Equal(t, rec.TTL, p.TTL)
}

func TestDeriveNameIsStableAndBase36(t *testing.T) {
	priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	name1, err := DeriveName(priv.GetPublic())
	require.NoError(t, err)
	name2, err := DeriveName(priv.GetPublic())
	require.NoError(t, err)

	require.Equal(t, name1, name2)
	require.True(t, strings.HasPrefix(name1, "k"))
}

func TestDeriveNameDiffersAcrossKeys(t *testing.T) {
	priv1, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)
	priv2, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	name1, err := DeriveName(priv1.GetPublic())
	require.NoError(t, err)
	name2, err := DeriveName(priv2.GetPublic())
	require.NoError(t, err)

	require.NotEqual(t, name1, name2)
}

func TestDeriveNameFromEnvelopeMatchesDeriveName(t *testing.T) {
	priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	rec, err := Create(priv, "/vault/folder/abc", 1, time.Hour)
	require.NoError(t, err)

	fromEnvelope, err := DeriveNameFromEnvelope(rec.PubKeyEnvelope)
	require.NoError(t, err)

	direct, err := DeriveName(priv.GetPublic())
	require.NoError(t, err)

	require.Equal(t, direct, fromEnvelope)
}
