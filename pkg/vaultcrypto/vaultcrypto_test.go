package vaultcrypto

import (
	"crypto/rand"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

func newTestPrivateKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

func randKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, KeySize)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

func TestSealUnsealRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 15, 16, 17, 1 << 20}
	for _, n := range lengths {
		key := randKey(t)
		pt := make([]byte, n)
		_, err := rand.Read(pt)
		require.NoError(t, err)

		sealed, err := Seal(pt, key)
		require.NoError(t, err)

		got, err := Unseal(sealed, key)
		require.NoError(t, err)
		require.Equal(t, pt, got)
	}
}

func TestUnsealRejectsTamperedCiphertext(t *testing.T) {
	key := randKey(t)
	sealed, err := Seal([]byte("hello"), key)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = Unseal(sealed, key)
	require.Error(t, err)
}

func TestUnsealRejectsShortBuffer(t *testing.T) {
	key := randKey(t)
	_, err := Unseal(make([]byte, 10), key)
	require.Error(t, err)
}

func TestCTRRangeDecryptMatchesFullDecrypt(t *testing.T) {
	key := randKey(t)
	iv := make([]byte, CTRIVSize)
	_, err := rand.Read(iv)
	require.NoError(t, err)

	pt := make([]byte, 10*1024*1024)
	_, err = rand.Read(pt)
	require.NoError(t, err)

	ct, err := EncryptCTR(pt, key, iv)
	require.NoError(t, err)

	full, err := DecryptCTR(ct, key, iv)
	require.NoError(t, err)
	require.Equal(t, pt, full)

	cases := []struct{ start, end int64 }{
		{0, 0},
		{5 * 1024 * 1024, 5*1024*1024 + 4096 - 1},
		{int64(len(ct)) - 1, int64(len(ct)) - 1},
	}
	for _, c := range cases {
		got, err := DecryptCTRRange(ct, key, iv, c.start, c.end)
		require.NoError(t, err)
		require.Equal(t, full[c.start:c.end+1], got)
	}
}

func TestCTRRangeDecryptBeyondBufferIsEmpty(t *testing.T) {
	key := randKey(t)
	iv := make([]byte, CTRIVSize)
	ct := make([]byte, 32)
	got, err := DecryptCTRRange(ct, key, iv, int64(len(ct)), int64(len(ct))+10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCTRRejectsWrongIVSize(t *testing.T) {
	key := randKey(t)
	_, err := EncryptCTR([]byte("x"), key, make([]byte, 12))
	require.Error(t, err)
}

func TestECIESWrapUnwrapRoundTrip(t *testing.T) {
	priv, err := newTestPrivateKey()
	require.NoError(t, err)
	pub := priv.PubKey().SerializeUncompressed()

	for _, n := range []int{0, 1, 1024, 64 * 1024} {
		data := make([]byte, n)
		_, err := rand.Read(data)
		require.NoError(t, err)

		wrapped, err := WrapKey(data, pub)
		require.NoError(t, err)

		got, err := UnwrapKey(wrapped, priv.Serialize())
		require.NoError(t, err)
		require.Equal(t, data, got)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateSigningKey()
	require.NoError(t, err)
	msg := []byte("the quick brown fox")

	sig, err := Sign(priv, msg)
	require.NoError(t, err)
	require.True(t, Verify(priv.GetPublic(), msg, sig))

	sig[0] ^= 0xFF
	require.False(t, Verify(priv.GetPublic(), msg, sig))
}

func TestDeriveRecipientKeypairIsStableAndUsableForWrap(t *testing.T) {
	secret := []byte("a fixed master secret for testing")

	priv1, pub1, err := DeriveRecipientKeypair(secret, InfoRecipientKey)
	require.NoError(t, err)
	priv2, pub2, err := DeriveRecipientKeypair(secret, InfoRecipientKey)
	require.NoError(t, err)
	require.Equal(t, priv1, priv2, "derivation must be deterministic")
	require.Equal(t, pub1, pub2)
	require.Len(t, priv1, Secp256k1PrivateKeySize)
	require.Len(t, pub1, Secp256k1PublicKeySize)

	otherPriv, _, err := DeriveRecipientKeypair(secret, InfoDeviceRegistry)
	require.NoError(t, err)
	require.NotEqual(t, priv1, otherPriv, "different info strings must derive different keys")

	data := []byte("a folder key to wrap")
	wrapped, err := WrapKey(data, pub1)
	require.NoError(t, err)
	got, err := UnwrapKey(wrapped, priv1)
	require.NoError(t, err)
	require.Equal(t, data, got)
}
