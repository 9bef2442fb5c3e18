package keyprovider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cipherbox/vaultfs/pkg/vaultcrypto"
)

func TestStaticProviderRoundTrip(t *testing.T) {
	priv, pub, err := vaultcrypto.DeriveRecipientKeypair([]byte("seed"), vaultcrypto.InfoRecipientKey)
	require.NoError(t, err)

	p, err := NewStaticProvider(priv, pub)
	require.NoError(t, err)

	gotPriv, err := p.PrivateKey()
	require.NoError(t, err)
	require.Equal(t, priv, gotPriv)

	gotPub, err := p.PublicKey()
	require.NoError(t, err)
	require.Equal(t, pub, gotPub)
}

func TestStaticProviderRejectsWrongSizes(t *testing.T) {
	_, pub, err := vaultcrypto.DeriveRecipientKeypair([]byte("seed"), vaultcrypto.InfoRecipientKey)
	require.NoError(t, err)

	_, err = NewStaticProvider([]byte("too short"), pub)
	require.Error(t, err)

	priv, _, err := vaultcrypto.DeriveRecipientKeypair([]byte("seed"), vaultcrypto.InfoRecipientKey)
	require.NoError(t, err)
	_, err = NewStaticProvider(priv, []byte("too short"))
	require.Error(t, err)
}

func TestPassphraseProviderIsDeterministic(t *testing.T) {
	p1, err := NewPassphraseProvider([]byte("correct horse battery staple"))
	require.NoError(t, err)
	p2, err := NewPassphraseProvider([]byte("correct horse battery staple"))
	require.NoError(t, err)

	priv1, err := p1.PrivateKey()
	require.NoError(t, err)
	priv2, err := p2.PrivateKey()
	require.NoError(t, err)
	require.Equal(t, priv1, priv2)

	pub1, err := p1.PublicKey()
	require.NoError(t, err)
	pub2, err := p2.PublicKey()
	require.NoError(t, err)
	require.Equal(t, pub1, pub2)
}

func TestPassphraseProviderDiffersAcrossPassphrases(t *testing.T) {
	p1, err := NewPassphraseProvider([]byte("passphrase-one"))
	require.NoError(t, err)
	p2, err := NewPassphraseProvider([]byte("passphrase-two"))
	require.NoError(t, err)

	priv1, _ := p1.PrivateKey()
	priv2, _ := p2.PrivateKey()
	require.NotEqual(t, priv1, priv2)
}

func TestPassphraseProviderKeyIsUsableForWrap(t *testing.T) {
	p, err := NewPassphraseProvider([]byte("a test passphrase"))
	require.NoError(t, err)
	priv, err := p.PrivateKey()
	require.NoError(t, err)
	pub, err := p.PublicKey()
	require.NoError(t, err)

	data := []byte("folder key material")
	wrapped, err := vaultcrypto.WrapKey(data, pub)
	require.NoError(t, err)
	got, err := vaultcrypto.UnwrapKey(wrapped, priv)
	require.NoError(t, err)
	require.Equal(t, data, got)
}
