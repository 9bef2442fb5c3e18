package ipnsresolve

import (
	"io"
	"strings"
	"testing"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/stretchr/testify/require"

	"github.com/cipherbox/vaultfs/pkg/namerecord"
	"github.com/cipherbox/vaultfs/pkg/vaultcrypto"
)

// fakeReadCloser lets decodeRoutingRecord be exercised without a live
// daemon connection: it's the only piece of this package that doesn't
// require one.
type fakeReadCloser struct {
	io.Reader
}

func (f *fakeReadCloser) Close() error { return nil }

func newFakeResponse(body []byte) *shell.Response {
	return &shell.Response{Output: &fakeReadCloser{Reader: strings.NewReader(string(body))}}
}

func TestDecodeRoutingRecordRoundTrip(t *testing.T) {
	priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	rec, err := namerecord.Create(priv, "/ipfs/bafytest", 7, time.Hour)
	require.NoError(t, err)

	resp := newFakeResponse(rec.Marshal())
	decoded, err := decodeRoutingRecord(resp)
	require.NoError(t, err)
	require.Equal(t, "/ipfs/bafytest", decoded.Value)
	require.EqualValues(t, 7, decoded.Sequence)

	ok, err := decoded.Verify()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDecodeRoutingRecordRejectsGarbage(t *testing.T) {
	resp := newFakeResponse([]byte("not a valid record"))
	_, err := decodeRoutingRecord(resp)
	require.Error(t, err)
}

func TestDecodeRoutingRecordHandlesLargeBody(t *testing.T) {
	// Exercise the chunked-read loop across more than one 4096-byte chunk.
	priv, err := vaultcrypto.GenerateSigningKey()
	require.NoError(t, err)

	rec, err := namerecord.Create(priv, "/ipfs/"+strings.Repeat("a", 8000), 1, time.Hour)
	require.NoError(t, err)

	resp := newFakeResponse(rec.Marshal())
	decoded, err := decodeRoutingRecord(resp)
	require.NoError(t, err)
	require.Equal(t, rec.Value, decoded.Value)
}
