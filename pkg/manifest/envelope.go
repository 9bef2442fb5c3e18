// Package manifest encodes and decodes folder and file manifests as the
// canonical sealed-envelope JSON format stored on the object store.
package manifest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/cipherbox/vaultfs/pkg/vaultcrypto"
	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// SealedEnvelope is the canonical on-the-wire JSON wrapper: iv is 12 bytes
// hex-encoded, data is base64(ciphertext || 16-byte tag).
type SealedEnvelope struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// sealJSON encodes an envelope around an AEAD seal of pt under key, in the
// {iv, data} shape (iv separate from the ciphertext, unlike
// vaultcrypto.Seal's combined nonce||ciphertext||tag layout).
func sealJSON(pt, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "manifest.sealJSON", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "manifest.sealJSON", err)
	}
	nonce := make([]byte, vaultcrypto.GCMNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "manifest.sealJSON", err)
	}
	data := gcm.Seal(nil, nonce, pt, nil)

	env := SealedEnvelope{
		IV:   hex.EncodeToString(nonce),
		Data: base64.StdEncoding.EncodeToString(data),
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Serialization, "manifest.sealJSON", err)
	}
	return out, nil
}

// unsealJSON is the inverse of sealJSON. Any failure — malformed envelope,
// bad base64/hex, authentication failure — collapses to DECRYPTION.
func unsealJSON(sealed, key []byte) ([]byte, error) {
	var env SealedEnvelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, vaulterr.New(vaulterr.Decryption, "manifest.unsealJSON", nil)
	}
	nonce, err := hex.DecodeString(env.IV)
	if err != nil || len(nonce) != vaultcrypto.GCMNonceSize {
		return nil, vaulterr.New(vaulterr.Decryption, "manifest.unsealJSON", nil)
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Decryption, "manifest.unsealJSON", nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Decryption, "manifest.unsealJSON", nil)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Decryption, "manifest.unsealJSON", nil)
	}
	pt, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Decryption, "manifest.unsealJSON", nil)
	}
	return pt, nil
}
