// Package keyprovider supplies the recipient ECIES keypair a mount uses
// to unwrap folder/file keys (spec §6). StaticProvider carries a keypair
// already in memory; PassphraseProvider derives one from an interactively
// entered passphrase.
package keyprovider

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/cipherbox/vaultfs/pkg/secret"
	"github.com/cipherbox/vaultfs/pkg/vaultcrypto"
	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// Provider supplies the recipient private key used to unwrap folder and
// file keys, and the corresponding public key used to wrap them for new
// folders/files this mount creates.
type Provider interface {
	PrivateKey() ([]byte, error)
	PublicKey() ([]byte, error)
}

// StaticProvider wraps a keypair already held in memory (e.g. loaded from
// a config file or another external collaborator).
type StaticProvider struct {
	priv *secret.Bytes
	pub  []byte
}

// NewStaticProvider validates and wraps priv/pub for use as a Provider.
func NewStaticProvider(priv, pub []byte) (*StaticProvider, error) {
	if len(priv) != vaultcrypto.Secp256k1PrivateKeySize {
		return nil, vaulterr.New(vaulterr.CryptoParam, "keyprovider.NewStaticProvider", nil)
	}
	if len(pub) != vaultcrypto.Secp256k1PublicKeySize {
		return nil, vaulterr.New(vaulterr.CryptoParam, "keyprovider.NewStaticProvider", nil)
	}
	return &StaticProvider{priv: secret.New(priv), pub: pub}, nil
}

func (p *StaticProvider) PrivateKey() ([]byte, error) {
	return append([]byte{}, p.priv.Bytes()...), nil
}

func (p *StaticProvider) PublicKey() ([]byte, error) {
	return append([]byte{}, p.pub...), nil
}

// PassphraseProvider derives its keypair from a passphrase via HKDF,
// domain-separated with vaultcrypto.InfoRecipientKey. The passphrase is
// read once, on construction, never on the hot callback path.
type PassphraseProvider struct {
	priv *secret.Bytes
	pub  []byte
}

// NewPassphraseProvider derives a keypair from passphrase directly. Use
// this when the passphrase has already been obtained by some other means
// (e.g. an environment variable in a non-interactive deployment). The
// caller's slice is not retained or modified.
func NewPassphraseProvider(passphrase []byte) (*PassphraseProvider, error) {
	priv, pub, err := vaultcrypto.DeriveRecipientKeypair(passphrase, vaultcrypto.InfoRecipientKey)
	if err != nil {
		return nil, err
	}
	return &PassphraseProvider{priv: secret.New(priv), pub: pub}, nil
}

// PromptPassphraseProvider reads a passphrase from the controlling
// terminal with echo disabled, then derives the keypair. It fails if
// stdin is not a terminal, since a non-interactive process has no safe
// way to prompt.
func PromptPassphraseProvider(prompt string) (*PassphraseProvider, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return nil, vaulterr.New(vaulterr.Internal, "keyprovider.PromptPassphraseProvider", fmt.Errorf("interactive passphrase entry requires a terminal"))
	}

	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Internal, "keyprovider.PromptPassphraseProvider", err)
	}
	passphrase := secret.New(raw)
	defer passphrase.Zero()

	return NewPassphraseProvider(passphrase.Bytes())
}

func (p *PassphraseProvider) PrivateKey() ([]byte, error) {
	return append([]byte{}, p.priv.Bytes()...), nil
}

func (p *PassphraseProvider) PublicKey() ([]byte, error) {
	return append([]byte{}, p.pub...), nil
}
