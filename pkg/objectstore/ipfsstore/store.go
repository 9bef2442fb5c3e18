// Package ipfsstore implements the content-addressed object store
// interface (spec §6) over an IPFS daemon's HTTP RPC API.
package ipfsstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// Store uploads and fetches opaque sealed blobs keyed by content
// address, backed by a single shared shell.Shell connection.
type Store struct {
	shell *shell.Shell

	mu          sync.RWMutex
	connected   bool
	connectedAt time.Time
}

// New connects to the IPFS daemon's API at endpoint (e.g. "127.0.0.1:5001").
func New(endpoint string) (*Store, error) {
	if endpoint == "" {
		endpoint = "127.0.0.1:5001"
	}
	s := &Store{shell: shell.NewShell(endpoint)}
	if _, err := s.shell.ID(); err != nil {
		return nil, vaulterr.New(vaulterr.NetFetch, "ipfsstore.New", err)
	}
	s.mu.Lock()
	s.connected = true
	s.connectedAt = time.Now()
	s.mu.Unlock()
	return s, nil
}

// Shell returns the underlying daemon connection, so callers (e.g. the
// CLI entrypoint) can hand it to ipnsresolve.New and share one
// connection between the object store and the name-resolution adapter.
func (s *Store) Shell() *shell.Shell {
	return s.shell
}

// IsConnected reports whether the last health check (or construction)
// succeeded.
func (s *Store) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// HealthCheck pings the daemon and refreshes connection state.
func (s *Store) HealthCheck(ctx context.Context) error {
	_, err := s.shell.ID()
	s.mu.Lock()
	s.connected = err == nil
	s.mu.Unlock()
	if err != nil {
		return vaulterr.New(vaulterr.NetFetch, "ipfsstore.HealthCheck", err)
	}
	return nil
}

// Upload stores a sealed blob and returns its content address.
func (s *Store) Upload(ctx context.Context, data []byte) (string, error) {
	if !s.IsConnected() {
		return "", vaulterr.New(vaulterr.NetUpload, "ipfsstore.Upload", fmt.Errorf("not connected"))
	}
	cid, err := s.shell.Add(bytes.NewReader(data))
	if err != nil {
		return "", vaulterr.New(vaulterr.NetUpload, "ipfsstore.Upload", err)
	}
	return cid, nil
}

// Fetch retrieves the sealed blob at address in full.
func (s *Store) Fetch(ctx context.Context, address string) ([]byte, error) {
	if !s.IsConnected() {
		return nil, vaulterr.New(vaulterr.NetFetch, "ipfsstore.Fetch", fmt.Errorf("not connected"))
	}
	reader, err := s.shell.Cat(address)
	if err != nil {
		return nil, vaulterr.New(vaulterr.NetFetch, "ipfsstore.Fetch", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, vaulterr.New(vaulterr.NetFetch, "ipfsstore.Fetch", err)
	}
	return data, nil
}

// FetchRange retrieves only [start, end] of the content at address, for
// streaming-mode (CTR) files where the caller needs a byte window rather
// than the whole object. Uses the daemon's generic `cat` RPC with
// offset/length options rather than go-ipfs-api's `Cat` helper, which
// has no range parameters.
func (s *Store) FetchRange(ctx context.Context, address string, start, end int64) ([]byte, error) {
	if !s.IsConnected() {
		return nil, vaulterr.New(vaulterr.NetFetch, "ipfsstore.FetchRange", fmt.Errorf("not connected"))
	}
	length := end - start + 1
	resp, err := s.shell.
		Request("cat", address).
		Option("offset", start).
		Option("length", length).
		Send(ctx)
	if err != nil {
		return nil, vaulterr.New(vaulterr.NetFetch, "ipfsstore.FetchRange", err)
	}
	defer resp.Output.Close()
	if resp.Error != nil {
		return nil, vaulterr.New(vaulterr.NetFetch, "ipfsstore.FetchRange", resp.Error)
	}

	data, err := io.ReadAll(resp.Output)
	if err != nil {
		return nil, vaulterr.New(vaulterr.NetFetch, "ipfsstore.FetchRange", err)
	}
	return data, nil
}

// Unpin asks the daemon to drop its pin on address. Best-effort: the
// error is returned to the caller, and the one caller (Rename dropping
// an overwritten file) runs it in the background and discards it.
func (s *Store) Unpin(ctx context.Context, address string) error {
	if err := s.shell.Unpin(address); err != nil {
		return vaulterr.New(vaulterr.NetFetch, "ipfsstore.Unpin", err)
	}
	return nil
}
