// Package ipnsresolve implements the name-resolution interface (spec §6)
// over an IPFS daemon, deliberately bypassing the daemon's own IPNS
// publish path in favor of pushing this engine's self-signed record
// directly into the DHT, since the daemon's own publisher would produce
// a differently-shaped record than spec §3 requires.
package ipnsresolve

import (
	"context"
	"fmt"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/cipherbox/vaultfs/pkg/namerecord"
	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// Resolver resolves and publishes signed name records over a shared
// shell.Shell connection to an IPFS daemon.
type Resolver struct {
	shell *shell.Shell
}

// New wraps an existing shell connection (normally the same one backing
// an ipfsstore.Store) for name resolution and publishing.
func New(sh *shell.Shell) *Resolver {
	return &Resolver{shell: sh}
}

// Resolved is a resolved name record's target path and sequence number.
type Resolved struct {
	Address  string
	Sequence uint64
}

// Resolve fetches and verifies the record currently published under
// name, returning its target path and sequence number. It fetches the
// raw routing record rather than using the daemon's /name/resolve
// endpoint, because that endpoint returns only the resolved path, not
// the sequence number this engine's publish coordinator needs.
func (r *Resolver) Resolve(ctx context.Context, name string) (*Resolved, error) {
	resp, err := r.shell.Request("routing/get", "/ipns/"+name).Send(ctx)
	if err != nil {
		return nil, vaulterr.New(vaulterr.NetResolve, "ipnsresolve.Resolve", err)
	}
	defer resp.Output.Close()
	if resp.Error != nil {
		return nil, vaulterr.New(vaulterr.NetResolve, "ipnsresolve.Resolve", resp.Error)
	}

	rec, err := decodeRoutingRecord(resp)
	if err != nil {
		return nil, err
	}

	ok, err := rec.Verify()
	if err != nil || !ok {
		return nil, vaulterr.New(vaulterr.NetResolve, "ipnsresolve.Resolve", fmt.Errorf("record failed signature verification"))
	}

	return &Resolved{Address: strings.TrimPrefix(rec.Value, "/ipfs/"), Sequence: rec.Sequence}, nil
}

// ResolveSequence satisfies publish.SequenceResolver.
func (r *Resolver) ResolveSequence(ctx context.Context, name string) (uint64, error) {
	resolved, err := r.Resolve(ctx, name)
	if err != nil {
		return 0, err
	}
	return resolved.Sequence, nil
}

// Publish pushes a signed, serialized record directly into the DHT via
// the daemon's generic routing/put RPC, not shell.Publish.
func (r *Resolver) Publish(ctx context.Context, name string, rec *namerecord.Record) error {
	body := rec.Marshal()
	resp, err := r.shell.
		Request("routing/put", "/ipns/"+name).
		Body(strings.NewReader(string(body))).
		Send(ctx)
	if err != nil {
		return vaulterr.New(vaulterr.NetPublish, "ipnsresolve.Publish", err)
	}
	defer resp.Output.Close()
	if resp.Error != nil {
		return vaulterr.New(vaulterr.NetPublish, "ipnsresolve.Publish", resp.Error)
	}
	return nil
}

func decodeRoutingRecord(resp *shell.Response) (*namerecord.Record, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := resp.Output.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	rec, err := namerecord.Unmarshal(buf)
	if err != nil {
		return nil, vaulterr.New(vaulterr.Deserialization, "ipnsresolve.decodeRoutingRecord", err)
	}
	return rec, nil
}
