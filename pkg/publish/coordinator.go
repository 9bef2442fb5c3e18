// Package publish implements the publish coordinator (spec §4.7): a
// per-record-name lock that serializes concurrent publish pipelines on
// the same name, plus a monotonic sequence-number cache so sequence
// numbers never roll back even when a resolve races a publish.
package publish

import (
	"context"
	"sync"

	"github.com/cipherbox/vaultfs/pkg/vaulterr"
)

// SequenceResolver looks up the currently-published sequence number for a
// record name, the way the name-resolution external collaborator does.
type SequenceResolver interface {
	ResolveSequence(ctx context.Context, name string) (uint64, error)
}

type nameState struct {
	mu        sync.Mutex // serializes full publish pipelines on this name
	seqMu     sync.Mutex // guards cachedSeq/hasSeq below
	cachedSeq uint64
	hasSeq    bool
}

// Coordinator serializes publishes and caches sequence numbers, both
// keyed by record name. Per-name state is created lazily on first use
// and never removed, matching the table's lifetime as the mount's.
type Coordinator struct {
	mu    sync.Mutex
	names map[string]*nameState
}

// New creates an empty coordinator.
func New() *Coordinator {
	return &Coordinator{names: make(map[string]*nameState)}
}

func (c *Coordinator) stateFor(name string) *nameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.names[name]
	if !ok {
		s = &nameState{}
		c.names[name] = s
	}
	return s
}

// WithLock runs fn while holding name's publish lock, serializing it
// against any other publish pipeline on the same record name.
func (c *Coordinator) WithLock(name string, fn func() error) error {
	s := c.stateFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// ResolveSequence determines the next sequence number to publish at for
// name. On a successful resolve, it takes the max of the resolved value
// and the cached value, stores it, and returns it. On a failed resolve
// with a cached value present, it returns the cached value and
// fromCache=true so the caller can log a warning rather than fail the
// publish outright. On a failed resolve with nothing cached, it returns
// an error — sequence numbers are never silently rolled back or guessed.
func (c *Coordinator) ResolveSequence(ctx context.Context, resolver SequenceResolver, name string) (seq uint64, fromCache bool, err error) {
	s := c.stateFor(name)

	resolved, resolveErr := resolver.ResolveSequence(ctx, name)

	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if resolveErr == nil {
		next := resolved
		if s.hasSeq && s.cachedSeq > next {
			next = s.cachedSeq
		}
		s.cachedSeq = next
		s.hasSeq = true
		return next, false, nil
	}

	if s.hasSeq {
		return s.cachedSeq, true, nil
	}
	return 0, false, vaulterr.New(vaulterr.NetResolve, "publish.ResolveSequence", resolveErr)
}

// RecordPublish bumps the cached sequence number for name monotonically
// after a successful publish, so the next ResolveSequence call never
// returns a value lower than what was just published.
func (c *Coordinator) RecordPublish(name string, seq uint64) {
	s := c.stateFor(name)
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if !s.hasSeq || seq > s.cachedSeq {
		s.cachedSeq = seq
		s.hasSeq = true
	}
}
