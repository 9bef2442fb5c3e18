// Package secret provides zeroize-on-drop byte buffers for key material
// that must never outlive its scope or leak into logs.
package secret

import (
	"crypto/rand"
	"fmt"
	"runtime"
)

// Bytes wraps a secret byte slice. Call Zero when the secret is no longer
// needed; a finalizer wipes the buffer (silently, never panicking) if a
// Bytes is garbage collected without having been zeroed, as a last-resort
// safety net.
type Bytes struct {
	b      []byte
	zeroed bool
}

// New takes ownership of b and arranges for it to be zeroed.
func New(b []byte) *Bytes {
	s := &Bytes{b: b}
	runtime.SetFinalizer(s, finalize)
	return s
}

// Random returns n cryptographically random secret bytes.
func Random(n int) (*Bytes, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("secret: random read: %w", err)
	}
	return New(b), nil
}

// Bytes returns the underlying slice. Callers must not retain it beyond
// the scope that owns this Bytes.
func (s *Bytes) Bytes() []byte {
	if s.zeroed {
		return nil
	}
	return s.b
}

// Zero overwrites the buffer with zeros. Idempotent.
func (s *Bytes) Zero() {
	if s.zeroed {
		return
	}
	Wipe(s.b)
	s.zeroed = true
	runtime.SetFinalizer(s, nil)
}

func finalize(s *Bytes) {
	if !s.zeroed {
		Wipe(s.b)
	}
}

// Wipe overwrites b with zeros in place. Safe to call on nil or empty b.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
