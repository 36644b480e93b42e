// Package crypto implements the message envelope (NaCl box with ephemeral sender
// keys), keyed identifier hashing and server-side password hashing.
//
// All operations hang off a *Suite created once by Init. The suite owns the
// random source, so nothing in this package keeps mutable package-level state.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
)

const selfTestMessage = "bruh: crypto self-test"

// Suite is the initialised crypto capability passed to the codec, hasher and
// services. It is safe for concurrent use as long as its reader is.
type Suite struct {
	rand io.Reader
}

// Init checks that the random source works and that a seal/open round trip
// succeeds. A nil reader selects crypto/rand. Failure here is a startup error.
func Init(r io.Reader) (*Suite, error) {
	if r == nil {
		r = rand.Reader
	}
	s := &Suite{rand: r}

	kp, err := s.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("crypto init: %w", err)
	}
	env, err := s.Seal(selfTestMessage, kp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("crypto init: seal: %w", err)
	}
	got, err := s.Open(env, kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto init: open: %w", err)
	}
	if got != selfTestMessage {
		return nil, fmt.Errorf("crypto init: round trip mismatch")
	}
	return s, nil
}

// RandBytes returns n bytes from the suite's random source.
func (s *Suite) RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(s.rand, b); err != nil {
		return nil, err
	}
	return b, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
