package crypto

import (
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/model"
)

// Sizes of the box construction (Curve25519 + XSalsa20-Poly1305).
const (
	KeySize   = 32
	NonceSize = 24
	Overhead  = box.Overhead
)

// GenerateKeyPair creates a long-term recipient key pair. The caller keeps the
// private key on the device; only the public key is sent to the server.
func (s *Suite) GenerateKeyPair() (model.KeyPair, error) {
	pub, priv, err := box.GenerateKey(s.rand)
	if err != nil {
		return model.KeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	return model.KeyPair{PublicKey: pub[:], PrivateKey: priv[:]}, nil
}

// ValidatePublicKey reports ErrDecoding unless b is a usable public key.
func ValidatePublicKey(b []byte) error {
	_, err := publicKey(b)
	return err
}

// PublicKeyFromPrivate recomputes the public half of a key pair.
func PublicKeyFromPrivate(priv []byte) ([]byte, error) {
	if len(priv) != KeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", errs.ErrDecoding, KeySize, len(priv))
	}
	return curve25519.X25519(priv, curve25519.Basepoint)
}

func publicKey(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", errs.ErrDecoding, KeySize, len(b))
	}
	var k [KeySize]byte
	copy(k[:], b)
	if k == [KeySize]byte{} {
		return nil, fmt.Errorf("%w: all-zero public key", errs.ErrDecoding)
	}
	return &k, nil
}

func privateKey(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", errs.ErrDecoding, KeySize, len(b))
	}
	var k [KeySize]byte
	copy(k[:], b)
	return &k, nil
}
