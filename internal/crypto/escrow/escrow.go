// Package escrow wraps a recipient's private key under a passphrase so the
// recipient can opt in to storing it server-side. The server only ever holds the
// wrapped blob; without the passphrase it is as opaque as any message.
//
// Blob layout: version(1) || salt(16) || nonce(24) || XChaCha20-Poly1305(key).
// The account public key is bound as additional data.
package escrow

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/and161185/bruh/internal/crypto"
	"github.com/and161185/bruh/internal/errs"
)

// Params
const (
	KEKLen  = 32
	Version = 1

	saltLen = crypto.SaltSize
)

// ErrWrongPassphrase is returned when the blob does not open.
var ErrWrongPassphrase = errors.New("escrow: wrong passphrase or corrupted blob")

// DeriveKEK derives a key-encryption key from passphrase and salt using Argon2id.
func DeriveKEK(passphrase, salt []byte) []byte {
	p := crypto.PasswordParams
	p.KeyLen = KEKLen
	return p.Derive(passphrase, salt)
}

// Wrap seals privateKey under passphrase, bound to publicKey.
func Wrap(s *crypto.Suite, passphrase, privateKey, publicKey []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errs.Validation("passphrase", "is empty")
	}
	if len(privateKey) != crypto.KeySize || len(publicKey) != crypto.KeySize {
		return nil, fmt.Errorf("%w: key pair must be %d-byte keys", errs.ErrDecoding, crypto.KeySize)
	}
	salt, err := s.RandBytes(saltLen)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(DeriveKEK(passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce, err := s.RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+saltLen+len(nonce)+len(privateKey)+aead.Overhead())
	out = append(out, Version)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, privateKey, publicKey)...)
	return out, nil
}

// Unwrap recovers the private key and checks it matches publicKey.
func Unwrap(passphrase, blob, publicKey []byte) ([]byte, error) {
	const header = 1 + saltLen + chacha20poly1305.NonceSizeX
	if len(blob) < header+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: escrow blob too short", errs.ErrDecoding)
	}
	if blob[0] != Version {
		return nil, fmt.Errorf("%w: escrow version %d", errs.ErrDecoding, blob[0])
	}
	salt := blob[1 : 1+saltLen]
	nonce := blob[1+saltLen : header]

	aead, err := chacha20poly1305.NewX(DeriveKEK(passphrase, salt))
	if err != nil {
		return nil, err
	}
	priv, err := aead.Open(nil, nonce, blob[header:], publicKey)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	pub, err := crypto.PublicKeyFromPrivate(priv)
	if err != nil || !bytes.Equal(pub, publicKey) {
		return nil, ErrWrongPassphrase
	}
	return priv, nil
}
