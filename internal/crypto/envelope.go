package crypto

import (
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"

	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/model"
)

// DecryptFailedPlaceholder replaces the text of a message that failed to open
// when an inbox is rendered.
const DecryptFailedPlaceholder = "[Failed to decrypt]"

// Seal encrypts plaintext for the holder of recipientPublicKey. A fresh
// ephemeral key pair and nonce are drawn per call; the ephemeral private key is
// wiped before returning, so the envelope cannot be tied to a durable sender.
func (s *Suite) Seal(plaintext string, recipientPublicKey []byte) (model.Envelope, error) {
	peer, err := publicKey(recipientPublicKey)
	if err != nil {
		return model.Envelope{}, err
	}

	ephPub, ephPriv, err := box.GenerateKey(s.rand)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("%w: ephemeral key: %v", errs.ErrInternal, err)
	}
	defer wipe(ephPriv[:])

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(s.rand, nonce[:]); err != nil {
		return model.Envelope{}, fmt.Errorf("%w: nonce: %v", errs.ErrInternal, err)
	}

	ct := box.Seal(nil, []byte(plaintext), &nonce, peer, ephPriv)
	return model.Envelope{
		Ciphertext:      ct,
		Nonce:           nonce[:],
		SenderPublicKey: ephPub[:],
	}, nil
}

// Open decrypts an envelope with the recipient's private key. Malformed sizes
// yield ErrDecoding; any authentication failure yields ErrDecryption.
func (s *Suite) Open(env model.Envelope, recipientPrivateKey []byte) (string, error) {
	priv, err := privateKey(recipientPrivateKey)
	if err != nil {
		return "", err
	}
	defer wipe(priv[:])

	sender, err := publicKey(env.SenderPublicKey)
	if err != nil {
		return "", err
	}
	// X25519 ignores the top bit of a public key, so a flipped bit 255 would
	// still authenticate. Honest keys never carry it.
	if sender[KeySize-1]&0x80 != 0 {
		return "", fmt.Errorf("%w: non-canonical sender key", errs.ErrDecryption)
	}
	if len(env.Nonce) != NonceSize {
		return "", fmt.Errorf("%w: nonce must be %d bytes, got %d", errs.ErrDecoding, NonceSize, len(env.Nonce))
	}
	if len(env.Ciphertext) < Overhead {
		return "", fmt.Errorf("%w: ciphertext shorter than %d bytes", errs.ErrDecoding, Overhead)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], env.Nonce)

	pt, ok := box.Open(nil, env.Ciphertext, &nonce, sender, priv)
	if !ok {
		return "", errs.ErrDecryption
	}
	return string(pt), nil
}

// Opened is one result of OpenInbox.
type Opened struct {
	Plaintext string // DecryptFailedPlaceholder when Err != nil
	Err       error
}

// OpenInbox opens every envelope independently. A corrupt record only affects
// its own slot; the rest of the inbox still renders.
func (s *Suite) OpenInbox(envs []model.Envelope, recipientPrivateKey []byte) []Opened {
	out := make([]Opened, len(envs))
	for i, env := range envs {
		pt, err := s.Open(env, recipientPrivateKey)
		if err != nil {
			out[i] = Opened{Plaintext: DecryptFailedPlaceholder, Err: err}
			continue
		}
		out[i] = Opened{Plaintext: pt}
	}
	return out
}
