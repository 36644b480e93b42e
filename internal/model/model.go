// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// KeyPair is a long-term recipient key pair (Curve25519, NaCl box).
// The private half never leaves the owning device.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// Envelope is the transmissible sealed message: opaque to the server.
type Envelope struct {
	Ciphertext      []byte
	Nonce           []byte
	SenderPublicKey []byte // ephemeral, one per message
}

// Fingerprint is the client-reported device description. Known keys:
// userAgent, language, platform, screenResolution, timezone, canvas, webgl, fonts.
// It is hashed on arrival and never persisted.
type Fingerprint map[string]any

// MessageStatus is the visibility state of a stored message.
type MessageStatus string

// Message statuses.
const (
	StatusVisible     MessageStatus = "visible"
	StatusQuarantined MessageStatus = "quarantined"
	StatusBlocked     MessageStatus = "blocked"
	StatusDeleted     MessageStatus = "deleted"
)

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusVisible, StatusQuarantined, StatusBlocked, StatusDeleted:
		return true
	}
	return false
}

// Message is a stored anonymous message record.
type Message struct {
	ID               uuid.UUID
	RecipientID      uuid.UUID
	Envelope         Envelope
	SenderDeviceHash string
	SenderIPHash     string
	Status           MessageStatus
	Moderated        bool
	ModerationScore  float64 // [0,1]
	ModerationReason string
	CreatedAt        time.Time
}

// Receipt is returned to the sender after a successful delivery.
type Receipt struct {
	MessageID uuid.UUID
	Status    MessageStatus
}

// User represents an account stored on the server. Only the public key is kept;
// WrappedKey is an optional client-produced AEAD blob (opt-in escrow).
type User struct {
	ID                   uuid.UUID // PK
	Username             string    // unique
	PublicKey            []byte    // 32-byte Curve25519 public key
	PwdHash              []byte    // Argon2id(password, SaltAuth)
	SaltAuth             []byte    // per-user auth salt
	WrappedKey           []byte    // escrowed private key, empty unless opted in
	IsPaid               bool
	MessageCountReceived int64
	CreatedAt            time.Time
}
