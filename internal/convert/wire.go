// Package convert maps domain types to and from the JSON wire format shared
// by the HTTP server and the CLI client. Binary fields are base64.
package convert

import (
	"fmt"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/bruh/internal/crypto"
	"github.com/and161185/bruh/internal/delivery"
	model "github.com/and161185/bruh/internal/model"
)

// --- send ---

// SendRequest is the body of POST /v1/messages.
type SendRequest struct {
	RecipientUsername string            `json:"recipientUsername"`
	ContentCiphertext string            `json:"contentCiphertext"`
	ContentNonce      string            `json:"contentNonce"`
	SenderPublicKey   string            `json:"senderPublicKey"`
	DeviceFingerprint model.Fingerprint `json:"deviceFingerprint"`
}

// SendResponse answers a successful send.
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// ErrorResponse is every error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromSendRequest builds a pipeline request; decoding happens in the pipeline.
func FromSendRequest(in SendRequest, clientIP string) delivery.Request {
	return delivery.Request{
		RecipientUsername: in.RecipientUsername,
		Ciphertext:        in.ContentCiphertext,
		Nonce:             in.ContentNonce,
		SenderPublicKey:   in.SenderPublicKey,
		Fingerprint:       in.DeviceFingerprint,
		ClientIP:          clientIP,
	}
}

// ToSendRequest encodes a sealed envelope for the wire.
func ToSendRequest(to string, env model.Envelope, fp model.Fingerprint) SendRequest {
	return SendRequest{
		RecipientUsername: to,
		ContentCiphertext: crypto.EncodeBase64(env.Ciphertext),
		ContentNonce:      crypto.EncodeBase64(env.Nonce),
		SenderPublicKey:   crypto.EncodeBase64(env.SenderPublicKey),
		DeviceFingerprint: fp,
	}
}

// ToSendResponse converts a delivery receipt.
func ToSendResponse(r model.Receipt) SendResponse {
	return SendResponse{Success: true, MessageID: r.MessageID.String(), Status: string(r.Status)}
}

// --- accounts ---

// PublicKeyResponse is the body of GET /v1/users/{username}.
type PublicKeyResponse struct {
	Username  string `json:"username"`
	PublicKey string `json:"publicKey"`
}

// RegisterRequest is the body of POST /v1/users.
type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	PublicKey string `json:"publicKey"`
}

// RegisterResponse answers a registration.
type RegisterResponse struct {
	UserID string `json:"userId"`
}

// LoginRequest is the body of POST /v1/sessions.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the access token and, if escrowed, the wrapped key.
type LoginResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      string    `json:"userId"`
	WrappedKey  string    `json:"wrappedKey,omitempty"`
}

// ToLoginResponse converts a successful login.
func ToLoginResponse(t model.Tokens, usr model.User) LoginResponse {
	out := LoginResponse{AccessToken: t.AccessToken, ExpiresAt: t.ExpiresAt.UTC(), UserID: usr.ID.String()}
	if len(usr.WrappedKey) > 0 {
		out.WrappedKey = crypto.EncodeBase64(usr.WrappedKey)
	}
	return out
}

// EscrowBody is the body of PUT and GET /v1/me/escrow.
type EscrowBody struct {
	WrappedKey string `json:"wrappedKey"`
}

// --- inbox ---

// InboxMessage is one stored message as the recipient sees it.
type InboxMessage struct {
	ID                string    `json:"id"`
	ContentCiphertext string    `json:"contentCiphertext"`
	ContentNonce      string    `json:"contentNonce"`
	SenderPublicKey   string    `json:"senderPublicKey"`
	Status            string    `json:"status"`
	ModerationScore   float64   `json:"moderationScore"`
	ModerationReason  string    `json:"moderationReason,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// InboxResponse is the body of GET /v1/inbox.
type InboxResponse struct {
	Messages []InboxMessage `json:"messages"`
}

// StatusRequest is the body of PATCH /v1/inbox/{id}.
type StatusRequest struct {
	Status string `json:"status"`
}

// ToInboxMessage converts a stored message. Device and IP hashes stay server-side.
func ToInboxMessage(m model.Message) InboxMessage {
	return InboxMessage{
		ID:                m.ID.String(),
		ContentCiphertext: crypto.EncodeBase64(m.Envelope.Ciphertext),
		ContentNonce:      crypto.EncodeBase64(m.Envelope.Nonce),
		SenderPublicKey:   crypto.EncodeBase64(m.Envelope.SenderPublicKey),
		Status:            string(m.Status),
		ModerationScore:   m.ModerationScore,
		ModerationReason:  m.ModerationReason,
		CreatedAt:         m.CreatedAt.UTC(),
	}
}

// ToInboxResponse converts a message list; an empty inbox encodes as [].
func ToInboxResponse(ms []model.Message) InboxResponse {
	out := make([]InboxMessage, 0, len(ms))
	for _, m := range ms {
		out = append(out, ToInboxMessage(m))
	}
	return InboxResponse{Messages: out}
}

// FromInboxMessage decodes the envelope of a received message.
func FromInboxMessage(in InboxMessage) (u.UUID, model.Envelope, error) {
	id, err := u.FromString(in.ID)
	if err != nil {
		return u.Nil, model.Envelope{}, fmt.Errorf("invalid id: %w", err)
	}
	var env model.Envelope
	if env.Ciphertext, err = crypto.DecodeBase64(in.ContentCiphertext); err != nil {
		return u.Nil, model.Envelope{}, fmt.Errorf("message %s: %w", id, err)
	}
	if env.Nonce, err = crypto.DecodeBase64(in.ContentNonce); err != nil {
		return u.Nil, model.Envelope{}, fmt.Errorf("message %s: %w", id, err)
	}
	if env.SenderPublicKey, err = crypto.DecodeBase64(in.SenderPublicKey); err != nil {
		return u.Nil, model.Envelope{}, fmt.Errorf("message %s: %w", id, err)
	}
	return id, env, nil
}
