// Package httpserver exposes the public HTTP API: anonymous sends, public key
// lookup, accounts, the recipient inbox and escrow.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/and161185/bruh/internal/convert"
	"github.com/and161185/bruh/internal/crypto"
	"github.com/and161185/bruh/internal/delivery"
	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/instrument"
	"github.com/and161185/bruh/internal/model"
	"github.com/and161185/bruh/internal/service"
)

// Sender runs the delivery pipeline.
type Sender interface {
	Send(ctx context.Context, req delivery.Request) (model.Receipt, error)
}

// Inbox is the recipient read path.
type Inbox interface {
	List(ctx context.Context, recipientID uuid.UUID, includeHidden bool) ([]model.Message, error)
	SetStatus(ctx context.Context, recipientID, messageID uuid.UUID, status model.MessageStatus) error
}

// ReadyFunc reports whether backing stores are reachable.
type ReadyFunc func(ctx context.Context) error

// Server wires services into HTTP handlers.
type Server struct {
	auth    service.AuthService
	inbox   Inbox
	sender  Sender
	metrics *instrument.Metrics
	log     *zap.Logger
	ready   ReadyFunc
}

// New constructs the HTTP API. metrics and ready may be nil.
func New(auth service.AuthService, inbox Inbox, sender Sender, metrics *instrument.Metrics, log *zap.Logger, ready ReadyFunc) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, inbox: inbox, sender: sender, metrics: metrics, log: log, ready: ready}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logging, s.recoverer, limitBody)

	// Routes stay on the root router: a method mismatch inside a mux
	// subrouter is reported as 404 instead of 405.
	r.HandleFunc("/v1/messages", s.SendMessage()).Methods(http.MethodPost)
	r.HandleFunc("/v1/users", s.Register()).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/{username}", s.GetPublicKey()).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions", s.Login()).Methods(http.MethodPost)
	r.HandleFunc("/v1/inbox", s.requireAuth(s.ListInbox())).Methods(http.MethodGet)
	r.HandleFunc("/v1/inbox/{id}", s.requireAuth(s.SetMessageStatus())).Methods(http.MethodPatch)
	r.HandleFunc("/v1/me/escrow", s.requireAuth(s.PutEscrow())).Methods(http.MethodPut)
	r.HandleFunc("/v1/me/escrow", s.requireAuth(s.GetEscrow())).Methods(http.MethodGet)

	// unversioned alias kept for clients that only know the key lookup
	r.HandleFunc("/users/{username}", s.GetPublicKey()).Methods(http.MethodGet)

	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.Healthz()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, convert.ErrorResponse{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, convert.ErrorResponse{Error: "method not allowed"})
	})
	return cors(r)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return errs.Validation("body", fmt.Sprintf("exceeds %d bytes", MaxBodyBytes))
		}
		return errs.Validation("body", "is not valid JSON")
	}
	return nil
}

// SendMessage handles POST /v1/messages.
func (s *Server) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req convert.SendRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		rcpt, err := s.sender.Send(r.Context(), convert.FromSendRequest(req, clientIP(r)))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, convert.ToSendResponse(rcpt))
	}
}

// GetPublicKey handles GET /v1/users/{username}.
func (s *Server) GetPublicKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := service.NormalizeUsername(mux.Vars(r)["username"])
		pub, err := s.auth.PublicKey(r.Context(), name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, convert.PublicKeyResponse{Username: name, PublicKey: crypto.EncodeBase64(pub)})
	}
}

// Register handles POST /v1/users.
func (s *Server) Register() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req convert.RegisterRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		pub, err := crypto.DecodeBase64(req.PublicKey)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("publicKey: %w", err))
			return
		}
		id, err := s.auth.Register(r.Context(), req.Username, req.Password, pub)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, convert.RegisterResponse{UserID: id})
	}
}

// Login handles POST /v1/sessions.
func (s *Server) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req convert.LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		tok, u, err := s.auth.LoginWithIP(r.Context(), req.Username, req.Password, clientIP(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, convert.ToLoginResponse(tok, u))
	}
}

// ListInbox handles GET /v1/inbox. ?all=1 includes hidden messages.
func (s *Server) ListInbox() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := UserIDFromCtx(r.Context())
		all := r.URL.Query().Get("all")
		msgs, err := s.inbox.List(r.Context(), uid, all == "1" || all == "true")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, convert.ToInboxResponse(msgs))
	}
}

// SetMessageStatus handles PATCH /v1/inbox/{id}.
func (s *Server) SetMessageStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := UserIDFromCtx(r.Context())
		id, err := uuid.FromString(mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, errs.Validation("id", "is not a UUID"))
			return
		}
		var req convert.StatusRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.inbox.SetStatus(r.Context(), uid, id, model.MessageStatus(req.Status)); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PutEscrow handles PUT /v1/me/escrow.
func (s *Server) PutEscrow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := UserIDFromCtx(r.Context())
		var req convert.EscrowBody
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		blob, err := crypto.DecodeBase64(req.WrappedKey)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("wrappedKey: %w", err))
			return
		}
		if err := s.auth.SetWrappedKey(r.Context(), uid, blob); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GetEscrow handles GET /v1/me/escrow.
func (s *Server) GetEscrow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := UserIDFromCtx(r.Context())
		blob, err := s.auth.WrappedKey(r.Context(), uid)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, convert.EscrowBody{WrappedKey: crypto.EncodeBase64(blob)})
	}
}

// Healthz handles GET /healthz.
func (s *Server) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.ready != nil {
			if err := s.ready(r.Context()); err != nil {
				s.log.Warn("not ready", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
