// Package service contains application services for recipient accounts and inboxes.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/bruh/internal/crypto"
	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/limiter"
	"github.com/and161185/bruh/internal/model"
	"github.com/and161185/bruh/internal/repository"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 8

var usernameRe = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

// AuthService defines account and session operations.
type AuthService interface {
	// Register creates a recipient account bound to a public key.
	Register(ctx context.Context, username, password string, publicKey []byte) (userID string, err error)
	// LoginWithIP applies rate-limiting and authenticates the user.
	LoginWithIP(ctx context.Context, username, password string, ip string) (tokens model.Tokens, user model.User, err error)
	// ParseToken validates an access token and returns its subject.
	ParseToken(token string) (uuid.UUID, error)
	// PublicKey returns the public key registered for username.
	PublicKey(ctx context.Context, username string) ([]byte, error)
	// SetWrappedKey stores the client's escrow blob if none is set.
	SetWrappedKey(ctx context.Context, userID uuid.UUID, wrapped []byte) error
	// WrappedKey returns the escrow blob, ErrNotFound if the user never opted in.
	WrappedKey(ctx context.Context, userID uuid.UUID) ([]byte, error)
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	suite     *crypto.Suite
	ipHasher  *crypto.Hasher
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	now       func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, suite *crypto.Suite, ipHasher *crypto.Hasher,
	signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, suite: suite, ipHasher: ipHasher, signKey: signKey,
		accessTTL: accessTTL, lim: lim, now: time.Now}
}

// NormalizeUsername trims and lower-cases a handle.
func NormalizeUsername(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Register creates a new user record with a per-user auth salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string, publicKey []byte) (string, error) {
	username = NormalizeUsername(username)
	if !usernameRe.MatchString(username) {
		return "", errs.Validation("username", "must be 3-30 characters of a-z, 0-9 or _")
	}
	if len(password) < MinPasswordLen {
		return "", errs.Validation("password", fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if err := crypto.ValidatePublicKey(publicKey); err != nil {
		return "", fmt.Errorf("publicKey: %w", err)
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	saltAuth, err := s.suite.RandBytes(crypto.SaltSize)
	if err != nil {
		return "", err
	}

	u := &model.User{
		ID:         uid,
		Username:   username,
		PublicKey:  append([]byte(nil), publicKey...),
		PwdHash:    crypto.HashPassword([]byte(password), saltAuth),
		SaltAuth:   saltAuth,
		WrappedKey: []byte{},
	}
	if err := s.users.Create(ctx, u); err != nil {
		return "", err
	}
	return uid.String(), nil
}

// LoginWithIP authenticates with rate limiting by (username, ip hash).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	username = NormalizeUsername(username)
	ipHash := s.ipHasher.Sum(ip)

	// Check if requests are currently allowed for this (user, ip).
	allowed, retry, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, &errs.RateLimitError{RetryAfter: retry}
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	if err != nil || !crypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash) {
		// Record failure; if threshold reached, return rate-limited.
		if blocked, retry, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, &errs.RateLimitError{RetryAfter: retry}
		}
		// unknown user and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, username, ipHash)

	access, exp, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// ParseToken verifies signature, algorithm and expiry.
func (s *AuthServiceImpl) ParseToken(token string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return s.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	return id, nil
}

// PublicKey returns the recipient public key for username.
func (s *AuthServiceImpl) PublicKey(ctx context.Context, username string) ([]byte, error) {
	u, err := s.users.GetByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		return nil, err
	}
	return u.PublicKey, nil
}

// SetWrappedKey persists the escrow blob if not yet set.
func (s *AuthServiceImpl) SetWrappedKey(ctx context.Context, userID uuid.UUID, wrapped []byte) error {
	if userID == uuid.Nil {
		return errs.ErrUnauthorized
	}
	if len(wrapped) == 0 {
		return errs.Validation("wrappedKey", "is required")
	}
	return s.users.SetWrappedKeyIfEmpty(ctx, userID, wrapped)
}

// WrappedKey returns the escrow blob for userID.
func (s *AuthServiceImpl) WrappedKey(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(u.WrappedKey) == 0 {
		return nil, errs.ErrNotFound
	}
	return u.WrappedKey, nil
}
