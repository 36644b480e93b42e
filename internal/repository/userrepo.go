// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bruh/internal/model"
)

// UserRepository provides access to recipient accounts.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// SetWrappedKeyIfEmpty stores the escrowed private key only if none is stored yet.
	SetWrappedKeyIfEmpty(ctx context.Context, id uuid.UUID, wrapped []byte) error
	// SetPaid toggles the paid tier, which lifts the inbound quota.
	SetPaid(ctx context.Context, username string, paid bool) error
}
