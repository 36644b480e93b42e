package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, username, public_key, pwd_hash, salt_auth, wrapped_key, is_paid, message_count_received, created_at`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, username, public_key, pwd_hash, salt_auth, wrapped_key)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, u.ID, u.Username, u.PublicKey, u.PwdHash, u.SaltAuth, u.WrappedKey)
	if pgCode(err) == codeUniqueViolation {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*model.User, error) {
	row := r.db.Pool.QueryRow(ctx, q, arg)
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.PublicKey, &u.PwdHash, &u.SaltAuth, &u.WrappedKey,
		&u.IsPaid, &u.MessageCountReceived, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// SetWrappedKeyIfEmpty updates wrapped_key only if currently empty.
func (r *UserRepo) SetWrappedKeyIfEmpty(ctx context.Context, id uuid.UUID, wrapped []byte) error {
	const q = `
UPDATE users
SET wrapped_key = $2
WHERE id = $1 AND octet_length(wrapped_key) = 0`
	tag, err := r.db.Pool.Exec(ctx, q, id, wrapped)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}

// SetPaid sets the paid flag for username.
func (r *UserRepo) SetPaid(ctx context.Context, username string, paid bool) error {
	const q = `UPDATE users SET is_paid = $2 WHERE username = $1`
	tag, err := r.db.Pool.Exec(ctx, q, username, paid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
