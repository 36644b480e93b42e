package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bruh/internal/crypto"
	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/limiter"
	"github.com/and161185/bruh/internal/model"
	"github.com/and161185/bruh/internal/repository"
)

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error

	setWrappedErr error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}
func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}
func (f *fakeUsers) SetWrappedKeyIfEmpty(_ context.Context, id uuid.UUID, wrapped []byte) error {
	if f.setWrappedErr != nil {
		return f.setWrappedErr
	}
	for _, u := range f.byName {
		if u.ID == id {
			if len(u.WrappedKey) != 0 {
				return errs.ErrVersionConflict
			}
			u.WrappedKey = append([]byte(nil), wrapped...)
			return nil
		}
	}
	return errs.ErrNotFound
}
func (f *fakeUsers) SetPaid(_ context.Context, username string, paid bool) error {
	u, ok := f.byName[username]
	if !ok {
		return errs.ErrNotFound
	}
	u.IsPaid = paid
	return nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
	lastIPHash   string
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, _ string, ipHash string) (bool, time.Duration, error) {
	l.allowCalls++
	l.lastIPHash = ipHash
	return l.allowOK, time.Minute, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, string) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, string) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 15 * time.Minute, l.failErr
}

func newSuite(t *testing.T) *crypto.Suite {
	t.Helper()
	s, err := crypto.Init(nil)
	if err != nil {
		t.Fatalf("crypto.Init: %v", err)
	}
	return s
}

func newAuth(t *testing.T, users *fakeUsers, ttl time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	s := newSuite(t)
	return NewAuthService(users, s, s.NewHasher("ip-salt"), []byte("k"), ttl, lim)
}

func mustKey(t *testing.T) []byte {
	t.Helper()
	kp, err := newSuite(t).GenerateKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return kp.PublicKey
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{byName: map[string]*model.User{}}
	s := newAuth(t, users, time.Minute, &fakeLimiter{})
	ctx := context.Background()
	pub := mustKey(t)

	bad := []struct {
		name, user, pass string
		key              []byte
		want             error
	}{
		{"empty", "", "", pub, errs.ErrValidation},
		{"short name", "al", "password1", pub, errs.ErrValidation},
		{"bad chars", "al ice", "password1", pub, errs.ErrValidation},
		{"short password", "alice", "pwd", pub, errs.ErrValidation},
		{"no key", "alice", "password1", nil, errs.ErrDecoding},
		{"short key", "alice", "password1", pub[:31], errs.ErrDecoding},
	}
	for _, tc := range bad {
		if _, err := s.Register(ctx, tc.user, tc.pass, tc.key); !errors.Is(err, tc.want) {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, err)
		}
	}

	id, err := s.Register(ctx, "  Alice ", "password1", pub)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == "" {
		t.Fatalf("empty user id")
	}
	u := users.byName["alice"]
	if u == nil || string(u.PublicKey) != string(pub) || len(u.SaltAuth) != crypto.SaltSize {
		t.Fatalf("bad stored user: %+v", u)
	}

	if _, err := s.Register(ctx, "alice", "password2", pub); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists on duplicate username, got %v", err)
	}

	users.createErr = errors.New("boom")
	if _, err := s.Register(ctx, "bob", "password1", pub); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_LoginWithIP_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	su := newSuite(t)
	saltAuth, _ := su.RandBytes(16)
	pw := []byte("correct-horse")
	u := &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Username: "alice",
		SaltAuth: saltAuth,
		PwdHash:  crypto.HashPassword(pw, saltAuth),
	}

	users := &fakeUsers{byName: map[string]*model.User{"alice": u}}
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(users, su, su.NewHasher("ip-salt"), []byte("secret"), 2*time.Minute, lim)
	ctx := context.Background()

	lim.allowErr = errors.New("lim-err")
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct-horse", "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil
	if lim.lastIPHash == "1.2.3.4" || len(lim.lastIPHash) != 64 {
		t.Fatalf("limiter must see the hashed IP, got %q", lim.lastIPHash)
	}

	lim.allowOK = false
	_, _, err := s.LoginWithIP(ctx, "alice", "correct-horse", "1.2.3.4")
	var rl *errs.RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != time.Minute {
		t.Fatalf("want RateLimitError with retry-after, got %v", err)
	}
	lim.allowOK = true

	if _, _, err := s.LoginWithIP(ctx, "nope", "x", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing user, got %v", err)
	}

	users.getErr = errors.New("db down")
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct-horse", ""); err == nil || errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want storage error, got %v", err)
	}
	users.getErr = nil

	lim.failBlocked = true
	if _, _, err := s.LoginWithIP(ctx, "alice", "wrong", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}

	lim.failBlocked = false
	if _, _, err := s.LoginWithIP(ctx, "alice", "wrong", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}

	tok, gotUser, err := s.LoginWithIP(ctx, "ALICE", "correct-horse", "127.0.0.1")
	if err != nil {
		t.Fatalf("LoginWithIP success: %v", err)
	}
	if tok.AccessToken == "" || tok.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad token: %+v", tok)
	}
	if gotUser.ID != u.ID {
		t.Fatalf("bad user returned: %+v", gotUser)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected Success() to be called")
	}
}

func TestAuth_ParseToken(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{byName: map[string]*model.User{}}
	s := newAuth(t, users, time.Minute, &fakeLimiter{allowOK: true})
	uid := uuid.Must(uuid.NewV4())

	tok, _, err := s.issueAccessToken(uid)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := s.ParseToken(tok)
	if err != nil || got != uid {
		t.Fatalf("ParseToken: %v %v", got, err)
	}

	if _, err := s.ParseToken(tok + "x"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on bad signature, got %v", err)
	}

	other := newAuth(t, users, time.Minute, &fakeLimiter{})
	other.signKey = []byte("another key")
	if _, err := other.ParseToken(tok); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on foreign key, got %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := s.ParseToken(tok); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on expired token, got %v", err)
	}
}

func TestAuth_PublicKey(t *testing.T) {
	t.Parallel()
	pub := mustKey(t)
	users := &fakeUsers{byName: map[string]*model.User{"alice": {ID: uuid.Must(uuid.NewV4()), Username: "alice", PublicKey: pub}}}
	s := newAuth(t, users, time.Minute, &fakeLimiter{})

	got, err := s.PublicKey(context.Background(), "Alice")
	if err != nil || string(got) != string(pub) {
		t.Fatalf("PublicKey: %v", err)
	}
	if _, err := s.PublicKey(context.Background(), "bob"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAuth_WrappedKey(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{byName: map[string]*model.User{}}
	s := newAuth(t, users, time.Minute, &fakeLimiter{allowOK: true})
	ctx := context.Background()

	uid := uuid.Must(uuid.NewV4())
	users.byName["u"] = &model.User{ID: uid, Username: "u", WrappedKey: []byte{}}

	if err := s.SetWrappedKey(ctx, uuid.Nil, []byte{1}); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized (nil userID), got %v", err)
	}
	if err := s.SetWrappedKey(ctx, uid, nil); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error (empty wrapped), got %v", err)
	}
	if _, err := s.WrappedKey(ctx, uid); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound before opt-in, got %v", err)
	}

	if err := s.SetWrappedKey(ctx, uid, []byte{7, 7}); err != nil {
		t.Fatalf("SetWrappedKey: %v", err)
	}
	got, err := s.WrappedKey(ctx, uid)
	if err != nil || string(got) != string([]byte{7, 7}) {
		t.Fatalf("WrappedKey: %v %v", got, err)
	}

	if err := s.SetWrappedKey(ctx, uid, []byte{8}); !errors.Is(err, errs.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict on second set, got %v", err)
	}

	users.setWrappedErr = errors.New("boom")
	if err := s.SetWrappedKey(ctx, uid, []byte{9}); err == nil {
		t.Fatalf("want propagated repo error")
	}
}
