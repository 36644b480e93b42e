package crypto

import (
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the length of the per-account login salt and of escrow KEK salts.
const SaltSize = 16

// Argon2Params is an Argon2id cost setting. Memory is in KiB.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

// PasswordParams is what login hashes and escrow KEKs are derived with.
// Changing it invalidates every stored hash and wrapped key.
var PasswordParams = Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 1, KeyLen: 32}

// Derive stretches secret under salt.
func (p Argon2Params) Derive(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}

// HashPassword derives the stored login hash.
func HashPassword(password, salt []byte) []byte {
	return PasswordParams.Derive(password, salt)
}

// VerifyPassword reports whether password hashes to expected. An empty
// expected hash never matches.
func VerifyPassword(password, salt, expected []byte) bool {
	if len(expected) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(HashPassword(password, salt), expected) == 1
}
