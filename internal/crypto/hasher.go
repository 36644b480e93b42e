package crypto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"

	"github.com/and161185/bruh/internal/errs"
	"github.com/and161185/bruh/internal/model"
)

// Hasher computes keyed BLAKE2b-256 digests of identifying data (device
// fingerprints, IP addresses). The salt is the key, so digests from different
// salts are unrelated and none can be reversed to the input.
type Hasher struct {
	key []byte
}

// NewHasher binds a salt. Salts longer than the BLAKE2b key limit are first
// compressed with unkeyed BLAKE2b-256.
func (s *Suite) NewHasher(salt string) *Hasher {
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Hasher{key: key}
}

// Hash is the one-shot form of NewHasher(salt).Sum(data).
func (s *Suite) Hash(data, salt string) string {
	return s.NewHasher(salt).Sum(data)
}

// Sum returns the hex digest of data.
func (h *Hasher) Sum(data string) string {
	m := h.mac()
	m.Write([]byte(data))
	return hex.EncodeToString(m.Sum(nil))
}

// Fingerprint hashes a structured fingerprint. Fields are serialised as JSON
// with keys sorted at every level, so insertion order never changes the digest.
func (h *Hasher) Fingerprint(fp model.Fingerprint) (string, error) {
	if len(fp) == 0 {
		return "", errs.Validation("deviceFingerprint", "is empty")
	}
	// encoding/json writes map keys in sorted order.
	b, err := json.Marshal(map[string]any(fp))
	if err != nil {
		return "", fmt.Errorf("%w: fingerprint: %v", errs.ErrValidation, err)
	}
	m := h.mac()
	m.Write(b)
	return hex.EncodeToString(m.Sum(nil)), nil
}

func (h *Hasher) mac() hash.Hash {
	// New256 only fails for keys longer than 64 bytes, which NewHasher rules out.
	m, err := blake2b.New256(h.key)
	if err != nil {
		panic(err)
	}
	return m
}
