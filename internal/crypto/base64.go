package crypto

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/and161185/bruh/internal/errs"
)

// EncodeBase64 encodes bytes as standard base64 with padding.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 accepts standard or URL-safe base64, padded or not
// (libsodium clients emit URL-safe without padding by default).
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "-_") {
		s = strings.TrimRight(s, "=")
		data, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrDecoding, err)
		}
		return data, nil
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecoding, err)
	}
	return data, nil
}
