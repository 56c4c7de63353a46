package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF info strings. Changing any of them invalidates every stored envelope,
// vault record or TOTP secret derived under it.
const (
	EnvelopeKeyContext   = "arkvault/envelope/v1"
	OPAQUEExportContext  = "arkvault/opaque/export-key"
	OPAQUESessionContext = "arkvault/opaque/session-key"
	TOTPUserKeyContext   = "arkvault/totp/user-key"
)

// DeriveKeyHKDF extracts and expands secret into a 32-byte key bound to info.
func DeriveKeyHKDF(secret []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("input key material cannot be empty")
	}

	reader := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return key, nil
}

// hkdfExpand performs HKDF-Expand operation
func hkdfExpand(prk []byte, info []byte, length int) ([]byte, error) {
	if len(prk) == 0 {
		return nil, fmt.Errorf("pseudorandom key cannot be empty")
	}

	if length <= 0 || length > 255*32 {
		return nil, fmt.Errorf("invalid output length: %d", length)
	}

	reader := hkdf.Expand(sha256.New, prk, info)

	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, fmt.Errorf("HKDF expand failed: %w", err)
	}

	return result, nil
}
