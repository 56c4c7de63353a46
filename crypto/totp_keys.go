package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// TOTPMasterKeyLength is the size of the server-side TOTP master key.
const TOTPMasterKeyLength = 32

// ParseTOTPMasterKey decodes a hex encoded master key from configuration.
func ParseTOTPMasterKey(encoded string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("TOTP master key must be hex: %w", err)
	}
	if len(key) != TOTPMasterKeyLength {
		return nil, fmt.Errorf("TOTP master key must be %d bytes, got %d", TOTPMasterKeyLength, len(key))
	}
	return key, nil
}

// DeriveTOTPUserKey derives a user-specific TOTP encryption key from the master key
// This key remains consistent for the user across all sessions
func DeriveTOTPUserKey(masterKey []byte, email string) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("TOTP master key not initialized")
	}
	if email == "" {
		return nil, fmt.Errorf("email cannot be empty")
	}

	info := fmt.Sprintf("%s:%s", TOTPUserKeyContext, email)
	return hkdfExpand(masterKey, []byte(info), 32)
}
