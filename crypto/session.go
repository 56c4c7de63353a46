package crypto

import (
	"fmt"
)

// SessionKeyLength is the size of every session key produced by the PAKE layer.
const SessionKeyLength = 32

// ValidateSessionKey checks if a session key has the expected properties
func ValidateSessionKey(sessionKey []byte) error {
	if len(sessionKey) != SessionKeyLength {
		return fmt.Errorf("session key must be exactly %d bytes, got %d", SessionKeyLength, len(sessionKey))
	}

	allZero := true
	for _, b := range sessionKey {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return fmt.Errorf("session key cannot be all zeros")
	}

	return nil
}

// SecureZeroSessionKey securely clears session key material
func SecureZeroSessionKey(sessionKey []byte) {
	if sessionKey != nil {
		SecureZeroBytes(sessionKey)
	}
}
