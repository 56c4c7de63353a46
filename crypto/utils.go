package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// GenerateRandomBytes creates a slice of bytes with a specified length,
// filled with cryptographically secure random data.
func GenerateRandomBytes(length int) []byte {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		panic("failed to generate random bytes: " + err.Error())
	}
	return randomBytes
}

// SecureCompare performs a constant-time comparison of two byte slices
// to prevent timing attacks.
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// SecureZeroBytes securely zeros out a byte slice to prevent sensitive
// data from lingering in memory.
func SecureZeroBytes(slice []byte) {
	for i := range slice {
		slice[i] = 0
	}
}

// EncodeBase64 is the single text encoding used for every wrapped field.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a base64 string, mapping failures to ErrDecoding.
func DecodeBase64(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return data, nil
}
