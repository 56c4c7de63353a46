package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// EncryptGCMWithAAD encrypts data using AES-256-GCM and binds additionalData
// into the authentication tag. The same additionalData must be supplied to
// DecryptGCMWithAAD.
func EncryptGCMWithAAD(data, key, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, data, additionalData), nil
}

// DecryptGCMWithAAD is the inverse of EncryptGCMWithAAD. Any tag mismatch,
// including a different additionalData, returns ErrGCMOpen.
func DecryptGCMWithAAD(data, key, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: %w", ErrGCMOpen)
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], additionalData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", ErrGCMOpen)
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes for AES-256")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
