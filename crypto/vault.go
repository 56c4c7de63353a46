package crypto

import (
	"errors"
	"fmt"
)

const (
	// VaultSaltLength is the Argon2id salt size for a vault record.
	VaultSaltLength = 16

	vaultLabel = "arkvault/vault/session-key"
)

// SessionVaultRecord is a session key encrypted at rest under a key derived
// from the user's password. Both fields are base64.
type SessionVaultRecord struct {
	SessionKeyEnc string `json:"sessionKeyEnc"`
	Salt          string `json:"salt"`
}

// Vault encrypts sessionKey under Argon2id(password, fresh salt). The salt
// is regenerated on every call. No I/O; the caller persists the record.
func Vault(password, sessionKey []byte, profile ArgonProfile) (SessionVaultRecord, error) {
	if len(password) == 0 {
		return SessionVaultRecord{}, errors.New("password cannot be empty")
	}
	if len(sessionKey) == 0 {
		return SessionVaultRecord{}, errors.New("session key cannot be empty")
	}
	if err := ValidateProfile(profile); err != nil {
		return SessionVaultRecord{}, fmt.Errorf("invalid vault profile: %w", err)
	}

	salt, err := GenerateSalt(VaultSaltLength)
	if err != nil {
		return SessionVaultRecord{}, err
	}

	key := DeriveKeyArgon2ID(password, salt, profile)
	defer SecureZeroBytes(key)

	sealed, err := EncryptGCMWithAAD(sessionKey, key, []byte(vaultLabel))
	if err != nil {
		return SessionVaultRecord{}, fmt.Errorf("failed to vault session key: %w", err)
	}

	return SessionVaultRecord{
		SessionKeyEnc: EncodeBase64(sealed),
		Salt:          EncodeBase64(salt),
	}, nil
}

// Unvault recovers the session key. A wrong password or a corrupted record
// yields ErrVaultAuthentication; undecodable fields yield ErrDecoding.
func Unvault(password []byte, record SessionVaultRecord, profile ArgonProfile) ([]byte, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, fmt.Errorf("invalid vault profile: %w", err)
	}

	salt, err := DecodeBase64(record.Salt)
	if err != nil {
		return nil, fmt.Errorf("vault salt: %w", err)
	}
	if len(salt) != VaultSaltLength {
		return nil, fmt.Errorf("%w: vault salt must be %d bytes", ErrDecoding, VaultSaltLength)
	}
	sealed, err := DecodeBase64(record.SessionKeyEnc)
	if err != nil {
		return nil, fmt.Errorf("vault ciphertext: %w", err)
	}

	key := DeriveKeyArgon2ID(password, salt, profile)
	defer SecureZeroBytes(key)

	sessionKey, err := DecryptGCMWithAAD(sealed, key, []byte(vaultLabel))
	if err != nil {
		return nil, ErrVaultAuthentication
	}
	return sessionKey, nil
}
