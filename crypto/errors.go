package crypto

import "errors"

var (
	// ErrGCMOpen is returned when an AES-GCM ciphertext fails authentication.
	ErrGCMOpen = errors.New("authenticated decryption failed")

	// ErrDecoding is returned when an encoded envelope or vault field is not
	// well-formed (bad base64, unknown version byte, truncated record).
	ErrDecoding = errors.New("malformed encoded input")

	// ErrEnvelopeAuthentication is returned by Unwrap when any wrapped field
	// fails authenticated decryption: wrong export key, corrupted ciphertext,
	// or a ciphertext moved into the wrong field.
	ErrEnvelopeAuthentication = errors.New("envelope authentication failed")

	// ErrVaultAuthentication is returned by Unvault on a wrong password or a
	// corrupted vault record.
	ErrVaultAuthentication = errors.New("session vault authentication failed")
)
