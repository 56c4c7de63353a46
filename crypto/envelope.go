package crypto

import (
	"fmt"
)

// EnvelopeVersion prefixes every wrapped field.
type EnvelopeVersion byte

const (
	EnvelopeV1 EnvelopeVersion = 0x01
)

// EnvelopeLabel is the associated data bound into a wrapped field. Each field
// has its own label so ciphertexts cannot be moved between fields.
type EnvelopeLabel string

const (
	LabelECCPrivateKey   EnvelopeLabel = "arkvault/envelope/ecc-private-key"
	LabelKyberPrivateKey EnvelopeLabel = "arkvault/envelope/kyber-private-key"
	LabelMnemonic        EnvelopeLabel = "arkvault/envelope/mnemonic"
)

// DeriveSymmetricKey stretches an OPAQUE export key into the AES-256 key
// used for every envelope field. Deterministic for a given export key.
func DeriveSymmetricKey(exportKey []byte) ([]byte, error) {
	if err := ValidateExportKey(exportKey); err != nil {
		return nil, err
	}
	return DeriveKeyHKDF(exportKey, EnvelopeKeyContext)
}

// Wrap encrypts both private keys and the mnemonic under exportKey.
// Public keys pass through unchanged.
func Wrap(keys UserKeys, mnemonic string, exportKey []byte) (string, EncryptedKeys, error) {
	key, err := DeriveSymmetricKey(exportKey)
	if err != nil {
		return "", EncryptedKeys{}, err
	}
	defer SecureZeroBytes(key)

	encMnemonic, err := sealField(key, LabelMnemonic, []byte(mnemonic))
	if err != nil {
		return "", EncryptedKeys{}, fmt.Errorf("wrap mnemonic: %w", err)
	}
	encECC, err := sealField(key, LabelECCPrivateKey, []byte(keys.ECC.PrivateKey))
	if err != nil {
		return "", EncryptedKeys{}, fmt.Errorf("wrap ecc private key: %w", err)
	}
	encKyber, err := sealField(key, LabelKyberPrivateKey, []byte(keys.Kyber.PrivateKey))
	if err != nil {
		return "", EncryptedKeys{}, fmt.Errorf("wrap kyber private key: %w", err)
	}

	return encMnemonic, EncryptedKeys{
		ECC:   KeyPair{PrivateKey: encECC, PublicKey: keys.ECC.PublicKey},
		Kyber: KeyPair{PrivateKey: encKyber, PublicKey: keys.Kyber.PublicKey},
	}, nil
}

// Unwrap is the inverse of Wrap. It returns ErrDecoding for malformed input
// and ErrEnvelopeAuthentication if any field fails to authenticate. Nothing
// is returned unless every field opens.
func Unwrap(encMnemonic string, encKeys EncryptedKeys, exportKey []byte) (UserKeys, string, error) {
	key, err := DeriveSymmetricKey(exportKey)
	if err != nil {
		return UserKeys{}, "", err
	}
	defer SecureZeroBytes(key)

	mnemonic, err := openField(key, LabelMnemonic, encMnemonic)
	if err != nil {
		return UserKeys{}, "", fmt.Errorf("unwrap mnemonic: %w", err)
	}
	eccPriv, err := openField(key, LabelECCPrivateKey, encKeys.ECC.PrivateKey)
	if err != nil {
		return UserKeys{}, "", fmt.Errorf("unwrap ecc private key: %w", err)
	}
	kyberPriv, err := openField(key, LabelKyberPrivateKey, encKeys.Kyber.PrivateKey)
	if err != nil {
		return UserKeys{}, "", fmt.Errorf("unwrap kyber private key: %w", err)
	}

	return UserKeys{
		ECC:   KeyPair{PrivateKey: string(eccPriv), PublicKey: encKeys.ECC.PublicKey},
		Kyber: KeyPair{PrivateKey: string(kyberPriv), PublicKey: encKeys.Kyber.PublicKey},
	}, string(mnemonic), nil
}

// sealField produces base64(version || nonce || ciphertext || tag).
func sealField(key []byte, label EnvelopeLabel, plaintext []byte) (string, error) {
	sealed, err := EncryptGCMWithAAD(plaintext, key, []byte(label))
	if err != nil {
		return "", err
	}
	return EncodeBase64(append([]byte{byte(EnvelopeV1)}, sealed...)), nil
}

func openField(key []byte, label EnvelopeLabel, encoded string) ([]byte, error) {
	raw, err := DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty envelope", ErrDecoding)
	}
	// An unknown version byte is treated as tampering, like any other flipped byte.
	if EnvelopeVersion(raw[0]) != EnvelopeV1 {
		return nil, fmt.Errorf("%w: unsupported envelope version 0x%02x", ErrEnvelopeAuthentication, raw[0])
	}

	plaintext, err := DecryptGCMWithAAD(raw[1:], key, []byte(label))
	if err != nil {
		return nil, ErrEnvelopeAuthentication
	}
	return plaintext, nil
}
