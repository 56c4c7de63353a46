package crypto

import (
	"crypto/ecdh"
	"crypto/mlkem"
	"crypto/rand"
	"errors"
	"fmt"
)

// KeyPair holds one asymmetric key pair as base64 text. In a wrapped
// profile PrivateKey carries the envelope ciphertext instead of the key.
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// UserKeys is the user's classical (X25519) and post-quantum (ML-KEM-768)
// key material.
type UserKeys struct {
	ECC   KeyPair `json:"ecc"`
	Kyber KeyPair `json:"kyber"`
}

// EncryptedKeys is UserKeys with both private keys wrapped by the envelope
// codec. Public keys are carried in the clear.
type EncryptedKeys struct {
	ECC   KeyPair `json:"ecc"`
	Kyber KeyPair `json:"kyber"`
}

// GenerateUserKeys creates fresh X25519 and ML-KEM-768 key pairs.
func GenerateUserKeys() (UserKeys, error) {
	eccPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return UserKeys{}, fmt.Errorf("failed to generate X25519 key: %w", err)
	}

	kemPriv, err := mlkem.GenerateKey768()
	if err != nil {
		return UserKeys{}, fmt.Errorf("failed to generate ML-KEM-768 key: %w", err)
	}

	return UserKeys{
		ECC: KeyPair{
			PrivateKey: EncodeBase64(eccPriv.Bytes()),
			PublicKey:  EncodeBase64(eccPriv.PublicKey().Bytes()),
		},
		Kyber: KeyPair{
			PrivateKey: EncodeBase64(kemPriv.Bytes()),
			PublicKey:  EncodeBase64(kemPriv.EncapsulationKey().Bytes()),
		},
	}, nil
}

// Validate checks that each public key belongs to its private key.
func (k UserKeys) Validate() error {
	eccPrivBytes, err := DecodeBase64(k.ECC.PrivateKey)
	if err != nil {
		return fmt.Errorf("ecc private key: %w", err)
	}
	eccPriv, err := ecdh.X25519().NewPrivateKey(eccPrivBytes)
	if err != nil {
		return fmt.Errorf("ecc private key: %w", err)
	}
	if EncodeBase64(eccPriv.PublicKey().Bytes()) != k.ECC.PublicKey {
		return errors.New("ecc public key does not match private key")
	}

	seed, err := DecodeBase64(k.Kyber.PrivateKey)
	if err != nil {
		return fmt.Errorf("kyber private key: %w", err)
	}
	kemPriv, err := mlkem.NewDecapsulationKey768(seed)
	if err != nil {
		return fmt.Errorf("kyber private key: %w", err)
	}
	if EncodeBase64(kemPriv.EncapsulationKey().Bytes()) != k.Kyber.PublicKey {
		return errors.New("kyber public key does not match private key")
	}
	return nil
}
