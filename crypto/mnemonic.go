package crypto

import (
	"errors"
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits is fixed; the phrase is generated once per account.
const MnemonicEntropyBits = 256

// GenerateMnemonic returns a fresh 24-word BIP-39 recovery phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic entropy: %w", err)
	}
	defer SecureZeroBytes(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to encode mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks word list membership and checksum.
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return errors.New("invalid recovery mnemonic")
	}
	return nil
}
