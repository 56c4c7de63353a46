package crypto

import (
	"fmt"
)

// ValidateExportKey rejects export keys that cannot have come from a
// completed OPAQUE exchange.
func ValidateExportKey(exportKey []byte) error {
	if len(exportKey) == 0 {
		return fmt.Errorf("OPAQUE export key cannot be empty")
	}

	if len(exportKey) < 32 {
		return fmt.Errorf("OPAQUE export key too short, expected at least 32 bytes, got %d", len(exportKey))
	}

	allZeros := true
	for _, b := range exportKey {
		if b != 0 {
			allZeros = false
			break
		}
	}

	if allZeros {
		return fmt.Errorf("OPAQUE export key cannot be all zeros")
	}

	return nil
}
