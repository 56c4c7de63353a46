package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSalt(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{"32 bytes", 32},
		{"16 bytes", 16},
		{"1 byte", 1},
		{"zero length", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			salt, err := GenerateSalt(tt.length)
			require.NoError(t, err)
			assert.Len(t, salt, tt.length)
		})
	}
}

func TestGenerateSaltUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		salt, err := GenerateSalt(VaultSaltLength)
		require.NoError(t, err)
		assert.False(t, seen[string(salt)], "duplicate salt at iteration %d", i)
		seen[string(salt)] = true
	}
}

func TestDeviceCapabilityString(t *testing.T) {
	tests := []struct {
		capability DeviceCapability
		expected   string
	}{
		{DeviceMinimal, "minimal"},
		{DeviceInteractive, "interactive"},
		{DeviceBalanced, "balanced"},
		{DeviceMaximum, "maximum"},
		{DeviceCapability(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.capability.String())
		})
	}
}

func TestParseDeviceCapability(t *testing.T) {
	tests := []struct {
		input    string
		expected DeviceCapability
		wantErr  bool
	}{
		{"", DeviceInteractive, false},
		{"interactive", DeviceInteractive, false},
		{"Balanced", DeviceBalanced, false},
		{" maximum ", DeviceMaximum, false},
		{"minimal", DeviceMinimal, false},
		{"turbo", DeviceInteractive, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			capability, err := ParseDeviceCapability(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, capability)
		})
	}
}

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		name    string
		profile ArgonProfile
		wantErr bool
	}{
		{"interactive", ArgonInteractive, false},
		{"balanced", ArgonBalanced, false},
		{"maximum", ArgonMaximum, false},
		{"testing", ArgonTesting, false},
		{"zero time", ArgonProfile{Time: 0, Memory: 1024, Threads: 1, KeyLen: 32}, true},
		{"low memory", ArgonProfile{Time: 1, Memory: 512, Threads: 1, KeyLen: 32}, true},
		{"zero threads", ArgonProfile{Time: 1, Memory: 1024, Threads: 0, KeyLen: 32}, true},
		{"short key", ArgonProfile{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProfile(tt.profile)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeriveKeyArgon2IDDeterministic(t *testing.T) {
	password := []byte("correct horse")
	salt := []byte("0123456789abcdef")

	k1 := DeriveKeyArgon2ID(password, salt, ArgonTesting)
	k2 := DeriveKeyArgon2ID(password, salt, ArgonTesting)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	k3 := DeriveKeyArgon2ID(password, []byte("fedcba9876543210"), ArgonTesting)
	assert.NotEqual(t, k1, k3)
}

func TestGCMWithAAD(t *testing.T) {
	key := GenerateRandomBytes(32)
	plaintext := []byte("attack at dawn")

	sealed, err := EncryptGCMWithAAD(plaintext, key, []byte("label-a"))
	require.NoError(t, err)

	opened, err := DecryptGCMWithAAD(sealed, key, []byte("label-a"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	_, err = DecryptGCMWithAAD(sealed, key, []byte("label-b"))
	assert.ErrorIs(t, err, ErrGCMOpen)

	_, err = DecryptGCMWithAAD(sealed, key, nil)
	assert.ErrorIs(t, err, ErrGCMOpen)

	_, err = DecryptGCMWithAAD(sealed[:10], key, []byte("label-a"))
	assert.ErrorIs(t, err, ErrGCMOpen)

	_, err = EncryptGCMWithAAD(plaintext, key[:16], nil)
	assert.Error(t, err)
}

func TestDeriveKeyHKDF(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, 32)

	k1, err := DeriveKeyHKDF(secret, EnvelopeKeyContext)
	require.NoError(t, err)
	k2, err := DeriveKeyHKDF(secret, EnvelopeKeyContext)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveKeyHKDF(secret, OPAQUESessionContext)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveKeyHKDF(nil, EnvelopeKeyContext)
	assert.Error(t, err)
}

func TestTOTPUserKey(t *testing.T) {
	master, err := ParseTOTPMasterKey("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)

	alice1, err := DeriveTOTPUserKey(master, "alice@example.com")
	require.NoError(t, err)
	alice2, err := DeriveTOTPUserKey(master, "alice@example.com")
	require.NoError(t, err)
	bob, err := DeriveTOTPUserKey(master, "bob@example.com")
	require.NoError(t, err)

	assert.Equal(t, alice1, alice2)
	assert.NotEqual(t, alice1, bob)
	assert.Len(t, alice1, 32)

	_, err = DeriveTOTPUserKey(nil, "alice@example.com")
	assert.Error(t, err)
	_, err = DeriveTOTPUserKey(master, "")
	assert.Error(t, err)
	_, err = ParseTOTPMasterKey("abcd")
	assert.Error(t, err)
	_, err = ParseTOTPMasterKey("not-hex")
	assert.Error(t, err)
}

func TestValidateSessionKey(t *testing.T) {
	assert.NoError(t, ValidateSessionKey(GenerateRandomBytes(SessionKeyLength)))
	assert.Error(t, ValidateSessionKey(make([]byte, SessionKeyLength)))
	assert.Error(t, ValidateSessionKey(GenerateRandomBytes(16)))

	key := GenerateRandomBytes(SessionKeyLength)
	SecureZeroSessionKey(key)
	assert.Equal(t, make([]byte, SessionKeyLength), key)
}
