package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeMACDeterministic(t *testing.T) {
	key := GenerateRandomBytes(SessionKeyLength)
	args := [][]byte{[]byte("123456"), []byte("session-a")}

	assert.Equal(t, ComputeMAC(key, args...), ComputeMAC(key, args...))
	assert.Len(t, ComputeMAC(key, args...), 32)
}

func TestComputeMACBinding(t *testing.T) {
	key := GenerateRandomBytes(SessionKeyLength)
	base := ComputeMAC(key, []byte("123456"), []byte("session-a"))

	tests := []struct {
		name string
		key  []byte
		args [][]byte
	}{
		{"different session", key, [][]byte{[]byte("123456"), []byte("session-b")}},
		{"different code", key, [][]byte{[]byte("654321"), []byte("session-a")}},
		{"reordered", key, [][]byte{[]byte("session-a"), []byte("123456")}},
		{"extra argument", key, [][]byte{[]byte("123456"), []byte("session-a"), {}}},
		{"boundary shift", key, [][]byte{[]byte("12345"), []byte("6session-a")}},
		{"different key", GenerateRandomBytes(SessionKeyLength), [][]byte{[]byte("123456"), []byte("session-a")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, ComputeMAC(tt.key, tt.args...))
		})
	}
}

func TestVerifyMAC(t *testing.T) {
	key := GenerateRandomBytes(SessionKeyLength)
	mac := ComputeMAC(key, []byte("a"), []byte("b"))

	assert.True(t, VerifyMAC(key, mac, []byte("a"), []byte("b")))
	assert.False(t, VerifyMAC(key, mac, []byte("a"), []byte("c")))
	assert.False(t, VerifyMAC(GenerateRandomBytes(SessionKeyLength), mac, []byte("a"), []byte("b")))
	assert.False(t, VerifyMAC(key, nil, []byte("a"), []byte("b")))
	assert.False(t, VerifyMAC(nil, mac, []byte("a"), []byte("b")))
}

func TestCommandMACInputOrdering(t *testing.T) {
	encKeys := EncryptedKeys{
		ECC:   KeyPair{PrivateKey: "ecc-priv", PublicKey: "ecc-pub"},
		Kyber: KeyPair{PrivateKey: "kyber-priv", PublicKey: "kyber-pub"},
	}

	tests := []struct {
		name     string
		command  AuthenticatedCommand
		expected []string
	}{
		{
			name:     "disable 2fa",
			command:  DisableTwoFactorCommand("123456", "sid"),
			expected: []string{"v1/disable-2fa", "123456", "sid"},
		},
		{
			name:     "enable 2fa start",
			command:  EnableTwoFactorStartCommand("sid"),
			expected: []string{"v1/enable-2fa-start", "sid"},
		},
		{
			name:     "enable 2fa confirm",
			command:  EnableTwoFactorConfirmCommand("123456", "sid"),
			expected: []string{"v1/enable-2fa-confirm", "123456", "sid"},
		},
		{
			name:     "change password start",
			command:  ChangePasswordStartCommand([]byte("reg-req"), "sid"),
			expected: []string{"v1/change-password-start", "reg-req", "sid"},
		},
		{
			name:    "change password finish",
			command: ChangePasswordFinishCommand([]byte("record"), "enc-mnemonic", encKeys, []byte("login-req"), "sid"),
			expected: []string{
				"v1/change-password-finish", "record", "enc-mnemonic",
				"ecc-priv", "ecc-pub", "kyber-priv", "kyber-pub", "login-req", "sid",
			},
		},
		{
			name:     "logout",
			command:  LogoutCommand("sid"),
			expected: []string{"v1/logout", "sid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.command.MACInput()
			got := make([]string, len(input))
			for i, arg := range input {
				got[i] = string(arg)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCommandSignVerify(t *testing.T) {
	key := GenerateRandomBytes(SessionKeyLength)
	cmd := DisableTwoFactorCommand("123456", "session-a")
	mac := cmd.Sign(key)

	assert.True(t, cmd.Verify(key, mac))
	assert.False(t, DisableTwoFactorCommand("123456", "session-b").Verify(key, mac))
	assert.False(t, cmd.Verify(GenerateRandomBytes(SessionKeyLength), mac))

	// Same argument shape, different command.
	assert.False(t, EnableTwoFactorConfirmCommand("123456", "session-a").Verify(key, mac))
}
