package crypto

import (
	"strings"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnvelopeFixture(t *testing.T) (UserKeys, string, []byte) {
	t.Helper()
	keys, err := GenerateUserKeys()
	require.NoError(t, err)
	mnemonic, err := GenerateMnemonic()
	require.NoError(t, err)
	return keys, mnemonic, GenerateRandomBytes(32)
}

func TestDeriveSymmetricKey(t *testing.T) {
	exportKey := GenerateRandomBytes(32)

	k1, err := DeriveSymmetricKey(exportKey)
	require.NoError(t, err)
	k2, err := DeriveSymmetricKey(exportKey)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	_, err = DeriveSymmetricKey(nil)
	assert.Error(t, err)
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	for i := 0; i < 5; i++ {
		keys, mnemonic, exportKey := newEnvelopeFixture(t)

		encMnemonic, encKeys, err := Wrap(keys, mnemonic, exportKey)
		require.NoError(t, err)

		assert.Equal(t, keys.ECC.PublicKey, encKeys.ECC.PublicKey)
		assert.Equal(t, keys.Kyber.PublicKey, encKeys.Kyber.PublicKey)
		assert.NotEqual(t, keys.ECC.PrivateKey, encKeys.ECC.PrivateKey)
		assert.NotEqual(t, keys.Kyber.PrivateKey, encKeys.Kyber.PrivateKey)
		assert.NotContains(t, encMnemonic, mnemonic)

		gotKeys, gotMnemonic, err := Unwrap(encMnemonic, encKeys, exportKey)
		require.NoError(t, err)
		if diff := deep.Equal(gotKeys, keys); diff != nil {
			t.Errorf("unwrapped keys differ: %v", diff)
		}
		assert.Equal(t, mnemonic, gotMnemonic)
	}
}

func TestUnwrapWrongExportKey(t *testing.T) {
	keys, mnemonic, exportKey := newEnvelopeFixture(t)
	encMnemonic, encKeys, err := Wrap(keys, mnemonic, exportKey)
	require.NoError(t, err)

	gotKeys, gotMnemonic, err := Unwrap(encMnemonic, encKeys, GenerateRandomBytes(32))
	assert.ErrorIs(t, err, ErrEnvelopeAuthentication)
	assert.Empty(t, gotMnemonic)
	assert.Equal(t, UserKeys{}, gotKeys)
}

func flipByte(t *testing.T, encoded string, index int) string {
	t.Helper()
	raw, err := DecodeBase64(encoded)
	require.NoError(t, err)
	raw[index%len(raw)] ^= 0x01
	return EncodeBase64(raw)
}

func TestUnwrapTamperDetection(t *testing.T) {
	keys, mnemonic, exportKey := newEnvelopeFixture(t)
	encMnemonic, encKeys, err := Wrap(keys, mnemonic, exportKey)
	require.NoError(t, err)

	raw, err := DecodeBase64(encKeys.ECC.PrivateKey)
	require.NoError(t, err)

	for i := 0; i < len(raw); i++ {
		tampered := encKeys
		tampered.ECC.PrivateKey = flipByte(t, encKeys.ECC.PrivateKey, i)
		_, _, err := Unwrap(encMnemonic, tampered, exportKey)
		assert.ErrorIs(t, err, ErrEnvelopeAuthentication, "flipped byte %d", i)
	}

	rawMnemonic, err := DecodeBase64(encMnemonic)
	require.NoError(t, err)
	for _, i := range []int{0, 1, 13, len(rawMnemonic) - 1} {
		_, _, err := Unwrap(flipByte(t, encMnemonic, i), encKeys, exportKey)
		assert.ErrorIs(t, err, ErrEnvelopeAuthentication, "flipped mnemonic byte %d", i)
	}
}

func TestUnwrapSwappedFields(t *testing.T) {
	keys, mnemonic, exportKey := newEnvelopeFixture(t)
	encMnemonic, encKeys, err := Wrap(keys, mnemonic, exportKey)
	require.NoError(t, err)

	tests := []struct {
		name        string
		encMnemonic string
		encKeys     EncryptedKeys
	}{
		{
			name:        "ecc and kyber swapped",
			encMnemonic: encMnemonic,
			encKeys: EncryptedKeys{
				ECC:   KeyPair{PrivateKey: encKeys.Kyber.PrivateKey, PublicKey: encKeys.ECC.PublicKey},
				Kyber: KeyPair{PrivateKey: encKeys.ECC.PrivateKey, PublicKey: encKeys.Kyber.PublicKey},
			},
		},
		{
			name:        "mnemonic in ecc slot",
			encMnemonic: encKeys.ECC.PrivateKey,
			encKeys: EncryptedKeys{
				ECC:   KeyPair{PrivateKey: encMnemonic, PublicKey: encKeys.ECC.PublicKey},
				Kyber: encKeys.Kyber,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Unwrap(tt.encMnemonic, tt.encKeys, exportKey)
			assert.ErrorIs(t, err, ErrEnvelopeAuthentication)
		})
	}
}

func TestUnwrapMalformedBase64(t *testing.T) {
	keys, mnemonic, exportKey := newEnvelopeFixture(t)
	encMnemonic, encKeys, err := Wrap(keys, mnemonic, exportKey)
	require.NoError(t, err)

	_, _, err = Unwrap("%%%not-base64%%%", encKeys, exportKey)
	assert.ErrorIs(t, err, ErrDecoding)

	bad := encKeys
	bad.Kyber.PrivateKey = "!!"
	_, _, err = Unwrap(encMnemonic, bad, exportKey)
	assert.ErrorIs(t, err, ErrDecoding)

	_, _, err = Unwrap("", encKeys, exportKey)
	assert.ErrorIs(t, err, ErrDecoding)
}

func TestWrapProducesFreshNonces(t *testing.T) {
	keys, mnemonic, exportKey := newEnvelopeFixture(t)
	m1, k1, err := Wrap(keys, mnemonic, exportKey)
	require.NoError(t, err)
	m2, k2, err := Wrap(keys, mnemonic, exportKey)
	require.NoError(t, err)

	assert.NotEqual(t, m1, m2)
	assert.NotEqual(t, k1.ECC.PrivateKey, k2.ECC.PrivateKey)
}

func TestGenerateUserKeys(t *testing.T) {
	keys, err := GenerateUserKeys()
	require.NoError(t, err)
	require.NoError(t, keys.Validate())

	other, err := GenerateUserKeys()
	require.NoError(t, err)
	assert.NotEqual(t, keys.ECC.PrivateKey, other.ECC.PrivateKey)

	mixed := keys
	mixed.ECC.PublicKey = other.ECC.PublicKey
	assert.Error(t, mixed.Validate())

	mixed = keys
	mixed.Kyber.PublicKey = other.Kyber.PublicKey
	assert.Error(t, mixed.Validate())
}

func TestGenerateMnemonic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	require.NoError(t, err)
	assert.NoError(t, ValidateMnemonic(mnemonic))

	assert.Len(t, strings.Fields(mnemonic), 24)

	assert.Error(t, ValidateMnemonic("not a real mnemonic"))
}
