package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPakeServer(t *testing.T) *PakeServer {
	t.Helper()
	key, err := GeneratePakeServerKey()
	require.NoError(t, err)
	server, err := NewPakeServer(key)
	require.NoError(t, err)
	return server
}

func registerForTest(t *testing.T, server *PakeServer, client PakeClient, email, password string) ([]byte, *StoredRecord) {
	t.Helper()
	state, req, err := client.StartRegistration(email, []byte(password))
	require.NoError(t, err)
	pending, resp, err := server.StartRegistration(email, req)
	require.NoError(t, err)
	exportKey, record, err := client.FinishRegistration(state, resp)
	require.NoError(t, err)
	stored, err := server.FinishRegistration(pending, record)
	require.NoError(t, err)
	return exportKey, stored
}

func loginForTest(t *testing.T, server *PakeServer, client PakeClient, email, password string, stored *StoredRecord) (*LoginResult, []byte, error) {
	t.Helper()
	state, req, err := client.StartLogin(email, []byte(password))
	require.NoError(t, err)
	pending, resp, err := server.StartLogin(email, stored, req)
	require.NoError(t, err)
	result, err := client.FinishLogin(state, resp)
	if err != nil {
		return nil, nil, err
	}
	serverKey, err := server.FinishLogin(pending, result.FinishRequest)
	return result, serverKey, err
}

func TestPakeRegistrationAndLogin(t *testing.T) {
	server := newTestPakeServer(t)
	client := NewPakeClient()

	exportKey, stored := registerForTest(t, server, client, "alice@example.com", "Str0ng!Password#2024")
	assert.Len(t, exportKey, 32)

	first, serverKey, err := loginForTest(t, server, client, "alice@example.com", "Str0ng!Password#2024", stored)
	require.NoError(t, err)
	assert.Equal(t, exportKey, first.ExportKey, "export key is stable across logins")
	assert.Equal(t, serverKey, first.SessionKey, "both sides agree on the session key")
	assert.Len(t, first.SessionKey, 32)

	second, _, err := loginForTest(t, server, client, "alice@example.com", "Str0ng!Password#2024", stored)
	require.NoError(t, err)
	assert.Equal(t, first.ExportKey, second.ExportKey)
	assert.NotEqual(t, first.SessionKey, second.SessionKey, "session keys are fresh per login")
}

func TestPakeWrongPassword(t *testing.T) {
	server := newTestPakeServer(t)
	client := NewPakeClient()
	_, stored := registerForTest(t, server, client, "bob@example.com", "Correct-Horse-42!")

	result, _, err := loginForTest(t, server, client, "bob@example.com", "Wrong-Horse-42!", stored)
	assert.ErrorIs(t, err, ErrPakeLoginFailed)
	assert.Nil(t, result)
}

func TestPakeReRegistrationChangesExportKey(t *testing.T) {
	server := newTestPakeServer(t)
	client := NewPakeClient()

	k1, _ := registerForTest(t, server, client, "carol@example.com", "Password-One-111!")
	k2, stored := registerForTest(t, server, client, "carol@example.com", "Password-Two-222!")
	assert.NotEqual(t, k1, k2)

	result, _, err := loginForTest(t, server, client, "carol@example.com", "Password-Two-222!", stored)
	require.NoError(t, err)
	assert.Equal(t, k2, result.ExportKey)
}

func TestPakeServerRejectsMismatchedUser(t *testing.T) {
	server := newTestPakeServer(t)
	client := NewPakeClient()

	_, req, err := client.StartRegistration("dave@example.com", []byte("pw"))
	require.NoError(t, err)
	_, _, err = server.StartRegistration("eve@example.com", req)
	assert.ErrorIs(t, err, ErrPakeUserMismatch)

	_, stored := registerForTest(t, server, client, "dave@example.com", "pw")
	_, loginReq, err := client.StartLogin("dave@example.com", []byte("pw"))
	require.NoError(t, err)
	_, _, err = server.StartLogin("eve@example.com", stored, loginReq)
	assert.ErrorIs(t, err, ErrPakeUserMismatch)
}

func TestPakeFinishLoginRejectsGarbage(t *testing.T) {
	server := newTestPakeServer(t)
	client := NewPakeClient()
	_, stored := registerForTest(t, server, client, "frank@example.com", "pw")

	_, req, err := client.StartLogin("frank@example.com", []byte("pw"))
	require.NoError(t, err)
	pending, _, err := server.StartLogin("frank@example.com", stored, req)
	require.NoError(t, err)

	_, err = server.FinishLogin(pending, []byte{0x00, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrPakeAuthFailed)
}

func TestPakeMalformedMessages(t *testing.T) {
	server := newTestPakeServer(t)
	client := NewPakeClient()

	_, _, err := server.StartRegistration("x@example.com", []byte("not a message"))
	assert.Error(t, err)

	state, _, err := client.StartLogin("x@example.com", []byte("pw"))
	require.NoError(t, err)
	_, err = client.FinishLogin(state, []byte("junk"))
	assert.Error(t, err)
}

func TestStoredRecordRoundTrip(t *testing.T) {
	server := newTestPakeServer(t)
	_, stored := registerForTest(t, server, NewPakeClient(), "gina@example.com", "pw")

	data, err := stored.Marshal()
	require.NoError(t, err)
	parsed, err := ParseStoredRecord(data)
	require.NoError(t, err)
	assert.Equal(t, stored, parsed)

	_, err = ParseStoredRecord([]byte(`{}`))
	assert.Error(t, err)
}

func TestNewPakeServerRejectsBadKey(t *testing.T) {
	_, err := NewPakeServer("zz")
	assert.Error(t, err)
	_, err = NewPakeServer("abcd")
	assert.Error(t, err)
}
