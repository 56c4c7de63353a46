package client

import (
	"context"
	"database/sql"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/84adam/arkvault/api"
	"github.com/84adam/arkvault/auth"
	"github.com/84adam/arkvault/crypto"
	"github.com/84adam/arkvault/database"
	"github.com/84adam/arkvault/handlers"
	"github.com/84adam/arkvault/models"
)

const (
	testEmail = "alice@example.com"
	pw1       = "Pw1!"
	pw2       = "Pw2!"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

// step moves past the current TOTP period so the next code is fresh.
func (c *testClock) step() { c.t = c.t.Add(auth.TOTPPeriod * time.Second) }

type testEnv struct {
	server    *handlers.Server
	db        *sql.DB
	transport *HTTPTransport
	clock     *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	key, err := auth.GeneratePakeServerKey()
	require.NoError(t, err)
	server, err := handlers.NewServer(db, handlers.Options{
		PakeServerKey:                  key,
		TOTPMasterKey:                  crypto.GenerateRandomBytes(crypto.TOTPMasterKeyLength),
		JWTSecret:                      "client-test-jwt-secret-long-enough-for-hs256",
		RevokeSessionsOnPasswordChange: true,
	})
	require.NoError(t, err)

	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	server.TOTP().SetClock(clock.now)

	e := echo.New()
	server.RegisterRoutes(e)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	return &testEnv{
		server:    server,
		db:        db,
		transport: NewHTTPTransport(ts.URL, WithHTTPClient(ts.Client())),
		clock:     clock,
	}
}

// device is a client with its own store, as on a separate machine.
func (env *testEnv) device(transport ...Transport) *Client {
	var tr Transport = env.transport
	if len(transport) > 0 {
		tr = transport[0]
	}
	return New(tr, NewMemoryStore(), WithKDFProfile(crypto.ArgonTesting))
}

func (env *testEnv) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := auth.GenerateCode(secret, env.clock.now())
	require.NoError(t, err)
	return code
}

func (env *testEnv) enableTwoFactor(t *testing.T, c *Client, password string) string {
	t.Helper()
	setup, err := c.EnableTwoFactor(context.Background(), []byte(password))
	require.NoError(t, err)
	require.NoError(t, c.ConfirmTwoFactor(context.Background(), []byte(password), env.code(t, setup.Secret)))
	env.clock.step()
	return setup.Secret
}

func register(t *testing.T, c *Client, password string) *Session {
	t.Helper()
	session, err := c.Register(context.Background(), RegisterInput{Email: testEmail, Password: []byte(password), Captcha: "ok"})
	require.NoError(t, err)
	return session
}

func TestSignupThenLoginWithTwoFactor(t *testing.T) {
	env := newTestEnv(t)
	laptop := env.device()
	signup := register(t, laptop, pw1)
	require.NoError(t, signup.Keys.Validate())
	require.NoError(t, crypto.ValidateMnemonic(signup.Mnemonic))

	secret := env.enableTwoFactor(t, laptop, pw1)

	phone := env.device()
	login, err := phone.Login(context.Background(), LoginInput{Email: testEmail, Password: []byte(pw1), TwoFactorCode: env.code(t, secret)})
	require.NoError(t, err)

	assert.Nil(t, deep.Equal(signup.Keys, login.Keys))
	assert.Equal(t, signup.Mnemonic, login.Mnemonic)
	assert.Equal(t, signup.ExportKey(), login.ExportKey())
	assert.NotEqual(t, signup.SessionKey(), login.SessionKey())
	assert.NotEqual(t, signup.SessionID, login.SessionID)
	assert.True(t, login.TwoFactorEnabled)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	register(t, env.device(), pw1)

	c := env.device()
	session, err := c.Login(context.Background(), LoginInput{Email: testEmail, Password: []byte("Pw9!")})
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.Nil(t, session)

	_, err = c.Account()
	assert.ErrorIs(t, err, ErrNotLoggedIn, "nothing persisted on failure")
}

// garbledPake fails FinishLogin the way an unreadable server response does.
type garbledPake struct {
	auth.PakeClient
}

func (garbledPake) FinishLogin(state *auth.LoginState, response []byte) (*auth.LoginResult, error) {
	return nil, errors.New("failed to decode login response: short buffer")
}

func TestLoginMalformedResponseIsNotBadPassword(t *testing.T) {
	env := newTestEnv(t)
	register(t, env.device(), pw1)

	c := New(env.transport, NewMemoryStore(), WithKDFProfile(crypto.ArgonTesting), WithPake(garbledPake{auth.NewPakeClient()}))
	_, err := c.Login(context.Background(), LoginInput{Email: testEmail, Password: []byte(pw1)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLoginFailed)
	assert.Contains(t, err.Error(), "failed to decode login response")
}

func TestLoginWrongTwoFactorCode(t *testing.T) {
	env := newTestEnv(t)
	c := env.device()
	register(t, c, pw1)
	secret := env.enableTwoFactor(t, c, pw1)

	_, err := env.device().Login(context.Background(), LoginInput{Email: testEmail, Password: []byte(pw1)})
	assert.ErrorIs(t, err, ErrTwoFactorRequired)

	_, err = env.device().Login(context.Background(), LoginInput{Email: testEmail, Password: []byte(pw1), TwoFactorCode: "000000"})
	assert.ErrorIs(t, err, ErrTwoFactor)
	assert.NotErrorIs(t, err, ErrLoginFailed)

	code := env.code(t, secret)
	_, err = env.device().Login(context.Background(), LoginInput{Email: testEmail, Password: []byte("Pw9!"), TwoFactorCode: code})
	assert.ErrorIs(t, err, ErrLoginFailed)
	_, err = env.device().Login(context.Background(), LoginInput{Email: testEmail, Password: []byte(pw1), TwoFactorCode: code})
	require.NoError(t, err, "a wrong password does not burn the code")
	_, err = env.device().Login(context.Background(), LoginInput{Email: testEmail, Password: []byte(pw1), TwoFactorCode: code})
	assert.ErrorIs(t, err, ErrTwoFactorInvalid, "a code is accepted once")
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	c := env.device()
	before := register(t, c, pw1)

	changed, err := c.ChangePassword(context.Background(), ChangePasswordInput{OldPassword: []byte(pw1), NewPassword: []byte(pw2)})
	require.NoError(t, err)

	assert.Nil(t, deep.Equal(before.Keys, changed.Keys), "keys survive the rewrap")
	assert.Equal(t, before.Mnemonic, changed.Mnemonic)
	assert.NotEqual(t, before.ExportKey(), changed.ExportKey())

	_, serverKey, err := models.GetActiveSession(env.db, env.server.SealKey(), changed.SessionID)
	require.NoError(t, err)
	assert.Equal(t, changed.SessionKey(), serverKey, "the new session is the server's session")

	fresh, err := env.device().Login(context.Background(), LoginInput{Email: testEmail, Password: []byte(pw2)})
	require.NoError(t, err)
	assert.Nil(t, deep.Equal(before.Keys, fresh.Keys))
	assert.Equal(t, before.Mnemonic, fresh.Mnemonic)
	assert.Equal(t, changed.ExportKey(), fresh.ExportKey())

	_, err = env.device().Login(context.Background(), LoginInput{Email: testEmail, Password: []byte(pw1)})
	assert.ErrorIs(t, err, ErrLoginFailed)

	oldMAC := crypto.LogoutCommand(before.SessionID).Sign(before.SessionKey())
	err = env.transport.Logout(context.Background(), before.Token, api.CommandRequest{MAC: oldMAC, SessionID: before.SessionID})
	assert.ErrorIs(t, err, ErrSessionNotFound, "old session is dead after the change commits")

	_, err = c.Authorize([]byte(pw1), crypto.LogoutCommand(changed.SessionID))
	assert.ErrorIs(t, err, ErrVaultAuthentication, "vault now opens with the new password only")
	_, err = c.Authorize([]byte(pw2), crypto.LogoutCommand(changed.SessionID))
	assert.NoError(t, err)
}

// failingStart rejects change-password start and records whether finish
// was attempted.
type failingStart struct {
	Transport
	finishCalled bool
}

func (f *failingStart) ChangePasswordStart(ctx context.Context, token string, req api.PasswordStartRequest) (*api.RegisterStartResponse, error) {
	return nil, ErrTransport
}

func (f *failingStart) ChangePasswordFinish(ctx context.Context, token string, req api.PasswordFinishRequest) (*api.LoginStartResponse, error) {
	f.finishCalled = true
	return f.Transport.ChangePasswordFinish(ctx, token, req)
}

func TestChangePasswordStartFailureSendsNoFinish(t *testing.T) {
	env := newTestEnv(t)
	tr := &failingStart{Transport: env.transport}
	c := env.device(tr)
	before := register(t, c, pw1)

	_, err := c.ChangePassword(context.Background(), ChangePasswordInput{OldPassword: []byte(pw1), NewPassword: []byte(pw2)})
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, tr.finishCalled)

	restored, err := c.Restore([]byte(pw1))
	require.NoError(t, err)
	assert.Equal(t, before.SessionID, restored.SessionID, "stored session untouched")
}

func TestChangePasswordWrongOldPassword(t *testing.T) {
	env := newTestEnv(t)
	c := env.device()
	register(t, c, pw1)

	_, err := c.ChangePassword(context.Background(), ChangePasswordInput{OldPassword: []byte("nope"), NewPassword: []byte(pw2)})
	assert.ErrorIs(t, err, ErrVaultAuthentication)
}

func TestDisableTwoFactorAuthorization(t *testing.T) {
	env := newTestEnv(t)
	c := env.device()
	session := register(t, c, pw1)
	secret := env.enableTwoFactor(t, c, pw1)

	code := env.code(t, secret)
	forged := crypto.DisableTwoFactorCommand(code, session.SessionID).Sign(crypto.GenerateRandomBytes(crypto.SessionKeyLength))
	err := env.transport.DisableTwoFactor(context.Background(), session.Token, api.TwoFactorCodeRequest{
		CommandRequest: api.CommandRequest{MAC: forged, SessionID: session.SessionID},
		TwoFactorCode:  code,
	})
	assert.ErrorIs(t, err, ErrCommandAuthorization)

	env.clock.step()
	err = c.DisableTwoFactor(context.Background(), []byte(pw1), "123456")
	assert.ErrorIs(t, err, ErrTwoFactor, "the code is checked before the MAC")

	require.NoError(t, c.DisableTwoFactor(context.Background(), []byte(pw1), env.code(t, secret)))

	login, err := env.device().Login(context.Background(), LoginInput{Email: testEmail, Password: []byte(pw1)})
	require.NoError(t, err)
	assert.False(t, login.TwoFactorEnabled)
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	register(t, env.device(), pw1)

	_, err := env.device().Register(context.Background(), RegisterInput{Email: "ALICE@example.com", Password: []byte(pw2), Captcha: "ok"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRestoreAndLogout(t *testing.T) {
	env := newTestEnv(t)
	store := NewMemoryStore()
	c := New(env.transport, store, WithKDFProfile(crypto.ArgonTesting))
	session := register(t, c, pw1)

	restarted := New(env.transport, store, WithKDFProfile(crypto.ArgonTesting))
	restored, err := restarted.Restore([]byte(pw1))
	require.NoError(t, err)
	assert.Equal(t, session.SessionKey(), restored.SessionKey())
	assert.Nil(t, deep.Equal(session.Keys, restored.Keys))
	assert.Nil(t, restored.ExportKey())

	_, err = restarted.Restore([]byte(pw2))
	assert.ErrorIs(t, err, ErrVaultAuthentication)

	account, err := restarted.Account()
	require.NoError(t, err)
	assert.Equal(t, testEmail, account.Email)
	assert.Equal(t, session.Keys.Kyber.PublicKey, account.KyberPublicKey)

	require.NoError(t, restarted.Logout(context.Background(), []byte(pw1)))
	_, err = restarted.Account()
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, _, err = models.GetActiveSession(env.db, env.server.SealKey(), session.SessionID)
	assert.True(t, errors.Is(err, models.ErrSessionRevoked))

	err = restarted.Logout(context.Background(), []byte(pw1))
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestFinishOpaqueLoginPersistsOnlyDeclaredKeys(t *testing.T) {
	env := newTestEnv(t)
	store := NewMemoryStore()
	register(t, New(env.transport, store, WithKDFProfile(crypto.ArgonTesting)), pw1)

	keys := make([]string, 0, len(store.values))
	for k := range store.values {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		keySessionKeyEnc, keySessionKeySalt, keySessionID, keyMnemonic, keyKeys, keyEmail, keyToken,
	}, keys)
}

// rejectingStore fails any batch that touches key, the way a full disk would
// fail one rename.
type rejectingStore struct {
	*MemoryStore
	key string
}

func (r *rejectingStore) SetAll(values map[string][]byte) error {
	if _, ok := values[r.key]; ok {
		return errors.New("disk full")
	}
	return r.MemoryStore.SetAll(values)
}

func TestFailedLoginKeepsPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	store := NewMemoryStore()
	first := register(t, New(env.transport, store, WithKDFProfile(crypto.ArgonTesting)), pw1)

	flaky := New(env.transport, &rejectingStore{MemoryStore: store, key: keySessionID}, WithKDFProfile(crypto.ArgonTesting))
	_, err := flaky.Login(context.Background(), LoginInput{Email: testEmail, Password: []byte(pw1)})
	require.Error(t, err)

	restored, err := New(env.transport, store, WithKDFProfile(crypto.ArgonTesting)).Restore([]byte(pw1))
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, restored.SessionID)
	assert.Equal(t, first.SessionKey(), restored.SessionKey())
}
