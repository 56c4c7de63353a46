package auth

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/84adam/arkvault/crypto"
	"github.com/84adam/arkvault/database"
)

func setupTOTPTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTOTPService(t *testing.T) (*TOTPService, *testClock) {
	t.Helper()
	svc, err := NewTOTPService(setupTOTPTestDB(t), crypto.GenerateRandomBytes(crypto.TOTPMasterKeyLength))
	require.NoError(t, err)
	clock := &testClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc.SetClock(clock.now)
	return svc, clock
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    TOTPPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func enableTOTP(t *testing.T, svc *TOTPService, clock *testClock, email string) string {
	t.Helper()
	setup, err := svc.Setup(email)
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(email, codeAt(t, setup.Secret, clock.now())))
	clock.advance(TOTPPeriod * time.Second)
	return setup.Secret
}

func TestTOTPSetupAndConfirm(t *testing.T) {
	svc, clock := newTestTOTPService(t)
	email := "alice@example.com"

	setup, err := svc.Setup(email)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.OTPAuthURL, "otpauth://totp/")
	assert.Contains(t, setup.OTPAuthURL, "issuer="+TOTPIssuer)

	enabled, err := svc.IsEnabled(email)
	require.NoError(t, err)
	assert.False(t, enabled, "pending setup is not enabled")

	assert.ErrorIs(t, svc.Confirm(email, "000000"), ErrTOTPInvalidCode)

	require.NoError(t, svc.Confirm(email, codeAt(t, setup.Secret, clock.now())))
	enabled, err = svc.IsEnabled(email)
	require.NoError(t, err)
	assert.True(t, enabled)

	_, err = svc.Setup(email)
	assert.ErrorIs(t, err, ErrTOTPAlreadyEnabled)
	assert.ErrorIs(t, svc.Confirm(email, codeAt(t, setup.Secret, clock.now())), ErrTOTPAlreadyEnabled)
}

func TestTOTPConfirmWithoutSetup(t *testing.T) {
	svc, _ := newTestTOTPService(t)
	assert.ErrorIs(t, svc.Confirm("nobody@example.com", "123456"), ErrTOTPNoPendingSetup)
}

func TestTOTPValidate(t *testing.T) {
	svc, clock := newTestTOTPService(t)
	email := "bob@example.com"

	assert.ErrorIs(t, svc.Validate(email, "123456"), ErrTOTPNotEnabled)

	secret := enableTOTP(t, svc, clock, email)

	code := codeAt(t, secret, clock.now())
	require.NoError(t, svc.Validate(email, code))
	assert.ErrorIs(t, svc.Validate(email, code), ErrTOTPReplay, "same code cannot be reused")

	clock.advance(TOTPPeriod * time.Second)
	assert.ErrorIs(t, svc.Validate(email, "not-a-code"), ErrTOTPInvalidCode)

	stale := codeAt(t, secret, clock.now().Add(-10*TOTPPeriod*time.Second))
	assert.ErrorIs(t, svc.Validate(email, stale), ErrTOTPInvalidCode)

	require.NoError(t, svc.Validate(email, codeAt(t, secret, clock.now())))
}

func TestTOTPCheckThenCommit(t *testing.T) {
	svc, clock := newTestTOTPService(t)
	email := "dana@example.com"

	_, err := svc.Check(email, "123456")
	assert.ErrorIs(t, err, ErrTOTPNotEnabled)

	secret := enableTOTP(t, svc, clock, email)
	code := codeAt(t, secret, clock.now())

	first, err := svc.Check(email, code)
	require.NoError(t, err)
	second, err := svc.Check(email, code)
	require.NoError(t, err, "an uncommitted code can be checked again")

	require.NoError(t, svc.Commit(first))
	assert.ErrorIs(t, svc.Commit(second), ErrTOTPReplay, "only one of two racing requests wins")

	_, err = svc.Check(email, code)
	assert.ErrorIs(t, err, ErrTOTPReplay)
	assert.ErrorIs(t, svc.Commit(nil), ErrTOTPInvalidCode)
}

func TestTOTPDisable(t *testing.T) {
	svc, clock := newTestTOTPService(t)
	email := "carol@example.com"
	secret := enableTOTP(t, svc, clock, email)

	assert.ErrorIs(t, svc.Disable(email, "000000"), ErrTOTPInvalidCode)
	enabled, err := svc.IsEnabled(email)
	require.NoError(t, err)
	assert.True(t, enabled, "failed disable leaves 2FA on")

	require.NoError(t, svc.Disable(email, codeAt(t, secret, clock.now())))
	enabled, err = svc.IsEnabled(email)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestTOTPSecretsAreBoundToUser(t *testing.T) {
	svc, clock := newTestTOTPService(t)
	enableTOTP(t, svc, clock, "dave@example.com")

	// Move dave's ciphertext onto another account.
	_, err := svc.db.Exec(`INSERT INTO user_totp (email, secret_encrypted, enabled, setup_completed)
		SELECT 'mallory@example.com', secret_encrypted, enabled, setup_completed FROM user_totp WHERE email = 'dave@example.com'`)
	require.NoError(t, err)

	err = svc.Validate("mallory@example.com", "123456")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}

func TestTOTPCleanupUsageLog(t *testing.T) {
	svc, clock := newTestTOTPService(t)
	email := "erin@example.com"
	secret := enableTOTP(t, svc, clock, email)
	require.NoError(t, svc.Validate(email, codeAt(t, secret, clock.now())))

	clock.advance(time.Hour)
	require.NoError(t, svc.CleanupUsageLog())

	var count int
	require.NoError(t, svc.db.QueryRow(`SELECT COUNT(*) FROM totp_usage_log`).Scan(&count))
	assert.Zero(t, count)
}

func TestNewTOTPServiceRejectsShortKey(t *testing.T) {
	_, err := NewTOTPService(nil, []byte("short"))
	assert.Error(t, err)
}

func TestGenerateCodeAcceptsManualEntry(t *testing.T) {
	svc, clock := newTestTOTPService(t)
	setup, err := svc.Setup("carol@example.com")
	require.NoError(t, err)

	want := codeAt(t, setup.Secret, clock.now())

	got, err := GenerateCode(setup.ManualEntry, clock.now())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = GenerateCode(strings.ToLower(setup.Secret), clock.now())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, svc.Confirm("carol@example.com", got))

	_, err = GenerateCode("not base32!", clock.now())
	assert.Error(t, err)
}
