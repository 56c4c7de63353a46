package auth

import (
	"crypto/sha256"
	"database/sql"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/84adam/arkvault/crypto"
	"github.com/84adam/arkvault/logging"
)

const (
	TOTPIssuer = "ArkVault"
	TOTPDigits = otp.DigitsSix
	TOTPPeriod = 30
	// TOTPSkew accepts the previous and next period as well.
	TOTPSkew = 1
)

var (
	ErrTOTPNotEnabled     = errors.New("two-factor authentication is not enabled")
	ErrTOTPAlreadyEnabled = errors.New("two-factor authentication is already enabled")
	ErrTOTPNoPendingSetup = errors.New("no pending two-factor setup")
	ErrTOTPInvalidCode    = errors.New("invalid two-factor code")
	ErrTOTPReplay         = errors.New("two-factor code already used")
)

// TOTPSetup is returned to the client when 2FA enrollment starts.
type TOTPSetup struct {
	Secret      string `json:"secret"`
	OTPAuthURL  string `json:"otpauthUrl"`
	ManualEntry string `json:"manualEntry"`
}

// TOTPService stores per-user TOTP secrets encrypted under a key derived
// from the server master key and the user's email.
type TOTPService struct {
	db        *sql.DB
	masterKey []byte
	issuer    string
	now       func() time.Time
}

func NewTOTPService(db *sql.DB, masterKey []byte) (*TOTPService, error) {
	if len(masterKey) != crypto.TOTPMasterKeyLength {
		return nil, fmt.Errorf("TOTP master key must be %d bytes", crypto.TOTPMasterKeyLength)
	}
	return &TOTPService{db: db, masterKey: masterKey, issuer: TOTPIssuer, now: time.Now}, nil
}

// SetClock replaces the time source. Used by tests that step through periods.
func (s *TOTPService) SetClock(now func() time.Time) {
	s.now = now
}

// Setup generates a new secret and stores it as pending. Any previous
// pending setup is replaced; an enabled one is left alone.
func (s *TOTPService) Setup(email string) (*TOTPSetup, error) {
	enabled, err := s.IsEnabled(email)
	if err != nil {
		return nil, err
	}
	if enabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: email,
		Period:      TOTPPeriod,
		Digits:      TOTPDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	encrypted, err := s.encryptSecret(email, key.Secret())
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO user_totp (email, secret_encrypted, enabled, setup_completed, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		email, encrypted, false, false, s.now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store TOTP setup: %w", err)
	}

	return &TOTPSetup{
		Secret:      key.Secret(),
		OTPAuthURL:  key.URL(),
		ManualEntry: formatManualEntry(key.Secret()),
	}, nil
}

// Confirm enables a pending setup once the user proves possession with code.
func (s *TOTPService) Confirm(email, code string) error {
	data, err := s.load(email)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTOTPNoPendingSetup
	}
	if err != nil {
		return err
	}
	if data.setupCompleted {
		return ErrTOTPAlreadyEnabled
	}

	use, err := s.check(email, data.secretEncrypted, code)
	if err != nil {
		return err
	}
	if err := s.Commit(use); err != nil {
		return err
	}

	_, err = s.db.Exec(`UPDATE user_totp SET enabled = ?, setup_completed = ? WHERE email = ?`, true, true, email)
	if err != nil {
		return fmt.Errorf("failed to complete TOTP setup: %w", err)
	}

	logging.InfoLogger.Printf("TOTP setup completed for user: %s", email)
	return nil
}

// Validate checks code for a user with 2FA enabled and records it as used.
func (s *TOTPService) Validate(email, code string) error {
	use, err := s.Check(email, code)
	if err != nil {
		return err
	}
	return s.Commit(use)
}

// TOTPUse is a code that passed Check but is not yet recorded as used.
type TOTPUse struct {
	email       string
	codeHash    string
	windowStart int64
}

// Check validates code for a user with 2FA enabled without consuming it.
// The returned use must be passed to Commit once the rest of the request
// has succeeded.
func (s *TOTPService) Check(email, code string) (*TOTPUse, error) {
	data, err := s.load(email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTOTPNotEnabled
	}
	if err != nil {
		return nil, err
	}
	if !data.enabled || !data.setupCompleted {
		return nil, ErrTOTPNotEnabled
	}
	return s.check(email, data.secretEncrypted, code)
}

// Commit records use. A code committed once, here or by a concurrent
// request, returns ErrTOTPReplay.
func (s *TOTPService) Commit(use *TOTPUse) error {
	if use == nil {
		return ErrTOTPInvalidCode
	}
	result, err := s.db.Exec(`
		INSERT INTO totp_usage_log (email, code_hash, window_start)
		SELECT ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM totp_usage_log
			WHERE email = ? AND code_hash = ? AND window_start >= ?)`,
		use.email, use.codeHash, use.windowStart,
		use.email, use.codeHash, replayHorizon(use.windowStart),
	)
	if err != nil {
		return fmt.Errorf("failed to log TOTP usage: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to log TOTP usage: %w", err)
	} else if n == 0 {
		return ErrTOTPReplay
	}

	if _, err := s.db.Exec("UPDATE user_totp SET last_used = ? WHERE email = ?", s.now().UTC(), use.email); err != nil {
		logging.ErrorLogger.Printf("Failed to update TOTP last_used: %v", err)
	}
	return nil
}

// IsEnabled reports whether 2FA is active. A missing row is not an error.
func (s *TOTPService) IsEnabled(email string) (bool, error) {
	var enabled, setupCompleted bool
	err := s.db.QueryRow(`SELECT enabled, setup_completed FROM user_totp WHERE email = ?`, email).
		Scan(&enabled, &setupCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check TOTP status: %w", err)
	}
	return enabled && setupCompleted, nil
}

// Disable removes 2FA after validating a current code.
func (s *TOTPService) Disable(email, code string) error {
	if err := s.Validate(email, code); err != nil {
		return err
	}
	return s.Remove(email)
}

// Remove deletes the user's 2FA state. Callers must have validated a code.
func (s *TOTPService) Remove(email string) error {
	if _, err := s.db.Exec("DELETE FROM user_totp WHERE email = ?", email); err != nil {
		return fmt.Errorf("failed to disable TOTP: %w", err)
	}
	logging.InfoLogger.Printf("TOTP disabled for user: %s", email)
	return nil
}

// CleanupUsageLog removes replay records that can no longer match a valid code.
func (s *TOTPService) CleanupUsageLog() error {
	cutoff := s.now().Add(-time.Duration(2*(TOTPSkew+1)*TOTPPeriod) * time.Second).Unix()
	if _, err := s.db.Exec("DELETE FROM totp_usage_log WHERE window_start < ?", cutoff); err != nil {
		return fmt.Errorf("failed to clean TOTP usage logs: %w", err)
	}
	return nil
}

type totpRecord struct {
	secretEncrypted []byte
	enabled         bool
	setupCompleted  bool
}

func (s *TOTPService) load(email string) (*totpRecord, error) {
	var r totpRecord
	err := s.db.QueryRow(`SELECT secret_encrypted, enabled, setup_completed FROM user_totp WHERE email = ?`, email).
		Scan(&r.secretEncrypted, &r.enabled, &r.setupCompleted)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// check validates code against the stored secret and rejects codes already
// recorded. Nothing is written.
func (s *TOTPService) check(email string, secretEncrypted []byte, code string) (*TOTPUse, error) {
	secret, err := s.decryptSecret(email, secretEncrypted)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	valid, err := totp.ValidateCustom(strings.TrimSpace(code), secret, now, totp.ValidateOpts{
		Period:    TOTPPeriod,
		Skew:      TOTPSkew,
		Digits:    TOTPDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return nil, ErrTOTPInvalidCode
	}

	use := &TOTPUse{
		email:       email,
		codeHash:    hashString(code),
		windowStart: now.Truncate(TOTPPeriod * time.Second).Unix(),
	}

	var count int
	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM totp_usage_log
		WHERE email = ? AND code_hash = ? AND window_start >= ?`,
		email, use.codeHash, replayHorizon(use.windowStart),
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to check replay: %w", err)
	}
	if count > 0 {
		return nil, ErrTOTPReplay
	}
	return use, nil
}

func replayHorizon(windowStart int64) int64 {
	return windowStart - int64(2*TOTPSkew*TOTPPeriod)
}

func (s *TOTPService) encryptSecret(email, secret string) ([]byte, error) {
	key, err := crypto.DeriveTOTPUserKey(s.masterKey, email)
	if err != nil {
		return nil, fmt.Errorf("failed to derive TOTP user key: %w", err)
	}
	defer crypto.SecureZeroBytes(key)

	encrypted, err := crypto.EncryptGCMWithAAD([]byte(secret), key, []byte(email))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt TOTP secret: %w", err)
	}
	return encrypted, nil
}

func (s *TOTPService) decryptSecret(email string, encrypted []byte) (string, error) {
	key, err := crypto.DeriveTOTPUserKey(s.masterKey, email)
	if err != nil {
		return "", fmt.Errorf("failed to derive TOTP user key: %w", err)
	}
	defer crypto.SecureZeroBytes(key)

	secret, err := crypto.DecryptGCMWithAAD(encrypted, key, []byte(email))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}
	return string(secret), nil
}

func formatManualEntry(secret string) string {
	var b strings.Builder
	for i, char := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(char)
	}
	return b.String()
}

func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// GenerateCode computes the code an authenticator app shows for secret at t.
// The secret may be given in manual-entry form with spaces or without padding.
func GenerateCode(secret string, t time.Time) (string, error) {
	secret = strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	if n := len(secret) % 8; n != 0 {
		secret += strings.Repeat("=", 8-n)
	}
	if _, err := base32.StdEncoding.DecodeString(secret); err != nil {
		return "", fmt.Errorf("invalid base32 secret: %w", err)
	}
	return totp.GenerateCodeCustom(secret, t, totp.ValidateOpts{
		Period:    TOTPPeriod,
		Digits:    TOTPDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
}
