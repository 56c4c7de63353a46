package models

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/84adam/arkvault/crypto"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// User is an account as the server sees it. The server stores the OPAQUE
// record and the wrapped key profile but can open neither.
type User struct {
	ID           int64                `json:"id"`
	Email        string               `json:"email"`
	OpaqueRecord []byte               `json:"-"`
	EncMnemonic  string               `json:"encMnemonic"`
	EncKeys      crypto.EncryptedKeys `json:"encKeys"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

// NormalizeEmail lower-cases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("invalid email address: %q", email)
	}
	return email, nil
}

// CreateUser inserts a new account.
func CreateUser(db Execer, email string, opaqueRecord []byte, encMnemonic string, encKeys crypto.EncryptedKeys) (*User, error) {
	keysJSON, err := json.Marshal(encKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to encode keys: %w", err)
	}

	now := time.Now().UTC()
	result, err := db.Exec(
		`INSERT INTO users (email, opaque_record, enc_mnemonic, enc_keys, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		email, opaqueRecord, encMnemonic, string(keysJSON), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &User{
		ID:           id,
		Email:        email,
		OpaqueRecord: opaqueRecord,
		EncMnemonic:  encMnemonic,
		EncKeys:      encKeys,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetUserByEmail retrieves a user by email
func GetUserByEmail(db Querier, email string) (*User, error) {
	user := &User{}
	var keysJSON string
	var createdAt, updatedAt sql.NullString

	err := db.QueryRow(
		`SELECT id, email, opaque_record, enc_mnemonic, enc_keys, created_at, updated_at
		FROM users WHERE email = ?`, email,
	).Scan(&user.ID, &user.Email, &user.OpaqueRecord, &user.EncMnemonic, &keysJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(keysJSON), &user.EncKeys); err != nil {
		return nil, fmt.Errorf("failed to decode stored keys: %w", err)
	}
	user.CreatedAt = parseTimestamp(createdAt)
	user.UpdatedAt = parseTimestamp(updatedAt)

	return user, nil
}

// UpdateCredentials replaces the OPAQUE record and wrapped profile in one
// statement. Call inside the transaction that also rotates sessions.
func UpdateCredentials(db Execer, email string, opaqueRecord []byte, encMnemonic string, encKeys crypto.EncryptedKeys) error {
	keysJSON, err := json.Marshal(encKeys)
	if err != nil {
		return fmt.Errorf("failed to encode keys: %w", err)
	}

	result, err := db.Exec(
		`UPDATE users SET opaque_record = ?, enc_mnemonic = ?, enc_keys = ?, updated_at = ? WHERE email = ?`,
		opaqueRecord, encMnemonic, string(keysJSON), time.Now().UTC(), email,
	)
	if err != nil {
		return fmt.Errorf("failed to update credentials: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UserSummary is the operator view of an account. It never carries key
// material.
type UserSummary struct {
	Email            string
	CreatedAt        time.Time
	TwoFactorEnabled bool
	ActiveSessions   int
}

// ListUsers pages through accounts ordered by email.
func ListUsers(db *sql.DB, limit, offset int) ([]UserSummary, error) {
	rows, err := db.Query(
		`SELECT u.email, u.created_at, COALESCE(t.enabled, FALSE),
			(SELECT COUNT(*) FROM sessions s WHERE s.email = u.email AND s.revoked = FALSE AND s.expires_at > ?)
		FROM users u LEFT JOIN user_totp t ON t.email = u.email
		ORDER BY u.email LIMIT ? OFFSET ?`,
		time.Now().UTC(), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []UserSummary
	for rows.Next() {
		var u UserSummary
		var createdAt sql.NullString
		if err := rows.Scan(&u.Email, &createdAt, &u.TwoFactorEnabled, &u.ActiveSessions); err != nil {
			return nil, err
		}
		u.CreatedAt = parseTimestamp(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE")
}

// parseTimestamp accepts the layouts sqlite and rqlite return.
func parseTimestamp(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s.String); err == nil {
			return t
		}
	}
	return time.Time{}
}
