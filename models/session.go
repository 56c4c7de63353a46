package models

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/84adam/arkvault/crypto"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrSessionExpired  = errors.New("session expired")

	// ErrSessionUnreadable means the sealed key does not open under the
	// current seal key, e.g. after the server master key was rotated.
	ErrSessionUnreadable = errors.New("session key cannot be unsealed")
)

// Session is the server's copy of an authenticated session. The session key
// is sealed at rest under a server key and bound to the session ID.
type Session struct {
	ID        string
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// CreateSession stores sessionKey under a new random session ID.
func CreateSession(db Execer, sealKey []byte, email string, sessionKey []byte, ttl time.Duration) (*Session, error) {
	if err := crypto.ValidateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	sealed, err := crypto.EncryptGCMWithAAD(sessionKey, sealKey, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("failed to seal session key: %w", err)
	}

	now := time.Now().UTC()
	session := &Session{ID: id, Email: email, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	_, err = db.Exec(
		`INSERT INTO sessions (id, email, session_key_sealed, created_at, expires_at, revoked) VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.Email, sealed, session.CreatedAt, session.ExpiresAt, false,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetActiveSession returns a live session and its unsealed key. Revoked and
// expired sessions are reported with their own errors.
func GetActiveSession(db Querier, sealKey []byte, id string) (*Session, []byte, error) {
	session := &Session{}
	var sealed []byte
	var createdAt, expiresAt sql.NullString

	err := db.QueryRow(
		`SELECT id, email, session_key_sealed, created_at, expires_at, revoked FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.Email, &sealed, &createdAt, &expiresAt, &session.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	session.CreatedAt = parseTimestamp(createdAt)
	session.ExpiresAt = parseTimestamp(expiresAt)

	if session.Revoked {
		return session, nil, ErrSessionRevoked
	}
	if !session.ExpiresAt.IsZero() && time.Now().After(session.ExpiresAt) {
		return session, nil, ErrSessionExpired
	}

	key, err := crypto.DecryptGCMWithAAD(sealed, sealKey, []byte(session.ID))
	if err != nil {
		return session, nil, fmt.Errorf("%w: %v", ErrSessionUnreadable, err)
	}
	return session, key, nil
}

// RevokeSession marks a single session revoked.
func RevokeSession(db Execer, id, reason string) error {
	result, err := db.Exec(`UPDATE sessions SET revoked = ?, revoked_reason = ? WHERE id = ?`, true, reason, id)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeUserSessions revokes every live session of email and returns how
// many were affected.
func RevokeUserSessions(db Execer, email, reason string) (int64, error) {
	result, err := db.Exec(
		`UPDATE sessions SET revoked = ?, revoked_reason = ? WHERE email = ? AND revoked = ?`,
		true, reason, email, false,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return result.RowsAffected()
}

// DeleteExpiredSessions removes sessions whose expiry has passed.
func DeleteExpiredSessions(db Execer) (int64, error) {
	result, err := db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}
