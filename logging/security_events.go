package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// SecurityEventType defines the types of security events that can be logged
type SecurityEventType string

const (
	EventRegistration        SecurityEventType = "registration"
	EventLoginSuccess        SecurityEventType = "login_success"
	EventLoginFailure        SecurityEventType = "login_failure"
	EventTwoFactorRequired   SecurityEventType = "two_factor_required"
	EventTwoFactorFailure    SecurityEventType = "two_factor_failure"
	EventTwoFactorEnabled    SecurityEventType = "two_factor_enabled"
	EventTwoFactorDisabled   SecurityEventType = "two_factor_disabled"
	EventPasswordChanged     SecurityEventType = "password_changed"
	EventCommandMACRejected  SecurityEventType = "command_mac_rejected"
	EventSessionRevoked      SecurityEventType = "session_revoked"
	EventLogout              SecurityEventType = "logout"
	EventUnauthorizedAccess  SecurityEventType = "unauthorized_access"
	EventSystemStartup       SecurityEventType = "system_startup"
	EventConfigurationChange SecurityEventType = "configuration_change"
)

// SecurityEventSeverity defines the severity levels for security events
type SecurityEventSeverity string

const (
	SeverityInfo     SecurityEventSeverity = "INFO"
	SeverityWarning  SecurityEventSeverity = "WARNING"
	SeverityCritical SecurityEventSeverity = "CRITICAL"
)

// SecurityEvent is one row of the security_events table. The client IP is
// never stored, only its daily entity ID.
type SecurityEvent struct {
	ID         int64                  `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	EventType  SecurityEventType      `json:"event_type"`
	EntityID   string                 `json:"entity_id"`
	TimeWindow string                 `json:"time_window"`
	Email      *string                `json:"email"`
	Severity   SecurityEventSeverity  `json:"severity"`
	Details    map[string]interface{} `json:"details"`
}

// SecurityEventLogger writes security events to the database and the log.
type SecurityEventLogger struct {
	db               *sql.DB
	entityIDService  *EntityIDService
	maxRetentionDays int
}

// NewSecurityEventLogger creates a new security event logger. db may be nil,
// in which case events only go to the log files.
func NewSecurityEventLogger(db *sql.DB, entityIDService *EntityIDService, maxRetentionDays int) *SecurityEventLogger {
	if maxRetentionDays <= 0 {
		maxRetentionDays = 90
	}
	return &SecurityEventLogger{
		db:               db,
		entityIDService:  entityIDService,
		maxRetentionDays: maxRetentionDays,
	}
}

// LogSecurityEvent records an event. Sensitive detail keys are redacted.
func (sel *SecurityEventLogger) LogSecurityEvent(eventType SecurityEventType, ip net.IP, email *string, details map[string]interface{}) error {
	entityID := ""
	timeWindow := ""
	if sel.entityIDService != nil {
		entityID = sel.entityIDService.GetEntityID(ip)
		timeWindow = sel.entityIDService.GetCurrentTimeWindow()
	}

	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		EntityID:   entityID,
		TimeWindow: timeWindow,
		Email:      email,
		Severity:   SeverityFor(eventType),
		Details:    SanitizeDetails(details),
	}

	sel.logToFile(event)

	if sel.db == nil {
		return nil
	}
	if err := sel.storeSecurityEvent(event); err != nil {
		ErrorLogger.Printf("Failed to store security event: %v", err)
		return err
	}
	return nil
}

// SecurityEventFilters defines filtering options for security event queries
type SecurityEventFilters struct {
	EventType SecurityEventType
	Email     string
	Severity  SecurityEventSeverity
	Limit     int
}

// GetSecurityEvents returns matching events, newest first.
func (sel *SecurityEventLogger) GetSecurityEvents(filters SecurityEventFilters) ([]SecurityEvent, error) {
	if sel.db == nil {
		return nil, fmt.Errorf("security event store not configured")
	}

	query := `SELECT id, timestamp, event_type, entity_id, time_window, email, severity, details FROM security_events WHERE 1=1`
	args := []interface{}{}

	if filters.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, string(filters.EventType))
	}
	if filters.Email != "" {
		query += " AND email = ?"
		args = append(args, filters.Email)
	}
	if filters.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filters.Severity))
	}

	query += " ORDER BY id DESC"
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := sel.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	var events []SecurityEvent
	for rows.Next() {
		var event SecurityEvent
		var email sql.NullString
		var detailsJSON string

		if err := rows.Scan(&event.ID, &event.Timestamp, &event.EventType, &event.EntityID,
			&event.TimeWindow, &email, &event.Severity, &detailsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		if email.Valid {
			event.Email = &email.String
		}
		if detailsJSON != "" {
			if err := json.Unmarshal([]byte(detailsJSON), &event.Details); err != nil {
				event.Details = map[string]interface{}{"parse_error": detailsJSON}
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CleanupOldEvents removes security events older than the retention period
func (sel *SecurityEventLogger) CleanupOldEvents() error {
	if sel.db == nil {
		return nil
	}
	cutoffDate := time.Now().UTC().AddDate(0, 0, -sel.maxRetentionDays)

	result, err := sel.db.Exec("DELETE FROM security_events WHERE timestamp < ?", cutoffDate)
	if err != nil {
		return fmt.Errorf("failed to cleanup old security events: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	InfoLogger.Printf("Cleaned up %d security events older than %s", rowsAffected, cutoffDate.Format("2006-01-02"))
	return nil
}

func (sel *SecurityEventLogger) storeSecurityEvent(event SecurityEvent) error {
	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	_, err = sel.db.Exec(
		`INSERT INTO security_events (timestamp, event_type, entity_id, time_window, email, severity, details) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.Timestamp,
		string(event.EventType),
		event.EntityID,
		event.TimeWindow,
		event.Email,
		string(event.Severity),
		string(detailsJSON),
	)
	return err
}

// SeverityFor determines the severity level for an event type.
func SeverityFor(eventType SecurityEventType) SecurityEventSeverity {
	switch eventType {
	case EventLoginFailure, EventTwoFactorFailure:
		return SeverityWarning
	case EventCommandMACRejected, EventUnauthorizedAccess:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

var sensitiveKeys = []string{"password", "token", "secret", "key", "mac", "code", "ip", "mnemonic"}

// SanitizeDetails replaces values whose key names suggest secrets.
func SanitizeDetails(details map[string]interface{}) map[string]interface{} {
	sanitized := make(map[string]interface{}, len(details))

	for key, value := range details {
		keyLower := strings.ToLower(key)
		redact := false
		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(keyLower, sensitiveKey) {
				redact = true
				break
			}
		}
		if redact {
			sanitized[key] = "[REDACTED]"
		} else {
			sanitized[key] = value
		}
	}
	return sanitized
}

func (sel *SecurityEventLogger) logToFile(event SecurityEvent) {
	message := fmt.Sprintf("Security Event: %s | Entity: %s | Window: %s | Severity: %s",
		event.EventType, event.EntityID, event.TimeWindow, event.Severity)

	if event.Email != nil {
		message += fmt.Sprintf(" | User: %s", *event.Email)
	}

	switch event.Severity {
	case SeverityCritical:
		ErrorLogger.Printf("%s", message)
	case SeverityWarning:
		WarningLogger.Printf("%s", message)
	default:
		InfoLogger.Printf("%s", message)
	}
}
