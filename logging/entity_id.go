package logging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// EntityIDService pseudonymizes client IP addresses for security logs. The
// identifier for an address is stable within a UTC day and unlinkable
// across days.
type EntityIDService struct {
	masterSecret []byte
	keyCache     map[string][]byte
	cacheMutex   sync.RWMutex
	now          func() time.Time
}

// NewEntityIDService builds a service keyed by masterSecret, which should be
// at least 32 bytes.
func NewEntityIDService(masterSecret []byte) (*EntityIDService, error) {
	if len(masterSecret) < 32 {
		return nil, fmt.Errorf("entity ID secret must be at least 32 bytes, got %d", len(masterSecret))
	}
	return &EntityIDService{
		masterSecret: append([]byte(nil), masterSecret...),
		keyCache:     make(map[string][]byte),
		now:          time.Now,
	}, nil
}

// GetEntityID returns a 16 hex character pseudonym for ip.
func (e *EntityIDService) GetEntityID(ip net.IP) string {
	if ip == nil {
		return "unknown"
	}

	dailyKey := e.getDailyKey(e.GetCurrentTimeWindow())

	mac := hmac.New(sha256.New, dailyKey)
	mac.Write(ip.To16())
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

// GetCurrentTimeWindow returns the current time window identifier (YYYY-MM-DD format)
func (e *EntityIDService) GetCurrentTimeWindow() string {
	return e.now().UTC().Format("2006-01-02")
}

// CleanupOldWindows drops cached daily keys older than retentionDays.
func (e *EntityIDService) CleanupOldWindows(retentionDays int) {
	cutoffWindow := e.now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02")

	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	for window := range e.keyCache {
		if window < cutoffWindow {
			delete(e.keyCache, window)
		}
	}
}

func (e *EntityIDService) getDailyKey(timeWindow string) []byte {
	e.cacheMutex.RLock()
	if key, exists := e.keyCache[timeWindow]; exists {
		e.cacheMutex.RUnlock()
		return key
	}
	e.cacheMutex.RUnlock()

	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	// Double-check after acquiring write lock
	if key, exists := e.keyCache[timeWindow]; exists {
		return key
	}

	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, e.masterSecret, []byte(timeWindow), []byte("arkvault/entity-id/v1"))
	if _, err := io.ReadFull(reader, key); err != nil {
		// HKDF-SHA256 cannot fail for a 32 byte read.
		panic(err)
	}

	e.keyCache[timeWindow] = key
	return key
}

// ValidateEntityID checks if an entity ID has the expected format
func ValidateEntityID(entityID string) bool {
	if len(entityID) != 16 {
		return false
	}
	_, err := hex.DecodeString(entityID)
	return err == nil
}
