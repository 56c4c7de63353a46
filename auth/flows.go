package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultFlowTTL bounds how long a half-finished OPAQUE exchange is kept.
const DefaultFlowTTL = 5 * time.Minute

var ErrFlowNotFound = errors.New("flow not found or expired")

type flowEntry[T any] struct {
	owner   string
	value   T
	expires time.Time
}

// FlowCache holds server state between the two round trips of a
// registration or login. Entries are single use and bound to the email
// that started them.
type FlowCache[T any] struct {
	mu      sync.Mutex
	entries map[string]flowEntry[T]
	ttl     time.Duration
	now     func() time.Time
}

func NewFlowCache[T any](ttl time.Duration) *FlowCache[T] {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	return &FlowCache[T]{entries: make(map[string]flowEntry[T]), ttl: ttl, now: time.Now}
}

// Put stores value for owner and returns the new flow ID.
func (f *FlowCache[T]) Put(owner string, value T) string {
	id := uuid.New().String()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweepLocked()
	f.entries[id] = flowEntry[T]{owner: owner, value: value, expires: f.now().Add(f.ttl)}
	return id
}

// Take removes and returns the flow if it exists, has not expired, and was
// started by owner.
func (f *FlowCache[T]) Take(id, owner string) (T, error) {
	var zero T

	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[id]
	if !ok {
		return zero, ErrFlowNotFound
	}
	delete(f.entries, id)

	if entry.owner != owner || f.now().After(entry.expires) {
		return zero, ErrFlowNotFound
	}
	return entry.value, nil
}

// Len reports the number of live entries.
func (f *FlowCache[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweepLocked()
	return len(f.entries)
}

func (f *FlowCache[T]) sweepLocked() {
	now := f.now()
	for id, entry := range f.entries {
		if now.After(entry.expires) {
			delete(f.entries, id)
		}
	}
}
