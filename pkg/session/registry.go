package session

import (
	"sync"
	"time"
)

// Registry holds the only server-side session state: the active session
// pointer used by the single-session rule and logout revocations.
type Registry interface {
	// Active returns the ID of the active session, or "" if none
	Active() string
	// SetActive makes id the sole active session
	SetActive(id string)
	// Revoke invalidates id until expiresAt; clears the active pointer if it matches
	Revoke(id string, expiresAt time.Time)
	// Revoked reports whether id was revoked
	Revoked(id string) bool
	// Reset forgets every session
	Reset()
	// CleanupExpired drops revocations whose tokens expired anyway
	CleanupExpired(now time.Time)
}

// MemoryRegistry is the in-process Registry implementation
type MemoryRegistry struct {
	active  string
	revoked map[string]time.Time
	mu      sync.RWMutex
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		revoked: make(map[string]time.Time),
	}
}

func (r *MemoryRegistry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *MemoryRegistry) SetActive(id string) {
	r.mu.Lock()
	r.active = id
	r.mu.Unlock()
}

func (r *MemoryRegistry) Revoke(id string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == id {
		r.active = ""
	}
	r.revoked[id] = expiresAt
}

func (r *MemoryRegistry) Revoked(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.revoked[id]
	return ok
}

func (r *MemoryRegistry) Reset() {
	r.mu.Lock()
	r.active = ""
	r.revoked = make(map[string]time.Time)
	r.mu.Unlock()
}

func (r *MemoryRegistry) CleanupExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, exp := range r.revoked {
		if now.After(exp) {
			delete(r.revoked, id)
		}
	}
}
