package auth

import (
	"sync"
	"time"
)

const (
	// pruneEvery is how many new sessions are registered between sweeps of expired entries.
	pruneEvery = 1024

	// DefaultMaxTrackedSessions bounds how many sessions keep visit markers at once.
	DefaultMaxTrackedSessions = 100_000
)

type visitEntry struct {
	tokens    map[string]struct{}
	expiresAt time.Time
}

// sessionRegistry is the server-side state of sessions: the per-session sets
// of already counted short tokens and the ids of logged out sessions.
// Entries live as long as the session that owns them and are dropped lazily.
type sessionRegistry struct {
	mu          sync.Mutex
	sessions    map[string]*visitEntry
	revoked     map[string]time.Time
	maxSessions int
	sinceSweep  int
}

func newSessionRegistry(maxSessions int) *sessionRegistry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxTrackedSessions
	}

	return &sessionRegistry{
		sessions:    map[string]*visitEntry{},
		revoked:     map[string]time.Time{},
		maxSessions: maxSessions,
	}
}

// markVisited records token for sessionID and reports whether it was not recorded before.
func (r *sessionRegistry) markVisited(sessionID, token string, expiresAt, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, found := r.sessions[sessionID]
	if !found || now.After(entry.expiresAt) {
		r.sweep(now)
		if !found {
			r.makeRoom(now)
		}
		entry = &visitEntry{tokens: map[string]struct{}{}}
		r.sessions[sessionID] = entry
	}
	if expiresAt.After(entry.expiresAt) {
		entry.expiresAt = expiresAt
	}

	if _, seen := entry.tokens[token]; seen {
		return false
	}
	entry.tokens[token] = struct{}{}

	return true
}

func (r *sessionRegistry) visited(sessionID string, now time.Time) map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, found := r.sessions[sessionID]
	if !found || now.After(entry.expiresAt) {
		return nil
	}

	result := make(map[string]struct{}, len(entry.tokens))
	for token := range entry.tokens {
		result[token] = struct{}{}
	}

	return result
}

// extend keeps the markers of sessionID alive until expiresAt.
func (r *sessionRegistry) extend(sessionID string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, found := r.sessions[sessionID]; found && expiresAt.After(entry.expiresAt) {
		entry.expiresAt = expiresAt
	}
}

func (r *sessionRegistry) forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
}

// revoke drops the markers of sessionID and refuses its tokens until the
// last of them has expired.
func (r *sessionRegistry) revoke(sessionID string, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	r.revoked[sessionID] = until
}

func (r *sessionRegistry) isRevoked(sessionID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, found := r.revoked[sessionID]
	if !found {
		return false
	}
	if now.After(until) {
		delete(r.revoked, sessionID)
		return false
	}

	return true
}

// sweep drops expired entries every pruneEvery calls; the caller holds the lock.
func (r *sessionRegistry) sweep(now time.Time) {
	r.sinceSweep++
	if r.sinceSweep < pruneEvery {
		return
	}
	r.prune(now)
}

func (r *sessionRegistry) prune(now time.Time) {
	r.sinceSweep = 0

	for sessionID, entry := range r.sessions {
		if now.After(entry.expiresAt) {
			delete(r.sessions, sessionID)
		}
	}
	for sessionID, until := range r.revoked {
		if now.After(until) {
			delete(r.revoked, sessionID)
		}
	}
}

// makeRoom keeps the number of tracked sessions below maxSessions: expired
// entries go first, then the entry closest to expiry. The caller holds the lock.
func (r *sessionRegistry) makeRoom(now time.Time) {
	if len(r.sessions) < r.maxSessions {
		return
	}
	r.prune(now)

	for len(r.sessions) >= r.maxSessions {
		var oldestID string
		var oldest time.Time
		for sessionID, entry := range r.sessions {
			if oldestID == "" || entry.expiresAt.Before(oldest) {
				oldestID, oldest = sessionID, entry.expiresAt
			}
		}
		delete(r.sessions, oldestID)
	}
}
