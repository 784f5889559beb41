package session

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/worldgate-project/worldgate/internal/util"
)

// Registry is the process-wide table of live sessions, keyed by account
// id with a secondary index on character name. Broadcast iteration works
// on a snapshot so sessions may connect and disconnect concurrently.
//
// A Registry handle is passed explicitly to every component that needs
// one; there is no package-level instance.
type Registry struct {
	mu      sync.RWMutex
	byAcct  map[uint32]*Session
	byName  map[string]*Session
	log     zerolog.Logger
	peak    int
	entered uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byAcct: make(map[uint32]*Session),
		byName: make(map[string]*Session),
		log:    util.ComponentLogger("registry"),
	}
}

// Insert registers a session. A prior session for the same account is
// returned so the caller can kick it (one session per account).
func (r *Registry) Insert(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.byAcct[s.AccountID]
	if old != nil && old.Player != nil {
		delete(r.byName, normalizeName(old.Player.Name))
	}
	r.byAcct[s.AccountID] = s
	if s.Player != nil {
		r.byName[normalizeName(s.Player.Name)] = s
	}

	r.entered++
	if len(r.byAcct) > r.peak {
		r.peak = len(r.byAcct)
	}
	return old
}

// BindName indexes (or re-indexes) the session under its current player
// name. Call after a character enters the world or is renamed.
func (r *Registry) BindName(s *Session) {
	if s.Player == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[normalizeName(s.Player.Name)] = s
}

// Remove drops a session. It is a no-op if another session has already
// replaced it under the same account id.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byAcct[s.AccountID] != s {
		return
	}
	delete(r.byAcct, s.AccountID)
	if s.Player != nil {
		delete(r.byName, normalizeName(s.Player.Name))
	}
}

// Lookup finds a session by account id.
func (r *Registry) Lookup(accountID uint32) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAcct[accountID]
}

// LookupByPlayerName finds a session by character name, case-insensitive.
func (r *Registry) LookupByPlayerName(name string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[normalizeName(name)]
}

// Snapshot returns the current sessions. The slice is private to the
// caller; sessions may close while it is being iterated.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.byAcct))
	for _, s := range r.byAcct {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAcct)
}

// Stats returns the live count, peak concurrent count, and total sessions
// ever inserted.
func (r *Registry) Stats() (live, peak int, total uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAcct), r.peak, r.entered
}

// normalizeName canonicalizes a character name for lookup: trimmed and
// case-folded.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
