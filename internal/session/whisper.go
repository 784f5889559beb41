package session

import (
	"time"
)

// WhisperTracker enforces the distinct-recent-targets limit: a sender may
// only initiate whispers to so many different players within a sliding
// window. Whispering a target already in the window is always allowed and
// refreshes it. Owned by the logic tick, so no locking.
type WhisperTracker struct {
	targets map[uint64]time.Time
}

// NewWhisperTracker returns an empty tracker. Limits are supplied per
// call so runtime config changes apply immediately.
func NewWhisperTracker() *WhisperTracker {
	return &WhisperTracker{targets: make(map[uint64]time.Time)}
}

// Allow records a whisper to target and reports whether it is within the
// limit. A limit of zero disables the check.
func (w *WhisperTracker) Allow(target uint64, now time.Time, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}

	cutoff := now.Add(-window)
	for guid, last := range w.targets {
		if last.Before(cutoff) {
			delete(w.targets, guid)
		}
	}

	if _, known := w.targets[target]; known {
		w.targets[target] = now
		return true
	}
	if len(w.targets) >= limit {
		return false
	}
	w.targets[target] = now
	return true
}

// DistinctTargets returns the current window population.
func (w *WhisperTracker) DistinctTargets() int {
	return len(w.targets)
}
