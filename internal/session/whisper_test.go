package session

import (
	"testing"
	"time"
)

func TestWhisperTrackerCap(t *testing.T) {
	t.Parallel()

	w := NewWhisperTracker()
	now := time.Now()
	const limit = 3
	window := time.Minute

	for target := uint64(1); target <= limit; target++ {
		if !w.Allow(target, now, limit, window) {
			t.Fatalf("Allow(%d) = false within cap", target)
		}
	}
	if w.Allow(99, now, limit, window) {
		t.Error("Allow(new target) = true past cap")
	}

	// Known targets stay allowed even at the cap.
	if !w.Allow(1, now, limit, window) {
		t.Error("Allow(known target) = false at cap")
	}
	if w.DistinctTargets() != limit {
		t.Errorf("DistinctTargets() = %d, want %d", w.DistinctTargets(), limit)
	}
}

func TestWhisperTrackerWindowExpiry(t *testing.T) {
	t.Parallel()

	w := NewWhisperTracker()
	now := time.Now()
	window := time.Minute

	w.Allow(1, now, 2, window)
	w.Allow(2, now, 2, window)
	if w.Allow(3, now, 2, window) {
		t.Fatal("cap not enforced")
	}

	// Past the window the old targets age out and capacity frees up.
	later := now.Add(2 * time.Minute)
	if !w.Allow(3, later, 2, window) {
		t.Error("Allow() = false after window expiry")
	}
	if w.DistinctTargets() != 1 {
		t.Errorf("DistinctTargets() = %d after pruning, want 1", w.DistinctTargets())
	}
}

func TestWhisperTrackerRefreshExtendsWindow(t *testing.T) {
	t.Parallel()

	w := NewWhisperTracker()
	now := time.Now()
	window := time.Minute

	w.Allow(1, now, 1, window)
	// Refresh at 50s keeps the target alive past the original expiry.
	w.Allow(1, now.Add(50*time.Second), 1, window)
	if w.Allow(2, now.Add(70*time.Second), 1, window) {
		t.Error("refreshed target aged out at its original expiry")
	}
}

func TestWhisperTrackerDisabled(t *testing.T) {
	t.Parallel()

	w := NewWhisperTracker()
	now := time.Now()
	for target := uint64(0); target < 100; target++ {
		if !w.Allow(target, now, 0, time.Minute) {
			t.Fatal("Allow() = false with limit 0")
		}
	}
}
