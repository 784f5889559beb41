package world

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/worldgate-project/worldgate/internal/protocol"
	"github.com/worldgate-project/worldgate/internal/session"
)

// Message flood bounds per account. Whispers and channel messages share
// one bucket.
const (
	floodMessagesPerSec = 1
	floodBurst          = 5
)

// FloodGate implements chat.Antispam with a per-account token bucket.
// It only vetoes delivery; the engine still logs vetoed messages.
type FloodGate struct {
	mu      sync.Mutex
	buckets map[uint32]*rate.Limiter
}

// NewFloodGate returns an empty gate.
func NewFloodGate() *FloodGate {
	return &FloodGate{buckets: make(map[uint32]*rate.Limiter)}
}

// ShouldDeliver implements chat.Antispam. Staff traffic is never
// throttled.
func (f *FloodGate) ShouldDeliver(text string, lang protocol.Language, chatType protocol.ChatType, sender, target *session.Session) bool {
	if sender.IsStaff() {
		return true
	}

	f.mu.Lock()
	lim, ok := f.buckets[sender.AccountID]
	if !ok {
		lim = rate.NewLimiter(floodMessagesPerSec, floodBurst)
		f.buckets[sender.AccountID] = lim
	}
	f.mu.Unlock()

	return lim.Allow()
}

// Forget drops an account's bucket on logout.
func (f *FloodGate) Forget(accountID uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buckets, accountID)
}
