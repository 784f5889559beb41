// Package session implements the authenticated per-player state machine:
// the inbound packet queue drained by the logic tick, the opcode dispatch
// table, mute bookkeeping, the process-wide registry, and the whisper
// target limiter.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/worldgate-project/worldgate/internal/account"
	"github.com/worldgate-project/worldgate/internal/auth"
	"github.com/worldgate-project/worldgate/internal/protocol"
	"github.com/worldgate-project/worldgate/internal/util"
)

const (
	// recvQueueSize bounds packets buffered between the I/O path and the
	// logic tick. Overflow drops the packet.
	recvQueueSize = 256

	// MaxProcessedPackets caps handler executions per session per tick so
	// one chatty client cannot starve the tick.
	MaxProcessedPackets = 100
)

// Handler processes one inbound packet on the logic tick. Handlers must
// never block on network or database I/O.
type Handler func(s *Session, p *protocol.Packet)

// Sender is the outbound surface a session writes through. The connection
// layer implements it; both methods must be safe to call from the logic
// tick.
type Sender interface {
	SendPacket(p *protocol.Packet)
	Kick(reason string)
}

// MutePersister saves the counted-down mute timer for pausing mutes.
// *account.Store satisfies it.
type MutePersister interface {
	SaveMuteRemaining(accountID uint32, remaining time.Duration)
}

// Session is the authenticated server-side state for one client
// connection. Submit may be called from the I/O path; everything else is
// owned by the logic tick.
type Session struct {
	ConnID      uuid.UUID
	AccountID   uint32
	AccountName string
	Security    account.SecurityLevel
	Locale      uint32
	Flags       uint32
	Build       uint32
	RemoteIP    string

	// MaxCharacterLevel is the account-wide level high-water mark used by
	// chat level-gate bypasses.
	MaxCharacterLevel uint32

	// Player is the active character state. Nil until a character enters
	// the world.
	Player *Player

	Whispers *WhisperTracker

	sender   Sender
	handlers map[uint16]Handler
	persist  MutePersister
	log      zerolog.Logger

	mu      sync.Mutex
	recv    chan *protocol.Packet
	closing bool
	dropped uint64

	// Mute timer fields are guarded by mu: Update burns them down on the
	// logic tick while Close may read them from the I/O path.
	muteReason  string
	mutePausing bool
	// muteUntil is the wall-clock expiry for ordinary mutes; pausing
	// mutes track muteRemaining instead, burned down by Update.
	muteUntil     time.Time
	muteRemaining time.Duration
	lastUpdate    time.Time

	// IsStaff shortcut derived from Security.
	staff bool
}

// New constructs a Session from a verified handshake. The caller installs
// the cipher and registers the session before dispatching any packet.
func New(connID uuid.UUID, init *auth.SessionInit, sender Sender, handlers map[uint16]Handler, persist MutePersister) *Session {
	s := &Session{
		ConnID:            connID,
		AccountID:         init.AccountID,
		AccountName:       init.AccountName,
		Security:          init.Security,
		Locale:            init.Locale,
		Flags:             init.Flags,
		Build:             init.Build,
		RemoteIP:          init.RemoteIP,
		MaxCharacterLevel: init.MaxCharacterLevel,
		Whispers:          NewWhisperTracker(),
		sender:            sender,
		handlers:          handlers,
		persist:           persist,
		recv:              make(chan *protocol.Packet, recvQueueSize),
		muteReason:        init.MuteReason,
		mutePausing:       init.MutePausing,
		lastUpdate:        time.Now(),
		staff:             init.Security.IsStaff(),
	}
	if init.MuteRemaining > 0 {
		if init.MutePausing {
			s.muteRemaining = init.MuteRemaining
		} else {
			s.muteUntil = time.Now().Add(init.MuteRemaining)
		}
	}
	s.log = util.ComponentLogger("session").With().
		Str("account", s.AccountName).
		Str("conn_id", connID.String()).
		Logger()
	return s
}

// IsStaff reports whether the account carries any staff tier.
func (s *Session) IsStaff() bool {
	return s.staff
}

// Submit enqueues a packet from the network path. After Close it is a
// silent no-op; when the queue is full the packet is dropped.
func (s *Session) Submit(p *protocol.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	select {
	case s.recv <- p:
	default:
		s.dropped++
		s.log.Warn().
			Str("opcode", protocol.OpcodeName(p.Opcode)).
			Uint64("dropped", s.dropped).
			Msg("recv queue full, packet dropped")
	}
}

// Update drains the inbound queue on the logic tick, dispatching at most
// MaxProcessedPackets handlers, and burns down a pausing mute timer. It
// returns the number of packets dispatched.
func (s *Session) Update(now time.Time) int {
	s.mu.Lock()
	expired := false
	if s.mutePausing && s.muteRemaining > 0 {
		elapsed := now.Sub(s.lastUpdate)
		if elapsed > 0 {
			s.muteRemaining -= elapsed
			if s.muteRemaining <= 0 {
				s.muteRemaining = 0
				expired = true
			}
		}
	}
	s.lastUpdate = now
	s.mu.Unlock()

	if expired {
		if s.persist != nil {
			s.persist.SaveMuteRemaining(s.AccountID, 0)
		}
		s.log.Info().Msg("mute expired")
	}

	for i := 0; i < MaxProcessedPackets; i++ {
		select {
		case p := <-s.recv:
			s.dispatch(p)
		default:
			return i
		}
	}
	return MaxProcessedPackets
}

func (s *Session) dispatch(p *protocol.Packet) {
	h, ok := s.handlers[p.Opcode]
	if !ok {
		s.log.Debug().
			Str("opcode", protocol.OpcodeName(p.Opcode)).
			Int("size", p.Size()).
			Msg("no handler for opcode")
		return
	}
	h(s, p)
}

// Close stops the inbound queue. Safe to call more than once and from
// either the I/O path or the logic tick; a pausing mute timer is persisted
// on first close.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	pausing, remaining := s.mutePausing, s.muteRemaining
	s.mu.Unlock()

	if pausing && s.persist != nil {
		s.persist.SaveMuteRemaining(s.AccountID, remaining)
	}
	s.log.Info().Msg("session closed")
}

// Closing reports whether Close has been called.
func (s *Session) Closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// SendPacket forwards a packet to the connection write path.
func (s *Session) SendPacket(p *protocol.Packet) {
	if s.sender != nil {
		s.sender.SendPacket(p)
	}
}

// Kick asks the connection layer to close with a reason.
func (s *Session) Kick(reason string) {
	if s.sender != nil {
		s.sender.Kick(reason)
	}
}

// Notify sends an SMSG_NOTIFICATION with formatted text.
func (s *Session) Notify(format string, args ...interface{}) {
	s.SendPacket(protocol.NewBuilder(protocol.SMSGNotification).
		String(fmt.Sprintf(format, args...)).
		Packet())
}

// IsMuted reports whether the mute is still in force at the given time.
func (s *Session) IsMuted(now time.Time) bool {
	if s.mutePausing {
		return s.muteRemaining > 0
	}
	return s.muteUntil.After(now)
}

// MuteRemaining returns the outstanding mute duration at the given time.
func (s *Session) MuteRemaining(now time.Time) time.Duration {
	if s.mutePausing {
		return s.muteRemaining
	}
	if d := s.muteUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

// MuteNotice formats the client-facing mute message. Pausing mutes word
// the remaining time as online-only.
func (s *Session) MuteNotice(now time.Time) string {
	remaining := s.MuteRemaining(now).Round(time.Second)
	if s.mutePausing {
		return fmt.Sprintf("Your chat is muted. %s remain and only count down while you are online.", remaining)
	}
	return fmt.Sprintf("You are muted for another %s.", remaining)
}

// Mute applies a new mute at runtime (admin action).
func (s *Session) Mute(d time.Duration, reason string, pausing bool) {
	s.mu.Lock()
	s.muteReason = reason
	s.mutePausing = pausing
	if pausing {
		s.muteRemaining = d
		s.muteUntil = time.Time{}
	} else {
		s.muteRemaining = 0
		s.muteUntil = time.Now().Add(d)
	}
	s.mu.Unlock()
	if s.persist != nil && pausing {
		s.persist.SaveMuteRemaining(s.AccountID, d)
	}
}

// Logger exposes the session-scoped logger for handlers.
func (s *Session) Logger() *zerolog.Logger {
	return &s.log
}
