// Package network implements the TCP front of the gateway: the listener,
// the per-connection socket state machine, and the read/write paths that
// feed decoded packets into sessions.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/worldgate-project/worldgate/internal/auth"
	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/events"
	"github.com/worldgate-project/worldgate/internal/protocol"
	"github.com/worldgate-project/worldgate/internal/session"
	"github.com/worldgate-project/worldgate/internal/util"
)

const (
	// readBufferSize is the per-read scratch buffer fed into the codec.
	readBufferSize = 4096

	// writeTimeout bounds a single outbound frame write.
	writeTimeout = 10 * time.Second
)

// SocketState tracks where a connection is in its lifecycle.
type SocketState int

const (
	// StateConnected is the pre-auth state: only ping and the auth
	// request are legal.
	StateConnected SocketState = iota
	StateAuthenticated
	StateClosing
)

// String returns the state name.
func (s SocketState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Deps bundles the collaborators every client socket needs.
type Deps struct {
	Cfg      *config.Config
	Auth     *auth.Authenticator
	Bus      *events.EventBus
	Registry *session.Registry
	Handlers map[uint16]session.Handler
	Persist  session.MutePersister
}

// ClientSocket owns one client TCP connection: framing, the pre-auth
// state machine, ping policing, and the hand-off of authenticated traffic
// into the session queue.
//
// The codec's decode side is touched only by the read loop and its encode
// side only under writeMu, so the two cipher streams never race.
type ClientSocket struct {
	ID   uuid.UUID
	conn net.Conn
	deps Deps
	log  zerolog.Logger

	codec      *protocol.Codec
	serverSeed uint32
	limiter    *rate.Limiter

	writeMu sync.Mutex

	mu           sync.Mutex
	state        SocketState
	sess         *session.Session
	connectedAt  time.Time
	lastActivity time.Time

	// Ping policing per the anti-flood rule: consecutive short intervals
	// increment the counter, a normal interval resets it.
	lastPing       time.Time
	overspeedPings uint32
	latency        uint32

	closeOnce   sync.Once
	closeReason string
}

// NewClientSocket wraps an accepted connection. The server seed is drawn
// immediately so the challenge can be sent before any client byte.
func NewClientSocket(conn net.Conn, deps Deps) (*ClientSocket, error) {
	seed, err := auth.NewServerSeed()
	if err != nil {
		return nil, err
	}

	s := &ClientSocket{
		ID:           uuid.New(),
		conn:         conn,
		deps:         deps,
		codec:        protocol.NewCodec(),
		serverSeed:   seed,
		connectedAt:  time.Now(),
		lastActivity: time.Now(),
	}
	s.log = util.ComponentLogger("socket").With().
		Str("conn_id", s.ID.String()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	realm := deps.Cfg.GetRealm()
	if realm.PacketsPerSecond > 0 {
		burst := realm.PacketBurst
		if burst < realm.PacketsPerSecond {
			burst = realm.PacketsPerSecond
		}
		s.limiter = rate.NewLimiter(rate.Limit(realm.PacketsPerSecond), burst)
	}

	return s, nil
}

// Serve sends the auth challenge and runs the read loop until the
// connection closes or the context is cancelled.
func (s *ClientSocket) Serve(ctx context.Context) {
	defer s.Close("connection closed")

	if err := s.write(auth.BuildChallenge(s.serverSeed)); err != nil {
		s.log.Warn().Err(err).Msg("failed to send auth challenge")
		return
	}

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.codec.Feed(buf[:n])
			if !s.drainFrames() {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && s.State() != StateClosing {
				s.log.Debug().Err(err).Msg("read error")
			}
			return
		}
	}
}

// drainFrames decodes every complete frame buffered in the codec. Returns
// false when the connection must close.
func (s *ClientSocket) drainFrames() bool {
	for {
		pkt, err := s.codec.Next()
		if err != nil {
			// Malformed framing is never recoverable: the stream offset is
			// lost.
			s.log.Warn().Err(err).Msg("protocol violation")
			s.Close("protocol violation")
			return false
		}
		if pkt == nil {
			return true
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.log.Warn().
				Str("opcode", protocol.OpcodeName(pkt.Opcode)).
				Msg("inbound packet rate exceeded, dropping")
			continue
		}

		if !s.handleFrame(pkt) {
			return false
		}
	}
}

// handleFrame routes one decoded packet. Pre-auth only ping and the auth
// request are legal; post-auth everything except those two is queued into
// the session, never executed on the read path.
func (s *ClientSocket) handleFrame(p *protocol.Packet) bool {
	s.mu.Lock()
	state := s.state
	sess := s.sess
	s.lastActivity = time.Now()
	s.mu.Unlock()

	switch state {
	case StateClosing:
		return false

	case StateConnected:
		switch p.Opcode {
		case protocol.CMSGPing:
			return s.handlePing(p)
		case protocol.CMSGAuthSession:
			return s.handleAuthSession(p)
		default:
			s.log.Warn().
				Str("opcode", protocol.OpcodeName(p.Opcode)).
				Msg("illegal opcode before authentication")
			s.Close("illegal opcode before authentication")
			return false
		}

	case StateAuthenticated:
		switch p.Opcode {
		case protocol.CMSGPing:
			return s.handlePing(p)
		case protocol.CMSGAuthSession:
			// Exactly-once: a second auth request is always fatal.
			s.log.Warn().Msg("duplicate auth session request")
			s.Close("duplicate auth session request")
			return false
		default:
			sess.Submit(p)
			return true
		}
	}
	return false
}

// handlePing round-trips the ping token and polices the interval. A
// lowest-tier client pinging faster than the configured minimum more than
// the allowed number of consecutive times is disconnected.
func (s *ClientSocket) handlePing(p *protocol.Packet) bool {
	r := p.Reader()
	seq, err := r.Uint32()
	if err != nil {
		return s.badPacket(err)
	}
	latency, err := r.Uint32()
	if err != nil {
		return s.badPacket(err)
	}

	realm := s.deps.Cfg.GetRealm()
	minInterval := time.Duration(realm.MinPingIntervalSec) * time.Second
	now := time.Now()

	s.mu.Lock()
	s.latency = latency
	kick := false
	if !s.lastPing.IsZero() && realm.MaxOverspeedPings > 0 && now.Sub(s.lastPing) < minInterval {
		s.overspeedPings++
		staff := s.sess != nil && s.sess.IsStaff()
		if s.overspeedPings > realm.MaxOverspeedPings && !staff {
			kick = true
		}
	} else {
		s.overspeedPings = 0
	}
	count := s.overspeedPings
	s.lastPing = now
	s.mu.Unlock()

	if kick {
		s.log.Warn().
			Uint32("count", count).
			Dur("min_interval", minInterval).
			Msg("overspeed pings, disconnecting")
		s.Kick("overspeed pings")
		return false
	}

	if err := s.write(protocol.NewBuilder(protocol.SMSGPong).Uint32(seq).Packet()); err != nil {
		s.log.Debug().Err(err).Msg("failed to send pong")
		return false
	}
	return true
}

// handleAuthSession performs the handshake. On success the session is
// constructed, the cipher installed, and the session registered before
// the addon block is parsed, so no queued packet can ever reach a
// half-built session.
func (s *ClientSocket) handleAuthSession(p *protocol.Packet) bool {
	remoteIP := s.RemoteIP()

	hello, err := auth.ParseClientHello(p)
	if err != nil {
		// A malformed auth request is fatal regardless of the bad-packet
		// tolerance setting.
		s.log.Warn().Err(err).Msg("malformed auth session request")
		s.Close("malformed auth session request")
		return false
	}

	init, rej := s.deps.Auth.Verify(hello, s.serverSeed, remoteIP)
	if rej != nil {
		s.log.Warn().
			Str("account", hello.Account).
			Str("reason", rej.Reason).
			Bool("silent", rej.Silent).
			Msg("handshake rejected")
		if !rej.Silent {
			if err := s.write(auth.BuildResponse(rej.Code)); err != nil {
				s.log.Debug().Err(err).Msg("failed to send auth rejection")
			}
		}
		s.emit(events.EventAuthFailed, events.AuthFailedPayload{
			Account:  hello.Account,
			RemoteIP: remoteIP,
			Code:     rej.Code.String(),
			Reason:   rej.Reason,
		})
		s.Close("authentication rejected")
		return false
	}

	sess := session.New(s.ID, init, s, s.deps.Handlers, s.deps.Persist)

	if err := s.codec.InstallCipher(init.SessionKey, protocol.SideServer); err != nil {
		s.log.Error().Err(err).Msg("failed to install session cipher")
		s.Close("cipher setup failed")
		return false
	}

	// One session per account: the displaced connection is kicked.
	if old := s.deps.Registry.Insert(sess); old != nil {
		old.Kick("logged in from another location")
	}

	addons, err := auth.ParseAddonInfo(hello.AddonBlock)
	if err != nil {
		s.log.Warn().Err(err).Str("account", init.AccountName).Msg("malformed addon block")
		s.deps.Registry.Remove(sess)
		s.Close("malformed addon block")
		return false
	}
	init.Addons = addons
	init.WipeKey()

	s.mu.Lock()
	s.sess = sess
	s.state = StateAuthenticated
	s.mu.Unlock()

	if err := s.write(auth.BuildResponse(protocol.AuthOK)); err != nil {
		s.log.Debug().Err(err).Msg("failed to send auth response")
		return false
	}

	s.log.Info().
		Str("account", init.AccountName).
		Uint32("build", init.Build).
		Int("addons", len(addons)).
		Msg("session established")
	s.emit(events.EventSessionOpened, events.SessionOpenedPayload{
		ConnID:      s.ID.String(),
		AccountID:   init.AccountID,
		AccountName: init.AccountName,
		RemoteIP:    remoteIP,
		Build:       init.Build,
	})
	return true
}

// badPacket applies the configured tolerance for unparsable payloads on
// otherwise well-framed packets.
func (s *ClientSocket) badPacket(err error) bool {
	s.log.Warn().Err(err).Msg("malformed packet payload")
	if s.deps.Cfg.GetRealm().KickOnBadPacket {
		s.Close("malformed packet")
		return false
	}
	return true
}

// write encodes and sends one packet. Safe for concurrent use.
func (s *ClientSocket) write(p *protocol.Packet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.codec.Encode(p)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", protocol.OpcodeName(p.Opcode), err)
	}
	return nil
}

// SendPacket implements session.Sender.
func (s *ClientSocket) SendPacket(p *protocol.Packet) {
	if err := s.write(p); err != nil {
		s.log.Debug().Err(err).Msg("send failed")
	}
}

// Kick implements session.Sender: forcible close with an operator-visible
// reason.
func (s *ClientSocket) Kick(reason string) {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()

	if sess != nil {
		s.emit(events.EventSessionKicked, events.SessionKickedPayload{
			ConnID:      s.ID.String(),
			AccountID:   sess.AccountID,
			AccountName: sess.AccountName,
			Reason:      reason,
		})
	}
	s.log.Info().Str("reason", reason).Msg("kicking connection")
	s.Close(reason)
}

// Close tears the connection down. Calling it twice has the same
// observable effect as calling it once.
func (s *ClientSocket) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		s.closeReason = reason
		sess := s.sess
		s.mu.Unlock()

		if sess != nil {
			sess.Close()
			s.deps.Registry.Remove(sess)
			s.emit(events.EventSessionClosed, events.SessionClosedPayload{
				ConnID:      s.ID.String(),
				AccountID:   sess.AccountID,
				AccountName: sess.AccountName,
				Reason:      reason,
			})
		}
		s.conn.Close()
		s.log.Debug().Str("reason", reason).Msg("socket closed")
	})
}

func (s *ClientSocket) emit(t events.EventType, payload interface{}) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  "socket:" + s.ID.String(),
		Payload: payload,
	})
}

// State returns the current lifecycle state.
func (s *ClientSocket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the attached session, nil before authentication.
func (s *ClientSocket) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Latency returns the client-reported latency from the last ping.
func (s *ClientSocket) Latency() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

// LastActivity returns the time of the last inbound packet.
func (s *ClientSocket) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ConnectedAt returns when the connection was accepted.
func (s *ClientSocket) ConnectedAt() time.Time {
	return s.connectedAt
}

// RemoteIP returns the client address without the port.
func (s *ClientSocket) RemoteIP() string {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		return s.conn.RemoteAddr().String()
	}
	return host
}
