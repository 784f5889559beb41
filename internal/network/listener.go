package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/worldgate-project/worldgate/internal/util"
)

// Listener accepts client connections on the game port and serves each
// through its own ClientSocket goroutine.
type Listener struct {
	deps Deps
	log  zerolog.Logger

	ln net.Listener

	mu      sync.RWMutex
	sockets map[uuid.UUID]*ClientSocket
}

// NewListener constructs the game listener.
func NewListener(deps Deps) *Listener {
	return &Listener{
		deps:    deps,
		log:     util.ComponentLogger("listener"),
		sockets: make(map[uuid.UUID]*ClientSocket),
	}
}

// Start binds the game port and accepts until the context is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	realm := l.deps.Cfg.GetRealm()
	addr := fmt.Sprintf("%s:%d", realm.BindAddr, realm.GamePort)

	// SO_REUSEADDR so a restart can rebind through TIME_WAIT.
	lc := ReuseAddrListenConfig()
	var err error
	l.ln, err = lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind game port %s: %w", addr, err)
	}

	l.log.Info().Str("addr", addr).Str("realm", realm.Name).Msg("game listener started")

	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.log.Info().Msg("game listener stopping")
				return nil
			default:
				l.log.Error().Err(err).Msg("accept failed")
				continue
			}
		}

		sock, err := NewClientSocket(conn, l.deps)
		if err != nil {
			l.log.Error().Err(err).Msg("failed to initialize client socket")
			conn.Close()
			continue
		}

		l.track(sock)
		go func() {
			defer l.untrack(sock)
			sock.Serve(ctx)
		}()
	}
}

// Stop closes the listening socket and every live connection.
func (l *Listener) Stop() {
	if l.ln != nil {
		l.ln.Close()
	}
	for _, sock := range l.snapshot() {
		sock.Close("server shutting down")
	}
}

func (l *Listener) track(s *ClientSocket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sockets[s.ID] = s
}

func (l *Listener) untrack(s *ClientSocket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sockets, s.ID)
}

func (l *Listener) snapshot() []*ClientSocket {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*ClientSocket, 0, len(l.sockets))
	for _, s := range l.sockets {
		out = append(out, s)
	}
	return out
}

// Count returns the number of tracked connections, authenticated or not.
func (l *Listener) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sockets)
}

// CleanStale closes connections with no inbound traffic for longer than
// the timeout and returns how many were closed. Unauthenticated sockets
// idling past the timeout are the common case: port scanners and clients
// that never complete the handshake.
func (l *Listener) CleanStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)
	cleaned := 0
	for _, sock := range l.snapshot() {
		if sock.LastActivity().Before(cutoff) {
			l.log.Warn().
				Str("conn_id", sock.ID.String()).
				Str("state", sock.State().String()).
				Time("last_activity", sock.LastActivity()).
				Msg("closing stale connection")
			sock.Close("stale connection")
			cleaned++
		}
	}
	return cleaned
}
