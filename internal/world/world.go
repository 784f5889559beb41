// Package world drives the logic tick and provides the concrete broadcast
// collaborators behind the chat engine: channels, groups, guilds,
// zone proximity, the emote table, and world-wide announcements.
package world

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/events"
	"github.com/worldgate-project/worldgate/internal/session"
	"github.com/worldgate-project/worldgate/internal/util"
)

// World owns the logic tick. All session handlers run on this tick; the
// network layer only queues.
type World struct {
	cfg      *config.Config
	registry *session.Registry
	bus      *events.EventBus
	log      zerolog.Logger

	ticks   atomic.Uint64
	packets atomic.Uint64
}

// New constructs the world tick driver and subscribes it to operator
// announcements on the bus.
func New(cfg *config.Config, registry *session.Registry, bus *events.EventBus) *World {
	w := &World{
		cfg:      cfg,
		registry: registry,
		bus:      bus,
		log:      util.ComponentLogger("world"),
	}
	if bus != nil {
		bus.Subscribe(events.EventAnnounce, "world", func(ctx context.Context, e events.Event) error {
			if p, ok := e.Payload.(events.AnnouncePayload); ok {
				w.Announce(p.Text)
			}
			return nil
		})
	}
	return w
}

// Run ticks until the context is cancelled.
func (w *World) Run(ctx context.Context) {
	interval := time.Duration(w.cfg.App.TickIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", interval).Msg("logic tick started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Uint64("ticks", w.ticks.Load()).Msg("logic tick stopped")
			return
		case now := <-ticker.C:
			w.Update(now)
		}
	}
}

// Update runs one tick: every live session drains its queue and burns its
// mute timer.
func (w *World) Update(now time.Time) {
	w.ticks.Add(1)
	for _, s := range w.registry.Snapshot() {
		if s.Closing() {
			w.registry.Remove(s)
			continue
		}
		w.packets.Add(uint64(s.Update(now)))
	}
}

// Announce sends a server-wide text notice to every live session.
func (w *World) Announce(text string) {
	if text == "" {
		return
	}
	n := 0
	for _, s := range w.registry.Snapshot() {
		s.Notify("%s", text)
		n++
	}
	w.log.Info().Int("recipients", n).Str("text", text).Msg("world announcement")
}

// Ticks returns the number of ticks run so far.
func (w *World) Ticks() uint64 {
	return w.ticks.Load()
}

// PacketsProcessed returns the total packets dispatched across all
// sessions.
func (w *World) PacketsProcessed() uint64 {
	return w.packets.Load()
}
