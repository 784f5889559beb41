// Package scheduler runs periodic maintenance tasks: the stale-socket
// sweep and the hourly stats snapshot.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/session"
	"github.com/worldgate-project/worldgate/internal/util"
)

// SocketSweeper closes sockets idle past a timeout. Implemented by the
// network listener.
type SocketSweeper interface {
	CleanStale(timeout time.Duration) int
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	sweeper  SocketSweeper
	registry *session.Registry
	log      zerolog.Logger
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, sweeper SocketSweeper, registry *session.Registry) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		sweeper:  sweeper,
		registry: registry,
		log:      util.ComponentLogger("scheduler"),
	}
}

// Start begins running all scheduled tasks and blocks until the context
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Msg("scheduler started")

	if s.cfg.App.StaleSweepIntervalSec > 0 && s.sweeper != nil {
		go s.runStaleSweepLoop(ctx)
	}
	go s.runStatsLoop(ctx)

	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// runStaleSweepLoop closes sockets with no traffic for three sweep
// intervals. A healthy client pings well inside that window.
func (s *Scheduler) runStaleSweepLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.App.StaleSweepIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sweeper.CleanStale(3 * interval); n > 0 {
				s.log.Info().Int("closed", n).Msg("stale sockets swept")
			}
		}
	}
}

// runStatsLoop logs an hourly registry snapshot.
func (s *Scheduler) runStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			live, peak, total := s.registry.Stats()
			s.log.Info().
				Int("live", live).
				Int("peak", peak).
				Uint64("total", total).
				Msg("hourly session stats")
		}
	}
}
