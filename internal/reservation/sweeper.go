package reservation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired holds are collected when no
// interval is configured.
const DefaultSweepInterval = 3 * time.Second

// Sweeper periodically reverts expired holds.  It talks to the seats only
// through the engine, so it shares the store and notifier path with
// client-driven transitions.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper returns a sweeper running every interval.
func NewSweeper(engine *Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep and returns the number of holds expired.  Failures
// are logged and left for the next tick; a panic inside the sweep is
// recovered so it can never take the process down.
func (s *Sweeper) Tick(ctx context.Context) (expired int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked", "panic", fmt.Sprint(r))
		}
	}()
	n, err := s.engine.ExpireDue(ctx)
	if err != nil {
		s.logger.Warn("sweep failed; retrying next tick", "expired", n, "error", err)
	}
	if n > 0 {
		s.logger.Info("expired holds released", "count", n)
	}
	return n
}
