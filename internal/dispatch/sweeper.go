package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-alert-service/internal/observability"
)

// Sweeper periodically returns deliveries whose claim has outlived the claim
// timeout to the queue, so a crashed dispatcher cannot strand them.
type Sweeper struct {
	store     Store
	olderThan time.Duration
	interval  time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewSweeper creates a Sweeper. A nil clock uses real time.
func NewSweeper(store Store, olderThan, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{
		store:     store,
		olderThan: olderThan,
		interval:  interval,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single release pass and returns the number of rows released.
func (s *Sweeper) Sweep(ctx context.Context) int {
	n, err := s.store.ReleaseStale(ctx, s.olderThan)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("release stale claims failed", "error", err)
		}
		return 0
	}
	if n > 0 {
		s.metrics.StaleReleased.Add(float64(n))
		s.logger.Warn("released stale claims", "count", n, "claim_timeout", s.olderThan)
	}
	return n
}
