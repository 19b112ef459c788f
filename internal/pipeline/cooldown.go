package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
)

// SentHistory reports when a notification of a given severity was last sent,
// across all locations.
type SentHistory interface {
	LastSentAt(ctx context.Context, severity domain.Severity) (time.Time, bool, error)
}

// CooldownGate suppresses re-alerting of a severity tier inside its cooldown
// window. The window is global per tier, not per location. State lives only in
// the persisted history so every service instance sees the same answer.
type CooldownGate struct {
	history    SentHistory
	thresholds domain.ThresholdTable
	clock      clockwork.Clock
}

// NewCooldownGate creates a gate. A nil clock uses real time.
func NewCooldownGate(history SentHistory, thresholds domain.ThresholdTable, clock clockwork.Clock) *CooldownGate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CooldownGate{history: history, thresholds: thresholds, clock: clock}
}

// Decision is the gate's verdict together with the figures behind it.
type Decision struct {
	Allowed  bool
	LastSent time.Time // zero when the tier has never been sent
	Elapsed  time.Duration
	Cooldown time.Duration
}

// Check looks up the last sent notification of the tier and compares the
// elapsed time against the tier's cooldown.
func (g *CooldownGate) Check(ctx context.Context, severity domain.Severity) (Decision, error) {
	cooldown := g.thresholds.Cooldown(severity)

	last, ok, err := g.history.LastSentAt(ctx, severity)
	if err != nil {
		return Decision{}, fmt.Errorf("cooldown lookup for %s: %w", severity, err)
	}
	if !ok {
		return Decision{Allowed: true, Cooldown: cooldown}, nil
	}

	elapsed := g.clock.Since(last)
	return Decision{
		Allowed:  elapsed >= cooldown,
		LastSent: last,
		Elapsed:  elapsed,
		Cooldown: cooldown,
	}, nil
}

// Allow reports whether an alert of the tier may be issued now.
func (g *CooldownGate) Allow(ctx context.Context, severity domain.Severity) (bool, error) {
	d, err := g.Check(ctx, severity)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}
