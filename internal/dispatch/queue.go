// Package dispatch hands pending deliveries to workers and records their
// outcome. Coordination between workers, including workers in other
// processes, happens only in the store's claim transaction.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
	"github.com/couchcryptid/flood-alert-service/internal/observability"
)

// Store is the persistent delivery queue.
type Store interface {
	ClaimNext(ctx context.Context, claimant string) (domain.Delivery, bool, error)
	Acknowledge(ctx context.Context, id int64, ack domain.Ack) (domain.AckResult, error)
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Queue exposes claim and acknowledge without storage errors: a failed claim
// is "no work" and a failed acknowledgement is SKIPPED. Both are logged and
// counted.
type Queue struct {
	store   Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewQueue wraps store with logging and claim/ack metrics.
func NewQueue(store Store, logger *slog.Logger, metrics *observability.Metrics) *Queue {
	return &Queue{store: store, logger: logger, metrics: metrics}
}

// ClaimNextDelivery claims the oldest pending delivery for claimant. ok is
// false when there is nothing to do or the claim could not be made.
func (q *Queue) ClaimNextDelivery(ctx context.Context, claimant string) (domain.Delivery, bool) {
	d, ok, err := q.store.ClaimNext(ctx, claimant)
	switch {
	case errors.Is(err, domain.ErrClaimContention):
		q.logger.Warn("claim gave up after repeated contention", "claimant", claimant, "error", err)
		q.metrics.Claims.WithLabelValues("contention").Inc()
		return domain.Delivery{}, false
	case err != nil:
		if ctx.Err() == nil {
			q.logger.Error("claim delivery failed", "claimant", claimant, "error", err)
		}
		q.metrics.Claims.WithLabelValues("error").Inc()
		return domain.Delivery{}, false
	case !ok:
		q.metrics.Claims.WithLabelValues("empty").Inc()
		return domain.Delivery{}, false
	case !d.Deliverable:
		q.metrics.Claims.WithLabelValues("undeliverable").Inc()
	default:
		q.metrics.Claims.WithLabelValues("claimed").Inc()
	}

	q.logger.Debug("delivery claimed",
		"delivery_id", d.ID,
		"claimant", claimant,
		"severity", d.Severity.String(),
		"deliverable", d.Deliverable,
	)
	return d, true
}

// AcknowledgeDelivery records the outcome of a delivery attempt.
func (q *Queue) AcknowledgeDelivery(ctx context.Context, id int64, ack domain.Ack) domain.AckResult {
	res, err := q.store.Acknowledge(ctx, id, ack)
	if err != nil {
		q.logger.Error("acknowledge delivery failed",
			"delivery_id", id,
			"claimant", ack.Claimant,
			"outcome", string(ack.Outcome),
			"error", err,
		)
		q.metrics.Acks.WithLabelValues("error").Inc()
		return domain.AckSkipped
	}
	q.metrics.Acks.WithLabelValues(string(res)).Inc()
	if res == domain.AckSkipped {
		q.logger.Info("acknowledgement skipped, delivery not held by claimant",
			"delivery_id", id, "claimant", ack.Claimant, "outcome", string(ack.Outcome))
	}
	return res
}
