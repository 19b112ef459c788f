package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
)

// Sender delivers one message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, body string) error
}

// Pool runs in-process dispatcher workers. Each worker claims a delivery,
// sends it and acknowledges the outcome, polling when the queue is empty.
type Pool struct {
	queue   *Queue
	sender  Sender
	workers int
	poll    time.Duration
	logger  *slog.Logger
}

// NewPool creates a pool of workers that claim from queue and deliver through
// sender, waiting poll between claims while the queue is empty.
func NewPool(queue *Queue, sender Sender, workers int, poll time.Duration, logger *slog.Logger) *Pool {
	return &Pool{queue: queue, sender: sender, workers: workers, poll: poll, logger: logger}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for range p.workers {
		id := "worker-" + uuid.NewString()
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, id)
		}()
	}
	p.logger.Info("dispatcher pool started", "workers", p.workers)
	wg.Wait()
	p.logger.Info("dispatcher pool stopped")
}

func (p *Pool) work(ctx context.Context, claimant string) {
	log := p.logger.With("claimant", claimant)
	for ctx.Err() == nil {
		d, ok := p.queue.ClaimNextDelivery(ctx, claimant)
		if !ok {
			if !sleepWithContext(ctx, p.poll) {
				return
			}
			continue
		}
		p.deliver(ctx, log, claimant, d)
	}
}

// deliver sends one claimed delivery. The acknowledgement is detached from
// ctx so a shutdown mid-send still releases the claim.
func (p *Pool) deliver(ctx context.Context, log *slog.Logger, claimant string, d domain.Delivery) {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if !d.Deliverable {
		res := p.queue.AcknowledgeDelivery(ackCtx, d.ID, domain.Ack{Claimant: claimant, Outcome: domain.OutcomeFailed, Error: "subscriber inactive"})
		log.Info("delivery dropped, subscriber inactive", "delivery_id", d.ID, "result", string(res))
		return
	}

	if err := p.sender.Send(ctx, d.Phone, d.Message); err != nil {
		res := p.queue.AcknowledgeDelivery(ackCtx, d.ID, domain.Ack{Claimant: claimant, Outcome: domain.OutcomeRetry, Error: err.Error()})
		log.Warn("delivery attempt failed",
			"delivery_id", d.ID,
			"attempt", d.AttemptCount+1,
			"result", string(res),
			"error", err,
		)
		return
	}

	res := p.queue.AcknowledgeDelivery(ackCtx, d.ID, domain.Ack{Claimant: claimant, Outcome: domain.OutcomeSent})
	log.Info("delivery sent", "delivery_id", d.ID, "severity", d.Severity.String(), "result", string(res))
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
