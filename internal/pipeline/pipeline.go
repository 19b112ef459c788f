package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
	"github.com/couchcryptid/flood-alert-service/internal/observability"
)

// BatchExtractor reads up to batchSize raw reading messages from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// ReadingEvaluator runs the alert pipeline for one reading.
type ReadingEvaluator interface {
	Evaluate(ctx context.Context, r domain.Reading) Result
}

// Pipeline consumes readings in batches and evaluates each one in order.
// Evaluation failures never stall the consumer: every message is committed
// once it has been evaluated or rejected.
type Pipeline struct {
	extractor BatchExtractor
	evaluator ReadingEvaluator
	logger    *slog.Logger
	metrics   *observability.Metrics
	batchSize int
}

// New creates a Pipeline with the given source and evaluator.
func New(e BatchExtractor, ev ReadingEvaluator, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		evaluator: ev,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// Run executes the consume-evaluate loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-evaluate cycle. Returns false if the pipeline should stop.
// Messages returned alongside an extract error are still evaluated and committed
// before backing off, since the reader has already moved past them.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil && ctx.Err() != nil {
		return false
	}

	if len(rawBatch) > 0 {
		p.metrics.ReadingsConsumed.Add(float64(len(rawBatch)))
		p.metrics.BatchSize.Observe(float64(len(rawBatch)))

		for _, raw := range rawBatch {
			if ctx.Err() != nil {
				return false
			}
			p.evaluateRaw(ctx, raw)
			p.commitOffset(ctx, raw)
		}
	}

	if err != nil {
		p.logger.Error("extract batch failed", "error", err, "partial_batch", len(rawBatch))
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}
	if len(rawBatch) > 0 {
		*backoff = 200 * time.Millisecond
	}
	return ctx.Err() == nil
}

func (p *Pipeline) evaluateRaw(ctx context.Context, raw domain.RawEvent) {
	reading, err := domain.ParseRawEvent(raw)
	if err != nil {
		p.logger.Warn("invalid reading, skipping message",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.ReadingErrors.Inc()
		return
	}
	// The result is already logged and counted by the evaluator.
	_ = p.evaluator.Evaluate(ctx, reading)
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
