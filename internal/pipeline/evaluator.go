package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
	"github.com/couchcryptid/flood-alert-service/internal/observability"
)

// Enqueuer fans an approved alert out into one pending delivery per active
// subscriber and reports how many rows it created.
type Enqueuer interface {
	EnqueueAlert(ctx context.Context, alert domain.Alert) (int, error)
}

// AlertPublisher announces enqueued alerts to downstream consumers.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, event domain.AlertEvent) error
}

// Outcome summarises what an evaluation did.
type Outcome string

const (
	OutcomeNoAlert    Outcome = "no_alert"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeEnqueued   Outcome = "enqueued"
	OutcomeError      Outcome = "error"
)

// Result is the outcome of a single evaluation. Callers on the ingestion path
// are free to ignore it; failures are already logged and counted.
type Result struct {
	Outcome  Outcome
	Level    float64
	Severity domain.Severity
	Enqueued int
	Err      error
}

// Evaluator runs the alert pipeline for one reading:
// smooth, classify, cooldown gate, enqueue, publish.
type Evaluator struct {
	smoother   *Smoother
	thresholds domain.ThresholdTable
	gate       *CooldownGate
	enqueuer   Enqueuer
	publisher  AlertPublisher
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewEvaluator wires the pipeline stages. A nil publisher disables alert events.
func NewEvaluator(
	smoother *Smoother,
	thresholds domain.ThresholdTable,
	gate *CooldownGate,
	enqueuer Enqueuer,
	publisher AlertPublisher,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Evaluator {
	return &Evaluator{
		smoother:   smoother,
		thresholds: thresholds,
		gate:       gate,
		enqueuer:   enqueuer,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
	}
}

// EvaluateReading runs the pipeline and discards the result. It never
// returns an error to the ingestion path.
func (e *Evaluator) EvaluateReading(ctx context.Context, r domain.Reading) {
	_ = e.Evaluate(ctx, r)
}

// Evaluate runs the pipeline for a single reading.
func (e *Evaluator) Evaluate(ctx context.Context, r domain.Reading) Result {
	start := time.Now()
	res := e.evaluate(ctx, r)
	e.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	e.metrics.Evaluations.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

func (e *Evaluator) evaluate(ctx context.Context, r domain.Reading) Result {
	level := e.smoother.Smooth(ctx, r)

	class := e.thresholds.Classify(level)
	if !class.Alerting() {
		return Result{Outcome: OutcomeNoAlert, Level: level}
	}

	log := e.logger.With(
		"location_id", r.LocationID,
		"severity", class.Severity.String(),
		"level", level,
	)

	decision, err := e.gate.Check(ctx, class.Severity)
	if err != nil {
		log.Error("cooldown check failed, no alert issued", "error", err)
		return Result{Outcome: OutcomeError, Level: level, Severity: class.Severity, Err: err}
	}
	if !decision.Allowed {
		log.Info("alert suppressed by cooldown",
			"elapsed", decision.Elapsed,
			"cooldown", decision.Cooldown,
		)
		return Result{Outcome: OutcomeSuppressed, Level: level, Severity: class.Severity}
	}

	alert := domain.Alert{
		LocationID: r.LocationID,
		Severity:   class.Severity,
		AlertType:  class.AlertType,
		Level:      level,
		RawValue:   r.Value,
		Message:    class.Message(r.LocationID, level),
	}

	n, err := e.enqueuer.EnqueueAlert(ctx, alert)
	if err != nil {
		log.Error("enqueue alert failed", "error", err)
		return Result{Outcome: OutcomeError, Level: level, Severity: class.Severity, Err: err}
	}
	e.metrics.DeliveriesEnqueued.WithLabelValues(class.Severity.String()).Add(float64(n))
	log.Info("alert enqueued", "recipients", n, "alert_type", class.AlertType)

	e.publish(ctx, alert, n)

	return Result{Outcome: OutcomeEnqueued, Level: level, Severity: class.Severity, Enqueued: n}
}

// publish is best-effort: the deliveries are already durable.
func (e *Evaluator) publish(ctx context.Context, alert domain.Alert, recipients int) {
	if e.publisher == nil {
		return
	}
	event := domain.AlertEvent{
		LocationID: alert.LocationID,
		Severity:   alert.Severity,
		AlertType:  alert.AlertType,
		WaterLevel: alert.Level,
		RawValue:   alert.RawValue,
		Message:    alert.Message,
		Recipients: recipients,
		IssuedAt:   domain.Now().UTC(),
	}
	if err := e.publisher.PublishAlert(ctx, event); err != nil {
		e.metrics.AlertPublishErrors.Inc()
		e.logger.Warn("publish alert event failed",
			"error", err,
			"location_id", alert.LocationID,
			"severity", alert.Severity.String(),
		)
	}
}
