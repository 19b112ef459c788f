package pipeline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
	"github.com/couchcryptid/flood-alert-service/internal/observability"
)

// LevelSource returns the mean level of a location over a trailing window.
// ok is false when the window holds no samples.
type LevelSource interface {
	MeanLevel(ctx context.Context, locationID string, window time.Duration) (mean float64, ok bool, err error)
}

// Smoother reduces the trailing window of a location to one representative
// value. It never fails: any problem with the source yields the raw reading.
type Smoother struct {
	source  LevelSource
	window  time.Duration
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewSmoother creates a Smoother. A nil source disables smoothing.
func NewSmoother(source LevelSource, window, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Smoother {
	return &Smoother{
		source:  source,
		window:  window,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Smooth returns the rounded window mean for the reading's location, or the
// raw value unchanged when the mean is unavailable.
func (s *Smoother) Smooth(ctx context.Context, r domain.Reading) float64 {
	if s.source == nil {
		s.metrics.SmoothingFallbacks.WithLabelValues("disabled").Inc()
		return r.Value
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	mean, ok, err := s.source.MeanLevel(ctx, r.LocationID, s.window)
	if err != nil {
		s.logger.Warn("smoothing query failed, using raw value",
			"error", err,
			"location_id", r.LocationID,
			"raw_value", r.Value,
		)
		s.metrics.SmoothingFallbacks.WithLabelValues("error").Inc()
		return r.Value
	}
	if !ok || math.IsNaN(mean) || math.IsInf(mean, 0) {
		s.logger.Debug("no samples in smoothing window, using raw value",
			"location_id", r.LocationID,
			"window", s.window,
		)
		s.metrics.SmoothingFallbacks.WithLabelValues("no_data").Inc()
		return r.Value
	}
	return math.Round(mean)
}
