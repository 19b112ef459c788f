package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
	"github.com/couchcryptid/flood-alert-service/internal/observability"
)

const (
	apiKeyHeader = "X-API-Key"
	maxBodyBytes = 1 << 20
)

// ReadingEvaluator runs the alert pipeline for one reading and never reports
// failure to the caller.
type ReadingEvaluator interface {
	EvaluateReading(ctx context.Context, r domain.Reading)
}

// ReadingRecorder stores accepted readings in the time-series store.
type ReadingRecorder interface {
	WriteReading(ctx context.Context, r domain.Reading) error
}

// DeliveryQueue is the claim and acknowledge surface used by dispatchers.
type DeliveryQueue interface {
	ClaimNextDelivery(ctx context.Context, claimant string) (domain.Delivery, bool)
	AcknowledgeDelivery(ctx context.Context, id int64, ack domain.Ack) domain.AckResult
}

// API serves the /api/v1 routes. Recorder may be nil when no time-series
// store is configured.
type API struct {
	Secret            string
	Evaluator         ReadingEvaluator
	Recorder          ReadingRecorder
	Queue             DeliveryQueue
	EvaluationTimeout time.Duration
	Logger            *slog.Logger
	Metrics           *observability.Metrics
}

func (a *API) register(mux *http.ServeMux) {
	mux.Handle("POST /api/v1/readings", a.authenticate(http.HandlerFunc(a.handleReading)))
	mux.Handle("POST /api/v1/deliveries/claim", a.authenticate(http.HandlerFunc(a.handleClaim)))
	mux.Handle("POST /api/v1/deliveries/{id}/ack", a.authenticate(http.HandlerFunc(a.handleAck)))
}

// authenticate rejects requests whose API key does not match the shared secret.
func (a *API) authenticate(next http.Handler) http.Handler {
	secret := []byte(a.Secret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := []byte(r.Header.Get(apiKeyHeader))
		if len(secret) == 0 || subtle.ConstantTimeCompare(key, secret) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleReading validates a reading, answers 202 and evaluates it detached
// from the request.
func (a *API) handleReading(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.Metrics.ReadingErrors.Inc()
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	reading, err := domain.DecodeReading(body)
	if err != nil {
		a.Metrics.ReadingErrors.Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reading = reading.Stamp()
	a.Metrics.ReadingsConsumed.Inc()

	ctx := context.WithoutCancel(r.Context())
	go a.process(ctx, reading)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) process(ctx context.Context, reading domain.Reading) {
	if a.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.EvaluationTimeout)
		defer cancel()
	}
	if a.Recorder != nil {
		if err := a.Recorder.WriteReading(ctx, reading); err != nil {
			a.Logger.Warn("store reading failed", "error", err, "location_id", reading.LocationID)
		}
	}
	a.Evaluator.EvaluateReading(ctx, reading)
}

func (a *API) handleClaim(w http.ResponseWriter, r *http.Request) {
	claimant := r.URL.Query().Get("worker")
	if claimant == "" {
		writeError(w, http.StatusBadRequest, "worker is required")
		return
	}
	d, ok := a.Queue.ClaimNextDelivery(r.Context(), claimant)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type ackRequest struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error"`
}

// handleAck applies an outcome on behalf of the worker that holds the claim.
// An acknowledgement from a worker whose claim has since expired is SKIPPED.
func (a *API) handleAck(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid delivery id")
		return
	}
	claimant := r.URL.Query().Get("worker")
	if claimant == "" {
		writeError(w, http.StatusBadRequest, "worker is required")
		return
	}

	var req ackRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := a.Queue.AcknowledgeDelivery(r.Context(), id, domain.Ack{Claimant: claimant, Outcome: outcome, Error: req.Error})
	writeJSON(w, http.StatusOK, map[string]string{"result": string(res)})
}
