package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
)

// PostgreSQL error codes that mean "another transaction won, try again".
const (
	codeSerializationFailure pq.ErrorCode = "40001"
	codeDeadlockDetected     pq.ErrorCode = "40P01"
)

const (
	enqueueSQL = `
		INSERT INTO pending_deliveries
			(subscriber_id, severity, water_level, message, delivery_status, attempt_count)
		SELECT id, $1, $2, $3, 0, 0
		FROM subscribers
		WHERE is_active`

	lastSentSQL = `
		SELECT MAX(sent_at)
		FROM pending_deliveries
		WHERE severity = $1 AND delivery_status = 1`

	// FOR UPDATE without SKIP LOCKED: a second claimant blocks on the row and
	// fails serialization once the first commits.
	selectClaimableSQL = `
		SELECT id
		FROM pending_deliveries
		WHERE delivery_status = 0
		ORDER BY id
		LIMIT 1
		FOR UPDATE`

	markClaimedSQL = `
		UPDATE pending_deliveries
		SET delivery_status = 2, claimed_at = now(), claimed_by = $2
		WHERE id = $1`

	fetchClaimedSQL = `
		SELECT d.id, d.subscriber_id, d.severity, d.water_level, d.message,
		       d.delivery_status, d.attempt_count, d.claimed_at,
		       s.phone, s.is_active
		FROM pending_deliveries d
		LEFT JOIN subscribers s ON s.id = d.subscriber_id
		WHERE d.id = $1`

	ackSentSQL = `
		UPDATE pending_deliveries
		SET delivery_status = 1, sent_at = $3,
		    attempt_count = attempt_count + 1, error_message = NULL
		WHERE id = $1 AND delivery_status = 2 AND claimed_by = $2`

	ackRetrySQL = `
		UPDATE pending_deliveries
		SET delivery_status = CASE WHEN attempt_count + 1 >= $2 THEN 3 ELSE 0 END,
		    attempt_count = attempt_count + 1,
		    error_message = $3,
		    claimed_at = NULL,
		    claimed_by = NULL
		WHERE id = $1 AND delivery_status = 2 AND claimed_by = $4
		RETURNING delivery_status`

	ackFailedSQL = `
		UPDATE pending_deliveries
		SET delivery_status = 3, attempt_count = attempt_count + 1, error_message = $2
		WHERE id = $1 AND delivery_status = 2 AND claimed_by = $3`

	releaseStaleSQL = `
		UPDATE pending_deliveries
		SET delivery_status = CASE WHEN attempt_count + 1 >= $2 THEN 3 ELSE 0 END,
		    attempt_count = attempt_count + 1,
		    error_message = 'claim expired',
		    claimed_at = NULL,
		    claimed_by = NULL
		WHERE delivery_status = 2
		  AND claimed_at < now() - make_interval(secs => $1)`
)

// DeliveryStore is the pending_deliveries repository.
type DeliveryStore struct {
	db           *sql.DB
	maxAttempts  int
	claimRetries int
	retryBase    time.Duration
	clock        clockwork.Clock
}

// NewDeliveryStore creates a store. maxAttempts bounds how often a delivery is
// handed out before it is marked FAILED; claimRetries bounds how often a claim
// is retried after losing a serialization race.
func NewDeliveryStore(db *sql.DB, maxAttempts, claimRetries int) *DeliveryStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if claimRetries < 0 {
		claimRetries = 0
	}
	return &DeliveryStore{
		db:           db,
		maxAttempts:  maxAttempts,
		claimRetries: claimRetries,
		retryBase:    5 * time.Millisecond,
		clock:        clockwork.NewRealClock(),
	}
}

// WithClock sets the clock used to stamp sent_at. The cooldown gate must read
// time from the same clock, otherwise skew between hosts shifts the window.
func (s *DeliveryStore) WithClock(c clockwork.Clock) *DeliveryStore {
	if c != nil {
		s.clock = c
	}
	return s
}

// EnqueueAlert creates one PENDING delivery per active subscriber in a single
// statement and returns the number of rows created.
func (s *DeliveryStore) EnqueueAlert(ctx context.Context, alert domain.Alert) (int, error) {
	res, err := s.db.ExecContext(ctx, enqueueSQL,
		alert.Severity.String(),
		int64(math.Round(alert.Level)),
		alert.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s alert: %w", alert.Severity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("enqueue rows affected: %w", err)
	}
	return int(n), nil
}

// LastSentAt returns the most recent sent_at of a SENT delivery of the tier,
// across all locations.
func (s *DeliveryStore) LastSentAt(ctx context.Context, severity domain.Severity) (time.Time, bool, error) {
	var last sql.NullTime
	if err := s.db.QueryRowContext(ctx, lastSentSQL, severity.String()).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("query last sent: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time, true, nil
}

// ClaimNext moves the lowest-id PENDING delivery to CLAIMED on behalf of
// claimant and returns it. ok is false when nothing is pending. A delivery
// whose subscriber has been deactivated is still claimed and returned with
// Deliverable set to false.
func (s *DeliveryStore) ClaimNext(ctx context.Context, claimant string) (domain.Delivery, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= s.claimRetries; attempt++ {
		if attempt > 0 && !s.waitRetry(ctx, attempt) {
			return domain.Delivery{}, false, ctx.Err()
		}

		id, ok, err := s.claimOnce(ctx, claimant)
		if err != nil {
			if isRetryable(err) {
				lastErr = err
				continue
			}
			return domain.Delivery{}, false, err
		}
		if !ok {
			return domain.Delivery{}, false, nil
		}

		d, err := s.fetchClaimed(ctx, id)
		if err != nil {
			return domain.Delivery{}, false, err
		}
		return d, true, nil
	}
	return domain.Delivery{}, false, fmt.Errorf("%w: %w", domain.ErrClaimContention, lastErr)
}

// claimOnce runs the lock-then-transition transaction. Any failure rolls the
// whole transaction back.
func (s *DeliveryStore) claimOnce(ctx context.Context, claimant string) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, false, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, selectClaimableSQL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("commit empty claim: %w", err)
		}
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select claimable: %w", err)
	}

	if _, err := tx.ExecContext(ctx, markClaimedSQL, id, claimant); err != nil {
		return 0, false, fmt.Errorf("mark delivery %d claimed: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit claim of %d: %w", id, err)
	}
	return id, true, nil
}

func (s *DeliveryStore) fetchClaimed(ctx context.Context, id int64) (domain.Delivery, error) {
	var (
		d         domain.Delivery
		severity  string
		claimedAt sql.NullTime
		phone     sql.NullString
		active    sql.NullBool
	)
	err := s.db.QueryRowContext(ctx, fetchClaimedSQL, id).Scan(
		&d.ID, &d.SubscriberID, &severity, &d.WaterLevel, &d.Message,
		&d.Status, &d.AttemptCount, &claimedAt,
		&phone, &active,
	)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("fetch claimed delivery %d: %w", id, err)
	}

	sev, err := domain.ParseSeverity(severity)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("delivery %d: %w", id, err)
	}
	d.Severity = sev
	if claimedAt.Valid {
		d.ClaimedAt = claimedAt.Time
	}
	d.Deliverable = active.Valid && active.Bool && phone.Valid && phone.String != ""
	if d.Deliverable {
		d.Phone = phone.String
	}
	return d, nil
}

// Acknowledge applies a dispatcher's outcome to a CLAIMED delivery. A delivery
// that is not CLAIMED, or whose current claim belongs to another claimant, is
// left untouched and reported as SKIPPED.
func (s *DeliveryStore) Acknowledge(ctx context.Context, id int64, ack domain.Ack) (domain.AckResult, error) {
	switch ack.Outcome {
	case domain.OutcomeSent:
		return s.execAck(ctx, domain.AckSent, ackSentSQL, id, ack.Claimant, s.clock.Now().UTC())

	case domain.OutcomeFailed:
		return s.execAck(ctx, domain.AckFailed, ackFailedSQL, id, nullString(ack.Error), ack.Claimant)

	case domain.OutcomeRetry:
		var status domain.DeliveryStatus
		err := s.db.QueryRowContext(ctx, ackRetrySQL, id, s.maxAttempts, nullString(ack.Error), ack.Claimant).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AckSkipped, nil
		}
		if err != nil {
			return domain.AckSkipped, fmt.Errorf("release delivery %d: %w", id, err)
		}
		if status == domain.StatusFailed {
			return domain.AckFailed, nil
		}
		return domain.AckReleased, nil

	default:
		return domain.AckSkipped, fmt.Errorf("unknown outcome %q", ack.Outcome)
	}
}

func (s *DeliveryStore) execAck(ctx context.Context, onSuccess domain.AckResult, query string, args ...any) (domain.AckResult, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.AckSkipped, fmt.Errorf("acknowledge delivery %v: %w", args[0], err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.AckSkipped, fmt.Errorf("acknowledge rows affected: %w", err)
	}
	if n == 0 {
		return domain.AckSkipped, nil
	}
	return onSuccess, nil
}

// ReleaseStale returns CLAIMED deliveries whose claim is older than olderThan
// to PENDING, or to FAILED once their attempt budget is spent.
func (s *DeliveryStore) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, releaseStaleSQL, olderThan.Seconds(), s.maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release stale rows affected: %w", err)
	}
	return int(n), nil
}

// waitRetry sleeps a jittered, linearly growing delay. Returns false if the
// context ended first.
func (s *DeliveryStore) waitRetry(ctx context.Context, attempt int) bool {
	d := s.retryBase * time.Duration(attempt)
	if d > 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	d += rand.N(s.retryBase)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
