package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-alert-service/internal/adapter/postgres"
	"github.com/couchcryptid/flood-alert-service/internal/domain"
)

func setupMockStore(t *testing.T, claimRetries int) (sqlmock.Sqlmock, *postgres.DeliveryStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return mock, postgres.NewDeliveryStore(db, 3, claimRetries)
}

var claimedColumns = []string{
	"id", "subscriber_id", "severity", "water_level", "message",
	"delivery_status", "attempt_count", "claimed_at", "phone", "is_active",
}

func TestEnqueueAlert_InsertsPerActiveSubscriber(t *testing.T) {
	mock, store := setupMockStore(t, 0)

	mock.ExpectExec(`INSERT INTO pending_deliveries .* FROM subscribers\s+WHERE is_active`).
		WithArgs("DANGER", int64(65), "DANGER: water level at river-03 is 65cm.").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.EnqueueAlert(context.Background(), domain.Alert{
		LocationID: "river-03",
		Severity:   domain.SeverityDanger,
		Level:      64.6,
		Message:    "DANGER: water level at river-03 is 65cm.",
	})

	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueAlert_Error(t *testing.T) {
	mock, store := setupMockStore(t, 0)

	mock.ExpectExec(`INSERT INTO pending_deliveries`).
		WillReturnError(errors.New("connection reset"))

	n, err := store.EnqueueAlert(context.Background(), domain.Alert{Severity: domain.SeverityCaution})

	require.Error(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSentAt(t *testing.T) {
	t.Run("no history", func(t *testing.T) {
		mock, store := setupMockStore(t, 0)
		mock.ExpectQuery(`SELECT MAX\(sent_at\)`).
			WithArgs("WARNING").
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

		_, ok, err := store.LastSentAt(context.Background(), domain.SeverityWarning)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("latest sent", func(t *testing.T) {
		mock, store := setupMockStore(t, 0)
		sent := time.Date(2026, time.October, 17, 11, 55, 0, 0, time.UTC)
		mock.ExpectQuery(`SELECT MAX\(sent_at\) .* delivery_status = 1`).
			WithArgs("EMERGENCY").
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(sent))

		got, ok, err := store.LastSentAt(context.Background(), domain.SeverityEmergency)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, sent, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestClaimNext_Empty(t *testing.T) {
	mock, store := setupMockStore(t, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id\s+FROM pending_deliveries\s+WHERE delivery_status = 0 .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	_, ok, err := store.ClaimNext(context.Background(), "worker-1")

	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNext_ClaimsLowestPending(t *testing.T) {
	mock, store := setupMockStore(t, 0)
	claimedAt := time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`ORDER BY id\s+LIMIT 1\s+FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec(`UPDATE pending_deliveries\s+SET delivery_status = 2`).
		WithArgs(int64(42), "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`LEFT JOIN subscribers`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(claimedColumns).AddRow(
			int64(42), int64(7), "WARNING", int64(45), "WARNING: water level at river-03 is 45cm.",
			int64(2), int64(0), claimedAt, "+15550100", true,
		))

	d, ok, err := store.ClaimNext(context.Background(), "worker-1")

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), d.ID)
	assert.Equal(t, int64(7), d.SubscriberID)
	assert.Equal(t, domain.SeverityWarning, d.Severity)
	assert.InDelta(t, 45.0, d.WaterLevel, 0)
	assert.Equal(t, domain.StatusClaimed, d.Status)
	assert.Equal(t, "+15550100", d.Phone)
	assert.True(t, d.Deliverable)
	assert.Equal(t, claimedAt, d.ClaimedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNext_InactiveSubscriberNotDeliverable(t *testing.T) {
	mock, store := setupMockStore(t, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectExec(`SET delivery_status = 2`).
		WithArgs(int64(9), "worker-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`LEFT JOIN subscribers`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(claimedColumns).AddRow(
			int64(9), int64(3), "CAUTION", int64(22), "ALERT", int64(2), int64(1), time.Now(), "+15550101", false,
		))

	d, ok, err := store.ClaimNext(context.Background(), "worker-2")

	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, d.Deliverable)
	assert.Empty(t, d.Phone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNext_RetriesSerializationFailure(t *testing.T) {
	mock, store := setupMockStore(t, 2)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	_, ok, err := store.ClaimNext(context.Background(), "worker-1")

	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNext_ContentionExhausted(t *testing.T) {
	mock, store := setupMockStore(t, 1)

	for range 2 {
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
		mock.ExpectExec(`SET delivery_status = 2`).
			WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
		mock.ExpectRollback()
	}

	_, ok, err := store.ClaimNext(context.Background(), "worker-1")

	require.ErrorIs(t, err, domain.ErrClaimContention)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNext_OtherErrorNotRetried(t *testing.T) {
	mock, store := setupMockStore(t, 5)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, ok, err := store.ClaimNext(context.Background(), "worker-1")

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrClaimContention)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_SentThenSkipped(t *testing.T) {
	mock, store := setupMockStore(t, 0)
	sentAt := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	store.WithClock(clockwork.NewFakeClockAt(sentAt))

	mock.ExpectExec(`SET delivery_status = 1, sent_at = \$3.*claimed_by = \$2`).
		WithArgs(int64(11), "worker-1", sentAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET delivery_status = 1, sent_at = \$3.*claimed_by = \$2`).
		WithArgs(int64(11), "worker-1", sentAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := store.Acknowledge(context.Background(), 11, domain.Ack{Claimant: "worker-1", Outcome: domain.OutcomeSent})
	require.NoError(t, err)
	second, err := store.Acknowledge(context.Background(), 11, domain.Ack{Claimant: "worker-1", Outcome: domain.OutcomeSent})
	require.NoError(t, err)

	assert.Equal(t, domain.AckSent, first)
	assert.Equal(t, domain.AckSkipped, second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_Retry(t *testing.T) {
	tests := []struct {
		name string
		rows *sqlmock.Rows
		want domain.AckResult
	}{
		{name: "released", rows: sqlmock.NewRows([]string{"delivery_status"}).AddRow(int64(0)), want: domain.AckReleased},
		{name: "budget spent", rows: sqlmock.NewRows([]string{"delivery_status"}).AddRow(int64(3)), want: domain.AckFailed},
		{name: "not claimed", rows: sqlmock.NewRows([]string{"delivery_status"}), want: domain.AckSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, store := setupMockStore(t, 0)
			mock.ExpectQuery(`RETURNING delivery_status`).
				WithArgs(int64(8), 3, "gateway timeout", "worker-1").
				WillReturnRows(tt.rows)

			got, err := store.Acknowledge(context.Background(), 8, domain.Ack{Claimant: "worker-1", Outcome: domain.OutcomeRetry, Error: "gateway timeout"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAcknowledge_Failed(t *testing.T) {
	mock, store := setupMockStore(t, 0)

	mock.ExpectExec(`SET delivery_status = 3`).
		WithArgs(int64(8), "subscriber inactive", "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := store.Acknowledge(context.Background(), 8, domain.Ack{Claimant: "worker-1", Outcome: domain.OutcomeFailed, Error: "subscriber inactive"})
	require.NoError(t, err)
	assert.Equal(t, domain.AckFailed, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

// After a sweep and a reclaim, the row's claimed_by no longer matches the
// original claimant, so its late acknowledgement matches no row.
func TestAcknowledge_ExpiredClaimantIsSkipped(t *testing.T) {
	tests := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
		ack    domain.Ack
	}{
		{
			name: "sent",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`AND delivery_status = 2 AND claimed_by = \$2`).
					WithArgs(int64(5), "slow-poller", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			ack: domain.Ack{Claimant: "slow-poller", Outcome: domain.OutcomeSent},
		},
		{
			name: "retry",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`AND delivery_status = 2 AND claimed_by = \$4`).
					WithArgs(int64(5), 3, "timeout", "slow-poller").
					WillReturnRows(sqlmock.NewRows([]string{"delivery_status"}))
			},
			ack: domain.Ack{Claimant: "slow-poller", Outcome: domain.OutcomeRetry, Error: "timeout"},
		},
		{
			name: "failed",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`AND delivery_status = 2 AND claimed_by = \$3`).
					WithArgs(int64(5), "bad number", "slow-poller").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			ack: domain.Ack{Claimant: "slow-poller", Outcome: domain.OutcomeFailed, Error: "bad number"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, store := setupMockStore(t, 0)
			tt.expect(mock)

			got, err := store.Acknowledge(context.Background(), 5, tt.ack)
			require.NoError(t, err)
			assert.Equal(t, domain.AckSkipped, got)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAcknowledge_StorageErrorIsSkipped(t *testing.T) {
	mock, store := setupMockStore(t, 0)

	mock.ExpectExec(`SET delivery_status = 1`).
		WillReturnError(sql.ErrConnDone)

	got, err := store.Acknowledge(context.Background(), 8, domain.Ack{Outcome: domain.OutcomeSent})
	require.Error(t, err)
	assert.Equal(t, domain.AckSkipped, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge_UnknownOutcome(t *testing.T) {
	mock, store := setupMockStore(t, 0)

	got, err := store.Acknowledge(context.Background(), 8, domain.Ack{Outcome: "lost"})
	require.Error(t, err)
	assert.Equal(t, domain.AckSkipped, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseStale(t *testing.T) {
	mock, store := setupMockStore(t, 0)

	mock.ExpectExec(`error_message = 'claim expired'`).
		WithArgs(float64(300), 3).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.ReleaseStale(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
