// internal/webhook/store_test.go
package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/models"
)

func newMockEventStore(t *testing.T) (*EventStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEventStore(db), mock
}

func TestEventStore_Insert_FirstDelivery(t *testing.T) {
	store, mock := newMockEventStore(t)

	mock.ExpectQuery(`INSERT INTO webhook_events`).
		WithArgs("evt-1", EventDocumentCompleted, []byte(`{}`), "pending", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"provider_event_id"}).AddRow("evt-1"))

	inserted, err := store.Insert(context.Background(), &models.WebhookEvent{
		ProviderEventID: "evt-1",
		EventType:       EventDocumentCompleted,
		Payload:         []byte(`{}`),
		Status:          models.EventPending,
		ReceivedAt:      time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_Insert_DuplicateDelivery(t *testing.T) {
	store, mock := newMockEventStore(t)

	// ON CONFLICT DO NOTHING returns no row for a replay.
	mock.ExpectQuery(`INSERT INTO webhook_events`).
		WillReturnRows(sqlmock.NewRows([]string{"provider_event_id"}))

	inserted, err := store.Insert(context.Background(), &models.WebhookEvent{
		ProviderEventID: "evt-1",
		EventType:       EventDocumentCompleted,
		Payload:         []byte(`{}`),
		Status:          models.EventPending,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestEventStore_Insert_Error(t *testing.T) {
	store, mock := newMockEventStore(t)

	mock.ExpectQuery(`INSERT INTO webhook_events`).
		WillReturnError(errors.New("connection refused"))

	_, err := store.Insert(context.Background(), &models.WebhookEvent{ProviderEventID: "evt-1"})
	assert.Equal(t, apperrors.ErrCodeDatabaseFailure, apperrors.CodeOf(err))
}

func TestEventStore_MarkProcessed(t *testing.T) {
	store, mock := newMockEventStore(t)

	mock.ExpectExec(`UPDATE webhook_events`).
		WithArgs("evt-1", "processed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkProcessed(context.Background(), "evt-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_MarkError(t *testing.T) {
	store, mock := newMockEventStore(t)

	mock.ExpectExec(`UPDATE webhook_events`).
		WithArgs("evt-1", "error", "job lookup failed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkError(context.Background(), "evt-1", errors.New("job lookup failed")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_ListUnprocessed(t *testing.T) {
	store, mock := newMockEventStore(t)

	received := time.Now().UTC().Add(-time.Minute)
	mock.ExpectQuery(`FROM webhook_events`).
		WithArgs("pending", "error", sqlmock.AnyArg(), 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"provider_event_id", "event_type", "payload", "status", "processing_error", "received_at", "processed_at",
		}).
			AddRow("evt-1", EventDocumentCompleted, []byte(`{}`), "pending", "", received, nil).
			AddRow("evt-2", EventDocumentDeclined, []byte(`{}`), "error", "job lookup failed", received, nil))

	events, err := store.ListUnprocessed(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventPending, events[0].Status)
	assert.Equal(t, "job lookup failed", events[1].ProcessingError)
}
