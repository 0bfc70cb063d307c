// internal/webhook/store.go
package webhook

import (
	"context"
	"database/sql"
	"time"

	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/models"
)

// EventStore persists webhook events keyed by the provider's event id.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Insert stores the event if its provider event id has not been seen before.
// Returns false without error for a duplicate, so a replayed delivery is
// detected in the same statement that persists a first delivery.
func (s *EventStore) Insert(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO webhook_events (provider_event_id, event_type, payload, status, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_event_id) DO NOTHING
		RETURNING provider_event_id`,
		event.ProviderEventID, event.EventType, event.Payload, string(event.Status), event.ReceivedAt.UTC(),
	).Scan(&event.ProviderEventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, apperrors.NewDatabaseError("insert webhook event", err)
	}
	return true, nil
}

// MarkProcessed records a successful dispatch.
func (s *EventStore) MarkProcessed(ctx context.Context, providerEventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $2, processing_error = '', processed_at = $3
		WHERE provider_event_id = $1`,
		providerEventID, string(models.EventProcessed), time.Now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("mark webhook event processed", err)
	}
	return nil
}

// MarkError records a failed dispatch. The event stays eligible for the
// reconciliation sweep.
func (s *EventStore) MarkError(ctx context.Context, providerEventID string, cause error) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $2, processing_error = $3
		WHERE provider_event_id = $1`,
		providerEventID, string(models.EventError), cause.Error())
	if err != nil {
		return apperrors.NewDatabaseError("mark webhook event errored", err)
	}
	return nil
}

// ListUnprocessed returns events still pending or errored, oldest first.
func (s *EventStore) ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]*models.WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_event_id, event_type, payload, status, COALESCE(processing_error, ''), received_at, processed_at
		FROM webhook_events
		WHERE status IN ($1, $2) AND received_at < $3
		ORDER BY received_at
		LIMIT $4`,
		string(models.EventPending), string(models.EventError), olderThan.UTC(), limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list unprocessed webhook events", err)
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		var e models.WebhookEvent
		var status string
		if err := rows.Scan(&e.ProviderEventID, &e.EventType, &e.Payload, &status, &e.ProcessingError, &e.ReceivedAt, &e.ProcessedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan webhook event", err)
		}
		e.Status = models.EventStatus(status)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list unprocessed webhook events", err)
	}
	return events, nil
}
