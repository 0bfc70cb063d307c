// internal/models/webhook.go
package models

import "time"

// EventStatus is the processing state of a persisted webhook event.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventProcessed EventStatus = "processed"
	EventError     EventStatus = "error"
)

// WebhookEvent stores provider callbacks with deduplication metadata. The
// provider-supplied event id is the uniqueness key; the row is persisted
// before any side effect runs.
type WebhookEvent struct {
	ProviderEventID string      `json:"providerEventId"`
	EventType       string      `json:"eventType"`
	Payload         []byte      `json:"payload"`
	Status          EventStatus `json:"status"`
	ProcessingError string      `json:"processingError,omitempty"`
	ReceivedAt      time.Time   `json:"receivedAt"`
	ProcessedAt     *time.Time  `json:"processedAt,omitempty"`
}
