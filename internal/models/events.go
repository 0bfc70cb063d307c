// internal/models/events.go
package models

import "time"

// EventType identifies a pipeline event published for UI/audit consumers.
type EventType string

const (
	EventStageChanged EventType = "stage.changed"
	EventJobCompleted EventType = "signing.job.completed"
	EventJobFailed    EventType = "signing.job.failed"
)

// PipelineEvent is the envelope published on every notable pipeline change.
type PipelineEvent struct {
	Type          EventType `json:"type"`
	ApplicationID string    `json:"applicationId"`
	JobID         string    `json:"jobId,omitempty"`
	FromStage     Stage     `json:"fromStage,omitempty"`
	ToStage       Stage     `json:"toStage,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}
