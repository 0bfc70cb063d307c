// internal/models/signing.go
package models

import "time"

// JobStatus is the lifecycle state of a signing job.
type JobStatus string

const (
	JobQueued           JobStatus = "queued"
	JobSubmitted        JobStatus = "submitted"
	JobAwaitingCallback JobStatus = "awaiting_callback"
	JobCompleted        JobStatus = "completed"
	JobFailed           JobStatus = "failed"
	JobCancelled        JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Active is the inverse of Terminal. At most one active job may exist per
// application.
func (s JobStatus) Active() bool {
	return !s.Terminal()
}

// SigningJob tracks one attempt to get an application's document signed via
// the external provider.
type SigningJob struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	Status        JobStatus `json:"status"`
	Attempts      int       `json:"attempts"`
	NotBefore     time.Time `json:"notBefore"`

	ProviderDocumentID string `json:"providerDocumentId,omitempty"`
	SignedDocumentRef  string `json:"signedDocumentRef,omitempty"`
	LastError          string `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
