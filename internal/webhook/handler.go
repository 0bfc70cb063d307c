// internal/webhook/handler.go
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/common/logger"
	"loanflow/internal/common/metrics"
	"loanflow/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

const (
	EventDocumentCompleted = "document.completed"
	EventDocumentDeclined  = "document.declined"
	EventDocumentExpired   = "document.expired"
)

// payloadSchema is the contract the signing provider's callbacks must meet
// before any event is persisted.
const payloadSchema = `{
	"type": "object",
	"required": ["eventId", "eventType", "documentId"],
	"properties": {
		"eventId": {"type": "string", "minLength": 1},
		"eventType": {"type": "string", "minLength": 1},
		"documentId": {"type": "string", "minLength": 1},
		"signedDocumentUrl": {"type": "string"},
		"reason": {"type": "string"}
	}
}`

type payload struct {
	EventID           string `json:"eventId"`
	EventType         string `json:"eventType"`
	DocumentID        string `json:"documentId"`
	SignedDocumentURL string `json:"signedDocumentUrl"`
	Reason            string `json:"reason"`
}

// EventRecorder is the persistence surface deliveries are written through.
// *EventStore is the production implementation.
type EventRecorder interface {
	Insert(ctx context.Context, event *models.WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, providerEventID string) error
	MarkError(ctx context.Context, providerEventID string, cause error) error
}

// JobResolver maps a provider document id back to the signing job it belongs
// to.
type JobResolver interface {
	GetByProviderDocument(ctx context.Context, providerDocumentID string) (*models.SigningJob, error)
}

// JobFinalizer is the orchestrator surface the handler drives.
type JobFinalizer interface {
	Complete(ctx context.Context, jobID, providerDocumentRef string) error
	Fail(ctx context.Context, jobID, reason string) error
}

// Result tells the transport layer how to respond. Receive only returns an
// error when the event was NOT persisted; once a row exists the delivery is
// acknowledged regardless of processing outcome, and failures are left for
// the sweep.
type Result struct {
	ProviderEventID string
	Duplicate       bool
	Processed       bool
}

// Handler ingests signing provider callbacks: verify, persist, then process.
type Handler struct {
	secret    string
	events    EventRecorder
	jobs      JobResolver
	finalizer JobFinalizer
	schema    *gojsonschema.Schema
	logger    logger.Logger
}

func NewHandler(secret string, events EventRecorder, jobs JobResolver, finalizer JobFinalizer, log logger.Logger) (*Handler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(payloadSchema))
	if err != nil {
		return nil, apperrors.NewConfigurationError("invalid webhook payload schema: " + err.Error())
	}
	return &Handler{
		secret:    secret,
		events:    events,
		jobs:      jobs,
		finalizer: finalizer,
		schema:    schema,
		logger:    log.WithFields(map[string]interface{}{"component": "webhook-handler"}),
	}, nil
}

// Receive handles one provider delivery against the raw request body.
func (h *Handler) Receive(ctx context.Context, body []byte, signatureHeader string) (*Result, error) {
	if !VerifySignature(h.secret, body, signatureHeader) {
		metrics.WebhookEvents.WithLabelValues("unauthorized").Inc()
		return nil, apperrors.NewWebhookUnauthorizedError()
	}

	p, err := h.parse(body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("invalid").Inc()
		return nil, err
	}

	event := &models.WebhookEvent{
		ProviderEventID: p.EventID,
		EventType:       p.EventType,
		Payload:         body,
		Status:          models.EventPending,
		ReceivedAt:      time.Now().UTC(),
	}
	inserted, err := h.events.Insert(ctx, event)
	if err != nil {
		return nil, err
	}
	if !inserted {
		metrics.WebhookEvents.WithLabelValues("duplicate").Inc()
		h.logger.Info("duplicate webhook delivery ignored", map[string]interface{}{
			"providerEventId": p.EventID,
			"eventType":       p.EventType,
		})
		return &Result{ProviderEventID: p.EventID, Duplicate: true}, nil
	}

	// The event is durable from here on. Processing failures are recorded
	// and retried by the sweep, never surfaced to the provider.
	processed := h.process(ctx, p)
	metrics.WebhookEvents.WithLabelValues("received").Inc()
	return &Result{ProviderEventID: p.EventID, Processed: processed}, nil
}

func (h *Handler) parse(body []byte) (*payload, error) {
	check, err := h.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, apperrors.NewValidationError("webhook payload is not valid JSON")
	}
	if !check.Valid() {
		detail := "webhook payload rejected"
		if errs := check.Errors(); len(errs) > 0 {
			detail = fmt.Sprintf("webhook payload rejected: %s", errs[0].String())
		}
		return nil, apperrors.NewValidationError(detail)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperrors.NewValidationError("webhook payload is not valid JSON")
	}
	return &p, nil
}

func (h *Handler) process(ctx context.Context, p *payload) bool {
	if err := h.dispatch(ctx, p); err != nil {
		h.logger.WithError(err).Error("webhook processing failed", map[string]interface{}{
			"providerEventId": p.EventID,
			"eventType":       p.EventType,
		})
		if markErr := h.events.MarkError(ctx, p.EventID, err); markErr != nil {
			h.logger.WithError(markErr).Error("failed to record webhook processing error", nil)
		}
		return false
	}
	if err := h.events.MarkProcessed(ctx, p.EventID); err != nil {
		h.logger.WithError(err).Error("failed to mark webhook event processed", nil)
	}
	return true
}

func (h *Handler) dispatch(ctx context.Context, p *payload) error {
	switch p.EventType {
	case EventDocumentCompleted, EventDocumentDeclined, EventDocumentExpired:
	default:
		// Unknown event types are persisted and acknowledged but not acted
		// on, so a provider adding event kinds does not break ingestion.
		// They never reach the job lookup.
		h.logger.Warn("unhandled webhook event type", map[string]interface{}{
			"eventType": p.EventType,
		})
		return nil
	}

	job, err := h.jobs.GetByProviderDocument(ctx, p.DocumentID)
	if err != nil {
		return err
	}

	switch p.EventType {
	case EventDocumentCompleted:
		ref := p.SignedDocumentURL
		if ref == "" {
			ref = p.DocumentID
		}
		return h.finalizer.Complete(ctx, job.ID, ref)
	case EventDocumentDeclined, EventDocumentExpired:
		reason := p.Reason
		if reason == "" {
			reason = p.EventType
		}
		return h.finalizer.Fail(ctx, job.ID, reason)
	}
	return nil
}
