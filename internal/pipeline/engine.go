// internal/pipeline/engine.go
package pipeline

import (
	"context"
	"fmt"
	"time"

	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/common/locks"
	"loanflow/internal/common/logger"
	"loanflow/internal/common/metrics"
	"loanflow/internal/models"
)

// DocumentLedger is the read-only view over an application's documents.
// External collaborator.
type DocumentLedger interface {
	ListByApplication(ctx context.Context, applicationID string) ([]models.DocumentRecord, error)
}

// ApplicationStore is the narrow slice of the CRUD layer the engine writes
// through: stage and the explicit trigger flags only.
type ApplicationStore interface {
	Get(ctx context.Context, applicationID string) (*models.Application, error)
	// UpdateStage is a compare-and-set: the write only lands while the row
	// is still in the from stage, so a stale evaluation can never clobber a
	// transition made by another process.
	UpdateStage(ctx context.Context, applicationID string, from, to models.Stage) error
	SetBypassUpload(ctx context.Context, applicationID string) error
	SetSentToLender(ctx context.Context, applicationID string) error
	SetLenderDecision(ctx context.Context, applicationID string, accepted bool) error
}

// EventPublisher delivers pipeline events to UI/audit consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event models.PipelineEvent) error
}

// NotificationSender delivers fire-and-forget staff/client notifications.
type NotificationSender interface {
	Notify(ctx context.Context, applicationID, channel, templateKey string) error
}

// Evaluation is the result of a stage computation.
type Evaluation struct {
	CurrentStage   models.Stage          `json:"currentStage"`
	SuggestedStage models.Stage          `json:"suggestedStage"`
	NeedsUpdate    bool                  `json:"needsUpdate"`
	Reason         string                `json:"reason"`
	DocumentStats  models.DocumentStats  `json:"documentStats"`
	MissingTypes   []models.DocumentType `json:"missingTypes,omitempty"`
	RejectedTypes  []models.DocumentType `json:"rejectedTypes,omitempty"`
}

// Engine computes and applies pipeline stage transitions. Evaluate is a pure
// read; Apply performs the transition and emits a StageChanged event. Apply
// and the explicit triggers serialize per application through a keyed mutex
// so an in-flight evaluation and a staff trigger never interleave.
type Engine struct {
	apps         ApplicationStore
	ledger       DocumentLedger
	requirements *Resolver
	publisher    EventPublisher
	notifier     NotificationSender
	locks        *locks.KeyedMutex
	logger       logger.Logger
}

func NewEngine(apps ApplicationStore, ledger DocumentLedger, requirements *Resolver, publisher EventPublisher, notifier NotificationSender, log logger.Logger) *Engine {
	return &Engine{
		apps:         apps,
		ledger:       ledger,
		requirements: requirements,
		publisher:    publisher,
		notifier:     notifier,
		locks:        locks.NewKeyedMutex(),
		logger:       log.WithFields(map[string]interface{}{"component": "stage-engine"}),
	}
}

// Evaluate computes the target stage for an application from its document
// ledger. It never fails on missing data: absent documents simply count as
// not satisfied.
func (e *Engine) Evaluate(ctx context.Context, applicationID string) (*Evaluation, error) {
	app, err := e.apps.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, apperrors.NewNotFoundError("application", applicationID)
	}

	docs, err := e.ledger.ListByApplication(ctx, applicationID)
	if err != nil {
		// Degrade to an empty ledger rather than failing the evaluation.
		e.logger.WithError(err).Warn("document ledger unavailable, evaluating with empty ledger", map[string]interface{}{
			"applicationId": applicationID,
		})
		docs = nil
	}

	required := e.requirements.RequiredTypes(ctx, applicationID)
	eval := computeStage(app, docs, required)

	metrics.StageEvaluations.WithLabelValues(string(eval.SuggestedStage)).Inc()
	return eval, nil
}

// computeStage is the pure stage function. Tie-break when judging the
// requirement set: rejected beats pending beats accepted; any non-accepted
// required document keeps the application out of in_review. Documents whose
// type is outside the requirement set still count toward stats but not toward
// stage.
func computeStage(app *models.Application, docs []models.DocumentRecord, required []models.DocumentType) *Evaluation {
	eval := &Evaluation{CurrentStage: app.Stage}

	for _, d := range docs {
		eval.DocumentStats.Total++
		switch d.Status {
		case models.DocStatusAccepted:
			eval.DocumentStats.Accepted++
		case models.DocStatusRejected:
			eval.DocumentStats.Rejected++
		default:
			eval.DocumentStats.Pending++
		}
	}

	// Lender triggers dominate document state.
	if app.Stage.Terminal() {
		eval.SuggestedStage = app.Stage
		eval.Reason = "lender decision recorded"
		return eval
	}
	if app.SentToLender {
		eval.SuggestedStage = models.StageOffToLender
		eval.Reason = "application sent to lender"
		eval.NeedsUpdate = eval.SuggestedStage != eval.CurrentStage
		return eval
	}

	best := make(map[models.DocumentType]models.DocumentStatus, len(required))
	for _, d := range docs {
		prev, seen := best[d.DocumentType]
		if !seen || statusSeverity(d.Status) > statusSeverity(prev) {
			best[d.DocumentType] = d.Status
		}
	}

	for _, t := range required {
		status, present := best[t]
		if !present {
			eval.MissingTypes = append(eval.MissingTypes, t)
			continue
		}
		if status == models.DocStatusRejected {
			eval.RejectedTypes = append(eval.RejectedTypes, t)
		}
	}

	satisfied := len(eval.MissingTypes) == 0 && len(eval.RejectedTypes) == 0
	if satisfied {
		for _, t := range required {
			if best[t] != models.DocStatusAccepted {
				satisfied = false
				break
			}
		}
	}

	switch {
	case satisfied:
		eval.SuggestedStage = models.StageInReview
		eval.Reason = "all required documents accepted"
	case eval.DocumentStats.Total == 0 && !app.BypassUpload:
		eval.SuggestedStage = models.StageNew
		eval.Reason = "no documents uploaded"
	default:
		eval.SuggestedStage = models.StageRequiresDocs
		eval.Reason = requiresDocsReason(eval)
	}

	// off_to_lender is only ever entered by the explicit trigger; a stale
	// document change never pulls an application back from the lender.
	if app.Stage == models.StageOffToLender {
		eval.SuggestedStage = models.StageOffToLender
		eval.Reason = "awaiting lender response"
	}

	eval.NeedsUpdate = eval.SuggestedStage != eval.CurrentStage
	return eval
}

// statusSeverity orders review outcomes for the tie-break: rejected beats
// pending beats accepted.
func statusSeverity(s models.DocumentStatus) int {
	switch s {
	case models.DocStatusRejected:
		return 2
	case models.DocStatusPending:
		return 1
	default:
		return 0
	}
}

func requiresDocsReason(eval *Evaluation) string {
	switch {
	case len(eval.RejectedTypes) > 0:
		return fmt.Sprintf("%d required document type(s) rejected", len(eval.RejectedTypes))
	case len(eval.MissingTypes) > 0:
		return fmt.Sprintf("%d required document type(s) missing", len(eval.MissingTypes))
	default:
		return "required documents pending review"
	}
}

// Apply evaluates and, when the suggested stage differs from the current one,
// performs the transition and publishes StageChanged. Re-applying with no
// difference is a no-op, which makes Apply idempotent. When the guarded stage
// write reports the row moved underneath the evaluation, the stale result is
// discarded and the application is re-evaluated from its new stage.
func (e *Engine) Apply(ctx context.Context, applicationID string) (*Evaluation, error) {
	unlock := e.locks.Lock(applicationID)
	defer unlock()

	eval, err := e.Evaluate(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	if !eval.NeedsUpdate {
		return eval, nil
	}

	if err := e.transition(ctx, applicationID, eval.CurrentStage, eval.SuggestedStage, eval.Reason); err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrCodeStageTransitionInvalid {
			e.logger.Warn("discarding stale evaluation, stage changed concurrently", map[string]interface{}{
				"applicationId": applicationID,
				"suggested":     string(eval.SuggestedStage),
			})
			return e.Evaluate(ctx, applicationID)
		}
		return nil, err
	}
	return eval, nil
}

func (e *Engine) transition(ctx context.Context, applicationID string, from, to models.Stage, reason string) error {
	if err := e.apps.UpdateStage(ctx, applicationID, from, to); err != nil {
		return err
	}

	metrics.StageTransitions.WithLabelValues(string(from), string(to)).Inc()
	e.logger.Info("stage transition applied", map[string]interface{}{
		"applicationId": applicationID,
		"from":          string(from),
		"to":            string(to),
		"reason":        reason,
	})

	event := models.PipelineEvent{
		Type:          models.EventStageChanged,
		ApplicationID: applicationID,
		FromStage:     from,
		ToStage:       to,
		Reason:        reason,
		OccurredAt:    time.Now().UTC(),
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		// Event delivery is best-effort; the transition already happened.
		e.logger.WithError(err).Warn("failed to publish stage change", map[string]interface{}{
			"applicationId": applicationID,
		})
	}
	return nil
}

// SendToLender is the explicit staff trigger moving in_review to off_to_lender.
func (e *Engine) SendToLender(ctx context.Context, applicationID string) error {
	unlock := e.locks.Lock(applicationID)
	defer unlock()

	app, err := e.apps.Get(ctx, applicationID)
	if err != nil {
		return err
	}
	if app == nil {
		return apperrors.NewNotFoundError("application", applicationID)
	}
	if app.Stage != models.StageInReview {
		return apperrors.NewStageTransitionError(string(app.Stage), string(models.StageOffToLender))
	}

	if err := e.apps.SetSentToLender(ctx, applicationID); err != nil {
		return err
	}
	return e.transition(ctx, applicationID, app.Stage, models.StageOffToLender, "application sent to lender")
}

// RecordLenderDecision is the explicit trigger moving off_to_lender to a
// terminal stage.
func (e *Engine) RecordLenderDecision(ctx context.Context, applicationID string, accepted bool) error {
	unlock := e.locks.Lock(applicationID)
	defer unlock()

	app, err := e.apps.Get(ctx, applicationID)
	if err != nil {
		return err
	}
	if app == nil {
		return apperrors.NewNotFoundError("application", applicationID)
	}

	target := models.StageDenied
	if accepted {
		target = models.StageAccepted
	}
	if app.Stage != models.StageOffToLender {
		return apperrors.NewStageTransitionError(string(app.Stage), string(target))
	}

	if err := e.apps.SetLenderDecision(ctx, applicationID, accepted); err != nil {
		return err
	}
	return e.transition(ctx, applicationID, app.Stage, target, "lender decision recorded")
}

// BypassUpload forces the application into requires_docs even with zero
// documents and notifies staff.
func (e *Engine) BypassUpload(ctx context.Context, applicationID string) error {
	unlock := e.locks.Lock(applicationID)
	defer unlock()

	app, err := e.apps.Get(ctx, applicationID)
	if err != nil {
		return err
	}
	if app == nil {
		return apperrors.NewNotFoundError("application", applicationID)
	}

	if err := e.apps.SetBypassUpload(ctx, applicationID); err != nil {
		return err
	}

	if app.Stage == models.StageNew {
		if err := e.transition(ctx, applicationID, app.Stage, models.StageRequiresDocs, "document upload bypassed"); err != nil {
			return err
		}
	}

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, applicationID, "sms", "upload-bypassed"); err != nil {
			e.logger.WithError(err).Warn("bypass notification failed", map[string]interface{}{
				"applicationId": applicationID,
			})
		}
	}
	return nil
}

// OverrideStage lets staff hand-set a stage. Every override is logged with the
// acting user.
func (e *Engine) OverrideStage(ctx context.Context, applicationID string, stage models.Stage, actor string) error {
	if !stage.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown stage: %s", stage))
	}

	unlock := e.locks.Lock(applicationID)
	defer unlock()

	app, err := e.apps.Get(ctx, applicationID)
	if err != nil {
		return err
	}
	if app == nil {
		return apperrors.NewNotFoundError("application", applicationID)
	}

	e.logger.Warn("manual stage override", map[string]interface{}{
		"applicationId": applicationID,
		"from":          string(app.Stage),
		"to":            string(stage),
		"actor":         actor,
	})
	return e.transition(ctx, applicationID, app.Stage, stage, "staff override by "+actor)
}
