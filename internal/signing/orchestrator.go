// internal/signing/orchestrator.go
package signing

import (
	"context"
	"errors"
	"math/rand"
	"time"

	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/common/locks"
	"loanflow/internal/common/logger"
	"loanflow/internal/common/metrics"
	"loanflow/internal/models"
	"loanflow/internal/pipeline"
	"loanflow/internal/smartfields"

	"github.com/google/uuid"
)

// JobRepository is the persistence surface the orchestrator drives the job
// lifecycle through. *JobStore is the production implementation.
type JobRepository interface {
	Insert(ctx context.Context, job *models.SigningJob) error
	Get(ctx context.Context, jobID string) (*models.SigningJob, error)
	GetActiveByApplication(ctx context.Context, applicationID string) (*models.SigningJob, error)
	MarkAwaitingCallback(ctx context.Context, jobID, providerDocumentID string) (bool, error)
	Requeue(ctx context.Context, jobID string, notBefore time.Time, lastError string) (bool, error)
	MarkCompleted(ctx context.Context, jobID, signedDocumentRef string) (bool, error)
	MarkFailed(ctx context.Context, jobID, lastError string) (bool, error)
	MarkCancelled(ctx context.Context, jobID string) (bool, error)
}

// ApplicationWriter is the slice of the CRUD layer the orchestrator writes
// through: the signing reference fields only.
type ApplicationWriter interface {
	Get(ctx context.Context, applicationID string) (*models.Application, error)
	SetSigningRefs(ctx context.Context, applicationID, jobID, providerDocumentID string) error
	SetSignedDocumentRef(ctx context.Context, applicationID, ref string) error
}

// StageApplier re-evaluates the pipeline stage after a signing outcome.
type StageApplier interface {
	Apply(ctx context.Context, applicationID string) (*pipeline.Evaluation, error)
}

// Config tunes the retry schedule.
type Config struct {
	TemplateRef string
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Orchestrator owns the signing job lifecycle: it creates jobs, submits them
// to the provider, schedules retries and reconciles webhook outcomes. All
// per-application work is serialized through a keyed mutex.
type Orchestrator struct {
	jobs      JobRepository
	apps      ApplicationWriter
	provider  SigningProvider
	generator *smartfields.Generator
	stages    StageApplier
	publisher pipeline.EventPublisher
	locks     *locks.KeyedMutex
	cfg       Config
	logger    logger.Logger
}

func NewOrchestrator(jobs JobRepository, apps ApplicationWriter, provider SigningProvider, generator *smartfields.Generator, stages StageApplier, publisher pipeline.EventPublisher, cfg Config, log logger.Logger) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Minute
	}
	return &Orchestrator{
		jobs:      jobs,
		apps:      apps,
		provider:  provider,
		generator: generator,
		stages:    stages,
		publisher: publisher,
		locks:     locks.NewKeyedMutex(),
		cfg:       cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "signing-orchestrator"}),
	}
}

// Start creates a queued signing job for the application. A second Start for
// the same application returns a JobConflictError carrying the existing job id
// rather than creating a duplicate.
func (o *Orchestrator) Start(ctx context.Context, applicationID string) (*models.SigningJob, error) {
	unlock := o.locks.Lock(applicationID)
	defer unlock()

	app, err := o.apps.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, apperrors.NewNotFoundError("application", applicationID)
	}

	if existing, err := o.jobs.GetActiveByApplication(ctx, applicationID); err == nil {
		return nil, apperrors.NewJobConflictError(applicationID, existing.ID)
	} else if !errors.Is(err, ErrNoActiveJob) {
		return nil, err
	}

	if v := o.generator.Validate(&app.Snapshot); !v.IsValid {
		return nil, apperrors.NewValidationError("application is not signable, missing: " + joinFields(v.MissingFields))
	}

	now := time.Now().UTC()
	job := &models.SigningJob{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		Status:        models.JobQueued,
		NotBefore:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := o.jobs.Insert(ctx, job); err != nil {
		if errors.Is(err, ErrDuplicateActiveJob) {
			// Lost a cross-process race; hand back the winner.
			if existing, lookupErr := o.jobs.GetActiveByApplication(ctx, applicationID); lookupErr == nil {
				return nil, apperrors.NewJobConflictError(applicationID, existing.ID)
			}
			return nil, apperrors.NewJobConflictError(applicationID, "")
		}
		return nil, err
	}

	metrics.SigningJobsStarted.Inc()
	o.logger.Info("signing job queued", map[string]interface{}{
		"jobId":         job.ID,
		"applicationId": applicationID,
	})
	return job, nil
}

// Status fetches the job by id.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*models.SigningJob, error) {
	return o.jobs.Get(ctx, jobID)
}

// Process submits one claimed job to the provider. The job arrives in
// submitted state with its attempt already counted.
func (o *Orchestrator) Process(ctx context.Context, job *models.SigningJob) {
	unlock := o.locks.Lock(job.ApplicationID)
	defer unlock()

	log := o.logger.WithFields(map[string]interface{}{
		"jobId":         job.ID,
		"applicationId": job.ApplicationID,
		"attempt":       job.Attempts,
	})

	app, err := o.apps.Get(ctx, job.ApplicationID)
	if err != nil || app == nil {
		o.retryOrFail(ctx, job, apperrors.NewDatabaseError("load application", errOr(err)), log)
		return
	}

	fields := o.generator.Generate(&app.Snapshot)

	started := time.Now()
	result, err := o.provider.Submit(ctx, o.cfg.TemplateRef, fields)
	metrics.SigningSubmitDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		if apperrors.IsRetryable(err) {
			o.retryOrFail(ctx, job, err, log)
			return
		}
		// Permanent provider rejection, no point retrying locally.
		o.failJob(ctx, job, err.Error(), log)
		return
	}

	moved, err := o.jobs.MarkAwaitingCallback(ctx, job.ID, result.ProviderDocumentID)
	if err != nil {
		log.WithError(err).Error("failed to record provider acceptance", nil)
		return
	}
	if !moved {
		// The job left submitted state while the provider call was in
		// flight, e.g. a cancel from another instance. Drop the result.
		log.Warn("job no longer submitted, discarding provider acceptance", map[string]interface{}{
			"providerDocumentId": result.ProviderDocumentID,
		})
		return
	}
	if err := o.apps.SetSigningRefs(ctx, job.ApplicationID, job.ID, result.ProviderDocumentID); err != nil {
		log.WithError(err).Warn("failed to write signing refs to application", nil)
	}

	log.Info("document submitted to signing provider", map[string]interface{}{
		"providerDocumentId": result.ProviderDocumentID,
	})
}

// retryOrFail requeues with backoff while attempts remain, otherwise fails.
func (o *Orchestrator) retryOrFail(ctx context.Context, job *models.SigningJob, cause error, log logger.Logger) {
	if job.Attempts >= o.cfg.MaxAttempts {
		o.failJob(ctx, job, cause.Error(), log)
		return
	}

	delay := o.backoff(job.Attempts)
	notBefore := time.Now().UTC().Add(delay)
	if _, err := o.jobs.Requeue(ctx, job.ID, notBefore, cause.Error()); err != nil {
		log.WithError(err).Error("failed to requeue signing job", nil)
		return
	}

	metrics.SigningRetries.Inc()
	log.WithError(cause).Warn("signing submission failed, retry scheduled", map[string]interface{}{
		"retryIn": delay.String(),
	})
}

// backoff is exponential in the attempt count with up to 50% jitter, capped.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= o.cfg.BackoffMax {
			delay = o.cfg.BackoffMax
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	delay += jitter
	if delay > o.cfg.BackoffMax {
		delay = o.cfg.BackoffMax
	}
	return delay
}

func (o *Orchestrator) failJob(ctx context.Context, job *models.SigningJob, reason string, log logger.Logger) {
	if _, err := o.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
		log.WithError(err).Error("failed to mark signing job failed", nil)
		return
	}

	metrics.SigningJobOutcomes.WithLabelValues(string(models.JobFailed)).Inc()
	log.Error("signing job failed", map[string]interface{}{"reason": reason})

	o.publish(ctx, models.PipelineEvent{
		Type:          models.EventJobFailed,
		ApplicationID: job.ApplicationID,
		JobID:         job.ID,
		Reason:        reason,
		OccurredAt:    time.Now().UTC(),
	})
}

// Complete finalizes a job from a provider document-completed callback. Only
// webhook ingestion calls this. Replays of an already-completed job are
// no-ops; any other state mismatch is a transition error.
func (o *Orchestrator) Complete(ctx context.Context, jobID, providerDocumentRef string) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	unlock := o.locks.Lock(job.ApplicationID)
	defer unlock()

	moved, err := o.jobs.MarkCompleted(ctx, jobID, providerDocumentRef)
	if err != nil {
		return err
	}
	if !moved {
		current, err := o.jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if current.Status == models.JobCompleted {
			return nil
		}
		return apperrors.NewStageTransitionError(string(current.Status), string(models.JobCompleted))
	}

	if err := o.apps.SetSignedDocumentRef(ctx, job.ApplicationID, providerDocumentRef); err != nil {
		o.logger.WithError(err).Warn("failed to write signed document ref", map[string]interface{}{
			"jobId": jobID,
		})
	}

	metrics.SigningJobOutcomes.WithLabelValues(string(models.JobCompleted)).Inc()
	o.logger.Info("signing job completed", map[string]interface{}{
		"jobId":         jobID,
		"applicationId": job.ApplicationID,
	})

	o.publish(ctx, models.PipelineEvent{
		Type:          models.EventJobCompleted,
		ApplicationID: job.ApplicationID,
		JobID:         jobID,
		OccurredAt:    time.Now().UTC(),
	})

	if _, err := o.stages.Apply(ctx, job.ApplicationID); err != nil {
		o.logger.WithError(err).Warn("stage re-evaluation after signing failed", map[string]interface{}{
			"applicationId": job.ApplicationID,
		})
	}
	return nil
}

// Fail terminates a job from a provider-reported failure (signer declined,
// document expired). These are terminal by design and never retried.
func (o *Orchestrator) Fail(ctx context.Context, jobID, reason string) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	unlock := o.locks.Lock(job.ApplicationID)
	defer unlock()

	if job.Status.Terminal() {
		if job.Status == models.JobFailed {
			return nil
		}
		return apperrors.NewStageTransitionError(string(job.Status), string(models.JobFailed))
	}

	o.failJob(ctx, job, reason, o.logger.WithFields(map[string]interface{}{"jobId": jobID}))
	return nil
}

// Cancel aborts a job that has not yet reached the provider callback phase.
// A job in awaiting_callback cannot be cancelled: the remote signing ceremony
// is already underway and must resolve via webhook.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	unlock := o.locks.Lock(job.ApplicationID)
	defer unlock()

	moved, err := o.jobs.MarkCancelled(ctx, jobID)
	if err != nil {
		return err
	}
	if !moved {
		current, err := o.jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		return apperrors.NewJobNotCancellableError(jobID, string(current.Status))
	}

	o.logger.Info("signing job cancelled", map[string]interface{}{
		"jobId":         jobID,
		"applicationId": job.ApplicationID,
	})
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, event models.PipelineEvent) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.WithError(err).Warn("failed to publish signing event", map[string]interface{}{
			"type": string(event.Type),
		})
	}
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ", "
		}
		out += f
	}
	return out
}

func errOr(err error) error {
	if err != nil {
		return err
	}
	return errors.New("application not found")
}
