// internal/signing/orchestrator_test.go
package signing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/common/logger"
	"loanflow/internal/models"
	"loanflow/internal/pipeline"
	"loanflow/internal/smartfields"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Fakes
// ==========================

// fakeJobs is an in-memory JobRepository mirroring the guarded transitions of
// the Postgres store, including the one-active-job constraint on Insert.
type fakeJobs struct {
	mu       sync.Mutex
	jobs     map[string]*models.SigningJob
	failNext error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]*models.SigningJob)}
}

func (f *fakeJobs) Insert(_ context.Context, job *models.SigningJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	for _, existing := range f.jobs {
		if existing.ApplicationID == job.ApplicationID && existing.Status.Active() {
			return ErrDuplicateActiveJob
		}
	}
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeJobs) Get(_ context.Context, jobID string) (*models.SigningJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, apperrors.NewNotFoundError("signing job", jobID)
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobs) GetActiveByApplication(_ context.Context, applicationID string) (*models.SigningJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.ApplicationID == applicationID && job.Status.Active() {
			copied := *job
			return &copied, nil
		}
	}
	return nil, ErrNoActiveJob
}

func (f *fakeJobs) MarkAwaitingCallback(_ context.Context, jobID, providerDocumentID string) (bool, error) {
	return f.move(jobID, []models.JobStatus{models.JobSubmitted}, func(j *models.SigningJob) {
		j.Status = models.JobAwaitingCallback
		j.ProviderDocumentID = providerDocumentID
		j.LastError = ""
	})
}

func (f *fakeJobs) Requeue(_ context.Context, jobID string, notBefore time.Time, lastError string) (bool, error) {
	return f.move(jobID, []models.JobStatus{models.JobSubmitted}, func(j *models.SigningJob) {
		j.Status = models.JobQueued
		j.NotBefore = notBefore
		j.LastError = lastError
	})
}

func (f *fakeJobs) MarkCompleted(_ context.Context, jobID, signedDocumentRef string) (bool, error) {
	return f.move(jobID, []models.JobStatus{models.JobAwaitingCallback}, func(j *models.SigningJob) {
		j.Status = models.JobCompleted
		j.SignedDocumentRef = signedDocumentRef
	})
}

func (f *fakeJobs) MarkFailed(_ context.Context, jobID, lastError string) (bool, error) {
	return f.move(jobID,
		[]models.JobStatus{models.JobQueued, models.JobSubmitted, models.JobAwaitingCallback},
		func(j *models.SigningJob) {
			j.Status = models.JobFailed
			j.LastError = lastError
		})
}

func (f *fakeJobs) MarkCancelled(_ context.Context, jobID string) (bool, error) {
	return f.move(jobID, []models.JobStatus{models.JobQueued, models.JobSubmitted}, func(j *models.SigningJob) {
		j.Status = models.JobCancelled
	})
}

func (f *fakeJobs) move(jobID string, from []models.JobStatus, apply func(*models.SigningJob)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if job.Status == st {
			apply(job)
			return true, nil
		}
	}
	return false, nil
}

// claim mimics the worker's ClaimDue for a single job: queued jobs move to
// submitted with the attempt counted.
func (f *fakeJobs) claim(t *testing.T, jobID string) *models.SigningJob {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	require.True(t, ok, "job %s not found", jobID)
	require.Equal(t, models.JobQueued, job.Status, "only queued jobs can be claimed")
	job.Status = models.JobSubmitted
	job.Attempts++
	copied := *job
	return &copied
}

func (f *fakeJobs) set(job *models.SigningJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *job
	f.jobs[job.ID] = &copied
}

type fakeAppWriter struct {
	mu         sync.Mutex
	app        *models.Application
	getErr     error
	signingRef struct{ jobID, documentID string }
	signedRef  string
}

func (f *fakeAppWriter) Get(_ context.Context, applicationID string) (*models.Application, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.app == nil || f.app.ID != applicationID {
		return nil, apperrors.NewNotFoundError("application", applicationID)
	}
	return f.app, nil
}

func (f *fakeAppWriter) SetSigningRefs(_ context.Context, _, jobID, providerDocumentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signingRef.jobID = jobID
	f.signingRef.documentID = providerDocumentID
	return nil
}

func (f *fakeAppWriter) SetSignedDocumentRef(_ context.Context, _, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedRef = ref
	return nil
}

// fakeProvider returns scripted outcomes in order, then keeps returning the
// last one.
type fakeProvider struct {
	mu     sync.Mutex
	script []error
	calls  int
}

func (f *fakeProvider) Submit(_ context.Context, _ string, _ smartfields.FieldMap) (*SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.script) > 0 {
		err = f.script[0]
		if len(f.script) > 1 {
			f.script = f.script[1:]
		}
	}
	f.calls++
	if err != nil {
		return nil, err
	}
	return &SubmitResult{ProviderDocumentID: fmt.Sprintf("prov-doc-%d", f.calls)}, nil
}

type fakeStageApplier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeStageApplier) Apply(_ context.Context, applicationID string) (*pipeline.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, applicationID)
	return &pipeline.Evaluation{}, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.PipelineEvent
}

func (c *capturePublisher) Publish(_ context.Context, event models.PipelineEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturePublisher) byType(t models.EventType) []models.PipelineEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.PipelineEvent
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// ==========================
// Helpers
// ==========================

func fptr(v float64) *float64 { return &v }

func signableApplication(id string) *models.Application {
	return &models.Application{
		ID:    id,
		Stage: models.StageInReview,
		Snapshot: models.ApplicationSnapshot{
			Current: &models.ModernForm{
				Step4: &models.ContactStep{
					FirstName:        "Ada",
					LastName:         "Lovelace",
					Email:            "ada@example.com",
					OwnershipPercent: fptr(100),
				},
				BusinessDetails: &models.BusinessDetails{
					LegalName: "Analytical Engines LLC",
				},
				Financials: &models.Financials{
					RequestedAmount: fptr(120000),
				},
			},
		},
	}
}

type orchestratorHarness struct {
	jobs      *fakeJobs
	apps      *fakeAppWriter
	provider  *fakeProvider
	stages    *fakeStageApplier
	publisher *capturePublisher
	orch      *Orchestrator
}

func newOrchestratorHarness(t *testing.T, app *models.Application) *orchestratorHarness {
	t.Helper()
	h := &orchestratorHarness{
		jobs:      newFakeJobs(),
		apps:      &fakeAppWriter{app: app},
		provider:  &fakeProvider{},
		stages:    &fakeStageApplier{},
		publisher: &capturePublisher{},
	}
	h.orch = NewOrchestrator(h.jobs, h.apps, h.provider, smartfields.NewGenerator(),
		h.stages, h.publisher,
		Config{TemplateRef: "tmpl-loan-v3", MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond},
		logger.NewTestLogger(t))
	return h
}

// ==========================
// Start
// ==========================

func TestOrchestrator_Start_CreatesQueuedJob(t *testing.T) {
	app := signableApplication("app-1")
	h := newOrchestratorHarness(t, app)

	job, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "app-1", job.ApplicationID)
	assert.Equal(t, models.JobQueued, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.False(t, job.NotBefore.After(time.Now().UTC()))
}

func TestOrchestrator_Start_SecondStartConflicts(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))

	first, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)

	_, err = h.orch.Start(context.Background(), "app-1")
	require.Error(t, err)

	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, apperrors.ErrCodeJobConflict, stdErr.Code)
	assert.Equal(t, first.ID, stdErr.Metadata["existingJobId"])
}

func TestOrchestrator_Start_AllowedAfterTerminalJob(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))

	first, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)
	require.NoError(t, h.orch.Cancel(context.Background(), first.ID))

	second, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestOrchestrator_Start_RejectsUnsignableApplication(t *testing.T) {
	app := signableApplication("app-1")
	app.Snapshot.Current.Step4.Email = ""
	h := newOrchestratorHarness(t, app)

	_, err := h.orch.Start(context.Background(), "app-1")
	require.Error(t, err)

	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, stdErr.Code)
	assert.Contains(t, stdErr.Details, "contact_email")
}

func TestOrchestrator_Start_UnknownApplication(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))

	_, err := h.orch.Start(context.Background(), "missing")
	require.Error(t, err)

	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, apperrors.ErrCodeNotFound, stdErr.Code)
}

func TestOrchestrator_Start_LostInsertRaceReturnsWinner(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))

	// Another process wins the unique index between our active-job check and
	// the insert.
	h.jobs.failNext = ErrDuplicateActiveJob
	winner := &models.SigningJob{ID: "job-winner", ApplicationID: "app-1", Status: models.JobQueued}
	h.jobs.set(winner)

	_, err := h.orch.Start(context.Background(), "app-1")
	require.Error(t, err)

	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, apperrors.ErrCodeJobConflict, stdErr.Code)
	assert.Equal(t, "job-winner", stdErr.Metadata["existingJobId"])
}

func TestOrchestrator_Start_ConcurrentStartsYieldOneJob(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	conflicts := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Start(context.Background(), "app-1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
				return
			}
			var stdErr *apperrors.StandardError
			if errors.As(err, &stdErr) && stdErr.Code == apperrors.ErrCodeJobConflict {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, conflicts)
}

// ==========================
// Process
// ==========================

func TestOrchestrator_Process_TransientFailuresThenSuccess(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))
	h.provider.script = []error{
		apperrors.NewTransientProviderError(errors.New("connection reset")),
		apperrors.NewTransientProviderError(errors.New("provider returned 503")),
		nil,
	}

	job, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)

	// Drive the claim/submit loop the way the worker does, one attempt at a
	// time. Two transient failures requeue, the third attempt sticks.
	for i := 0; i < 3; i++ {
		claimed := h.jobs.claim(t, job.ID)
		h.orch.Process(context.Background(), claimed)
	}

	final, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobAwaitingCallback, final.Status)
	assert.Equal(t, 3, final.Attempts)
	assert.Equal(t, "prov-doc-3", final.ProviderDocumentID)
	assert.Empty(t, final.LastError)

	assert.Equal(t, job.ID, h.apps.signingRef.jobID)
	assert.Equal(t, "prov-doc-3", h.apps.signingRef.documentID)
}

func TestOrchestrator_Process_RequeueRecordsErrorAndBackoff(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))
	h.provider.script = []error{
		apperrors.NewTransientProviderError(errors.New("gateway timeout")),
		nil,
	}

	job, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)

	before := time.Now().UTC()
	h.orch.Process(context.Background(), h.jobs.claim(t, job.ID))

	requeued, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, requeued.Status)
	assert.Equal(t, 1, requeued.Attempts)
	assert.Contains(t, requeued.LastError, "gateway timeout")
	assert.True(t, requeued.NotBefore.After(before))
}

func TestOrchestrator_Process_ExhaustedAttemptsFailTheJob(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))
	h.provider.script = []error{apperrors.NewTransientProviderError(errors.New("still down"))}

	job, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.orch.Process(context.Background(), h.jobs.claim(t, job.ID))
	}

	final, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	assert.Equal(t, 3, final.Attempts)
	assert.Contains(t, final.LastError, "still down")

	failed := h.publisher.byType(models.EventJobFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].JobID)
}

func TestOrchestrator_Process_PermanentErrorFailsImmediately(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))
	h.provider.script = []error{apperrors.NewPermanentProviderError("provider returned 422: bad template")}

	job, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)

	h.orch.Process(context.Background(), h.jobs.claim(t, job.ID))

	final, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	assert.Equal(t, 1, final.Attempts)
	assert.Equal(t, 1, h.provider.calls)
}

// A cancel landing from another instance while the provider call is in flight
// wins: the late acceptance is discarded instead of resurrecting the job.
func TestOrchestrator_Process_CancelDuringSubmitDiscardsAcceptance(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))

	job, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)

	claimed := h.jobs.claim(t, job.ID)

	cancelled, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	cancelled.Status = models.JobCancelled
	h.jobs.set(cancelled)

	h.orch.Process(context.Background(), claimed)

	final, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, final.Status)
	assert.Empty(t, final.ProviderDocumentID)
	assert.Empty(t, h.apps.signingRef.jobID, "signing refs must not be written for a dead job")
}

func TestOrchestrator_Backoff_GrowsAndCaps(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))
	h.orch.cfg.BackoffBase = time.Second
	h.orch.cfg.BackoffMax = 10 * time.Second

	for attempt := 1; attempt <= 20; attempt++ {
		d := h.orch.backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Second, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 10*time.Second, "attempt %d", attempt)
	}
}

// ==========================
// Complete / Fail / Cancel
// ==========================

func awaitingJob(t *testing.T, h *orchestratorHarness) *models.SigningJob {
	t.Helper()
	job, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)
	h.orch.Process(context.Background(), h.jobs.claim(t, job.ID))

	current, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobAwaitingCallback, current.Status)
	return current
}

func TestOrchestrator_Complete_FinalizesAndReappliesStage(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))
	job := awaitingJob(t, h)

	require.NoError(t, h.orch.Complete(context.Background(), job.ID, "signed/app-1.pdf"))

	final, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, final.Status)
	assert.Equal(t, "signed/app-1.pdf", final.SignedDocumentRef)
	assert.Equal(t, "signed/app-1.pdf", h.apps.signedRef)

	assert.Equal(t, []string{"app-1"}, h.stages.calls)
	completed := h.publisher.byType(models.EventJobCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, job.ID, completed[0].JobID)
}

func TestOrchestrator_Complete_ReplayIsNoOp(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))
	job := awaitingJob(t, h)

	require.NoError(t, h.orch.Complete(context.Background(), job.ID, "signed/app-1.pdf"))
	require.NoError(t, h.orch.Complete(context.Background(), job.ID, "signed/app-1.pdf"))

	assert.Len(t, h.publisher.byType(models.EventJobCompleted), 1)
	assert.Len(t, h.stages.calls, 1)
}

func TestOrchestrator_Complete_WrongStateIsTransitionError(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))

	job, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)
	require.NoError(t, h.orch.Cancel(context.Background(), job.ID))

	err = h.orch.Complete(context.Background(), job.ID, "signed/app-1.pdf")
	require.Error(t, err)

	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, apperrors.ErrCodeStageTransitionInvalid, stdErr.Code)
}

func TestOrchestrator_Fail_TerminatesWithoutRetry(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))
	job := awaitingJob(t, h)

	require.NoError(t, h.orch.Fail(context.Background(), job.ID, "signer declined"))

	final, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	assert.Equal(t, "signer declined", final.LastError)

	// Replay of the same terminal outcome acks quietly.
	require.NoError(t, h.orch.Fail(context.Background(), job.ID, "signer declined"))
	assert.Len(t, h.publisher.byType(models.EventJobFailed), 1)
}

func TestOrchestrator_Fail_AfterCompletionIsTransitionError(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))
	job := awaitingJob(t, h)
	require.NoError(t, h.orch.Complete(context.Background(), job.ID, "signed/app-1.pdf"))

	err := h.orch.Fail(context.Background(), job.ID, "document expired")
	require.Error(t, err)

	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, apperrors.ErrCodeStageTransitionInvalid, stdErr.Code)
}

func TestOrchestrator_Cancel_QueuedJob(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))

	job, err := h.orch.Start(context.Background(), "app-1")
	require.NoError(t, err)
	require.NoError(t, h.orch.Cancel(context.Background(), job.ID))

	final, err := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, final.Status)
}

func TestOrchestrator_Cancel_RefusedWhileAwaitingCallback(t *testing.T) {
	h := newOrchestratorHarness(t, signableApplication("app-1"))
	job := awaitingJob(t, h)

	err := h.orch.Cancel(context.Background(), job.ID)
	require.Error(t, err)

	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, apperrors.ErrCodeJobNotCancellable, stdErr.Code)
	assert.Contains(t, stdErr.Details, string(models.JobAwaitingCallback))

	unchanged, getErr := h.orch.Status(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.JobAwaitingCallback, unchanged.Status)
}
