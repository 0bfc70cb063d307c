// internal/signing/store.go
package signing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/models"

	"github.com/lib/pq"
)

// ErrNoActiveJob is returned when an application has no non-terminal job.
var ErrNoActiveJob = errors.New("no active signing job")

// ErrDuplicateActiveJob surfaces the partial unique index on active jobs.
var ErrDuplicateActiveJob = errors.New("active signing job already exists")

// JobStore persists signing jobs in Postgres. The schema carries a partial
// unique index on application_id over non-terminal statuses, which makes the
// one-active-job invariant hold across processes, not just in-process.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, application_id, status, attempts, not_before,
	COALESCE(provider_document_id, ''), COALESCE(signed_document_ref, ''), COALESCE(last_error, ''),
	created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.SigningJob, error) {
	var job models.SigningJob
	err := row.Scan(
		&job.ID, &job.ApplicationID, &job.Status, &job.Attempts, &job.NotBefore,
		&job.ProviderDocumentID, &job.SignedDocumentRef, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Insert creates a queued job. ErrDuplicateActiveJob is returned when another
// active job for the same application already holds the unique index.
func (s *JobStore) Insert(ctx context.Context, job *models.SigningJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_jobs (id, application_id, status, attempts, not_before, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
		job.ID, job.ApplicationID, job.Status, job.Attempts, job.NotBefore,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateActiveJob
		}
		return apperrors.NewDatabaseError("insert signing job", err)
	}
	return nil
}

// Get fetches a job by id.
func (s *JobStore) Get(ctx context.Context, jobID string) (*models.SigningJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM signing_jobs WHERE id = $1`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("signing job", jobID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get signing job", err)
	}
	return job, nil
}

// GetByProviderDocument resolves the job a provider callback refers to.
func (s *JobStore) GetByProviderDocument(ctx context.Context, providerDocumentID string) (*models.SigningJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM signing_jobs
		WHERE provider_document_id = $1
		ORDER BY created_at DESC LIMIT 1`,
		providerDocumentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("signing job for document", providerDocumentID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get signing job by document", err)
	}
	return job, nil
}

// GetActiveByApplication fetches the single non-terminal job for an
// application, or ErrNoActiveJob.
func (s *JobStore) GetActiveByApplication(ctx context.Context, applicationID string) (*models.SigningJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM signing_jobs
		WHERE application_id = $1 AND status IN ('queued', 'submitted', 'awaiting_callback')`,
		applicationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveJob
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get active signing job", err)
	}
	return job, nil
}

// ClaimDue atomically claims up to limit due queued jobs, moving them to
// submitted and counting the attempt. SKIP LOCKED keeps concurrent consumers
// from double-claiming.
func (s *JobStore) ClaimDue(ctx context.Context, limit int) ([]*models.SigningJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE signing_jobs SET status = 'submitted', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM signing_jobs
			WHERE status = 'queued' AND not_before <= NOW()
			ORDER BY not_before
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("claim due signing jobs", err)
	}
	defer rows.Close()

	var jobs []*models.SigningJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan claimed signing job", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ReclaimStale requeues submitted jobs whose claim lease expired. A job stays
// submitted only for the duration of one provider call; rows older than the
// timeout belong to a consumer that died mid-submit or was shut down before
// it could requeue, and would otherwise hold the one-active-job slot forever.
func (s *JobStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signing_jobs
		SET status = 'queued', not_before = NOW(), last_error = 'claim lease expired', updated_at = NOW()
		WHERE status = 'submitted' AND updated_at < NOW() - ($1 * INTERVAL '1 millisecond')`,
		olderThan.Milliseconds())
	if err != nil {
		return 0, apperrors.NewDatabaseError("reclaim stale signing jobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewDatabaseError("reclaim stale signing jobs", err)
	}
	return n, nil
}

// transition applies a guarded status change and reports whether a row moved.
func (s *JobStore) transition(ctx context.Context, jobID string, from []models.JobStatus, query string, args ...interface{}) (bool, error) {
	fromStr := make([]string, len(from))
	for i, st := range from {
		fromStr[i] = string(st)
	}
	args = append(args, jobID, pq.Array(fromStr))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, apperrors.NewDatabaseError("transition signing job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("transition signing job", err)
	}
	return n > 0, nil
}

// MarkAwaitingCallback records provider acceptance.
func (s *JobStore) MarkAwaitingCallback(ctx context.Context, jobID, providerDocumentID string) (bool, error) {
	return s.transition(ctx, jobID, []models.JobStatus{models.JobSubmitted}, `
		UPDATE signing_jobs
		SET status = 'awaiting_callback', provider_document_id = $1, last_error = NULL, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`, providerDocumentID)
}

// Requeue schedules a retry after a transient submission failure.
func (s *JobStore) Requeue(ctx context.Context, jobID string, notBefore time.Time, lastError string) (bool, error) {
	return s.transition(ctx, jobID, []models.JobStatus{models.JobSubmitted}, `
		UPDATE signing_jobs
		SET status = 'queued', not_before = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)`, notBefore, lastError)
}

// MarkCompleted finalizes a job from awaiting_callback.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID, signedDocumentRef string) (bool, error) {
	return s.transition(ctx, jobID, []models.JobStatus{models.JobAwaitingCallback}, `
		UPDATE signing_jobs
		SET status = 'completed', signed_document_ref = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`, signedDocumentRef)
}

// MarkFailed moves any non-terminal job to failed with the surfaced error.
func (s *JobStore) MarkFailed(ctx context.Context, jobID, lastError string) (bool, error) {
	return s.transition(ctx, jobID,
		[]models.JobStatus{models.JobQueued, models.JobSubmitted, models.JobAwaitingCallback}, `
		UPDATE signing_jobs
		SET status = 'failed', last_error = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`, lastError)
}

// MarkCancelled cancels a job still on this side of the provider. Jobs in
// awaiting_callback are refused by the orchestrator before reaching here.
func (s *JobStore) MarkCancelled(ctx context.Context, jobID string) (bool, error) {
	return s.transition(ctx, jobID, []models.JobStatus{models.JobQueued, models.JobSubmitted}, `
		UPDATE signing_jobs
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)`)
}

// QueueDepth counts jobs waiting to run.
func (s *JobStore) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signing_jobs WHERE status = 'queued'`).Scan(&n)
	if err != nil {
		return 0, apperrors.NewDatabaseError("count queued signing jobs", err)
	}
	return n, nil
}
