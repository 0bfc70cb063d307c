// internal/store/applications.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/models"
)

// ApplicationStore is the Postgres CRUD layer for applications. The snapshot
// is stored as a jsonb column so both the current and legacy form shapes ride
// along unchanged.
type ApplicationStore struct {
	db *sql.DB
}

func NewApplicationStore(db *sql.DB) *ApplicationStore {
	return &ApplicationStore{db: db}
}

const applicationColumns = `
	id, stage, requested_amount, COALESCE(product_category, ''),
	bypass_upload, sent_to_lender, lender_accepted,
	COALESCE(signing_job_id, ''), COALESCE(signing_document_id, ''), COALESCE(signed_document_ref, ''),
	snapshot, created_at, updated_at`

func scanApplication(row *sql.Row) (*models.Application, error) {
	var app models.Application
	var stage string
	var snapshot []byte
	err := row.Scan(
		&app.ID, &stage, &app.RequestedAmount, &app.ProductCategory,
		&app.BypassUpload, &app.SentToLender, &app.LenderAccepted,
		&app.SigningJobID, &app.SigningDocumentID, &app.SignedDocumentRef,
		&snapshot, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	app.Stage = models.Stage(stage)
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &app.Snapshot); err != nil {
			return nil, err
		}
	}
	return &app, nil
}

func (s *ApplicationStore) Get(ctx context.Context, applicationID string) (*models.Application, error) {
	app, err := scanApplication(s.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, applicationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("application", applicationID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get application", err)
	}
	return app, nil
}

func (s *ApplicationStore) Create(ctx context.Context, app *models.Application) error {
	snapshot, err := json.Marshal(app.Snapshot)
	if err != nil {
		return apperrors.NewValidationError("application snapshot is not serializable")
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	if app.Stage == "" {
		app.Stage = models.StageNew
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications (id, stage, requested_amount, product_category, bypass_upload, sent_to_lender, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		app.ID, string(app.Stage), app.RequestedAmount, app.ProductCategory,
		app.BypassUpload, app.SentToLender, snapshot, app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("create application", err)
	}
	return nil
}

// UpdateStage writes the stage only while the row still holds the expected
// from stage. Zero rows means another process transitioned the application
// first and the caller's view is stale.
func (s *ApplicationStore) UpdateStage(ctx context.Context, applicationID string, from, to models.Stage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE applications SET stage = $2, updated_at = $3 WHERE id = $1 AND stage = $4`,
		applicationID, string(to), time.Now().UTC(), string(from))
	if err != nil {
		return apperrors.NewDatabaseError("update application stage", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewStageTransitionError(string(from), string(to))
	}
	return nil
}

func (s *ApplicationStore) SetBypassUpload(ctx context.Context, applicationID string) error {
	return s.update(ctx, "set bypass upload",
		`UPDATE applications SET bypass_upload = TRUE, updated_at = $2 WHERE id = $1`,
		applicationID, time.Now().UTC())
}

func (s *ApplicationStore) SetSentToLender(ctx context.Context, applicationID string) error {
	return s.update(ctx, "set sent to lender",
		`UPDATE applications SET sent_to_lender = TRUE, updated_at = $2 WHERE id = $1`,
		applicationID, time.Now().UTC())
}

func (s *ApplicationStore) SetLenderDecision(ctx context.Context, applicationID string, accepted bool) error {
	return s.update(ctx, "set lender decision",
		`UPDATE applications SET lender_accepted = $2, updated_at = $3 WHERE id = $1`,
		applicationID, accepted, time.Now().UTC())
}

func (s *ApplicationStore) SetSigningRefs(ctx context.Context, applicationID, jobID, providerDocumentID string) error {
	return s.update(ctx, "set signing refs",
		`UPDATE applications SET signing_job_id = $2, signing_document_id = $3, updated_at = $4 WHERE id = $1`,
		applicationID, jobID, providerDocumentID, time.Now().UTC())
}

func (s *ApplicationStore) SetSignedDocumentRef(ctx context.Context, applicationID, ref string) error {
	return s.update(ctx, "set signed document ref",
		`UPDATE applications SET signed_document_ref = $2, updated_at = $3 WHERE id = $1`,
		applicationID, ref, time.Now().UTC())
}

func (s *ApplicationStore) update(ctx context.Context, operation, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewDatabaseError(operation, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError("application", args[0].(string))
	}
	return nil
}
