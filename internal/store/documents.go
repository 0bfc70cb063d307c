// internal/store/documents.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/models"

	"github.com/google/uuid"
)

// DocumentStore is the ledger of uploaded documents per application.
type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// ListByApplication returns every document row for the application, upload
// order preserved. Superseded uploads stay in the ledger.
func (s *DocumentStore) ListByApplication(ctx context.Context, applicationID string) ([]models.DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_type, status
		FROM documents
		WHERE application_id = $1
		ORDER BY created_at`,
		applicationID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list documents", err)
	}
	defer rows.Close()

	var records []models.DocumentRecord
	for rows.Next() {
		var docType, status string
		if err := rows.Scan(&docType, &status); err != nil {
			return nil, apperrors.NewDatabaseError("scan document", err)
		}
		records = append(records, models.DocumentRecord{
			DocumentType: models.DocumentType(docType),
			Status:       models.DocumentStatus(status),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list documents", err)
	}
	return records, nil
}

// Add records a new upload in pending status.
func (s *DocumentStore) Add(ctx context.Context, applicationID string, docType models.DocumentType, storageRef string) (*models.Document, error) {
	now := time.Now().UTC()
	doc := &models.Document{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		DocumentType:  docType,
		Status:        models.DocStatusPending,
		StorageRef:    storageRef,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, application_id, document_type, status, storage_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.ApplicationID, string(doc.DocumentType), string(doc.Status), doc.StorageRef, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return nil, apperrors.NewDatabaseError("add document", err)
	}
	return doc, nil
}

// SetStatus moves a document to accepted or rejected after review.
func (s *DocumentStore) SetStatus(ctx context.Context, documentID string, status models.DocumentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = $2, updated_at = $3 WHERE id = $1`,
		documentID, string(status), time.Now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("set document status", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError("document", documentID)
	}
	return nil
}

// CatalogStore reads per-product document requirements.
type CatalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// RequiredDocuments looks up the requirement list for the application's
// product. An application without a product, or a product without rows, comes
// back empty; the resolver applies the default set.
func (s *CatalogStore) RequiredDocuments(ctx context.Context, applicationID string) ([]models.DocumentType, error) {
	var category sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT product_category FROM applications WHERE id = $1`, applicationID).Scan(&category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("application", applicationID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get product category", err)
	}
	if !category.Valid || category.String == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_type
		FROM product_document_requirements
		WHERE product_category = $1
		ORDER BY document_type`,
		category.String)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list product requirements", err)
	}
	defer rows.Close()

	var types []models.DocumentType
	for rows.Next() {
		var docType string
		if err := rows.Scan(&docType); err != nil {
			return nil, apperrors.NewDatabaseError("scan product requirement", err)
		}
		types = append(types, models.DocumentType(docType))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list product requirements", err)
	}
	return types, nil
}
