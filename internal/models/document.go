// internal/models/document.go
package models

import "time"

// DocumentType identifies the kind of uploaded document.
type DocumentType string

const (
	DocTypeBankStatements      DocumentType = "bank_statements"
	DocTypeTaxReturns          DocumentType = "tax_returns"
	DocTypeFinancialStatements DocumentType = "financial_statements"
	DocTypeDriversLicense      DocumentType = "drivers_license"
	DocTypeVoidedCheck         DocumentType = "voided_check"
	DocTypeSignedApplication   DocumentType = "signed_application"
)

// DocumentStatus is the staff review state of an uploaded document.
type DocumentStatus string

const (
	DocStatusPending  DocumentStatus = "pending"
	DocStatusAccepted DocumentStatus = "accepted"
	DocStatusRejected DocumentStatus = "rejected"
)

// Document belongs to exactly one application. Documents are never deleted,
// only superseded.
type Document struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"applicationId"`
	DocumentType  DocumentType   `json:"documentType"`
	Status        DocumentStatus `json:"status"`
	StorageRef    string         `json:"storageRef"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// DocumentRecord is the narrow read-only view the stage engine consumes from
// the document ledger.
type DocumentRecord struct {
	DocumentType DocumentType   `json:"documentType"`
	Status       DocumentStatus `json:"status"`
}

// DocumentStats summarizes a ledger snapshot for API consumers.
type DocumentStats struct {
	Total    int `json:"total"`
	Accepted int `json:"accepted"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
}
