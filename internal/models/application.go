// internal/models/application.go
package models

import "time"

// Application is a loan request moving through the pipeline. Owned by the CRUD
// layer; the core reads it and writes only the stage and signing fields.
type Application struct {
	ID              string  `json:"id"`
	Stage           Stage   `json:"stage"`
	RequestedAmount float64 `json:"requestedAmount"`
	ProductCategory string  `json:"productCategory,omitempty"`

	BypassUpload   bool  `json:"bypassUpload"`
	SentToLender   bool  `json:"sentToLender"`
	LenderAccepted *bool `json:"lenderAccepted,omitempty"`

	SigningJobID      string `json:"signingJobId,omitempty"`
	SigningDocumentID string `json:"signingDocumentId,omitempty"`
	SignedDocumentRef string `json:"signedDocumentRef,omitempty"`

	Snapshot ApplicationSnapshot `json:"formData"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ApplicationSnapshot is the versioned bag of form data. Applications created
// by the current intake flow populate Current; older records carry only the
// flat Legacy fields. Either sub-structure may be nil.
type ApplicationSnapshot struct {
	RequestedAmount float64     `json:"requestedAmount,omitempty"`
	Current         *ModernForm `json:"current,omitempty"`
	Legacy          *LegacyForm `json:"legacy,omitempty"`
}

// ModernForm is the structured, step-based intake shape.
type ModernForm struct {
	Step4           *ContactStep     `json:"step4,omitempty"`
	BusinessDetails *BusinessDetails `json:"businessDetails,omitempty"`
	Financials      *Financials      `json:"financials,omitempty"`
	Partner         *ContactStep     `json:"partner,omitempty"`
}

// ContactStep carries one owner's contact info. OwnershipPercent below 100 on
// the primary owner indicates a multi-owner business.
type ContactStep struct {
	FirstName        string   `json:"firstName,omitempty"`
	LastName         string   `json:"lastName,omitempty"`
	Email            string   `json:"email,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	Title            string   `json:"title,omitempty"`
	DateOfBirth      string   `json:"dateOfBirth,omitempty"`
	HomeAddress      string   `json:"homeAddress,omitempty"`
	OwnershipPercent *float64 `json:"ownershipPercent,omitempty"`
}

type BusinessDetails struct {
	LegalName     string `json:"legalName,omitempty"`
	DBA           string `json:"dba,omitempty"`
	EntityType    string `json:"entityType,omitempty"`
	TaxID         string `json:"taxId,omitempty"`
	StartDate     string `json:"startDate,omitempty"`
	Address       string `json:"address,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	Zip           string `json:"zip,omitempty"`
	IndustryType  string `json:"industryType,omitempty"`
	WebsiteURL    string `json:"websiteUrl,omitempty"`
	BusinessPhone string `json:"businessPhone,omitempty"`
}

type Financials struct {
	MonthlyRevenue   *float64 `json:"monthlyRevenue,omitempty"`
	AnnualRevenue    *float64 `json:"annualRevenue,omitempty"`
	RequestedAmount  *float64 `json:"requestedAmount,omitempty"`
	OutstandingDebt  *float64 `json:"outstandingDebt,omitempty"`
	BankruptcyOnFile *bool    `json:"bankruptcyOnFile,omitempty"`
}

// LegacyForm is the historical flat shape. Everything is a string, including
// numbers, percentages and booleans ("true"/"false").
type LegacyForm struct {
	ApplicantFirstName string `json:"applicantFirstName,omitempty"`
	ApplicantLastName  string `json:"applicantLastName,omitempty"`
	ApplicantEmail     string `json:"applicantEmail,omitempty"`
	ApplicantPhone     string `json:"applicantPhone,omitempty"`
	ApplicantTitle     string `json:"applicantTitle,omitempty"`
	ApplicantDOB       string `json:"applicantDob,omitempty"`
	ApplicantAddress   string `json:"applicantAddress,omitempty"`

	BusinessName      string `json:"businessName,omitempty"`
	BusinessDBA       string `json:"businessDba,omitempty"`
	BusinessTaxID     string `json:"businessTaxId,omitempty"`
	BusinessStartDate string `json:"businessStartDate,omitempty"`
	BusinessAddress   string `json:"businessAddress,omitempty"`

	OwnershipPercent string `json:"ownershipPercent,omitempty"`
	MonthlyRevenue   string `json:"monthlyRevenue,omitempty"`
	RequestedAmount  string `json:"requestedAmount,omitempty"`
	HasPartner       string `json:"hasPartner,omitempty"`

	PartnerFirstName        string `json:"partnerFirstName,omitempty"`
	PartnerLastName         string `json:"partnerLastName,omitempty"`
	PartnerEmail            string `json:"partnerEmail,omitempty"`
	PartnerPhone            string `json:"partnerPhone,omitempty"`
	PartnerOwnershipPercent string `json:"partnerOwnershipPercent,omitempty"`
}
