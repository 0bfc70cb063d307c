// internal/smartfields/fields.go
package smartfields

// Canonical field names consumed by the external signing document. The set is
// fixed: templates reference these names, so renaming one is a breaking change
// for every in-flight template.
const (
	FieldContactFirstName = "contact_first_name"
	FieldContactLastName  = "contact_last_name"
	FieldContactEmail     = "contact_email"
	FieldContactPhone     = "contact_phone"
	FieldContactTitle     = "contact_title"
	FieldContactDOB       = "contact_dob"
	FieldContactAddress   = "contact_home_address"

	FieldBusinessLegalName = "business_legal_name"
	FieldBusinessDBA       = "business_dba"
	FieldBusinessTaxID     = "business_tax_id"
	FieldBusinessStartDate = "business_start_date"
	FieldBusinessAddress   = "business_address"

	FieldOwnershipPercent = "ownership_percent"
	FieldMonthlyRevenue   = "monthly_revenue"
	FieldRequestedAmount  = "requested_amount"

	FieldPartnerFirstName        = "partner_first_name"
	FieldPartnerLastName         = "partner_last_name"
	FieldPartnerEmail            = "partner_email"
	FieldPartnerPhone            = "partner_phone"
	FieldPartnerOwnershipPercent = "partner_ownership_percent"
)

// FieldMap is the flat canonical field set handed to the signing provider.
type FieldMap map[string]string

// requiredFields must be non-empty for a signable document.
var requiredFields = []string{
	FieldContactFirstName,
	FieldContactLastName,
	FieldContactEmail,
	FieldBusinessLegalName,
	FieldRequestedAmount,
}
