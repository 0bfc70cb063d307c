// internal/smartfields/chains.go
package smartfields

import "loanflow/internal/models"

// Accessor shorthands. Each reads one source shape and reports presence.

func fromStep4(get func(*models.ContactStep) string) accessor {
	return func(s *models.ApplicationSnapshot) (string, bool) {
		if s.Current == nil || s.Current.Step4 == nil {
			return "", false
		}
		return nonEmpty(get(s.Current.Step4))
	}
}

func fromBusiness(get func(*models.BusinessDetails) string) accessor {
	return func(s *models.ApplicationSnapshot) (string, bool) {
		if s.Current == nil || s.Current.BusinessDetails == nil {
			return "", false
		}
		return nonEmpty(get(s.Current.BusinessDetails))
	}
}

func fromPartner(get func(*models.ContactStep) string) accessor {
	return func(s *models.ApplicationSnapshot) (string, bool) {
		if s.Current == nil || s.Current.Partner == nil {
			return "", false
		}
		return nonEmpty(get(s.Current.Partner))
	}
}

func fromLegacy(get func(*models.LegacyForm) string) accessor {
	return func(s *models.ApplicationSnapshot) (string, bool) {
		if s.Legacy == nil {
			return "", false
		}
		return nonEmpty(get(s.Legacy))
	}
}

// buildChains declares the fallback order for every unconditional canonical
// field: current structured path, then legacy flat field, then any derived
// default.
func buildChains() []fieldChain {
	return []fieldChain{
		{FieldContactFirstName, []accessor{
			fromStep4(func(c *models.ContactStep) string { return c.FirstName }),
			fromLegacy(func(l *models.LegacyForm) string { return l.ApplicantFirstName }),
		}},
		{FieldContactLastName, []accessor{
			fromStep4(func(c *models.ContactStep) string { return c.LastName }),
			fromLegacy(func(l *models.LegacyForm) string { return l.ApplicantLastName }),
		}},
		{FieldContactEmail, []accessor{
			fromStep4(func(c *models.ContactStep) string { return c.Email }),
			fromLegacy(func(l *models.LegacyForm) string { return l.ApplicantEmail }),
		}},
		{FieldContactPhone, []accessor{
			fromStep4(func(c *models.ContactStep) string { return c.Phone }),
			fromLegacy(func(l *models.LegacyForm) string { return l.ApplicantPhone }),
			fromBusiness(func(b *models.BusinessDetails) string { return b.BusinessPhone }),
		}},
		{FieldContactTitle, []accessor{
			fromStep4(func(c *models.ContactStep) string { return c.Title }),
			fromLegacy(func(l *models.LegacyForm) string { return l.ApplicantTitle }),
			constant("Owner"),
		}},
		{FieldContactDOB, []accessor{
			asDate(fromStep4(func(c *models.ContactStep) string { return c.DateOfBirth })),
			asDate(fromLegacy(func(l *models.LegacyForm) string { return l.ApplicantDOB })),
		}},
		{FieldContactAddress, []accessor{
			fromStep4(func(c *models.ContactStep) string { return c.HomeAddress }),
			fromLegacy(func(l *models.LegacyForm) string { return l.ApplicantAddress }),
		}},

		{FieldBusinessLegalName, []accessor{
			fromBusiness(func(b *models.BusinessDetails) string { return b.LegalName }),
			fromLegacy(func(l *models.LegacyForm) string { return l.BusinessName }),
		}},
		{FieldBusinessDBA, []accessor{
			fromBusiness(func(b *models.BusinessDetails) string { return b.DBA }),
			fromLegacy(func(l *models.LegacyForm) string { return l.BusinessDBA }),
			// A business with no trade name signs under its legal name.
			fromBusiness(func(b *models.BusinessDetails) string { return b.LegalName }),
			fromLegacy(func(l *models.LegacyForm) string { return l.BusinessName }),
		}},
		{FieldBusinessTaxID, []accessor{
			fromBusiness(func(b *models.BusinessDetails) string { return b.TaxID }),
			fromLegacy(func(l *models.LegacyForm) string { return l.BusinessTaxID }),
		}},
		{FieldBusinessStartDate, []accessor{
			asDate(fromBusiness(func(b *models.BusinessDetails) string { return b.StartDate })),
			asDate(fromLegacy(func(l *models.LegacyForm) string { return l.BusinessStartDate })),
		}},
		{FieldBusinessAddress, []accessor{
			composedBusinessAddress,
			fromLegacy(func(l *models.LegacyForm) string { return l.BusinessAddress }),
		}},

		{FieldOwnershipPercent, []accessor{
			currentOwnershipPercent,
			legacyPercent(func(l *models.LegacyForm) string { return l.OwnershipPercent }),
			constant("100"),
		}},
		{FieldMonthlyRevenue, []accessor{
			currentAmount(func(f *models.Financials) *float64 { return f.MonthlyRevenue }),
			legacyAmount(func(l *models.LegacyForm) string { return l.MonthlyRevenue }),
		}},
		{FieldRequestedAmount, []accessor{
			currentAmount(func(f *models.Financials) *float64 { return f.RequestedAmount }),
			legacyAmount(func(l *models.LegacyForm) string { return l.RequestedAmount }),
			snapshotRequestedAmount,
		}},
	}
}

// buildPartnerChains declares the conditional secondary-party group, emitted
// only when hasPartner holds.
func buildPartnerChains() []fieldChain {
	return []fieldChain{
		{FieldPartnerFirstName, []accessor{
			fromPartner(func(c *models.ContactStep) string { return c.FirstName }),
			fromLegacy(func(l *models.LegacyForm) string { return l.PartnerFirstName }),
		}},
		{FieldPartnerLastName, []accessor{
			fromPartner(func(c *models.ContactStep) string { return c.LastName }),
			fromLegacy(func(l *models.LegacyForm) string { return l.PartnerLastName }),
		}},
		{FieldPartnerEmail, []accessor{
			fromPartner(func(c *models.ContactStep) string { return c.Email }),
			fromLegacy(func(l *models.LegacyForm) string { return l.PartnerEmail }),
		}},
		{FieldPartnerPhone, []accessor{
			fromPartner(func(c *models.ContactStep) string { return c.Phone }),
			fromLegacy(func(l *models.LegacyForm) string { return l.PartnerPhone }),
		}},
		{FieldPartnerOwnershipPercent, []accessor{
			partnerOwnershipPercent,
			legacyPercent(func(l *models.LegacyForm) string { return l.PartnerOwnershipPercent }),
			derivedPartnerPercent,
		}},
	}
}

// ==========================
// Composite and coercing accessors
// ==========================

func constant(v string) accessor {
	return func(*models.ApplicationSnapshot) (string, bool) { return v, true }
}

func asDate(inner accessor) accessor {
	return func(s *models.ApplicationSnapshot) (string, bool) {
		raw, ok := inner(s)
		if !ok {
			return "", false
		}
		return formatDate(raw), true
	}
}

func currentAmount(get func(*models.Financials) *float64) accessor {
	return func(s *models.ApplicationSnapshot) (string, bool) {
		if s.Current == nil || s.Current.Financials == nil {
			return "", false
		}
		v := get(s.Current.Financials)
		if v == nil {
			return "", false
		}
		return formatAmount(*v), true
	}
}

func legacyAmount(get func(*models.LegacyForm) string) accessor {
	return func(s *models.ApplicationSnapshot) (string, bool) {
		if s.Legacy == nil {
			return "", false
		}
		v, err := parseAmount(get(s.Legacy))
		if err != nil {
			return "", false
		}
		return formatAmount(v), true
	}
}

func legacyPercent(get func(*models.LegacyForm) string) accessor {
	return func(s *models.ApplicationSnapshot) (string, bool) {
		if s.Legacy == nil {
			return "", false
		}
		v, err := parsePercent(get(s.Legacy))
		if err != nil {
			return "", false
		}
		return formatPercent(v), true
	}
}

func currentOwnershipPercent(s *models.ApplicationSnapshot) (string, bool) {
	if s.Current == nil || s.Current.Step4 == nil || s.Current.Step4.OwnershipPercent == nil {
		return "", false
	}
	return formatPercent(*s.Current.Step4.OwnershipPercent), true
}

func partnerOwnershipPercent(s *models.ApplicationSnapshot) (string, bool) {
	if s.Current == nil || s.Current.Partner == nil || s.Current.Partner.OwnershipPercent == nil {
		return "", false
	}
	return formatPercent(*s.Current.Partner.OwnershipPercent), true
}

// derivedPartnerPercent falls back to the remainder of the primary owner's
// share when no explicit partner percentage was recorded.
func derivedPartnerPercent(s *models.ApplicationSnapshot) (string, bool) {
	if primary, ok := currentOwnershipPercent(s); ok {
		if v, err := parsePercent(primary); err == nil && v < 100 {
			return formatPercent(100 - v), true
		}
	}
	if s.Legacy != nil {
		if v, err := parsePercent(s.Legacy.OwnershipPercent); err == nil && v < 100 {
			return formatPercent(100 - v), true
		}
	}
	return "", false
}

func composedBusinessAddress(s *models.ApplicationSnapshot) (string, bool) {
	if s.Current == nil || s.Current.BusinessDetails == nil {
		return "", false
	}
	b := s.Current.BusinessDetails
	if b.Address == "" {
		return "", false
	}
	addr := b.Address
	if b.City != "" {
		addr += ", " + b.City
	}
	if b.State != "" {
		addr += ", " + b.State
	}
	if b.Zip != "" {
		addr += " " + b.Zip
	}
	return addr, true
}

func snapshotRequestedAmount(s *models.ApplicationSnapshot) (string, bool) {
	if s.RequestedAmount <= 0 {
		return "", false
	}
	return formatAmount(s.RequestedAmount), true
}
