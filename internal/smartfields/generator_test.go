// internal/smartfields/generator_test.go
package smartfields

import (
	"testing"

	"loanflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func fp(v float64) *float64 { return &v }

func modernSnapshot() *models.ApplicationSnapshot {
	return &models.ApplicationSnapshot{
		Current: &models.ModernForm{
			Step4: &models.ContactStep{
				FirstName:        "Ada",
				LastName:         "Lovelace",
				Email:            "ada@example.com",
				Phone:            "555-0100",
				Title:            "CEO",
				DateOfBirth:      "1990-06-15",
				HomeAddress:      "1 Analytical Way",
				OwnershipPercent: fp(100),
			},
			BusinessDetails: &models.BusinessDetails{
				LegalName: "Analytical Engines LLC",
				DBA:       "AE Co",
				TaxID:     "12-3456789",
				StartDate: "2015-03-01",
				Address:   "200 Commerce St",
				City:      "Austin",
				State:     "TX",
				Zip:       "78701",
			},
			Financials: &models.Financials{
				MonthlyRevenue:  fp(48000),
				RequestedAmount: fp(120000),
			},
		},
	}
}

func legacySnapshot() *models.ApplicationSnapshot {
	return &models.ApplicationSnapshot{
		Legacy: &models.LegacyForm{
			ApplicantFirstName: "Todd",
			ApplicantLastName:  "Barnes",
			ApplicantEmail:     "todd@example.com",
			ApplicantPhone:     "555-0199",
			ApplicantDOB:       "06/02/1981",
			BusinessName:       "Barnes Towing",
			BusinessTaxID:      "98-7654321",
			MonthlyRevenue:     "$23,500",
			RequestedAmount:    "75000",
			OwnershipPercent:   "100",
		},
	}
}

// ==========================
// Generation Tests
// ==========================

func TestGenerator_Generate_ModernSnapshot(t *testing.T) {
	g := NewGenerator()
	fields := g.Generate(modernSnapshot())

	assert.Equal(t, "Ada", fields[FieldContactFirstName])
	assert.Equal(t, "ada@example.com", fields[FieldContactEmail])
	assert.Equal(t, "CEO", fields[FieldContactTitle])
	assert.Equal(t, "06/15/1990", fields[FieldContactDOB])
	assert.Equal(t, "Analytical Engines LLC", fields[FieldBusinessLegalName])
	assert.Equal(t, "AE Co", fields[FieldBusinessDBA])
	assert.Equal(t, "200 Commerce St, Austin, TX 78701", fields[FieldBusinessAddress])
	assert.Equal(t, "48000.00", fields[FieldMonthlyRevenue])
	assert.Equal(t, "120000.00", fields[FieldRequestedAmount])
	assert.Equal(t, "100", fields[FieldOwnershipPercent])
}

// A legacy-only record still generates: every legacy flat field feeds its
// canonical counterpart through the fallback chain.
func TestGenerator_Generate_LegacyFallback(t *testing.T) {
	g := NewGenerator()
	fields := g.Generate(legacySnapshot())

	assert.Equal(t, "Todd", fields[FieldContactFirstName])
	assert.Equal(t, "Barnes", fields[FieldContactLastName])
	assert.Equal(t, "06/02/1981", fields[FieldContactDOB])
	assert.Equal(t, "Barnes Towing", fields[FieldBusinessLegalName])
	assert.Equal(t, "23500.00", fields[FieldMonthlyRevenue])
	assert.Equal(t, "75000.00", fields[FieldRequestedAmount])
}

func TestGenerator_Generate_CurrentWinsOverLegacy(t *testing.T) {
	s := legacySnapshot()
	s.Current = &models.ModernForm{
		Step4: &models.ContactStep{FirstName: "Theodora"},
	}

	fields := NewGenerator().Generate(s)
	assert.Equal(t, "Theodora", fields[FieldContactFirstName])
	// Fields absent from the current shape still fall through to legacy.
	assert.Equal(t, "Barnes", fields[FieldContactLastName])
}

func TestGenerator_Generate_Defaults(t *testing.T) {
	g := NewGenerator()
	fields := g.Generate(&models.ApplicationSnapshot{
		Current: &models.ModernForm{
			BusinessDetails: &models.BusinessDetails{LegalName: "Solo LLC"},
		},
	})

	assert.Equal(t, "Owner", fields[FieldContactTitle], "title defaults")
	assert.Equal(t, "100", fields[FieldOwnershipPercent], "ownership defaults to sole owner")
	assert.Equal(t, "Solo LLC", fields[FieldBusinessDBA], "dba falls back to legal name")
	assert.Equal(t, "", fields[FieldContactFirstName], "unresolvable fields are empty, not absent")
}

func TestGenerator_Generate_RequestedAmountFallsBackToSnapshot(t *testing.T) {
	g := NewGenerator()
	fields := g.Generate(&models.ApplicationSnapshot{RequestedAmount: 50000})
	assert.Equal(t, "50000.00", fields[FieldRequestedAmount])
}

func TestGenerator_Generate_IsDeterministic(t *testing.T) {
	g := NewGenerator()
	s := modernSnapshot()

	first := g.Generate(s)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.Generate(s))
	}
}

// ==========================
// Partner Group Tests
// ==========================

func TestGenerator_Generate_PartnerGroup(t *testing.T) {
	tests := []struct {
		name        string
		snapshot    *models.ApplicationSnapshot
		wantPartner bool
		validate    func(t *testing.T, fields FieldMap)
	}{
		{
			name:        "sole owner omits partner group",
			snapshot:    modernSnapshot(),
			wantPartner: false,
		},
		{
			name: "ownership below 100 includes partner group",
			snapshot: func() *models.ApplicationSnapshot {
				s := modernSnapshot()
				s.Current.Step4.OwnershipPercent = fp(60)
				return s
			}(),
			wantPartner: true,
			validate: func(t *testing.T, fields FieldMap) {
				assert.Equal(t, "40", fields[FieldPartnerOwnershipPercent], "partner share derived from remainder")
			},
		},
		{
			name: "explicit partner contact",
			snapshot: func() *models.ApplicationSnapshot {
				s := modernSnapshot()
				s.Current.Step4.OwnershipPercent = fp(51)
				s.Current.Partner = &models.ContactStep{
					FirstName:        "Grace",
					LastName:         "Hopper",
					Email:            "grace@example.com",
					OwnershipPercent: fp(49),
				}
				return s
			}(),
			wantPartner: true,
			validate: func(t *testing.T, fields FieldMap) {
				assert.Equal(t, "Grace", fields[FieldPartnerFirstName])
				assert.Equal(t, "49", fields[FieldPartnerOwnershipPercent])
			},
		},
		{
			name: "legacy hasPartner flag",
			snapshot: func() *models.ApplicationSnapshot {
				s := legacySnapshot()
				s.Legacy.HasPartner = "yes"
				s.Legacy.PartnerFirstName = "Roy"
				s.Legacy.PartnerOwnershipPercent = "25%"
				return s
			}(),
			wantPartner: true,
			validate: func(t *testing.T, fields FieldMap) {
				assert.Equal(t, "Roy", fields[FieldPartnerFirstName])
				assert.Equal(t, "25", fields[FieldPartnerOwnershipPercent])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := NewGenerator().Generate(tt.snapshot)

			_, present := fields[FieldPartnerFirstName]
			assert.Equal(t, tt.wantPartner, present)
			if tt.validate != nil {
				tt.validate(t, fields)
			}
		})
	}
}

// ==========================
// Validation Tests
// ==========================

func TestGenerator_Validate(t *testing.T) {
	g := NewGenerator()

	t.Run("complete snapshot is signable", func(t *testing.T) {
		v := g.Validate(modernSnapshot())
		assert.True(t, v.IsValid)
		assert.Empty(t, v.MissingFields)
	})

	t.Run("legacy-only snapshot is signable with warning", func(t *testing.T) {
		v := g.Validate(legacySnapshot())
		assert.True(t, v.IsValid)
		require.Len(t, v.Warnings, 1)
	})

	t.Run("empty snapshot lists missing required fields", func(t *testing.T) {
		v := g.Validate(&models.ApplicationSnapshot{})
		assert.False(t, v.IsValid)
		assert.Contains(t, v.MissingFields, FieldContactFirstName)
		assert.Contains(t, v.MissingFields, FieldBusinessLegalName)
		assert.Contains(t, v.MissingFields, FieldRequestedAmount)
	})
}

// ==========================
// Coercion Tests
// ==========================

func TestCoercions(t *testing.T) {
	t.Run("amounts", func(t *testing.T) {
		for raw, want := range map[string]string{
			"$12,000":  "12000.00",
			"12000.5":  "12000.50",
			" 980 ":    "980.00",
			"1,234.56": "1234.56",
		} {
			v, err := parseAmount(raw)
			require.NoError(t, err, raw)
			assert.Equal(t, want, formatAmount(v), raw)
		}

		_, err := parseAmount("")
		assert.Error(t, err)
		_, err = parseAmount("a lot")
		assert.Error(t, err)
	})

	t.Run("dates", func(t *testing.T) {
		assert.Equal(t, "06/15/1990", formatDate("1990-06-15"))
		assert.Equal(t, "06/15/1990", formatDate("06/15/1990"))
		assert.Equal(t, "06/05/1990", formatDate("6/5/1990"))
		assert.Equal(t, "06/15/1990", formatDate("1990-06-15T00:00:00Z"))
		assert.Equal(t, "sometime in 1990", formatDate("sometime in 1990"), "unparseable passes through")
		assert.Equal(t, "", formatDate("  "))
	})

	t.Run("percents", func(t *testing.T) {
		v, err := parsePercent("49%")
		require.NoError(t, err)
		assert.Equal(t, "49", formatPercent(v))

		v, err = parsePercent(" 33.5 ")
		require.NoError(t, err)
		assert.Equal(t, "33.5", formatPercent(v))
	})

	t.Run("legacy booleans", func(t *testing.T) {
		assert.True(t, legacyBool("true"))
		assert.True(t, legacyBool("YES"))
		assert.True(t, legacyBool("1"))
		assert.False(t, legacyBool("false"))
		assert.False(t, legacyBool(""))
	})
}
