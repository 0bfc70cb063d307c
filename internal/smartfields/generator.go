// internal/smartfields/generator.go
package smartfields

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"loanflow/internal/models"
)

// accessor extracts one candidate value for a canonical field from a snapshot.
// It reports false when its source shape is absent or empty.
type accessor func(s *models.ApplicationSnapshot) (string, bool)

// fieldChain is the ordered fallback list for one canonical field: current
// structured path first, then legacy flat field, then a derived default. The
// order is fixed per field, never inferred at runtime.
type fieldChain struct {
	name      string
	accessors []accessor
}

// Generator flattens heterogeneous application snapshots into the canonical
// field map. Generation is deterministic: the same snapshot always yields the
// same map, which keeps retried signing jobs prefilled identically.
type Generator struct {
	chains        []fieldChain
	partnerChains []fieldChain
}

func NewGenerator() *Generator {
	return &Generator{
		chains:        buildChains(),
		partnerChains: buildPartnerChains(),
	}
}

// Generate produces the canonical field map for a snapshot. Fields with no
// value in any chain link resolve to the empty string. The partner group is
// included only when ownership data indicates multiple owners; otherwise its
// fields are omitted entirely.
func (g *Generator) Generate(s *models.ApplicationSnapshot) FieldMap {
	out := make(FieldMap, len(g.chains)+len(g.partnerChains))
	for _, chain := range g.chains {
		out[chain.name] = resolve(chain, s)
	}

	if hasPartner(s) {
		for _, chain := range g.partnerChains {
			out[chain.name] = resolve(chain, s)
		}
	}
	return out
}

// Validation is the result of checking a snapshot for signability.
type Validation struct {
	IsValid       bool     `json:"isValid"`
	MissingFields []string `json:"missingFields,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Validate reports whether a snapshot can produce a signable document and
// which required fields are missing.
func (g *Generator) Validate(s *models.ApplicationSnapshot) Validation {
	fields := g.Generate(s)

	v := Validation{IsValid: true}
	for _, name := range requiredFields {
		if fields[name] == "" {
			v.IsValid = false
			v.MissingFields = append(v.MissingFields, name)
		}
	}

	if s.Current == nil && s.Legacy != nil {
		v.Warnings = append(v.Warnings, "snapshot carries legacy-shape data only")
	}
	if hasPartner(s) && fields[FieldPartnerFirstName] == "" {
		v.Warnings = append(v.Warnings, "ownership indicates a partner but no partner contact is present")
	}
	return v
}

func resolve(chain fieldChain, s *models.ApplicationSnapshot) string {
	for _, get := range chain.accessors {
		if val, ok := get(s); ok {
			return val
		}
	}
	return ""
}

// hasPartner reports whether ownership-percentage data indicates multiple
// owners: anything below 100% on the primary owner.
func hasPartner(s *models.ApplicationSnapshot) bool {
	if s.Current != nil {
		if s.Current.Partner != nil {
			return true
		}
		if s.Current.Step4 != nil && s.Current.Step4.OwnershipPercent != nil {
			return *s.Current.Step4.OwnershipPercent < 100
		}
	}
	if s.Legacy != nil {
		if legacyBool(s.Legacy.HasPartner) {
			return true
		}
		if pct, err := parsePercent(s.Legacy.OwnershipPercent); err == nil {
			return pct < 100
		}
	}
	return false
}

// ==========================
// Coercion helpers
// ==========================

// formatAmount renders a numeric amount in the canonical document format:
// two decimal places, no thousands separators.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// parseAmount accepts legacy string amounts ("$12,000", "12000.50").
func parseAmount(raw string) (float64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}
	return strconv.ParseFloat(cleaned, 64)
}

// formatPercent renders an ownership percentage without trailing zeros.
func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parsePercent(raw string) (float64, error) {
	cleaned := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if cleaned == "" {
		return 0, fmt.Errorf("empty percent")
	}
	return strconv.ParseFloat(cleaned, 64)
}

// dateInputLayouts are the shapes dates have historically arrived in.
var dateInputLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	time.RFC3339,
}

const dateCanonicalLayout = "01/02/2006"

// formatDate coerces any historical date shape to the single canonical layout
// used on signing documents. Unparseable input passes through untouched so a
// human reviewer still sees the original value.
func formatDate(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	for _, layout := range dateInputLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format(dateCanonicalLayout)
		}
	}
	return trimmed
}

// legacyBool accepts the legacy string encodings of true.
func legacyBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

func nonEmpty(v string) (string, bool) {
	trimmed := strings.TrimSpace(v)
	return trimmed, trimmed != ""
}
