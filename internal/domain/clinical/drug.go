package clinical

import (
	"encoding/json"
	"strings"
)

// DosingMode selects how a pediatric rule's mg/kg bounds are applied
type DosingMode string

const (
	// DosingPerDose bounds a single administration
	DosingPerDose DosingMode = "per-dose-per-kg"
	// DosingPerDay bounds the projected total over 24 hours
	DosingPerDay DosingMode = "per-day-per-kg"
)

// ParseDosingMode parses a mode string, accepting the legacy catalog spellings
func ParseDosingMode(s string) (DosingMode, error) {
	switch strings.TrimSpace(s) {
	case string(DosingPerDose), "mg_kg_dose":
		return DosingPerDose, nil
	case string(DosingPerDay), "mg_kg_dia":
		return DosingPerDay, nil
	default:
		return "", invalidf("unknown pediatric dosing mode %q", s)
	}
}

// UnmarshalJSON accepts the same spellings as ParseDosingMode
func (m *DosingMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDosingMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// PediatricRule holds weight-proportional dose bounds for children
type PediatricRule struct {
	Mode       DosingMode `json:"mode"`
	MinMgPerKg float64    `json:"min_mg_per_kg"`
	MaxMgPerKg float64    `json:"max_mg_per_kg"`
	// CeilingMg is an absolute per-dose cap; 0 disables it
	CeilingMg float64 `json:"ceiling_mg"`
}

// NewPediatricRule parses the mode and validates the bounds
func NewPediatricRule(mode string, minMgPerKg, maxMgPerKg, ceilingMg float64) (*PediatricRule, error) {
	m, err := ParseDosingMode(mode)
	if err != nil {
		return nil, err
	}
	r := &PediatricRule{Mode: m, MinMgPerKg: minMgPerKg, MaxMgPerKg: maxMgPerKg, CeilingMg: ceilingMg}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the rule invariants
func (r *PediatricRule) Validate() error {
	if _, err := ParseDosingMode(string(r.Mode)); err != nil {
		return err
	}
	if r.MinMgPerKg < 0 || r.MaxMgPerKg < 0 || r.CeilingMg < 0 {
		return invalidf("pediatric bounds must not be negative")
	}
	if r.MinMgPerKg != 0 && r.MaxMgPerKg != 0 && r.MinMgPerKg > r.MaxMgPerKg {
		return invalidf("pediatric min %.4g mg/kg exceeds max %.4g mg/kg", r.MinMgPerKg, r.MaxMgPerKg)
	}
	return nil
}

// FatalRouteCondition forbids a route unless the patient carries a condition tag.
// Example: adrenaline IV only during cardiac arrest.
type FatalRouteCondition struct {
	Route             string `json:"route"`
	RequiredCondition string `json:"required_condition"`
	Message           string `json:"message"`
}

// Drug is a catalog entry
type Drug struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ActivePrinciple  string `json:"active_principle"`
	TherapeuticClass string `json:"therapeutic_class"`
	AllergyFamilies  TagSet `json:"allergy_families"`
	// ConcentrationMgPerMl converts a volume dose to mg; 0 means the drug has no concentration
	ConcentrationMgPerMl float64               `json:"concentration_mg_per_ml"`
	MinAgeMonths         int                   `json:"min_age_months"`
	AdultMaxDailyMg      float64               `json:"adult_max_daily_mg"`
	Contraindications    TagSet                `json:"contraindications"`
	PermittedRoutes      TagSet                `json:"permitted_routes"`
	FatalRoutes          []FatalRouteCondition `json:"fatal_routes,omitempty"`
	Pediatric            *PediatricRule        `json:"pediatric,omitempty"`
}

// Validate checks the catalog invariants of a drug record
func (d *Drug) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return invalidf("drug id is required")
	}
	if len(d.PermittedRoutes) == 0 {
		return invalidf("drug %s must permit at least one route", d.ID)
	}
	if d.ConcentrationMgPerMl < 0 {
		return invalidf("drug %s has a negative concentration", d.ID)
	}
	if d.MinAgeMonths < 0 {
		return invalidf("drug %s has a negative minimum age", d.ID)
	}
	for _, f := range d.FatalRoutes {
		if f.Route == "" || f.RequiredCondition == "" {
			return invalidf("drug %s has an incomplete fatal route condition", d.ID)
		}
	}
	if d.Pediatric != nil {
		if err := d.Pediatric.Validate(); err != nil {
			return err
		}
	}
	return nil
}
