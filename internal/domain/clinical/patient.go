package clinical

import "strings"

// ChildAgeMonths is the age below which pediatric dosing applies (12 years)
const ChildAgeMonths = 144

// Patient is the profile a prescription is checked against
type Patient struct {
	WeightKg    float64  `json:"weight_kg"`
	AgeMonths   int      `json:"age_months"`
	Conditions  TagSet   `json:"conditions"`
	Allergies   TagSet   `json:"allergies"`
	CurrentMeds []string `json:"current_meds"`
}

// NewPatient validates and builds a patient
func NewPatient(weightKg float64, ageMonths int, conditions, allergies, currentMeds []string) (Patient, error) {
	p := Patient{
		WeightKg:    weightKg,
		AgeMonths:   ageMonths,
		Conditions:  NewTagSet(conditions...),
		Allergies:   NewTagSet(allergies...),
		CurrentMeds: append([]string(nil), currentMeds...),
	}
	if err := p.Validate(); err != nil {
		return Patient{}, err
	}
	return p, nil
}

// Validate checks weight and age
func (p Patient) Validate() error {
	if p.WeightKg <= 0 {
		return invalidf("patient weight must be positive, got %g kg", p.WeightKg)
	}
	if p.AgeMonths < 0 {
		return invalidf("patient age must not be negative, got %d months", p.AgeMonths)
	}
	return nil
}

// IsChild reports whether pediatric dosing applies
func (p Patient) IsChild() bool {
	return p.AgeMonths < ChildAgeMonths
}

// DoseUnit states what a dose amount measures
type DoseUnit string

const (
	// UnitMg is a mass dose used as-is
	UnitMg DoseUnit = "mg"
	// UnitMl is a volume dose scaled by the drug concentration
	UnitMl DoseUnit = "mL"
)

// ParseDoseUnit parses a unit string
func ParseDoseUnit(s string) (DoseUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mg":
		return UnitMg, nil
	case "ml":
		return UnitMl, nil
	default:
		return "", invalidf("unknown dose unit %q (want mg or mL)", s)
	}
}

// DoseInput is a dose amount tagged with its unit
type DoseInput struct {
	Amount float64  `json:"amount"`
	Unit   DoseUnit `json:"unit"`
}

// Mg builds a mass dose
func Mg(amount float64) DoseInput { return DoseInput{Amount: amount, Unit: UnitMg} }

// Ml builds a volume dose
func Ml(amount float64) DoseInput { return DoseInput{Amount: amount, Unit: UnitMl} }

// PrescriptionItem is one proposed order line
type PrescriptionItem struct {
	DrugID        string    `json:"drug_id"`
	Dose          DoseInput `json:"dose"`
	Route         string    `json:"route"`
	IntervalHours int       `json:"interval_hours"`
}

// NewPrescriptionItem validates and builds an item
func NewPrescriptionItem(drugID string, dose DoseInput, route string, intervalHours int) (PrescriptionItem, error) {
	it := PrescriptionItem{DrugID: drugID, Dose: dose, Route: route, IntervalHours: intervalHours}
	if err := it.Validate(); err != nil {
		return PrescriptionItem{}, err
	}
	return it, nil
}

// Validate checks the item before any arithmetic runs on it
func (it PrescriptionItem) Validate() error {
	if strings.TrimSpace(it.DrugID) == "" {
		return invalidf("drug id is required")
	}
	if it.IntervalHours < 1 {
		return invalidf("dosing interval must be at least 1 hour, got %d", it.IntervalHours)
	}
	if it.Dose.Amount < 0 {
		return invalidf("dose must not be negative, got %g", it.Dose.Amount)
	}
	if _, err := ParseDoseUnit(string(it.Dose.Unit)); err != nil {
		return err
	}
	return nil
}
