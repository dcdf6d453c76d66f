package clinicalcheck

import (
	"fmt"
	"strings"

	"github.com/validrx/validrx/internal/domain/clinical"
	"github.com/validrx/validrx/internal/engine"
)

// PatientInput is the wire form of a patient profile
type PatientInput struct {
	WeightKg    float64  `json:"weight_kg"`
	AgeMonths   int      `json:"age_months"`
	Conditions  []string `json:"conditions"`
	Allergies   []string `json:"allergies"`
	CurrentMeds []string `json:"current_meds"`
}

// Build validates the profile
func (p PatientInput) Build() (clinical.Patient, error) {
	return clinical.NewPatient(p.WeightKg, p.AgeMonths, p.Conditions, p.Allergies, p.CurrentMeds)
}

// ItemInput is the wire form of a prescription item. DoseUnit is required.
type ItemInput struct {
	DrugID        string  `json:"drug_id"`
	DoseAmount    float64 `json:"dose_amount"`
	DoseUnit      string  `json:"dose_unit"`
	Route         string  `json:"route"`
	IntervalHours int     `json:"interval_hours"`
}

// Build validates the item
func (it ItemInput) Build() (clinical.PrescriptionItem, error) {
	if strings.TrimSpace(it.DoseUnit) == "" {
		return clinical.PrescriptionItem{}, fmt.Errorf("%w: dose_unit is required (mg or mL)", clinical.ErrInvalidInput)
	}
	u, err := clinical.ParseDoseUnit(it.DoseUnit)
	if err != nil {
		return clinical.PrescriptionItem{}, err
	}
	return clinical.NewPrescriptionItem(it.DrugID, clinical.DoseInput{Amount: it.DoseAmount, Unit: u}, it.Route, it.IntervalHours)
}

// Request is a clinical check over one patient and a list of items
type Request struct {
	RequestID string       `json:"request_id,omitempty"`
	Patient   PatientInput `json:"patient"`
	Items     []ItemInput  `json:"items"`
}

// Build turns the wire request into entities, naming the first bad item
func (r Request) Build() (clinical.Patient, []clinical.PrescriptionItem, error) {
	patient, err := r.Patient.Build()
	if err != nil {
		return clinical.Patient{}, nil, fmt.Errorf("patient: %w", err)
	}

	items := make([]clinical.PrescriptionItem, 0, len(r.Items))
	for i, in := range r.Items {
		item, err := in.Build()
		if err != nil {
			return clinical.Patient{}, nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return patient, items, nil
}

// Response carries per-item results in request order
type Response struct {
	RequestID string              `json:"request_id"`
	Results   []engine.ItemResult `json:"results"`
}
