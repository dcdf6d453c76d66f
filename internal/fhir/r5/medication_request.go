package r5

import (
	"strings"
	"time"
)

// MedicationRequest represents a FHIR R5 MedicationRequest resource.
// Only the elements a clinical check reads are modelled.
type MedicationRequest struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Meta         *Meta  `json:"meta,omitempty"`

	Identifier []Identifier `json:"identifier,omitempty"`

	Status string `json:"status"`
	Intent string `json:"intent"`

	Priority     string `json:"priority,omitempty"` // routine | urgent | asap | stat
	DoNotPerform bool   `json:"doNotPerform,omitempty"`

	// Medication being requested (R5 uses CodeableReference)
	Medication CodeableReference `json:"medication"`

	Subject    Reference  `json:"subject"`
	AuthoredOn *time.Time `json:"authoredOn,omitempty"`
	Requester  *Reference `json:"requester,omitempty"`

	RenderedDosageInstruction string   `json:"renderedDosageInstruction,omitempty"`
	DosageInstruction         []Dosage `json:"dosageInstruction,omitempty"`
}

// Dosage contains dosage instructions for the medication.
type Dosage struct {
	Sequence    int              `json:"sequence,omitempty"`
	Text        string           `json:"text,omitempty"`
	Timing      *Timing          `json:"timing,omitempty"`
	AsNeeded    bool             `json:"asNeeded,omitempty"`
	Site        *CodeableConcept `json:"site,omitempty"`
	Route       *CodeableConcept `json:"route,omitempty"`
	Method      *CodeableConcept `json:"method,omitempty"`
	DoseAndRate []DoseAndRate    `json:"doseAndRate,omitempty"`
}

// DoseAndRate contains dose/rate information.
type DoseAndRate struct {
	Type         *CodeableConcept `json:"type,omitempty"`
	DoseRange    *Range           `json:"doseRange,omitempty"`
	DoseQuantity *Quantity        `json:"doseQuantity,omitempty"`
	RateRatio    *Ratio           `json:"rateRatio,omitempty"`
	RateQuantity *Quantity        `json:"rateQuantity,omitempty"`
}

// Timing contains timing information for dosage.
type Timing struct {
	Repeat *TimingRepeat    `json:"repeat,omitempty"`
	Code   *CodeableConcept `json:"code,omitempty"`
}

// TimingRepeat contains repeat details for timing.
type TimingRepeat struct {
	BoundsDuration *Duration `json:"boundsDuration,omitempty"`
	Count          int       `json:"count,omitempty"`
	Frequency      int       `json:"frequency,omitempty"`
	FrequencyMax   int       `json:"frequencyMax,omitempty"`
	Period         float64   `json:"period,omitempty"`
	PeriodMax      float64   `json:"periodMax,omitempty"`
	PeriodUnit     string    `json:"periodUnit,omitempty"` // s | min | h | d | wk | mo | a
	TimeOfDay      []string  `json:"timeOfDay,omitempty"`
	When           []string  `json:"when,omitempty"`
}

// GetMedicationCode returns the catalog drug id: a coding in the ValidRx system,
// else a Medication/<id> reference, else the first coding.
func (m *MedicationRequest) GetMedicationCode() string {
	if c := m.Medication.Concept; c != nil {
		for _, coding := range c.Coding {
			if coding.System == SystemValidRxDrug && coding.Code != "" {
				return coding.Code
			}
		}
	}
	if ref := m.Medication.Reference; ref != nil && strings.HasPrefix(ref.Reference, "Medication/") {
		return extractIDFromReference(ref.Reference)
	}
	if c := m.Medication.Concept; c != nil && len(c.Coding) > 0 {
		return c.Coding[0].Code
	}
	return ""
}

// GetMedicationDisplay returns the display name of the medication.
func (m *MedicationRequest) GetMedicationDisplay() string {
	if m.Medication.Concept != nil && m.Medication.Concept.Text != "" {
		return m.Medication.Concept.Text
	}
	if m.Medication.Concept != nil && len(m.Medication.Concept.Coding) > 0 {
		return m.Medication.Concept.Coding[0].Display
	}
	if m.Medication.Reference != nil {
		return m.Medication.Reference.Display
	}
	return ""
}

// PrimaryDosage returns the first dosage instruction, or nil.
func (m *MedicationRequest) PrimaryDosage() *Dosage {
	if len(m.DosageInstruction) == 0 {
		return nil
	}
	return &m.DosageInstruction[0]
}

// GetDoseQuantity returns the first fixed dose quantity, or nil.
func (d *Dosage) GetDoseQuantity() *Quantity {
	for _, dr := range d.DoseAndRate {
		if dr.DoseQuantity != nil {
			return dr.DoseQuantity
		}
	}
	return nil
}

// GetRouteName returns the route text, falling back to the first coding's display then code.
func (d *Dosage) GetRouteName() string {
	if d.Route == nil {
		return ""
	}
	if d.Route.Text != "" {
		return d.Route.Text
	}
	for _, c := range d.Route.Coding {
		if c.Display != "" {
			return c.Display
		}
		if c.Code != "" {
			return c.Code
		}
	}
	return ""
}

// extractIDFromReference extracts the ID from a FHIR reference string.
func extractIDFromReference(ref string) string {
	// Handle references like "Patient/123" or "urn:uuid:123"
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '/' || ref[i] == ':' {
			return ref[i+1:]
		}
	}
	return ref
}
