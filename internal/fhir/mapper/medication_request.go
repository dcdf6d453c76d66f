// Package mapper turns FHIR R5 MedicationRequests into prescription items.
package mapper

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/validrx/validrx/internal/domain/clinical"
	fhir "github.com/validrx/validrx/internal/fhir/r5"
)

// MapError represents a mapping error with the offending element
type MapError struct {
	// Field is a FHIRPath-style expression for the element, e.g. MedicationRequest.medication
	Field   string
	Code    string
	Message string
	Cause   error
}

func (e *MapError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *MapError) Unwrap() error {
	return e.Cause
}

func invalid(field, code, format string, args ...interface{}) *MapError {
	return &MapError{Field: field, Code: code, Message: fmt.Sprintf(format, args...), Cause: clinical.ErrInvalidInput}
}

// hoursPerUnit converts UCUM timing units to hours
var hoursPerUnit = map[string]float64{
	"h":  1,
	"d":  24,
	"wk": 24 * 7,
}

// maxIntervalHours is one year
const maxIntervalHours = 24 * 365

// ToPrescriptionItem maps one MedicationRequest.
// The first dosage instruction supplies dose, route and interval.
func ToPrescriptionItem(mr *fhir.MedicationRequest) (clinical.PrescriptionItem, error) {
	if mr == nil {
		return clinical.PrescriptionItem{}, invalid("MedicationRequest", fhir.IssueRequired, "resource is required")
	}
	if mr.ResourceType != "" && mr.ResourceType != "MedicationRequest" {
		return clinical.PrescriptionItem{}, invalid("resourceType", fhir.IssueInvalid, "expected MedicationRequest, got %s", mr.ResourceType)
	}
	if mr.DoNotPerform {
		return clinical.PrescriptionItem{}, invalid("MedicationRequest.doNotPerform", fhir.IssueInvalid, "do-not-perform requests cannot be checked")
	}
	switch mr.Status {
	case fhir.StatusCancelled, fhir.StatusEnteredInError, fhir.StatusStopped, fhir.StatusCompleted:
		return clinical.PrescriptionItem{}, invalid("MedicationRequest.status", fhir.IssueInvalid, "status %s is not checkable", mr.Status)
	}

	drugID := mr.GetMedicationCode()
	if drugID == "" {
		if name := mr.GetMedicationDisplay(); name != "" {
			return clinical.PrescriptionItem{}, invalid("MedicationRequest.medication", fhir.IssueRequired, "no drug code for %q", name)
		}
		return clinical.PrescriptionItem{}, invalid("MedicationRequest.medication", fhir.IssueRequired, "no drug code")
	}

	dosage := mr.PrimaryDosage()
	if dosage == nil {
		return clinical.PrescriptionItem{}, invalid("MedicationRequest.dosageInstruction", fhir.IssueRequired, "dosage instruction is required")
	}

	dose, err := mapDose(dosage)
	if err != nil {
		return clinical.PrescriptionItem{}, err
	}

	route := dosage.GetRouteName()
	if route == "" {
		return clinical.PrescriptionItem{}, invalid("MedicationRequest.dosageInstruction[0].route", fhir.IssueRequired, "route is required")
	}

	interval, err := intervalHours(dosage.Timing)
	if err != nil {
		return clinical.PrescriptionItem{}, err
	}

	item, err := clinical.NewPrescriptionItem(drugID, dose, route, interval)
	if err != nil {
		return clinical.PrescriptionItem{}, &MapError{Field: "MedicationRequest", Code: fhir.IssueInvalid, Message: "invalid prescription item", Cause: err}
	}
	return item, nil
}

func mapDose(d *fhir.Dosage) (clinical.DoseInput, error) {
	const field = "MedicationRequest.dosageInstruction[0].doseAndRate[0].doseQuantity"

	q := d.GetDoseQuantity()
	if q == nil {
		return clinical.DoseInput{}, invalid(field, fhir.IssueRequired, "a fixed dose quantity is required")
	}
	if q.Comparator != "" {
		return clinical.DoseInput{}, invalid(field, fhir.IssueInvalid, "dose comparators are not supported")
	}

	unit := q.Code
	if unit == "" {
		unit = q.Unit
	}
	u, err := clinical.ParseDoseUnit(unit)
	if err != nil {
		return clinical.DoseInput{}, &MapError{Field: field, Code: fhir.IssueInvalid, Message: "unsupported dose unit", Cause: err}
	}
	return clinical.DoseInput{Amount: q.Value, Unit: u}, nil
}

// intervalHours reads timing.repeat as "frequency times per period periodUnit".
// The result must be a whole number of hours.
func intervalHours(t *fhir.Timing) (int, error) {
	const field = "MedicationRequest.dosageInstruction[0].timing.repeat"

	if t == nil || t.Repeat == nil {
		return 0, invalid(field, fhir.IssueRequired, "timing.repeat is required")
	}
	r := t.Repeat

	perHour, ok := hoursPerUnit[strings.TrimSpace(r.PeriodUnit)]
	if !ok {
		return 0, invalid(field+".periodUnit", fhir.IssueInvalid, "unsupported period unit %q (want h, d or wk)", r.PeriodUnit)
	}
	if r.Period <= 0 {
		return 0, invalid(field+".period", fhir.IssueInvalid, "period must be positive")
	}

	frequency := r.Frequency
	if frequency == 0 {
		frequency = 1
	}
	if frequency < 0 {
		return 0, invalid(field+".frequency", fhir.IssueInvalid, "frequency must be positive")
	}

	hours := r.Period * perHour / float64(frequency)
	if hours < 1 {
		return 0, invalid(field, fhir.IssueInvalid, "dosing interval of %g hours is shorter than one hour", hours)
	}
	if hours > maxIntervalHours {
		return 0, invalid(field, fhir.IssueInvalid, "dosing interval of %g hours exceeds %d hours", hours, maxIntervalHours)
	}
	whole := math.Round(hours)
	if math.Abs(hours-whole) > 1e-9 {
		return 0, invalid(field, fhir.IssueInvalid, "dosing interval of %g hours is not a whole number of hours", hours)
	}
	return int(whole), nil
}

// OutcomeFor builds an OperationOutcome for a mapping or validation error
func OutcomeFor(err error, index int) *fhir.OperationOutcome {
	var me *MapError
	if errors.As(err, &me) {
		return fhir.NewErrorOutcome(me.Code, me.Error(), fmt.Sprintf("medication_requests[%d].%s", index, me.Field))
	}
	return fhir.NewErrorOutcome(fhir.IssueInvalid, err.Error())
}
