// Package engine implements the clinical validation engine: dose arithmetic,
// the layered rule pipeline and per-item result aggregation.
//
// Every function here is a pure computation over its arguments. Callers pass a
// Snapshot of the catalog for each call; nothing is cached between calls.
package engine

import (
	"fmt"
	"math"

	"github.com/validrx/validrx/internal/domain/clinical"
)

// Round4 rounds half away from zero at four decimal places
func Round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}

// NormalizeDose converts a dose input to milligrams.
// Volume doses require a drug with a concentration; mass doses are taken as-is.
func NormalizeDose(drug clinical.Drug, dose clinical.DoseInput) (float64, error) {
	unit, err := clinical.ParseDoseUnit(string(dose.Unit))
	if err != nil {
		return 0, err
	}
	if unit == clinical.UnitMg {
		return dose.Amount, nil
	}
	if drug.ConcentrationMgPerMl <= 0 {
		return 0, fmt.Errorf("%w: drug %s has no concentration, dose must be given in mg",
			clinical.ErrInvalidInput, drug.ID)
	}
	return dose.Amount * drug.ConcentrationMgPerMl, nil
}

// dailyProjection scales a single dose to a 24 hour total
func dailyProjection(doseMg float64, intervalHours int) (float64, error) {
	if intervalHours < 1 {
		return 0, fmt.Errorf("%w: dosing interval must be at least 1 hour, got %d",
			clinical.ErrInvalidInput, intervalHours)
	}
	return doseMg * (24 / float64(intervalHours)), nil
}

// PediatricCompare returns the value to test against a pediatric rule and the
// weight-scaled bounds it must fall within
func PediatricCompare(rule clinical.PediatricRule, weightKg, doseMg float64, intervalHours int) (value, minBound, maxBound float64, err error) {
	minBound = Round4(weightKg * rule.MinMgPerKg)
	maxBound = Round4(weightKg * rule.MaxMgPerKg)

	mode, err := clinical.ParseDosingMode(string(rule.Mode))
	if err != nil {
		return 0, 0, 0, err
	}

	switch mode {
	case clinical.DosingPerDose:
		value = doseMg
	case clinical.DosingPerDay:
		value, err = dailyProjection(doseMg, intervalHours)
		if err != nil {
			return 0, 0, 0, err
		}
	}

	return Round4(value), minBound, maxBound, nil
}

// AdultDailyDose projects a single dose to its daily total
func AdultDailyDose(doseMg float64, intervalHours int) (float64, error) {
	v, err := dailyProjection(doseMg, intervalHours)
	if err != nil {
		return 0, err
	}
	return Round4(v), nil
}
