package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/validrx/validrx/internal/domain/clinical"
)

// Snapshot is the read-only catalog view supplied to one validation call.
// It may be shared by concurrent calls as long as nobody mutates it.
type Snapshot struct {
	Drugs        map[string]clinical.Drug
	Interactions []clinical.InteractionRule
}

// NewSnapshot indexes drugs by identifier
func NewSnapshot(drugs []clinical.Drug, interactions []clinical.InteractionRule) Snapshot {
	idx := make(map[string]clinical.Drug, len(drugs))
	for _, d := range drugs {
		idx[d.ID] = d
	}
	return Snapshot{Drugs: idx, Interactions: interactions}
}

// checkContext carries the resolved inputs shared by every layer
type checkContext struct {
	snap        Snapshot
	drug        clinical.Drug
	patient     clinical.Patient
	item        clinical.PrescriptionItem
	doseMg      float64
	currentMeds []clinical.Drug
}

type layer func(c *checkContext) ([]clinical.Alert, error)

// layers run in this order; the order is visible in the alert list
var layers = []layer{
	checkRoute,
	checkAge,
	checkAllergy,
	checkContraindication,
	checkDuplicateClass,
	checkInteractions,
	checkPosology,
}

// Validate runs every check against one prescription item and returns the alerts in layer order.
// An error is returned only for malformed input; clinical findings are alerts.
func Validate(snap Snapshot, patient clinical.Patient, item clinical.PrescriptionItem) ([]clinical.Alert, error) {
	if err := patient.Validate(); err != nil {
		return nil, err
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	drug, ok := snap.Drugs[item.DrugID]
	if !ok {
		return []clinical.Alert{warning(clinical.CodeDrugNotFound,
			fmt.Sprintf("drug %s not found in catalog", item.DrugID))}, nil
	}

	doseMg, err := NormalizeDose(drug, item.Dose)
	if err != nil {
		return nil, err
	}

	c := &checkContext{
		snap:    snap,
		drug:    drug,
		patient: patient,
		item:    item,
		doseMg:  doseMg,
	}
	for _, id := range patient.CurrentMeds {
		if med, ok := snap.Drugs[id]; ok {
			c.currentMeds = append(c.currentMeds, med)
		}
	}

	alerts := []clinical.Alert{}
	for _, l := range layers {
		found, err := l(c)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, found...)
	}
	return alerts, nil
}

func checkRoute(c *checkContext) ([]clinical.Alert, error) {
	var out []clinical.Alert
	if !c.drug.PermittedRoutes.Has(c.item.Route) {
		out = append(out, block(clinical.CodeRoute, fmt.Sprintf("route error: %s permits only %s",
			c.drug.Name, strings.Join(c.drug.PermittedRoutes.Slice(), ", "))))
	}

	// evaluated independently of the permitted-route check
	for _, f := range c.drug.FatalRoutes {
		if f.Route != c.item.Route || c.patient.Conditions.Has(f.RequiredCondition) {
			continue
		}
		msg := f.Message
		if msg == "" {
			msg = fmt.Sprintf("fatal route error: %s via %s is only permitted with %s",
				c.drug.Name, f.Route, f.RequiredCondition)
		}
		out = append(out, block(clinical.CodeFatalRoute, msg))
	}
	return out, nil
}

func checkAge(c *checkContext) ([]clinical.Alert, error) {
	if c.patient.AgeMonths >= c.drug.MinAgeMonths {
		return nil, nil
	}
	return []clinical.Alert{block(clinical.CodeAge, fmt.Sprintf("not permitted at age %d months (minimum %d months)",
		c.patient.AgeMonths, c.drug.MinAgeMonths))}, nil
}

func checkAllergy(c *checkContext) ([]clinical.Alert, error) {
	matches := c.drug.AllergyFamilies.Intersect(c.patient.Allergies)
	if len(matches) == 0 {
		return nil, nil
	}
	return []clinical.Alert{block(clinical.CodeAllergy,
		"allergy detected: "+strings.Join(matches, ", "))}, nil
}

func checkContraindication(c *checkContext) ([]clinical.Alert, error) {
	matches := c.drug.Contraindications.Intersect(c.patient.Conditions)
	if len(matches) == 0 {
		return nil, nil
	}
	return []clinical.Alert{block(clinical.CodeContraindication,
		"contraindicated for: "+strings.Join(matches, ", "))}, nil
}

func checkDuplicateClass(c *checkContext) ([]clinical.Alert, error) {
	for _, med := range c.currentMeds {
		if med.TherapeuticClass == c.drug.TherapeuticClass {
			return []clinical.Alert{warning(clinical.CodeDuplicateClass,
				fmt.Sprintf("duplicate therapy: class '%s' already in use", c.drug.TherapeuticClass))}, nil
		}
	}
	return nil, nil
}

func checkInteractions(c *checkContext) ([]clinical.Alert, error) {
	principles := clinical.NewTagSet(c.drug.ActivePrinciple)
	for _, med := range c.currentMeds {
		principles[med.ActivePrinciple] = struct{}{}
	}

	var out []clinical.Alert
	for _, rule := range c.snap.Interactions {
		if !rule.MatchedBy(principles) {
			continue
		}
		if rule.Severity == clinical.InteractionHigh {
			out = append(out, block(clinical.CodeInteraction, rule.Message))
		} else {
			out = append(out, warning(clinical.CodeInteraction, rule.Message))
		}
	}
	return out, nil
}

func checkPosology(c *checkContext) ([]clinical.Alert, error) {
	if !c.patient.IsChild() {
		daily, err := AdultDailyDose(c.doseMg, c.item.IntervalHours)
		if err != nil {
			return nil, err
		}
		if daily > c.drug.AdultMaxDailyMg {
			return []clinical.Alert{block(clinical.CodeAdultDailyMax, fmt.Sprintf("adult maximum daily dose exceeded: %smg > %smg",
				formatMg(daily), formatMg(c.drug.AdultMaxDailyMg)))}, nil
		}
		return nil, nil
	}

	// children without a pediatric rule get no posology alert
	rule := c.drug.Pediatric
	if rule == nil {
		return nil, nil
	}

	value, minBound, maxBound, err := PediatricCompare(*rule, c.patient.WeightKg, c.doseMg, c.item.IntervalHours)
	if err != nil {
		return nil, err
	}

	switch {
	case rule.CeilingMg > 0 && value > rule.CeilingMg:
		return []clinical.Alert{block(clinical.CodePediatricCeiling, fmt.Sprintf("absolute ceiling exceeded: %smg > %smg",
			formatMg(value), formatMg(rule.CeilingMg)))}, nil
	case value > maxBound:
		return []clinical.Alert{block(clinical.CodePediatricOverdose, fmt.Sprintf("toxic overdose: %smg > %smg",
			formatMg(value), formatMg(maxBound)))}, nil
	case value < minBound:
		return []clinical.Alert{warning(clinical.CodePediatricUnderdose, fmt.Sprintf("underdose: %smg < %smg",
			formatMg(value), formatMg(minBound)))}, nil
	}
	return nil, nil
}

func block(code clinical.AlertCode, msg string) clinical.Alert {
	return clinical.Alert{Severity: clinical.SeverityBlock, Code: code, Message: msg}
}

func warning(code clinical.AlertCode, msg string) clinical.Alert {
	return clinical.Alert{Severity: clinical.SeverityWarning, Code: code, Message: msg}
}

func formatMg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
