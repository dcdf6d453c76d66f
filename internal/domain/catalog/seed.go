package catalog

import (
	"strings"

	"github.com/validrx/validrx/internal/domain/clinical"
)

// Route names used by the starter catalog
const (
	RouteIntramuscular = "Intramuscular (IM)"
	RouteIntravenous   = "Endovenosa (IV)"
	RouteSubcutaneous  = "Subcutânea"
	RouteOral          = "Oral"
)

// ConditionCardiacArrest lifts the IV ban on adrenaline
const ConditionCardiacArrest = "parada_cardiaca"

// MissingCardiacArrestGuard reports whether d looks like an adrenaline product
// that permits IV use without a fatal-route condition on the IV route. The IV
// ban is catalog data, so such a drug is never blocked on that route.
func MissingCardiacArrestGuard(d clinical.Drug) bool {
	if !strings.Contains(strings.ToLower(d.Name), "adrenalin") || !d.PermittedRoutes.Has(RouteIntravenous) {
		return false
	}
	for _, fr := range d.FatalRoutes {
		if fr.Route == RouteIntravenous {
			return false
		}
	}
	return true
}

// SeedDrugs returns the starter drug catalog
func SeedDrugs() []clinical.Drug {
	return []clinical.Drug{
		{
			ID:                   "MED_ADRE",
			Name:                 "Adrenalina 1mg/mL",
			ActivePrinciple:      "epinefrina",
			TherapeuticClass:     "vasopressor",
			AllergyFamilies:      clinical.NewTagSet(),
			ConcentrationMgPerMl: 1.0,
			MinAgeMonths:         0,
			AdultMaxDailyMg:      1.0,
			Contraindications:    clinical.NewTagSet(),
			PermittedRoutes:      clinical.NewTagSet(RouteIntramuscular, RouteIntravenous, RouteSubcutaneous),
			FatalRoutes: []clinical.FatalRouteCondition{{
				Route:             RouteIntravenous,
				RequiredCondition: ConditionCardiacArrest,
				Message:           "fatal route error: IV bolus adrenaline outside cardiac arrest, use IM",
			}},
			Pediatric: &clinical.PediatricRule{
				Mode:       clinical.DosingPerDose,
				MinMgPerKg: 0.01,
				MaxMgPerKg: 0.01,
				CeilingMg:  0.5,
			},
		},
		{
			ID:                   "MED_AMOX",
			Name:                 "Amoxicilina Susp. 250mg/5ml",
			ActivePrinciple:      "amoxicilina",
			TherapeuticClass:     "antibiotico",
			AllergyFamilies:      clinical.NewTagSet("penicilina"),
			ConcentrationMgPerMl: 50.0,
			MinAgeMonths:         0,
			AdultMaxDailyMg:      3000.0,
			Contraindications:    clinical.NewTagSet("mononucleose"),
			PermittedRoutes:      clinical.NewTagSet(RouteOral),
			Pediatric: &clinical.PediatricRule{
				Mode:       clinical.DosingPerDay,
				MinMgPerKg: 40,
				MaxMgPerKg: 50,
			},
		},
	}
}

// SeedInteractions returns the starter interaction rules
func SeedInteractions() []clinical.InteractionRule {
	return []clinical.InteractionRule{
		{
			SubstanceA: "varfarina",
			SubstanceB: "ibuprofeno",
			Severity:   clinical.InteractionHigh,
			Message:    "bleeding risk: warfarin with ibuprofen",
		},
	}
}
