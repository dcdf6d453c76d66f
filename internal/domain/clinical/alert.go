package clinical

// Severity of an alert
type Severity string

const (
	// SeverityBlock stops use of the drug
	SeverityBlock Severity = "BLOCK"
	// SeverityWarning flags the order for review
	SeverityWarning Severity = "WARNING"
)

// AlertCode identifies the check that produced an alert
type AlertCode string

const (
	CodeDrugNotFound       AlertCode = "drug_not_found"
	CodeRoute              AlertCode = "route"
	CodeFatalRoute         AlertCode = "fatal_route"
	CodeAge                AlertCode = "age"
	CodeAllergy            AlertCode = "allergy"
	CodeContraindication   AlertCode = "contraindication"
	CodeDuplicateClass     AlertCode = "duplicate_class"
	CodeInteraction        AlertCode = "interaction"
	CodePediatricCeiling   AlertCode = "pediatric_ceiling"
	CodePediatricOverdose  AlertCode = "pediatric_overdose"
	CodePediatricUnderdose AlertCode = "pediatric_underdose"
	CodeAdultDailyMax      AlertCode = "adult_daily_max"
)

// Alert is one finding from a validation layer
type Alert struct {
	Severity Severity  `json:"severity"`
	Code     AlertCode `json:"code"`
	Message  string    `json:"message"`
}

// Status is the outcome for one prescription item
type Status string

const (
	StatusBlocked  Status = "BLOCKED"
	StatusWarning  Status = "WARNING"
	StatusApproved Status = "APPROVED"
)
