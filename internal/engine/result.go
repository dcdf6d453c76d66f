package engine

import (
	"fmt"

	"github.com/validrx/validrx/internal/domain/clinical"
)

// ItemResult is the outcome for one prescription item
type ItemResult struct {
	DrugID string           `json:"drug_id"`
	Status clinical.Status  `json:"status"`
	Alerts []clinical.Alert `json:"alerts"`
}

// StatusOf reduces one item's alerts to a status
func StatusOf(alerts []clinical.Alert) clinical.Status {
	if len(alerts) == 0 {
		return clinical.StatusApproved
	}
	for _, a := range alerts {
		if a.Severity == clinical.SeverityBlock {
			return clinical.StatusBlocked
		}
	}
	return clinical.StatusWarning
}

// CheckItems validates each item independently and reports them in input order.
// No combined status is produced; callers reduce across items if they need to.
func CheckItems(snap Snapshot, patient clinical.Patient, items []clinical.PrescriptionItem) ([]ItemResult, error) {
	results := make([]ItemResult, 0, len(items))
	for i, item := range items {
		alerts, err := Validate(snap, patient, item)
		if err != nil {
			return nil, fmt.Errorf("item %d (%s): %w", i, item.DrugID, err)
		}
		results = append(results, ItemResult{
			DrugID: item.DrugID,
			Status: StatusOf(alerts),
			Alerts: alerts,
		})
	}
	return results, nil
}
