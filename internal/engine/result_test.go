package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/validrx/validrx/internal/domain/clinical"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		alerts []clinical.Alert
		want   clinical.Status
	}{
		{"no alerts", nil, clinical.StatusApproved},
		{"empty alerts", []clinical.Alert{}, clinical.StatusApproved},
		{"only warnings", []clinical.Alert{warning(clinical.CodeDuplicateClass, "x"), warning(clinical.CodeInteraction, "y")}, clinical.StatusWarning},
		{"block last", []clinical.Alert{warning(clinical.CodeDuplicateClass, "x"), block(clinical.CodeAllergy, "y")}, clinical.StatusBlocked},
		{"block only", []clinical.Alert{block(clinical.CodeRoute, "x")}, clinical.StatusBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.alerts); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckItems(t *testing.T) {
	snap := testSnapshot()
	p := adult(t, nil, []string{"penicilina"}, []string{"MED_IBU"})

	items := []clinical.PrescriptionItem{
		item(t, "MED_AMOX", clinical.Mg(500), routeOral, 8),
		item(t, "MED_NAPRO", clinical.Mg(250), routeOral, 12),
		item(t, "MED_ADRE", clinical.Ml(0.5), routeIM, 24),
		item(t, "MED_MISSING", clinical.Mg(1), routeOral, 24),
	}

	results, err := CheckItems(snap, p, items)
	if err != nil {
		t.Fatalf("CheckItems: %v", err)
	}
	if len(results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(results))
	}

	want := []struct {
		id     string
		status clinical.Status
	}{
		{"MED_AMOX", clinical.StatusBlocked},
		{"MED_NAPRO", clinical.StatusWarning},
		{"MED_ADRE", clinical.StatusApproved},
		{"MED_MISSING", clinical.StatusWarning},
	}
	for i, w := range want {
		if results[i].DrugID != w.id || results[i].Status != w.status {
			t.Errorf("result %d = %s/%s, want %s/%s", i, results[i].DrugID, results[i].Status, w.id, w.status)
		}
	}
	if results[2].Alerts == nil {
		t.Error("approved items should carry an empty, non-nil alert list")
	}
}

func TestCheckItems_ItemsDoNotAffectEachOther(t *testing.T) {
	snap := testSnapshot()
	p := adult(t, nil, nil, nil)

	// warfarin and ibuprofen prescribed together are not each other's current meds
	results, err := CheckItems(snap, p, []clinical.PrescriptionItem{
		item(t, "MED_WARF", clinical.Mg(5), routeOral, 24),
		item(t, "MED_IBU", clinical.Mg(400), routeOral, 8),
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Status != clinical.StatusApproved {
			t.Errorf("%s: expected APPROVED, got %s %v", r.DrugID, r.Status, r.Alerts)
		}
	}
}

func TestCheckItems_InvalidItem(t *testing.T) {
	snap := testSnapshot()
	p := adult(t, nil, nil, nil)

	_, err := CheckItems(snap, p, []clinical.PrescriptionItem{
		item(t, "MED_AMOX", clinical.Mg(500), routeOral, 8),
		{DrugID: "MED_WARF", Dose: clinical.Ml(1), Route: routeOral, IntervalHours: 24},
	})
	if !errors.Is(err, clinical.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !strings.Contains(err.Error(), "item 1 (MED_WARF)") {
		t.Errorf("error should name the failing item: %v", err)
	}
}

func TestCheckItems_Empty(t *testing.T) {
	results, err := CheckItems(testSnapshot(), adult(t, nil, nil, nil), nil)
	if err != nil || len(results) != 0 {
		t.Errorf("got %v, %v", results, err)
	}
}
