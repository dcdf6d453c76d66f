package catalog

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/validrx/validrx/internal/domain/clinical"
	"github.com/validrx/validrx/internal/engine"
	"github.com/validrx/validrx/internal/infrastructure/redpanda"
)

func TestSeedCatalogIsValid(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range SeedDrugs() {
		if err := d.Validate(); err != nil {
			t.Errorf("seed drug %s invalid: %v", d.ID, err)
		}
		if seen[d.ID] {
			t.Errorf("duplicate seed id %s", d.ID)
		}
		seen[d.ID] = true
	}
	for _, r := range SeedInteractions() {
		if err := r.Validate(); err != nil {
			t.Errorf("seed interaction invalid: %v", err)
		}
	}
}

func TestSeedCatalogScenarios(t *testing.T) {
	snap := engine.NewSnapshot(SeedDrugs(), SeedInteractions())

	adult, err := clinical.NewPatient(70, 480, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	iv, _ := clinical.NewPrescriptionItem("MED_ADRE", clinical.Ml(1), RouteIntravenous, 24)

	results, err := engine.CheckItems(snap, adult, []clinical.PrescriptionItem{iv})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Status != clinical.StatusBlocked {
		t.Errorf("IV adrenaline outside cardiac arrest should block, got %+v", results[0])
	}

	arrest, _ := clinical.NewPatient(70, 480, []string{ConditionCardiacArrest}, nil, nil)
	results, err = engine.CheckItems(snap, arrest, []clinical.PrescriptionItem{iv})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Status != clinical.StatusApproved {
		t.Errorf("IV adrenaline in cardiac arrest should be approved, got %+v", results[0])
	}

	kid, _ := clinical.NewPatient(20, 60, nil, nil, nil)
	amox, _ := clinical.NewPrescriptionItem("MED_AMOX", clinical.Ml(6), RouteOral, 8)
	results, err = engine.CheckItems(snap, kid, []clinical.PrescriptionItem{amox})
	if err != nil {
		t.Fatal(err)
	}
	// 6 mL * 50 mg/mL * 3 = 900 mg/day, inside 800..1000
	if results[0].Status != clinical.StatusApproved {
		t.Errorf("expected APPROVED, got %+v", results[0])
	}
}

func TestMissingCardiacArrestGuard(t *testing.T) {
	seeded := SeedDrugs()[0]
	if MissingCardiacArrestGuard(seeded) {
		t.Error("seeded adrenaline carries its IV guard")
	}

	unguarded := seeded
	unguarded.Name = "ADRENALINE 1mg/mL ampoule"
	unguarded.FatalRoutes = nil
	if !MissingCardiacArrestGuard(unguarded) {
		t.Error("adrenaline without an IV fatal route should be flagged")
	}

	imOnly := unguarded
	imOnly.PermittedRoutes = clinical.NewTagSet(RouteIntramuscular)
	if MissingCardiacArrestGuard(imOnly) {
		t.Error("no IV route, nothing to guard")
	}

	if MissingCardiacArrestGuard(SeedDrugs()[1]) {
		t.Error("amoxicillin is not adrenaline")
	}
}

func TestEventOutboxEntry(t *testing.T) {
	drug := SeedDrugs()[1]
	event, err := NewEvent(aggregateDrug, drug.ID, EventDrugUpserted, DrugUpsertedData{Drug: drug})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if event.ID == "" || event.Timestamp.IsZero() {
		t.Fatalf("event id and timestamp must be set: %+v", event)
	}

	entry, err := event.OutboxEntry()
	if err != nil {
		t.Fatalf("OutboxEntry: %v", err)
	}
	if entry.KafkaTopic != redpanda.TopicCatalogEvents {
		t.Errorf("topic = %s", entry.KafkaTopic)
	}
	if entry.KafkaKey != "Drug:MED_AMOX" {
		t.Errorf("key = %s", entry.KafkaKey)
	}
	if entry.EventType != string(EventDrugUpserted) {
		t.Errorf("event type = %s", entry.EventType)
	}

	var decoded Event
	if err := json.Unmarshal(entry.Payload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	var data DrugUpsertedData
	if err := json.Unmarshal(decoded.EventData, &data); err != nil {
		t.Fatalf("event data: %v", err)
	}
	if data.Drug.ID != drug.ID || !data.Drug.AllergyFamilies.Has("penicilina") {
		t.Errorf("drug did not survive the payload: %+v", data.Drug)
	}
	if data.Drug.Pediatric == nil || data.Drug.Pediatric.Mode != clinical.DosingPerDay {
		t.Errorf("pediatric rule lost: %+v", data.Drug.Pediatric)
	}
}

func TestSchemaCoversOutboxAndInbox(t *testing.T) {
	for _, table := range []string{"drugs", "pediatric_rules", "interactions", "outbox", "inbox"} {
		if !strings.Contains(Schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema is missing table %s", table)
		}
	}
}
