package r5

import "testing"

func TestGetMedicationCodePrefersCatalogSystem(t *testing.T) {
	tests := []struct {
		name string
		med  CodeableReference
		want string
	}{
		{
			name: "catalog coding wins",
			med: CodeableReference{Concept: &CodeableConcept{Coding: []Coding{
				{System: SystemRxNorm, Code: "308182"},
				{System: SystemValidRxDrug, Code: "MED_AMOX"},
			}}},
			want: "MED_AMOX",
		},
		{
			name: "medication reference",
			med:  CodeableReference{Reference: &Reference{Reference: "Medication/MED_ADRE"}},
			want: "MED_ADRE",
		},
		{
			name: "first coding fallback",
			med:  CodeableReference{Concept: &CodeableConcept{Coding: []Coding{{System: SystemRxNorm, Code: "308182"}}}},
			want: "308182",
		},
		{name: "empty", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := &MedicationRequest{Medication: tt.med}
			if got := mr.GetMedicationCode(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetRouteName(t *testing.T) {
	d := &Dosage{Route: &CodeableConcept{Coding: []Coding{{Code: "26643006"}}}}
	if got := d.GetRouteName(); got != "26643006" {
		t.Errorf("got %q", got)
	}
	d.Route.Coding[0].Display = "Oral"
	if got := d.GetRouteName(); got != "Oral" {
		t.Errorf("got %q", got)
	}
	d.Route.Text = "Oral route"
	if got := d.GetRouteName(); got != "Oral route" {
		t.Errorf("got %q", got)
	}
	if (&Dosage{}).GetRouteName() != "" {
		t.Error("missing route should be empty")
	}
}

func TestExtractIDFromReference(t *testing.T) {
	tests := map[string]string{
		"Medication/123": "123",
		"urn:uuid:abc":   "abc",
		"plain":          "plain",
	}
	for ref, want := range tests {
		if got := extractIDFromReference(ref); got != want {
			t.Errorf("extractIDFromReference(%q) = %q, want %q", ref, got, want)
		}
	}
}
