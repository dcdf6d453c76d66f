package engine

import (
	"errors"
	"testing"

	"github.com/validrx/validrx/internal/domain/clinical"
)

func TestRound4(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{3.428571428, 3.4286},
		{0.33333333, 0.3333},
		{10.00004, 10},
		{-1.00004, -1},
		{1200, 1200},
	}
	for _, tt := range tests {
		if got := Round4(tt.in); got != tt.want {
			t.Errorf("Round4(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeDose(t *testing.T) {
	amox := amoxicillin()
	warf := warfarin()

	tests := []struct {
		name    string
		drug    clinical.Drug
		dose    clinical.DoseInput
		want    float64
		wantErr bool
	}{
		{"mass", amox, clinical.Mg(250), 250, false},
		{"volume", amox, clinical.Ml(5), 250, false},
		{"volume lowercase unit", amox, clinical.DoseInput{Amount: 2, Unit: "ml"}, 100, false},
		{"mass without concentration", warf, clinical.Mg(5), 5, false},
		{"volume without concentration", warf, clinical.Ml(5), 0, true},
		{"unknown unit", amox, clinical.DoseInput{Amount: 1, Unit: "gtt"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDose(tt.drug, tt.dose)
			if tt.wantErr {
				if !errors.Is(err, clinical.ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPediatricCompare(t *testing.T) {
	perDay := clinical.PediatricRule{Mode: clinical.DosingPerDay, MinMgPerKg: 40, MaxMgPerKg: 50}
	perDose := clinical.PediatricRule{Mode: clinical.DosingPerDose, MinMgPerKg: 0.01, MaxMgPerKg: 0.02}

	value, lo, hi, err := PediatricCompare(perDay, 20, 400, 8)
	if err != nil {
		t.Fatal(err)
	}
	if value != 1200 || lo != 800 || hi != 1000 {
		t.Errorf("per-day: got %v [%v, %v]", value, lo, hi)
	}

	value, lo, hi, err = PediatricCompare(perDose, 15, 0.2, 6)
	if err != nil {
		t.Fatal(err)
	}
	if value != 0.2 || lo != 0.15 || hi != 0.3 {
		t.Errorf("per-dose: got %v [%v, %v]", value, lo, hi)
	}

	value, _, _, err = PediatricCompare(perDay, 20, 1, 7)
	if err != nil {
		t.Fatal(err)
	}
	if value != 3.4286 {
		t.Errorf("projection should be rounded, got %v", value)
	}

	if _, _, _, err := PediatricCompare(perDay, 20, 400, 0); !errors.Is(err, clinical.ErrInvalidInput) {
		t.Errorf("zero interval: expected ErrInvalidInput, got %v", err)
	}
	if _, _, _, err := PediatricCompare(clinical.PediatricRule{Mode: "weekly"}, 20, 1, 8); !errors.Is(err, clinical.ErrInvalidInput) {
		t.Errorf("unknown mode: expected ErrInvalidInput, got %v", err)
	}
}

func TestAdultDailyDose(t *testing.T) {
	got, err := AdultDailyDose(500, 8)
	if err != nil || got != 1500 {
		t.Errorf("AdultDailyDose(500, 8) = %v, %v", got, err)
	}
	got, err = AdultDailyDose(500, 36)
	if err != nil || got != 333.3333 {
		t.Errorf("AdultDailyDose(500, 36) = %v, %v", got, err)
	}
	if _, err := AdultDailyDose(500, 0); !errors.Is(err, clinical.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
