package types

import (
	"testing"
	"time"
)

func TestWeightConstructors(t *testing.T) {
	tests := []struct {
		name string
		w    Weight
		want string
	}{
		{"Kg", Kg(12.5), "12.5"},
		{"KgInt", KgInt(5), "5"},
		{"Zero", ZeroWeight, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.String(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSumWeightsIsExact(t *testing.T) {
	parts := make([]Weight, 0, 10)
	for range 10 {
		parts = append(parts, Kg(0.1))
	}
	if got := SumWeights(parts...); !got.Equal(KgInt(1)) {
		t.Errorf("ten times 0.1 = %s, want 1", got)
	}
	if got := SumWeights(); !got.IsZero() {
		t.Errorf("empty sum = %s, want 0", got)
	}
}

func TestParseWeight(t *testing.T) {
	w, err := ParseWeight("12.750")
	if err != nil {
		t.Fatalf("ParseWeight: %v", err)
	}
	if !w.Equal(Kg(12.75)) {
		t.Errorf("got %s, want 12.75", w)
	}
	if _, err := ParseWeight("heavy"); err == nil {
		t.Error("expected error for non-numeric weight")
	}
}

func TestEntityAtNormalisesToUTC(t *testing.T) {
	loc := time.FixedZone("plant", 2*60*60)
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, loc)
	e := EntityAt(at)
	if e.CreatedAt.Location() != time.UTC || !e.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v in UTC", e.CreatedAt, at)
	}
	if !e.UpdatedAt.Equal(e.CreatedAt) {
		t.Error("UpdatedAt should equal CreatedAt on creation")
	}

	later := at.Add(time.Hour)
	e.Touch(later)
	if !e.UpdatedAt.Equal(later) || !e.CreatedAt.Equal(at) {
		t.Error("Touch must only move UpdatedAt")
	}
}
