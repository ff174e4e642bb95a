package readiness_test

import (
	"testing"

	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/readiness"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/types"
)

func filmRoll(filmType string, kg float64) *roll.FilmRoll {
	return &roll.FilmRoll{
		Entity:        types.NewEntity(),
		ID:            id.NewRollID(),
		FilmType:      filmType,
		NetWeight:     types.Kg(kg),
		CurrentWeight: types.Kg(kg),
	}
}

func TestEvaluateDuplicateMaterialsCaseInsensitive(t *testing.T) {
	j := &job.Job{ID: id.NewJobID(), Name: "laminate", Materials: []string{"PET", "pet"}}
	report := readiness.Evaluate(j, []*roll.FilmRoll{filmRoll("PET", 5)})

	if !report.Ready {
		t.Error("expected ready")
	}
	if len(report.PerMaterial) != 2 {
		t.Fatalf("got %d entries, want 2", len(report.PerMaterial))
	}
	for i, m := range report.PerMaterial {
		if !m.InStock || m.RollCount != 1 || !m.TotalWeight.Equal(types.Kg(5.0)) {
			t.Errorf("entry %d = %+v, want in stock with 1 roll of 5", i, m)
		}
	}
	if report.PerMaterial[0].Material != "PET" || report.PerMaterial[1].Material != "pet" {
		t.Error("material names must be reported as listed on the job")
	}
}

func TestEvaluate(t *testing.T) {
	empty := filmRoll("BOPP", 3)
	empty.CurrentWeight = types.ZeroWeight

	tests := []struct {
		name      string
		materials []string
		rolls     []*roll.FilmRoll
		ready     bool
		missing   int
	}{
		{"no materials is ready", nil, nil, true, 0},
		{"no rolls", []string{"PET"}, nil, false, 1},
		{"one of two missing", []string{"PET", "CPP"}, []*roll.FilmRoll{filmRoll("pet", 1)}, false, 1},
		{"zero weight does not count", []string{"BOPP"}, []*roll.FilmRoll{empty}, false, 1},
		{"all present", []string{"PET", "CPP"}, []*roll.FilmRoll{filmRoll("cpp", 2), filmRoll("Pet", 1)}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &job.Job{ID: id.NewJobID(), Name: tt.name, Materials: tt.materials}
			report := readiness.Evaluate(j, tt.rolls)
			if report.Ready != tt.ready {
				t.Errorf("Ready = %v, want %v", report.Ready, tt.ready)
			}
			if got := len(report.Missing()); got != tt.missing {
				t.Errorf("missing = %d, want %d", got, tt.missing)
			}
		})
	}
}

func TestEvaluateAggregatesWeights(t *testing.T) {
	j := &job.Job{ID: id.NewJobID(), Name: "bag", Materials: []string{"PE"}}
	rolls := []*roll.FilmRoll{filmRoll("PE", 0.1), filmRoll("pe", 0.2), filmRoll("PET", 9)}

	m := readiness.Evaluate(j, rolls).PerMaterial[0]
	if m.RollCount != 2 {
		t.Errorf("RollCount = %d, want 2", m.RollCount)
	}
	if !m.TotalWeight.Equal(types.Kg(0.3)) {
		t.Errorf("TotalWeight = %s, want 0.3", m.TotalWeight)
	}
}

func TestEvaluateFoldsLikeRollMatches(t *testing.T) {
	tests := []struct {
		filmType string
		material string
	}{
		{"PET", "pet"},
		{"ς", "Σ"},
		{"σ", "Σ"},
		{"Straße", "STRASSE"},
		{"\u212a", "k"}, // Kelvin sign
	}

	for _, tt := range tests {
		t.Run(tt.filmType+" vs "+tt.material, func(t *testing.T) {
			r := filmRoll(tt.filmType, 3)
			j := &job.Job{ID: id.NewJobID(), Materials: []string{tt.material}}

			report := readiness.Evaluate(j, []*roll.FilmRoll{r})
			if report.Ready != r.Matches(tt.material) {
				t.Errorf("Evaluate ready = %v, Matches = %v", report.Ready, r.Matches(tt.material))
			}
		})
	}
}
