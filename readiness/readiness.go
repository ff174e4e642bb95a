// Package readiness decides whether the rolls in stock cover a job's
// material list.
package readiness

import (
	"github.com/xraph/stockledger/job"
	"github.com/xraph/stockledger/roll"
	"github.com/xraph/stockledger/types"
)

// Material is the stock position for one entry of a job's material list.
type Material struct {
	Material    string       `json:"material"`
	InStock     bool         `json:"in_stock"`
	RollCount   int          `json:"roll_count"`
	TotalWeight types.Weight `json:"total_weight"`
}

// Report is the result of evaluating a job against the current rolls.
type Report struct {
	Ready       bool       `json:"ready"`
	PerMaterial []Material `json:"per_material"`
}

// Missing returns the materials with no matching roll in stock.
func (r Report) Missing() []string {
	var out []string
	for _, m := range r.PerMaterial {
		if !m.InStock {
			out = append(out, m.Material)
		}
	}
	return out
}

// Evaluate matches every entry of j.Materials, duplicates included, against
// rolls by roll.FilmTypeKey. Only rolls with a positive current
// weight count. A job without materials is ready.
func Evaluate(j *job.Job, rolls []*roll.FilmRoll) Report {
	byType := make(map[string]*Material)
	for _, r := range rolls {
		if !r.InStock() {
			continue
		}
		key := roll.FilmTypeKey(r.FilmType)
		m, ok := byType[key]
		if !ok {
			m = &Material{TotalWeight: types.ZeroWeight}
			byType[key] = m
		}
		m.RollCount++
		m.TotalWeight = m.TotalWeight.Add(r.CurrentWeight)
	}

	report := Report{Ready: true, PerMaterial: make([]Material, 0, len(j.Materials))}
	for _, name := range j.Materials {
		entry := Material{Material: name, TotalWeight: types.ZeroWeight}
		if m, ok := byType[roll.FilmTypeKey(name)]; ok {
			entry.RollCount = m.RollCount
			entry.TotalWeight = m.TotalWeight
			entry.InStock = true
		}
		report.Ready = report.Ready && entry.InStock
		report.PerMaterial = append(report.PerMaterial, entry)
	}
	return report
}
