// Package features turns aggregated per-region totals into the numeric
// matrix the detectors consume.
//
// Each feature is declared once, with its computation and the reason
// strings the characterizer attaches when a flagged region sits outside
// the cross-region band for it. Features are marked for the detectors
// that read them: tracked features feed the statistical detector and the
// characterizer, density features form the multivariate subset.
//
// Every produced value is finite. A zero denominator yields 0 rather
// than NaN or Inf, and Build fails outright if any computation still
// escapes that guarantee.
package features

import (
	"fmt"
	"math"

	"github.com/enrolytics/enrolytics/internal/dataset"
)

// Feature names, in schema order.
const (
	TotalRegistrations = "total_registrations"
	BioUpdateRate      = "bio_update_rate"
	DemoUpdateRate     = "demo_update_rate"
	ChildSharePct      = "child_share_pct"
	YouthSharePct      = "youth_share_pct"
	AdultSharePct      = "adult_share_pct"
	GrowthRatePct      = "growth_rate_pct"
)

// Def declares a single feature: how to compute it and which detectors
// read it.
type Def struct {
	Name       string
	HighReason string
	LowReason  string

	// Tracked features feed the per-feature statistical detector and
	// the characterizer's band check.
	Tracked bool

	// Density features form the fixed subset the multivariate detector
	// standardizes and models.
	Density bool

	Compute func(t dataset.RegionTotals) float64
}

// NonFiniteError reports a feature value that came out NaN or infinite.
// It aborts the run: downstream detectors assume finite inputs.
type NonFiniteError struct {
	Region  string
	Feature string
	Value   float64
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("feature %q for region %q is not finite (%v)", e.Feature, e.Region, e.Value)
}

// BaseSchema returns the feature set computed for every run.
func BaseSchema() []Def {
	return []Def{
		{
			Name:       TotalRegistrations,
			HighReason: "Very large registration base",
			LowReason:  "Very small registration base",
			Tracked:    true,
			Density:    true,
			Compute: func(t dataset.RegionTotals) float64 {
				return float64(t.Registrations)
			},
		},
		{
			Name:       BioUpdateRate,
			HighReason: "Extremely high biometric update rate",
			LowReason:  "Extremely low biometric update rate",
			Tracked:    true,
			Density:    true,
			Compute: func(t dataset.RegionTotals) float64 {
				return pct(t.BiometricUpdates, t.Age5to17+t.Age18Plus)
			},
		},
		{
			Name:       DemoUpdateRate,
			HighReason: "Extremely high demographic update rate",
			LowReason:  "Extremely low demographic update rate",
			Tracked:    true,
			Density:    true,
			Compute: func(t dataset.RegionTotals) float64 {
				return pct(t.DemographicUpdates, t.Registrations)
			},
		},
		{
			Name:       ChildSharePct,
			HighReason: "Unusually high child registration share",
			LowReason:  "Unusually low child registration share",
			Tracked:    true,
			Density:    true,
			Compute: func(t dataset.RegionTotals) float64 {
				return pct(t.Age0to5, t.Registrations)
			},
		},
		{
			Name:    YouthSharePct,
			Density: true,
			Compute: func(t dataset.RegionTotals) float64 {
				return pct(t.Age5to17, t.Registrations)
			},
		},
		{
			Name:    AdultSharePct,
			Density: true,
			Compute: func(t dataset.RegionTotals) float64 {
				return pct(t.Age18Plus, t.Registrations)
			},
		},
	}
}

// SchemaWithGrowth extends the base schema with the projected growth
// rate for datasets that carry a projections table.
func SchemaWithGrowth() []Def {
	return append(BaseSchema(), Def{
		Name:       GrowthRatePct,
		HighReason: "Unusually rapid projected growth",
		LowReason:  "Unusually slow projected growth",
		Tracked:    true,
		Compute: func(t dataset.RegionTotals) float64 {
			return t.GrowthRatePct
		},
	})
}

// SchemaFor picks the schema matching what the dataset provides.
func SchemaFor(ds *dataset.Dataset) []Def {
	if ds.HasGrowth {
		return SchemaWithGrowth()
	}
	return BaseSchema()
}

// Matrix holds one row of feature values per region, in region order.
type Matrix struct {
	Regions []string
	Defs    []Def
	Values  [][]float64
}

// Build computes the matrix for a dataset. It returns a NonFiniteError
// if any value comes out NaN or infinite; callers treat that as fatal.
func Build(ds *dataset.Dataset) (*Matrix, error) {
	defs := SchemaFor(ds)
	m := &Matrix{
		Regions: make([]string, len(ds.Totals)),
		Defs:    defs,
		Values:  make([][]float64, len(ds.Totals)),
	}
	for i, t := range ds.Totals {
		m.Regions[i] = t.Region
		row := make([]float64, len(defs))
		for j, def := range defs {
			v := def.Compute(t)
			if !isFinite(v) {
				return nil, &NonFiniteError{Region: t.Region, Feature: def.Name, Value: v}
			}
			row[j] = v
		}
		m.Values[i] = row
	}
	return m, nil
}

// Column returns the values of feature j across all regions.
func (m *Matrix) Column(j int) []float64 {
	col := make([]float64, len(m.Values))
	for i, row := range m.Values {
		col[i] = row[j]
	}
	return col
}

// Index returns the position of a feature by name, or -1.
func (m *Matrix) Index(name string) int {
	for j, def := range m.Defs {
		if def.Name == name {
			return j
		}
	}
	return -1
}

// TrackedIndexes returns the schema positions of tracked features.
func (m *Matrix) TrackedIndexes() []int {
	var idx []int
	for j, def := range m.Defs {
		if def.Tracked {
			idx = append(idx, j)
		}
	}
	return idx
}

// DensityIndexes returns the schema positions of the multivariate subset.
func (m *Matrix) DensityIndexes() []int {
	var idx []int
	for j, def := range m.Defs {
		if def.Density {
			idx = append(idx, j)
		}
	}
	return idx
}

// RowMap returns region i's values keyed by feature name, for
// persistence and API payloads.
func (m *Matrix) RowMap(i int) map[string]float64 {
	row := make(map[string]float64, len(m.Defs))
	for j, def := range m.Defs {
		row[def.Name] = m.Values[i][j]
	}
	return row
}

func pct(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
