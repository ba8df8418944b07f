// Package zscore flags regions with an extreme value on any single
// tracked feature.
//
// Each tracked column is summarized across regions and every value is
// scored by its absolute standardized deviation. A column with no
// variance deviates nowhere, so it scores exactly 0 and can never
// flag. A region is flagged when any deviation strictly exceeds the
// threshold; its score is the largest deviation seen.
package zscore

import (
	"github.com/enrolytics/enrolytics/internal/detect"
	"github.com/enrolytics/enrolytics/internal/features"
	"github.com/enrolytics/enrolytics/internal/stats"
)

// Result holds per-region verdicts in matrix row order, plus the
// per-feature deviations behind them for reports and the API.
type Result struct {
	Verdicts   []detect.Verdict
	Deviations []map[string]float64
}

// Detect scores every region against the cross-region distribution of
// each tracked feature.
func Detect(m *features.Matrix, threshold float64) *Result {
	n := len(m.Regions)
	verdicts := make([]detect.Verdict, n)
	deviations := make([]map[string]float64, n)
	for i := range deviations {
		deviations[i] = make(map[string]float64)
	}

	for _, j := range m.TrackedIndexes() {
		col := m.Column(j)
		summary := stats.Summarize(col)
		name := m.Defs[j].Name

		for i, v := range col {
			d := 0.0
			if summary.StdDev > 0 {
				d = abs(v-summary.Mean) / summary.StdDev
			}
			deviations[i][name] = d
			if d > verdicts[i].Score {
				verdicts[i].Score = d
			}
			if d > threshold {
				verdicts[i].Flag = true
			}
		}
	}

	return &Result{Verdicts: verdicts, Deviations: deviations}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
