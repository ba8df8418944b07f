// Package density flags regions whose combination of features is rare,
// even when no single feature is extreme on its own.
//
// The density subset of the feature matrix is standardized per column
// and fed to a seeded isolation forest. Scores are negated so that more
// negative means more anomalous, and the decision boundary is the
// contamination quantile of the scores themselves: with contamination
// 0.10, roughly the most isolated tenth of regions falls at or below
// the cutoff and is flagged.
package density

import (
	"github.com/enrolytics/enrolytics/internal/detect"
	"github.com/enrolytics/enrolytics/internal/detect/forest"
	"github.com/enrolytics/enrolytics/internal/features"
	"github.com/enrolytics/enrolytics/internal/stats"
)

// Options control the model. All fields come from configuration; the
// seed makes reruns reproducible.
type Options struct {
	Contamination float64
	Seed          int64
	Trees         int
	Subsample     int
	MinRegions    int
}

// Result holds per-region verdicts in matrix row order.
type Result struct {
	Verdicts []detect.Verdict
	Cutoff   float64
}

// Detect runs the model over the matrix. It returns an
// InsufficientDataError when there are too few regions to estimate a
// density at all; callers skip the detector and leave its column
// unflagged.
func Detect(m *features.Matrix, opts Options) (*Result, error) {
	n := len(m.Regions)
	if n < opts.MinRegions {
		return nil, &detect.InsufficientDataError{
			Detector: detect.Density,
			Regions:  n,
			Min:      opts.MinRegions,
		}
	}

	points := standardizedPoints(m)

	f := forest.New(opts.Trees, opts.Subsample, opts.Seed)
	f.Fit(points)

	scores := make([]float64, n)
	for i, raw := range f.ScoreAll(points) {
		scores[i] = -raw
	}

	cutoff := stats.Percentile(scores, opts.Contamination*100)

	verdicts := make([]detect.Verdict, n)
	for i, s := range scores {
		verdicts[i] = detect.Verdict{Flag: s <= cutoff, Score: s}
	}
	return &Result{Verdicts: verdicts, Cutoff: cutoff}, nil
}

// standardizedPoints builds one row per region from the density subset,
// with each column shifted to zero mean and unit variance. Columns with
// no variance standardize to all zeros and carry no signal.
func standardizedPoints(m *features.Matrix) [][]float64 {
	idx := m.DensityIndexes()
	cols := make([][]float64, len(idx))
	for k, j := range idx {
		cols[k] = stats.Standardize(m.Column(j))
	}

	points := make([][]float64, len(m.Regions))
	for i := range points {
		row := make([]float64, len(cols))
		for k := range cols {
			row[k] = cols[k][i]
		}
		points[i] = row
	}
	return points
}
