// Package detect holds the types shared by the three anomaly detectors:
// the multivariate density model, the per-feature statistical outlier
// check, and the period-over-period temporal spike scan.
package detect

import "fmt"

// Detector names as recorded in reports, exports, and audit events.
const (
	Density     = "density"
	Statistical = "statistical"
	Temporal    = "temporal"
)

// Status reports whether a detector ran against a dataset.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
)

// Verdict is a single detector's outcome for one region.
type Verdict struct {
	Flag  bool    `json:"flag"`
	Score float64 `json:"score"`
}

// InsufficientDataError means a detector declined to run because the
// dataset is too small for its statistics to mean anything. The run
// continues: the detector is marked skipped and contributes no flags.
type InsufficientDataError struct {
	Detector string
	Regions  int
	Min      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s detector needs at least %d regions, got %d", e.Detector, e.Min, e.Regions)
}
