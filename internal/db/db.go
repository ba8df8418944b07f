package db

import (
	"context"
	"time"

	"github.com/enrolytics/enrolytics/internal/detect/temporal"
	"github.com/enrolytics/enrolytics/internal/pipeline"
)

// Store is the persistence interface for analysis results.
//
// One SaveReport call persists a whole run: the runs row, one
// region_reports row per region, and the temporal events. The flag
// subsets are SQL views over region_reports, so a stored run can never
// disagree with its own subsets.
type Store interface {
	// SaveReport persists a complete run transactionally.
	SaveReport(ctx context.Context, report *pipeline.Report) error

	// GetReport reconstructs the full report for a run.
	// Returns sql.ErrNoRows when the run does not exist.
	GetReport(ctx context.Context, runID string) (*pipeline.Report, error)

	// LatestRunID returns the id of the most recently started run.
	LatestRunID(ctx context.Context) (string, error)

	// ListRuns returns run summaries, newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]*RunSummary, error)

	// RegionReports returns a run's master rows, region ascending.
	RegionReports(ctx context.Context, runID string) ([]pipeline.RegionReport, error)

	// RegionReport returns one region's master row.
	RegionReport(ctx context.Context, runID, region string) (pipeline.RegionReport, error)

	// DensityFlags reads the density view, most anomalous first.
	DensityFlags(ctx context.Context, runID string) ([]pipeline.RegionReport, error)

	// StatisticalFlags reads the statistical view, largest deviation first.
	StatisticalFlags(ctx context.Context, runID string) ([]pipeline.RegionReport, error)

	// ConsensusFlags reads the consensus view in review order:
	// agreement desc, density score asc, region asc.
	ConsensusFlags(ctx context.Context, runID string) ([]pipeline.RegionReport, error)

	// TemporalEvents returns a run's events in (region, period) order.
	TemporalEvents(ctx context.Context, runID string) ([]temporal.Event, error)

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// RunSummary is the headline row for one stored run.
type RunSummary struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	Regions            int `json:"regions"`
	InputRows          int `json:"input_rows"`
	IgnoredRows        int `json:"ignored_rows"`
	DensityFlagged     int `json:"density_flagged"`
	StatisticalFlagged int `json:"statistical_flagged"`
	TemporalFlagged    int `json:"temporal_flagged"`
	ConsensusFlagged   int `json:"consensus_flagged"`
	TemporalEvents     int `json:"temporal_events"`
}
