// Package dataset loads and validates the input tables produced by the
// upstream cleaning stage: monthly per-region counts of registrations,
// biometric updates and demographic updates, plus an optional table of
// projected growth rates. Validation is fail fast: a malformed table aborts
// the run before any detector executes.
package dataset

import "fmt"

// Input table names, used in shape errors and metrics labels.
const (
	TableRegistrations      = "registrations"
	TableBiometricUpdates   = "biometric_updates"
	TableDemographicUpdates = "demographic_updates"
	TableProjections        = "projections"
)

// Age bracket columns per table.
var (
	registrationBrackets = []string{"age_0_5", "age_5_17", "age_18_plus"}
	biometricBrackets    = []string{"age_5_17", "age_18_plus"}
	demographicBrackets  = []string{"age_0_5", "age_5_17", "age_18_plus"}
)

// ShapeError reports a structural problem in an input table. Shape errors
// are fatal: the run aborts with no partial results.
type ShapeError struct {
	Table  string
	Row    int // 1-based data row; 0 for header-level problems
	Column string
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("input table %s: column %q: %s", e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("input table %s row %d: column %q: %s", e.Table, e.Row, e.Column, e.Reason)
}

// Row is one (region, period) observation of a count table. Counts align
// with the owning Table's Brackets.
type Row struct {
	Region string
	Period string // normalized YYYY-MM
	Counts []int64
}

// Table is a fully loaded and validated count table.
type Table struct {
	Name     string
	Brackets []string
	Rows     []Row
}

// RowTotal sums the bracket counts of row i.
func (t *Table) RowTotal(i int) int64 {
	var total int64
	for _, c := range t.Rows[i].Counts {
		total += c
	}
	return total
}

// RegionTotals holds one region's counts summed over the whole observation
// window. This is the Feature Builder's input.
type RegionTotals struct {
	Region string

	// Registrations by age bracket and in total
	Age0to5       int64
	Age5to17      int64
	Age18Plus     int64
	Registrations int64

	// Update totals
	BiometricUpdates   int64
	DemographicUpdates int64

	// GrowthRatePct is the projected growth rate from the optional
	// projections table; meaningful only when HasGrowth is true.
	GrowthRatePct float64
	HasGrowth     bool
}

// SeriesPoint is one period's registration count for a region, the temporal
// detector's input.
type SeriesPoint struct {
	Region string
	Period string
	Count  int64
}

// Dataset is the validated, aggregated input for one analysis run.
type Dataset struct {
	// Totals has one entry per region, sorted by region.
	Totals []RegionTotals

	// Series holds per-period registration counts sorted by (region, period).
	Series []SeriesPoint

	// Regions lists the region identifiers, sorted. The registration table
	// defines the region population; update rows for unknown regions are
	// counted in IgnoredRows.
	Regions []string

	// Rows is the total number of data rows loaded across all tables.
	Rows int

	// RowCounts breaks Rows down by table.
	RowCounts RowCounts

	// IgnoredRows counts update/projection rows whose region does not occur
	// in the registrations table.
	IgnoredRows int

	// HasGrowth reports whether the projections table was provided.
	HasGrowth bool
}

// RowCounts holds per-table data row counts for one run.
type RowCounts struct {
	Registrations      int
	BiometricUpdates   int
	DemographicUpdates int
	Projections        int
}
