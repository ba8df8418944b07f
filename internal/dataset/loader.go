package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Paths locates the input tables. Projections is optional; the empty string
// disables the growth feature.
type Paths struct {
	Registrations      string
	BiometricUpdates   string
	DemographicUpdates string
	Projections        string
}

// Load reads, validates and aggregates all input tables.
func Load(paths Paths) (*Dataset, error) {
	reg, err := loadCountTable(TableRegistrations, paths.Registrations, registrationBrackets)
	if err != nil {
		return nil, err
	}
	bio, err := loadCountTable(TableBiometricUpdates, paths.BiometricUpdates, biometricBrackets)
	if err != nil {
		return nil, err
	}
	demo, err := loadCountTable(TableDemographicUpdates, paths.DemographicUpdates, demographicBrackets)
	if err != nil {
		return nil, err
	}

	var proj map[string]float64
	if paths.Projections != "" {
		proj, err = loadProjections(paths.Projections)
		if err != nil {
			return nil, err
		}
	}

	return Assemble(reg, bio, demo, proj)
}

// periodLayouts are accepted period formats, normalized to YYYY-MM.
var periodLayouts = []string{"2006-01", "2006-01-02", time.RFC3339}

func normalizePeriod(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range periodLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.Format("2006-01"), nil
		}
	}
	return "", fmt.Errorf("unrecognized period %q", s)
}

func normalizeRegion(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// headerIndex maps lowercased column names to positions. The first cell is
// stripped of a UTF-8 BOM if present.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\uFEFF")
		}
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}

func loadCountTable(name, path string, brackets []string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s table: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ShapeError{Table: name, Column: "region", Reason: "table is empty"}
		}
		return nil, fmt.Errorf("read %s header: %w", name, err)
	}
	idx := headerIndex(header)

	regionCol, ok := idx["region"]
	if !ok {
		return nil, &ShapeError{Table: name, Column: "region", Reason: "required column missing"}
	}
	periodCol, ok := idx["period"]
	if !ok {
		return nil, &ShapeError{Table: name, Column: "period", Reason: "required column missing"}
	}
	bracketCols := make([]int, len(brackets))
	for i, b := range brackets {
		col, ok := idx[b]
		if !ok {
			return nil, &ShapeError{Table: name, Column: b, Reason: "required column missing"}
		}
		bracketCols[i] = col
	}

	table := &Table{Name: name, Brackets: brackets}
	for rowNum := 1; ; rowNum++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", name, rowNum, err)
		}

		region := normalizeRegion(record[regionCol])
		if region == "" {
			return nil, &ShapeError{Table: name, Row: rowNum, Column: "region", Reason: "region key is empty"}
		}

		period, err := normalizePeriod(record[periodCol])
		if err != nil {
			return nil, &ShapeError{Table: name, Row: rowNum, Column: "period", Reason: err.Error()}
		}

		counts := make([]int64, len(brackets))
		for i, col := range bracketCols {
			counts[i], err = parseCount(record[col])
			if err != nil {
				return nil, &ShapeError{Table: name, Row: rowNum, Column: brackets[i], Reason: err.Error()}
			}
		}

		table.Rows = append(table.Rows, Row{Region: region, Period: period, Counts: counts})
	}

	return table, nil
}

// parseCount accepts non-negative integers; the empty cell defaults to zero
// (a missing category is zero, never null).
func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("count %q is not an integer", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("count %d is negative", n)
	}
	return n, nil
}

func loadProjections(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s table: %w", TableProjections, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ShapeError{Table: TableProjections, Column: "region", Reason: "table is empty"}
		}
		return nil, fmt.Errorf("read %s header: %w", TableProjections, err)
	}
	idx := headerIndex(header)

	regionCol, ok := idx["region"]
	if !ok {
		return nil, &ShapeError{Table: TableProjections, Column: "region", Reason: "required column missing"}
	}
	rateCol, ok := idx["growth_rate_pct"]
	if !ok {
		return nil, &ShapeError{Table: TableProjections, Column: "growth_rate_pct", Reason: "required column missing"}
	}

	proj := make(map[string]float64)
	for rowNum := 1; ; rowNum++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", TableProjections, rowNum, err)
		}

		region := normalizeRegion(record[regionCol])
		if region == "" {
			return nil, &ShapeError{Table: TableProjections, Row: rowNum, Column: "region", Reason: "region key is empty"}
		}

		rate, err := strconv.ParseFloat(strings.TrimSpace(record[rateCol]), 64)
		if err != nil {
			return nil, &ShapeError{Table: TableProjections, Row: rowNum, Column: "growth_rate_pct", Reason: fmt.Sprintf("rate %q is not a number", record[rateCol])}
		}
		if math.IsNaN(rate) || math.IsInf(rate, 0) {
			return nil, &ShapeError{Table: TableProjections, Row: rowNum, Column: "growth_rate_pct", Reason: "rate must be finite"}
		}

		proj[region] = rate
	}

	return proj, nil
}
