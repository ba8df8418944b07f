// Package export writes an analysis report to CSV: the master table
// plus the four subset files. Every file is a projection of the same
// in-memory report and carries no run timestamps, so identical inputs
// produce byte-identical output.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/enrolytics/enrolytics/internal/detect/temporal"
	"github.com/enrolytics/enrolytics/internal/metrics"
	"github.com/enrolytics/enrolytics/internal/pipeline"
)

// Exported file names.
const (
	MasterFile      = "anomaly_report.csv"
	DensityFile     = "density_flags.csv"
	StatisticalFile = "statistical_flags.csv"
	TemporalFile    = "temporal_events.csv"
	ConsensusFile   = "consensus_high_priority.csv"
)

// Result describes one written file.
type Result struct {
	Path string
	Rows int
}

// WriteAll writes the five report files into dir, creating it if
// needed, and returns one Result per file in write order.
func WriteAll(dir string, report *pipeline.Report) ([]Result, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	files := []struct {
		name   string
		table  string
		header []string
		rows   [][]string
	}{
		{MasterFile, "anomaly_report", masterHeader(report), masterRows(report)},
		{DensityFile, "density_flags", flagHeader("density_score"), flagRows(report.DensityFlags(), func(rr pipeline.RegionReport) float64 { return rr.DensityScore })},
		{StatisticalFile, "statistical_flags", flagHeader("statistical_score"), flagRows(report.StatisticalFlags(), func(rr pipeline.RegionReport) float64 { return rr.StatisticalScore })},
		{TemporalFile, "temporal_events", temporalHeader(), temporalRows(report)},
		{ConsensusFile, "consensus_high_priority", consensusHeader(), consensusRows(report)},
	}

	results := make([]Result, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeFile(path, f.header, f.rows); err != nil {
			return nil, err
		}
		metrics.ExportRows.WithLabelValues(f.table).Set(float64(len(f.rows)))
		results = append(results, Result{Path: path, Rows: len(f.rows)})
	}

	return results, nil
}

func writeFile(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}

func masterHeader(report *pipeline.Report) []string {
	header := []string{"region"}
	header = append(header, report.FeatureNames...)
	return append(header,
		"density_score", "density_flag",
		"statistical_score", "statistical_flag",
		"temporal_score", "temporal_flag",
		"agreement", "priority", "consensus_flag", "reasons",
	)
}

func masterRows(report *pipeline.Report) [][]string {
	rows := make([][]string, 0, len(report.Regions))
	for _, rr := range report.Regions {
		row := []string{rr.Region}
		for _, name := range report.FeatureNames {
			row = append(row, formatFloat(rr.Features[name]))
		}
		row = append(row,
			formatFloat(rr.DensityScore), strconv.FormatBool(rr.DensityFlag),
			formatFloat(rr.StatisticalScore), strconv.FormatBool(rr.StatisticalFlag),
			formatFloat(rr.TemporalScore), strconv.FormatBool(rr.TemporalFlag),
			strconv.Itoa(rr.Agreement), rr.Priority, strconv.FormatBool(rr.ConsensusFlag), rr.Reasons,
		)
		rows = append(rows, row)
	}
	return rows
}

func flagHeader(scoreColumn string) []string {
	return []string{"region", scoreColumn, "agreement", "priority", "reasons"}
}

func flagRows(flagged []pipeline.RegionReport, score func(pipeline.RegionReport) float64) [][]string {
	rows := make([][]string, 0, len(flagged))
	for _, rr := range flagged {
		rows = append(rows, []string{
			rr.Region,
			formatFloat(score(rr)),
			strconv.Itoa(rr.Agreement),
			rr.Priority,
			rr.Reasons,
		})
	}
	return rows
}

func temporalHeader() []string {
	return []string{"region", "period", "prev_period", "previous", "current", "pct_change", "from_zero"}
}

func temporalRows(report *pipeline.Report) [][]string {
	events := make([]temporal.Event, len(report.Events))
	copy(events, report.Events)
	sort.Slice(events, func(i, j int) bool {
		if events[i].Region != events[j].Region {
			return events[i].Region < events[j].Region
		}
		return events[i].Period < events[j].Period
	})

	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			ev.Region,
			ev.Period,
			ev.PrevPeriod,
			strconv.FormatInt(ev.Previous, 10),
			strconv.FormatInt(ev.Current, 10),
			formatFloat(ev.PctChange),
			strconv.FormatBool(ev.FromZero),
		})
	}
	return rows
}

func consensusHeader() []string {
	return []string{
		"region", "agreement", "priority",
		"density_score", "statistical_score", "temporal_score", "reasons",
	}
}

func consensusRows(report *pipeline.Report) [][]string {
	flagged := report.ConsensusFlags()
	rows := make([][]string, 0, len(flagged))
	for _, rr := range flagged {
		rows = append(rows, []string{
			rr.Region,
			strconv.Itoa(rr.Agreement),
			rr.Priority,
			formatFloat(rr.DensityScore),
			formatFloat(rr.StatisticalScore),
			formatFloat(rr.TemporalScore),
			rr.Reasons,
		})
	}
	return rows
}

// formatFloat renders the shortest string that round-trips the value,
// so exports are stable across runs and platforms.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
