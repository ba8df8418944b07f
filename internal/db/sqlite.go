package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/enrolytics/enrolytics/internal/detect/temporal"
	"github.com/enrolytics/enrolytics/internal/pipeline"
)

// schema defines the result store tables and views.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS runs (
    id                  TEXT PRIMARY KEY,
    started_at          DATETIME NOT NULL,
    completed_at        DATETIME NOT NULL,
    regions             INTEGER NOT NULL DEFAULT 0,
    input_rows          INTEGER NOT NULL DEFAULT 0,
    ignored_rows        INTEGER NOT NULL DEFAULT 0,
    density_flagged     INTEGER NOT NULL DEFAULT 0,
    statistical_flagged INTEGER NOT NULL DEFAULT 0,
    temporal_flagged    INTEGER NOT NULL DEFAULT 0,
    consensus_flagged   INTEGER NOT NULL DEFAULT 0,
    temporal_events     INTEGER NOT NULL DEFAULT 0,
    zscore_threshold    REAL NOT NULL DEFAULT 0.0,
    spike_threshold_pct REAL NOT NULL DEFAULT 0.0,
    contamination       REAL NOT NULL DEFAULT 0.0,
    consensus_min       INTEGER NOT NULL DEFAULT 2,
    seed                INTEGER NOT NULL DEFAULT 0,
    feature_names       TEXT NOT NULL DEFAULT '[]',
    statuses            TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS region_reports (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    region            TEXT NOT NULL,
    features          TEXT NOT NULL DEFAULT '{}',
    density_score     REAL NOT NULL DEFAULT 0.0,
    density_flag      BOOLEAN NOT NULL DEFAULT 0,
    statistical_score REAL NOT NULL DEFAULT 0.0,
    statistical_flag  BOOLEAN NOT NULL DEFAULT 0,
    temporal_score    REAL NOT NULL DEFAULT 0.0,
    temporal_flag     BOOLEAN NOT NULL DEFAULT 0,
    agreement         INTEGER NOT NULL DEFAULT 0,
    priority          TEXT NOT NULL DEFAULT 'Normal',
    consensus_flag    BOOLEAN NOT NULL DEFAULT 0,
    reasons           TEXT NOT NULL DEFAULT '',
    UNIQUE(run_id, region)
);
CREATE INDEX IF NOT EXISTS idx_region_reports_run ON region_reports(run_id, region);

CREATE TABLE IF NOT EXISTS temporal_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    region      TEXT NOT NULL,
    period      TEXT NOT NULL,
    prev_period TEXT NOT NULL DEFAULT '',
    previous    INTEGER NOT NULL DEFAULT 0,
    current     INTEGER NOT NULL DEFAULT 0,
    pct_change  REAL NOT NULL DEFAULT 0.0,
    from_zero   BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_temporal_events_run ON temporal_events(run_id, region, period);

CREATE VIEW IF NOT EXISTS v_density_flags AS
    SELECT * FROM region_reports WHERE density_flag = 1;

CREATE VIEW IF NOT EXISTS v_statistical_flags AS
    SELECT * FROM region_reports WHERE statistical_flag = 1;

CREATE VIEW IF NOT EXISTS v_consensus AS
    SELECT * FROM region_reports WHERE consensus_flag = 1;
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// Enable foreign-key constraints.
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Runs ─────────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveReport(ctx context.Context, report *pipeline.Report) error {
	names, err := json.Marshal(report.FeatureNames)
	if err != nil {
		return fmt.Errorf("marshal feature names: %w", err)
	}
	statuses, err := json.Marshal(report.Statuses)
	if err != nil {
		return fmt.Errorf("marshal statuses: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO runs(id, started_at, completed_at,
            regions, input_rows, ignored_rows,
            density_flagged, statistical_flagged, temporal_flagged, consensus_flagged, temporal_events,
            zscore_threshold, spike_threshold_pct, contamination, consensus_min, seed,
            feature_names, statuses)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `,
		report.RunID, report.StartedAt.UTC(), report.CompletedAt.UTC(),
		report.Summary.Regions, report.Summary.InputRows, report.Summary.IgnoredRows,
		report.Summary.DensityFlagged, report.Summary.StatisticalFlagged,
		report.Summary.TemporalFlagged, report.Summary.ConsensusFlagged, report.Summary.TemporalEvents,
		report.Params.ZScoreThreshold, report.Params.SpikeThresholdPct,
		report.Params.Contamination, report.Params.ConsensusMin, report.Params.Seed,
		string(names), string(statuses),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, rr := range report.Regions {
		features, err := json.Marshal(rr.Features)
		if err != nil {
			return fmt.Errorf("marshal features for %s: %w", rr.Region, err)
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO region_reports(run_id, region, features,
                density_score, density_flag, statistical_score, statistical_flag,
                temporal_score, temporal_flag, agreement, priority, consensus_flag, reasons)
            VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
        `,
			report.RunID, rr.Region, string(features),
			rr.DensityScore, rr.DensityFlag, rr.StatisticalScore, rr.StatisticalFlag,
			rr.TemporalScore, rr.TemporalFlag, rr.Agreement, rr.Priority, rr.ConsensusFlag, rr.Reasons,
		)
		if err != nil {
			return fmt.Errorf("insert region report %s: %w", rr.Region, err)
		}
	}

	for _, ev := range report.Events {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO temporal_events(run_id, region, period, prev_period, previous, current, pct_change, from_zero)
            VALUES(?,?,?,?,?,?,?,?)
        `,
			report.RunID, ev.Region, ev.Period, ev.PrevPeriod, ev.Previous, ev.Current, ev.PctChange, ev.FromZero,
		)
		if err != nil {
			return fmt.Errorf("insert temporal event %s/%s: %w", ev.Region, ev.Period, err)
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) GetReport(ctx context.Context, runID string) (*pipeline.Report, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, started_at, completed_at,
            regions, input_rows, ignored_rows,
            density_flagged, statistical_flagged, temporal_flagged, consensus_flagged, temporal_events,
            zscore_threshold, spike_threshold_pct, contamination, consensus_min, seed,
            feature_names, statuses
        FROM runs WHERE id = ?`, runID)

	report := &pipeline.Report{}
	var startedAt, completedAt, names, statuses string
	err := row.Scan(&report.RunID, &startedAt, &completedAt,
		&report.Summary.Regions, &report.Summary.InputRows, &report.Summary.IgnoredRows,
		&report.Summary.DensityFlagged, &report.Summary.StatisticalFlagged,
		&report.Summary.TemporalFlagged, &report.Summary.ConsensusFlagged, &report.Summary.TemporalEvents,
		&report.Params.ZScoreThreshold, &report.Params.SpikeThresholdPct,
		&report.Params.Contamination, &report.Params.ConsensusMin, &report.Params.Seed,
		&names, &statuses)
	if err != nil {
		return nil, err
	}
	report.StartedAt, _ = parseTime(startedAt)
	report.CompletedAt, _ = parseTime(completedAt)
	if err := json.Unmarshal([]byte(names), &report.FeatureNames); err != nil {
		return nil, fmt.Errorf("unmarshal feature names: %w", err)
	}
	if err := json.Unmarshal([]byte(statuses), &report.Statuses); err != nil {
		return nil, fmt.Errorf("unmarshal statuses: %w", err)
	}

	if report.Regions, err = s.RegionReports(ctx, runID); err != nil {
		return nil, err
	}
	if report.Events, err = s.TemporalEvents(ctx, runID); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *sqliteStore) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`).Scan(&id)
	return id, err
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, started_at, completed_at,
            regions, input_rows, ignored_rows,
            density_flagged, statistical_flagged, temporal_flagged, consensus_flagged, temporal_events
        FROM runs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RunSummary
	for rows.Next() {
		rec := &RunSummary{}
		var startedAt, completedAt string
		if err := rows.Scan(&rec.ID, &startedAt, &completedAt,
			&rec.Regions, &rec.InputRows, &rec.IgnoredRows,
			&rec.DensityFlagged, &rec.StatisticalFlagged,
			&rec.TemporalFlagged, &rec.ConsensusFlagged, &rec.TemporalEvents); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = parseTime(startedAt)
		rec.CompletedAt, _ = parseTime(completedAt)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Region reports ───────────────────────────────────────────────────────────

const regionColumns = `region, features,
    density_score, density_flag, statistical_score, statistical_flag,
    temporal_score, temporal_flag, agreement, priority, consensus_flag, reasons`

func (s *sqliteStore) RegionReports(ctx context.Context, runID string) ([]pipeline.RegionReport, error) {
	return s.queryRegions(ctx,
		`SELECT `+regionColumns+` FROM region_reports WHERE run_id = ? ORDER BY region ASC`, runID)
}

func (s *sqliteStore) RegionReport(ctx context.Context, runID, region string) (pipeline.RegionReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+regionColumns+` FROM region_reports WHERE run_id = ? AND region = ?`, runID, region)
	return scanRegion(row)
}

func (s *sqliteStore) DensityFlags(ctx context.Context, runID string) ([]pipeline.RegionReport, error) {
	return s.queryRegions(ctx,
		`SELECT `+regionColumns+` FROM v_density_flags WHERE run_id = ? ORDER BY density_score ASC, region ASC`, runID)
}

func (s *sqliteStore) StatisticalFlags(ctx context.Context, runID string) ([]pipeline.RegionReport, error) {
	return s.queryRegions(ctx,
		`SELECT `+regionColumns+` FROM v_statistical_flags WHERE run_id = ? ORDER BY statistical_score DESC, region ASC`, runID)
}

func (s *sqliteStore) ConsensusFlags(ctx context.Context, runID string) ([]pipeline.RegionReport, error) {
	return s.queryRegions(ctx,
		`SELECT `+regionColumns+` FROM v_consensus WHERE run_id = ? ORDER BY agreement DESC, density_score ASC, region ASC`, runID)
}

func (s *sqliteStore) queryRegions(ctx context.Context, query string, args ...any) ([]pipeline.RegionReport, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []pipeline.RegionReport
	for rows.Next() {
		rr, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rr)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegion(row rowScanner) (pipeline.RegionReport, error) {
	var rr pipeline.RegionReport
	var features string
	err := row.Scan(&rr.Region, &features,
		&rr.DensityScore, &rr.DensityFlag, &rr.StatisticalScore, &rr.StatisticalFlag,
		&rr.TemporalScore, &rr.TemporalFlag, &rr.Agreement, &rr.Priority, &rr.ConsensusFlag, &rr.Reasons)
	if err != nil {
		return rr, err
	}
	if err := json.Unmarshal([]byte(features), &rr.Features); err != nil {
		return rr, fmt.Errorf("unmarshal features for %s: %w", rr.Region, err)
	}
	return rr, nil
}

// ─── Temporal events ──────────────────────────────────────────────────────────

func (s *sqliteStore) TemporalEvents(ctx context.Context, runID string) ([]temporal.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT region, period, prev_period, previous, current, pct_change, from_zero
        FROM temporal_events WHERE run_id = ? ORDER BY region ASC, period ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []temporal.Event
	for rows.Next() {
		var ev temporal.Event
		if err := rows.Scan(&ev.Region, &ev.Period, &ev.PrevPeriod,
			&ev.Previous, &ev.Current, &ev.PctChange, &ev.FromZero); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
