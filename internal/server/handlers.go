package server

// Result API handlers.
//
// Routes:
//   GET  /api/v1/runs                 → list stored runs (limit/offset)
//   GET  /api/v1/runs/{id}            → full report for one run
//   GET  /api/v1/report               → latest full report (?run=<id> for a specific one)
//   GET  /api/v1/report/consensus     → consensus-flagged regions, ranking order
//   GET  /api/v1/report/density       → density-flagged regions, score ascending
//   GET  /api/v1/report/statistical   → statistically flagged regions, score descending
//   GET  /api/v1/events/temporal      → temporal events, (region, period) order
//   GET  /api/v1/regions/{region}     → one region's master row plus its events
//   POST /api/v1/analyze              → trigger a batch run (409 while one is in flight)

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/enrolytics/enrolytics/internal/db"
	"github.com/enrolytics/enrolytics/internal/export"
	"github.com/enrolytics/enrolytics/internal/metrics"
	"github.com/enrolytics/enrolytics/internal/pipeline"
)

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}

	q := r.URL.Query()
	limit := parseIntParam(q.Get("limit"), 50)
	offset := parseIntParam(q.Get("offset"), 0)

	runs, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*db.RunSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": len(runs),
	})
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/runs/"), "/")
	if id == "" || strings.Contains(id, "/") {
		respondError(w, http.StatusNotFound, "not found")
		return
	}

	report, err := s.store.GetReport(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}

	runID, err := s.resolveRunID(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	report, err := s.store.GetReport(r.Context(), runID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleReportSubset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}

	subset := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/report/"), "/")

	runID, err := s.resolveRunID(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var regions []pipeline.RegionReport
	switch subset {
	case "consensus":
		regions, err = s.store.ConsensusFlags(r.Context(), runID)
	case "density":
		regions, err = s.store.DensityFlags(r.Context(), runID)
	case "statistical":
		regions, err = s.store.StatisticalFlags(r.Context(), runID)
	default:
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if regions == nil {
		regions = []pipeline.RegionReport{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"subset":  subset,
		"regions": regions,
		"total":   len(regions),
	})
}

func (s *Server) handleTemporalEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}

	runID, err := s.resolveRunID(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	events, err := s.store.TemporalEvents(r.Context(), runID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"events": events,
		"total":  len(events),
	})
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}

	region := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/regions/"), "/")
	if region == "" || strings.Contains(region, "/") {
		respondError(w, http.StatusNotFound, "not found")
		return
	}

	runID, err := s.resolveRunID(r)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	row, err := s.store.RegionReport(r.Context(), runID, region)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	events, err := s.store.TemporalEvents(r.Context(), runID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	var regionEvents []any
	for _, ev := range events {
		if ev.Region == region {
			regionEvents = append(regionEvents, ev)
		}
	}
	if regionEvents == nil {
		regionEvents = []any{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"region": row,
		"events": regionEvents,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.mu.Lock()
	if s.analyzing {
		s.mu.Unlock()
		respondError(w, http.StatusConflict, "analysis already in progress")
		return
	}
	s.analyzing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.analyzing = false
		s.mu.Unlock()
	}()

	// Run on the server context: a dropped client must not abort the
	// run after detectors have started.
	report, err := s.execute(s.ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"run_id":  report.RunID,
		"summary": report.Summary,
	})
}

// execute runs the batch pipeline and fans the result out: the run
// store, the export directory and WebSocket subscribers. The
// configuration is snapshotted once so a concurrent UpdateConfig
// cannot split one run across two configurations.
func (s *Server) execute(ctx context.Context) (*pipeline.Report, error) {
	cfg := s.config()
	runner := pipeline.NewRunner(cfg, s.log, s.journal)

	s.hub.publish(RunEvent{Type: EventRunStarted, Timestamp: time.Now().UTC()})

	report, err := runner.Run(ctx, pipeline.InputsFromConfig(cfg))
	if err != nil {
		s.hub.publish(RunEvent{Type: EventRunFailed, Error: err.Error(), Timestamp: time.Now().UTC()})
		return nil, err
	}

	if s.store != nil {
		start := time.Now()
		if err := s.store.SaveReport(ctx, report); err != nil {
			err = fmt.Errorf("persisting report: %w", err)
			s.hub.publish(RunEvent{Type: EventRunFailed, RunID: report.RunID, Error: err.Error(), Timestamp: time.Now().UTC()})
			return nil, err
		}
		metrics.StageDuration.WithLabelValues("persist").Observe(time.Since(start).Seconds())
		s.journal.LogReportPersisted(ctx, report.RunID, cfg.Output.Database)
	}

	if cfg.Output.Dir != "" {
		start := time.Now()
		results, err := export.WriteAll(cfg.Output.Dir, report)
		if err != nil {
			err = fmt.Errorf("writing exports: %w", err)
			s.hub.publish(RunEvent{Type: EventRunFailed, RunID: report.RunID, Error: err.Error(), Timestamp: time.Now().UTC()})
			return nil, err
		}
		metrics.StageDuration.WithLabelValues("export").Observe(time.Since(start).Seconds())
		for _, res := range results {
			s.journal.LogExportWritten(ctx, report.RunID, res.Path, res.Rows)
		}
	}

	s.hub.publish(RunEvent{
		Type:             EventRunCompleted,
		RunID:            report.RunID,
		Regions:          report.Summary.Regions,
		ConsensusFlagged: report.Summary.ConsensusFlagged,
		Timestamp:        time.Now().UTC(),
	})
	return report, nil
}

// resolveRunID returns the run named by the ?run query parameter, or
// the most recent run when absent.
func (s *Server) resolveRunID(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("run"); id != "" {
		return id, nil
	}
	return s.store.LatestRunID(r.Context())
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondStoreError maps a missing row to 404, anything else to 500.
func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func parseIntParam(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}
