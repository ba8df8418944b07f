package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/enrolytics/enrolytics/internal/db"
	"github.com/enrolytics/enrolytics/internal/detect"
	"github.com/enrolytics/enrolytics/internal/detect/temporal"
	"github.com/enrolytics/enrolytics/internal/export"
	"github.com/enrolytics/enrolytics/internal/pipeline"
)

func doRequest(t *testing.T, handler http.HandlerFunc, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

// storedReport saves a small two-region report and returns it. North is
// flagged by all three detectors, east is clean.
func storedReport(t *testing.T, store db.Store, runID string, startedAt time.Time) *pipeline.Report {
	t.Helper()
	report := &pipeline.Report{
		RunID:       runID,
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(2 * time.Second),
		Params:      pipeline.Params{ZScoreThreshold: 3.0, SpikeThresholdPct: 50.0, Contamination: 0.10, ConsensusMin: 2, Seed: 42},
		FeatureNames: []string{
			"total_registrations",
			"bio_update_rate",
		},
		Regions: []pipeline.RegionReport{
			{
				Region:       "east",
				Features:     map[string]float64{"total_registrations": 21000, "bio_update_rate": 40.0},
				DensityScore: -0.42, Priority: "Normal",
			},
			{
				Region:       "north",
				Features:     map[string]float64{"total_registrations": 98000, "bio_update_rate": 97.5},
				DensityScore: -0.88, DensityFlag: true,
				StatisticalScore: 3.6, StatisticalFlag: true,
				TemporalScore: 1, TemporalFlag: true,
				Agreement: 3, Priority: "High", ConsensusFlag: true,
				Reasons: "Very large registration base; Extremely high biometric update rate",
			},
		},
		Events: []temporal.Event{
			{Region: "north", Period: "2024-03", PrevPeriod: "2024-02", Previous: 400, Current: 98000, PctChange: 24400, FromZero: false},
		},
		Statuses: []pipeline.DetectorStatus{
			{Detector: "density", Status: detect.StatusCompleted},
			{Detector: "statistical", Status: detect.StatusCompleted},
			{Detector: "temporal", Status: detect.StatusCompleted},
		},
		Summary: pipeline.Summary{Regions: 2, DensityFlagged: 1, StatisticalFlagged: 1, TemporalFlagged: 1, ConsensusFlagged: 1, TemporalEvents: 1, InputRows: 6},
	}
	if err := store.SaveReport(context.Background(), report); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	return report
}

func TestHandleRuns_EmptyStore(t *testing.T) {
	srv := buildServer(t, testConfig(0), newTestStore(t))

	rr := doRequest(t, srv.handleRuns, http.MethodGet, "/api/v1/runs")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	resp := decodeBody(t, rr)
	if total, _ := resp["total"].(float64); total != 0 {
		t.Errorf("total = %v, want 0", resp["total"])
	}
	if runs, ok := resp["runs"].([]any); !ok || len(runs) != 0 {
		t.Errorf("runs = %v, want empty list", resp["runs"])
	}
}

func TestHandleRuns_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	storedReport(t, store, "run-old", base)
	storedReport(t, store, "run-new", base.Add(time.Hour))
	srv := buildServer(t, testConfig(0), store)

	rr := doRequest(t, srv.handleRuns, http.MethodGet, "/api/v1/runs")
	resp := decodeBody(t, rr)

	runs, _ := resp["runs"].([]any)
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	first, _ := runs[0].(map[string]any)
	if first["id"] != "run-new" {
		t.Errorf("first run = %v, want run-new", first["id"])
	}
}

func TestHandleRunByID(t *testing.T) {
	store := newTestStore(t)
	storedReport(t, store, "run-1", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	srv := buildServer(t, testConfig(0), store)

	rr := doRequest(t, srv.handleRunByID, http.MethodGet, "/api/v1/runs/run-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["run_id"] != "run-1" {
		t.Errorf("run_id = %v", resp["run_id"])
	}

	rr = doRequest(t, srv.handleRunByID, http.MethodGet, "/api/v1/runs/no-such-run")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", rr.Code)
	}

	rr = doRequest(t, srv.handleRunByID, http.MethodGet, "/api/v1/runs/")
	if rr.Code != http.StatusNotFound {
		t.Errorf("empty id status = %d, want 404", rr.Code)
	}
}

func TestHandleReport_LatestAndByParam(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	storedReport(t, store, "run-old", base)
	storedReport(t, store, "run-new", base.Add(time.Hour))
	srv := buildServer(t, testConfig(0), store)

	rr := doRequest(t, srv.handleReport, http.MethodGet, "/api/v1/report")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if resp := decodeBody(t, rr); resp["run_id"] != "run-new" {
		t.Errorf("latest run_id = %v, want run-new", resp["run_id"])
	}

	rr = doRequest(t, srv.handleReport, http.MethodGet, "/api/v1/report?run=run-old")
	if resp := decodeBody(t, rr); resp["run_id"] != "run-old" {
		t.Errorf("run_id = %v, want run-old", resp["run_id"])
	}
}

func TestHandleReport_NoRuns(t *testing.T) {
	srv := buildServer(t, testConfig(0), newTestStore(t))

	rr := doRequest(t, srv.handleReport, http.MethodGet, "/api/v1/report")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for empty store", rr.Code)
	}
}

func TestHandleReportSubset(t *testing.T) {
	store := newTestStore(t)
	storedReport(t, store, "run-1", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	srv := buildServer(t, testConfig(0), store)

	for _, subset := range []string{"consensus", "density", "statistical"} {
		rr := doRequest(t, srv.handleReportSubset, http.MethodGet, "/api/v1/report/"+subset)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", subset, rr.Code)
		}
		resp := decodeBody(t, rr)
		if resp["subset"] != subset {
			t.Errorf("subset = %v, want %s", resp["subset"], subset)
		}
		regions, _ := resp["regions"].([]any)
		if len(regions) != 1 {
			t.Fatalf("%s regions = %d, want 1", subset, len(regions))
		}
		row, _ := regions[0].(map[string]any)
		if row["region"] != "north" {
			t.Errorf("%s region = %v, want north", subset, row["region"])
		}
	}

	rr := doRequest(t, srv.handleReportSubset, http.MethodGet, "/api/v1/report/verdicts")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown subset status = %d, want 404", rr.Code)
	}
}

func TestHandleTemporalEvents(t *testing.T) {
	store := newTestStore(t)
	storedReport(t, store, "run-1", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	srv := buildServer(t, testConfig(0), store)

	rr := doRequest(t, srv.handleTemporalEvents, http.MethodGet, "/api/v1/events/temporal")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	resp := decodeBody(t, rr)
	if total, _ := resp["total"].(float64); total != 1 {
		t.Errorf("total = %v, want 1", resp["total"])
	}
	events, _ := resp["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev, _ := events[0].(map[string]any)
	if ev["region"] != "north" || ev["period"] != "2024-03" {
		t.Errorf("event = %v", ev)
	}
}

func TestHandleRegion(t *testing.T) {
	store := newTestStore(t)
	storedReport(t, store, "run-1", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	srv := buildServer(t, testConfig(0), store)

	rr := doRequest(t, srv.handleRegion, http.MethodGet, "/api/v1/regions/north")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	resp := decodeBody(t, rr)
	row, _ := resp["region"].(map[string]any)
	if row["region"] != "north" {
		t.Errorf("region = %v, want north", row["region"])
	}
	if agreement, _ := row["agreement"].(float64); agreement != 3 {
		t.Errorf("agreement = %v, want 3", row["agreement"])
	}
	events, _ := resp["events"].([]any)
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}

	rr = doRequest(t, srv.handleRegion, http.MethodGet, "/api/v1/regions/east")
	resp = decodeBody(t, rr)
	if events, _ := resp["events"].([]any); len(events) != 0 {
		t.Errorf("east events = %d, want 0", len(events))
	}

	rr = doRequest(t, srv.handleRegion, http.MethodGet, "/api/v1/regions/nowhere")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown region status = %d, want 404", rr.Code)
	}
}

func TestStoreEndpoints_WithoutStore(t *testing.T) {
	srv := buildServer(t, testConfig(0), nil)

	handlers := map[string]http.HandlerFunc{
		"/api/v1/runs":            srv.handleRuns,
		"/api/v1/runs/run-1":      srv.handleRunByID,
		"/api/v1/report":          srv.handleReport,
		"/api/v1/report/density":  srv.handleReportSubset,
		"/api/v1/events/temporal": srv.handleTemporalEvents,
		"/api/v1/regions/north":   srv.handleRegion,
	}
	for path, handler := range handlers {
		rr := doRequest(t, handler, http.MethodGet, path)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503 without store", path, rr.Code)
		}
	}
}

func TestHandleAnalyze_MethodNotAllowed(t *testing.T) {
	srv := buildServer(t, testConfig(0), nil)

	rr := doRequest(t, srv.handleAnalyze, http.MethodGet, "/api/v1/analyze")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}

func TestHandleAnalyze_ConflictWhileRunning(t *testing.T) {
	srv := buildServer(t, testConfig(0), nil)
	srv.analyzing = true

	rr := doRequest(t, srv.handleAnalyze, http.MethodPost, "/api/v1/analyze")
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

// writeInputs writes three months of data for 13 unremarkable regions
// plus one, zzz-odd, anomalous on every axis.
func writeInputs(t *testing.T, dir string) {
	t.Helper()

	var reg, bio, demo strings.Builder
	reg.WriteString("region,period,age_0_5,age_5_17,age_18_plus\n")
	bio.WriteString("region,period,age_5_17,age_18_plus\n")
	demo.WriteString("region,period,age_0_5,age_5_17,age_18_plus\n")

	months := []string{"2024-01", "2024-02", "2024-03"}
	for i := 0; i < 13; i++ {
		region := fmt.Sprintf("r%02d", i+1)
		base := int64(33000 + i*250)
		for mi, total := range []int64{base, base + base/50, base - base/50} {
			young := total / 10
			youth := total * 3 / 10
			adult := total - young - youth
			fmt.Fprintf(&reg, "%s,%s,%d,%d,%d\n", region, months[mi], young, youth, adult)
			fmt.Fprintf(&bio, "%s,%s,%d,%d\n", region, months[mi], youth*4/10, adult*4/10)
			fmt.Fprintf(&demo, "%s,%s,%d,%d,%d\n", region, months[mi], young/20, youth/20, adult/20)
		}
	}
	for mi, total := range []int64{100000, 300000, 600000} {
		young := total / 2
		youth := total * 3 / 10
		adult := total - young - youth
		fmt.Fprintf(&reg, "zzz-odd,%s,%d,%d,%d\n", months[mi], young, youth, adult)
		fmt.Fprintf(&bio, "zzz-odd,%s,%d,%d\n", months[mi], youth*98/100, adult*98/100)
		fmt.Fprintf(&demo, "zzz-odd,%s,%d,%d,%d\n", months[mi], young/5, youth/5, adult/5)
	}

	for name, content := range map[string]string{
		"registrations.csv":       reg.String(),
		"biometric_updates.csv":   bio.String(),
		"demographic_updates.csv": demo.String(),
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
}

func TestHandleAnalyze_EndToEnd(t *testing.T) {
	inputDir := t.TempDir()
	writeInputs(t, inputDir)

	cfg := testConfig(0)
	cfg.Input.Dir = inputDir
	cfg.Output.Dir = filepath.Join(t.TempDir(), "out")

	store := newTestStore(t)
	srv := buildServer(t, cfg, store)

	rr := doRequest(t, srv.handleAnalyze, http.MethodPost, "/api/v1/analyze")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	resp := decodeBody(t, rr)
	runID, _ := resp["run_id"].(string)
	if runID == "" {
		t.Fatal("response has no run_id")
	}
	summary, _ := resp["summary"].(map[string]any)
	if regions, _ := summary["regions"].(float64); regions != 14 {
		t.Errorf("summary regions = %v, want 14", summary["regions"])
	}

	// The run is now the latest stored one.
	rr = doRequest(t, srv.handleReport, http.MethodGet, "/api/v1/report")
	if rr.Code != http.StatusOK {
		t.Fatalf("report status = %d, want 200", rr.Code)
	}
	if got := decodeBody(t, rr); got["run_id"] != runID {
		t.Errorf("stored run_id = %v, want %s", got["run_id"], runID)
	}

	// And all five exports exist.
	for _, name := range []string{
		export.MasterFile, export.DensityFile, export.StatisticalFile, export.TemporalFile, export.ConsensusFile,
	} {
		if _, err := os.Stat(filepath.Join(cfg.Output.Dir, name)); err != nil {
			t.Errorf("export %s: %v", name, err)
		}
	}
}
