package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/enrolytics/enrolytics/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.File = filepath.Join(tmpDir, "audit.log")
	cfg.Audit.BufferSize = 4
	cfg.Audit.FlushInterval = 1
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 2
	cfg.Logging.Compress = false
	return cfg
}

func TestNewJournal(t *testing.T) {
	j, err := NewJournal(testConfig(t))
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}
	defer j.Close()

	if j == nil {
		t.Fatal("expected journal to be non-nil")
	}
}

func TestNewJournalDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Enabled = false

	j, err := NewJournal(cfg)
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}
	defer j.Close()

	// Nop journal accepts events without writing anything.
	if err := j.LogRunStarted(context.Background(), "run-1"); err != nil {
		t.Errorf("nop journal returned error: %v", err)
	}
}

func TestNewJournalEnabledWithoutFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.File = ""

	if _, err := NewJournal(cfg); err == nil {
		t.Fatal("expected error when audit enabled without file")
	}
}

func TestJournalWritesEvents(t *testing.T) {
	cfg := testConfig(t)
	j, err := NewJournal(cfg)
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}

	ctx := context.Background()
	if err := j.LogRunStarted(ctx, "run-42"); err != nil {
		t.Fatalf("LogRunStarted failed: %v", err)
	}
	if err := j.LogDetectorCompleted(ctx, "run-42", "density", 3, 120*time.Millisecond); err != nil {
		t.Fatalf("LogDetectorCompleted failed: %v", err)
	}
	if err := j.LogRunCompleted(ctx, "run-42", 36, 2, time.Second); err != nil {
		t.Fatalf("LogRunCompleted failed: %v", err)
	}

	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(cfg.Audit.File)
	if err != nil {
		t.Fatalf("reading audit file: %v", err)
	}
	content := string(data)

	for _, want := range []string{"run.started", "detector.completed", "run.completed", "run-42", "density"} {
		if !strings.Contains(content, want) {
			t.Errorf("audit file missing %q:\n%s", want, content)
		}
	}

	// Every line must be valid JSON.
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Errorf("audit line is not JSON: %v\n%s", err, line)
		}
	}
}

func TestJournalFlushOnFullBuffer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.BufferSize = 2
	cfg.Audit.FlushInterval = 60 // ticker must not be the thing flushing

	j, err := NewJournal(cfg)
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	_ = j.LogRunStarted(ctx, "run-1")
	_ = j.LogRunFailed(ctx, "run-1", os.ErrNotExist)

	data, err := os.ReadFile(cfg.Audit.File)
	if err != nil {
		t.Fatalf("reading audit file: %v", err)
	}
	if !strings.Contains(string(data), "run.failed") {
		t.Errorf("expected buffer flush at capacity, file content:\n%s", string(data))
	}
}

func TestEventBuilders(t *testing.T) {
	err := os.ErrPermission
	e := NewEvent(EventDetectorCompleted).
		WithRunID("r1").
		WithDetector("temporal").
		WithDuration(1500 * time.Millisecond).
		WithMetadata("flagged", 7).
		WithError(err)

	if e.RunID != "r1" || e.Detector != "temporal" {
		t.Errorf("builder fields not applied: %+v", e)
	}
	if e.DurationMs != 1500 {
		t.Errorf("duration = %d ms, want 1500", e.DurationMs)
	}
	if e.Result != ResultFailure {
		t.Errorf("WithError should mark result failed, got %s", e.Result)
	}
	if e.Metadata["flagged"] != 7 {
		t.Errorf("metadata not set: %v", e.Metadata)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}
