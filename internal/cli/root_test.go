package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/enrolytics/enrolytics/internal/config"
)

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	root := NewRootCommandWithIO(out, out)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// writeConfigFile writes a test configuration that keeps logging and
// auditing quiet, plus any extra yaml the test needs.
func writeConfigFile(t *testing.T, extra string) string {
	t.Helper()
	content := "logging:\n  console: false\n  file: \"\"\naudit:\n  enabled: false\n" + extra
	path := filepath.Join(t.TempDir(), "enrolytics.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "enrolytics") || !strings.Contains(out, "commit") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestRootVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	if err != nil {
		t.Fatalf("--version failed: %v", err)
	}
	if !strings.Contains(out, "enrolytics") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestConfigShowYAML(t *testing.T) {
	path := writeConfigFile(t, "detect:\n  zscore_threshold: 2.5\n")

	out, err := execute(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}

	// The rendered output is itself a loadable configuration.
	var cfg config.Config
	if err := yaml.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("output is not valid yaml: %v\n%s", err, out)
	}
	if cfg.Detect.ZScoreThreshold != 2.5 {
		t.Errorf("zscore_threshold = %v, want 2.5 from file", cfg.Detect.ZScoreThreshold)
	}
	if cfg.Detect.ConsensusMin != 2 {
		t.Errorf("consensus_min = %v, want default 2", cfg.Detect.ConsensusMin)
	}
}

func TestConfigShowJSON(t *testing.T) {
	path := writeConfigFile(t, "")

	out, err := execute(t, "config", "show", "--config", path, "--output", "json")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}

	var cfg config.Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("output is not valid json: %v\n%s", err, out)
	}
	if cfg.Detect.Seed != 42 {
		t.Errorf("seed = %d, want default 42", cfg.Detect.Seed)
	}
}

func TestConfigShowUnsupportedOutput(t *testing.T) {
	path := writeConfigFile(t, "")

	_, err := execute(t, "config", "show", "--config", path, "--output", "toml")
	if err == nil {
		t.Error("expected error for unsupported output format")
	}
}

func TestConfigShowRejectsInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, "detect:\n  contamination: 0.9\n")

	_, err := execute(t, "config", "show", "--config", path)
	if err == nil {
		t.Error("expected validation error for out-of-range contamination")
	}
}
