package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enrolytics/enrolytics/internal/audit"
	"github.com/enrolytics/enrolytics/internal/config"
	"github.com/enrolytics/enrolytics/internal/db"
	"github.com/enrolytics/enrolytics/internal/detect"
	"github.com/enrolytics/enrolytics/internal/export"
	"github.com/enrolytics/enrolytics/internal/logging"
	"github.com/enrolytics/enrolytics/internal/metrics"
	"github.com/enrolytics/enrolytics/internal/pipeline"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one batch analysis over the configured input tables",
		Long:  "run loads the input tables, executes the three detectors, writes the CSV exports and stores the run in the result database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			return a.runBatch(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&a.inputDir, "input-dir", "", "override the input table directory")
	cmd.Flags().StringVar(&a.outputDir, "output-dir", "", "override the export directory")
	cmd.Flags().StringVar(&a.database, "database", "", "override the result database path")
	return cmd
}

// runBatch is the batch composition: pipeline, then persistence, then
// exports, then the printed summary.
func (a *app) runBatch(cmd *cobra.Command, cfg *config.Config) error {
	log, err := logging.New(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	journal, err := audit.NewJournal(cfg)
	if err != nil {
		return fmt.Errorf("opening audit journal: %w", err)
	}
	defer journal.Close()

	var store db.Store
	if cfg.Output.Database != "" {
		store, err = db.NewSQLiteStore(cfg.Output.Database)
		if err != nil {
			return fmt.Errorf("opening result store: %w", err)
		}
		defer store.Close()
	}

	ctx := cmd.Context()
	runner := pipeline.NewRunner(cfg, log, journal)
	report, err := runner.Run(ctx, pipeline.InputsFromConfig(cfg))
	if err != nil {
		return err
	}

	if store != nil {
		start := time.Now()
		if err := store.SaveReport(ctx, report); err != nil {
			return fmt.Errorf("persisting report: %w", err)
		}
		metrics.StageDuration.WithLabelValues("persist").Observe(time.Since(start).Seconds())
		journal.LogReportPersisted(ctx, report.RunID, cfg.Output.Database)
	}

	var exports []export.Result
	if cfg.Output.Dir != "" {
		start := time.Now()
		exports, err = export.WriteAll(cfg.Output.Dir, report)
		if err != nil {
			return fmt.Errorf("writing exports: %w", err)
		}
		metrics.StageDuration.WithLabelValues("export").Observe(time.Since(start).Seconds())
		for _, res := range exports {
			journal.LogExportWritten(ctx, report.RunID, res.Path, res.Rows)
		}
	}

	log.Info("batch run finished",
		zap.String("run_id", report.RunID),
		zap.Int("regions", report.Summary.Regions),
		zap.Int("consensus_flagged", report.Summary.ConsensusFlagged))

	printSummary(cmd.OutOrStdout(), cfg, report, exports)
	return nil
}

// printSummary writes the operator-facing run summary.
func printSummary(w io.Writer, cfg *config.Config, report *pipeline.Report, exports []export.Result) {
	s := report.Summary
	fmt.Fprintf(w, "Run %s finished in %s\n", report.RunID, report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  regions      %d (%d input rows, %d ignored)\n", s.Regions, s.InputRows, s.IgnoredRows)
	fmt.Fprintf(w, "  density      %d flagged\n", s.DensityFlagged)
	fmt.Fprintf(w, "  statistical  %d flagged\n", s.StatisticalFlagged)
	fmt.Fprintf(w, "  temporal     %d flagged (%d events)\n", s.TemporalFlagged, s.TemporalEvents)
	fmt.Fprintf(w, "  consensus    %d high priority (min agreement %d of 3)\n", s.ConsensusFlagged, report.Params.ConsensusMin)

	for _, st := range report.Statuses {
		if st.Status == detect.StatusSkipped {
			fmt.Fprintf(w, "  note: %s detector skipped (%s)\n", st.Detector, st.Message)
		}
	}

	for _, rr := range report.ConsensusFlags() {
		fmt.Fprintf(w, "    %-24s agreement %d/3  %s  %s\n", rr.Region, rr.Agreement, rr.Priority, rr.Reasons)
	}

	if len(exports) > 0 {
		fmt.Fprintf(w, "Wrote %d export files to %s\n", len(exports), cfg.Output.Dir)
	}
	if cfg.Output.Database != "" {
		fmt.Fprintf(w, "Run stored in %s\n", cfg.Output.Database)
	}
}
