// Package pipeline orchestrates one analysis run: load and validate
// the input tables, build the feature matrix, run the three detectors,
// combine their verdicts, and characterize the results.
//
// A run is single-pass and deterministic. Input-shape problems and
// non-finite features abort the run before any verdict is produced;
// a detector that declines to run for lack of data is recorded as
// skipped and contributes no flags.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enrolytics/enrolytics/internal/audit"
	"github.com/enrolytics/enrolytics/internal/characterize"
	"github.com/enrolytics/enrolytics/internal/config"
	"github.com/enrolytics/enrolytics/internal/consensus"
	"github.com/enrolytics/enrolytics/internal/dataset"
	"github.com/enrolytics/enrolytics/internal/detect"
	"github.com/enrolytics/enrolytics/internal/detect/density"
	"github.com/enrolytics/enrolytics/internal/detect/temporal"
	"github.com/enrolytics/enrolytics/internal/detect/zscore"
	"github.com/enrolytics/enrolytics/internal/features"
	"github.com/enrolytics/enrolytics/internal/metrics"
)

// Inputs are the resolved input file paths for one run.
type Inputs struct {
	Paths dataset.Paths
}

// InputsFromConfig joins the configured input directory and file names.
// The projections path stays empty unless configured.
func InputsFromConfig(cfg *config.Config) Inputs {
	p := dataset.Paths{
		Registrations:      filepath.Join(cfg.Input.Dir, cfg.Input.Registrations),
		BiometricUpdates:   filepath.Join(cfg.Input.Dir, cfg.Input.BiometricUpdates),
		DemographicUpdates: filepath.Join(cfg.Input.Dir, cfg.Input.DemographicUpdates),
	}
	if cfg.Input.Projections != "" {
		p.Projections = filepath.Join(cfg.Input.Dir, cfg.Input.Projections)
	}
	return Inputs{Paths: p}
}

// Runner executes analysis runs against a fixed configuration.
type Runner struct {
	cfg     *config.Config
	log     *zap.Logger
	journal audit.Journal
}

// NewRunner wires a runner. A nil journal disables audit events.
func NewRunner(cfg *config.Config, log *zap.Logger, journal audit.Journal) *Runner {
	if journal == nil {
		journal = audit.NewNop()
	}
	return &Runner{cfg: cfg, log: log, journal: journal}
}

// Run executes one analysis pass over the inputs.
func (r *Runner) Run(ctx context.Context, in Inputs) (*Report, error) {
	started := time.Now()
	runID := uuid.NewString()
	log := r.log.With(zap.String("run_id", runID))

	r.journal.LogRunStarted(ctx, runID)
	log.Info("run started",
		zap.String("registrations", in.Paths.Registrations),
		zap.Bool("with_projections", in.Paths.Projections != ""))

	report, err := r.run(ctx, runID, started, in)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failure").Inc()
		r.journal.LogRunFailed(ctx, runID, err)
		log.Error("run failed", zap.Error(err))
		return nil, err
	}

	duration := time.Since(started)
	metrics.RunsTotal.WithLabelValues("success").Inc()
	metrics.RunDuration.Observe(duration.Seconds())
	metrics.RegionsAnalyzed.Set(float64(report.Summary.Regions))
	metrics.RegionsFlagged.WithLabelValues(detect.Density).Set(float64(report.Summary.DensityFlagged))
	metrics.RegionsFlagged.WithLabelValues(detect.Statistical).Set(float64(report.Summary.StatisticalFlagged))
	metrics.RegionsFlagged.WithLabelValues(detect.Temporal).Set(float64(report.Summary.TemporalFlagged))
	metrics.ConsensusFlagged.Set(float64(report.Summary.ConsensusFlagged))
	metrics.TemporalEvents.Set(float64(report.Summary.TemporalEvents))

	r.journal.LogRunCompleted(ctx, runID, report.Summary.Regions, report.Summary.ConsensusFlagged, duration)
	log.Info("run completed",
		zap.Int("regions", report.Summary.Regions),
		zap.Int("consensus_flagged", report.Summary.ConsensusFlagged),
		zap.Duration("duration", duration))
	return report, nil
}

func (r *Runner) run(ctx context.Context, runID string, started time.Time, in Inputs) (*Report, error) {
	ds, err := r.loadStage(ctx, runID, in)
	if err != nil {
		return nil, err
	}

	matrix, err := r.featureStage(ctx, runID, ds)
	if err != nil {
		return nil, err
	}

	densityRes, statuses := r.densityStage(ctx, runID, matrix)
	statRes := r.statisticalStage(ctx, runID, matrix)
	temporalRes := r.temporalStage(ctx, runID, ds)

	report := r.aggregate(runID, started, ds, matrix, densityRes, statRes, temporalRes)
	report.Statuses = statuses
	return report, nil
}

func (r *Runner) loadStage(ctx context.Context, runID string, in Inputs) (*dataset.Dataset, error) {
	start := time.Now()
	ds, err := dataset.Load(in.Paths)
	if err != nil {
		return nil, fmt.Errorf("loading inputs: %w", err)
	}
	metrics.StageDuration.WithLabelValues("load").Observe(time.Since(start).Seconds())
	metrics.InputRowsTotal.WithLabelValues(dataset.TableRegistrations).Add(float64(ds.RowCounts.Registrations))
	metrics.InputRowsTotal.WithLabelValues(dataset.TableBiometricUpdates).Add(float64(ds.RowCounts.BiometricUpdates))
	metrics.InputRowsTotal.WithLabelValues(dataset.TableDemographicUpdates).Add(float64(ds.RowCounts.DemographicUpdates))
	metrics.InputRowsTotal.WithLabelValues(dataset.TableProjections).Add(float64(ds.RowCounts.Projections))

	r.journal.LogInputLoaded(ctx, runID, len(ds.Regions), ds.Rows)
	if ds.IgnoredRows > 0 {
		r.log.Warn("ignored update rows for regions absent from registrations",
			zap.String("run_id", runID),
			zap.Int("ignored_rows", ds.IgnoredRows))
	}
	return ds, nil
}

func (r *Runner) featureStage(ctx context.Context, runID string, ds *dataset.Dataset) (*features.Matrix, error) {
	start := time.Now()
	matrix, err := features.Build(ds)
	if err != nil {
		return nil, fmt.Errorf("building features: %w", err)
	}
	metrics.StageDuration.WithLabelValues("features").Observe(time.Since(start).Seconds())

	r.journal.Log(ctx, audit.NewEvent(audit.EventFeaturesBuilt).
		WithRunID(runID).
		WithDescription(fmt.Sprintf("built %d features for %d regions", len(matrix.Defs), len(matrix.Regions))))
	return matrix, nil
}

// densityStage runs the multivariate model. Too few regions is not a
// run failure: the detector is reported skipped and every region keeps
// an unflagged zero-score verdict.
func (r *Runner) densityStage(ctx context.Context, runID string, m *features.Matrix) (*density.Result, []DetectorStatus) {
	start := time.Now()
	res, err := density.Detect(m, density.Options{
		Contamination: r.cfg.Detect.Contamination,
		Seed:          r.cfg.Detect.Seed,
		Trees:         r.cfg.Detect.Forest.Trees,
		Subsample:     r.cfg.Detect.Forest.Subsample,
		MinRegions:    r.cfg.Detect.MinRegions,
	})
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues("detect_density").Observe(elapsed.Seconds())

	statuses := []DetectorStatus{
		{Detector: detect.Density, Status: detect.StatusCompleted},
		{Detector: detect.Statistical, Status: detect.StatusCompleted},
		{Detector: detect.Temporal, Status: detect.StatusCompleted},
	}

	if err != nil {
		statuses[0] = DetectorStatus{Detector: detect.Density, Status: detect.StatusSkipped, Message: err.Error()}
		metrics.DetectorsSkipped.WithLabelValues(detect.Density).Inc()
		r.journal.LogDetectorSkipped(ctx, runID, detect.Density, err.Error())
		r.log.Warn("density detector skipped", zap.String("run_id", runID), zap.Error(err))
		return &density.Result{Verdicts: make([]detect.Verdict, len(m.Regions))}, statuses
	}

	flagged := 0
	for _, v := range res.Verdicts {
		if v.Flag {
			flagged++
		}
	}
	r.journal.LogDetectorCompleted(ctx, runID, detect.Density, flagged, elapsed)
	return res, statuses
}

func (r *Runner) statisticalStage(ctx context.Context, runID string, m *features.Matrix) *zscore.Result {
	start := time.Now()
	res := zscore.Detect(m, r.cfg.Detect.ZScoreThreshold)
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues("detect_statistical").Observe(elapsed.Seconds())

	flagged := 0
	for _, v := range res.Verdicts {
		if v.Flag {
			flagged++
		}
	}
	r.journal.LogDetectorCompleted(ctx, runID, detect.Statistical, flagged, elapsed)
	return res
}

func (r *Runner) temporalStage(ctx context.Context, runID string, ds *dataset.Dataset) *temporal.Result {
	start := time.Now()
	res := temporal.Detect(ds.Series, ds.Regions, r.cfg.Detect.SpikeThresholdPct)
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues("detect_temporal").Observe(elapsed.Seconds())

	flagged := 0
	for _, v := range res.Verdicts {
		if v.Flag {
			flagged++
		}
	}
	r.journal.LogDetectorCompleted(ctx, runID, detect.Temporal, flagged, elapsed)
	return res
}

func (r *Runner) aggregate(runID string, started time.Time, ds *dataset.Dataset, m *features.Matrix,
	densityRes *density.Result, statRes *zscore.Result, temporalRes *temporal.Result) *Report {

	start := time.Now()

	flaggedAny := make([]bool, len(m.Regions))
	rows := make([]RegionReport, len(m.Regions))
	summary := Summary{
		Regions:     len(m.Regions),
		InputRows:   ds.Rows,
		IgnoredRows: ds.IgnoredRows,
	}

	for i, region := range m.Regions {
		dv := densityRes.Verdicts[i]
		sv := statRes.Verdicts[i]
		tv := temporalRes.Verdicts[region]

		agreement := consensus.Agreement(dv.Flag, sv.Flag, tv.Flag)
		flaggedAny[i] = agreement > 0

		rows[i] = RegionReport{
			Region:           region,
			Features:         m.RowMap(i),
			DensityScore:     dv.Score,
			DensityFlag:      dv.Flag,
			StatisticalScore: sv.Score,
			StatisticalFlag:  sv.Flag,
			TemporalScore:    tv.Score,
			TemporalFlag:     tv.Flag,
			Agreement:        agreement,
			Priority:         consensus.TierFor(agreement),
			ConsensusFlag:    agreement >= r.cfg.Detect.ConsensusMin,
		}

		if dv.Flag {
			summary.DensityFlagged++
		}
		if sv.Flag {
			summary.StatisticalFlagged++
		}
		if tv.Flag {
			summary.TemporalFlagged++
		}
		if rows[i].ConsensusFlag {
			summary.ConsensusFlagged++
		}
	}

	for i, reason := range characterize.Describe(m, flaggedAny) {
		rows[i].Reasons = reason
	}
	summary.TemporalEvents = len(temporalRes.Events)

	names := make([]string, len(m.Defs))
	for j, def := range m.Defs {
		names[j] = def.Name
	}

	metrics.StageDuration.WithLabelValues("aggregate").Observe(time.Since(start).Seconds())

	return &Report{
		RunID:       runID,
		StartedAt:   started.UTC(),
		CompletedAt: time.Now().UTC(),
		Params: Params{
			ZScoreThreshold:   r.cfg.Detect.ZScoreThreshold,
			SpikeThresholdPct: r.cfg.Detect.SpikeThresholdPct,
			Contamination:     r.cfg.Detect.Contamination,
			ConsensusMin:      r.cfg.Detect.ConsensusMin,
			Seed:              r.cfg.Detect.Seed,
		},
		FeatureNames: names,
		Regions:      rows,
		Events:       temporalRes.Events,
		Summary:      summary,
	}
}
