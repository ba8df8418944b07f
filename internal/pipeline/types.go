package pipeline

import (
	"sort"
	"time"

	"github.com/enrolytics/enrolytics/internal/consensus"
	"github.com/enrolytics/enrolytics/internal/detect"
	"github.com/enrolytics/enrolytics/internal/detect/temporal"
)

// Params is the snapshot of detection settings a run executed with,
// kept on the report so stored runs stay interpretable after the
// configuration changes.
type Params struct {
	ZScoreThreshold   float64 `json:"zscore_threshold"`
	SpikeThresholdPct float64 `json:"spike_threshold_pct"`
	Contamination     float64 `json:"contamination"`
	ConsensusMin      int     `json:"consensus_min"`
	Seed              int64   `json:"seed"`
}

// DetectorStatus reports whether one detector ran for this dataset.
type DetectorStatus struct {
	Detector string        `json:"detector"`
	Status   detect.Status `json:"status"`
	Message  string        `json:"message,omitempty"`
}

// RegionReport is the master row for one region: every feature value,
// all three verdicts, and the consensus columns derived from them.
type RegionReport struct {
	Region string `json:"region"`

	Features map[string]float64 `json:"features"`

	DensityScore     float64 `json:"density_score"`
	DensityFlag      bool    `json:"density_flag"`
	StatisticalScore float64 `json:"statistical_score"`
	StatisticalFlag  bool    `json:"statistical_flag"`
	TemporalScore    float64 `json:"temporal_score"`
	TemporalFlag     bool    `json:"temporal_flag"`

	Agreement     int    `json:"agreement"`
	Priority      string `json:"priority"`
	ConsensusFlag bool   `json:"consensus_flag"`
	Reasons       string `json:"reasons"`
}

// Summary carries the headline counts for one run.
type Summary struct {
	Regions            int `json:"regions"`
	DensityFlagged     int `json:"density_flagged"`
	StatisticalFlagged int `json:"statistical_flagged"`
	TemporalFlagged    int `json:"temporal_flagged"`
	ConsensusFlagged   int `json:"consensus_flagged"`
	TemporalEvents     int `json:"temporal_events"`
	InputRows          int `json:"input_rows"`
	IgnoredRows        int `json:"ignored_rows"`
}

// Report is the complete result of one analysis run. Every export and
// API payload is a projection of this one structure, so the subsets can
// never drift from the master table.
type Report struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	Params       Params           `json:"params"`
	FeatureNames []string         `json:"feature_names"`
	Regions      []RegionReport   `json:"regions"`
	Events       []temporal.Event `json:"events"`
	Statuses     []DetectorStatus `json:"statuses"`
	Summary      Summary          `json:"summary"`
}

// DensityFlags returns the regions the density model flagged, most
// anomalous (most negative score) first.
func (r *Report) DensityFlags() []RegionReport {
	out := filterRegions(r.Regions, func(rr RegionReport) bool { return rr.DensityFlag })
	sort.Slice(out, func(i, j int) bool {
		if out[i].DensityScore != out[j].DensityScore {
			return out[i].DensityScore < out[j].DensityScore
		}
		return out[i].Region < out[j].Region
	})
	return out
}

// StatisticalFlags returns the regions the statistical detector
// flagged, largest deviation first.
func (r *Report) StatisticalFlags() []RegionReport {
	out := filterRegions(r.Regions, func(rr RegionReport) bool { return rr.StatisticalFlag })
	sort.Slice(out, func(i, j int) bool {
		if out[i].StatisticalScore != out[j].StatisticalScore {
			return out[i].StatisticalScore > out[j].StatisticalScore
		}
		return out[i].Region < out[j].Region
	})
	return out
}

// ConsensusFlags returns the consensus-flagged regions in review
// order: agreement desc, density score asc, region asc.
func (r *Report) ConsensusFlags() []RegionReport {
	out := filterRegions(r.Regions, func(rr RegionReport) bool { return rr.ConsensusFlag })

	entries := make([]consensus.Entry, len(out))
	byRegion := make(map[string]RegionReport, len(out))
	for i, rr := range out {
		entries[i] = consensus.Entry{Region: rr.Region, Agreement: rr.Agreement, DensityScore: rr.DensityScore}
		byRegion[rr.Region] = rr
	}
	consensus.Rank(entries)

	ranked := make([]RegionReport, len(entries))
	for i, e := range entries {
		ranked[i] = byRegion[e.Region]
	}
	return ranked
}

// RegionByName returns a region's master row.
func (r *Report) RegionByName(region string) (RegionReport, bool) {
	for _, rr := range r.Regions {
		if rr.Region == region {
			return rr, true
		}
	}
	return RegionReport{}, false
}

// EventsForRegion returns a region's temporal events in period order.
func (r *Report) EventsForRegion(region string) []temporal.Event {
	var out []temporal.Event
	for _, ev := range r.Events {
		if ev.Region == region {
			out = append(out, ev)
		}
	}
	return out
}

func filterRegions(rows []RegionReport, keep func(RegionReport) bool) []RegionReport {
	var out []RegionReport
	for _, rr := range rows {
		if keep(rr) {
			out = append(out, rr)
		}
	}
	return out
}
