package zscore

import (
	"fmt"
	"math"
	"testing"

	"github.com/enrolytics/enrolytics/internal/dataset"
	"github.com/enrolytics/enrolytics/internal/features"
)

// buildMatrix gives 12 regions identical ratios but one extreme
// registration base, so only total_registrations can trip the check.
func buildMatrix(t *testing.T) *features.Matrix {
	t.Helper()
	totals := make([]dataset.RegionTotals, 0, 12)
	for i := 0; i < 11; i++ {
		totals = append(totals, dataset.RegionTotals{
			Region:             fmt.Sprintf("r%02d", i),
			Age0to5:            10,
			Age5to17:           30,
			Age18Plus:          60,
			Registrations:      100,
			BiometricUpdates:   45,
			DemographicUpdates: 5,
		})
	}
	totals = append(totals, dataset.RegionTotals{
		Region:             "r-big",
		Age0to5:            100,
		Age5to17:           300,
		Age18Plus:          600,
		Registrations:      1000,
		BiometricUpdates:   450,
		DemographicUpdates: 50,
	})

	regions := make([]string, len(totals))
	for i, tt := range totals {
		regions[i] = tt.Region
	}
	m, err := features.Build(&dataset.Dataset{Totals: totals, Regions: regions})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return m
}

func TestDetect_ExtremeValueFlagged(t *testing.T) {
	m := buildMatrix(t)
	res := Detect(m, 3.0)

	big := res.Verdicts[len(res.Verdicts)-1]
	if !big.Flag {
		t.Errorf("extreme region not flagged, score %f", big.Score)
	}

	// 11 values at 100 and one at 1000: mean 175, population stddev
	// about 248.7, so the outlier deviates by about 3.32.
	if math.Abs(big.Score-3.32) > 0.01 {
		t.Errorf("outlier score = %f, want ~3.32", big.Score)
	}

	for i := 0; i < 11; i++ {
		if res.Verdicts[i].Flag {
			t.Errorf("region %d flagged with identical ratios", i)
		}
	}
}

func TestDetect_ZeroVarianceDeviatesNowhere(t *testing.T) {
	m := buildMatrix(t)
	res := Detect(m, 3.0)

	// Every region shares the same update rates and shares, so those
	// columns have zero variance and must contribute deviation 0.
	for i, devs := range res.Deviations {
		for _, name := range []string{features.BioUpdateRate, features.DemoUpdateRate, features.ChildSharePct} {
			if devs[name] != 0 {
				t.Errorf("region %d: %s deviation = %f, want 0", i, name, devs[name])
			}
		}
	}
}

func TestDetect_ThresholdIsStrict(t *testing.T) {
	m := buildMatrix(t)

	// The outlier deviates about 3.32; a threshold at that exact value
	// must not flag, since only strictly greater deviations count.
	res := Detect(m, 3.0)
	score := res.Verdicts[len(res.Verdicts)-1].Score

	at := Detect(m, score)
	if at.Verdicts[len(at.Verdicts)-1].Flag {
		t.Error("deviation equal to the threshold must not flag")
	}

	below := Detect(m, score-0.001)
	if !below.Verdicts[len(below.Verdicts)-1].Flag {
		t.Error("deviation above the threshold must flag")
	}
}

func TestDetect_ScoreIsMaxDeviation(t *testing.T) {
	m := buildMatrix(t)
	res := Detect(m, 3.0)

	for i, v := range res.Verdicts {
		max := 0.0
		for _, d := range res.Deviations[i] {
			if d > max {
				max = d
			}
		}
		if v.Score != max {
			t.Errorf("region %d: score %f != max deviation %f", i, v.Score, max)
		}
	}
}
