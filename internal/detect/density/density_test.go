package density

import (
	"errors"
	"fmt"
	"testing"

	"github.com/enrolytics/enrolytics/internal/dataset"
	"github.com/enrolytics/enrolytics/internal/detect"
	"github.com/enrolytics/enrolytics/internal/features"
)

func testOptions() Options {
	return Options{
		Contamination: 0.10,
		Seed:          42,
		Trees:         100,
		Subsample:     256,
		MinRegions:    10,
	}
}

// matrixWithOutlier builds 12 regions: 11 with similar, slightly varied
// profiles and one with an extreme combination.
func matrixWithOutlier(t *testing.T) *features.Matrix {
	t.Helper()
	totals := make([]dataset.RegionTotals, 0, 12)
	for i := 0; i < 11; i++ {
		base := int64(1000 + i*17)
		totals = append(totals, dataset.RegionTotals{
			Region:             fmt.Sprintf("region-%02d", i),
			Age0to5:            base / 10,
			Age5to17:           base * 3 / 10,
			Age18Plus:          base * 6 / 10,
			Registrations:      base,
			BiometricUpdates:   base / 3,
			DemographicUpdates: base / 20,
		})
	}
	totals = append(totals, dataset.RegionTotals{
		Region:             "region-odd",
		Age0to5:            9000,
		Age5to17:           500,
		Age18Plus:          500,
		Registrations:      10000,
		BiometricUpdates:   950,
		DemographicUpdates: 4000,
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

func TestDetect_FlagsOutlier(t *testing.T) {
	m := matrixWithOutlier(t)
	res, err := Detect(m, testOptions())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(res.Verdicts) != 12 {
		t.Fatalf("verdicts = %d, want 12", len(res.Verdicts))
	}

	odd := res.Verdicts[len(res.Verdicts)-1]
	if !odd.Flag {
		t.Errorf("outlier region not flagged (score %f, cutoff %f)", odd.Score, res.Cutoff)
	}
	for i, v := range res.Verdicts {
		if v.Score < odd.Score && i != len(res.Verdicts)-1 {
			t.Errorf("region %d scored below the outlier (%f < %f)", i, v.Score, odd.Score)
		}
	}

	flagged := 0
	for _, v := range res.Verdicts {
		if v.Flag {
			flagged++
		}
	}
	// Contamination 0.10 over 12 regions flags one or two.
	if flagged < 1 || flagged > 2 {
		t.Errorf("flagged = %d, want 1 or 2", flagged)
	}
}

func TestDetect_MoreNegativeIsMoreAnomalous(t *testing.T) {
	m := matrixWithOutlier(t)
	res, err := Detect(m, testOptions())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	for _, v := range res.Verdicts {
		if v.Flag && v.Score > res.Cutoff {
			t.Errorf("flagged score %f above cutoff %f", v.Score, res.Cutoff)
		}
		if !v.Flag && v.Score <= res.Cutoff {
			t.Errorf("unflagged score %f at or below cutoff %f", v.Score, res.Cutoff)
		}
	}
}

func TestDetect_Deterministic(t *testing.T) {
	m := matrixWithOutlier(t)
	opts := testOptions()

	a, err := Detect(m, opts)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	b, err := Detect(m, opts)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if a.Cutoff != b.Cutoff {
		t.Errorf("cutoffs diverged: %v vs %v", a.Cutoff, b.Cutoff)
	}
	for i := range a.Verdicts {
		if a.Verdicts[i] != b.Verdicts[i] {
			t.Errorf("verdict %d diverged: %+v vs %+v", i, a.Verdicts[i], b.Verdicts[i])
		}
	}
}

func TestDetect_InsufficientData(t *testing.T) {
	totals := []dataset.RegionTotals{
		{Region: "a", Registrations: 100, Age18Plus: 100},
		{Region: "b", Registrations: 200, Age18Plus: 200},
	}
	m, err := features.Build(&dataset.Dataset{Totals: totals, Regions: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	_, err = Detect(m, testOptions())
	var insufficientErr *detect.InsufficientDataError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if insufficientErr.Detector != detect.Density || insufficientErr.Regions != 2 || insufficientErr.Min != 10 {
		t.Errorf("error = %+v, want density/2/10", insufficientErr)
	}
}
