// Package temporal scans each region's monthly registration series for
// period-over-period spikes and collapses.
//
// The first period of a series has nothing to compare against and is
// never evaluated. From the second period on, an absolute percent
// change strictly above the threshold produces an event. A jump from
// zero to a nonzero count has no defined percent change but is a spike
// by definition: it produces an event marked FromZero with a zero
// PctChange, which keeps every recorded value finite. Two consecutive
// zero periods produce nothing.
//
// A region's verdict is driven by event count: one event is enough to
// flag, and the score is the number of events.
package temporal

import (
	"github.com/enrolytics/enrolytics/internal/dataset"
	"github.com/enrolytics/enrolytics/internal/detect"
)

// Event is one spike or collapse between two consecutive periods.
type Event struct {
	Region     string  `json:"region"`
	Period     string  `json:"period"`
	PrevPeriod string  `json:"prev_period"`
	Previous   int64   `json:"previous"`
	Current    int64   `json:"current"`
	PctChange  float64 `json:"pct_change"`
	FromZero   bool    `json:"from_zero"`
}

// Result holds events in (region, period) order and a verdict for
// every region in the dataset, including regions whose series never
// produced an event.
type Result struct {
	Events   []Event
	Verdicts map[string]detect.Verdict
}

// Detect walks the registration series, which arrives sorted by region
// and period, and emits an event for every change beyond the threshold.
func Detect(series []dataset.SeriesPoint, regions []string, thresholdPct float64) *Result {
	res := &Result{Verdicts: make(map[string]detect.Verdict, len(regions))}
	for _, r := range regions {
		res.Verdicts[r] = detect.Verdict{}
	}

	for i := 1; i < len(series); i++ {
		prev, curr := series[i-1], series[i]
		if prev.Region != curr.Region {
			// curr is the first period of a new region's series.
			continue
		}

		ev, ok := evaluate(prev.Count, curr.Count, thresholdPct)
		if !ok {
			continue
		}
		ev.Region = curr.Region
		ev.Period = curr.Period
		ev.PrevPeriod = prev.Period
		res.Events = append(res.Events, ev)

		v := res.Verdicts[curr.Region]
		v.Flag = true
		v.Score++
		res.Verdicts[curr.Region] = v
	}

	return res
}

func evaluate(prev, curr int64, thresholdPct float64) (Event, bool) {
	if prev == 0 {
		if curr == 0 {
			return Event{}, false
		}
		return Event{Previous: prev, Current: curr, FromZero: true}, true
	}

	pct := (float64(curr) - float64(prev)) / float64(prev) * 100
	if pct > thresholdPct || -pct > thresholdPct {
		return Event{Previous: prev, Current: curr, PctChange: pct}, true
	}
	return Event{}, false
}
