// Package characterize attaches a short human-readable reason string
// to each region's report row.
//
// For every tracked feature it computes the cross-region 5th and 95th
// percentiles and names the features where a region sits strictly
// outside that band, using the high or low reason declared on the
// feature itself. A flagged region that stays inside every band got
// caught on the joint shape of its features rather than any one of
// them, and is labeled with the multivariate fallback. Unflagged
// in-band regions get an empty string.
package characterize

import (
	"strings"

	"github.com/enrolytics/enrolytics/internal/features"
	"github.com/enrolytics/enrolytics/internal/stats"
)

// Fallback labels flagged regions no single-feature band explains.
const Fallback = "Complex multivariate pattern"

// Describe returns one reason string per region, in matrix row order.
// flagged marks the regions at least one detector flagged.
func Describe(m *features.Matrix, flagged []bool) []string {
	tracked := m.TrackedIndexes()

	type band struct {
		j         int
		low, high float64
	}
	bands := make([]band, len(tracked))
	for k, j := range tracked {
		col := m.Column(j)
		bands[k] = band{
			j:    j,
			low:  stats.Percentile(col, 5),
			high: stats.Percentile(col, 95),
		}
	}

	out := make([]string, len(m.Regions))
	for i := range m.Regions {
		var reasons []string
		for _, b := range bands {
			v := m.Values[i][b.j]
			def := m.Defs[b.j]
			switch {
			case v > b.high:
				reasons = append(reasons, def.HighReason)
			case v < b.low:
				reasons = append(reasons, def.LowReason)
			}
		}

		switch {
		case len(reasons) > 0:
			out[i] = strings.Join(reasons, "; ")
		case flagged[i]:
			out[i] = Fallback
		}
	}
	return out
}
