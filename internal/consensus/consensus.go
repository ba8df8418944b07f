// Package consensus combines the three detector verdicts for a region
// into an agreement count, a priority tier, and a ranked ordering.
//
// Agreement is simply how many detectors flagged the region, 0 to 3.
// The consensus flag marks regions where enough detectors agree to act
// on; independent single-detector flags stay visible in their own
// columns but do not reach the high-priority list.
package consensus

import "sort"

// Priority tiers by agreement count.
const (
	TierNormal = "Normal"
	TierLow    = "Low"
	TierMedium = "Medium"
	TierHigh   = "High"
)

var tiers = [4]string{TierNormal, TierLow, TierMedium, TierHigh}

// TierFor maps an agreement count to its tier. Counts outside 0..3
// clamp to the nearest tier.
func TierFor(agreement int) string {
	if agreement < 0 {
		agreement = 0
	}
	if agreement > 3 {
		agreement = 3
	}
	return tiers[agreement]
}

// Agreement counts the detectors that flagged.
func Agreement(densityFlag, statisticalFlag, temporalFlag bool) int {
	n := 0
	if densityFlag {
		n++
	}
	if statisticalFlag {
		n++
	}
	if temporalFlag {
		n++
	}
	return n
}

// Entry is what the ranking needs to know about a region.
type Entry struct {
	Region       string
	Agreement    int
	DensityScore float64
}

// Rank orders entries for review: highest agreement first, then the
// more anomalous (more negative) density score, then region name. The
// three keys form a total order, so equal inputs always rank the same
// way.
func Rank(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Agreement != b.Agreement {
			return a.Agreement > b.Agreement
		}
		if a.DensityScore != b.DensityScore {
			return a.DensityScore < b.DensityScore
		}
		return a.Region < b.Region
	})
}
