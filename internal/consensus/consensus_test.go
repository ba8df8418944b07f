package consensus

import "testing"

func TestTierFor(t *testing.T) {
	tests := []struct {
		agreement int
		want      string
	}{
		{0, TierNormal},
		{1, TierLow},
		{2, TierMedium},
		{3, TierHigh},
		{-1, TierNormal},
		{5, TierHigh},
	}
	for _, tt := range tests {
		if got := TierFor(tt.agreement); got != tt.want {
			t.Errorf("TierFor(%d) = %q, want %q", tt.agreement, got, tt.want)
		}
	}
}

func TestAgreement(t *testing.T) {
	if got := Agreement(false, false, false); got != 0 {
		t.Errorf("no flags = %d, want 0", got)
	}
	if got := Agreement(true, false, true); got != 2 {
		t.Errorf("two flags = %d, want 2", got)
	}
	if got := Agreement(true, true, true); got != 3 {
		t.Errorf("all flags = %d, want 3", got)
	}
}

func TestRank(t *testing.T) {
	entries := []Entry{
		{Region: "delta", Agreement: 1, DensityScore: -0.9},
		{Region: "bravo", Agreement: 3, DensityScore: -0.5},
		{Region: "echo", Agreement: 2, DensityScore: -0.7},
		{Region: "alpha", Agreement: 2, DensityScore: -0.7},
		{Region: "charlie", Agreement: 2, DensityScore: -0.8},
	}

	Rank(entries)

	want := []string{"bravo", "charlie", "alpha", "echo", "delta"}
	for i, w := range want {
		if entries[i].Region != w {
			t.Errorf("rank[%d] = %s, want %s", i, entries[i].Region, w)
		}
	}
}

func TestRank_Deterministic(t *testing.T) {
	base := []Entry{
		{Region: "b", Agreement: 2, DensityScore: -0.5},
		{Region: "a", Agreement: 2, DensityScore: -0.5},
		{Region: "c", Agreement: 2, DensityScore: -0.5},
	}

	first := make([]Entry, len(base))
	copy(first, base)
	Rank(first)

	// A different starting permutation must settle identically.
	second := []Entry{base[2], base[0], base[1]}
	Rank(second)

	for i := range first {
		if first[i] != second[i] {
			t.Errorf("rank diverged at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}
