package dataset

import "sort"

// Assemble aggregates validated tables into the per-region totals and the
// per-period series. The registrations table defines the region population;
// update and projection rows for regions outside it are ignored and counted.
func Assemble(reg, bio, demo *Table, proj map[string]float64) (*Dataset, error) {
	if len(reg.Rows) == 0 {
		return nil, &ShapeError{Table: TableRegistrations, Column: "region", Reason: "table has no data rows"}
	}

	totalsByRegion := make(map[string]*RegionTotals)
	seriesByKey := make(map[string]*SeriesPoint)

	regIdx := bracketIndex(reg.Brackets)
	for i, row := range reg.Rows {
		t := totalsByRegion[row.Region]
		if t == nil {
			t = &RegionTotals{Region: row.Region}
			totalsByRegion[row.Region] = t
		}
		t.Age0to5 += countAt(row, regIdx, "age_0_5")
		t.Age5to17 += countAt(row, regIdx, "age_5_17")
		t.Age18Plus += countAt(row, regIdx, "age_18_plus")
		rowTotal := reg.RowTotal(i)
		t.Registrations += rowTotal

		key := row.Region + "\x00" + row.Period
		p := seriesByKey[key]
		if p == nil {
			p = &SeriesPoint{Region: row.Region, Period: row.Period}
			seriesByKey[key] = p
		}
		p.Count += rowTotal
	}

	ignored := 0
	for i, row := range bio.Rows {
		t := totalsByRegion[row.Region]
		if t == nil {
			ignored++
			continue
		}
		t.BiometricUpdates += bio.RowTotal(i)
	}
	for i, row := range demo.Rows {
		t := totalsByRegion[row.Region]
		if t == nil {
			ignored++
			continue
		}
		t.DemographicUpdates += demo.RowTotal(i)
	}

	hasGrowth := proj != nil
	if hasGrowth {
		for region, rate := range proj {
			t := totalsByRegion[region]
			if t == nil {
				ignored++
				continue
			}
			t.GrowthRatePct = rate
			t.HasGrowth = true
		}
	}

	regions := make([]string, 0, len(totalsByRegion))
	for region := range totalsByRegion {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	totals := make([]RegionTotals, 0, len(regions))
	for _, region := range regions {
		totals = append(totals, *totalsByRegion[region])
	}

	series := make([]SeriesPoint, 0, len(seriesByKey))
	for _, p := range seriesByKey {
		series = append(series, *p)
	}
	sort.Slice(series, func(i, j int) bool {
		if series[i].Region != series[j].Region {
			return series[i].Region < series[j].Region
		}
		return series[i].Period < series[j].Period
	})

	return &Dataset{
		Totals:  totals,
		Series:  series,
		Regions: regions,
		Rows:    len(reg.Rows) + len(bio.Rows) + len(demo.Rows) + len(proj),
		RowCounts: RowCounts{
			Registrations:      len(reg.Rows),
			BiometricUpdates:   len(bio.Rows),
			DemographicUpdates: len(demo.Rows),
			Projections:        len(proj),
		},
		IgnoredRows: ignored,
		HasGrowth:   hasGrowth,
	}, nil
}

func bracketIndex(brackets []string) map[string]int {
	idx := make(map[string]int, len(brackets))
	for i, b := range brackets {
		idx[b] = i
	}
	return idx
}

func countAt(row Row, idx map[string]int, bracket string) int64 {
	i, ok := idx[bracket]
	if !ok {
		return 0
	}
	return row.Counts[i]
}
