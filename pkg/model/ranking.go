package model

import (
	"sort"
)

// Rank orders drivers by position and normalizes the ranking.
//
// Entries with a usable position (>0) come first in ascending order. Entries
// without one follow in source order and receive the ranks after the highest
// ranked entry. Duplicate positions are pushed down so positions are strictly
// increasing. The leader gets nil gaps, everyone else non-negative gaps.
// The input slice is not modified.
func Rank(drivers []DriverState) []DriverState {
	ranked := make([]DriverState, 0, len(drivers))
	unranked := make([]DriverState, 0)
	for i := range drivers {
		d := drivers[i].clone()
		if d.Position > 0 {
			ranked = append(ranked, d)
		} else {
			unranked = append(unranked, d)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Position < ranked[j].Position
	})
	ret := append(ranked, unranked...)
	last := 0
	for i := range ret {
		if ret[i].Position <= last {
			ret[i].Position = last + 1
		}
		last = ret[i].Position
		normalizeGaps(&ret[i])
	}
	return ret
}

func normalizeGaps(d *DriverState) {
	if d.Position == 1 {
		d.GapToLeader = nil
		d.GapToAhead = nil
		return
	}
	d.GapToLeader = nonNegative(d.GapToLeader)
	d.GapToAhead = nonNegative(d.GapToAhead)
}

func nonNegative(g *float64) *float64 {
	if g == nil || *g < 0 {
		return Gap(0)
	}
	return g
}

// FillGapToAhead computes the gap to the car ahead from the cumulative
// gap to the leader. Drivers must already be ranked.
func FillGapToAhead(drivers []DriverState) {
	for i := 1; i < len(drivers); i++ {
		cur, prev := drivers[i].GapToLeader, drivers[i-1].GapToLeader
		if cur == nil {
			continue
		}
		prevGap := 0.0
		if prev != nil {
			prevGap = *prev
		}
		diff := *cur - prevGap
		if diff < 0 {
			diff = 0
		}
		drivers[i].GapToAhead = Gap(diff)
	}
}
