//nolint:funlen,lll // ok for tests
package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func positions(drivers []DriverState) []int {
	ret := make([]int, len(drivers))
	for i := range drivers {
		ret[i] = drivers[i].Position
	}
	return ret
}

func ids(drivers []DriverState) []string {
	ret := make([]string, len(drivers))
	for i := range drivers {
		ret[i] = drivers[i].DriverID
	}
	return ret
}

func TestRank(t *testing.T) {
	tests := []struct {
		name    string
		input   []DriverState
		wantIDs []string
		wantPos []int
	}{
		{
			name:    "empty",
			input:   []DriverState{},
			wantIDs: []string{},
			wantPos: []int{},
		},
		{
			name: "sorted by position",
			input: []DriverState{
				{DriverID: "c", Position: 3},
				{DriverID: "a", Position: 1},
				{DriverID: "b", Position: 2},
			},
			wantIDs: []string{"a", "b", "c"},
			wantPos: []int{1, 2, 3},
		},
		{
			name: "unranked appended in source order",
			input: []DriverState{
				{DriverID: "x", Position: 0},
				{DriverID: "a", Position: 1},
				{DriverID: "y", Position: -1},
				{DriverID: "b", Position: 2},
			},
			wantIDs: []string{"a", "b", "x", "y"},
			wantPos: []int{1, 2, 3, 4},
		},
		{
			name: "duplicates pushed down",
			input: []DriverState{
				{DriverID: "a", Position: 1},
				{DriverID: "b", Position: 2},
				{DriverID: "c", Position: 2},
				{DriverID: "d", Position: 3},
			},
			wantIDs: []string{"a", "b", "c", "d"},
			wantPos: []int{1, 2, 3, 4},
		},
		{
			name: "only unranked",
			input: []DriverState{
				{DriverID: "a"},
				{DriverID: "b"},
			},
			wantIDs: []string{"a", "b"},
			wantPos: []int{1, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rank(tt.input)
			assert.Equal(t, tt.wantIDs, ids(got))
			assert.Equal(t, tt.wantPos, positions(got))
			state := RaceState{Drivers: got}
			assert.NoError(t, state.Validate())
		})
	}
}

func TestRank_Gaps(t *testing.T) {
	input := []DriverState{
		{DriverID: "a", Position: 1, GapToLeader: Gap(0), GapToAhead: Gap(0)},
		{DriverID: "b", Position: 2, GapToLeader: Gap(-1.5)},
		{DriverID: "c", Position: 3, GapToLeader: Gap(4.2)},
	}
	got := Rank(input)
	assert.Nil(t, got[0].GapToLeader)
	assert.Nil(t, got[0].GapToAhead)
	for _, d := range got[1:] {
		require.NotNil(t, d.GapToLeader)
		require.NotNil(t, d.GapToAhead)
		assert.GreaterOrEqual(t, *d.GapToLeader, 0.0)
	}
	assert.InDelta(t, 0.0, *got[1].GapToLeader, 0.0001)
	assert.InDelta(t, 4.2, *got[2].GapToLeader, 0.0001)
	// input is untouched
	assert.InDelta(t, -1.5, *input[1].GapToLeader, 0.0001)
}

func TestFillGapToAhead(t *testing.T) {
	drivers := Rank([]DriverState{
		{DriverID: "a", Position: 1},
		{DriverID: "b", Position: 2, GapToLeader: Gap(1.5)},
		{DriverID: "c", Position: 3, GapToLeader: Gap(1.2)},
		{DriverID: "d", Position: 4, GapToLeader: Gap(5)},
	})
	FillGapToAhead(drivers)
	assert.Nil(t, drivers[0].GapToAhead)
	assert.InDelta(t, 1.5, *drivers[1].GapToAhead, 0.0001)
	assert.InDelta(t, 0.0, *drivers[2].GapToAhead, 0.0001)
	assert.InDelta(t, 3.8, *drivers[3].GapToAhead, 0.0001)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		drivers []DriverState
		wantErr error
	}{
		{"ok", []DriverState{{DriverID: "a", Position: 1}, {DriverID: "b", Position: 2, GapToLeader: Gap(1)}}, nil},
		{"zero position", []DriverState{{DriverID: "a", Position: 0}}, ErrInvalidPosition},
		{"duplicate", []DriverState{{DriverID: "a", Position: 1}, {DriverID: "b", Position: 1}}, ErrDuplicatePosition},
		{"leader with gap", []DriverState{{DriverID: "a", Position: 1, GapToLeader: Gap(0)}}, ErrInvalidPosition},
		{"negative gap", []DriverState{{DriverID: "a", Position: 1}, {DriverID: "b", Position: 2, GapToAhead: Gap(-1)}}, ErrNegativeGap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&RaceState{Drivers: tt.drivers}).Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestClone(t *testing.T) {
	orig := &RaceState{
		Series:  SeriesF1,
		Drivers: []DriverState{{DriverID: "a", Position: 2, GapToLeader: Gap(1)}},
	}
	c := orig.Clone()
	if diff := cmp.Diff(orig, c); diff != "" {
		t.Errorf("Clone() mismatch (-want +got):\n%s", diff)
	}
	*c.Drivers[0].GapToLeader = 7
	c.Drivers[0].Name = "changed"
	assert.InDelta(t, 1.0, *orig.Drivers[0].GapToLeader, 0.0001)
	assert.Empty(t, orig.Drivers[0].Name)
	assert.Nil(t, (*RaceState)(nil).Clone())
}

func TestParseSeries(t *testing.T) {
	s, err := ParseSeries("indycar")
	require.NoError(t, err)
	assert.Equal(t, SeriesIndyCar, s)
	_, err = ParseSeries("motogp")
	assert.Error(t, err)
}

func TestDiff(t *testing.T) {
	prev := &RaceState{
		Series: SeriesNASCAR, FlagStatus: FlagGreen,
		Drivers: []DriverState{{DriverID: "24", Position: 1}, {DriverID: "5", Position: 2}, {DriverID: "9", Position: 3}},
	}
	cur := &RaceState{
		Series: SeriesNASCAR, FlagStatus: FlagYellow,
		Drivers: []DriverState{{DriverID: "5", Position: 1}, {DriverID: "24", Position: 2}, {DriverID: "9", Position: 3}},
	}
	got := Diff(prev, cur)
	want := []ChangeEvent{
		{Type: ChangeFlag, Series: SeriesNASCAR, Old: "GREEN", New: "YELLOW"},
		{Type: ChangeLeader, Series: SeriesNASCAR, Old: "24", New: "5"},
		{Type: ChangePosition, Series: SeriesNASCAR, DriverID: "5", Old: "2", New: "1"},
		{Type: ChangePosition, Series: SeriesNASCAR, DriverID: "24", Old: "1", New: "2"},
	}
	assert.Equal(t, want, got)

	assert.Nil(t, Diff(nil, cur))
	assert.Empty(t, Diff(cur, cur.Clone()))

	unknown := prev.Clone()
	unknown.FlagStatus = ""
	assert.Empty(t, Diff(prev, unknown), "unknown flag is no flag change")
}
