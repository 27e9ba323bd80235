package timeparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeconds(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOk bool
	}{
		{"83.456", 83.456, true},
		{"1:23.456", 83.456, true},
		{"1:02:03.4", 3723.4, true},
		{"+1.234", 1.234, true},
		{"1.2s", 1.2, true},
		{" 0:59.9 ", 59.9, true},
		{"", 0, false},
		{"abc", 0, false},
		{"1:2:3:4", 0, false},
		{"-1.5", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Seconds(tt.in)
			assert.Equal(t, tt.wantOk, ok)
			assert.InDelta(t, tt.want, got, 0.000001)
		})
	}
}

func TestGap(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"--", 0},
		{"", 0},
		{"+0.523", 0.523},
		{"12.3s", 12.3},
		{"1:05.2", 65.2},
		{"1 Lap", 0},
		{"+2 LAPS", 0},
		{"n/a", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, Gap(tt.in), 0.000001)
		})
	}
}

func TestLapTimeAndMillis(t *testing.T) {
	assert.InDelta(t, 61.234, LapTime("1:01.234"), 0.000001)
	assert.InDelta(t, 0.0, LapTime("no time"), 0.000001)
	assert.InDelta(t, 83.456, Millis(83456), 0.000001)
}
