// Package timeparse converts the lap time and gap notations used by the
// timing vendors into seconds.
package timeparse

import (
	"strings"

	"github.com/shopspring/decimal"
)

var sixty = decimal.NewFromInt(60)

// Seconds parses "83.456", "1:23.456", "1:02:03.4" as well as values with a
// leading '+' or trailing 's'. The second result is false if s is no time.
func Seconds(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	s = strings.TrimSuffix(s, "s")
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	total := decimal.Zero
	for _, p := range parts {
		d, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil || d.IsNegative() {
			return 0, false
		}
		total = total.Mul(sixty).Add(d)
	}
	return total.InexactFloat64(), true
}

// Gap parses a gap or interval. Leader markers ("--", "") and lap based gaps
// ("1 Lap", "+2 LAPS") as well as unparseable values yield 0.
func Gap(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" || strings.Contains(strings.ToLower(s), "lap") {
		return 0
	}
	if v, ok := Seconds(s); ok {
		return v
	}
	return 0
}

// LapTime parses a lap time. Unparseable values yield 0 (unknown).
func LapTime(s string) float64 {
	v, _ := Seconds(s)
	return v
}

// Millis converts a millisecond value into seconds without float noise
func Millis(ms int64) float64 {
	return decimal.New(ms, -3).InexactFloat64()
}
