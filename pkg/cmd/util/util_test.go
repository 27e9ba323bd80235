package util

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/config"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling/nascar"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, log.WarnLevel, ParseLogLevel("warn", log.InfoLevel))
	assert.Equal(t, log.InfoLevel, ParseLogLevel("loud", log.InfoLevel))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{"empty", "", time.Second},
		{"valid", "250ms", 250 * time.Millisecond},
		{"invalid", "soon", time.Second},
		{"negative", "-1s", time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDuration(tt.in, time.Second))
		})
	}
}

func TestParseSeries(t *testing.T) {
	got, err := ParseSeries(nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, model.AllSeries, got)

	got, err = ParseSeries([]string{"f1", "IndyCar"})
	assert.NilError(t, err)
	assert.DeepEqual(t, []model.Series{model.SeriesF1, model.SeriesIndyCar}, got)

	_, err = ParseSeries([]string{"f1", "motogp"})
	assert.ErrorContains(t, err, "motogp")
}

func TestPollingSources(t *testing.T) {
	defer func(race int, nxt bool) {
		config.NascarRaceID, config.IndycarNXT = race, nxt
	}(config.NascarRaceID, config.IndycarNXT)
	config.NascarRaceID = 5412
	config.IndycarNXT = true

	got := PollingSources()
	assert.Equal(t, 2, len(got))
	assert.Equal(t, model.SeriesNASCAR, got[0].Series())
	assert.Equal(t, model.SeriesIndyCar, got[1].Series())

	// a pinned race needs no schedule lookup
	a, ok := got[0].(*nascar.Adapter)
	assert.Assert(t, ok)
	id, err := a.CurrentRaceID(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, 5412, id)
}
