//nolint:funlen,lll,thelper // ok for tests
package indycar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

const timingJSON = `timingCallback({"timing_results": {
	"heartbeat": {"SessionStatus": "YELLOW", "EventName": "Grand Prix of Long Beach", "SessionId": "S-77",
		"LapNumber": "40", "LapsRemaining": "45", "TimeRemaining": ""},
	"Item": [
		{"Position": "2", "Number": "10", "Driver": "Alex Palou", "Team": "Chip Ganassi Racing",
		 "LastLap": "1:08.123", "BestLap": "1:07.500", "Gap": "+1.250", "PitStops": "1",
		 "Status": "Active", "OnTrack": "1", "Tire": "Alternate", "LapsComplete": "40"},
		{"Position": "1", "Number": "2", "Driver": "Josef Newgarden", "Team": "Team Penske",
		 "LastLap": "1:08.001", "BestLap": "1:07.400", "Gap": "--", "PitStops": 1,
		 "Status": "Active", "OnTrack": "1", "LapsLed": 30},
		{"Position": "3", "Number": "27", "Driver": "Kyle Kirkwood", "Team": "Andretti",
		 "LastLap": "", "BestLap": "1:07.900", "Gap": "1:02.5", "PitStops": "2",
		 "Status": "In Pit", "OnTrack": "0"},
		{"Position": "4", "Number": "6", "Driver": "Nolan Siegel", "Team": "McLaren",
		 "Gap": "1 Lap", "Status": "Retired"}
	]
}});`

type vendor struct {
	srv              *httptest.Server
	config           atomic.Value
	timingStatus     atomic.Int32
	timingCalls      atomic.Int32
	leaderboardCalls atomic.Int32
	nxtCalls         atomic.Int32
}

func newVendor(t *testing.T) *vendor {
	v := &vendor{}
	v.config.Store(`{"no_track_activity": false, "timed_race": false}`)
	v.timingStatus.Store(http.StatusOK)
	mux := http.NewServeMux()
	mux.HandleFunc("/racecontrol/tsconfig.json", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("t"), "cache busting parameter expected")
		_, _ = w.Write([]byte(v.config.Load().(string)))
	})
	mux.HandleFunc("/racecontrol/timingscoring-ris.json", func(w http.ResponseWriter, r *http.Request) {
		v.timingCalls.Add(1)
		if code := int(v.timingStatus.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write([]byte(timingJSON))
	})
	mux.HandleFunc("/racecontrol/trackactivityleaderboardfeed.json", func(w http.ResponseWriter, r *http.Request) {
		v.leaderboardCalls.Add(1)
		_, _ = w.Write([]byte(`{"session": {"status": "GREEN", "eventName": "Practice 1", "lapNumber": 3},
			"entries": [
				{"position": 1, "carNumber": 12, "driverName": "Will Power", "teamName": "Team Penske", "bestLapTime": "1:07.1"},
				{"position": 2, "carNumber": 9, "driverName": "Scott Dixon", "teamName": "Chip Ganassi Racing", "gap": "0.4"}
			]}`))
	})
	mux.HandleFunc("/racecontrol/trackactivityleaderboardfeed_nxt.json", func(w http.ResponseWriter, r *http.Request) {
		v.nxtCalls.Add(1)
		_, _ = w.Write([]byte(`{"session": {"status": "GREEN", "eventName": "INDY NXT Practice", "lapNumber": 5},
			"entries": [
				{"position": 1, "carNumber": 76, "driverName": "Louis Foster", "teamName": "Andretti"}
			]}`))
	})
	v.srv = httptest.NewServer(mux)
	t.Cleanup(v.srv.Close)
	return v
}

func (v *vendor) adapter() *Adapter {
	return New(WithBaseURL(v.srv.URL + "/racecontrol/"))
}

func TestAbsentSessionMakesNoTimingFetch(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"no track activity", `{"no_track_activity": true}`},
		{"flag missing", `{"timed_race": true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVendor(t)
			v.config.Store(tt.config)
			a := v.adapter()

			active, err := a.IsSessionActive(context.Background())
			require.NoError(t, err)
			assert.False(t, active)

			state, err := a.FetchLiveSnapshot(context.Background())
			require.NoError(t, err)
			assert.Nil(t, state)
			assert.Equal(t, int32(0), v.timingCalls.Load())
			assert.Equal(t, int32(0), v.leaderboardCalls.Load())
		})
	}
}

func TestFetchLiveSnapshot(t *testing.T) {
	v := newVendor(t)
	state, err := v.adapter().FetchLiveSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state)
	require.NoError(t, state.Validate())

	assert.Equal(t, model.SeriesIndyCar, state.Series)
	assert.Equal(t, "Grand Prix of Long Beach", state.SessionName)
	assert.Equal(t, "S-77", state.SessionKey)
	assert.Equal(t, 40, state.CurrentLap)
	assert.Equal(t, 85, state.TotalLaps)
	assert.Equal(t, model.FlagYellow, state.FlagStatus)
	assert.False(t, state.LastUpdated.IsZero())

	require.Len(t, state.Drivers, 4)
	leader := state.Drivers[0]
	assert.Equal(t, "2", leader.DriverID)
	assert.Nil(t, leader.GapToLeader)
	assert.Equal(t, 30, leader.LapsLed)
	assert.InDelta(t, 68.001, leader.LastLapTime, 0.0001)

	second := state.Drivers[1]
	assert.Equal(t, "Alex Palou", second.Name)
	assert.InDelta(t, 1.25, *second.GapToLeader, 0.0001)
	assert.InDelta(t, 1.25, *second.GapToAhead, 0.0001)
	assert.Equal(t, "Alternate", second.TireCompound)
	assert.Equal(t, 40, second.LapsCompleted)
	assert.True(t, second.IsOnTrack)

	third := state.Drivers[2]
	assert.InDelta(t, 62.5, *third.GapToLeader, 0.0001)
	assert.InDelta(t, 61.25, *third.GapToAhead, 0.0001)
	assert.Equal(t, model.StatusPit, third.Status)
	assert.False(t, third.IsOnTrack)
	assert.InDelta(t, 0.0, third.LastLapTime, 0.0001)
	assert.Equal(t, 2, third.PitStops)

	fourth := state.Drivers[3]
	assert.Equal(t, model.StatusDNF, fourth.Status)
	assert.InDelta(t, 0.0, *fourth.GapToLeader, 0.0001)
	assert.InDelta(t, 0.0, *fourth.GapToAhead, 0.0001, "gap to ahead is clamped")

	assert.Equal(t, int32(0), v.leaderboardCalls.Load())
}

func TestLeaderboardFallback(t *testing.T) {
	v := newVendor(t)
	v.timingStatus.Store(http.StatusNotFound)
	state, err := v.adapter().FetchLiveSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int32(1), v.leaderboardCalls.Load())
	assert.Equal(t, "Practice 1", state.SessionName)
	assert.Equal(t, model.FlagGreen, state.FlagStatus)
	require.Len(t, state.Drivers, 2)
	assert.Equal(t, "12", state.Drivers[0].DriverID)
	assert.Equal(t, "Will Power", state.Drivers[0].Name)
	assert.InDelta(t, 67.1, state.Drivers[0].BestLapTime, 0.0001)
	assert.InDelta(t, 0.4, *state.Drivers[1].GapToLeader, 0.0001)
}

func TestTimingErrorIsReported(t *testing.T) {
	v := newVendor(t)
	v.timingStatus.Store(http.StatusInternalServerError)
	_, err := v.adapter().FetchLiveSnapshot(context.Background())
	assert.Error(t, err)
}

func TestFlagStatus(t *testing.T) {
	tests := []struct {
		in   string
		want model.FlagStatus
	}{
		{"GREEN", model.FlagGreen},
		{"yellow", model.FlagYellow},
		{"RED", model.FlagRed},
		{"WARM", model.FlagWarmup},
		{"COLD", model.FlagCold},
		{"CHECKERED", model.FlagCheckered},
		{"WHITE", model.FlagWhite},
		{"PURPLE", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FlagStatus(tt.in))
		})
	}
}

func TestDriverStatus(t *testing.T) {
	assert.Equal(t, model.StatusRunning, driverStatus("Active"))
	assert.Equal(t, model.StatusRunning, driverStatus(""))
	assert.Equal(t, model.StatusPit, driverStatus("In Pit"))
	assert.Equal(t, model.StatusDNF, driverStatus("Retired"))
	assert.Equal(t, model.StatusDNF, driverStatus("Mechanical"))
	assert.Equal(t, model.StatusOut, driverStatus("DNS"))
}

func TestNXTLeaderboard(t *testing.T) {
	v := newVendor(t)
	v.timingStatus.Store(http.StatusNotFound)
	a := New(WithBaseURL(v.srv.URL+"/racecontrol/"), WithNXT())

	state, err := a.FetchLiveSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "INDY NXT Practice", state.SessionName)
	require.Len(t, state.Drivers, 1)
	assert.Equal(t, "Louis Foster", state.Drivers[0].Name)
	assert.Equal(t, int32(1), v.nxtCalls.Load())
	assert.Equal(t, int32(0), v.leaderboardCalls.Load())
}

func TestNewSessionRefetchesTiming(t *testing.T) {
	v := newVendor(t)
	a := v.adapter()
	ctx := context.Background()

	_, err := a.FetchLiveSnapshot(ctx)
	require.NoError(t, err)
	_, err = a.FetchLiveSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v.timingCalls.Load(), "timing is cached within a session")

	v.config.Store(`{"no_track_activity": true}`)
	a.config.Invalidate(ctx)
	active, err := a.IsSessionActive(ctx)
	require.NoError(t, err)
	require.False(t, active)

	v.config.Store(`{"no_track_activity": false}`)
	a.config.Invalidate(ctx)
	state, err := a.FetchLiveSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int32(2), v.timingCalls.Load(), "cached timing of the previous session is dropped")
}
