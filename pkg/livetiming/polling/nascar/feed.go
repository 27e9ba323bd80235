package nascar

import (
	"strconv"

	"github.com/samber/lo"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

// liveFeed is the document served as live_feed.json
type liveFeed struct {
	RaceID                  int       `json:"race_id"`
	RunName                 string    `json:"run_name"`
	TrackName               string    `json:"track_name"`
	TrackLength             float64   `json:"track_length"`
	SeriesID                int       `json:"series_id"`
	LapNumber               int       `json:"lap_number"`
	LapsInRace              int       `json:"laps_in_race"`
	LapsToGo                int       `json:"laps_to_go"`
	FlagState               int       `json:"flag_state"`
	ElapsedTime             float64   `json:"elapsed_time"`
	NumberOfCautionLaps     int       `json:"number_of_caution_laps"`
	NumberOfCautionSegments int       `json:"number_of_caution_segments"`
	NumberOfLeadChanges     int       `json:"number_of_lead_changes"`
	NumberOfLeaders         int       `json:"number_of_leaders"`
	Stage                   *stage    `json:"stage"`
	Vehicles                []vehicle `json:"vehicles"`
}

type stage struct {
	StageNum    int `json:"stage_num"`
	FinishAtLap int `json:"finish_at_lap"`
	LapsInStage int `json:"laps_in_stage"`
}

type vehicle struct {
	RunningPosition     int    `json:"running_position"`
	VehicleNumber       string `json:"vehicle_number"`
	VehicleManufacturer string `json:"vehicle_manufacturer"`
	SponsorName         string `json:"sponsor_name"`
	Driver              struct {
		DriverID int    `json:"driver_id"`
		FullName string `json:"full_name"`
	} `json:"driver"`
	LapsCompleted int       `json:"laps_completed"`
	LapsLed       []lapsLed `json:"laps_led"`
	LastLapTime   float64   `json:"last_lap_time"`
	LastLapSpeed  float64   `json:"last_lap_speed"`
	BestLapTime   float64   `json:"best_lap_time"`
	BestLapSpeed  float64   `json:"best_lap_speed"`
	AverageSpeed  float64   `json:"average_speed"`
	Status        int       `json:"status"`
	Delta         float64   `json:"delta"`
	IsOnTrack     bool      `json:"is_on_track"`
	// the first entry is a placeholder
	PitStops []pitStop `json:"pit_stops"`
}

type lapsLed struct {
	StartLap int `json:"start_lap"`
	EndLap   int `json:"end_lap"`
}

type pitStop struct {
	PitInLap  int `json:"pit_in_lap"`
	PitOutLap int `json:"pit_out_lap"`
}

// vehicle status codes
const (
	vehicleRunning = 1
	vehiclePit     = 2
	vehicleOut     = 3
)

var flagStates = map[int]model.FlagStatus{
	1: model.FlagGreen,
	2: model.FlagYellow,
	3: model.FlagRed,
	4: model.FlagCheckered,
	5: model.FlagWhite,
	6: model.FlagWarmup,
	8: model.FlagCold,
	9: model.FlagYellow, // caution
}

// FlagStatus maps a vendor flag code. Unknown codes yield an empty status.
func FlagStatus(code int) model.FlagStatus {
	return flagStates[code]
}

func (v *vehicle) lapsLed() int {
	return lo.SumBy(v.LapsLed, func(l lapsLed) int {
		return max(l.EndLap-l.StartLap+1, 0)
	})
}

func (v *vehicle) status() model.DriverStatus {
	switch v.Status {
	case vehicleOut:
		return model.StatusOut
	case vehiclePit:
		return model.StatusPit
	default:
		return model.StatusRunning
	}
}

func (v *vehicle) toDriver() model.DriverState {
	d := model.DriverState{
		DriverID:      v.VehicleNumber,
		Name:          v.Driver.FullName,
		Team:          v.VehicleManufacturer,
		Position:      v.RunningPosition,
		LastLapTime:   v.LastLapTime,
		BestLapTime:   v.BestLapTime,
		PitStops:      max(len(v.PitStops)-1, 0),
		Status:        v.status(),
		IsOnTrack:     v.IsOnTrack,
		LapsCompleted: v.LapsCompleted,
		LapsLed:       v.lapsLed(),
	}
	if d.DriverID == "" {
		d.DriverID = strconv.Itoa(v.Driver.DriverID)
	}
	if d.Name == "" {
		d.Name = "Unknown"
	}
	// negative deltas are laps down
	d.GapToLeader = model.Gap(max(v.Delta, 0))
	return d
}

// toRaceState maps the feed. Vehicles are ranked by running position.
func (f *liveFeed) toRaceState() *model.RaceState {
	drivers := model.Rank(lo.Map(f.Vehicles, func(v vehicle, _ int) model.DriverState {
		return v.toDriver()
	}))
	model.FillGapToAhead(drivers)
	return &model.RaceState{
		Series:      model.SeriesNASCAR,
		SessionName: f.RunName,
		SessionKey:  strconv.Itoa(f.RaceID),
		CurrentLap:  f.LapNumber,
		TotalLaps:   f.LapsInRace,
		FlagStatus:  FlagStatus(f.FlagState),
		Drivers:     drivers,
		LeadChanges: f.NumberOfLeadChanges,
		CautionLaps: f.NumberOfCautionLaps,
	}
}
