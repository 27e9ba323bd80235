package indycar

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/processing/timeparse"
)

// text accepts json strings, numbers and booleans
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text(s)
		return nil
	}
	*t = text(data)
	return nil
}

func (t text) String() string { return strings.TrimSpace(string(t)) }

func (t text) Int() int {
	v, err := strconv.ParseFloat(t.String(), 64)
	if err != nil {
		return 0
	}
	return int(v)
}

// Bool treats missing values as true
func (t text) Bool() bool {
	switch strings.ToLower(t.String()) {
	case "0", "false", "no":
		return false
	default:
		return true
	}
}

type config struct {
	NoTrackActivity *bool `json:"no_track_activity"`
	TimedRace       bool  `json:"timed_race"`
	RainDelay       bool  `json:"rain_delay"`
}

// active reports track activity. A missing flag means no activity.
func (c *config) active() bool {
	return c.NoTrackActivity != nil && !*c.NoTrackActivity
}

type timingDoc struct {
	TimingResults struct {
		Heartbeat heartbeat `json:"heartbeat"`
		Entries   []entry   `json:"entries"`
		Item      []entry   `json:"Item"`
	} `json:"timing_results"`
}

type heartbeat struct {
	SessionStatus text `json:"SessionStatus"`
	SessionType   text `json:"SessionType"`
	SessionName   text `json:"SessionName"`
	SessionID     text `json:"SessionId"`
	EventName     text `json:"EventName"`
	TrackName     text `json:"TrackName"`
	LapNumber     text `json:"LapNumber"`
	LapsRemaining text `json:"LapsRemaining"`
	TotalLaps     text `json:"TotalLaps"`
	TimeRemaining text `json:"TimeRemaining"`
}

// entry is one car of the timing document
type entry struct {
	Position     text `json:"Position"`
	Number       text `json:"Number"`
	Driver       text `json:"Driver"`
	Team         text `json:"Team"`
	LastLap      text `json:"LastLap"`
	BestLap      text `json:"BestLap"`
	Gap          text `json:"Gap"`
	PitStops     text `json:"PitStops"`
	Status       text `json:"Status"`
	OnTrack      text `json:"OnTrack"`
	Tire         text `json:"Tire"`
	TireCompound text `json:"TireCompound"`
	LapsComplete text `json:"LapsComplete"`
	Laps         text `json:"Laps"`
	LapsLed      text `json:"LapsLed"`
}

func (d *timingDoc) entries() []entry {
	if len(d.TimingResults.Entries) > 0 {
		return d.TimingResults.Entries
	}
	return d.TimingResults.Item
}

type leaderboardDoc struct {
	Session       *lbSession `json:"session"`
	Entries       []lbEntry  `json:"entries"`
	TrackActivity struct {
		Event *struct {
			lbSession
			Entries []lbEntry `json:"entries"`
		} `json:"event"`
	} `json:"trackactivity"`
}

type lbSession struct {
	Status        text `json:"status"`
	SessionStatus text `json:"sessionStatus"`
	SessionType   text `json:"sessionType"`
	SessionName   text `json:"sessionName"`
	EventName     text `json:"eventName"`
	LapNumber     text `json:"lapNumber"`
	TimeRemaining text `json:"timeRemaining"`
}

type lbEntry struct {
	Position     text `json:"position"`
	CarNumber    text `json:"carNumber"`
	Number       text `json:"number"`
	DriverName   text `json:"driverName"`
	Driver       text `json:"driver"`
	TeamName     text `json:"teamName"`
	Team         text `json:"team"`
	LastLapTime  text `json:"lastLapTime"`
	BestLapTime  text `json:"bestLapTime"`
	BestTime     text `json:"bestTime"`
	Gap          text `json:"gap"`
	PitStops     text `json:"pitStops"`
	Status       text `json:"status"`
	TireCompound text `json:"tireCompound"`
	LapsComplete text `json:"lapsComplete"`
	Laps         text `json:"laps"`
	LapsLed      text `json:"lapsLed"`
}

// toEntry translates the leaderboard notation into a timing entry
func (e *lbEntry) toEntry() entry {
	return entry{
		Position:     e.Position,
		Number:       firstOf(e.CarNumber, e.Number),
		Driver:       firstOf(e.DriverName, e.Driver),
		Team:         firstOf(e.TeamName, e.Team),
		LastLap:      e.LastLapTime,
		BestLap:      firstOf(e.BestLapTime, e.BestTime),
		Gap:          e.Gap,
		PitStops:     e.PitStops,
		Status:       e.Status,
		TireCompound: e.TireCompound,
		LapsComplete: firstOf(e.LapsComplete, e.Laps),
		LapsLed:      e.LapsLed,
	}
}

func firstOf(values ...text) text {
	v, _ := lo.Find(values, func(t text) bool { return t.String() != "" })
	return v
}

var sessionStatus = map[string]model.FlagStatus{
	"GREEN":     model.FlagGreen,
	"YELLOW":    model.FlagYellow,
	"RED":       model.FlagRed,
	"WARM":      model.FlagWarmup,
	"COLD":      model.FlagCold,
	"CHECKERED": model.FlagCheckered,
	"WHITE":     model.FlagWhite,
}

// FlagStatus maps the vendor session status. Unknown values yield an empty
// status.
func FlagStatus(s string) model.FlagStatus {
	return sessionStatus[strings.ToUpper(strings.TrimSpace(s))]
}

func driverStatus(s string) model.DriverStatus {
	v := strings.ToLower(s)
	switch {
	case strings.Contains(v, "pit"):
		return model.StatusPit
	case lo.SomeBy([]string{"retired", "dnf", "accident", "mechanical", "contact"},
		func(k string) bool { return strings.Contains(v, k) }):
		return model.StatusDNF
	case lo.Contains([]string{"out", "dns", "dq", "dsq", "off"}, v):
		return model.StatusOut
	default:
		return model.StatusRunning
	}
}

func (e *entry) toDriver() model.DriverState {
	status := driverStatus(e.Status.String())
	d := model.DriverState{
		DriverID:      e.Number.String(),
		Name:          e.Driver.String(),
		Team:          e.Team.String(),
		Position:      e.Position.Int(),
		LastLapTime:   timeparse.LapTime(e.LastLap.String()),
		BestLapTime:   timeparse.LapTime(e.BestLap.String()),
		TireCompound:  firstOf(e.TireCompound, e.Tire).String(),
		PitStops:      max(e.PitStops.Int(), 0),
		Status:        status,
		IsOnTrack:     e.OnTrack.Bool() && status != model.StatusOut && status != model.StatusDNF,
		LapsCompleted: firstOf(e.LapsComplete, e.Laps).Int(),
		LapsLed:       e.LapsLed.Int(),
		GapToLeader:   model.Gap(timeparse.Gap(e.Gap.String())),
	}
	return d
}

func assemble(entries []entry) []model.DriverState {
	drivers := model.Rank(lo.Map(entries, func(e entry, _ int) model.DriverState {
		return e.toDriver()
	}))
	model.FillGapToAhead(drivers)
	return drivers
}

func (d *timingDoc) toRaceState() *model.RaceState {
	hb := &d.TimingResults.Heartbeat
	return &model.RaceState{
		Series:        model.SeriesIndyCar,
		SessionName:   firstOf(hb.EventName, hb.SessionName, hb.SessionType).String(),
		SessionKey:    hb.SessionID.String(),
		CurrentLap:    hb.LapNumber.Int(),
		TotalLaps:     totalLaps(hb),
		FlagStatus:    FlagStatus(hb.SessionStatus.String()),
		TimeRemaining: hb.TimeRemaining.String(),
		Drivers:       assemble(d.entries()),
	}
}

func totalLaps(hb *heartbeat) int {
	if n := hb.TotalLaps.Int(); n > 0 {
		return n
	}
	if rem := hb.LapsRemaining.Int(); rem > 0 {
		return hb.LapNumber.Int() + rem
	}
	return 0
}

// toRaceState returns nil if the document holds no session
func (d *leaderboardDoc) toRaceState() *model.RaceState {
	session, entries := d.Session, d.Entries
	if ev := d.TrackActivity.Event; ev != nil {
		session, entries = &ev.lbSession, ev.Entries
	}
	if session == nil && len(entries) == 0 {
		return nil
	}
	if session == nil {
		session = &lbSession{}
	}
	return &model.RaceState{
		Series:        model.SeriesIndyCar,
		SessionName:   firstOf(session.EventName, session.SessionName, session.SessionType).String(),
		CurrentLap:    session.LapNumber.Int(),
		FlagStatus:    FlagStatus(firstOf(session.Status, session.SessionStatus).String()),
		TimeRemaining: session.TimeRemaining.String(),
		Drivers: assemble(lo.Map(entries, func(e lbEntry, _ int) entry {
			return e.toEntry()
		})),
	}
}
