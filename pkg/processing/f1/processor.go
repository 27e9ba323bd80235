// Package f1 assembles the F1 live timing topics into race state snapshots.
package f1

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/processing/timeparse"
)

// topics handled by the processor
const (
	TopicDriverList        = "DriverList"
	TopicTimingData        = "TimingData"
	TopicTimingAppData     = "TimingAppData"
	TopicLapCount          = "LapCount"
	TopicTrackStatus       = "TrackStatus"
	TopicSessionInfo       = "SessionInfo"
	TopicExtrapolatedClock = "ExtrapolatedClock"
)

// timing status values signalling a retirement after crash damage
const (
	statusRetiredOnTrack = 68
	statusRetiredInPit   = 92
)

var ErrUnexpectedPayload = errors.New("unexpected payload")

var trackStatusFlags = map[string]model.FlagStatus{
	"1": model.FlagGreen,
	"2": model.FlagYellow,
	"4": model.FlagSC,
	"5": model.FlagRed,
	"6": model.FlagVSC,
	"7": model.FlagVSC,
}

// TrackFlag maps a TrackStatus code. Unknown codes yield an empty status.
func TrackFlag(code string) model.FlagStatus {
	return trackStatusFlags[code]
}

type (
	Option    func(*Processor)
	Processor struct {
		l       *log.Logger
		now     func() time.Time
		drivers map[string]*driverRecord
		session struct {
			meeting, name, kind string
			key                 int
		}
		currentLap    int
		totalLaps     int
		flag          model.FlagStatus
		timeRemaining string
		lastUpdate    time.Time
	}
	driverRecord struct {
		number     string
		name       string
		team       string
		line       int
		position   int
		gap        string
		interval   string
		diffBest   string // qualifying and practice: to the fastest lap
		diffAhead  string
		lastLap    string
		bestLap    string
		retired    bool
		stopped    bool
		inPit      bool
		knockedOut bool
		laps       int
		pitStops   *int
		stints     map[string]stint
	}
)

func WithLogger(l *log.Logger) Option {
	return func(p *Processor) {
		p.l = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		l:       log.Default().Named("f1"),
		now:     time.Now,
		drivers: make(map[string]*driverRecord),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply merges a topic update (or the initial state of a topic) into the
// processor state. payload is the decoded json of the feed message.
// Unknown topics are ignored.
//
//nolint:cyclop // one case per topic
func (p *Processor) Apply(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnexpectedPayload, topic, err)
	}
	decode := func(v any) error {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnexpectedPayload, topic, err)
		}
		return nil
	}
	switch strings.TrimSuffix(topic, ".z") {
	case TopicDriverList:
		var msg driverList
		if err = decode(&msg); err == nil {
			p.applyDriverList(msg)
		}
	case TopicTimingData:
		var msg timingData
		if err = decode(&msg); err == nil {
			p.applyTimingData(&msg)
		}
	case TopicTimingAppData:
		var msg timingAppData
		if err = decode(&msg); err == nil {
			p.applyTimingAppData(&msg)
		}
	case TopicLapCount:
		var msg lapCount
		if err = decode(&msg); err == nil {
			setInt(&p.currentLap, msg.CurrentLap)
			setInt(&p.totalLaps, msg.TotalLaps)
		}
	case TopicTrackStatus:
		var msg trackStatus
		if err = decode(&msg); err == nil && msg.Status != nil {
			p.flag = TrackFlag(*msg.Status)
		}
	case TopicSessionInfo:
		var msg sessionInfo
		if err = decode(&msg); err == nil {
			setString(&p.session.meeting, msg.Meeting.Name)
			setString(&p.session.name, msg.Name)
			setString(&p.session.kind, msg.Type)
			setInt(&p.session.key, msg.Key)
		}
	case TopicExtrapolatedClock:
		var msg extrapolatedClock
		if err = decode(&msg); err == nil {
			setString(&p.timeRemaining, msg.Remaining)
		}
	default:
		return nil
	}
	if err != nil {
		return err
	}
	p.lastUpdate = p.now()
	return nil
}

func (p *Processor) driver(number string) *driverRecord {
	d, ok := p.drivers[number]
	if !ok {
		d = &driverRecord{number: number, stints: map[string]stint{}}
		p.drivers[number] = d
	}
	return d
}

func (p *Processor) applyDriverList(msg driverList) {
	for number, item := range msg {
		d := p.driver(number)
		switch {
		case item.FirstName != nil && item.LastName != nil:
			if item.NameFormat != nil && *item.NameFormat == "LastNameIsPrimary" {
				d.name = *item.LastName + " " + *item.FirstName
			} else {
				d.name = *item.FirstName + " " + *item.LastName
			}
		case item.FullName != nil:
			d.name = *item.FullName
		case item.BroadcastName != nil && d.name == "":
			d.name = *item.BroadcastName
		}
		setString(&d.team, item.TeamName)
		setInt(&d.line, item.Line)
	}
}

func (p *Processor) applyTimingData(msg *timingData) {
	for number := range msg.Lines {
		line := msg.Lines[number]
		d := p.driver(number)
		setInt(&d.line, line.Line)
		if line.Position != nil {
			if pos, err := strconv.Atoi(*line.Position); err == nil {
				d.position = pos
			}
		}
		setString(&d.gap, line.GapToLeader)
		if line.IntervalToPositionAhead != nil {
			setString(&d.interval, line.IntervalToPositionAhead.Value)
		}
		setString(&d.diffBest, line.TimeDiffToFastest)
		setString(&d.diffAhead, line.TimeDiffToPositionAhead)
		if line.LastLapTime != nil {
			setNonEmpty(&d.lastLap, line.LastLapTime.Value)
		}
		if line.BestLapTime != nil {
			setNonEmpty(&d.bestLap, line.BestLapTime.Value)
		}
		setBool(&d.retired, line.Retired)
		setBool(&d.stopped, line.Stopped)
		setBool(&d.inPit, line.InPit)
		setBool(&d.knockedOut, line.KnockedOut)
		if line.Status != nil &&
			(*line.Status == statusRetiredOnTrack || *line.Status == statusRetiredInPit) {
			d.retired = true
		}
		setInt(&d.laps, line.NumberOfLaps)
		if line.NumberOfPitStops != nil {
			d.pitStops = lo.ToPtr(*line.NumberOfPitStops)
		}
	}
}

func (p *Processor) applyTimingAppData(msg *timingAppData) {
	for number, line := range msg.Lines {
		d := p.driver(number)
		setInt(&d.line, line.Line)
		for idx, upd := range line.Stints {
			cur := d.stints[idx]
			setPtr(&cur.Compound, upd.Compound)
			setPtr(&cur.New, upd.New)
			setPtr(&cur.TotalLaps, upd.TotalLaps)
			setPtr(&cur.StartLaps, upd.StartLaps)
			d.stints[idx] = cur
		}
	}
}

// State assembles a new snapshot from the current state.
func (p *Processor) State() *model.RaceState {
	records := lo.Values(p.drivers)
	sort.Slice(records, func(i, j int) bool {
		return records[i].number < records[j].number
	})
	drivers := lo.Map(records, func(d *driverRecord, _ int) model.DriverState {
		return d.toDriver()
	})
	ret := &model.RaceState{
		Series:        model.SeriesF1,
		SessionName:   p.sessionName(),
		CurrentLap:    p.currentLap,
		TotalLaps:     p.totalLaps,
		FlagStatus:    p.flag,
		LastUpdated:   p.lastUpdate,
		TimeRemaining: p.timeRemaining,
		Drivers:       model.Rank(drivers),
	}
	if p.session.key != 0 {
		ret.SessionKey = strconv.Itoa(p.session.key)
	}
	return ret
}

func (p *Processor) sessionName() string {
	parts := lo.Filter([]string{p.session.meeting, p.session.name}, func(s string, _ int) bool {
		return s != ""
	})
	return strings.Join(parts, " - ")
}

func (d *driverRecord) status() model.DriverStatus {
	switch {
	case d.retired || d.stopped:
		return model.StatusDNF
	case d.inPit:
		return model.StatusPit
	case d.knockedOut:
		return model.StatusOut
	default:
		return model.StatusRunning
	}
}

// lastStint returns the stint with the highest index
func (d *driverRecord) lastStint() (stint, bool) {
	if len(d.stints) == 0 {
		return stint{}, false
	}
	idx := lo.MaxBy(lo.Keys(d.stints), func(a, b string) bool {
		ai, _ := strconv.Atoi(a)
		bi, _ := strconv.Atoi(b)
		return ai > bi
	})
	return d.stints[idx], true
}

func (d *driverRecord) toDriver() model.DriverState {
	pos := d.position
	if pos == 0 {
		pos = d.line
	}
	status := d.status()
	ret := model.DriverState{
		DriverID:      d.number,
		Name:          d.name,
		Team:          d.team,
		Position:      pos,
		LastLapTime:   timeparse.LapTime(d.lastLap),
		BestLapTime:   timeparse.LapTime(d.bestLap),
		Status:        status,
		IsOnTrack:     status == model.StatusRunning,
		LapsCompleted: d.laps,
	}
	switch {
	case d.gap != "":
		ret.GapToLeader = model.Gap(timeparse.Gap(d.gap))
	case d.diffBest != "":
		ret.GapToLeader = model.Gap(timeparse.Gap(d.diffBest))
	}
	switch {
	case d.interval != "":
		ret.GapToAhead = model.Gap(timeparse.Gap(d.interval))
	case d.diffAhead != "":
		ret.GapToAhead = model.Gap(timeparse.Gap(d.diffAhead))
	}
	if d.pitStops != nil {
		ret.PitStops = *d.pitStops
	} else {
		ret.PitStops = max(len(d.stints)-1, 0)
	}
	if s, ok := d.lastStint(); ok {
		ret.TireCompound = lo.FromPtr(s.Compound)
		ret.TireAge = lo.FromPtr(s.TotalLaps)
	}
	return ret
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setNonEmpty(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setPtr[T any](dst **T, v *T) {
	if v != nil {
		*dst = lo.ToPtr(*v)
	}
}
