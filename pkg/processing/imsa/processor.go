// Package imsa assembles race state snapshots from the documents published by
// the Al Kamel timing server (IMSA, WEC).
package imsa

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/doccache"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

const (
	CollectionSessions     = "sessions"
	CollectionParticipants = "participants"
	CollectionTiming       = "timing"
)

var flags = map[string]model.FlagStatus{
	"GREEN":              model.FlagGreen,
	"YELLOW":             model.FlagYellow,
	"FCY":                model.FlagSC,
	"FULL_COURSE_YELLOW": model.FlagSC,
	"SC":                 model.FlagSC,
	"SAFETY_CAR":         model.FlagSC,
	"VSC":                model.FlagVSC,
	"RED":                model.FlagRed,
	"CHECKERED":          model.FlagCheckered,
	"CHEQUERED":          model.FlagCheckered,
	"WHITE":              model.FlagWhite,
	"WARMUP":             model.FlagWarmup,
	"WARM":               model.FlagWarmup,
	"COLD":               model.FlagCold,
}

// FlagStatus maps the vendor flag. Unknown values yield an empty status.
func FlagStatus(s string) model.FlagStatus {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	return flags[key]
}

func driverStatus(e *timingEntry) model.DriverStatus {
	s := strings.ToUpper(e.status)
	switch {
	case strings.Contains(s, "RETIRED") || s == "DNF":
		return model.StatusDNF
	case lo.Contains([]string{"DNS", "DSQ", "DQ", "OUT", "NOT_STARTED", "EXCLUDED"}, s):
		return model.StatusOut
	case e.inPit || strings.Contains(s, "PIT"):
		return model.StatusPit
	default:
		return model.StatusRunning
	}
}

type (
	Option    func(*Processor)
	Processor struct {
		series model.Series
		l      *log.Logger
		now    func() time.Time
	}
)

// WithSeries sets the series of the produced snapshots (default IMSA)
func WithSeries(s model.Series) Option {
	return func(p *Processor) {
		p.series = s
	}
}

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
		series: model.SeriesIMSA,
		l:      log.Default().Named("imsa"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State builds a snapshot from a document cache. It returns nil if the cache
// holds neither a session nor timing documents.
func (p *Processor) State(c *doccache.Cache) *model.RaceState {
	sessions := c.Collection(CollectionSessions)
	timing := c.Collection(CollectionTiming)
	if len(sessions) == 0 && len(timing) == 0 {
		return nil
	}
	ret := &model.RaceState{
		Series:      p.series,
		LastUpdated: p.now(),
	}
	if s, ok := currentSession(sessions); ok {
		ret.SessionName = s.name
		ret.SessionKey = s.id
		ret.FlagStatus = FlagStatus(s.flag)
		ret.CurrentLap = s.currentLap
		ret.TotalLaps = s.totalLaps
		ret.TimeRemaining = s.timeRemaining
	}

	participants := c.Collection(CollectionParticipants)
	byID := make(map[string]participantEntry, len(participants))
	byNumber := make(map[string]participantEntry, len(participants))
	for i := range participants {
		pe := toParticipantEntry(&participants[i])
		byID[pe.id] = pe
		if pe.number != "" {
			byNumber[pe.number] = pe
		}
	}

	drivers := make([]model.DriverState, 0, len(timing))
	for i := range timing {
		te := toTimingEntry(&timing[i])
		pe, ok := byID[te.participantID]
		if !ok {
			pe, ok = byNumber[te.number]
		}
		if !ok {
			p.l.Debug("timing entry without participant", log.String("id", te.id))
		}
		drivers = append(drivers, toDriver(&te, &pe))
	}
	// intervals are derived from the gaps unless the server sends them
	derive := lo.NoneBy(drivers, func(d model.DriverState) bool { return d.GapToAhead != nil })
	ret.Drivers = model.Rank(drivers)
	if derive {
		model.FillGapToAhead(ret.Drivers)
	}
	return ret
}

// currentSession prefers the session flagged active, otherwise the last one
func currentSession(docs []doccache.Document) (sessionEntry, bool) {
	if len(docs) == 0 {
		return sessionEntry{}, false
	}
	entries := lo.Map(docs, func(d doccache.Document, _ int) sessionEntry {
		return toSessionEntry(&d)
	})
	if s, ok := lo.Find(entries, func(s sessionEntry) bool { return s.active }); ok {
		return s, true
	}
	return entries[len(entries)-1], true
}

func toDriver(te *timingEntry, pe *participantEntry) model.DriverState {
	status := driverStatus(te)
	return model.DriverState{
		DriverID:      lo.CoalesceOrEmpty(te.number, pe.number, te.participantID, te.id),
		Name:          pe.driver,
		Team:          pe.team,
		Position:      te.position,
		GapToLeader:   te.gap,
		GapToAhead:    te.interval,
		LastLapTime:   te.lastLap,
		BestLapTime:   te.bestLap,
		PitStops:      max(te.pitStops, 0),
		Status:        status,
		IsOnTrack:     status == model.StatusRunning,
		LapsCompleted: te.laps,
	}
}
