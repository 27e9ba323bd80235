// Package nascar polls the NASCAR live feed.
package nascar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

const DefaultBaseURL = "https://cf.nascar.com"

// series ids used by the feed
const (
	SeriesCup     = 1
	SeriesXfinity = 2
	SeriesTruck   = 3
)

var ErrNoRace = errors.New("no race found in schedule")

type (
	Option  func(*Adapter)
	Adapter struct {
		baseURL  string
		seriesID int
		raceID   int
		l        *log.Logger
		fetcher  *polling.Fetcher
		now      func() time.Time
		schedule *polling.Resource
		feed     *polling.Resource
		mu       sync.Mutex
		liveRace int // race whose feed was seen last
	}
	// Race is an entry of the season schedule
	Race struct {
		RaceID   int    `json:"race_id"`
		RaceName string `json:"race_name"`
		RaceDate string `json:"race_date"`
		Track    string `json:"track_name"`
	}
)

func WithBaseURL(u string) Option {
	return func(a *Adapter) {
		a.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithSeriesID selects Cup (1), Xfinity (2) or Truck (3)
func WithSeriesID(id int) Option {
	return func(a *Adapter) {
		a.seriesID = id
	}
}

// WithRaceID pins the race instead of resolving it from the schedule
func WithRaceID(id int) Option {
	return func(a *Adapter) {
		a.raceID = id
	}
}

func WithLogger(l *log.Logger) Option {
	return func(a *Adapter) {
		a.l = l
	}
}

func WithFetcher(f *polling.Fetcher) Option {
	return func(a *Adapter) {
		a.fetcher = f
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

func New(opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:  DefaultBaseURL,
		seriesID: SeriesCup,
		l:        log.Default().Named("nascar"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.fetcher == nil {
		a.fetcher = polling.NewFetcher(polling.WithFetchLogger(a.l))
	}
	a.schedule = a.fetcher.Resource("nascar.schedule", time.Hour)
	a.feed = a.fetcher.Resource("nascar.feed", 3*time.Second)
	return a
}

func (a *Adapter) Series() model.Series {
	return model.SeriesNASCAR
}

// Schedule returns the races of the given season
func (a *Adapter) Schedule(ctx context.Context, year int) ([]Race, error) {
	var races []Race
	u := fmt.Sprintf("%s/cacher/%d/%d/race_list_basic.json", a.baseURL, year, a.seriesID)
	if err := a.schedule.GetJSON(ctx, u, &races); err != nil {
		return nil, err
	}
	return races, nil
}

// CurrentRaceID returns the latest race that started before tomorrow. If no
// race qualifies the last race of the schedule is used.
func (a *Adapter) CurrentRaceID(ctx context.Context) (int, error) {
	if a.raceID != 0 {
		return a.raceID, nil
	}
	now := a.now()
	races, err := a.Schedule(ctx, now.Year())
	if err != nil {
		return 0, err
	}
	if len(races) == 0 {
		return 0, ErrNoRace
	}
	limit := now.Add(24 * time.Hour)
	for i := len(races) - 1; i >= 0; i-- {
		date, ok := parseRaceDate(races[i].RaceDate)
		if ok && !date.After(limit) {
			return races[i].RaceID, nil
		}
	}
	return races[len(races)-1].RaceID, nil
}

// IsSessionActive reports true if a live feed exists and carries a flag.
func (a *Adapter) IsSessionActive(ctx context.Context) (bool, error) {
	f, err := a.fetchFeed(ctx)
	if err != nil || f == nil {
		return false, err
	}
	return f.FlagState != 0, nil
}

// FetchLiveSnapshot returns (nil, nil) if there is no live feed for the
// current race.
func (a *Adapter) FetchLiveSnapshot(ctx context.Context) (*model.RaceState, error) {
	f, err := a.fetchFeed(ctx)
	if err != nil || f == nil {
		return nil, err
	}
	state := f.toRaceState()
	state.LastUpdated = a.now()
	return state, nil
}

func (a *Adapter) fetchFeed(ctx context.Context) (*liveFeed, error) {
	raceID, err := a.CurrentRaceID(ctx)
	if err != nil {
		if errors.Is(err, polling.ErrResourceAbsent) || errors.Is(err, ErrNoRace) {
			return nil, nil
		}
		return nil, err
	}
	u := fmt.Sprintf("%s/live/feeds/series_%d/%d/live_feed.json", a.baseURL, a.seriesID, raceID)
	var f liveFeed
	if err := a.feed.GetJSON(ctx, u, &f); err != nil {
		if errors.Is(err, polling.ErrResourceAbsent) {
			a.l.Debug("no live feed", log.Int("race", raceID))
			a.feedGone(ctx, raceID)
			return nil, nil
		}
		return nil, err
	}
	a.mu.Lock()
	a.liveRace = raceID
	a.mu.Unlock()
	return &f, nil
}

// feedGone reloads the schedule once the feed of the resolved race has ended.
// The next lookup may then move on to the following race.
func (a *Adapter) feedGone(ctx context.Context, raceID int) {
	a.mu.Lock()
	ended := a.liveRace == raceID
	a.liveRace = 0
	a.mu.Unlock()
	if ended && a.raceID == 0 {
		a.l.Info("live feed ended, reloading schedule", log.Int("race", raceID))
		a.schedule.Invalidate(ctx)
	}
}

func parseRaceDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
