// Package indycar polls the IndyCar timing documents published on Azure blob
// storage.
package indycar

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

const DefaultBaseURL = "https://indycar.blob.core.windows.net/racecontrol"

const (
	configName      = "tsconfig.json"
	timingName      = "timingscoring-ris.json"
	leaderboardName = "trackactivityleaderboardfeed"
)

type (
	Option  func(*Adapter)
	Adapter struct {
		baseURL     string
		nxt         bool
		l           *log.Logger
		fetcher     *polling.Fetcher
		now         func() time.Time
		config      *polling.Resource
		timing      *polling.Resource
		leaderboard *polling.Resource
		mu          sync.Mutex
		active      bool
	}
)

func WithBaseURL(u string) Option {
	return func(a *Adapter) {
		a.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithNXT switches to the INDY NXT documents where they differ
func WithNXT() Option {
	return func(a *Adapter) {
		a.nxt = true
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
		baseURL: DefaultBaseURL,
		l:       log.Default().Named("indycar"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.fetcher == nil {
		a.fetcher = polling.NewFetcher(
			polling.WithFetchLogger(a.l),
			polling.WithCacheBusting(true))
	}
	a.config = a.fetcher.Resource("indycar.config", 30*time.Second)
	a.timing = a.fetcher.Resource("indycar.timing", 3*time.Second)
	a.leaderboard = a.fetcher.Resource("indycar.leaderboard", 3*time.Second)
	return a
}

func (a *Adapter) Series() model.Series {
	return model.SeriesIndyCar
}

func (a *Adapter) url(doc string) string {
	return a.baseURL + "/" + doc
}

func (a *Adapter) leaderboardURL() string {
	if a.nxt {
		return a.url(leaderboardName + "_nxt.json")
	}
	return a.url(leaderboardName + ".json")
}

// IsSessionActive reads the track activity flag of the session config.
// A missing config means no session.
func (a *Adapter) IsSessionActive(ctx context.Context) (bool, error) {
	var cfg config
	if err := a.config.GetJSON(ctx, a.url(configName), &cfg); err != nil {
		if !errors.Is(err, polling.ErrResourceAbsent) {
			return false, err
		}
	}
	active := cfg.active()
	a.mu.Lock()
	started := active && !a.active
	a.active = active
	a.mu.Unlock()
	if started {
		// documents cached during the previous session must not leak into this one
		a.timing.Invalidate(ctx)
		a.leaderboard.Invalidate(ctx)
	}
	return active, nil
}

// FetchLiveSnapshot returns (nil, nil) while no session is active. The timing
// document is not requested in that case. If the timing document is absent
// or empty the leaderboard is used.
func (a *Adapter) FetchLiveSnapshot(ctx context.Context) (*model.RaceState, error) {
	active, err := a.IsSessionActive(ctx)
	if err != nil || !active {
		return nil, err
	}
	state, err := a.fetchTiming(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		if state, err = a.fetchLeaderboard(ctx); err != nil || state == nil {
			return nil, err
		}
	}
	state.LastUpdated = a.now()
	return state, nil
}

func (a *Adapter) fetchTiming(ctx context.Context) (*model.RaceState, error) {
	var doc timingDoc
	if err := a.timing.GetJSON(ctx, a.url(timingName), &doc); err != nil {
		if errors.Is(err, polling.ErrResourceAbsent) {
			a.l.Debug("no timing document")
			return nil, nil
		}
		return nil, err
	}
	if len(doc.entries()) == 0 {
		return nil, nil
	}
	return doc.toRaceState(), nil
}

func (a *Adapter) fetchLeaderboard(ctx context.Context) (*model.RaceState, error) {
	var doc leaderboardDoc
	if err := a.leaderboard.GetJSON(ctx, a.leaderboardURL(), &doc); err != nil {
		if errors.Is(err, polling.ErrResourceAbsent) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toRaceState(), nil
}
