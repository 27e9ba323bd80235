package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/ddp"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling/indycar"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling/nascar"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/signalr"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/utils"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/utils/broadcast"
)

// Publisher receives every accepted snapshot. Implementations live in
// pkg/publish.
type Publisher interface {
	Publish(ctx context.Context, state *model.RaceState) error
	PublishEvents(ctx context.Context, series model.Series, events []model.ChangeEvent) error
	Close() error
}

var (
	ErrSeriesNotEnabled = errors.New("series not enabled")
	ErrAlreadyStarted   = errors.New("supervisor already started")
)

const (
	minBackoff  = time.Second
	maxBackoff  = 60 * time.Second
	stopTimeout = 5 * time.Second
)

type (
	Option func(*Supervisor)

	// Supervisor owns one adapter per enabled series. Socket sessions are
	// recreated with exponential backoff after they terminate. Every snapshot
	// passes validation before it is stored, broadcast and published.
	Supervisor struct {
		series          []model.Series
		publishers      []Publisher
		pollInterval    time.Duration
		inactiveFactor  int
		publishInterval time.Duration
		minBackoff      time.Duration
		maxBackoff      time.Duration
		signalrOpts     []signalr.Option
		ddpOpts         []ddp.Option
		sources         map[model.Series]polling.Source
		l               *log.Logger

		mu        sync.RWMutex
		latest    map[model.Series]*model.RaceState
		digests   map[model.Series]string
		connected map[model.Series]bool
		feeds     map[model.Series]*feed
		started   bool
		cancel    context.CancelFunc
		wg        sync.WaitGroup

		reconnects metric.Int64Counter
		rejected   metric.Int64Counter
	}

	feed struct {
		snapshots chan *model.RaceState
		events    chan model.ChangeEvent
		stateBS   broadcast.BroadcastServer[*model.RaceState]
		eventBS   broadcast.BroadcastServer[model.ChangeEvent]
	}
)

// WithSeries sets the enabled series. Default is all series.
func WithSeries(series ...model.Series) Option {
	return func(s *Supervisor) {
		s.series = lo.Uniq(series)
	}
}

func WithPublisher(p ...Publisher) Option {
	return func(s *Supervisor) {
		s.publishers = append(s.publishers, p...)
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithInactiveFactor(f int) Option {
	return func(s *Supervisor) {
		if f > 0 {
			s.inactiveFactor = f
		}
	}
}

// WithPublishInterval limits how often socket series assemble and publish a
// snapshot.
func WithPublishInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.publishInterval = d
		}
	}
}

func WithBackoff(minWait, maxWait time.Duration) Option {
	return func(s *Supervisor) {
		s.minBackoff = minWait
		s.maxBackoff = maxWait
	}
}

// WithSignalROptions are passed to every F1 session
func WithSignalROptions(opts ...signalr.Option) Option {
	return func(s *Supervisor) {
		s.signalrOpts = append(s.signalrOpts, opts...)
	}
}

// WithDDPOptions are passed to every IMSA/WEC session
func WithDDPOptions(opts ...ddp.Option) Option {
	return func(s *Supervisor) {
		s.ddpOpts = append(s.ddpOpts, opts...)
	}
}

// WithSource replaces the polling adapters of their series.
func WithSource(src ...polling.Source) Option {
	return func(s *Supervisor) {
		for _, p := range src {
			s.sources[p.Series()] = p
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Supervisor) {
		s.l = l
	}
}

func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		series:          model.AllSeries,
		pollInterval:    3 * time.Second,
		inactiveFactor:  5,
		publishInterval: time.Second,
		minBackoff:      minBackoff,
		maxBackoff:      maxBackoff,
		sources:         make(map[model.Series]polling.Source),
		l:               log.Default().Named("service"),
		latest:          make(map[model.Series]*model.RaceState),
		digests:         make(map[model.Series]string),
		connected:       make(map[model.Series]bool),
		feeds:           make(map[model.Series]*feed),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := s.sources[model.SeriesNASCAR]; !ok {
		s.sources[model.SeriesNASCAR] = nascar.New(
			nascar.WithLogger(s.l.Named("nascar")))
	}
	if _, ok := s.sources[model.SeriesIndyCar]; !ok {
		s.sources[model.SeriesIndyCar] = indycar.New(
			indycar.WithLogger(s.l.Named("indycar")))
	}
	for _, series := range s.series {
		s.feeds[series] = newFeed(series, s.l)
	}
	meter := otel.GetMeterProvider().Meter("ltg.service")
	var err error
	if s.reconnects, err = meter.Int64Counter("ltg.session.reconnects",
		metric.WithDescription("Number of session reconnect attempts"),
		metric.WithUnit("{count}")); err != nil {
		s.l.Warn("could not create reconnect counter", log.ErrorField(err))
	}
	if s.rejected, err = meter.Int64Counter("ltg.snapshot.rejected",
		metric.WithDescription("Number of snapshots failing validation"),
		metric.WithUnit("{count}")); err != nil {
		s.l.Warn("could not create rejected counter", log.ErrorField(err))
	}
	return s
}

func newFeed(series model.Series, l *log.Logger) *feed {
	name := strings.ToLower(string(series))
	f := &feed{
		snapshots: make(chan *model.RaceState, 8),
		events:    make(chan model.ChangeEvent, 64),
	}
	f.stateBS = broadcast.NewBroadcastServer(string(series), "state."+name, f.snapshots,
		broadcast.WithLogger[*model.RaceState](l.Named("broadcast")))
	f.eventBS = broadcast.NewBroadcastServer(string(series), "events."+name, f.events,
		broadcast.WithLogger[model.ChangeEvent](l.Named("broadcast")),
		broadcast.WithListenerBuffer[model.ChangeEvent](16))
	return f
}

func (s *Supervisor) Series() []model.Series {
	return s.series
}

func (s *Supervisor) enabled(series model.Series) bool {
	return lo.Contains(s.series, series)
}

// Start launches one goroutine per enabled series.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	for _, series := range s.series {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSeries(ctx, series)
		}()
	}
	s.l.Info("supervisor started", log.Any("series", s.series))
	return nil
}

// Stop terminates all adapters and closes the broadcast servers. Publishers
// are closed as well. Safe to call multiple times.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	feeds := s.feeds
	s.feeds = map[model.Series]*feed{}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(stopTimeout):
			s.l.Warn("series goroutines did not finish in time")
		}
	}
	for _, f := range feeds {
		f.stateBS.Close()
		f.eventBS.Close()
	}
	if len(feeds) > 0 {
		for _, p := range s.publishers {
			if err := p.Close(); err != nil {
				s.l.Warn("closing publisher", log.ErrorField(err))
			}
		}
	}
}

func (s *Supervisor) runSeries(ctx context.Context, series model.Series) {
	l := s.l.Named(strings.ToLower(string(series)))
	switch series {
	case model.SeriesF1:
		s.reconnectLoop(ctx, series, l, s.runF1)
	case model.SeriesIMSA, model.SeriesWEC:
		s.reconnectLoop(ctx, series, l, s.runDDP)
	case model.SeriesNASCAR, model.SeriesIndyCar:
		s.runPoller(ctx, series, l)
	default:
		l.Warn("no adapter for series")
	}
}

// sessionRunner runs one session until it terminates. connected is true if
// the session reached the connected state.
type sessionRunner func(
	ctx context.Context, series model.Series, l *log.Logger,
) (connected bool, err error)

//nolint:whitespace // can't make both editor and linter happy
func (s *Supervisor) reconnectLoop(
	ctx context.Context,
	series model.Series,
	l *log.Logger,
	run sessionRunner,
) {
	attrs := metric.WithAttributes(attribute.String("series", string(series)))
	wait := s.minBackoff
	for {
		connected, err := run(ctx, series, l)
		s.endSession(series)
		if ctx.Err() != nil {
			return
		}
		if connected {
			wait = s.minBackoff
		}
		l.Warn("session terminated, reconnecting",
			log.Duration("wait", wait), log.ErrorField(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if s.reconnects != nil {
			s.reconnects.Add(ctx, 1, attrs)
		}
		wait = nextBackoff(wait, s.maxBackoff)
	}
}

// nextBackoff doubles d up to maxWait
func nextBackoff(d, maxWait time.Duration) time.Duration {
	return min(2*d, maxWait)
}

func (s *Supervisor) setConnected(series model.Series, v bool) {
	s.mu.Lock()
	s.connected[series] = v
	s.mu.Unlock()
}

// endSession forgets the snapshot of a terminated session. The next session
// starts without a predecessor, so no change events span two sessions.
func (s *Supervisor) endSession(series model.Series) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected[series] = false
	delete(s.latest, series)
	delete(s.digests, series)
}

// accept validates a snapshot and hands it to the store, the broadcast
// servers and the publishers. Unchanged snapshots are not published again.
// events may be nil, in that case they are derived from the previous snapshot.
//
//nolint:whitespace // can't make both editor and linter happy
func (s *Supervisor) accept(
	ctx context.Context,
	state *model.RaceState,
	events []model.ChangeEvent,
	deriveEvents bool,
) bool {
	series := state.Series
	l := s.l.With(log.String("series", string(series)))
	if err := state.Validate(); err != nil {
		l.Warn("rejecting snapshot", log.ErrorField(err))
		if s.rejected != nil {
			s.rejected.Add(ctx, 1,
				metric.WithAttributes(attribute.String("series", string(series))))
		}
		return false
	}
	digest, err := snapshotDigest(state)
	if err != nil {
		l.Warn("could not encode snapshot", log.ErrorField(err))
		return false
	}
	s.mu.Lock()
	if s.digests[series] == digest {
		s.mu.Unlock()
		return false
	}
	prev := s.latest[series]
	s.latest[series] = state.Clone()
	s.digests[series] = digest
	f := s.feeds[series]
	s.mu.Unlock()

	if deriveEvents {
		events = model.Diff(prev, state)
	}
	if f != nil {
		select {
		case f.snapshots <- state.Clone():
		default:
			l.Debug("broadcast busy, dropping snapshot")
		}
		for _, ev := range events {
			select {
			case f.events <- ev:
			default:
				l.Debug("broadcast busy, dropping event")
			}
		}
	}
	for _, p := range s.publishers {
		if err := p.Publish(ctx, state); err != nil {
			l.Warn("publishing snapshot failed", log.ErrorField(err))
		}
		if len(events) > 0 {
			if err := p.PublishEvents(ctx, series, events); err != nil {
				l.Warn("publishing events failed", log.ErrorField(err))
			}
		}
	}
	return true
}

// snapshotDigest ignores the update time so that a refreshed but otherwise
// identical snapshot is recognized as unchanged.
func snapshotDigest(state *model.RaceState) (string, error) {
	cp := *state
	cp.LastUpdated = time.Time{}
	data, err := json.Marshal(&cp)
	if err != nil {
		return "", err
	}
	return utils.Digest(data), nil
}

// Latest returns a copy of the last accepted snapshot of series or nil.
func (s *Supervisor) Latest(series model.Series) *model.RaceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[series].Clone()
}

// AllLatest returns copies of all current snapshots ordered by series.
func (s *Supervisor) AllLatest() []*model.RaceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := []*model.RaceState{}
	for _, series := range model.AllSeries {
		if st, ok := s.latest[series]; ok {
			ret = append(ret, st.Clone())
		}
	}
	return ret
}

// Subscribe returns a stream of accepted snapshots for series. cancel has to
// be called when the consumer is done.
//
//nolint:whitespace // can't make both editor and linter happy
func (s *Supervisor) Subscribe(series model.Series) (
	ch <-chan *model.RaceState, cancel func(), err error,
) {
	s.mu.RLock()
	f, ok := s.feeds[series]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSeriesNotEnabled, series)
	}
	ch = f.stateBS.Subscribe()
	return ch, func() { f.stateBS.CancelSubscription(ch) }, nil
}

// SubscribeEvents returns a stream of change events for series.
//
//nolint:whitespace // can't make both editor and linter happy
func (s *Supervisor) SubscribeEvents(series model.Series) (
	ch <-chan model.ChangeEvent, cancel func(), err error,
) {
	s.mu.RLock()
	f, ok := s.feeds[series]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSeriesNotEnabled, series)
	}
	ch = f.eventBS.Subscribe()
	return ch, func() { f.eventBS.CancelSubscription(ch) }, nil
}

// IsSessionActive asks the vendor for polling series. Socket series are
// active while their session is connected and delivered a snapshot.
func (s *Supervisor) IsSessionActive(ctx context.Context, series model.Series) (bool, error) {
	if !s.enabled(series) {
		return false, fmt.Errorf("%w: %s", ErrSeriesNotEnabled, series)
	}
	if src, ok := s.sources[series]; ok {
		return src.IsSessionActive(ctx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected[series] && s.latest[series] != nil, nil
}

// FetchLiveSnapshot returns the current snapshot of series or (nil, nil) if
// no session is live. Polling series are fetched on demand, the vendor
// resources are cached briefly.
//
//nolint:whitespace // can't make both editor and linter happy
func (s *Supervisor) FetchLiveSnapshot(ctx context.Context, series model.Series) (
	*model.RaceState, error,
) {
	active, err := s.IsSessionActive(ctx, series)
	if err != nil || !active {
		return nil, err
	}
	if src, ok := s.sources[series]; ok {
		state, err := src.FetchLiveSnapshot(ctx)
		if err != nil || state == nil {
			return nil, err
		}
		if err := state.Validate(); err != nil {
			return nil, err
		}
		return state, nil
	}
	return s.Latest(series), nil
}
