// Package polling provides the building blocks for vendors that publish live
// timing as json documents over plain http.
package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

// Source is implemented by the vendor adapters.
type Source interface {
	Series() model.Series
	IsSessionActive(ctx context.Context) (bool, error)
	// FetchLiveSnapshot returns (nil, nil) if no live data is available.
	FetchLiveSnapshot(ctx context.Context) (*model.RaceState, error)
}

var (
	ErrAlreadyStarted = errors.New("poller already started")
	ErrStopped        = errors.New("poller stopped")
)

type (
	Option func(*Poller)
	Poller struct {
		src            Source
		l              *log.Logger
		interval       time.Duration
		inactiveFactor int
		stopTimeout    time.Duration
		snapshots      chan *model.RaceState
		events         chan model.ChangeEvent
		activity       chan bool

		mu      sync.Mutex
		latest  *model.RaceState
		started bool
		cancel  context.CancelFunc
		done    chan struct{}
		active  atomic.Bool

		cycles   metric.Int64Counter
		failures metric.Int64Counter
		attrs    metric.MeasurementOption
	}
)

func WithLogger(l *log.Logger) Option {
	return func(p *Poller) {
		p.l = l
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithInactiveFactor sets the multiplier applied to the interval while no
// session is active.
func WithInactiveFactor(f int) Option {
	return func(p *Poller) {
		p.inactiveFactor = f
	}
}

func WithBuffer(n int) Option {
	return func(p *Poller) {
		p.snapshots = make(chan *model.RaceState, n)
		p.events = make(chan model.ChangeEvent, n*4)
	}
}

func NewPoller(src Source, opts ...Option) *Poller {
	p := &Poller{
		src:            src,
		l:              log.Default().Named("poller"),
		interval:       3 * time.Second,
		inactiveFactor: 5,
		stopTimeout:    5 * time.Second,
		snapshots:      make(chan *model.RaceState, 16),
		events:         make(chan model.ChangeEvent, 64),
		activity:       make(chan bool, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inactiveFactor < 1 {
		p.inactiveFactor = 1
	}
	p.l = p.l.With(log.String("series", string(src.Series())))
	p.attrs = metric.WithAttributes(attribute.String("series", string(src.Series())))
	meter := otel.GetMeterProvider().Meter("ltg.polling")
	var err error
	if p.cycles, err = meter.Int64Counter("ltg.poll.cycles",
		metric.WithDescription("Number of poll cycles"),
		metric.WithUnit("{count}")); err != nil {
		p.l.Warn("could not create cycle counter", log.ErrorField(err))
	}
	if p.failures, err = meter.Int64Counter("ltg.poll.failures",
		metric.WithDescription("Number of failed poll cycles"),
		metric.WithUnit("{count}")); err != nil {
		p.l.Warn("could not create failure counter", log.ErrorField(err))
	}
	return p
}

func (p *Poller) Series() model.Series {
	return p.src.Series()
}

// Snapshots delivers every fetched snapshot. The channel is closed after Stop.
// Snapshots are dropped if the consumer does not keep up.
func (p *Poller) Snapshots() <-chan *model.RaceState {
	return p.snapshots
}

// Events delivers the changes between consecutive snapshots.
func (p *Poller) Events() <-chan model.ChangeEvent {
	return p.events
}

// Activity delivers the session state whenever it changes. Only the most
// recent transition is kept if the consumer does not keep up.
func (p *Poller) Activity() <-chan bool {
	return p.activity
}

// Latest returns a copy of the last fetched snapshot or nil
func (p *Poller) Latest() *model.RaceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest.Clone()
}

// IsActive reports the result of the last session check.
func (p *Poller) IsActive() bool {
	return p.active.Load()
}

// Start runs the poll loop in its own goroutine until ctx is done or Stop is
// called. A poller can only be started once.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
	p.l.Info("started polling", log.Duration("interval", p.interval))
	return nil
}

// Stop ends the poll loop. It is safe to call Stop multiple times and from any
// goroutine. Stop waits a bounded time for the loop to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	started := p.started
	p.started = true // a stopped poller cannot be restarted
	p.mu.Unlock()
	if cancel == nil {
		if !started {
			p.finish()
		}
		return
	}
	cancel()
	select {
	case <-p.done:
	case <-time.After(p.stopTimeout):
		p.l.Warn("poll loop did not finish in time")
	}
}

func (p *Poller) run(ctx context.Context) {
	defer p.finish()
	for {
		p.cycle(ctx)
		wait := p.interval
		if !p.active.Load() {
			wait = p.interval * time.Duration(p.inactiveFactor)
		}
		select {
		case <-ctx.Done():
			p.l.Info("stopped polling")
			return
		case <-time.After(wait):
		}
	}
}

func (p *Poller) finish() {
	select {
	case <-p.done:
		return
	default:
	}
	close(p.snapshots)
	close(p.events)
	close(p.activity)
	close(p.done)
}

func (p *Poller) cycle(ctx context.Context) {
	if p.cycles != nil {
		p.cycles.Add(ctx, 1, p.attrs)
	}
	state, err := p.PollOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if p.failures != nil {
			p.failures.Add(ctx, 1, p.attrs)
		}
		p.l.Warn("poll cycle failed", log.ErrorField(err))
		return
	}
	if state == nil {
		return
	}
	select {
	case p.snapshots <- state:
	default:
		p.l.Debug("snapshot consumer too slow, dropping snapshot")
	}
}

// PollOnce checks for an active session and fetches a snapshot. The snapshot
// is not fetched while no session is active. Change events are emitted
// against the previously fetched snapshot.
// PollOnce must not be called while the loop started by Start is running.
func (p *Poller) PollOnce(ctx context.Context) (*model.RaceState, error) {
	select {
	case <-p.done:
		return nil, ErrStopped
	default:
	}
	active, err := p.src.IsSessionActive(ctx)
	if err != nil {
		return nil, err
	}
	if was := p.active.Swap(active); was != active {
		p.notifyActivity(active)
	}
	if !active {
		// the next session starts without a predecessor
		p.mu.Lock()
		p.latest = nil
		p.mu.Unlock()
		return nil, nil
	}
	state, err := p.src.FetchLiveSnapshot(ctx)
	if err != nil || state == nil {
		return nil, err
	}
	p.mu.Lock()
	prev := p.latest
	p.latest = state.Clone()
	p.mu.Unlock()
	for _, ev := range model.Diff(prev, state) {
		select {
		case p.events <- ev:
		default:
			p.l.Debug("event consumer too slow, dropping event", log.String("type", string(ev.Type)))
		}
	}
	return state, nil
}

// notifyActivity replaces a pending transition that was not consumed yet
func (p *Poller) notifyActivity(active bool) {
	for {
		select {
		case p.activity <- active:
			return
		default:
		}
		select {
		case <-p.activity:
		default:
		}
	}
}
