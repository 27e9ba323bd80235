package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/livetiming-gateway-go/log"
)

//nolint:lll // by design
// see https://betterprogramming.pub/how-to-broadcast-messages-in-go-using-channels-b68f42bdf32e

type BroadcastServer[T any] interface {
	Subscribe() <-chan T
	CancelSubscription(<-chan T)
	Close()
}

type broadcastServer[T any] struct {
	name           string
	source         <-chan T
	listeners      []chan T
	addListener    chan chan T
	removeListener chan (<-chan T)
	ctx            context.Context
	cancel         context.CancelFunc
	closeOnce      sync.Once
	done           chan struct{}
	mu             sync.Mutex
	numRcv         int
	numSnd         int
	numSkip        int
	eventKey       string
	sendTimeout    time.Duration
	listenerBuffer int
	l              *log.Logger
}

type Option[T any] func(*broadcastServer[T])

func WithTelemetry[T any](eventKey string) Option[T] {
	return func(b *broadcastServer[T]) {
		b.eventKey = eventKey
	}
}

// WithSendTimeout sets how long a slow listener may block a message before
// it is skipped for that listener.
func WithSendTimeout[T any](d time.Duration) Option[T] {
	return func(b *broadcastServer[T]) {
		b.sendTimeout = d
	}
}

func WithListenerBuffer[T any](n int) Option[T] {
	return func(b *broadcastServer[T]) {
		b.listenerBuffer = n
	}
}

func WithLogger[T any](l *log.Logger) Option[T] {
	return func(b *broadcastServer[T]) {
		b.l = l
	}
}

func (b *broadcastServer[T]) Subscribe() <-chan T {
	ch := make(chan T, b.listenerBuffer)
	select {
	case b.addListener <- ch:
	case <-b.done:
		close(ch)
	}
	return ch
}

func (b *broadcastServer[T]) CancelSubscription(ch <-chan T) {
	select {
	case b.removeListener <- ch:
	case <-b.done:
	}
}

func (b *broadcastServer[T]) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.l.Info("Closing broadcast server",
			log.String("name", b.name),
			log.Int("rcv", b.numRcv), log.Int("snd", b.numSnd), log.Int("skip", b.numSkip))
		b.mu.Unlock()
		b.cancel()
	})
	<-b.done
}

//nolint:whitespace // false positive
func NewBroadcastServer[T any](
	eventKey, name string,
	source <-chan T,
	opts ...Option[T],
) BroadcastServer[T] {
	ctx, cancel := context.WithCancel(context.Background())
	b := &broadcastServer[T]{
		eventKey:       eventKey,
		name:           name,
		source:         source,
		addListener:    make(chan chan T),
		removeListener: make(chan (<-chan T)),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		sendTimeout:    50 * time.Millisecond,
		listenerBuffer: 1,
		l:              log.Default().Named("broadcast"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.setupMetrics()
	go b.serve()
	return b
}

//nolint:lll,funlen // readability
func (b *broadcastServer[T]) setupMetrics() {
	b.l.Debug("Setting up metrics",
		log.String("eventKey", b.eventKey),
		log.String("name", b.name))
	meter := otel.GetMeterProvider().Meter(fmt.Sprintf("ltg.broadcast.%s", b.name))
	register := func(metricName, desc, unit string, valueProvider func() int64) {
		if _, err := meter.Int64ObservableGauge(
			metricName,
			metric.WithDescription(desc),
			metric.WithUnit(unit),

			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(valueProvider(),
					metric.WithAttributes(
						attribute.String("name", b.name),
						attribute.String("event", b.eventKey),
					),
				)
				return nil
			})); err != nil {
			b.l.Error("failed to register metric",
				log.String("metric", metricName),
				log.ErrorField(err))
		}
	}
	locked := func(f func() int) func() int64 {
		return func() int64 {
			b.mu.Lock()
			defer b.mu.Unlock()
			return int64(f())
		}
	}
	type data struct {
		name  string
		desc  string
		unit  string
		value func() int64
	}
	for _, d := range []*data{
		{
			"ltg.broadcast.rcv", "Number of received snapshots", "{count}",
			locked(func() int { return b.numRcv }),
		},
		{
			"ltg.broadcast.snd", "Number of sent snapshots", "{count}",
			locked(func() int { return b.numSnd }),
		},
		{
			"ltg.broadcast.skip", "Number of skipped snapshots", "{count}",
			locked(func() int { return b.numSkip }),
		},
		{
			"ltg.broadcast.listener", "Number of listeners", "{count}",
			locked(func() int { return len(b.listeners) }),
		},
	} {
		register(d.name, d.desc, d.unit, d.value)
	}
}

//nolint:funlen,cyclop,gocognit // by design
func (b *broadcastServer[T]) serve() {
	defer func() {
		b.l.Debug("Closing listeners", log.String("name", b.name))
		b.mu.Lock()
		for _, listener := range b.listeners {
			if listener != nil {
				close(listener)
			}
		}
		b.listeners = nil
		b.mu.Unlock()
		close(b.done)
	}()
	for {
		select {
		case <-b.ctx.Done():
			b.l.Debug("broadcast server about to be closed", log.String("name", b.name))
			return
		case ch := <-b.addListener:
			b.mu.Lock()
			b.listeners = append(b.listeners, ch)
			b.mu.Unlock()
		case ch := <-b.removeListener:
			b.mu.Lock()
			for i, listener := range b.listeners {
				if listener == ch {
					b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
					close(listener)
					b.l.Debug("removed listener",
						log.String("name", b.name), log.Int("len", len(b.listeners)))
					break
				}
			}
			b.mu.Unlock()
		case msg, ok := <-b.source:
			if !ok {
				b.l.Debug("source closed", log.String("name", b.name))
				return
			}
			b.deliver(msg)
		}
	}
}

func (b *broadcastServer[T]) deliver(msg T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.numRcv++
	for _, listener := range b.listeners {
		select {
		case listener <- msg:
			b.numSnd++
		// don't wait too long, a slow listener must not stall the others
		case <-time.After(b.sendTimeout):
			b.numSkip++
		}
	}
}
