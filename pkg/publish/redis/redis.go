// Package redis stores the latest snapshot per series in redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

const (
	DefaultKeyPrefix = "livetiming"
	DefaultTTL       = 2 * time.Hour
	// number of change events kept per series
	DefaultEventHistory = 100
)

type (
	Writer struct {
		client       *redis.Client
		keyPrefix    string
		ttl          time.Duration
		eventHistory int64
		l            *log.Logger
	}
	Option func(*Writer)
)

func WithKeyPrefix(prefix string) Option {
	return func(w *Writer) {
		w.keyPrefix = strings.TrimSuffix(prefix, ":")
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(w *Writer) {
		w.ttl = ttl
	}
}

func WithEventHistory(n int) Option {
	return func(w *Writer) {
		w.eventHistory = int64(n)
	}
}

func WithLogger(l *log.Logger) Option {
	return func(w *Writer) {
		w.l = l
	}
}

func New(client *redis.Client, opts ...Option) *Writer {
	ret := &Writer{
		client:       client,
		keyPrefix:    DefaultKeyPrefix,
		ttl:          DefaultTTL,
		eventHistory: DefaultEventHistory,
		l:            log.Default().Named("publish.redis"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (w *Writer) LatestKey(series model.Series) string {
	return fmt.Sprintf("%s:%s:latest", w.keyPrefix, strings.ToLower(string(series)))
}

func (w *Writer) EventsKey(series model.Series) string {
	return fmt.Sprintf("%s:%s:events", w.keyPrefix, strings.ToLower(string(series)))
}

func (w *Writer) Publish(ctx context.Context, state *model.RaceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	return w.client.Set(ctx, w.LatestKey(state.Series), data, w.ttl).Err()
}

// PublishEvents appends events to a capped list of the most recent events.
//
//nolint:whitespace // can't make both editor and linter happy
func (w *Writer) PublishEvents(
	ctx context.Context,
	series model.Series,
	events []model.ChangeEvent,
) error {
	if len(events) == 0 {
		return nil
	}
	values := make([]any, len(events))
	for i := range events {
		data, err := json.Marshal(events[i])
		if err != nil {
			return fmt.Errorf("marshaling event: %w", err)
		}
		values[i] = data
	}
	key := w.EventsKey(series)
	pipe := w.client.Pipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, -w.eventHistory, -1)
	pipe.Expire(ctx, key, w.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Latest returns the stored snapshot of series or nil if there is none.
func (w *Writer) Latest(ctx context.Context, series model.Series) (*model.RaceState, error) {
	data, err := w.client.Get(ctx, w.LatestKey(series)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var ret model.RaceState
	if err := json.Unmarshal(data, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Events returns the stored change events of series, oldest first.
func (w *Writer) Events(ctx context.Context, series model.Series) ([]model.ChangeEvent, error) {
	items, err := w.client.LRange(ctx, w.EventsKey(series), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ret := make([]model.ChangeEvent, 0, len(items))
	for _, item := range items {
		var ev model.ChangeEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			w.l.Warn("skipping malformed event", log.String("series", string(series)),
				log.ErrorField(err))
			continue
		}
		ret = append(ret, ev)
	}
	return ret, nil
}

// Close is a no-op, the client is owned by the caller.
func (w *Writer) Close() error {
	return nil
}
