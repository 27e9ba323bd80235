// Package nats publishes snapshots to NATS subjects and keeps the latest
// snapshot per series in a JetStream key-value bucket.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

const (
	DefaultSubjectPrefix = "livetiming"
	DefaultBucket        = "livetiming"
)

type (
	Publisher struct {
		conn          *nats.Conn
		kv            jetstream.KeyValue
		subjectPrefix string
		bucket        string
		bucketTTL     time.Duration
		l             *log.Logger
	}
	Option func(*Publisher)
)

func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.subjectPrefix = strings.TrimSuffix(prefix, ".")
	}
}

func WithBucket(bucket string) Option {
	return func(p *Publisher) {
		p.bucket = bucket
	}
}

// WithBucketTTL sets the max age of the key-value entries. 0 keeps them forever.
func WithBucketTTL(ttl time.Duration) Option {
	return func(p *Publisher) {
		p.bucketTTL = ttl
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Publisher) {
		p.l = l
	}
}

func New(ctx context.Context, conn *nats.Conn, opts ...Option) (*Publisher, error) {
	ret := &Publisher{
		conn:          conn,
		subjectPrefix: DefaultSubjectPrefix,
		bucket:        DefaultBucket,
		bucketTTL:     24 * time.Hour,
		l:             log.Default().Named("publish.nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if err := ret.setupKV(ctx); err != nil {
		return nil, err
	}
	return ret, nil
}

func (p *Publisher) setupKV(ctx context.Context) error {
	var js jetstream.JetStream
	var err error
	if js, err = jetstream.New(p.conn); err != nil {
		return err
	}
	p.kv, err = js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      p.bucket,
		Description: "latest live timing snapshot per series",
		TTL:         p.bucketTTL,
	})
	return err
}

// Subject returns the subject snapshots of series are published to.
func (p *Publisher) Subject(series model.Series) string {
	return fmt.Sprintf("%s.%s", p.subjectPrefix, strings.ToLower(string(series)))
}

// EventSubject returns the subject change events of series are published to.
func (p *Publisher) EventSubject(series model.Series) string {
	return p.Subject(series) + ".events"
}

func (p *Publisher) Publish(ctx context.Context, state *model.RaceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := p.conn.Publish(p.Subject(state.Series), data); err != nil {
		return err
	}
	if _, err := p.kv.Put(ctx, string(state.Series), data); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	p.l.Debug("published snapshot",
		log.String("series", string(state.Series)),
		log.Int("bytes", len(data)))
	return nil
}

//nolint:whitespace // can't make both editor and linter happy
func (p *Publisher) PublishEvents(
	ctx context.Context,
	series model.Series,
	events []model.ChangeEvent,
) error {
	subj := p.EventSubject(series)
	for i := range events {
		data, err := json.Marshal(events[i])
		if err != nil {
			return err
		}
		if err := p.conn.Publish(subj, data); err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the stored snapshot of series or nil if there is none.
func (p *Publisher) Latest(ctx context.Context, series model.Series) (*model.RaceState, error) {
	kve, err := p.kv.Get(ctx, string(series))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ret model.RaceState
	if err := json.Unmarshal(kve.Value(), &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Close flushes pending messages. The connection is owned by the caller.
func (p *Publisher) Close() error {
	return p.conn.Flush()
}
