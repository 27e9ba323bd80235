package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/utils/broadcast"
)

// Subscription receives the snapshots another gateway instance publishes.
type Subscription struct {
	sub      *nats.Subscription
	bs       broadcast.BroadcastServer[*model.RaceState]
	dataChan chan *model.RaceState
	l        *log.Logger
}

// Subscribe listens on the snapshot subject of series. Received snapshots
// are fanned out to the listeners returned by Snapshots.
//
//nolint:whitespace // can't make both editor and linter happy
func Subscribe(
	conn *nats.Conn,
	series model.Series,
	opts ...Option,
) (*Subscription, error) {
	cfg := &Publisher{subjectPrefix: DefaultSubjectPrefix, l: log.Default().Named("publish.nats")}
	for _, opt := range opts {
		opt(cfg)
	}
	ret := &Subscription{
		dataChan: make(chan *model.RaceState, 8),
		l:        cfg.l,
	}
	ret.bs = broadcast.NewBroadcastServer(string(series),
		fmt.Sprintf("nats.%s", strings.ToLower(string(series))), ret.dataChan,
		broadcast.WithLogger[*model.RaceState](cfg.l))
	var err error
	subj := cfg.Subject(series)
	if ret.sub, err = conn.Subscribe(subj, func(msg *nats.Msg) {
		var state model.RaceState
		if uErr := json.Unmarshal(msg.Data, &state); uErr != nil {
			ret.l.Error("error unmarshalling snapshot",
				log.String("subject", msg.Subject), log.ErrorField(uErr))
			return
		}
		select {
		case ret.dataChan <- &state:
		default:
			ret.l.Debug("dropping snapshot, consumer too slow", log.String("subject", subj))
		}
	}); err != nil {
		ret.bs.Close()
		return nil, err
	}
	return ret, nil
}

func (s *Subscription) Snapshots() <-chan *model.RaceState {
	return s.bs.Subscribe()
}

func (s *Subscription) Close() {
	if s.sub != nil && s.sub.IsValid() {
		if err := s.sub.Unsubscribe(); err != nil {
			s.l.Debug("error unsubscribing",
				log.String("sub", s.sub.Subject), log.ErrorField(err))
		}
	}
	s.bs.Close()
}

// SubscribeEvents calls handler for every change event published for series.
// The returned subscription has to be unsubscribed by the caller.
//
//nolint:whitespace // can't make both editor and linter happy
func SubscribeEvents(
	conn *nats.Conn,
	series model.Series,
	handler func(model.ChangeEvent),
	opts ...Option,
) (*nats.Subscription, error) {
	cfg := &Publisher{subjectPrefix: DefaultSubjectPrefix, l: log.Default().Named("publish.nats")}
	for _, opt := range opts {
		opt(cfg)
	}
	return conn.Subscribe(cfg.EventSubject(series), func(msg *nats.Msg) {
		var ev model.ChangeEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			cfg.l.Error("error unmarshalling event",
				log.String("subject", msg.Subject), log.ErrorField(err))
			return
		}
		handler(ev)
	})
}
