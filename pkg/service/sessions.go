package service

import (
	"context"
	"errors"
	"time"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/ddp"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/signalr"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/processing/f1"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/processing/imsa"
)

var errSessionClosed = errors.New("session event stream closed")

// runF1 runs one SignalR session. Feed messages are merged into a fresh
// processor, a snapshot is assembled at most once per publish interval.
//
//nolint:funlen,cyclop // by design
func (s *Supervisor) runF1(
	ctx context.Context, series model.Series, l *log.Logger,
) (bool, error) {
	sess := signalr.New(append([]signalr.Option{
		signalr.WithLogger(l.Named("signalr")),
	}, s.signalrOpts...)...)
	defer sess.Disconnect()
	if err := sess.Connect(ctx); err != nil {
		return false, err
	}
	if _, err := sess.SubscribeAll(); err != nil {
		return false, err
	}
	s.setConnected(series, true)
	l.Info("session connected")

	proc := f1.NewProcessor(f1.WithLogger(l.Named("processor")))
	ticker := time.NewTicker(s.publishInterval)
	defer ticker.Stop()
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case ev, ok := <-sess.Events():
			if !ok {
				return true, errSessionClosed
			}
			switch ev.Type {
			case signalr.EventFeed:
				if err := proc.Apply(ev.Topic, ev.Payload); err != nil {
					l.Debug("skipping feed message",
						log.String("topic", ev.Topic), log.ErrorField(err))
					continue
				}
				dirty = true
			case signalr.EventError:
				l.Warn("session error", log.ErrorField(ev.Err))
			case signalr.EventDisconnected:
				return true, ev.Err
			case signalr.EventConnected, signalr.EventResult:
			}
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			if state := proc.State(); len(state.Drivers) > 0 {
				s.accept(ctx, state, nil, true)
			}
		}
	}
}

// runDDP runs one DDP session for IMSA or WEC. Document changes mark the
// state dirty, the snapshot is assembled from a copy of the document cache.
//
//nolint:funlen,cyclop // by design
func (s *Supervisor) runDDP(
	ctx context.Context, series model.Series, l *log.Logger,
) (bool, error) {
	sess := ddp.New(append([]ddp.Option{
		ddp.WithLogger(l.Named("ddp")),
	}, s.ddpOpts...)...)
	defer sess.Disconnect()
	if err := sess.Connect(ctx); err != nil {
		return false, err
	}
	if err := sess.SubscribeAll(); err != nil {
		return false, err
	}
	s.setConnected(series, true)
	l.Info("session connected", log.String("session", sess.SessionID()))

	proc := imsa.NewProcessor(imsa.WithSeries(series), imsa.WithLogger(l.Named("processor")))
	ticker := time.NewTicker(s.publishInterval)
	defer ticker.Stop()
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case ev, ok := <-sess.Events():
			if !ok {
				return true, errSessionClosed
			}
			switch ev.Type {
			case ddp.EventDocument:
				dirty = true
			case ddp.EventError:
				if ev.ErrKind == ddp.ErrorSubscriptionRejected {
					l.Info("subscription rejected",
						log.String("collection", ev.Collection), log.ErrorField(ev.Err))
				} else {
					l.Warn("session error", log.ErrorField(ev.Err))
				}
			case ddp.EventDisconnected:
				return true, ev.Err
			case ddp.EventConnected, ddp.EventReady, ddp.EventResult:
			}
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			cache, err := sess.Snapshot(ctx)
			if err != nil {
				continue
			}
			if state := proc.State(cache); state != nil {
				s.accept(ctx, state, nil, true)
			}
		}
	}
}

// runPoller forwards the snapshots and change events of a poller until ctx
// is done.
func (s *Supervisor) runPoller(ctx context.Context, series model.Series, l *log.Logger) {
	src := s.sources[series]
	p := polling.NewPoller(src,
		polling.WithLogger(l.Named("poller")),
		polling.WithInterval(s.pollInterval),
		polling.WithInactiveFactor(s.inactiveFactor))
	if err := p.Start(ctx); err != nil {
		l.Error("could not start poller", log.ErrorField(err))
		return
	}
	defer p.Stop()
	snapshots, events, activity := p.Snapshots(), p.Events(), p.Activity()
	var pending []model.ChangeEvent
	for snapshots != nil {
		select {
		case <-ctx.Done():
			return
		case active, ok := <-activity:
			if !ok {
				activity = nil
				continue
			}
			if !active {
				pending = nil
				s.endSession(series)
				l.Info("session ended")
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			pending = append(pending, ev)
		case state, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			pending = append(pending, drain(events)...)
			if !p.IsActive() {
				// fetched before the session ended
				pending = nil
				continue
			}
			s.accept(ctx, state, pending, false)
			pending = nil
		}
	}
}

// drain returns the events already queued on ch without blocking
func drain(ch <-chan model.ChangeEvent) []model.ChangeEvent {
	var ret []model.ChangeEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return ret
			}
			ret = append(ret, ev)
		default:
			return ret
		}
	}
}
