package ddp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/doccache"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/sockjs"
)

var (
	ErrNotConnected   = errors.New("session not connected")
	ErrAlreadyStarted = errors.New("session already started")
	ErrHandshake      = errors.New("ddp handshake failed")
)

// StandardCollections are the collections published by the Alkamel timing server
var StandardCollections = []string{
	"sessions", "participants", "timing", "trackmap",
	"racecontrol", "weather", "bestTimes", "cardata",
}

const disconnectWait = 5 * time.Second

type (
	Option func(*Session)

	// Session is a single-use DDP connection. After it is disconnected a new
	// Session has to be created, nothing is carried over.
	Session struct {
		host             string
		url              string
		l                *log.Logger
		dialOpts         *websocket.DialOptions
		handshakeTimeout time.Duration

		state     atomic.Int32
		started   atomic.Bool
		events    chan Event
		outbox    chan []byte
		queries   chan func(*doccache.Cache)
		handshake chan error
		methodID  atomic.Int64

		mu        sync.Mutex
		conn      *websocket.Conn
		cancel    context.CancelFunc
		done      chan struct{}
		sessionID string
		subs      map[string]string // collection -> sub id
		subByID   map[string]string // sub id -> collection
		ready     map[string]bool   // sub id -> ready

		// owned by the run goroutine
		cache *doccache.Cache

		frameCounter metric.Int64Counter
	}
)

func WithHost(host string) Option {
	return func(s *Session) {
		s.host = host
	}
}

// WithURL uses a fixed websocket url instead of a generated SockJS url
func WithURL(u string) Option {
	return func(s *Session) {
		s.url = u
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		s.l = l
	}
}

func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(s *Session) {
		s.dialOpts = opts
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.handshakeTimeout = d
	}
}

func WithEventBuffer(n int) Option {
	return func(s *Session) {
		s.events = make(chan Event, n)
	}
}

func New(opts ...Option) *Session {
	s := &Session{
		host:             sockjs.DefaultHost,
		l:                log.Default().Named("ddp"),
		handshakeTimeout: 10 * time.Second,
		events:           make(chan Event, 256),
		outbox:           make(chan []byte, 64),
		queries:          make(chan func(*doccache.Cache)),
		handshake:        make(chan error, 1),
		subs:             make(map[string]string),
		subByID:          make(map[string]string),
		ready:            make(map[string]bool),
		cache:            doccache.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	meter := otel.GetMeterProvider().Meter("ltg.ddp")
	var err error
	if s.frameCounter, err = meter.Int64Counter("ltg.session.frames",
		metric.WithDescription("Number of received frames"),
		metric.WithUnit("{count}")); err != nil {
		s.l.Warn("could not create frame counter", log.ErrorField(err))
	}
	return s
}

// Events delivers all session events in arrival order. The channel is closed
// after the session terminated.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Subscriptions returns a copy of the subscription table (collection -> sub id)
func (s *Session) Subscriptions() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make(map[string]string, len(s.subs))
	for k, v := range s.subs {
		ret[k] = v
	}
	return ret
}

// IsReady reports whether the subscription for collection received its ready message
func (s *Session) IsReady(collection string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.subs[collection]
	return ok && s.ready[id]
}

// Connect dials the server and performs the DDP handshake. It returns after
// the server confirmed the connection. ctx bounds the lifetime of the session.
func (s *Session) Connect(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.setState(StateConnecting)
	u := s.url
	if u == "" {
		u = sockjs.TransportURL("wss", s.host)
	}
	s.l.Debug("connecting", log.String("url", u))
	conn, _, err := websocket.Dial(ctx, u, s.dialOpts)
	if err != nil {
		s.setState(StateDisconnected)
		close(s.events)
		return fmt.Errorf("dial %s: %w", u, err)
	}
	conn.SetReadLimit(-1)

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	s.setState(StateHandshaking)

	go s.run(runCtx, conn)

	timer := time.NewTimer(s.handshakeTimeout)
	defer timer.Stop()
	select {
	case err = <-s.handshake:
	case <-timer.C:
		err = fmt.Errorf("%w: timeout after %v", ErrHandshake, s.handshakeTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		s.Disconnect()
		return err
	}
	return nil
}

// Disconnect closes the connection and waits (bounded) for the session
// goroutine to finish. Safe to call multiple times and from any goroutine.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel, conn, done := s.cancel, s.conn, s.done
	s.cancel, s.conn = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		//nolint:errcheck // closing anyway
		conn.Close(websocket.StatusNormalClosure, "")
		select {
		case <-done:
		case <-time.After(disconnectWait):
			s.l.Warn("session goroutine did not finish in time")
		}
	}
	s.mu.Lock()
	s.sessionID = ""
	clear(s.subs)
	clear(s.subByID)
	clear(s.ready)
	s.mu.Unlock()
	s.setState(StateDisconnected)
}

// Subscribe sends a sub message for the collection and returns the sub id.
// It does not wait for the ready message.
func (s *Session) Subscribe(collection string, params ...any) (string, error) {
	if s.State() != StateConnected {
		return "", ErrNotConnected
	}
	id := uuid.NewString()
	if params == nil {
		params = []any{}
	}
	s.mu.Lock()
	if old, ok := s.subs[collection]; ok {
		delete(s.subByID, old)
		delete(s.ready, old)
	}
	s.subs[collection] = id
	s.subByID[id] = collection
	s.mu.Unlock()
	return id, s.send(Message{Msg: MsgSub, ID: id, Name: collection, Params: params})
}

// SubscribeAll subscribes to all StandardCollections
func (s *Session) SubscribeAll() error {
	for _, c := range StandardCollections {
		if _, err := s.Subscribe(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) Unsubscribe(collection string) error {
	s.mu.Lock()
	id, ok := s.subs[collection]
	if ok {
		delete(s.subs, collection)
		delete(s.subByID, id)
		delete(s.ready, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.send(Message{Msg: MsgUnsub, ID: id})
}

// Call invokes a server method. The result is delivered as EventResult with
// the returned id.
func (s *Session) Call(method string, params ...any) (string, error) {
	if s.State() != StateConnected {
		return "", ErrNotConnected
	}
	id := strconv.FormatInt(s.methodID.Add(1), 10)
	if params == nil {
		params = []any{}
	}
	return id, s.send(Message{Msg: MsgMethod, ID: id, Method: method, Params: params})
}

// Snapshot returns a copy of the document cache. After disconnect the cache
// is empty.
func (s *Session) Snapshot(ctx context.Context) (*doccache.Cache, error) {
	var ret *doccache.Cache
	ok, err := s.query(ctx, func(c *doccache.Cache) {
		ret = c.Clone()
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return doccache.New(), nil
	}
	return ret, nil
}

// Documents returns copies of the documents of collection ordered by id.
func (s *Session) Documents(ctx context.Context, collection string) ([]doccache.Document, error) {
	var ret []doccache.Document
	ok, err := s.query(ctx, func(c *doccache.Cache) {
		ret = c.Collection(collection)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return []doccache.Document{}, nil
	}
	return ret, nil
}

// query runs fn with the document cache on the session goroutine. It reports
// false without calling fn if the session is not running.
func (s *Session) query(ctx context.Context, fn func(*doccache.Cache)) (bool, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false, nil
	}
	finished := make(chan struct{})
	req := func(c *doccache.Cache) {
		fn(c)
		close(finished)
	}
	select {
	case s.queries <- req:
	case <-done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case <-finished:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// OnEvent calls handler for every event until the session terminated. The
// returned channel is closed after the last event was handled. OnEvent
// consumes Events, it must not be combined with another reader.
func (s *Session) OnEvent(handler func(Event)) <-chan struct{} {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for ev := range s.events {
			handler(ev)
		}
	}()
	return finished
}

func (s *Session) send(msg Message) error {
	data, err := sockjs.EncodeMessages(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return ErrNotConnected
	}
	select {
	case s.outbox <- data:
		return nil
	case <-done:
		return ErrNotConnected
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

type readResult struct {
	data []byte
	err  error
}

//nolint:funlen,cyclop // by design
func (s *Session) run(ctx context.Context, conn *websocket.Conn) {
	frames := make(chan readResult)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			select {
			case frames <- readResult{data: data, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var runErr error
	defer func() {
		s.terminate(ctx, runErr)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.queries:
			fn(s.cache)
		case data := <-s.outbox:
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				runErr = err
				return
			}
		case r := <-frames:
			if r.err != nil {
				if websocket.CloseStatus(r.err) != websocket.StatusNormalClosure {
					runErr = r.err
				}
				return
			}
			if s.frameCounter != nil {
				s.frameCounter.Add(ctx, 1,
					metric.WithAttributes(attribute.String("protocol", "ddp")))
			}
			if err := s.handleFrame(ctx, conn, r.data); err != nil {
				runErr = err
				return
			}
		}
	}
}

func (s *Session) terminate(ctx context.Context, runErr error) {
	s.cache.Clear()
	s.mu.Lock()
	s.sessionID = ""
	clear(s.subs)
	clear(s.subByID)
	clear(s.ready)
	done := s.done
	s.mu.Unlock()
	s.setState(StateDisconnected)

	if runErr != nil && ctx.Err() == nil {
		s.l.Warn("transport error", log.ErrorField(runErr))
		s.emitFinal(Event{Type: EventError, ErrKind: ErrorTransport, Err: runErr})
	}
	select {
	case s.handshake <- fmt.Errorf("%w: connection closed", ErrHandshake):
	default:
	}
	s.emitFinal(Event{Type: EventDisconnected})
	close(s.events)
	close(done)
}

//nolint:whitespace // editor/linter issue
func (s *Session) handleFrame(
	ctx context.Context, conn *websocket.Conn, data []byte,
) error {
	frame := sockjs.Parse(data, s.l)
	switch frame.Kind {
	case sockjs.FrameOpen:
		return s.write(ctx, conn, connectMessage())
	case sockjs.FrameClose:
		return fmt.Errorf("server closed session: %d %s",
			frame.CloseCode, frame.CloseReason)
	case sockjs.FrameArray:
		for _, raw := range frame.Messages {
			if err := s.handleMessage(ctx, conn, raw); err != nil {
				return err
			}
		}
	case sockjs.FrameHeartbeat, sockjs.FrameUnknown:
	}
	return nil
}

//nolint:funlen,cyclop,whitespace // by design
func (s *Session) handleMessage(
	ctx context.Context, conn *websocket.Conn, raw json.RawMessage,
) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.l.Warn("skipping malformed message",
			log.String("data", string(raw)), log.ErrorField(err))
		return nil
	}
	switch msg.Msg {
	case MsgConnected:
		if s.State() == StateConnected {
			s.l.Debug("ignoring repeated connected message",
				log.String("session", msg.Session))
			return nil
		}
		s.mu.Lock()
		s.sessionID = msg.Session
		s.mu.Unlock()
		s.setState(StateConnected)
		s.l.Info("connected", log.String("session", msg.Session))
		s.emit(ctx, Event{Type: EventConnected, SessionID: msg.Session})
		select {
		case s.handshake <- nil:
		default:
		}
	case MsgFailed:
		return fmt.Errorf("%w: server wants version %s", ErrHandshake, msg.Version)
	case MsgPing:
		return s.write(ctx, conn, Message{Msg: MsgPong, ID: msg.ID})
	case MsgPong, MsgUpdated:
	case MsgAdded:
		s.cache.Added(msg.Collection, msg.ID, msg.Fields)
		s.emitDocument(ctx, OpAdded, &msg)
	case MsgChanged:
		if s.cache.Changed(msg.Collection, msg.ID, msg.Fields, msg.Cleared) {
			s.l.Debug("changed for unknown document, added it",
				log.String("collection", msg.Collection), log.String("id", msg.ID))
		}
		s.emitDocument(ctx, OpChanged, &msg)
	case MsgRemoved:
		s.cache.Removed(msg.Collection, msg.ID)
		s.emitDocument(ctx, OpRemoved, &msg)
	case MsgReady:
		for _, id := range msg.Subs {
			s.mu.Lock()
			collection, ok := s.subByID[id]
			if ok {
				s.ready[id] = true
			}
			s.mu.Unlock()
			if ok {
				s.emit(ctx, Event{Type: EventReady, Collection: collection, ID: id})
			}
		}
	case MsgNoSub:
		s.mu.Lock()
		collection := s.subByID[msg.ID]
		delete(s.subByID, msg.ID)
		delete(s.ready, msg.ID)
		if s.subs[collection] == msg.ID {
			delete(s.subs, collection)
		}
		s.mu.Unlock()
		var err error = fmt.Errorf("subscription %s ended", collection)
		if msg.Error != nil {
			err = fmt.Errorf("subscription %s rejected: %w", collection, msg.Error)
		}
		s.l.Warn("subscription rejected",
			log.String("collection", collection), log.ErrorField(err))
		s.emit(ctx, Event{
			Type: EventError, ErrKind: ErrorSubscriptionRejected,
			Collection: collection, ID: msg.ID, Err: err,
		})
	case MsgResult:
		ev := Event{Type: EventResult, ID: msg.ID, Result: msg.Result}
		if msg.Error != nil {
			ev.Err = msg.Error
		}
		s.emit(ctx, ev)
	case MsgError:
		s.l.Warn("protocol error reported by server", log.String("reason", msg.Reason))
		s.emit(ctx, Event{
			Type: EventError, ErrKind: ErrorProtocol,
			Err: fmt.Errorf("server error: %s", msg.Reason),
		})
	default:
		s.l.Debug("ignoring message", log.String("msg", msg.Msg))
	}
	return nil
}

//nolint:whitespace // editor/linter issue
func (s *Session) write(
	ctx context.Context, conn *websocket.Conn, msg Message,
) error {
	data, err := sockjs.EncodeMessages(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Session) emitDocument(ctx context.Context, op DocOp, msg *Message) {
	s.emit(ctx, Event{
		Type:       EventDocument,
		Op:         op,
		Collection: msg.Collection,
		ID:         msg.ID,
		Fields:     msg.Fields,
	})
}

func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Session) emitFinal(ev Event) {
	select {
	case s.events <- ev:
	case <-time.After(time.Second):
		s.l.Warn("event consumer too slow, dropping final event")
	}
}
