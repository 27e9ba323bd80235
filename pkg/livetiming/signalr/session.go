package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/mod/semver"
	"golang.org/x/net/publicsuffix"

	"github.com/mpapenbr/livetiming-gateway-go/log"
)

const (
	DefaultHTTPBaseURL = "https://livetiming.formula1.com"
	DefaultWSBaseURL   = "wss://livetiming.formula1.com"
	ClientProtocol     = "1.5"
	disconnectWait     = 5 * time.Second
)

var (
	ErrNegotiate           = errors.New("signalr negotiation failed")
	ErrUnsupportedProtocol = errors.New("unsupported signalr protocol version")
	ErrNotConnected        = errors.New("session not connected")
	ErrAlreadyStarted      = errors.New("session already started")
	ErrKeepAliveTimeout    = errors.New("no data received within keep alive timeout")
)

type State int32

const (
	StateIdle State = iota
	StateNegotiated
	StateConnected
	StateSubscribed
	StateDisconnected
)

func (s State) String() string {
	return [...]string{"Idle", "Negotiated", "Connected", "Subscribed", "Disconnected"}[s]
}

// NegotiateResponse is the response of the negotiate endpoint.
// Timeouts are given in seconds.
type NegotiateResponse struct {
	URL                     string  `json:"Url"`
	ConnectionToken         string  `json:"ConnectionToken"`
	ConnectionID            string  `json:"ConnectionId"`
	KeepAliveTimeout        float64 `json:"KeepAliveTimeout"`
	DisconnectTimeout       float64 `json:"DisconnectTimeout"`
	ConnectionTimeout       float64 `json:"ConnectionTimeout"`
	TryWebSockets           bool    `json:"TryWebSockets"`
	ProtocolVersion         string  `json:"ProtocolVersion"`
	TransportConnectTimeout float64 `json:"TransportConnectTimeout"`
	LongPollDelay           float64 `json:"LongPollDelay"`
}

// keepAliveWindow is the time without any inbound frame after which the
// connection is considered dead. Zero disables the check.
func (n *NegotiateResponse) keepAliveWindow() time.Duration {
	if n.KeepAliveTimeout <= 0 {
		return 0
	}
	return time.Duration((n.KeepAliveTimeout + n.DisconnectTimeout) * float64(time.Second))
}

type subscribeRequest struct {
	H string `json:"H"`
	M string `json:"M"`
	A []any  `json:"A"`
	I string `json:"I"`
}

type (
	Option func(*Session)

	// Session is a single-use SignalR streaming connection. Tokens are never
	// reused, a new connection attempt needs a new Session.
	Session struct {
		httpBaseURL string
		wsBaseURL   string
		client      *http.Client
		l           *log.Logger

		state   atomic.Int32
		started atomic.Bool
		msgID   atomic.Int64
		events  chan Event
		outbox  chan []byte

		mu          sync.Mutex
		negotiated  *NegotiateResponse
		conn        *websocket.Conn
		cancel      context.CancelFunc
		done        chan struct{}
		subscribeID map[string][]string // invocation id -> topics
		topics      []string
		cursor      string

		frameCounter metric.Int64Counter
	}
)

func WithHTTPBaseURL(u string) Option {
	return func(s *Session) {
		s.httpBaseURL = strings.TrimSuffix(u, "/")
	}
}

func WithWSBaseURL(u string) Option {
	return func(s *Session) {
		s.wsBaseURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient sets the client used for negotiation. A cookie jar is added
// if the client has none.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) {
		s.client = c
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		s.l = l
	}
}

func WithEventBuffer(n int) Option {
	return func(s *Session) {
		s.events = make(chan Event, n)
	}
}

func New(opts ...Option) *Session {
	s := &Session{
		httpBaseURL: DefaultHTTPBaseURL,
		wsBaseURL:   DefaultWSBaseURL,
		l:           log.Default().Named("signalr"),
		events:      make(chan Event, 256),
		outbox:      make(chan []byte, 16),
		subscribeID: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 15 * time.Second}
	}
	if s.client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err == nil {
			c := *s.client
			c.Jar = jar
			s.client = &c
		}
	}
	meter := otel.GetMeterProvider().Meter("ltg.signalr")
	var err error
	if s.frameCounter, err = meter.Int64Counter("ltg.session.frames",
		metric.WithDescription("Number of received frames"),
		metric.WithUnit("{count}")); err != nil {
		s.l.Warn("could not create frame counter", log.ErrorField(err))
	}
	return s
}

func (s *Session) Events() <-chan Event {
	return s.events
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

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Negotiation returns a copy of the current negotiation data or nil
func (s *Session) Negotiation() *NegotiateResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.negotiated == nil {
		return nil
	}
	ret := *s.negotiated
	return &ret
}

// Topics returns the topics subscribed on this session
func (s *Session) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.topics...)
}

func connectionData() string {
	return fmt.Sprintf(`[{"name":%q}]`, HubName)
}

// Negotiate requests a connection token. Errors are returned to the caller,
// there is no event loop running at this point.
//
//nolint:whitespace // editor/linter issue
func (s *Session) Negotiate(ctx context.Context) (*NegotiateResponse, error) {
	u, err := url.Parse(s.httpBaseURL + "/signalr/negotiate")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNegotiate, err)
	}
	u.RawQuery = url.Values{
		"connectionData": {connectionData()},
		"clientProtocol": {ClientProtocol},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNegotiate, err)
	}
	req.Header.Set("User-Agent", "BestHTTP")
	req.Header.Set("Accept-Encoding", "gzip,identity")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNegotiate, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrNegotiate, resp.Status)
	}
	var ret NegotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&ret); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrNegotiate, err)
	}
	if ret.ConnectionToken == "" {
		return nil, fmt.Errorf("%w: empty connection token", ErrNegotiate)
	}
	if !supportedProtocol(ret.ProtocolVersion) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, ret.ProtocolVersion)
	}
	s.mu.Lock()
	s.negotiated = &ret
	s.mu.Unlock()
	s.setState(StateNegotiated)
	s.l.Debug("negotiated",
		log.String("connectionId", ret.ConnectionID),
		log.Int("tokenLen", len(ret.ConnectionToken)),
		log.String("protocol", ret.ProtocolVersion))
	return &ret, nil
}

func supportedProtocol(v string) bool {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v) && semver.Compare(v, "v"+ClientProtocol) >= 0
}

func (s *Session) connectURL(token string) (string, error) {
	u, err := url.Parse(s.wsBaseURL + "/signalr/connect")
	if err != nil {
		return "", err
	}
	u.RawQuery = url.Values{
		"transport":       {"webSockets"},
		"connectionToken": {token},
		"connectionData":  {connectionData()},
		"clientProtocol":  {ClientProtocol},
	}.Encode()
	return u.String(), nil
}

// Connect opens the websocket. Without a prior Negotiate call the session
// negotiates first. All failures up to an open connection are returned.
// ctx bounds the lifetime of the session.
//
//nolint:funlen // by design
func (s *Session) Connect(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	fail := func(err error) error {
		s.setState(StateDisconnected)
		s.mu.Lock()
		s.negotiated = nil
		s.mu.Unlock()
		close(s.events)
		return err
	}
	neg := s.Negotiation()
	if neg == nil {
		var err error
		if neg, err = s.Negotiate(ctx); err != nil {
			return fail(err)
		}
	}
	wsURL, err := s.connectURL(neg.ConnectionToken)
	if err != nil {
		return fail(err)
	}
	headers := make(http.Header)
	headers.Add("User-Agent", "BestHTTP")
	headers.Add("Accept-Encoding", "gzip,identity")
	if base, err := url.Parse(s.httpBaseURL); err == nil && s.client.Jar != nil {
		for _, c := range s.client.Jar.Cookies(base) {
			headers.Add("Cookie", c.String())
		}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return fail(fmt.Errorf("dial: %w", err))
	}
	// some messages (initial state) are quite large
	conn.SetReadLimit(-1)

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	s.setState(StateConnected)
	s.l.Info("connected", log.String("connectionId", neg.ConnectionID))

	go s.run(runCtx, conn, neg.keepAliveWindow())
	return nil
}

// Subscribe sends a Subscribe invocation for the topics and returns its id.
func (s *Session) Subscribe(topics ...string) (string, error) {
	if st := s.State(); st != StateConnected && st != StateSubscribed {
		return "", ErrNotConnected
	}
	id := strconv.FormatInt(s.msgID.Add(1), 10)
	args := make([]any, len(topics))
	for i := range topics {
		args[i] = topics[i]
	}
	data, err := json.Marshal(subscribeRequest{H: HubName, M: "Subscribe", A: []any{args}, I: id})
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	done := s.done
	if done == nil || isClosed(done) {
		s.mu.Unlock()
		return "", ErrNotConnected
	}
	s.subscribeID[id] = topics
	s.topics = append(s.topics, topics...)
	s.mu.Unlock()
	select {
	case <-done:
		return "", ErrNotConnected
	case s.outbox <- data:
	}
	s.setState(StateSubscribed)
	return id, nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (s *Session) SubscribeAll() (string, error) {
	return s.Subscribe(StandardTopics...)
}

// Disconnect closes the connection and drops the connection token.
// Safe to call multiple times and from any goroutine.
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
	s.reset()
	s.setState(StateDisconnected)
}

func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negotiated = nil
	s.topics = nil
	s.cursor = ""
	clear(s.subscribeID)
}

//nolint:funlen,cyclop,gocognit // by design
func (s *Session) run(ctx context.Context, conn *websocket.Conn, keepAlive time.Duration) {
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
	var watchdog <-chan time.Time
	if keepAlive > 0 {
		ticker := time.NewTicker(keepAlive / 4)
		defer ticker.Stop()
		watchdog = ticker.C
	}
	lastFrame := time.Now()

	var runErr error
	defer func() {
		s.terminate(ctx, runErr)
	}()
	s.emit(ctx, Event{Type: EventConnected})
	for {
		select {
		case <-ctx.Done():
			return
		case <-watchdog:
			if time.Since(lastFrame) > keepAlive {
				runErr = fmt.Errorf("%w (%v)", ErrKeepAliveTimeout, keepAlive)
				return
			}
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
			lastFrame = time.Now()
			if s.frameCounter != nil {
				s.frameCounter.Add(ctx, 1,
					metric.WithAttributes(attribute.String("protocol", "signalr")))
			}
			events, cursor := ParseFrame(r.data, s.l)
			if cursor != "" {
				s.mu.Lock()
				s.cursor = cursor
				s.mu.Unlock()
			}
			for i := range events {
				s.dispatch(ctx, &events[i])
			}
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

func (s *Session) dispatch(ctx context.Context, ev *Event) {
	if ev.Type == EventResult {
		s.mu.Lock()
		_, isSubscribe := s.subscribeID[ev.InvocationID]
		delete(s.subscribeID, ev.InvocationID)
		s.mu.Unlock()
		if isSubscribe {
			for _, feed := range ExpandResult(ev.Result, s.l) {
				s.emit(ctx, feed)
			}
		}
	}
	if ev.Type == EventError {
		s.l.Warn("server reported error", log.ErrorField(ev.Err))
	}
	s.emit(ctx, *ev)
}

func (s *Session) terminate(ctx context.Context, runErr error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	s.reset()
	s.setState(StateDisconnected)
	if runErr != nil && ctx.Err() == nil {
		s.l.Warn("transport error", log.ErrorField(runErr))
		s.emitFinal(Event{Type: EventError, ErrKind: ErrorTransport, Err: runErr})
	}
	s.emitFinal(Event{Type: EventDisconnected})
	close(s.events)
	close(done)
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
