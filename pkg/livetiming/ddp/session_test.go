//nolint:funlen,thelper // ok for tests
package ddp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/sockjs"
)

// fakeServer accepts one websocket connection and hands it to the test
type fakeServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	stop  chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{
		conns: make(chan *websocket.Conn, 1),
		stop:  make(chan struct{}),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- c
		<-fs.stop
	}))
	t.Cleanup(func() {
		close(fs.stop)
		fs.srv.Close()
	})
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/sockjs/123/abcdefgh/websocket"
}

func writeFrame(t *testing.T, c *websocket.Conn, frame string) {
	err := c.Write(context.Background(), websocket.MessageText, []byte(frame))
	require.NoError(t, err)
}

func writeMessages(t *testing.T, c *websocket.Conn, msgs ...any) {
	data, err := sockjs.EncodeArrayFrame(msgs...)
	require.NoError(t, err)
	writeFrame(t, c, string(data))
}

// readClientMessage reads one client frame (json array of json strings)
func readClientMessage(ctx context.Context, c *websocket.Conn) (Message, error) {
	_, data, err := c.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return Message{}, err
	}
	var msg Message
	err = json.Unmarshal([]byte(items[0]), &msg)
	return msg, err
}

// connect performs the handshake on server side while the client connects
func connect(t *testing.T, fs *fakeServer, s *Session) *websocket.Conn {
	handshake := make(chan error, 1)
	var serverConn *websocket.Conn
	go func() {
		c := <-fs.conns
		serverConn = c
		ctx := context.Background()
		if err := c.Write(ctx, websocket.MessageText, []byte("o")); err != nil {
			handshake <- err
			return
		}
		msg, err := readClientMessage(ctx, c)
		if err != nil {
			handshake <- err
			return
		}
		if msg.Msg != MsgConnect || msg.Version != "1" {
			handshake <- assert.AnError
			return
		}
		data, _ := sockjs.EncodeArrayFrame(Message{Msg: MsgConnected, Session: "abc123"})
		handshake <- c.Write(ctx, websocket.MessageText, data)
	}()
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, <-handshake)
	return serverConn
}

func nextEvent(t *testing.T, s *Session) Event {
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func drain(s *Session) []Event {
	ret := []Event{}
	for ev := range s.Events() {
		ret = append(ret, ev)
	}
	return ret
}

func TestSession_Handshake(t *testing.T) {
	fs := newFakeServer(t)
	s := New(WithURL(fs.url()))
	assert.Equal(t, StateDisconnected, s.State())

	connect(t, fs, s)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, "abc123", s.SessionID())

	ev := nextEvent(t, s)
	assert.Equal(t, EventConnected, ev.Type)
	assert.Equal(t, "abc123", ev.SessionID)

	s.Disconnect()
	rest := drain(s)
	for _, ev := range rest {
		assert.NotEqual(t, EventConnected, ev.Type, "connect event fired twice")
		assert.NotEqual(t, EventDocument, ev.Type)
	}
	require.NotEmpty(t, rest)
	assert.Equal(t, EventDisconnected, rest[len(rest)-1].Type)
}

func TestSession_DocumentLifecycle(t *testing.T) {
	fs := newFakeServer(t)
	s := New(WithURL(fs.url()))
	c := connect(t, fs, s)
	defer s.Disconnect()
	assert.Equal(t, EventConnected, nextEvent(t, s).Type)

	writeMessages(t, c,
		Message{Msg: MsgAdded, Collection: "timing", ID: "44", Fields: map[string]any{"Position": 3}},
		Message{Msg: MsgChanged, Collection: "timing", ID: "44", Fields: map[string]any{"Position": 1}},
	)
	ev := nextEvent(t, s)
	assert.Equal(t, EventDocument, ev.Type)
	assert.Equal(t, OpAdded, ev.Op)
	ev = nextEvent(t, s)
	assert.Equal(t, OpChanged, ev.Op)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	doc, ok := snap.Get("timing", "44")
	require.True(t, ok)
	assert.Equal(t, float64(1), doc.Fields["Position"])

	writeMessages(t, c, Message{Msg: MsgRemoved, Collection: "timing", ID: "44"})
	assert.Equal(t, OpRemoved, nextEvent(t, s).Op)
	snap, err = s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len("timing"))
}

func TestSession_PingPong(t *testing.T) {
	fs := newFakeServer(t)
	s := New(WithURL(fs.url()))
	c := connect(t, fs, s)
	defer s.Disconnect()

	writeMessages(t, c, Message{Msg: MsgPing, ID: "p1"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := readClientMessage(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, MsgPong, msg.Msg)
	assert.Equal(t, "p1", msg.ID)
}

func TestSession_SubscribeReadyAndNoSub(t *testing.T) {
	fs := newFakeServer(t)
	s := New(WithURL(fs.url()))
	c := connect(t, fs, s)
	defer s.Disconnect()
	assert.Equal(t, EventConnected, nextEvent(t, s).Type)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	timingID, err := s.Subscribe("timing")
	require.NoError(t, err)
	sub, err := readClientMessage(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, MsgSub, sub.Msg)
	assert.Equal(t, "timing", sub.Name)
	assert.Equal(t, timingID, sub.ID)

	weatherID, err := s.Subscribe("weather")
	require.NoError(t, err)
	_, err = readClientMessage(ctx, c)
	require.NoError(t, err)

	writeMessages(t, c, Message{Msg: MsgReady, Subs: []string{timingID}})
	ev := nextEvent(t, s)
	assert.Equal(t, EventReady, ev.Type)
	assert.Equal(t, "timing", ev.Collection)
	assert.True(t, s.IsReady("timing"))
	assert.False(t, s.IsReady("weather"))

	writeMessages(t, c, Message{
		Msg: MsgNoSub, ID: weatherID,
		Error: &Error{Code: json.RawMessage(`404`), Reason: "Subscription not found"},
	})
	ev = nextEvent(t, s)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, ErrorSubscriptionRejected, ev.ErrKind)
	assert.Equal(t, "weather", ev.Collection)
	assert.ErrorContains(t, ev.Err, "Subscription not found")

	subs := s.Subscriptions()
	assert.Contains(t, subs, "timing")
	assert.NotContains(t, subs, "weather")
	assert.Equal(t, StateConnected, s.State())
}

func TestSession_CallResult(t *testing.T) {
	fs := newFakeServer(t)
	s := New(WithURL(fs.url()))
	c := connect(t, fs, s)
	defer s.Disconnect()
	assert.Equal(t, EventConnected, nextEvent(t, s).Type)

	id, err := s.Call("getSessionInfo", "abc")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := readClientMessage(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, MsgMethod, msg.Msg)
	assert.Equal(t, "getSessionInfo", msg.Method)
	assert.Equal(t, id, msg.ID)

	writeMessages(t, c, Message{Msg: MsgResult, ID: id, Result: json.RawMessage(`{"ok":true}`)})
	ev := nextEvent(t, s)
	assert.Equal(t, EventResult, ev.Type)
	assert.Equal(t, id, ev.ID)
	assert.JSONEq(t, `{"ok":true}`, string(ev.Result))
}

func TestSession_DisconnectIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	s := New(WithURL(fs.url()))
	c := connect(t, fs, s)
	_, err := s.Subscribe("timing")
	require.NoError(t, err)
	writeMessages(t, c, Message{Msg: MsgAdded, Collection: "timing", ID: "1"})

	s.Disconnect()
	s.Disconnect()

	assert.Equal(t, StateDisconnected, s.State())
	assert.Empty(t, s.Subscriptions())
	assert.Empty(t, s.SessionID())
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Collections())

	_, err = s.Subscribe("timing")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrAlreadyStarted)
}

func TestSession_TransportErrorEmitsEvents(t *testing.T) {
	fs := newFakeServer(t)
	s := New(WithURL(fs.url()))
	c := connect(t, fs, s)
	assert.Equal(t, EventConnected, nextEvent(t, s).Type)

	require.NoError(t, c.Close(websocket.StatusInternalError, "boom"))

	events := drain(s)
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, ErrorTransport, events[0].ErrKind)
	assert.Equal(t, EventDisconnected, events[1].Type)
	assert.Equal(t, StateDisconnected, s.State())
	s.Disconnect()
}

func TestSession_DialFailureIsSynchronous(t *testing.T) {
	s := New(WithURL("ws://127.0.0.1:1/sockjs/123/abcdefgh/websocket"))
	err := s.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, s.State())
	s.Disconnect()
}

func TestSession_Documents(t *testing.T) {
	fs := newFakeServer(t)
	s := New(WithURL(fs.url()))
	ctx := context.Background()

	docs, err := s.Documents(ctx, "timing")
	require.NoError(t, err)
	assert.Empty(t, docs, "not connected yet")

	c := connect(t, fs, s)
	assert.Equal(t, EventConnected, nextEvent(t, s).Type)
	writeMessages(t, c,
		Message{Msg: MsgAdded, Collection: "timing", ID: "7", Fields: map[string]any{"Position": 2}},
		Message{Msg: MsgAdded, Collection: "timing", ID: "31", Fields: map[string]any{"Position": 1}},
		Message{Msg: MsgAdded, Collection: "sessions", ID: "s1", Fields: map[string]any{"name": "Race"}},
	)
	for range 3 {
		assert.Equal(t, EventDocument, nextEvent(t, s).Type)
	}

	docs, err = s.Documents(ctx, "timing")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "31", docs[0].ID)
	assert.Equal(t, "7", docs[1].ID)

	// the copies are not shared with the session
	docs[0].Fields["Position"] = 99
	again, err := s.Documents(ctx, "timing")
	require.NoError(t, err)
	assert.Equal(t, float64(1), again[0].Fields["Position"])

	s.Disconnect()
	docs, err = s.Documents(ctx, "timing")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSession_RepeatedConnectedIsIgnored(t *testing.T) {
	fs := newFakeServer(t)
	s := New(WithURL(fs.url()))
	c := connect(t, fs, s)
	assert.Equal(t, EventConnected, nextEvent(t, s).Type)

	writeMessages(t, c,
		Message{Msg: MsgConnected, Session: "other"},
		Message{Msg: MsgAdded, Collection: "timing", ID: "1", Fields: map[string]any{"Position": 1}},
	)
	ev := nextEvent(t, s)
	assert.Equal(t, EventDocument, ev.Type, "no second connected event")
	assert.Equal(t, "abc123", s.SessionID())
	s.Disconnect()
}

func TestSession_OnEvent(t *testing.T) {
	fs := newFakeServer(t)
	s := New(WithURL(fs.url()))
	c := connect(t, fs, s)

	got := make(chan EventType, 16)
	finished := s.OnEvent(func(ev Event) {
		got <- ev.Type
	})
	writeMessages(t, c,
		Message{Msg: MsgAdded, Collection: "timing", ID: "1", Fields: map[string]any{"Position": 1}})
	assert.Equal(t, EventConnected, <-got)
	assert.Equal(t, EventDocument, <-got)

	s.Disconnect()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("handler loop did not finish")
	}
	types := []EventType{}
	for len(got) > 0 {
		types = append(types, <-got)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, EventDisconnected, types[len(types)-1])
}
