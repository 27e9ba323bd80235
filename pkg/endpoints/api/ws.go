package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mpapenbr/livetiming-gateway-go/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// handleLiveStream pushes every accepted snapshot of the series. The latest
// snapshot is sent first if there is one.
func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	series, ok := s.seriesParam(w, r)
	if !ok {
		return
	}
	ch, cancel, err := s.live.Subscribe(series)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	defer cancel()
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.l.Debug("websocket upgrade failed", log.ErrorField(err))
		return
	}
	c := newStreamClient(conn, s.l.With(log.String("series", string(series))))
	for _, st := range s.live.AllLatest() {
		if st.Series == series {
			c.initial = st
		}
	}
	runStream(c, ch)
}

// handleEventStream pushes the change events of the series
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	series, ok := s.seriesParam(w, r)
	if !ok {
		return
	}
	ch, cancel, err := s.live.SubscribeEvents(series)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	defer cancel()
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.l.Debug("websocket upgrade failed", log.ErrorField(err))
		return
	}
	runStream(newStreamClient(conn, s.l.With(log.String("series", string(series)))), ch)
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
}

type streamClient struct {
	id      string
	conn    *websocket.Conn
	initial any
	done    chan struct{}
	l       *log.Logger
}

func newStreamClient(conn *websocket.Conn, l *log.Logger) *streamClient {
	id := uuid.New().String()
	return &streamClient{
		id:   id,
		conn: conn,
		done: make(chan struct{}),
		l:    l.With(log.String("client", id)),
	}
}

// runStream blocks until the peer goes away or the source channel is closed
func runStream[T any](c *streamClient, ch <-chan T) {
	c.l.Debug("stream client connected")
	go c.readPump()
	writePump(c, ch)
	c.l.Debug("stream client disconnected")
}

// readPump only handles control frames. Peer messages are discarded.
func (c *streamClient) readPump() {
	defer close(c.done)
	c.conn.SetReadLimit(maxMessageSize)
	//nolint:errcheck // deadline errors surface on the next read
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.l.Debug("unexpected close", log.ErrorField(err))
			}
			return
		}
	}
}

//nolint:errcheck // write errors end the pump on the next write
func writePump[T any](c *streamClient, ch <-chan T) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	if c.initial != nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(c.initial); err != nil {
			return
		}
	}
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-ch:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.l.Debug("write failed", log.ErrorField(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
