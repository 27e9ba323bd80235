// Package signalr implements the client side of the SignalR 1.5 protocol as
// used by the F1 live timing service.
package signalr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/inflate"
)

type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventFeed
	EventResult
	EventError
)

type ErrorKind int

const (
	ErrorTransport ErrorKind = iota
	ErrorProtocol
)

type Event struct {
	Type EventType
	// EventFeed: topic as sent by the server (".z" suffix kept)
	Topic string
	// EventFeed: decoded payload (object, array or the raw string)
	Payload any
	// EventFeed: optional timestamp argument
	Timestamp string
	// EventResult: invocation id
	InvocationID string
	Result       json.RawMessage
	ErrKind      ErrorKind
	Err          error
}

type hubMessage struct {
	H string            `json:"H"`
	M string            `json:"M"`
	A []json.RawMessage `json:"A"`
}

type envelope struct {
	C string          `json:"C"`
	M []hubMessage    `json:"M"`
	R json.RawMessage `json:"R"`
	I string          `json:"I"`
	E json.RawMessage `json:"E"`
	G string          `json:"G"`
	S int             `json:"S"`
}

var ErrServer = errors.New("signalr server error")

// ParseFrame decodes one inbound text frame. Keep-alive frames yield no
// events. Malformed frames are logged and yield no events. cursor is the
// message id ("C") of the frame if present.
func ParseFrame(data []byte, l *log.Logger) (events []Event, cursor string) {
	if l == nil {
		l = log.Default()
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		l.Warn("skipping malformed frame",
			log.String("data", truncate(data)), log.ErrorField(err))
		return nil, ""
	}
	if len(keys) == 0 {
		return nil, ""
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		l.Warn("skipping frame with unexpected shape",
			log.String("data", truncate(data)), log.ErrorField(err))
		return nil, ""
	}
	if _, ok := keys["E"]; ok {
		events = append(events, Event{
			Type: EventError, ErrKind: ErrorProtocol, InvocationID: env.I,
			Err: fmt.Errorf("%w: %s", ErrServer, string(env.E)),
		})
	}
	for i := range env.M {
		if ev, ok := parseInvocation(&env.M[i], l); ok {
			events = append(events, ev)
		}
	}
	if _, ok := keys["R"]; ok {
		events = append(events, Event{Type: EventResult, InvocationID: env.I, Result: env.R})
	}
	return events, env.C
}

func parseInvocation(m *hubMessage, l *log.Logger) (Event, bool) {
	if !strings.EqualFold(m.H, HubName) || !strings.EqualFold(m.M, "feed") {
		l.Debug("ignoring hub message", log.String("hub", m.H), log.String("method", m.M))
		return Event{}, false
	}
	if len(m.A) < 2 {
		l.Warn("feed message without payload", log.Int("args", len(m.A)))
		return Event{}, false
	}
	var topic string
	if err := json.Unmarshal(m.A[0], &topic); err != nil {
		l.Warn("feed topic is no string", log.ErrorField(err))
		return Event{}, false
	}
	ev := Event{Type: EventFeed, Topic: topic, Payload: decodePayload(topic, m.A[1], l)}
	if len(m.A) > 2 {
		//nolint:errcheck // timestamp is optional
		json.Unmarshal(m.A[2], &ev.Timestamp)
	}
	return ev, true
}

// decodePayload decodes raw json. Payloads of compressed topics are strings
// which are passed through the decompression.
func decodePayload(topic string, raw json.RawMessage, l *log.Logger) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		l.Warn("feed payload is no json",
			log.String("topic", topic), log.ErrorField(err))
		return string(raw)
	}
	if s, ok := v.(string); ok && inflate.IsCompressedTopic(topic) {
		return inflate.DecodeOrRaw(s, l)
	}
	return v
}

// ExpandResult converts the result of a Subscribe invocation (an object keyed
// by topic holding the current state) into feed events.
func ExpandResult(raw json.RawMessage, l *log.Logger) []Event {
	if l == nil {
		l = log.Default()
	}
	var byTopic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byTopic); err != nil {
		return nil
	}
	ret := make([]Event, 0, len(byTopic))
	for _, topic := range sortedKeys(byTopic) {
		ret = append(ret, Event{
			Type:    EventFeed,
			Topic:   topic,
			Payload: decodePayload(topic, byTopic[topic], l),
		})
	}
	return ret
}

func sortedKeys(m map[string]json.RawMessage) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	// deterministic order, DriverList first so later topics find their drivers
	sortTopics(ret)
	return ret
}

func truncate(data []byte) string {
	const maxLen = 200
	if len(data) > maxLen {
		return string(data[:maxLen]) + "..."
	}
	return string(data)
}
