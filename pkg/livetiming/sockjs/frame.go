// Package sockjs handles the SockJS envelope used by the Alkamel live timing
// servers to carry DDP messages over a websocket.
package sockjs

import (
	"bytes"
	"encoding/json"

	"github.com/mpapenbr/livetiming-gateway-go/log"
)

type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameOpen
	FrameHeartbeat
	FrameClose
	FrameArray
)

func (k FrameKind) String() string {
	switch k {
	case FrameOpen:
		return "open"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameClose:
		return "close"
	case FrameArray:
		return "array"
	default:
		return "unknown"
	}
}

type Frame struct {
	Kind FrameKind
	// Messages holds the decoded inner messages of an array frame
	Messages []json.RawMessage
	// Raw is the payload after the type tag
	Raw         string
	CloseCode   int
	CloseReason string
}

// Parse decodes a single SockJS frame. It never fails: malformed content is
// logged and skipped, unknown frame types yield FrameUnknown.
func Parse(data []byte, l *log.Logger) Frame {
	if l == nil {
		l = log.Default()
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Frame{Kind: FrameUnknown}
	}
	rest := data[1:]
	switch data[0] {
	case 'o':
		return Frame{Kind: FrameOpen}
	case 'h':
		return Frame{Kind: FrameHeartbeat}
	case 'c':
		f := Frame{Kind: FrameClose, Raw: string(rest)}
		var args []any
		if err := json.Unmarshal(rest, &args); err == nil && len(args) == 2 {
			if code, ok := args[0].(float64); ok {
				f.CloseCode = int(code)
			}
			if reason, ok := args[1].(string); ok {
				f.CloseReason = reason
			}
		}
		return f
	case 'a':
		return Frame{Kind: FrameArray, Raw: string(rest), Messages: parseArray(rest, l)}
	default:
		l.Debug("ignoring unknown frame", log.String("tag", string(data[0])))
		return Frame{Kind: FrameUnknown, Raw: string(data)}
	}
}

func parseArray(payload []byte, l *log.Logger) []json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		l.Warn("malformed array frame", log.ErrorField(err))
		return nil
	}
	ret := make([]json.RawMessage, 0, len(items))
	for i, item := range items {
		trimmed := bytes.TrimSpace(item)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			// some servers send the messages already decoded
			ret = append(ret, json.RawMessage(trimmed))
			continue
		}
		var inner string
		if err := json.Unmarshal(item, &inner); err != nil {
			l.Warn("array element is neither string nor object, skipping",
				log.Int("idx", i), log.ErrorField(err))
			continue
		}
		msg := bytes.TrimSpace([]byte(inner))
		if !json.Valid(msg) {
			l.Warn("array element contains malformed json, skipping",
				log.Int("idx", i), log.String("data", inner))
			continue
		}
		// an element may carry a batch of messages
		if len(msg) > 0 && msg[0] == '[' {
			var batch []json.RawMessage
			if err := json.Unmarshal(msg, &batch); err == nil {
				ret = append(ret, batch...)
				continue
			}
		}
		ret = append(ret, json.RawMessage(msg))
	}
	return ret
}

// EncodeMessages wraps json messages into the client->server SockJS format,
// which is a json array of json encoded strings (without the "a" tag).
func EncodeMessages(msgs ...any) ([]byte, error) {
	items := make([]string, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		items = append(items, string(b))
	}
	return json.Marshal(items)
}

// EncodeArrayFrame builds a server->client array frame.
func EncodeArrayFrame(msgs ...any) ([]byte, error) {
	b, err := EncodeMessages(msgs...)
	if err != nil {
		return nil, err
	}
	return append([]byte{'a'}, b...), nil
}
