// Package ddp implements a client for the Meteor Distributed Data Protocol as
// served by the Alkamel live timing system over SockJS.
package ddp

import (
	"encoding/json"
	"fmt"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/doccache"
)

const (
	MsgConnect   = "connect"
	MsgConnected = "connected"
	MsgFailed    = "failed"
	MsgPing      = "ping"
	MsgPong      = "pong"
	MsgSub       = "sub"
	MsgUnsub     = "unsub"
	MsgNoSub     = "nosub"
	MsgReady     = "ready"
	MsgAdded     = "added"
	MsgChanged   = "changed"
	MsgRemoved   = "removed"
	MsgMethod    = "method"
	MsgResult    = "result"
	MsgUpdated   = "updated"
	MsgError     = "error"

	ProtocolVersion = "1"
)

var SupportedVersions = []string{"1", "pre1", "pre2"}

// Message covers all DDP message shapes used by client and server
type Message struct {
	Msg        string          `json:"msg"`
	ID         string          `json:"id,omitempty"`
	Session    string          `json:"session,omitempty"`
	Version    string          `json:"version,omitempty"`
	Support    []string        `json:"support,omitempty"`
	Name       string          `json:"name,omitempty"`
	Params     []any           `json:"params,omitempty"`
	Subs       []string        `json:"subs,omitempty"`
	Methods    []string        `json:"methods,omitempty"`
	Collection string          `json:"collection,omitempty"`
	Fields     doccache.Fields `json:"fields,omitempty"`
	Cleared    []string        `json:"cleared,omitempty"`
	Method     string          `json:"method,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *Error          `json:"error,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Error is the error object of nosub and result messages
type Error struct {
	Code      json.RawMessage `json:"error,omitempty"` // number or string
	Reason    string          `json:"reason,omitempty"`
	Message   string          `json:"message,omitempty"`
	ErrorType string          `json:"errorType,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "":
		return e.Message
	case e.Reason != "":
		return fmt.Sprintf("%s [%s]", e.Reason, string(e.Code))
	default:
		return string(e.Code)
	}
}

func connectMessage() Message {
	return Message{Msg: MsgConnect, Version: ProtocolVersion, Support: SupportedVersions}
}
