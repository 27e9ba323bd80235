package ddp

import (
	"encoding/json"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/doccache"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateConnected
)

func (s State) String() string {
	return [...]string{"Disconnected", "Connecting", "Handshaking", "Connected"}[s]
}

type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventReady
	EventDocument
	EventResult
	EventError
)

type ErrorKind int

const (
	ErrorTransport ErrorKind = iota
	ErrorProtocol
	ErrorSubscriptionRejected
)

type DocOp string

const (
	OpAdded   DocOp = MsgAdded
	OpChanged DocOp = MsgChanged
	OpRemoved DocOp = MsgRemoved
)

type Event struct {
	Type       EventType
	SessionID  string          // EventConnected
	Collection string          // EventDocument, EventReady, subscription errors
	ID         string          // document id or method call id
	Op         DocOp           // EventDocument
	Fields     doccache.Fields // EventDocument, the fields sent with the message
	Result     json.RawMessage // EventResult
	ErrKind    ErrorKind       // EventError
	Err        error           // EventError, EventResult
}
