package ws

import (
	"github.com/fxamacker/cbor/v2"
)

const (
	// Client -> host
	ConnectOp int = iota
	// Host -> client
	AcceptOp
	DisconnectOp
	EventOp
)

// ConnectFrame opens a session, carrying the connection payload for
// admission control.
type ConnectFrame struct {
	Op      int
	Payload []byte
}

type AcceptFrame struct {
	Op       int
	ClientID uint64
}

// DisconnectFrame tells the peer why the session is over before the socket
// closes; Reason is the wire-encoded ConnectStatus, or the host-shutdown
// sentinel.
type DisconnectFrame struct {
	Op     int
	Reason string
}

type EventFrame struct {
	Op   int
	Data []byte
}

type GenericFrame struct {
	Op int
}

func marshal(frame interface{}) []byte {
	data, _ := cbor.Marshal(frame)
	return data
}
