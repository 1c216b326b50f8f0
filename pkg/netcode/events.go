package netcode

import (
	"github.com/fxamacker/cbor/v2"
)

// ReconnectMessage reports retry progress to observers. CurrentAttempt is
// non-decreasing within one reconnect session; (max, max) signals the end
// of the session so progress indicators can clear.
type ReconnectMessage struct {
	CurrentAttempt int
	MaxAttempt     int
}

// ConnectionEventMessage is the host-side notification of a peer joining or
// leaving, broadcast to connected clients and republished locally.
type ConnectionEventMessage struct {
	Status     ConnectStatus `cbor:"status"`
	PlayerName string        `cbor:"playerName"`
}

func (m *ConnectionEventMessage) Encode() ([]byte, error) {
	return cbor.Marshal(m)
}

func DecodeConnectionEvent(data []byte) (*ConnectionEventMessage, error) {
	var message ConnectionEventMessage
	if err := cbor.Unmarshal(data, &message); err != nil {
		return nil, err
	}
	return &message, nil
}
