package ws

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestFrameDispatch(t *testing.T) {
	frames := [][]byte{
		marshal(ConnectFrame{Op: ConnectOp, Payload: []byte("payload")}),
		marshal(AcceptFrame{Op: AcceptOp, ClientID: 7}),
		marshal(DisconnectFrame{Op: DisconnectOp, Reason: `"ServerFull"`}),
		marshal(EventFrame{Op: EventOp, Data: []byte("event")}),
	}

	// Every frame identifies itself through the shared Op field.
	for i, raw := range frames {
		var generic GenericFrame
		require.NoError(t, cbor.Unmarshal(raw, &generic))
		require.Equal(t, i, generic.Op)
	}

	var disconnect DisconnectFrame
	require.NoError(t, cbor.Unmarshal(frames[DisconnectOp], &disconnect))
	require.Equal(t, `"ServerFull"`, disconnect.Reason)

	var accept AcceptFrame
	require.NoError(t, cbor.Unmarshal(frames[AcceptOp], &accept))
	require.Equal(t, uint64(7), accept.ClientID)
}
