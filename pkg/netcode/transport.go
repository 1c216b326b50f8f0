package netcode

import (
	"context"
	"fmt"
)

// ClientID identifies one peer on one transport session. IDs are not stable
// across reconnects; session records key on the player id instead.
type ClientID uint64

type Endpoint struct {
	Address string
	Port    int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}

// ApprovalRequest carries an inbound connection attempt to the host's
// admission control before the transport completes the handshake.
type ApprovalRequest struct {
	ClientID ClientID
	Payload  []byte
}

type ApprovalResponse struct {
	Approved           bool
	CreatePlayerObject bool
	// Wire-encoded ConnectStatus attached to the denial, empty when the
	// connection is approved or no reason is given.
	Reason string
}

// Handler receives transport callbacks. The Manager is the only
// implementation; transports must deliver events one at a time, in the
// order they occur, and strictly after the command that caused them.
type Handler interface {
	OnClientConnected(id ClientID)
	OnClientDisconnect(id ClientID, reason string)
	OnServerStarted()
	OnServerStopped()
	OnTransportFailure()
	OnServerMessage(data []byte)
	ApprovalCheck(request ApprovalRequest, response *ApprovalResponse)
}

// DisconnectReasonHostShutdown is the transport-level sentinel a client
// receives when the remote host vanished without sending a typed reason.
// It is distinct from the wire-encoded StatusHostEndedSession, which is an
// authoritative end of session; the sentinel is treated as recoverable.
const DisconnectReasonHostShutdown = "HostShutdown"

// Transport is the engine boundary. Implementations deliver callbacks
// asynchronously to the registered handler, except that Shutdown never
// raises callbacks to the local handler.
type Transport interface {
	// SetHandler registers the single callback receiver. Must be called
	// before StartClient or StartHost.
	SetHandler(handler Handler)

	// StartClient dials the endpoint, presenting the connection payload
	// for admission. Outcomes arrive via OnClientConnected or
	// OnClientDisconnect.
	StartClient(endpoint Endpoint, payload []byte) error

	// StartHost begins listening. The local payload goes through the
	// handler's own ApprovalCheck before OnServerStarted fires.
	StartHost(endpoint Endpoint, localPayload []byte) error

	// Shutdown tears the session down and blocks until complete. It is
	// idempotent and raises no callbacks locally; remote peers observe a
	// disconnect.
	Shutdown(ctx context.Context) error

	// LocalClientID is the id of this peer in the active session.
	LocalClientID() ClientID

	// DisconnectClient forcibly removes a connected client, delivering
	// the wire-encoded reason. Host side only.
	DisconnectClient(id ClientID, reason string)

	// Broadcast sends an opaque message to every connected client,
	// surfaced remotely via OnServerMessage. Host side only.
	Broadcast(data []byte)
}
