package netcode

import (
	"context"

	"github.com/rs/zerolog/log"
)

// phaseDefaults supplies the opt-out no-op handlers. Commands and events a
// phase does not care about in its part of the lifecycle simply fall
// through to these.
type phaseDefaults struct{}

func (phaseDefaults) Enter() {}
func (phaseDefaults) Exit()  {}

func (phaseDefaults) startClientIP(name string, address string, port int) {}
func (phaseDefaults) startClientLobby(code string, name string)           {}
func (phaseDefaults) startHostIP(name string, address string, port int)   {}
func (phaseDefaults) startHostLobby(code string, name string)             {}

func (phaseDefaults) onClientConnected(id ClientID)                  {}
func (phaseDefaults) onClientDisconnect(id ClientID, reason string)  {}
func (phaseDefaults) onServerStarted()                               {}
func (phaseDefaults) onServerStopped()                               {}
func (phaseDefaults) onServerMessage(data []byte)                    {}

func (phaseDefaults) approvalCheck(request ApprovalRequest, response *ApprovalResponse) {
	response.Approved = false
}

// online carries the two behaviors shared by every connected-or-connecting
// phase: a user shutdown request tears everything down, and a transport
// fault is non-recoverable at this layer.
type online struct {
	m *Manager
}

func (o online) requestShutdown() {
	o.m.publishStatus(StatusUserRequestedDisconnect)
	o.m.changeState(newOffline(o.m))
}

func (o online) onTransportFailure() {
	log.Warn().Msg("transport failure, going offline")
	o.m.changeState(newOffline(o.m))
}

// beginTracking starts backend session keep-alive when the connection
// method needs it, scoped to the current phase.
func beginTracking(ctx context.Context, method ConnectionMethod) {
	if tracker, ok := method.(SessionTracker); ok {
		go tracker.BeginTracking(ctx)
	}
}
