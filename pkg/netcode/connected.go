package netcode

import (
	"github.com/rs/zerolog/log"
)

// clientConnected is the steady client phase. Its one real decision is
// classifying a disconnect as recoverable (reconnect) or terminal
// (offline).
type clientConnected struct {
	phaseDefaults
	online
	m      *Manager
	method ConnectionMethod
}

func newClientConnected(m *Manager, method ConnectionMethod) *clientConnected {
	return &clientConnected{online: online{m}, m: m, method: method}
}

func (s *clientConnected) Name() string { return "ClientConnected" }

func (s *clientConnected) Enter() {
	beginTracking(s.m.session.Ctx(), s.method)
}

func (s *clientConnected) onClientDisconnect(id ClientID, reason string) {
	m := s.m

	// No reason, or the host abruptly went away: assume a transient fault
	// and try to get back in.
	if reason == "" || reason == DisconnectReasonHostShutdown {
		m.publishStatus(StatusReconnecting)
		m.changeState(newClientReconnecting(m, s.method))
		return
	}

	status, _ := DecodeReason(reason)
	m.publishStatus(status)
	m.changeState(newOffline(m))
}

func (s *clientConnected) onServerMessage(data []byte) {
	event, err := DecodeConnectionEvent(data)
	if err != nil {
		log.Debug().Err(err).Msg("ignoring undecodable server message")
		return
	}
	s.m.connectionEvents.Publish(*event)
}
