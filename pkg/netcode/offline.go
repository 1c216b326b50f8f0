package netcode

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const SHUTDOWN_TIMEOUT = time.Duration(5 * time.Second)

// offline is the idle phase: no transport session, no tracking. The only
// way out is a user command.
type offline struct {
	phaseDefaults
	m *Manager
}

func newOffline(m *Manager) *offline {
	return &offline{m: m}
}

func (s *offline) Name() string { return "Offline" }

func (s *offline) Enter() {
	// Any session tracking owned by the previous phase was cancelled with
	// its session context; all that remains is tearing the engine down.
	ctx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()

	if err := s.m.transport.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("transport shutdown failed")
	}
}

func (s *offline) startClientIP(name string, address string, port int) {
	m := s.m
	m.playerName = name
	method := NewDirectIP(address, port)
	m.changeState(newClientConnecting(m, method))
}

func (s *offline) startClientLobby(code string, name string) {
	m := s.m
	if m.lobbies == nil {
		log.Error().Msg("no lobby client configured")
		m.publishStatus(StatusStartClientFailed)
		return
	}
	m.playerName = name
	method := NewRelay(m.lobbies, code, m.config.PlayerID, Endpoint{})
	m.changeState(newClientConnecting(m, method))
}

func (s *offline) startHostIP(name string, address string, port int) {
	m := s.m
	m.playerName = name
	method := NewDirectIP(address, port)
	m.changeState(newStartingHost(m, method))
}

func (s *offline) startHostLobby(code string, name string) {
	m := s.m
	if m.lobbies == nil {
		log.Error().Msg("no lobby client configured")
		m.publishStatus(StatusStartHostFailed)
		return
	}
	m.playerName = name
	method := NewRelay(m.lobbies, code, m.config.PlayerID, m.hostEndpoint())
	m.changeState(newStartingHost(m, method))
}

// Shutdown while already offline is a no-op.
func (s *offline) requestShutdown() {}

func (s *offline) onTransportFailure() {}
