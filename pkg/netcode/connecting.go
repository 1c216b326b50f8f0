package netcode

import (
	"context"

	"github.com/rs/zerolog/log"
)

// clientConnecting dials a first-time client connection. Preparation and
// the connect itself run in a goroutine scoped to the phase's session;
// outcomes come back through transport callbacks.
type clientConnecting struct {
	phaseDefaults
	online
	m      *Manager
	method ConnectionMethod
}

func newClientConnecting(m *Manager, method ConnectionMethod) *clientConnecting {
	return &clientConnecting{online: online{m}, m: m, method: method}
}

func (s *clientConnecting) Name() string { return "ClientConnecting" }

func (s *clientConnecting) Enter() {
	go s.connect(s.m.session.Ctx())
}

func (s *clientConnecting) connect(ctx context.Context) {
	m := s.m

	prepCtx, cancel := context.WithTimeout(ctx, m.config.PrepareTimeout)
	endpoint, err := s.method.PrepareClientConnection(prepCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("client connection preparation failed")
		s.fail(ctx)
		return
	}

	if err := m.transport.StartClient(endpoint, m.payloadBytes()); err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint.String()).Msg("failed to start client connection")
		s.fail(ctx)
	}
}

// A preparation failure is treated identically to a connect failure.
func (s *clientConnecting) fail(ctx context.Context) {
	m := s.m
	m.locked(ctx, func() {
		m.publishStatus(StatusStartClientFailed)
		m.changeState(newOffline(m))
	})
}

func (s *clientConnecting) onClientConnected(id ClientID) {
	m := s.m
	m.publishStatus(StatusSuccess)
	m.changeState(newClientConnected(m, s.method))
}

func (s *clientConnecting) onClientDisconnect(id ClientID, reason string) {
	m := s.m

	status, ok := DecodeReason(reason)
	if !ok {
		status = StatusStartClientFailed
	}

	m.publishStatus(status)
	m.changeState(newOffline(m))
}
