package netcode

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// clientReconnecting is the retry engine. Each cycle waits out the
// cooldown, tears the transport down, re-resolves the target through the
// connection method, and dials again. The loop is driven by the disconnect
// callback: a failed dial comes back as OnClientDisconnect, which decides
// whether another cycle starts.
type clientReconnecting struct {
	phaseDefaults
	online
	m      *Manager
	method ConnectionMethod

	// Attempts consumed so far. Mutated only under the manager's mutex.
	attempt int
}

func newClientReconnecting(m *Manager, method ConnectionMethod) *clientReconnecting {
	return &clientReconnecting{online: online{m}, m: m, method: method}
}

func (s *clientReconnecting) Name() string { return "ClientReconnecting" }

func (s *clientReconnecting) Enter() {
	s.attempt = 0
	go s.cycle(s.m.session.Ctx())
}

func (s *clientReconnecting) Exit() {
	// The in-flight cycle dies with the session context; tell observers
	// the reconnect session is over so progress indicators clear.
	max := s.m.config.MaxReconnectAttempts
	s.m.reconnects.Publish(ReconnectMessage{CurrentAttempt: max, MaxAttempt: max})
}

func sleepFor(ctx context.Context, clk clock.Clock, duration time.Duration) bool {
	if duration <= 0 {
		return ctx.Err() == nil
	}
	timer := clk.Timer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *clientReconnecting) cycle(ctx context.Context) {
	m := s.m

	s.m.mu.Lock()
	attempt := s.attempt
	s.m.mu.Unlock()

	// Nothing left in the budget: give up without consuming a cycle. A
	// zero budget never dials at all.
	if attempt >= m.config.MaxReconnectAttempts {
		m.locked(ctx, func() {
			s.decide("")
		})
		return
	}

	// Give a transient network blip time to resolve before hammering the
	// host again.
	if attempt > 0 {
		if !sleepFor(ctx, m.clock, m.config.ReconnectCooldown) {
			return
		}
	}

	// The transport cannot dial while the previous session is mid-teardown.
	if err := m.transport.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("transport shutdown before reconnect failed")
	}
	if ctx.Err() != nil {
		return
	}

	// Published under the mutex so a racing Exit cannot interleave its
	// clearing (max, max) message before this one.
	m.locked(ctx, func() {
		m.reconnects.Publish(ReconnectMessage{
			CurrentAttempt: attempt,
			MaxAttempt:     m.config.MaxReconnectAttempts,
		})
	})

	// The backing session service needs a moment to converge after a
	// disconnect, or the first attempt rejoins stale state.
	if attempt == 0 {
		if !sleepFor(ctx, m.clock, m.config.FirstAttemptDelay) {
			return
		}
	}

	m.mu.Lock()
	s.attempt++
	m.mu.Unlock()

	prepCtx, cancel := context.WithTimeout(ctx, m.config.PrepareTimeout)
	endpoint, shouldRetry, err := s.method.PrepareClientReconnection(prepCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Bool("shouldRetry", shouldRetry).Msg("reconnection preparation failed")
		m.locked(ctx, func() {
			if !shouldRetry {
				// The backend says the session is gone; burn the
				// remaining budget so the decision below gives up.
				s.attempt = m.config.MaxReconnectAttempts
			}
			s.decide("")
		})
		return
	}

	if err := m.transport.StartClient(endpoint, m.payloadBytes()); err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint.String()).Msg("reconnect dial failed")
		m.locked(ctx, func() {
			s.decide("")
		})
	}
}

// decide is the per-disconnect decision: retry, or give up and surface a
// terminal status. Runs with the manager's mutex held.
func (s *clientReconnecting) decide(reason string) {
	m := s.m

	status, decoded := DecodeReason(reason)

	if s.attempt < m.config.MaxReconnectAttempts {
		if decoded && isNonRetryable(status) {
			m.publishStatus(status)
			m.changeState(newOffline(m))
			return
		}

		go s.cycle(m.session.Ctx())
		return
	}

	final := StatusGenericDisconnect
	if decoded {
		final = status
	}
	m.publishStatus(final)
	m.changeState(newOffline(m))
}

func (s *clientReconnecting) onClientConnected(id ClientID) {
	m := s.m
	m.publishStatus(StatusSuccess)
	m.changeState(newClientConnected(m, s.method))
}

func (s *clientReconnecting) onClientDisconnect(id ClientID, reason string) {
	s.decide(reason)
}
