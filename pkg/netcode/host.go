package netcode

import (
	"context"

	"github.com/rs/zerolog/log"
)

// startingHost prepares the listen endpoint and asks the transport to
// start. The host's own client goes through ApprovalCheck before its
// player object exists, so approval here is unconditional.
type startingHost struct {
	phaseDefaults
	online
	m      *Manager
	method ConnectionMethod
}

func newStartingHost(m *Manager, method ConnectionMethod) *startingHost {
	return &startingHost{online: online{m}, m: m, method: method}
}

func (s *startingHost) Name() string { return "StartingHost" }

func (s *startingHost) Enter() {
	go s.start(s.m.session.Ctx())
}

func (s *startingHost) start(ctx context.Context) {
	m := s.m

	prepCtx, cancel := context.WithTimeout(ctx, m.config.PrepareTimeout)
	endpoint, err := s.method.PrepareHostConnection(prepCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("host connection preparation failed")
		s.fail(ctx)
		return
	}

	if err := m.transport.StartHost(endpoint, m.payloadBytes()); err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint.String()).Msg("failed to start host")
		s.fail(ctx)
	}
}

func (s *startingHost) fail(ctx context.Context) {
	m := s.m
	m.locked(ctx, func() {
		m.publishStatus(StatusStartHostFailed)
		m.changeState(newOffline(m))
	})
}

// The host always admits itself: no capacity or duplicate checks apply to
// the local client.
func (s *startingHost) approvalCheck(request ApprovalRequest, response *ApprovalResponse) {
	m := s.m

	if request.ClientID != m.transport.LocalClientID() {
		response.Approved = false
		return
	}

	payload, err := DecodePayload(request.Payload, m.config.MaxPayloadBytes)
	if err != nil {
		log.Error().Err(err).Msg("host's own connection payload is invalid")
		response.Approved = false
		return
	}

	m.sessions.Register(uint64(request.ClientID), payload.PlayerID, payload.PlayerName)
	response.Approved = true
	response.CreatePlayerObject = true
}

func (s *startingHost) onServerStarted() {
	m := s.m
	m.publishStatus(StatusSuccess)
	m.changeState(newHosting(m, s.method))
}

func (s *startingHost) onServerStopped() {
	m := s.m
	m.publishStatus(StatusStartHostFailed)
	m.changeState(newOffline(m))
}

// hosting runs the session: admission control for inbound peers, join and
// leave bookkeeping, and teardown of every client when the host stops.
type hosting struct {
	phaseDefaults
	online
	m      *Manager
	method ConnectionMethod
}

func newHosting(m *Manager, method ConnectionMethod) *hosting {
	return &hosting{online: online{m}, m: m, method: method}
}

func (s *hosting) Name() string { return "Hosting" }

func (s *hosting) Enter() {
	// The server-authoritative scene transition happens at a layer above;
	// this phase only keeps the backend session alive.
	beginTracking(s.m.session.Ctx(), s.method)
}

func (s *hosting) Exit() {
	// The hosting session is over; release every seat. Profiles persist.
	s.m.sessions.Clear()
}

// gate evaluates the admission rules in their fixed order: capacity before
// build compatibility before duplicate login.
func (s *hosting) gate(payload *ConnectionPayload) ConnectStatus {
	m := s.m

	if m.sessions.ConnectedCount() >= m.config.MaxConnectedPlayers {
		return StatusServerFull
	}
	if payload.IsDebug != m.config.DebugBuild {
		return StatusIncompatibleBuildType
	}
	if m.sessions.IsConnected(payload.PlayerID) {
		return StatusLoggedInAgain
	}
	return StatusSuccess
}

func (s *hosting) approvalCheck(request ApprovalRequest, response *ApprovalResponse) {
	m := s.m

	// Refuse oversized payloads before spending any CPU deserializing.
	if len(request.Payload) > m.config.MaxPayloadBytes {
		log.Warn().
			Uint64("client", uint64(request.ClientID)).
			Int("bytes", len(request.Payload)).
			Msg("rejecting oversized connection payload")
		response.Approved = false
		return
	}

	payload, err := DecodePayload(request.Payload, m.config.MaxPayloadBytes)
	if err != nil {
		log.Warn().Err(err).Uint64("client", uint64(request.ClientID)).Msg("rejecting malformed connection payload")
		response.Approved = false
		return
	}

	status := s.gate(payload)
	if status == StatusSuccess {
		m.sessions.Register(uint64(request.ClientID), payload.PlayerID, payload.PlayerName)
		response.Approved = true
		response.CreatePlayerObject = true

		log.Info().
			Uint64("client", uint64(request.ClientID)).
			Str("player", payload.PlayerID).
			Str("name", payload.PlayerName).
			Msg("connection approved")
		return
	}

	response.Approved = false
	response.Reason = status.EncodeReason()

	log.Info().
		Uint64("client", uint64(request.ClientID)).
		Str("player", payload.PlayerID).
		Str("status", status.String()).
		Msg("connection denied")

	// The denied peer already has its answer; roster cleanup is
	// best-effort and never escalated.
	if remover, ok := s.method.(RosterRemover); ok {
		playerID := payload.PlayerID
		ctx := m.session.Ctx()
		go func() {
			_ = remover.RemoveFromRoster(ctx, playerID)
		}()
	}
}

func (s *hosting) broadcastEvent(status ConnectStatus, playerName string) {
	m := s.m

	event := ConnectionEventMessage{Status: status, PlayerName: playerName}
	m.connectionEvents.Publish(event)

	data, err := event.Encode()
	if err != nil {
		log.Error().Err(err).Msg("failed to encode connection event")
		return
	}
	m.transport.Broadcast(data)
}

func (s *hosting) onClientConnected(id ClientID) {
	m := s.m

	record, ok := m.sessions.FindByClient(uint64(id))
	if !ok {
		// Admission pre-registers every approved client, so a missing
		// record is an invariant violation. Fatal for this connection
		// only.
		log.Error().Uint64("client", uint64(id)).Msg("connected client has no session record")
		m.transport.DisconnectClient(id, StatusGenericDisconnect.EncodeReason())
		return
	}

	log.Info().Str("name", record.Name).Int("seat", record.Seat).Msg("client connected")
	s.broadcastEvent(StatusSuccess, record.Name)
}

func (s *hosting) onClientDisconnect(id ClientID, reason string) {
	m := s.m

	if id == m.transport.LocalClientID() {
		return
	}

	record, ok := m.sessions.MarkDisconnected(uint64(id))
	if !ok {
		return
	}

	log.Info().Str("name", record.Name).Msg("client disconnected")
	s.broadcastEvent(StatusGenericDisconnect, record.Name)
}

func (s *hosting) requestShutdown() {
	m := s.m

	// Every other client learns this was a deliberate end of session, not
	// a fault worth reconnecting to.
	reason := StatusHostEndedSession.EncodeReason()
	localID := m.transport.LocalClientID()
	for _, record := range m.sessions.ConnectedClients() {
		if ClientID(record.ClientID) == localID {
			continue
		}
		m.transport.DisconnectClient(ClientID(record.ClientID), reason)
	}

	// The backend session record is dead too; removing it now keeps a
	// stale join code from resolving until the TTL runs out.
	if ender, ok := s.method.(SessionEnder); ok {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
			defer cancel()
			_ = ender.EndSession(ctx)
		}()
	}

	s.online.requestShutdown()
}

func (s *hosting) onServerStopped() {
	m := s.m
	m.publishStatus(StatusGenericDisconnect)
	m.changeState(newOffline(m))
}
