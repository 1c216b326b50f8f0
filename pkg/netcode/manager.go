package netcode

import (
	"context"
	"time"

	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/config"
	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/lobby"
	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/sessions"
	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/utils"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

type Config struct {
	MaxReconnectAttempts int
	MaxConnectedPlayers  int
	ReconnectCooldown    time.Duration
	FirstAttemptDelay    time.Duration
	PrepareTimeout       time.Duration
	MaxPayloadBytes      int

	PlayerID   string
	DebugBuild bool

	// Where this peer listens when hosting through a lobby.
	HostEndpoint Endpoint
}

func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 2,
		MaxConnectedPlayers:  8,
		ReconnectCooldown:    5 * time.Second,
		FirstAttemptDelay:    time.Second,
		PrepareTimeout:       10 * time.Second,
		MaxPayloadBytes:      DEFAULT_MAX_PAYLOAD_BYTES,
	}
}

// FromSettings translates file configuration into manager configuration.
func FromSettings(settings config.NetcodeSettings, playerID string) Config {
	cfg := DefaultConfig()
	if settings.MaxReconnectAttempts >= 0 {
		cfg.MaxReconnectAttempts = settings.MaxReconnectAttempts
	}
	if settings.MaxConnectedPlayers > 0 {
		cfg.MaxConnectedPlayers = settings.MaxConnectedPlayers
	}
	if settings.ReconnectCooldownSeconds > 0 {
		cfg.ReconnectCooldown = time.Duration(settings.ReconnectCooldownSeconds) * time.Second
	}
	if settings.FirstAttemptDelaySeconds > 0 {
		cfg.FirstAttemptDelay = time.Duration(settings.FirstAttemptDelaySeconds) * time.Second
	}
	if settings.PrepareTimeoutSeconds > 0 {
		cfg.PrepareTimeout = time.Duration(settings.PrepareTimeoutSeconds) * time.Second
	}
	if settings.MaxPayloadBytes > 0 {
		cfg.MaxPayloadBytes = settings.MaxPayloadBytes
	}
	cfg.PlayerID = playerID
	cfg.DebugBuild = settings.DebugBuild
	return cfg
}

// phase is the contract every lifecycle state implements. All methods run
// with the manager's mutex held; long work happens in goroutines scoped to
// the phase's session context.
type phase interface {
	Name() string
	Enter()
	Exit()

	startClientIP(name string, address string, port int)
	startClientLobby(code string, name string)
	startHostIP(name string, address string, port int)
	startHostLobby(code string, name string)
	requestShutdown()

	onClientConnected(id ClientID)
	onClientDisconnect(id ClientID, reason string)
	onServerStarted()
	onServerStopped()
	onTransportFailure()
	onServerMessage(data []byte)
	approvalCheck(request ApprovalRequest, response *ApprovalResponse)
}

// Manager owns the single active phase, forwards every transport callback
// and user command to it, and performs the Exit/Enter sequence when a phase
// requests a transition.
type Manager struct {
	mu deadlock.Mutex

	config    Config
	transport Transport
	sessions  *sessions.Store
	lobbies   *lobby.Client
	clock     clock.Clock

	ctx     context.Context
	session utils.Session
	current phase

	// Guards against a phase calling changeState from within its own
	// Enter or Exit.
	transitioning bool

	// Display name from the most recent user command, reused when the
	// reconnect engine rebuilds the connection payload.
	playerName string

	statuses         *utils.Topic[ConnectStatus]
	reconnects       *utils.Topic[ReconnectMessage]
	connectionEvents *utils.Topic[ConnectionEventMessage]
}

type Option func(*Manager)

// WithClock substitutes the timer source, letting tests drive the retry
// engine without real waiting.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLobbyClient enables the lobby-backed commands and the Relay
// connection method.
func WithLobbyClient(lobbies *lobby.Client) Option {
	return func(m *Manager) {
		m.lobbies = lobbies
	}
}

func NewManager(
	ctx context.Context,
	cfg Config,
	transport Transport,
	store *sessions.Store,
	options ...Option,
) *Manager {
	m := &Manager{
		config:           cfg,
		transport:        transport,
		sessions:         store,
		clock:            clock.New(),
		ctx:              ctx,
		statuses:         utils.NewTopic[ConnectStatus](),
		reconnects:       utils.NewTopic[ReconnectMessage](),
		connectionEvents: utils.NewTopic[ConnectionEventMessage](),
	}

	for _, option := range options {
		option(m)
	}

	return m
}

// Start registers the manager as the transport's handler and enters
// Offline.
func (m *Manager) Start() {
	m.transport.SetHandler(m)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = utils.NewSession(m.ctx)
	m.current = newOffline(m)
	m.transitioning = true
	m.current.Enter()
	m.transitioning = false
}

func (m *Manager) Statuses() *utils.Topic[ConnectStatus] {
	return m.statuses
}

func (m *Manager) Reconnects() *utils.Topic[ReconnectMessage] {
	return m.reconnects
}

func (m *Manager) ConnectionEvents() *utils.Topic[ConnectionEventMessage] {
	return m.connectionEvents
}

// CurrentPhase names the active lifecycle phase.
func (m *Manager) CurrentPhase() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.Name()
}

func (m *Manager) Logger() zerolog.Logger {
	return log.With().Str("player", m.config.PlayerID).Logger()
}

// changeState runs the Exit/Enter sequence. Must be called with the mutex
// held. The previous phase's session is cancelled between Exit and Enter,
// which stops any goroutine the old phase still has in flight.
func (m *Manager) changeState(next phase) {
	if m.transitioning {
		log.Error().
			Str("from", m.current.Name()).
			Str("to", next.Name()).
			Msg("nested state transition rejected")
		return
	}
	m.transitioning = true

	log.Info().
		Str("from", m.current.Name()).
		Str("to", next.Name()).
		Dur("after", time.Since(m.session.Started())).
		Msg("connection state changed")

	m.current.Exit()
	m.session.Cancel()
	m.session = utils.NewSession(m.ctx)
	m.current = next
	m.current.Enter()

	m.transitioning = false
}

func (m *Manager) publishStatus(status ConnectStatus) {
	log.Debug().Str("status", status.String()).Msg("publishing connect status")
	m.statuses.Publish(status)
}

// locked runs f under the mutex unless the phase that owned ctx has already
// exited. Goroutines spawned by a phase use this to re-enter the state
// machine without acting on behalf of a dead phase.
func (m *Manager) locked(ctx context.Context, f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	f()
}

func (m *Manager) hostEndpoint() Endpoint {
	return m.config.HostEndpoint
}

func (m *Manager) payloadBytes() []byte {
	payload := ConnectionPayload{
		PlayerID:   m.config.PlayerID,
		PlayerName: m.playerName,
		IsDebug:    m.config.DebugBuild,
	}
	data, err := payload.Encode()
	if err != nil {
		log.Error().Err(err).Msg("failed to encode connection payload")
		return nil
	}
	return data
}

// Commands from the UI/CLI layer. All fire-and-forget: outcomes surface on
// the published topics.

func (m *Manager) StartClientIP(name string, address string, port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.startClientIP(name, address, port)
}

func (m *Manager) StartClientLobby(code string, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.startClientLobby(code, name)
}

func (m *Manager) StartHostIP(name string, address string, port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.startHostIP(name, address, port)
}

func (m *Manager) StartHostLobby(code string, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.startHostLobby(code, name)
}

func (m *Manager) RequestShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.requestShutdown()
}

// Transport callbacks; the manager is the only Handler implementation.

func (m *Manager) OnClientConnected(id ClientID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.onClientConnected(id)
}

func (m *Manager) OnClientDisconnect(id ClientID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.onClientDisconnect(id, reason)
}

func (m *Manager) OnServerStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.onServerStarted()
}

func (m *Manager) OnServerStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.onServerStopped()
}

func (m *Manager) OnTransportFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.onTransportFailure()
}

func (m *Manager) OnServerMessage(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.onServerMessage(data)
}

func (m *Manager) ApprovalCheck(request ApprovalRequest, response *ApprovalResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.approvalCheck(request, response)
}
