package netcode

import (
	"context"
	"fmt"

	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/lobby"

	"github.com/rs/zerolog/log"
)

// ConnectionMethod encapsulates how a transport connection is prepared
// before the engine is asked to connect: where a host listens, where a
// client dials, and how a reconnect re-resolves its target.
type ConnectionMethod interface {
	// PrepareHostConnection resolves the endpoint the host listens on and
	// performs any backend allocation (e.g. lobby registration).
	PrepareHostConnection(ctx context.Context) (Endpoint, error)

	// PrepareClientConnection resolves the endpoint a first-time client
	// connection dials.
	PrepareClientConnection(ctx context.Context) (Endpoint, error)

	// PrepareClientReconnection re-resolves the endpoint for one reconnect
	// attempt. shouldRetry false means further attempts are pointless (the
	// backend says the session is gone).
	PrepareClientReconnection(ctx context.Context) (endpoint Endpoint, shouldRetry bool, err error)
}

// SessionTracker is implemented by methods whose backend session needs
// keep-alive while the peer is connected or hosting.
type SessionTracker interface {
	BeginTracking(ctx context.Context)
}

// RosterRemover is implemented by methods that can evict a player id from
// the backend roster, used best-effort when admission denies a peer.
type RosterRemover interface {
	RemoveFromRoster(ctx context.Context, playerID string) error
}

// SessionEnder is implemented by methods that can tear down the backend
// session record when the host deliberately ends the session, rather than
// leaving it to expire.
type SessionEnder interface {
	EndSession(ctx context.Context) error
}

// DirectIP connects straight to a known address. Reconnection always
// retries: there is no backend to consult.
type DirectIP struct {
	endpoint Endpoint
}

func NewDirectIP(address string, port int) *DirectIP {
	return &DirectIP{endpoint: Endpoint{Address: address, Port: port}}
}

func (d *DirectIP) PrepareHostConnection(ctx context.Context) (Endpoint, error) {
	return d.endpoint, nil
}

func (d *DirectIP) PrepareClientConnection(ctx context.Context) (Endpoint, error) {
	return d.endpoint, nil
}

func (d *DirectIP) PrepareClientReconnection(ctx context.Context) (Endpoint, bool, error) {
	return d.endpoint, true, nil
}

// Relay resolves the target through a lobby join code.
type Relay struct {
	lobbies  *lobby.Client
	code     string
	playerID string

	// The endpoint this host listens on, registered with the lobby on
	// PrepareHostConnection.
	hostEndpoint Endpoint
}

func NewRelay(lobbies *lobby.Client, code string, playerID string, hostEndpoint Endpoint) *Relay {
	return &Relay{
		lobbies:      lobbies,
		code:         code,
		playerID:     playerID,
		hostEndpoint: hostEndpoint,
	}
}

func (r *Relay) Code() string {
	return r.code
}

func (r *Relay) PrepareHostConnection(ctx context.Context) (Endpoint, error) {
	created, err := r.lobbies.Create(
		ctx,
		r.code,
		r.playerID,
		r.hostEndpoint.Address,
		r.hostEndpoint.Port,
	)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to allocate lobby: %w", err)
	}

	r.code = created.Code
	return r.hostEndpoint, nil
}

func (r *Relay) PrepareClientConnection(ctx context.Context) (Endpoint, error) {
	joined, err := r.lobbies.Join(ctx, r.code, r.playerID)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to join lobby %s: %w", r.code, err)
	}

	return Endpoint{Address: joined.Address, Port: joined.Port}, nil
}

func (r *Relay) PrepareClientReconnection(ctx context.Context) (Endpoint, bool, error) {
	found, err := r.lobbies.Get(ctx, r.code)
	if err == lobby.ErrNotFound {
		// The lobby is gone; the session cannot come back.
		return Endpoint{}, false, err
	}
	if err != nil {
		return Endpoint{}, true, err
	}

	return Endpoint{Address: found.Address, Port: found.Port}, true, nil
}

func (r *Relay) EndSession(ctx context.Context) error {
	err := r.lobbies.Delete(ctx, r.code)
	if err != nil {
		log.Warn().Err(err).
			Str("code", r.code).
			Msg("failed to delete lobby")
	}
	return err
}

func (r *Relay) BeginTracking(ctx context.Context) {
	r.lobbies.KeepAlive(ctx, r.code)
}

func (r *Relay) RemoveFromRoster(ctx context.Context, playerID string) error {
	err := r.lobbies.RemovePlayer(ctx, r.code, playerID)
	if err != nil {
		log.Warn().Err(err).
			Str("code", r.code).
			Str("player", playerID).
			Msg("failed to remove player from lobby roster")
	}
	return err
}
