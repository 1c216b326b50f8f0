package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/config"
	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/lobby"
	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/netcode"
	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/sessions"
	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/transport/ws"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DRAIN_TIMEOUT = time.Duration(5 * time.Second)

type peer struct {
	config  *config.Config
	manager *netcode.Manager
	name    string
}

// buildPeer assembles the full stack: configuration, the profile store,
// the lobby client, the websocket transport, and the connection manager.
func buildPeer(ctx context.Context, configs []string, name string) (*peer, error) {
	cfg, err := config.Process(configs)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := sessions.NewStore(cfg.Sessions.DBPath)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = cfg.Netcode.PlayerName
	}
	if name == "" {
		name = "kobold"
	}

	// The install id survives restarts when a session database is
	// configured, so the same profile and lobby identity come back.
	playerID, err := store.InstallID(uuid.NewString())
	if err != nil {
		log.Warn().Err(err).Msg("failed to load install identity")
	}
	if _, err := store.GetOrCreateProfile(playerID, name); err != nil {
		log.Warn().Err(err).Msg("failed to persist player profile")
	}

	transport := ws.New()
	if cfg.Transport.AcceptsPerSecond > 0 {
		transport.AcceptsPerSecond = cfg.Transport.AcceptsPerSecond
	}

	managerConfig := netcode.FromSettings(cfg.Netcode, playerID)
	managerConfig.HostEndpoint = netcode.Endpoint{
		Address: "0.0.0.0",
		Port:    cfg.Transport.Port,
	}

	manager := netcode.NewManager(
		ctx,
		managerConfig,
		transport,
		store,
		netcode.WithLobbyClient(lobby.NewClient(cfg.Lobby)),
	)
	manager.Start()

	return &peer{
		config:  cfg,
		manager: manager,
		name:    name,
	}, nil
}

// watch logs every published status, reconnect progress message, and
// session event until the context ends.
func (p *peer) watch(ctx context.Context) {
	statuses := p.manager.Statuses().Subscribe()
	defer statuses.Done()
	reconnects := p.manager.Reconnects().Subscribe()
	defer reconnects.Done()
	events := p.manager.ConnectionEvents().Subscribe()
	defer events.Done()

	for {
		select {
		case status := <-statuses.Recv():
			log.Info().
				Str("status", status.String()).
				Str("phase", p.manager.CurrentPhase()).
				Msg("connection status")
		case progress := <-reconnects.Recv():
			log.Info().
				Int("attempt", progress.CurrentAttempt).
				Int("max", progress.MaxAttempt).
				Msg("reconnecting")
		case event := <-events.Recv():
			log.Info().
				Str("player", event.PlayerName).
				Str("status", event.Status.String()).
				Msg("session event")
		case <-ctx.Done():
			return
		}
	}
}

// run drives the peer until an interrupt, then asks for a clean shutdown
// and waits for the manager to settle offline.
func (p *peer) run(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.watch(watchCtx)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)

	sig := <-sigs
	log.Info().Msgf("terminating: %v", sig)

	p.manager.RequestShutdown()

	deadline := time.After(DRAIN_TIMEOUT)
	for p.manager.CurrentPhase() != "Offline" {
		select {
		case <-deadline:
			return fmt.Errorf("shutdown timed out")
		case <-time.After(50 * time.Millisecond):
		}
	}

	return nil
}

func hostCommand(configs []string) error {
	ctx := context.Background()

	p, err := buildPeer(ctx, configs, CLI.Host.Name)
	if err != nil {
		return err
	}

	if CLI.Host.Direct {
		p.manager.StartHostIP(p.name, "0.0.0.0", p.config.Transport.Port)
	} else {
		p.manager.StartHostLobby(CLI.Host.Code, p.name)
	}

	return p.run(ctx)
}

func joinCommand(configs []string, target string) error {
	ctx := context.Background()

	p, err := buildPeer(ctx, configs, CLI.Join.Name)
	if err != nil {
		return err
	}

	if strings.Contains(target, ":") {
		address, portValue, err := net.SplitHostPort(target)
		if err != nil {
			return fmt.Errorf("invalid host address %s: %w", target, err)
		}
		port, err := strconv.Atoi(portValue)
		if err != nil {
			return fmt.Errorf("invalid port in %s: %w", target, err)
		}
		p.manager.StartClientIP(p.name, address, port)
	} else {
		p.manager.StartClientLobby(target, p.name)
	}

	return p.run(ctx)
}
