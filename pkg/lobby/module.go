package lobby

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/nopetrides/kobolds-netcode-go-sub001/pkg/config"

	"github.com/go-redis/redis/v9"
	"github.com/repeale/fp-go"
	"github.com/rs/zerolog/log"
)

const (
	DEFAULT_TTL = time.Duration(90 * time.Second)

	// How often a tracked lobby has its TTL refreshed
	HEARTBEAT_INTERVAL = time.Duration(15 * time.Second)
)

var ErrNotFound = errors.New("lobby not found")

// Lobby is the backend record a join code resolves to: where the host is
// listening and who is currently on the roster.
type Lobby struct {
	Code         string
	HostPlayerID string
	Address      string
	Port         int
	Players      []string
}

func (l *Lobby) HasPlayer(playerID string) bool {
	for _, id := range l.Players {
		if id == playerID {
			return true
		}
	}
	return false
}

type Client struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewClient(settings config.LobbySettings) *Client {
	ttl := DEFAULT_TTL
	if settings.TTLSeconds > 0 {
		ttl = time.Duration(settings.TTLSeconds) * time.Second
	}

	return &Client{
		redis: redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Address,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		}),
		ttl: ttl,
	}
}

func lobbyKey(code string) string {
	return fmt.Sprintf("lobby:%s", strings.ToUpper(code))
}

// GenerateCode produces a short join code players can read out loud.
func GenerateCode() string {
	number, _ := rand.Int(rand.Reader, big.NewInt(1000000))
	bytes := sha256.Sum256([]byte(fmt.Sprintf("%d", number)))
	return strings.ToUpper(fmt.Sprintf("%x", bytes)[:6])
}

func (c *Client) save(ctx context.Context, lobby *Lobby) error {
	data, err := json.Marshal(lobby)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, lobbyKey(lobby.Code), data, c.ttl).Err()
}

// Create registers a lobby under the given code. An empty code generates a
// fresh one. The host is the first roster entry.
func (c *Client) Create(ctx context.Context, code string, hostPlayerID string, address string, port int) (*Lobby, error) {
	if code == "" {
		code = GenerateCode()
	}
	code = strings.ToUpper(code)

	lobby := &Lobby{
		Code:         code,
		HostPlayerID: hostPlayerID,
		Address:      address,
		Port:         port,
		Players:      []string{hostPlayerID},
	}

	if err := c.save(ctx, lobby); err != nil {
		return nil, err
	}

	log.Info().Str("code", code).Msg("lobby created")
	return lobby, nil
}

func (c *Client) Get(ctx context.Context, code string) (*Lobby, error) {
	data, err := c.redis.Get(ctx, lobbyKey(code)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var lobby Lobby
	if err := json.Unmarshal(data, &lobby); err != nil {
		return nil, err
	}
	return &lobby, nil
}

// Join adds a player to the roster and returns the lobby so the caller can
// learn the host's endpoint.
func (c *Client) Join(ctx context.Context, code string, playerID string) (*Lobby, error) {
	lobby, err := c.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	if !lobby.HasPlayer(playerID) {
		lobby.Players = append(lobby.Players, playerID)
		if err := c.save(ctx, lobby); err != nil {
			return nil, err
		}
	}

	return lobby, nil
}

func (c *Client) RemovePlayer(ctx context.Context, code string, playerID string) error {
	lobby, err := c.Get(ctx, code)
	if err != nil {
		return err
	}

	lobby.Players = fp.Filter(func(id string) bool { return id != playerID })(lobby.Players)

	return c.save(ctx, lobby)
}

func (c *Client) Delete(ctx context.Context, code string) error {
	return c.redis.Del(ctx, lobbyKey(code)).Err()
}

func (c *Client) Heartbeat(ctx context.Context, code string) error {
	ok, err := c.redis.Expire(ctx, lobbyKey(code), c.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// KeepAlive refreshes the lobby's TTL until the context is cancelled. Run
// while hosting or while connected through this lobby.
func (c *Client) KeepAlive(ctx context.Context, code string) {
	tick := time.NewTicker(HEARTBEAT_INTERVAL)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if err := c.Heartbeat(ctx, code); err != nil {
				log.Warn().Err(err).Str("code", code).Msg("lobby heartbeat failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
