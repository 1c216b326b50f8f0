package sessions

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAssignsSeats(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	a := store.Register(1, "player-a", "Ari")
	b := store.Register(2, "player-b", "Bram")
	require.Equal(t, 0, a.Seat)
	require.Equal(t, 1, b.Seat)
	require.Equal(t, 2, store.ConnectedCount())

	record, ok := store.FindByClient(2)
	require.True(t, ok)
	require.Equal(t, "player-b", record.PlayerID)
	require.Equal(t, "Bram", record.Name)
}

func TestReturningPlayerKeepsSeat(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	store.Register(1, "player-a", "Ari")
	store.Register(2, "player-b", "Bram")

	record, ok := store.MarkDisconnected(2)
	require.True(t, ok)
	require.Equal(t, 1, record.Seat)
	require.False(t, store.IsConnected("player-b"))
	require.Equal(t, 1, store.ConnectedCount())

	// The seat is still held while disconnected, so a new player gets the
	// next one and the returning player resumes theirs.
	c := store.Register(3, "player-c", "Cass")
	require.Equal(t, 2, c.Seat)

	back := store.Register(4, "player-b", "Bram")
	require.Equal(t, 1, back.Seat)
	require.True(t, store.IsConnected("player-b"))

	// The old client id no longer resolves.
	_, ok = store.FindByClient(2)
	require.False(t, ok)
	record, ok = store.FindByClient(4)
	require.True(t, ok)
	require.Equal(t, "player-b", record.PlayerID)
}

func TestConnectedClients(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	store.Register(1, "player-a", "Ari")
	store.Register(2, "player-b", "Bram")
	store.MarkDisconnected(1)

	connected := store.ConnectedClients()
	require.Len(t, connected, 1)
	require.Equal(t, "player-b", connected[0].PlayerID)
}

func TestClear(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	store.Register(1, "player-a", "Ari")
	store.Clear()

	require.Equal(t, 0, store.ConnectedCount())
	_, ok := store.FindByClient(1)
	require.False(t, ok)

	// Seats start over after a clear.
	fresh := store.Register(2, "player-b", "Bram")
	require.Equal(t, 0, fresh.Seat)
}

func TestProfilePersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "players.db")

	store, err := NewStore(dbPath)
	require.NoError(t, err)

	profile, err := store.GetOrCreateProfile("player-a", "Ari")
	require.NoError(t, err)
	require.Equal(t, "Ari", profile.Name)

	// A second store over the same file sees the profile.
	reopened, err := NewStore(dbPath)
	require.NoError(t, err)

	loaded, err := reopened.GetOrCreateProfile("player-a", "")
	require.NoError(t, err)
	require.Equal(t, "Ari", loaded.Name)
}

func TestInstallIDSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "players.db")

	store, err := NewStore(dbPath)
	require.NoError(t, err)

	id, err := store.InstallID("first-id")
	require.NoError(t, err)
	require.Equal(t, "first-id", id)

	// A later run offers a fresh id but gets the stored one back.
	reopened, err := NewStore(dbPath)
	require.NoError(t, err)

	id, err = reopened.InstallID("second-id")
	require.NoError(t, err)
	require.Equal(t, "first-id", id)
}

func TestInstallIDWithoutDatabase(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	id, err := store.InstallID("fresh")
	require.NoError(t, err)
	require.Equal(t, "fresh", id)
}

func TestProfileRename(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "players.db")

	store, err := NewStore(dbPath)
	require.NoError(t, err)

	_, err = store.GetOrCreateProfile("player-a", "Ari")
	require.NoError(t, err)

	renamed, err := store.GetOrCreateProfile("player-a", "Aria")
	require.NoError(t, err)
	require.Equal(t, "Aria", renamed.Name)
}
