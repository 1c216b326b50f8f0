package lobby

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 32; i++ {
		code := GenerateCode()
		require.Len(t, code, 6)
		require.Equal(t, code, lobbyKey(code)[6:])
		seen[code] = struct{}{}
	}
	// Collisions over a handful of draws would mean the code space is
	// broken.
	require.Greater(t, len(seen), 1)
}

func TestLobbyKeyCaseInsensitive(t *testing.T) {
	require.Equal(t, lobbyKey("AB12CD"), lobbyKey("ab12cd"))
}

func TestHasPlayer(t *testing.T) {
	lobby := Lobby{
		Code:         "AB12CD",
		HostPlayerID: "host",
		Players:      []string{"host", "guest"},
	}

	require.True(t, lobby.HasPlayer("host"))
	require.True(t, lobby.HasPlayer("guest"))
	require.False(t, lobby.HasPlayer("stranger"))
}
