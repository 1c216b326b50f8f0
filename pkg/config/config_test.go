package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcess(t *testing.T) {
	// Default config
	config, err := Process([]string{})
	require.NoError(t, err)
	require.Equal(t, 8, config.Netcode.MaxConnectedPlayers)
	require.Equal(t, 2, config.Netcode.MaxReconnectAttempts)
	require.Equal(t, 1024, config.Netcode.MaxPayloadBytes)

	dir := t.TempDir()

	// Single override
	{
		path := filepath.Join(dir, "config.yaml")
		err = os.WriteFile(path, []byte(`
netcode:
  maxConnectedPlayers: 4
`), 0644)
		require.NoError(t, err)
		config, err = Process([]string{path})
		require.NoError(t, err)
		require.Equal(t, 4, config.Netcode.MaxConnectedPlayers)
		// Untouched keys keep defaults
		require.Equal(t, 2, config.Netcode.MaxReconnectAttempts)
	}

	// Later files win
	{
		first := filepath.Join(dir, "first.yaml")
		err = os.WriteFile(first, []byte(`
transport:
  port: 1234
`), 0644)
		require.NoError(t, err)

		second := filepath.Join(dir, "second.yaml")
		err = os.WriteFile(second, []byte(`
transport:
  port: 5678
`), 0644)
		require.NoError(t, err)

		config, err = Process([]string{first, second})
		require.NoError(t, err)
		require.Equal(t, 5678, config.Transport.Port)
	}

	// Invalid values are rejected
	{
		path := filepath.Join(dir, "bad.yaml")
		err = os.WriteFile(path, []byte(`
netcode:
  maxConnectedPlayers: 0
`), 0644)
		require.NoError(t, err)
		_, err = Process([]string{path})
		require.Error(t, err)
	}

	// Missing file
	_, err = Process([]string{filepath.Join(dir, "nope.yaml")})
	require.Error(t, err)
}
