package netcode

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	payload := ConnectionPayload{
		PlayerID:   "player-1",
		PlayerName: "Ari",
		IsDebug:    true,
	}

	data, err := payload.Encode()
	require.NoError(t, err)

	decoded, err := DecodePayload(data, DEFAULT_MAX_PAYLOAD_BYTES)
	require.NoError(t, err)
	require.Equal(t, payload, *decoded)
}

func TestPayloadCeiling(t *testing.T) {
	// Valid JSON that is still over the ceiling must be rejected before
	// any decoding happens.
	big := fmt.Sprintf(
		`{"playerId":"p","playerName":"%s","isDebug":false}`,
		strings.Repeat("x", DEFAULT_MAX_PAYLOAD_BYTES),
	)
	require.Greater(t, len(big), DEFAULT_MAX_PAYLOAD_BYTES)

	_, err := DecodePayload([]byte(big), DEFAULT_MAX_PAYLOAD_BYTES)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPayloadMalformed(t *testing.T) {
	_, err := DecodePayload([]byte("{"), DEFAULT_MAX_PAYLOAD_BYTES)
	require.Error(t, err)
}
