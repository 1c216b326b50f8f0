package netcode

import (
	"encoding/json"
	"fmt"
)

const DEFAULT_MAX_PAYLOAD_BYTES int = 1024

var ErrPayloadTooLarge = fmt.Errorf("connection payload exceeds size ceiling")

// ConnectionPayload is produced by a connecting peer and consumed during
// admission control on the accepting peer. PlayerID is stable across
// reconnects of the same install; PlayerName is display-only.
type ConnectionPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	IsDebug    bool   `json:"isDebug"`
}

func (p *ConnectionPayload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload enforces the raw byte ceiling before spending any CPU on
// parsing, then unmarshals the payload.
func DecodePayload(data []byte, maxBytes int) (*ConnectionPayload, error) {
	if maxBytes <= 0 {
		maxBytes = DEFAULT_MAX_PAYLOAD_BYTES
	}
	if len(data) > maxBytes {
		return nil, ErrPayloadTooLarge
	}

	var payload ConnectionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("malformed connection payload: %w", err)
	}

	return &payload, nil
}
