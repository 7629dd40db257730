package observerproto

import (
	"parley.ai/internal/game"
	"parley.ai/internal/protocol"
)

// Version is the observer protocol version (separate from the player WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update the kind filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Kinds filters the feed to these event kinds. Empty means everything.
	Kinds []string `json:"kinds,omitempty"`

	// Backlog asks for the already-processed history before live events.
	Backlog bool `json:"backlog,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string              `json:"protocol_version"`
	GameID          string              `json:"game_id"`
	Stage           string              `json:"stage"`
	Players         int                 `json:"players"`
	Events          int                 `json:"events"`
	GameParams      protocol.GameParams `json:"game_params"`
}

// Server -> Client. One frame per processed event, in completion order.
type EventMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Event           game.EventRecord `json:"event"`
}
