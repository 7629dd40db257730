package protocol

// HELLO (player -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerName      string `json:"player_name"`
}

// WELCOME (server -> player)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	PlayerID        string     `json:"player_id"`
	GameID          string     `json:"game_id"`
	GameParams      GameParams `json:"game_params"`
}

type GameParams struct {
	MaxReactionsPerEvent    int `json:"max_reactions_per_event"`
	MaxSuccessiveInterrupts int `json:"max_successive_interrupts"`
}

// EVENT (server -> player): an event announcement. Tentative announcements
// carry the react policy and expect a REACT reply; final announcements are
// one-way.
type EventMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Phase           string       `json:"phase"`
	Event           EventPayload `json:"event"`
	Policy          *ReactPolicy `json:"policy,omitempty"`
}

type EventPayload struct {
	ID           int64    `json:"id"`
	Kind         string   `json:"kind"`
	Source       string   `json:"source"`
	Blocks       []int64  `json:"blocks,omitempty"`
	Requires     []int64  `json:"requires,omitempty"`
	Audience     []string `json:"audience,omitempty"`
	Content      string   `json:"content,omitempty"`
	TargetPrefix string   `json:"target_prefix,omitempty"`
}

type ReactPolicy struct {
	CanReact     bool `json:"can_react"`
	CanInterrupt bool `json:"can_interrupt"`
}

// REACT (player -> server): the reply to a tentative EVENT. Reactions are
// specs, not full events — the server assigns ids and sets source/blocks,
// so a client cannot forge either.
type ReactMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	AckFor          int64          `json:"ack_for"`
	Reactions       []ReactionSpec `json:"reactions,omitempty"`
}

type ReactionSpec struct {
	Kind         string   `json:"kind"` // SPEECH or INTERRUPT
	Audience     []string `json:"audience,omitempty"`
	Content      string   `json:"content"`
	TargetPrefix string   `json:"target_prefix,omitempty"`
}
