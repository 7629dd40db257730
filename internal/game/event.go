package game

// Kind discriminates the closed set of event kinds.
type Kind string

const (
	KindGameStart  Kind = "GAME_START"
	KindGameEnd    Kind = "GAME_END"
	KindSpeech     Kind = "SPEECH"
	KindInterrupt  Kind = "INTERRUPT"
	KindPlayerJoin Kind = "PLAYER_JOIN"
)

// Core carries the fields shared by every event kind.
//
// Blocks never changes once set. Requires only grows: the engine appends
// the id of every reaction it selects while processing the event.
type Core struct {
	// ID is unique and strictly increasing across the process, assigned
	// from an IDSource at construction. It doubles as the queue tie-break.
	ID int64

	// Blocks lists the ids of events this event is a reaction to.
	Blocks []int64

	// Requires lists the ids of reactions that must finish processing
	// before this event is considered finished.
	Requires []int64

	// Source is the originating actor: a player id, or the game's own id
	// for environmental events.
	Source string

	// Visible lists the player ids that can see this event.
	// nil means visible to all players; an empty non-nil list means
	// visible to no one.
	Visible []string
}

func (c *Core) EventCore() *Core { return c }

// Event is the closed polymorphic surface shared by all event kinds.
type Event interface {
	Kind() Kind
	EventCore() *Core
}

// GameStart marks the beginning of a run. No handler effect.
type GameStart struct {
	Core
}

func (*GameStart) Kind() Kind { return KindGameStart }

// GameEnd ends the run: its handler flips the game out of ONGOING.
type GameEnd struct {
	Core
}

func (*GameEnd) Kind() Kind { return KindGameEnd }

// Speech is in-game talk from a player to other players.
//
// Content is mutable in exactly one case: a selected Interrupt truncates
// it to the interrupt's target prefix.
type Speech struct {
	Core

	Audience []string
	Content  string
}

func (*Speech) Kind() Kind { return KindSpeech }

// Interrupt is a speech that cuts off another speech. TargetPrefix is the
// partial content of the target speech that was delivered before the
// interruption landed.
type Interrupt struct {
	Speech

	TargetPrefix string
}

func (*Interrupt) Kind() Kind { return KindInterrupt }

// PlayerJoin asks the engine to register a player mid-game. The player
// object itself is parked with the engine until the event is processed.
type PlayerJoin struct {
	Core

	PlayerID string
}

func (*PlayerJoin) Kind() Kind { return KindPlayerJoin }

func NewGameStart(ids *IDSource, source string) *GameStart {
	return &GameStart{Core: Core{ID: ids.Next(), Source: source}}
}

func NewGameEnd(ids *IDSource, source string) *GameEnd {
	return &GameEnd{Core: Core{ID: ids.Next(), Source: source}}
}

func NewSpeech(ids *IDSource, source string, audience []string, content string) *Speech {
	return &Speech{
		Core:     Core{ID: ids.Next(), Source: source},
		Audience: audience,
		Content:  content,
	}
}

func NewInterrupt(ids *IDSource, source string, audience []string, content, targetPrefix string) *Interrupt {
	return &Interrupt{
		Speech: Speech{
			Core:     Core{ID: ids.Next(), Source: source},
			Audience: audience,
			Content:  content,
		},
		TargetPrefix: targetPrefix,
	}
}

func NewPlayerJoin(ids *IDSource, source, playerID string) *PlayerJoin {
	return &PlayerJoin{Core: Core{ID: ids.Next(), Source: source}, PlayerID: playerID}
}

// React marks ev as a reaction to target. Returns ev for chaining.
func React(ev Event, target Event) Event {
	c := ev.EventCore()
	c.Blocks = append(c.Blocks, target.EventCore().ID)
	return ev
}

// isSpeechKind reports whether k is Speech or a subtype of it.
func isSpeechKind(k Kind) bool {
	return k == KindSpeech || k == KindInterrupt
}
