package game

// Stage of the game lifecycle.
type Stage string

const (
	StageWaiting Stage = "waiting"
	StageOngoing Stage = "ongoing"
	StageEnded   Stage = "ended"
)

// Config holds the two knobs the engine takes from its setup collaborator.
// Both use the same sentinel convention: -1 unlimited, 0 forbidden, n > 0
// a cap.
type Config struct {
	// MaxReactionsPerEvent caps reactions processed for a single
	// non-speech event.
	MaxReactionsPerEvent int

	// MaxSuccessiveInterrupts caps chained interruption depth under a
	// root speech.
	MaxSuccessiveInterrupts int

	// QueueSize bounds the event queue. <= 0 means unbounded.
	QueueSize int
}

func (c Config) Validate() error {
	if c.MaxReactionsPerEvent < -1 {
		return errConfig("max_reactions_per_event", c.MaxReactionsPerEvent)
	}
	if c.MaxSuccessiveInterrupts < -1 {
		return errConfig("max_successive_interrupts", c.MaxSuccessiveInterrupts)
	}
	return nil
}

type configError struct {
	field string
	value int
}

func errConfig(field string, value int) error { return &configError{field: field, value: value} }

func (e *configError) Error() string {
	return "game config: " + e.field + " must be >= -1"
}

// state is run-level mutable state owned exclusively by the engine.
type state struct {
	stage   Stage
	history []Event
}
