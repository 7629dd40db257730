package game

import (
	"errors"
	"fmt"
)

// ValidationCode classifies protocol violations in player reactions.
type ValidationCode string

const (
	// SourceMismatch: a reaction's source is not the viewer that returned it.
	SourceMismatch ValidationCode = "SOURCE_MISMATCH"
	// BlocksMismatch: a reaction does not list the triggering event in Blocks.
	BlocksMismatch ValidationCode = "BLOCKS_MISMATCH"
	// InvalidInterrupt: an interrupt targets a non-speech, or its prefix is
	// not a prefix of the target speech's content.
	InvalidInterrupt ValidationCode = "INVALID_INTERRUPT"
)

// ValidationError means a player returned a reaction that violates the
// protocol contract. It is fatal to the run: it indicates a broken Player
// implementation, not a transient condition.
type ValidationError struct {
	Code     ValidationCode
	Viewer   string
	EventID  int64
	Reaction int64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("reaction %d from %s to event %d: %s", e.Reaction, e.Viewer, e.EventID, e.Code)
}

// ErrUnknownEventKind: the engine was asked to handle an event kind with
// no handler. Fatal; every kind the engine enqueues must be handled.
var ErrUnknownEventKind = errors.New("unknown event kind")

// ErrGameEnded: the operation needs a game that has not ended.
var ErrGameEnded = errors.New("game already ended")

// ErrNotWaiting: Start was called on a game that already left WAITING.
var ErrNotWaiting = errors.New("game is not in the waiting stage")
