package game

import "context"

// ReactPolicy tells a player what it may legally return from a tentative
// acknowledgment. A compliant player returns no reactions when CanReact is
// false and no interrupts when CanInterrupt is false; the engine validates
// and caps whatever comes back regardless.
type ReactPolicy struct {
	CanReact     bool
	CanInterrupt bool
}

// Player is the capability the engine calls into for each viewer of an
// event. Implementations live wherever they like (in-process, over a
// socket); the engine only sees this surface.
type Player interface {
	ID() string

	// AckTentative announces an event before its effects are resolved.
	// The returned reactions must satisfy the validation rules: each
	// reaction's Source is this player, its Blocks contains the event id,
	// and an Interrupt's target prefix is a prefix of the target speech.
	// May block while the player thinks.
	AckTentative(ctx context.Context, e Event, pol ReactPolicy) ([]Event, error)

	// AckFinalized announces a fully processed event. Notification only:
	// errors are logged by the engine, never propagated.
	AckFinalized(ctx context.Context, e Event) error
}
