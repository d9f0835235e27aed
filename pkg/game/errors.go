// Package game implements the command lifecycle: one submitted line runs
// through parse, authorize, resolve, snapshot, validate, apply, hooks,
// render, and commit, producing a transport-neutral CommandResult.
package game

import "errors"

// Failure classes surfaced by the lifecycle. Each maps to a player-facing
// message in Render; none of them escapes the lifecycle boundary.
var (
	// ErrDenied aborts before Resolve; the verb is outside the session's role
	// or mode.
	ErrDenied = errors.New("permission denied")
	// ErrNotFound surfaces at Validate when a noun matched nothing visible.
	ErrNotFound = errors.New("you don't see that here")
	// ErrAmbiguous surfaces at Validate when a noun matched several objects.
	ErrAmbiguous = errors.New("which one do you mean?")
	// ErrLocked is the movement precondition for a locked exit.
	ErrLocked = errors.New("it's locked")
	// ErrNoExit is the movement precondition for a missing exit.
	ErrNoExit = errors.New("you can't go that way")
	// ErrNotTakeable rejects take on fixed scenery.
	ErrNotTakeable = errors.New("you can't take that")
	// ErrDepleted rejects take on an exhausted counter stack.
	ErrDepleted = errors.New("there are none left")
	// ErrNotCarried rejects drop of an object not in inventory.
	ErrNotCarried = errors.New("you aren't carrying that")
	// ErrCommitFailed marks a durable write failure; in-memory effects were
	// discarded, world state is unchanged.
	ErrCommitFailed = errors.New("your action didn't stick; nothing has changed")
)
