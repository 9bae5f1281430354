package escrow

import "errors"

var (
	// ErrInvalidMilestoneSet rejects escrow definitions whose milestone list
	// is empty, or contains a milestone with a non-positive amount or an
	// empty description.
	ErrInvalidMilestoneSet = errors.New("escrow: invalid milestone set")
	// ErrNotAuthorized marks a transition attempted by a caller that fails
	// the transition's party guard.
	ErrNotAuthorized = errors.New("escrow: caller not authorized")
	// ErrInvalidState marks an event that is not legal from the escrow's
	// current status.
	ErrInvalidState = errors.New("escrow: invalid state for transition")
	// ErrMilestoneIndexOutOfRange marks an out-of-bounds milestone index.
	ErrMilestoneIndexOutOfRange = errors.New("escrow: milestone index out of range")
	// ErrAlreadyFinalized rejects mutation of a milestone that is already
	// Paid or Disputed.
	ErrAlreadyFinalized = errors.New("escrow: milestone already finalized")
	// ErrInsufficientFunds marks an amount operation that would underflow.
	// The transition guards make this unreachable in practice, but every
	// debit still checks rather than assumes.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	// ErrNotFound marks an unknown escrow id.
	ErrNotFound = errors.New("escrow: not found")
)
