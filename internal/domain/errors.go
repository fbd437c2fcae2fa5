package domain

import "errors"

var (
	// Structural invariant violations. These guard funds and are always
	// surfaced to the caller, never swallowed.
	ErrInvalidWindow          = errors.New("invalid pool time window")
	ErrAlreadyResolved        = errors.New("pool already resolved")
	ErrCommitmentMismatch     = errors.New("commitment mismatch")
	ErrOwnershipConflict      = errors.New("record not owned by caller environment")
	ErrChildrenStillDelegated = errors.New("pool has bets still delegated")
	ErrNotReady               = errors.New("operation not ready")
	ErrAlreadyCalculated      = errors.New("bet weight already calculated")
	ErrNothingToClaim         = errors.New("nothing to claim")
	ErrRefundNotEligible      = errors.New("bet not eligible for refund")
	ErrUndelegationTooEarly   = errors.New("undelegation before pool close")
	ErrAlreadyUpdated         = errors.New("bet prediction already updated")
	ErrAlreadyRevealed        = errors.New("bet already revealed")
	ErrNotRevealed            = errors.New("bet not revealed")

	// External collaborators and ambient failures.
	ErrAuthUnavailable   = errors.New("auth collaborator unavailable")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrPaused            = errors.New("protocol paused")
	ErrLockHeld          = errors.New("lock already held")
	ErrInsufficientFunds = errors.New("insufficient funds")
)
