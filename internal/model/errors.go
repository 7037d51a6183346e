package model

import (
	"errors"
	"fmt"
)

// Domain error taxonomy. Validation and policy errors are caller errors and
// are never retried; transition errors reflect state-machine guards and may
// be retried after the caller observes updated state.
var (
	ErrInvalidDocument       = errors.New("invalid document")
	ErrInvalidCandidateID    = errors.New("unknown candidate id")
	ErrInvalidState          = errors.New("operation not allowed in current state")
	ErrAlreadyRejected       = errors.New("candidate is rejected; rejection is terminal")
	ErrRunInProgress         = errors.New("an extraction run is already in progress")
	ErrOriginPolicyViolation = errors.New("origin policy violation")
	ErrNotFound              = errors.New("not found")
	ErrNothingToCompare      = errors.New("both versions need confirmed requirements to diff")
)

// IllegalTransitionError reports a status transition outside the allowed
// table. The aggregate is left untouched when this is returned.
type IllegalTransitionError struct {
	From RfpStatus
	To   RfpStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// IsIllegalTransition reports whether err is an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var ite *IllegalTransitionError
	return errors.As(err, &ite)
}
