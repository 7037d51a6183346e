// Package status implements the authoritative RFP state machine. Every
// component that moves an RFP through the workflow goes through Transition;
// it is the single authorization gate.
package status

import (
	"github.com/sells-group/rfp-intake/internal/model"
)

// transitions is the complete table of allowed moves. Anything absent fails
// with IllegalTransitionError and leaves the aggregate untouched.
var transitions = map[model.RfpStatus][]model.RfpStatus{
	model.StatusEmpty:           {model.StatusOriginDefined, model.StatusUploaded},
	model.StatusOriginDefined:   {model.StatusUploaded},
	model.StatusUploaded:        {model.StatusParsing},
	model.StatusParsing:         {model.StatusParsed, model.StatusFailed},
	model.StatusParsed:          {model.StatusExtracting},
	model.StatusExtracting:      {model.StatusExtracted, model.StatusFailed},
	model.StatusExtracted:       {model.StatusReviewing, model.StatusNeedsReanalysis},
	model.StatusReviewing:       {model.StatusConfirmed, model.StatusNeedsReanalysis, model.StatusOnHold},
	model.StatusConfirmed:       {model.StatusNeedsReanalysis},
	model.StatusFailed:          {model.StatusParsing},
	model.StatusOnHold:          {model.StatusReviewing},
	model.StatusNeedsReanalysis: {model.StatusParsing},
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to model.RfpStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves the RFP to the target status, recording the prior status
// for audit. The RFP is only mutated when the move is legal.
func Transition(rfp *model.Rfp, to model.RfpStatus) error {
	if !CanTransition(rfp.Status, to) {
		return &model.IllegalTransitionError{From: rfp.Status, To: to}
	}
	rfp.PreviousStatus = rfp.Status
	rfp.Status = to
	return nil
}

// Require verifies that the RFP is currently in one of the given states.
// Components gate their operations on this before doing any work.
func Require(rfp *model.Rfp, states ...model.RfpStatus) error {
	for _, s := range states {
		if rfp.Status == s {
			return nil
		}
	}
	return model.ErrInvalidState
}
