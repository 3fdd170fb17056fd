// Package docstate guards the document processing lifecycle. Review is only
// possible on a READY or REVIEWED document; every other move is rejected and
// leaves the state unchanged.
package docstate

import (
	"errors"
	"fmt"

	"trustlens-backend/models"
)

// ErrIllegalTransition is wrapped by every rejected transition
var ErrIllegalTransition = errors.New("illegal document state transition")

// IllegalTransitionError names the rejected move
type IllegalTransitionError struct {
	From models.DocumentStatus
	To   models.DocumentStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrIllegalTransition, e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

var transitions = map[models.DocumentStatus][]models.DocumentStatus{
	models.DocumentUploaded:   {models.DocumentProcessing},
	models.DocumentProcessing: {models.DocumentReady, models.DocumentError},
	models.DocumentReady:      {models.DocumentReviewing},
	models.DocumentReviewing:  {models.DocumentReviewed, models.DocumentReady},
	models.DocumentReviewed:   {models.DocumentReviewing},
	models.DocumentError:      {models.DocumentProcessing},
}

// Allowed reports whether from -> to is a legal move
func Allowed(from, to models.DocumentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns the new state
func Transition(from, to models.DocumentStatus) (models.DocumentStatus, error) {
	if !Allowed(from, to) {
		return from, &IllegalTransitionError{From: from, To: to}
	}
	return to, nil
}

// CanReview reports whether a review may start from state
func CanReview(state models.DocumentStatus) bool {
	return Allowed(state, models.DocumentReviewing)
}

// CanReingest reports whether the document may be processed again
func CanReingest(state models.DocumentStatus) bool {
	return state == models.DocumentError
}

// Next lists the states reachable from state
func Next(state models.DocumentStatus) []models.DocumentStatus {
	return append([]models.DocumentStatus(nil), transitions[state]...)
}
