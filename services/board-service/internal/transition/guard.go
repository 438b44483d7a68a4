// Package transition is the pure status-transition guard. It decides which
// column moves are legal and which timestamps a move sets, and never touches
// the store.
package transition

import (
	"fmt"

	"github.com/mt-karim/shopboard/services/board-service/internal/model"
)

// allowedEdges is the static transition table. Terminal states (completed,
// no_show, canceled) have no outgoing edges. Same-status moves are rejected
// so buggy clients resubmitting a board state surface immediately.
var allowedEdges = map[model.Status][]model.Status{
	model.StatusScheduled:  {model.StatusInProgress, model.StatusCanceled, model.StatusNoShow},
	model.StatusInProgress: {model.StatusReady, model.StatusCompleted},
	model.StatusReady:      {model.StatusCompleted},
}

// InvalidTransitionError carries both endpoints so the caller can render the
// rejection without another lookup.
type InvalidTransitionError struct {
	From model.Status
	To   model.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// Effects describes the timestamps a transition sets. CheckIn/CheckOut are
// write-once: the store only fills them when still null.
type Effects struct {
	SetCheckIn  bool
	SetCheckOut bool
}

func Allowed(from, to model.Status) bool {
	for _, t := range allowedEdges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Check returns nil for a legal move, or an *InvalidTransitionError.
func Check(from, to model.Status) error {
	if !Allowed(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// SideEffects returns the automatic timestamp rules for a legal transition.
// Only the target status matters today; the source is kept in the signature
// because the guard contract is defined over the edge.
func SideEffects(_, to model.Status) Effects {
	var e Effects
	if to == model.StatusInProgress {
		e.SetCheckIn = true
	}
	if to == model.StatusCompleted {
		e.SetCheckOut = true
	}
	return e
}
