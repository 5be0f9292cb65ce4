package tickets

import (
	"errors"
	"fmt"

	"github.com/ManuelReschke/TipQueue/app/models"
)

var ErrInvalidTransition = errors.New("invalid ticket state transition")

var transitions = map[models.TicketState][]models.TicketState{
	models.TicketStatePending:  {models.TicketStateHeld, models.TicketStateRejected},
	models.TicketStateHeld:     {models.TicketStateOpen, models.TicketStateRejected},
	models.TicketStateOpen:     {models.TicketStateApproved, models.TicketStateRejected},
	models.TicketStateApproved: {models.TicketStateClosed},
	models.TicketStateRejected: {models.TicketStateClosed},
}

// CanTransition reports whether a ticket may move from one state to another.
// Staying in the same state is always allowed.
func CanTransition(from, to models.TicketState) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns the new state or ErrInvalidTransition.
func Transition(from, to models.TicketState) (models.TicketState, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// IsVisibleToCreator reports whether the creator should see the ticket in the
// queue. Only funded, undecided tickets are shown.
func IsVisibleToCreator(state models.TicketState) bool {
	return state == models.TicketStateOpen
}

// IsFinal reports whether no further payment transition is possible.
func IsFinal(state models.TicketState) bool {
	return len(transitions[state]) == 0
}
