package workflow

import (
	"errors"

	"github.com/technosupport/ts-monitor/internal/data"
)

var (
	// ErrStaleState means the requested transition is not legal from
	// the event's current status. Usually a second operator got there
	// first; the client should refetch and reconcile.
	ErrStaleState = errors.New("transition not allowed from current state")

	// ErrReasonRequired is returned for escalate/resolve without a reason.
	ErrReasonRequired = errors.New("reason required for this transition")
)

// Operator actions on the escalation state machine.
type Action string

const (
	ActionAcknowledge Action = "acknowledge"
	ActionHold        Action = "hold"
	ActionResume      Action = "resume"
	ActionEscalate    Action = "escalate"
	ActionResolve     Action = "resolve"
)

var transitions = map[data.EventStatus]map[Action]data.EventStatus{
	data.StatusNew: {
		ActionAcknowledge: data.StatusAcknowledged,
		ActionResolve:     data.StatusResolved,
	},
	data.StatusAcknowledged: {
		ActionHold:     data.StatusOnHold,
		ActionEscalate: data.StatusEscalated,
		ActionResolve:  data.StatusResolved,
	},
	data.StatusOnHold: {
		ActionResume:  data.StatusAcknowledged,
		ActionResolve: data.StatusResolved,
	},
	data.StatusEscalated: {
		ActionResume:  data.StatusAcknowledged,
		ActionResolve: data.StatusResolved,
	},
	// resolved is terminal
}

// Transition computes the next status for an action, enforcing the
// reason requirement on escalate and resolve.
func Transition(current data.EventStatus, action Action, reason string) (data.EventStatus, error) {
	next, ok := transitions[current][action]
	if !ok {
		return "", ErrStaleState
	}
	if (action == ActionEscalate || action == ActionResolve) && reason == "" {
		return "", ErrReasonRequired
	}
	return next, nil
}
