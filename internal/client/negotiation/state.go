package negotiation

import "fmt"

// State is the signaling state of one peer session.
type State int

const (
	StateNew State = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateStable
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateStable:
		return "stable"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event drives a State transition.
type Event int

const (
	EventLocalOffer Event = iota
	EventRemoteOffer
	EventLocalAnswer
	EventRemoteAnswer
	EventFail
	EventClose
)

func (e Event) String() string {
	return [...]string{"local-offer", "remote-offer", "local-answer", "remote-answer", "fail", "close"}[e]
}

// Leaving stable through either offer is a renegotiation on the same
// connection, in practice an ICE restart.
var transitions = map[State]map[Event]State{
	StateNew: {
		EventLocalOffer:  StateHaveLocalOffer,
		EventRemoteOffer: StateHaveRemoteOffer,
		EventFail:        StateFailed,
		EventClose:       StateClosed,
	},
	StateHaveLocalOffer: {
		EventRemoteAnswer: StateStable,
		EventFail:         StateFailed,
		EventClose:        StateClosed,
	},
	StateHaveRemoteOffer: {
		EventLocalAnswer: StateStable,
		EventFail:        StateFailed,
		EventClose:       StateClosed,
	},
	StateStable: {
		EventLocalOffer:  StateHaveLocalOffer,
		EventRemoteOffer: StateHaveRemoteOffer,
		EventFail:        StateFailed,
		EventClose:       StateClosed,
	},
	StateFailed: {
		EventClose: StateClosed,
	},
}

// Next returns the state reached from s on e, or ErrIllegalTransition.
func Next(s State, e Event) (State, error) {
	if to, ok := transitions[s][e]; ok {
		return to, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, e, s)
}

// Active sessions block a new offer to the same peer.
func (s State) Active() bool {
	return s != StateFailed && s != StateClosed
}
