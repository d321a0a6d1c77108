package session

import "fmt"

// State is the protocol phase of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateLoggedIn
	StateNegotiatingHost
	StateNegotiatingJoin
	StateHandedOffToRelay
)

var stateNames = map[State]string{
	StateDisconnected:     "disconnected",
	StateConnecting:       "connecting",
	StateAuthenticating:   "authenticating",
	StateLoggedIn:         "logged_in",
	StateNegotiatingHost:  "negotiating_host",
	StateNegotiatingJoin:  "negotiating_join",
	StateHandedOffToRelay: "handed_off_to_relay",
}

// String returns the string representation of State.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalJSON serializes State as a JSON string (e.g. "logged_in").
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Established reports whether the server has accepted a login in this state.
func (s State) Established() bool {
	switch s {
	case StateLoggedIn, StateNegotiatingHost, StateNegotiatingJoin, StateHandedOffToRelay:
		return true
	}
	return false
}

// Connected reports whether a transport is attached in this state.
func (s State) Connected() bool {
	return s == StateAuthenticating || s.Established()
}

// transitions lists the legal successors of each state. Every state may
// fall back to Disconnected.
var transitions = map[State][]State{
	StateDisconnected:     {StateConnecting},
	StateConnecting:       {StateAuthenticating},
	StateAuthenticating:   {StateLoggedIn},
	StateLoggedIn:         {StateNegotiatingHost, StateNegotiatingJoin},
	StateNegotiatingHost:  {StateHandedOffToRelay, StateLoggedIn},
	StateNegotiatingJoin:  {StateHandedOffToRelay, StateLoggedIn},
	StateHandedOffToRelay: {StateLoggedIn},
}

func canTransition(from, to State) bool {
	if to == StateDisconnected {
		return from != StateDisconnected
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
