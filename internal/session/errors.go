package session

import (
	"errors"
	"fmt"
)

// Failures reported by the session. Match them with errors.Is; every
// *ProtocolError unwraps to exactly one of them.
var (
	ErrServerNotResponding = errors.New("server not responding")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrVersionMismatch     = errors.New("protocol version mismatch")
	ErrConnectionDead      = errors.New("no traffic from server within inactivity window")
	ErrConnectionLost      = errors.New("connection lost")
	ErrGarbageReceived     = errors.New("garbage received")
	ErrServerError         = errors.New("server reported an error")
	ErrServerDisconnect    = errors.New("disconnected by server")
)

// Caller errors. These never change the session state.
var (
	ErrInvalidState        = errors.New("operation not valid in current state")
	ErrAlreadyPending      = errors.New("request of this kind already pending")
	ErrDeficientPermission = errors.New("deficient permission")
	ErrNotLoggedIn         = errors.New("not logged in")
	ErrChallengeUsed       = errors.New("challenge already used")
)

// ErrorKind classifies a ProtocolError.
type ErrorKind int

const (
	KindServerError ErrorKind = iota
	KindAuthFailed
	KindVersionMismatch
	KindTimeout
	KindGarbage
	KindConnectionLost
	KindKeepaliveExpired
	KindServerDisconnect
)

var errorKinds = map[ErrorKind]struct {
	name     string
	sentinel error
}{
	KindServerError:      {"server_error", ErrServerError},
	KindAuthFailed:       {"auth_failed", ErrAuthFailed},
	KindVersionMismatch:  {"version_mismatch", ErrVersionMismatch},
	KindTimeout:          {"timeout", ErrServerNotResponding},
	KindGarbage:          {"garbage", ErrGarbageReceived},
	KindConnectionLost:   {"connection_lost", ErrConnectionLost},
	KindKeepaliveExpired: {"keepalive_expired", ErrConnectionDead},
	KindServerDisconnect: {"server_disconnect", ErrServerDisconnect},
}

func (k ErrorKind) String() string {
	if e, ok := errorKinds[k]; ok {
		return e.name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ProtocolError is a failure surfaced by the session: the kind, the command
// involved (if any), the server's reason text (if any) and an underlying
// cause (if any).
type ProtocolError struct {
	Kind    ErrorKind
	Command string
	Reason  string
	Err     error
}

func (e *ProtocolError) Error() string {
	msg := errorKinds[e.Kind].sentinel.Error()
	if e.Command != "" {
		msg += " (" + e.Command + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the kind's sentinel and the underlying cause.
func (e *ProtocolError) Unwrap() []error {
	errs := []error{errorKinds[e.Kind].sentinel}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
