package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/wlnet/metaclient/internal/protocol"
)

// Defaults for the retry controller.
const (
	DefaultReplyTimeout = 10 * time.Second
	DefaultMaxRetries   = 3
)

// RequestKind names a request type that expects a reply. At most one
// request per kind is outstanding.
type RequestKind int

const (
	RequestLogin RequestKind = iota
	RequestCheckPwd
	RequestGameOpen
	RequestGameConnect
)

func (k RequestKind) String() string {
	switch k {
	case RequestLogin:
		return "login"
	case RequestCheckPwd:
		return "check_pwd"
	case RequestGameOpen:
		return "game_open"
	case RequestGameConnect:
		return "game_connect"
	default:
		return fmt.Sprintf("request(%d)", int(k))
	}
}

// PendingRequest is a request awaiting its reply. Command is the last
// command sent for it; Frame is what gets re-sent on timeout.
type PendingRequest struct {
	Kind     RequestKind
	Command  protocol.Command
	Frame    []byte
	SentAt   time.Time
	Attempts int

	seq uint64
}

// RetryController tracks outstanding requests and decides when they are
// re-sent or given up. It performs no I/O.
type RetryController struct {
	timeout    time.Duration
	maxRetries int
	pending    map[RequestKind]*PendingRequest
	seq        uint64
}

// NewRetryController creates a controller. Non-positive arguments select
// the defaults.
func NewRetryController(timeout time.Duration, maxRetries int) *RetryController {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RetryController{
		timeout:    timeout,
		maxRetries: maxRetries,
		pending:    make(map[RequestKind]*PendingRequest),
	}
}

// MaxRetries returns the attempt limit, first send included.
func (rc *RetryController) MaxRetries() int { return rc.maxRetries }

// Timeout returns the per-attempt reply timeout.
func (rc *RetryController) Timeout() time.Duration { return rc.timeout }

// Register records a request that was just sent as its first attempt.
func (rc *RetryController) Register(kind RequestKind, cmd protocol.Command, frame []byte, now time.Time) error {
	if _, ok := rc.pending[kind]; ok {
		return fmt.Errorf("%s: %w", kind, ErrAlreadyPending)
	}
	rc.seq++
	rc.pending[kind] = &PendingRequest{
		Kind:     kind,
		Command:  cmd,
		Frame:    frame,
		SentAt:   now,
		Attempts: 1,
		seq:      rc.seq,
	}
	return nil
}

// OnReply resolves the request of the given kind. It reports whether one
// was outstanding.
func (rc *RetryController) OnReply(kind RequestKind) bool {
	if _, ok := rc.pending[kind]; !ok {
		return false
	}
	delete(rc.pending, kind)
	return true
}

// Pending returns a copy of the outstanding request of the given kind.
func (rc *RetryController) Pending(kind RequestKind) (PendingRequest, bool) {
	p, ok := rc.pending[kind]
	if !ok {
		return PendingRequest{}, false
	}
	return *p, true
}

// MostRecent returns the most recently registered outstanding request.
func (rc *RetryController) MostRecent() (PendingRequest, bool) {
	var latest *PendingRequest
	for _, p := range rc.pending {
		if latest == nil || p.seq > latest.seq {
			latest = p
		}
	}
	if latest == nil {
		return PendingRequest{}, false
	}
	return *latest, true
}

// Len returns the number of outstanding requests.
func (rc *RetryController) Len() int { return len(rc.pending) }

// Clear drops every outstanding request.
func (rc *RetryController) Clear() {
	clear(rc.pending)
}

// Tick returns the requests whose reply is overdue: those still allowed
// another attempt (already counted and re-stamped, ready to re-send) and
// those that exhausted MaxRetries (removed). Both lists are in
// registration order.
func (rc *RetryController) Tick(now time.Time) (resend []PendingRequest, failed []PendingRequest) {
	overdue := make([]*PendingRequest, 0, len(rc.pending))
	for _, p := range rc.pending {
		if now.Sub(p.SentAt) >= rc.timeout {
			overdue = append(overdue, p)
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].seq < overdue[j].seq })

	for _, p := range overdue {
		if p.Attempts < rc.maxRetries {
			p.Attempts++
			p.SentAt = now
			resend = append(resend, *p)
			continue
		}
		delete(rc.pending, p.Kind)
		failed = append(failed, *p)
	}
	return resend, failed
}
