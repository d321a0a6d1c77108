// Package events defines the events a metaserver session reports to the
// embedding application, and the bus that fans them out.
package events

import (
	"time"

	"github.com/wlnet/metaclient/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventStateChanged EventType = "state_changed"
	EventLoggedIn     EventType = "logged_in"
	EventLoginFailed  EventType = "login_failed"
	EventDisconnected EventType = "disconnected"
	EventReconnectID  EventType = "reconnect_uuid"

	// Lobby events
	EventChat           EventType = "chat"
	EventMotd           EventType = "motd"
	EventAnnouncement   EventType = "announcement"
	EventServerTime     EventType = "server_time"
	EventGamesChanged   EventType = "games_changed"
	EventClientsChanged EventType = "clients_changed"

	// Relay negotiation events
	EventRelayReady  EventType = "relay_ready"
	EventRelayFailed EventType = "relay_failed"
	EventGameStarted EventType = "game_started"
	EventGameLeft    EventType = "game_left"

	// Problems that did not end the session
	EventProtocolError EventType = "protocol_error"

	// System events
	EventShutdown EventType = "shutdown"
)

// AllTypes returns every event type a session can emit.
func AllTypes() []EventType {
	return []EventType{
		EventStateChanged, EventLoggedIn, EventLoginFailed, EventDisconnected, EventReconnectID,
		EventChat, EventMotd, EventAnnouncement, EventServerTime, EventGamesChanged, EventClientsChanged,
		EventRelayReady, EventRelayFailed, EventGameStarted, EventGameLeft,
		EventProtocolError,
	}
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType   `json:"type"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// StateChangedPayload is emitted on every protocol state transition.
type StateChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// LoggedInPayload is emitted when the server accepts a login.
type LoggedInPayload struct {
	Requested string          `json:"requested"`
	Nickname  string          `json:"nickname"`
	Rights    protocol.Rights `json:"rights"`
	CheckOnly bool            `json:"check_only"`
}

// ErrorPayload carries a failure. Message duplicates Err for JSON consumers.
type ErrorPayload struct {
	Err     error  `json:"-"`
	Message string `json:"message"`
}

// NewErrorPayload wraps err.
func NewErrorPayload(err error) ErrorPayload {
	p := ErrorPayload{Err: err}
	if err != nil {
		p.Message = err.Error()
	}
	return p
}

// DisconnectedPayload is emitted when a session that had a transport ends.
// Err is nil for a caller-requested disconnect.
type DisconnectedPayload struct {
	Reason  string `json:"reason"`
	Err     error  `json:"-"`
	Message string `json:"message,omitempty"`
}

// ReconnectIDPayload carries a reconnect UUID the application should persist.
type ReconnectIDPayload struct {
	Nickname string `json:"nickname"`
	UUID     string `json:"uuid"`
}

// TextPayload carries MOTD and ANNOUNCEMENT text.
type TextPayload struct {
	Text string `json:"text"`
}

// ChatPayload carries an incoming chat line.
type ChatPayload struct {
	protocol.ChatMessage
}

// ServerTimePayload carries the server clock and its offset from ours.
type ServerTimePayload struct {
	ServerTime time.Time     `json:"server_time"`
	Offset     time.Duration `json:"offset"`
}

// LobbyPayload is emitted when a lobby snapshot was replaced.
type LobbyPayload struct {
	Count int `json:"count"`
}

// RelayPayload describes a completed relay negotiation. Challenge is only
// set for hosts.
type RelayPayload struct {
	Role      string                 `json:"role"`
	Game      string                 `json:"game"`
	Challenge string                 `json:"challenge,omitempty"`
	Endpoint  protocol.RelayEndpoint `json:"endpoint"`
}

// RelayFailedPayload describes a failed relay negotiation.
type RelayFailedPayload struct {
	Role    string `json:"role"`
	Game    string `json:"game"`
	Err     error  `json:"-"`
	Message string `json:"message"`
}

// GamePayload names the game a GAME_START or GAME_DISCONNECT refers to.
type GamePayload struct {
	Game string `json:"game"`
}
