package session

import (
	"time"

	"github.com/wlnet/metaclient/internal/protocol"
)

// DefaultInactivityWindow is how long the server may stay silent before
// the connection is declared dead.
const DefaultInactivityWindow = 60 * time.Second

// KeepaliveMonitor answers PING and detects a silently vanished server.
type KeepaliveMonitor struct {
	window       time.Duration
	lastReceived time.Time
	pings        uint64
}

// NewKeepaliveMonitor creates a monitor; a non-positive window selects the
// default.
func NewKeepaliveMonitor(window time.Duration) *KeepaliveMonitor {
	if window <= 0 {
		window = DefaultInactivityWindow
	}
	return &KeepaliveMonitor{window: window}
}

// Reset starts a fresh inactivity window, used when a transport attaches.
func (k *KeepaliveMonitor) Reset(now time.Time) {
	k.lastReceived = now
	k.pings = 0
}

// Received records that bytes arrived from the peer.
func (k *KeepaliveMonitor) Received(now time.Time) {
	if now.After(k.lastReceived) {
		k.lastReceived = now
	}
}

// OnPing returns the PONG frame to send.
func (k *KeepaliveMonitor) OnPing() ([]byte, error) {
	k.pings++
	return protocol.Encode(protocol.CmdPong)
}

// Expired reports whether the peer has been silent for the whole window.
func (k *KeepaliveMonitor) Expired(now time.Time) bool {
	return now.Sub(k.lastReceived) >= k.window
}

// LastReceived returns when bytes last arrived.
func (k *KeepaliveMonitor) LastReceived() time.Time { return k.lastReceived }

// Pings returns the number of PINGs answered since the last Reset.
func (k *KeepaliveMonitor) Pings() uint64 { return k.pings }

// Window returns the inactivity window.
func (k *KeepaliveMonitor) Window() time.Duration { return k.window }
