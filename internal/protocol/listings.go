package protocol

import (
	"fmt"
	"strings"
)

// Rights is the permission level the metaserver grants a client.
type Rights int

const (
	RightsUnregistered Rights = iota
	RightsRegistered
	RightsSuperuser
	RightsIrc
)

var rightsNames = [...]string{
	RightsUnregistered: "UNREGISTERED",
	RightsRegistered:   "REGISTERED",
	RightsSuperuser:    "SUPERUSER",
	RightsIrc:          "IRC",
}

func (r Rights) String() string {
	if r >= 0 && int(r) < len(rightsNames) {
		return rightsNames[r]
	}
	return fmt.Sprintf("Rights(%d)", int(r))
}

// ParseRights maps a wire rights name to Rights.
func ParseRights(s string) (Rights, error) {
	for i, name := range rightsNames {
		if strings.EqualFold(s, name) {
			return Rights(i), nil
		}
	}
	return RightsUnregistered, fmt.Errorf("unknown rights %q", s)
}

// GameStatus is the lobby state of an open game.
type GameStatus int

const (
	GameClosed GameStatus = iota
	GameSetup
	GameRunning
)

var gameStatusNames = [...]string{
	GameClosed:  "CLOSED",
	GameSetup:   "SETUP",
	GameRunning: "RUNNING",
}

func (s GameStatus) String() string {
	if s >= 0 && int(s) < len(gameStatusNames) {
		return gameStatusNames[s]
	}
	return fmt.Sprintf("GameStatus(%d)", int(s))
}

// ParseGameStatus maps a wire status name to GameStatus.
func ParseGameStatus(s string) (GameStatus, error) {
	for i, name := range gameStatusNames {
		if strings.EqualFold(s, name) {
			return GameStatus(i), nil
		}
	}
	return GameClosed, fmt.Errorf("unknown game status %q", s)
}

// GameListing is one entry of a GAMES reply.
type GameListing struct {
	Hostname string     `json:"hostname"`
	Version  string     `json:"version"`
	Status   GameStatus `json:"status"`
}

// ClientListing is one entry of a CLIENTS reply. Game is empty when the
// client is not in a game.
type ClientListing struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Game    string `json:"game,omitempty"`
	Rights  Rights `json:"rights"`
}

// InGame reports whether the client is currently part of a game.
func (c ClientListing) InGame() bool {
	return c.Game != ""
}

// RelayEndpoint is where a host or joining client connects after the
// metaserver hands the game off.
type RelayEndpoint struct {
	PrimaryIP   string `json:"primary_ip"`
	SecondaryIP string `json:"secondary_ip,omitempty"`
}

// HasSecondary reports whether a secondary address was supplied.
func (e RelayEndpoint) HasSecondary() bool {
	return e.SecondaryIP != ""
}

// Addresses returns the endpoint's addresses in preference order.
func (e RelayEndpoint) Addresses() []string {
	if e.HasSecondary() {
		return []string{e.PrimaryIP, e.SecondaryIP}
	}
	return []string{e.PrimaryIP}
}
