package session

import (
	"slices"

	"github.com/wlnet/metaclient/internal/protocol"
)

// lobbyList is the pull discipline shared by the games and clients lists.
//
//	stale:    the server said the list changed, or we never had one
//	wanted:   a reader saw a stale list, a pull should go out
//	inFlight: a pull went out and its reply has not arrived
type lobbyList struct {
	stale    bool
	wanted   bool
	inFlight bool
}

func (l *lobbyList) read() {
	if l.stale && !l.inFlight {
		l.wanted = true
	}
}

func (l *lobbyList) takePull() bool {
	if !l.wanted || l.inFlight {
		return false
	}
	l.wanted = false
	l.stale = false
	l.inFlight = true
	return true
}

func (l *lobbyList) replied() {
	l.inFlight = false
}

// LobbyRegistry caches the last GAMES and CLIENTS snapshots. Update
// notifications only mark a list stale; the pull is issued once, the next
// time someone reads the list.
type LobbyRegistry struct {
	games   []protocol.GameListing
	clients []protocol.ClientListing

	gamesList   lobbyList
	clientsList lobbyList

	changed bool
}

// NewLobbyRegistry returns an empty registry whose lists are stale.
func NewLobbyRegistry() *LobbyRegistry {
	r := &LobbyRegistry{}
	r.Reset()
	return r
}

// Reset drops both snapshots and any pull state.
func (r *LobbyRegistry) Reset() {
	r.games = nil
	r.clients = nil
	r.gamesList = lobbyList{stale: true}
	r.clientsList = lobbyList{stale: true}
	r.changed = false
}

// Pending reports whether a pull is scheduled or awaiting its reply.
func (r *LobbyRegistry) Pending() bool {
	return r.gamesList.wanted || r.gamesList.inFlight ||
		r.clientsList.wanted || r.clientsList.inFlight
}

// OnGamesUpdate handles GAMES_UPDATE.
func (r *LobbyRegistry) OnGamesUpdate() { r.gamesList.stale = true }

// OnClientsUpdate handles CLIENTS_UPDATE.
func (r *LobbyRegistry) OnClientsUpdate() { r.clientsList.stale = true }

// OnGames replaces the games snapshot.
func (r *LobbyRegistry) OnGames(games []protocol.GameListing) {
	r.games = games
	r.gamesList.replied()
	r.changed = true
}

// OnClients replaces the clients snapshot.
func (r *LobbyRegistry) OnClients(clients []protocol.ClientListing) {
	r.clients = clients
	r.clientsList.replied()
	r.changed = true
}

// AbortGamesPull forgets an in-flight GAMES pull whose reply was unusable.
func (r *LobbyRegistry) AbortGamesPull() {
	r.gamesList.replied()
	r.gamesList.stale = true
}

// AbortClientsPull forgets an in-flight CLIENTS pull whose reply was
// unusable.
func (r *LobbyRegistry) AbortClientsPull() {
	r.clientsList.replied()
	r.clientsList.stale = true
}

// Games returns a copy of the games snapshot, scheduling a pull if it is
// stale.
func (r *LobbyRegistry) Games() []protocol.GameListing {
	r.gamesList.read()
	return slices.Clone(r.games)
}

// Clients returns a copy of the clients snapshot, scheduling a pull if it
// is stale.
func (r *LobbyRegistry) Clients() []protocol.ClientListing {
	r.clientsList.read()
	return slices.Clone(r.clients)
}

// Snapshot returns copies of both lists without counting as a read, so it
// never schedules a pull.
func (r *LobbyRegistry) Snapshot() ([]protocol.GameListing, []protocol.ClientListing) {
	return slices.Clone(r.games), slices.Clone(r.clients)
}

// TakePulls reports which pulls should be sent now and marks them in
// flight.
func (r *LobbyRegistry) TakePulls() (games, clients bool) {
	return r.gamesList.takePull(), r.clientsList.takePull()
}

// Changed reports whether a snapshot was replaced since the last call.
func (r *LobbyRegistry) Changed() bool {
	c := r.changed
	r.changed = false
	return c
}
