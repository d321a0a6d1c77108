package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/protocol"
)

func TestLobbyRegistryDebouncesPulls(t *testing.T) {
	r := NewLobbyRegistry()

	games, clients := r.TakePulls()
	assert.False(t, games, "no pull before anyone reads")
	assert.False(t, clients)

	r.OnGamesUpdate()
	r.OnGamesUpdate()
	r.Games()
	r.Games()

	games, clients = r.TakePulls()
	assert.True(t, games)
	assert.False(t, clients)

	r.Games()
	games, _ = r.TakePulls()
	assert.False(t, games, "pull already in flight")

	r.OnGames([]protocol.GameListing{{Hostname: "MyGame", Status: protocol.GameSetup}})
	assert.True(t, r.Changed())
	assert.False(t, r.Changed())
	assert.Len(t, r.Games(), 1)

	games, _ = r.TakePulls()
	assert.False(t, games, "fresh snapshot needs no pull")
}

func TestLobbyRegistrySnapshotIsNotARead(t *testing.T) {
	r := NewLobbyRegistry()
	r.OnGamesUpdate()
	r.OnClientsUpdate()

	games, clients := r.Snapshot()
	assert.Empty(t, games)
	assert.Empty(t, clients)
	assert.False(t, r.Pending())

	g, c := r.TakePulls()
	assert.False(t, g)
	assert.False(t, c)
}

func TestLobbyRegistryUpdateDuringPull(t *testing.T) {
	r := NewLobbyRegistry()
	r.Clients()
	_, clients := r.TakePulls()
	assert.True(t, clients)

	r.OnClientsUpdate()
	r.Clients()
	_, clients = r.TakePulls()
	assert.False(t, clients)

	r.OnClients(nil)
	r.Clients()
	_, clients = r.TakePulls()
	assert.True(t, clients, "update that raced the pull is fetched afterwards")
}

func TestLobbyRegistryReturnsCopies(t *testing.T) {
	r := NewLobbyRegistry()
	r.OnGames([]protocol.GameListing{{Hostname: "MyGame"}})

	got := r.Games()
	got[0].Hostname = "changed"
	assert.Equal(t, "MyGame", r.Games()[0].Hostname)
}

type LobbySuite struct {
	sessionSuite
}

func TestLobbySuite(t *testing.T) {
	suite.Run(t, new(LobbySuite))
}

func (s *LobbySuite) TestGamesUpdateTriggersSinglePull() {
	s.loginAnonymous("Alice", "")
	s.sess.CurrentGames()
	s.Require().NoError(s.tick())
	s.push(protocol.BuildGames(nil))
	s.Require().NoError(s.tick())
	s.tr.out = nil

	s.pushCmd(protocol.CmdGamesUpdate)
	s.Require().NoError(s.tick())
	s.Empty(s.sent(), "notification alone never pulls")

	s.sess.CurrentGames()
	s.Require().NoError(s.tick())
	s.Equal([]protocol.Command{protocol.CmdGames}, s.sentCommands())

	s.sess.CurrentGames()
	s.sess.CurrentGames()
	s.Require().NoError(s.tick())
	s.Empty(s.sent())

	games := []protocol.GameListing{{Hostname: "MyGame", Version: "build-23", Status: protocol.GameSetup}}
	s.push(protocol.BuildGames(games))
	s.Require().NoError(s.tick())

	s.True(s.sess.LobbyChanged())
	s.Equal(games, s.sess.CurrentGames())
	ev, ok := findEvent(s.sess.DrainEvents(), events.EventGamesChanged)
	s.Require().True(ok)
	s.Equal(1, ev.Payload.(events.LobbyPayload).Count)
}

func (s *LobbySuite) TestReadsNeverWrite() {
	s.loginAnonymous("Alice", "")
	s.pushCmd(protocol.CmdClientsUpdate)
	s.Require().NoError(s.tick())

	s.sess.CurrentClients()
	s.Empty(s.tr.out)

	s.Require().NoError(s.tick())
	s.Equal([]protocol.Command{protocol.CmdClients}, s.sentCommands())
}

func (s *LobbySuite) TestDisconnectClearsLobby() {
	s.loginAnonymous("Alice", "")
	s.sess.CurrentGames()
	s.Require().NoError(s.tick())
	s.push(protocol.BuildGames([]protocol.GameListing{{Hostname: "MyGame"}}))
	s.Require().NoError(s.tick())
	s.Len(s.sess.CurrentGames(), 1)

	s.sess.Disconnect("")
	s.Empty(s.sess.CurrentGames())
}

func (s *LobbySuite) TestMalformedListCountIsRejected() {
	tests := []struct {
		name   string
		cmd    protocol.Command
		read   func()
		fields []string
	}{
		{"games count wraps", protocol.CmdGames, func() { s.sess.CurrentGames() }, []string{"6148914691236517206", "a", "b"}},
		{"clients count wraps", protocol.CmdClients, func() { s.sess.CurrentClients() }, []string{"4611686018427387904"}},
		{"games count not a number", protocol.CmdGames, func() { s.sess.CurrentGames() }, []string{"lots", "a", "b", "SETUP"}},
		{"clients count not a number", protocol.CmdClients, func() { s.sess.CurrentClients() }, []string{"lots"}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			s.loginAnonymous("Alice", "")
			tt.read()
			s.Require().NoError(s.tick())
			s.Equal([]protocol.Command{tt.cmd}, s.sentCommands())
			s.True(s.sess.PendingLobbyPull())

			s.pushCmd(tt.cmd, tt.fields...)
			s.Require().NotPanics(func() { _ = s.tick() })

			s.Equal(StateLoggedIn, s.sess.State())
			s.False(s.sess.PendingLobbyPull(), "unusable reply aborts the pull")
			s.False(s.sess.LobbyChanged())
			games, clients := s.sess.LobbySnapshot()
			s.Empty(games)
			s.Empty(clients)
		})
	}
}

func (s *LobbySuite) TestSnapshotDoesNotSchedulePulls() {
	s.loginAnonymous("Alice", "")
	s.pushCmd(protocol.CmdGamesUpdate)
	s.pushCmd(protocol.CmdClientsUpdate)
	s.Require().NoError(s.tick())

	s.sess.LobbySnapshot()
	s.False(s.sess.PendingLobbyPull())
	s.Require().NoError(s.tick())
	s.Empty(s.sent())
}
