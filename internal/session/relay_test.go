package session

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/protocol"
)

type RelaySuite struct {
	sessionSuite
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) TestHostGameHandsOffWithChallenge() {
	s.loginAnonymous("Alice", "")

	s.Require().NoError(s.sess.HostGame("MyGame", s.now))
	sent := s.sent()
	s.Require().Len(sent, 1)
	s.Equal(protocol.CmdGameOpen, sent[0].Command)
	s.Equal([]string{"MyGame"}, sent[0].Fields)
	s.Equal(StateNegotiatingHost, s.sess.State())

	reply := protocol.GameOpenReply{
		Challenge: "c0ffee",
		Endpoint:  protocol.RelayEndpoint{PrimaryIP: "203.0.113.7", SecondaryIP: "2001:db8::7"},
	}
	s.push(protocol.BuildGameOpenReply(reply))
	s.Require().NoError(s.tick())

	s.Equal(StateHandedOffToRelay, s.sess.State())
	handoff, ok := s.sess.Handoff()
	s.Require().True(ok)
	s.Equal(RelayHandoff{Role: RoleHost, Game: "MyGame", Challenge: "c0ffee", Endpoint: reply.Endpoint}, handoff)
	s.Zero(s.sess.PendingRequests())

	ev, ok := findEvent(s.sess.DrainEvents(), events.EventRelayReady)
	s.Require().True(ok)
	payload := ev.Payload.(events.RelayPayload)
	s.Equal("c0ffee", payload.Challenge)
	s.Equal(reply.Endpoint, payload.Endpoint)
}

func (s *RelaySuite) TestJoinGameHandsOffWithoutChallenge() {
	s.loginAnonymous("Bob", "")

	s.Require().NoError(s.sess.JoinGame("MyGame", s.now))
	s.Equal([]protocol.Command{protocol.CmdGameConnect}, s.sentCommands())
	s.Equal(StateNegotiatingJoin, s.sess.State())

	s.push(protocol.BuildGameConnectReply(protocol.RelayEndpoint{PrimaryIP: "203.0.113.7"}))
	s.Require().NoError(s.tick())

	handoff, ok := s.sess.Handoff()
	s.Require().True(ok)
	s.Equal(RoleJoin, handoff.Role)
	s.Empty(handoff.Challenge)
	s.False(handoff.Endpoint.HasSecondary())
	s.ErrorIs(s.sess.StartGame(), ErrDeficientPermission)
}

func (s *RelaySuite) TestNegotiationRequiresLobby() {
	s.ErrorIs(s.sess.HostGame("MyGame", s.now), ErrInvalidState)

	s.loginAnonymous("Alice", "")
	s.Error(s.sess.HostGame("", s.now))
	s.Require().NoError(s.sess.HostGame("MyGame", s.now))
	s.ErrorIs(s.sess.JoinGame("Other", s.now), ErrInvalidState)
}

func (s *RelaySuite) TestErrorReturnsToLobby() {
	s.loginAnonymous("Alice", "")
	s.Require().NoError(s.sess.HostGame("MyGame", s.now))
	s.push(protocol.BuildError(protocol.CmdGameOpen.String(), protocol.ReasonGameExists))

	s.NoError(s.tick())
	s.Equal(StateLoggedIn, s.sess.State())
	s.Zero(s.sess.PendingRequests())

	ev, ok := findEvent(s.sess.DrainEvents(), events.EventRelayFailed)
	s.Require().True(ok)
	s.Contains(ev.Payload.(events.RelayFailedPayload).Message, protocol.ReasonGameExists)

	s.NoError(s.sess.HostGame("MyGame2", s.now), "a new negotiation may start")
}

func (s *RelaySuite) TestMismatchedErrorStillFailsNegotiation() {
	s.loginAnonymous("Alice", "")
	s.Require().NoError(s.sess.JoinGame("MyGame", s.now))
	s.push(protocol.BuildError(protocol.CmdChat.String(), "whatever"))

	s.NoError(s.tick())
	s.Equal(StateLoggedIn, s.sess.State())
}

func (s *RelaySuite) TestNegotiationTimeoutDisconnects() {
	s.loginAnonymous("Alice", "")
	s.Require().NoError(s.sess.JoinGame("MyGame", s.now))

	var err error
	for i := 0; i < DefaultMaxRetries; i++ {
		s.advance(DefaultReplyTimeout)
		s.pushCmd(protocol.CmdPing)
		err = s.tick()
	}
	s.ErrorIs(err, ErrServerNotResponding)
	s.Equal(StateDisconnected, s.sess.State())
}

func (s *RelaySuite) TestStartAndLeaveGame() {
	s.loginAnonymous("Alice", "")
	s.ErrorIs(s.sess.StartGame(), ErrInvalidState)
	s.ErrorIs(s.sess.LeaveGame(), ErrInvalidState)

	s.Require().NoError(s.sess.HostGame("MyGame", s.now))
	s.push(protocol.BuildGameOpenReply(protocol.GameOpenReply{Challenge: "c", Endpoint: protocol.RelayEndpoint{PrimaryIP: "10.0.0.1"}}))
	s.Require().NoError(s.tick())
	s.sent()
	s.sess.DrainEvents()

	s.Require().NoError(s.sess.StartGame())
	s.Equal([]protocol.Command{protocol.CmdGameStart}, s.sentCommands())
	s.pushCmd(protocol.CmdGameStart)
	s.Require().NoError(s.tick())
	s.Equal(1, countEvents(s.sess.DrainEvents(), events.EventGameStarted))

	s.Require().NoError(s.sess.LeaveGame())
	s.Equal([]protocol.Command{protocol.CmdGameDisconnect}, s.sentCommands())
	s.Equal(StateLoggedIn, s.sess.State())
	_, ok := s.sess.Handoff()
	s.False(ok)
}

func (s *RelaySuite) TestLeaveDuringNegotiation() {
	s.loginAnonymous("Alice", "")
	s.Require().NoError(s.sess.HostGame("MyGame", s.now))

	s.Require().NoError(s.sess.LeaveGame())
	s.Equal(StateLoggedIn, s.sess.State())
	s.Zero(s.sess.PendingRequests())

	s.push(protocol.BuildGameOpenReply(protocol.GameOpenReply{Challenge: "late", Endpoint: protocol.RelayEndpoint{PrimaryIP: "10.0.0.1"}}))
	s.NoError(s.tick())
	s.Equal(StateLoggedIn, s.sess.State(), "late reply is ignored")
}
