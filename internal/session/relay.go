package session

import (
	"fmt"
	"time"

	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/protocol"
)

// RelayRole says whether we host or join the negotiated game.
type RelayRole int

const (
	RoleHost RelayRole = iota
	RoleJoin
)

func (r RelayRole) String() string {
	if r == RoleHost {
		return "host"
	}
	return "join"
}

// RelayHandoff is everything the caller needs to continue on the relay.
// Challenge is only set for hosts and must be answered to the relay.
type RelayHandoff struct {
	Role      RelayRole              `json:"role"`
	Game      string                 `json:"game"`
	Challenge string                 `json:"challenge,omitempty"`
	Endpoint  protocol.RelayEndpoint `json:"endpoint"`
}

type negotiation struct {
	role RelayRole
	game string
}

func (n negotiation) request() RequestKind {
	if n.role == RoleHost {
		return RequestGameOpen
	}
	return RequestGameConnect
}

// HostGame asks the server to open a game and moves to NegotiatingHost.
func (s *Session) HostGame(name string, now time.Time) error {
	return s.negotiate(negotiation{role: RoleHost, game: name}, now)
}

// JoinGame asks the server to connect us to a game and moves to
// NegotiatingJoin.
func (s *Session) JoinGame(name string, now time.Time) error {
	return s.negotiate(negotiation{role: RoleJoin, game: name}, now)
}

func (s *Session) negotiate(n negotiation, now time.Time) error {
	if s.state != StateLoggedIn {
		return fmt.Errorf("%s game in state %s: %w", n.role, s.state, ErrInvalidState)
	}
	if n.game == "" {
		return fmt.Errorf("game name is required")
	}

	cmd, next := protocol.CmdGameOpen, StateNegotiatingHost
	if n.role == RoleJoin {
		cmd, next = protocol.CmdGameConnect, StateNegotiatingJoin
	}
	frame, err := protocol.Encode(cmd, n.game)
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", cmd, err)
	}
	if err := s.retry.Register(n.request(), cmd, frame, now); err != nil {
		return err
	}
	s.now = now
	s.negotiation = &n
	s.transition(next)
	s.log.Info().Str("game", n.game).Str("role", n.role.String()).Msg("relay negotiation started")
	return s.send(frame)
}

// handleRelayReply handles GAME_OPEN and GAME_CONNECT replies.
func (s *Session) handleRelayReply(pkt *protocol.Packet) {
	want := StateNegotiatingHost
	if pkt.Command == protocol.CmdGameConnect {
		want = StateNegotiatingJoin
	}
	if s.state != want || s.negotiation == nil {
		s.log.Warn().Str("cmd", pkt.Name).Str("state", s.state.String()).Msg("unexpected relay reply, ignoring")
		return
	}

	n := *s.negotiation
	handoff := RelayHandoff{Role: n.role, Game: n.game}
	if n.role == RoleHost {
		reply, err := protocol.ParseGameOpenReply(pkt)
		if err != nil {
			s.relayFailed(&ProtocolError{Kind: KindGarbage, Command: pkt.Name, Err: err})
			return
		}
		handoff.Challenge, handoff.Endpoint = reply.Challenge, reply.Endpoint
	} else {
		ep, err := protocol.ParseGameConnectReply(pkt)
		if err != nil {
			s.relayFailed(&ProtocolError{Kind: KindGarbage, Command: pkt.Name, Err: err})
			return
		}
		handoff.Endpoint = ep
	}

	s.retry.OnReply(n.request())
	s.negotiation = nil
	s.handoff = &handoff
	s.transition(StateHandedOffToRelay)
	s.log.Info().
		Str("game", handoff.Game).
		Str("role", handoff.Role.String()).
		Str("relay", handoff.Endpoint.PrimaryIP).
		Msg("handed off to relay")
	s.emit(events.EventRelayReady, events.RelayPayload{
		Role:      handoff.Role.String(),
		Game:      handoff.Game,
		Challenge: handoff.Challenge,
		Endpoint:  handoff.Endpoint,
	})
}

// relayFailed returns a failed negotiation to the lobby.
func (s *Session) relayFailed(perr *ProtocolError) {
	n := s.negotiation
	if n == nil {
		return
	}
	s.retry.OnReply(n.request())
	s.negotiation = nil
	s.transition(StateLoggedIn)
	s.log.Warn().Err(perr).Str("game", n.game).Msg("relay negotiation failed")
	s.emit(events.EventRelayFailed, events.RelayFailedPayload{
		Role:    n.role.String(),
		Game:    n.game,
		Err:     perr,
		Message: perr.Error(),
	})
}

// StartGame tells the server the hosted game has started.
func (s *Session) StartGame() error {
	if s.state != StateHandedOffToRelay || s.handoff == nil {
		return fmt.Errorf("start game in state %s: %w", s.state, ErrInvalidState)
	}
	if s.handoff.Role != RoleHost {
		return fmt.Errorf("only the host starts a game: %w", ErrDeficientPermission)
	}
	frame, err := protocol.Encode(protocol.CmdGameStart)
	if err != nil {
		return err
	}
	return s.send(frame)
}

// LeaveGame abandons the current game or negotiation and returns to the
// lobby.
func (s *Session) LeaveGame() error {
	switch s.state {
	case StateNegotiatingHost, StateNegotiatingJoin, StateHandedOffToRelay:
	default:
		return fmt.Errorf("leave game in state %s: %w", s.state, ErrInvalidState)
	}

	game := ""
	if s.negotiation != nil {
		game = s.negotiation.game
		s.retry.OnReply(s.negotiation.request())
		s.negotiation = nil
	}
	if s.handoff != nil {
		game = s.handoff.Game
		s.handoff = nil
	}

	frame, err := protocol.Encode(protocol.CmdGameDisconnect)
	if err != nil {
		return err
	}
	s.transition(StateLoggedIn)
	s.emit(events.EventGameLeft, events.GamePayload{Game: game})
	return s.send(frame)
}

// Handoff returns the result of the last completed relay negotiation while
// the session is handed off.
func (s *Session) Handoff() (RelayHandoff, bool) {
	if s.handoff == nil {
		return RelayHandoff{}, false
	}
	return *s.handoff, true
}
