package session

import (
	"fmt"
	"time"

	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/protocol"
)

// dispatch routes one decoded packet. Every command has a case; commands
// that make no sense for a client are explicit no-ops.
func (s *Session) dispatch(pkt *protocol.Packet) error {
	switch pkt.Command {
	case protocol.CmdPing:
		s.handlePing()
	case protocol.CmdLogin, protocol.CmdPwdOK:
		s.handleAuth(pkt)
	case protocol.CmdPwdChallenge:
		s.handleChallenge(pkt)
	case protocol.CmdError:
		s.handleError(pkt)
	case protocol.CmdDisconnect:
		s.fail(&ProtocolError{Kind: KindServerDisconnect, Command: pkt.Name, Reason: protocol.ParseText(pkt)})
	case protocol.CmdTime, protocol.CmdMotd, protocol.CmdAnnouncement, protocol.CmdChat,
		protocol.CmdGamesUpdate, protocol.CmdGames, protocol.CmdClientsUpdate, protocol.CmdClients:
		if !s.state.Established() {
			s.ignore(pkt, "not logged in yet")
			return nil
		}
		s.handleLobby(pkt)
	case protocol.CmdGameOpen, protocol.CmdGameConnect:
		s.handleRelayReply(pkt)
	case protocol.CmdGameStart:
		s.handleGameStart(pkt)
	case protocol.CmdCmd, protocol.CmdCheckPwd, protocol.CmdPong, protocol.CmdGameDisconnect:
		s.ignore(pkt, "client-only command")
	case protocol.CmdUnknown:
		s.garbage(pkt.Name, nil)
	default:
		return fmt.Errorf("no handler for %s", pkt.Command)
	}
	return nil
}

func (s *Session) ignore(pkt *protocol.Packet, why string) {
	s.log.Debug().Str("cmd", pkt.Name).Str("state", s.state.String()).Str("why", why).Msg("ignoring command")
}

// garbage handles an undecodable or unknown packet: fatal while
// authenticating, logged and dropped afterwards.
func (s *Session) garbage(name string, err error) {
	if s.state == StateAuthenticating {
		s.fail(&ProtocolError{Kind: KindGarbage, Command: name, Err: err})
		return
	}
	s.log.Warn().Err(err).Str("cmd", name).Msg("garbage received, ignoring")
}

func (s *Session) handlePing() {
	frame, err := s.keepalive.OnPing()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to build PONG")
		return
	}
	s.log.Trace().Msg("PING -> PONG")
	if err := s.send(frame); err != nil {
		s.log.Debug().Err(err).Msg("PONG not sent")
	}
}

func (s *Session) authRequest() RequestKind {
	if s.login.CheckPasswordOnly {
		return RequestCheckPwd
	}
	return RequestLogin
}

func (s *Session) handleAuth(pkt *protocol.Packet) {
	if s.state != StateAuthenticating {
		s.log.Warn().Str("cmd", pkt.Name).Str("state", s.state.String()).Msg("unsolicited login reply, ignoring")
		return
	}
	auth, err := protocol.ParseAuth(pkt)
	if err != nil {
		s.garbage(pkt.Name, err)
		return
	}

	s.retry.OnReply(s.authRequest())
	s.challenge = nil
	s.identity = &Identity{Nickname: auth.Nickname, Rights: auth.Rights}
	s.transition(StateLoggedIn)

	s.log.Info().
		Str("requested", s.login.Nickname).
		Str("nickname", auth.Nickname).
		Str("rights", auth.Rights.String()).
		Msg("logged in")
	s.emit(events.EventLoggedIn, events.LoggedInPayload{
		Requested: s.login.Nickname,
		Nickname:  auth.Nickname,
		Rights:    auth.Rights,
		CheckOnly: s.login.CheckPasswordOnly,
	})

	// A registered login that comes back unregistered continues under a
	// reconnect UUID derived from the account.
	if c, ok := s.login.Credential.(RegisteredCredential); ok && auth.Rights == protocol.RightsUnregistered {
		id := protocol.ReconnectUUID(auth.Nickname, c.PasswordHash)
		s.emit(events.EventReconnectID, events.ReconnectIDPayload{Nickname: auth.Nickname, UUID: id})
	}
}

func (s *Session) handleChallenge(pkt *protocol.Packet) {
	if s.state != StateAuthenticating {
		s.log.Warn().Str("state", s.state.String()).Msg("unsolicited password challenge, ignoring")
		return
	}
	cred, ok := s.login.Credential.(RegisteredCredential)
	if !ok {
		s.fail(&ProtocolError{Kind: KindAuthFailed, Command: pkt.Name, Reason: "challenge for an unregistered login"})
		return
	}
	nonce, err := protocol.ParseChallenge(pkt)
	if err != nil {
		s.garbage(pkt.Name, err)
		return
	}

	s.challenge = NewChallenge(nonce)
	response, err := s.challenge.Respond(cred.PasswordHash)
	if err != nil {
		s.fail(&ProtocolError{Kind: KindAuthFailed, Command: pkt.Name, Err: err})
		return
	}
	frame, err := protocol.BuildChallengeResponse(response)
	if err != nil {
		s.fail(&ProtocolError{Kind: KindAuthFailed, Command: pkt.Name, Err: err})
		return
	}

	// The challenge answers the pending login; the final reply is now what
	// we wait for.
	kind := s.authRequest()
	s.retry.OnReply(kind)
	if err := s.retry.Register(kind, protocol.CmdPwdChallenge, frame, s.now); err != nil {
		s.log.Error().Err(err).Msg("failed to track challenge response")
	}
	s.log.Debug().Msg("answering password challenge")
	if err := s.send(frame); err != nil {
		s.log.Debug().Err(err).Msg("challenge response not sent")
	}
}

func (s *Session) handleError(pkt *protocol.Packet) {
	reply, err := protocol.ParseError(pkt)
	if err != nil {
		s.garbage(pkt.Name, err)
		return
	}

	pending, hasPending := s.retry.MostRecent()
	if hasPending && reply.Command != pending.Command.String() {
		s.log.Warn().
			Str("expected", pending.Command.String()).
			Str("got", reply.Command).
			Str("reason", reply.Reason).
			Msg("protocol violation: ERROR does not name the pending request")
	}

	perr := &ProtocolError{Kind: errorKindFor(reply), Command: reply.Command, Reason: reply.Reason}

	switch s.state {
	case StateAuthenticating:
		s.fail(perr)
	case StateNegotiatingHost, StateNegotiatingJoin:
		s.relayFailed(perr)
	default:
		s.log.Warn().Err(perr).Msg("server reported an error")
		s.emit(events.EventProtocolError, events.NewErrorPayload(perr))
	}
}

func errorKindFor(reply protocol.ErrorReply) ErrorKind {
	switch {
	case reply.Reason == protocol.ReasonUnsupportedProtocol:
		return KindVersionMismatch
	case reply.Reason == protocol.ReasonWrongPassword,
		reply.Command == protocol.CmdPwdChallenge.String():
		return KindAuthFailed
	case reply.Command == protocol.GarbageReceived:
		return KindGarbage
	default:
		return KindServerError
	}
}

func (s *Session) handleLobby(pkt *protocol.Packet) {
	switch pkt.Command {
	case protocol.CmdTime:
		unix, err := protocol.ParseTime(pkt)
		if err != nil {
			s.garbage(pkt.Name, err)
			return
		}
		serverTime := time.Unix(unix, 0)
		s.timeOffset = serverTime.Sub(s.now)
		s.emit(events.EventServerTime, events.ServerTimePayload{ServerTime: serverTime, Offset: s.timeOffset})

	case protocol.CmdMotd:
		text := protocol.ParseText(pkt)
		if s.motdShown {
			s.log.Debug().Str("motd", text).Msg("repeated MOTD")
			return
		}
		s.motdShown = true
		s.emit(events.EventMotd, events.TextPayload{Text: text})

	case protocol.CmdAnnouncement:
		s.emit(events.EventAnnouncement, events.TextPayload{Text: protocol.ParseText(pkt)})

	case protocol.CmdChat:
		msg, err := protocol.ParseChat(pkt)
		if err != nil {
			s.garbage(pkt.Name, err)
			return
		}
		s.emit(events.EventChat, events.ChatPayload{ChatMessage: msg})

	case protocol.CmdGamesUpdate:
		s.lobby.OnGamesUpdate()

	case protocol.CmdClientsUpdate:
		s.lobby.OnClientsUpdate()

	case protocol.CmdGames:
		games, err := protocol.ParseGames(pkt)
		if err != nil {
			s.lobby.AbortGamesPull()
			s.garbage(pkt.Name, err)
			return
		}
		s.lobby.OnGames(games)
		s.emit(events.EventGamesChanged, events.LobbyPayload{Count: len(games)})

	case protocol.CmdClients:
		clients, err := protocol.ParseClients(pkt)
		if err != nil {
			s.lobby.AbortClientsPull()
			s.garbage(pkt.Name, err)
			return
		}
		s.lobby.OnClients(clients)
		s.emit(events.EventClientsChanged, events.LobbyPayload{Count: len(clients)})
	}
}

func (s *Session) handleGameStart(pkt *protocol.Packet) {
	if s.state != StateHandedOffToRelay || s.handoff == nil {
		s.ignore(pkt, "no game to start")
		return
	}
	s.log.Info().Str("game", s.handoff.Game).Msg("game started")
	s.emit(events.EventGameStarted, events.GamePayload{Game: s.handoff.Game})
}
