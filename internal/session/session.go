// Package session implements the client side of a metaserver session: the
// login handshake, keepalive, lobby synchronization and relay negotiation.
//
// A Session is driven entirely by its owner. It never starts goroutines and
// never blocks: the owner attaches a non-blocking Transport and calls Tick
// periodically, then drains the events the session queued.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/protocol"
)

// Transport is a non-blocking byte stream to the metaserver. Read returns
// 0, nil when no data is buffered; any error means the stream is gone.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) error
	Close() error
}

// Config configures a Session.
type Config struct {
	BuildID          string
	ProtocolVersion  int
	ReplyTimeout     time.Duration
	MaxRetries       int
	InactivityWindow time.Duration
	Logger           zerolog.Logger
}

// DefaultConfig returns the protocol defaults with logging disabled.
func DefaultConfig() Config {
	return Config{
		BuildID:          "metaclient",
		ProtocolVersion:  protocol.ProtocolVersion,
		ReplyTimeout:     DefaultReplyTimeout,
		MaxRetries:       DefaultMaxRetries,
		InactivityWindow: DefaultInactivityWindow,
		Logger:           zerolog.Nop(),
	}
}

const readChunk = 4096

// Session is one client's conversation with the metaserver.
type Session struct {
	cfg Config
	log zerolog.Logger

	state     State
	login     LoginRequest
	identity  *Identity
	challenge *Challenge
	motdShown bool

	transport Transport
	frames    protocol.FrameBuffer
	readBuf   []byte
	now       time.Time

	retry     *RetryController
	keepalive *KeepaliveMonitor
	lobby     *LobbyRegistry

	negotiation *negotiation
	handoff     *RelayHandoff

	timeOffset time.Duration
	lastErr    error
	events     []events.Event
}

// New creates a disconnected session.
func New(cfg Config) *Session {
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = protocol.ProtocolVersion
	}
	return &Session{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "session").Logger(),
		state:     StateDisconnected,
		readBuf:   make([]byte, readChunk),
		retry:     NewRetryController(cfg.ReplyTimeout, cfg.MaxRetries),
		keepalive: NewKeepaliveMonitor(cfg.InactivityWindow),
		lobby:     NewLobbyRegistry(),
	}
}

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// Identity returns who we are logged in as.
func (s *Session) Identity() (Identity, bool) {
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// LastError returns the failure that last ended the session, or nil.
func (s *Session) LastError() error { return s.lastErr }

// ServerTimeOffset returns server time minus local time from the last TIME.
func (s *Session) ServerTimeOffset() time.Duration { return s.timeOffset }

// PendingRequests returns the number of requests awaiting a reply.
func (s *Session) PendingRequests() int { return s.retry.Len() }

// DrainEvents returns and clears the queued events.
func (s *Session) DrainEvents() []events.Event {
	evs := s.events
	s.events = nil
	return evs
}

// Connect starts a login. The owner must dial the server and report back
// with Established or ConnectFailed.
func (s *Session) Connect(req LoginRequest) error {
	if s.state != StateDisconnected {
		return fmt.Errorf("connect in state %s: %w", s.state, ErrInvalidState)
	}
	if err := req.validate(); err != nil {
		return fmt.Errorf("invalid login request: %w", err)
	}
	s.login = req
	s.challenge = nil
	s.lastErr = nil
	s.transition(StateConnecting)
	return nil
}

// ConnectFailed reports that dialing failed.
func (s *Session) ConnectFailed(err error) {
	if s.state != StateConnecting {
		return
	}
	s.fail(&ProtocolError{Kind: KindConnectionLost, Err: err})
}

// Established attaches the dialed transport and sends the login request.
func (s *Session) Established(t Transport, now time.Time) error {
	if s.state != StateConnecting {
		return fmt.Errorf("established in state %s: %w", s.state, ErrInvalidState)
	}

	s.now = now
	s.transport = t
	s.frames.Reset()
	s.lobby.Reset()
	s.keepalive.Reset(now)
	s.transition(StateAuthenticating)

	req := protocol.LoginRequest{
		Version:  s.cfg.ProtocolVersion,
		Nickname: s.login.Nickname,
		BuildID:  s.cfg.BuildID,
	}
	if c, ok := s.login.Credential.(AnonymousCredential); ok {
		req.UUID = c.ReconnectUUID
	} else {
		req.Registered = true
	}

	kind, cmd := RequestLogin, protocol.CmdLogin
	build := protocol.BuildLogin
	if s.login.CheckPasswordOnly {
		kind, cmd = RequestCheckPwd, protocol.CmdCheckPwd
		build = protocol.BuildCheckPwd
	}
	frame, err := build(req)
	if err != nil {
		perr := &ProtocolError{Kind: KindConnectionLost, Command: cmd.String(), Err: err}
		s.fail(perr)
		return perr
	}
	if err := s.retry.Register(kind, cmd, frame, now); err != nil {
		return err
	}

	s.log.Info().
		Str("nickname", req.Nickname).
		Bool("registered", req.Registered).
		Str("cmd", cmd.String()).
		Msg("authenticating")
	return s.send(frame)
}

// Tick reads and dispatches everything the transport has buffered, then
// flushes scheduled lobby pulls, then checks keepalive and retry timers.
// It returns the failure that ended the session during this tick, if any.
func (s *Session) Tick(now time.Time) error {
	if !s.state.Connected() {
		return nil
	}
	s.now = now
	before := s.lastErr

	s.readAvailable(now)
	if s.state.Connected() {
		s.flushLobbyPulls()
	}
	if s.state.Connected() && s.keepalive.Expired(now) {
		s.fail(&ProtocolError{
			Kind:   KindKeepaliveExpired,
			Reason: fmt.Sprintf("silent since %s", s.keepalive.LastReceived().Format(time.RFC3339)),
		})
	}
	if s.state.Connected() {
		s.checkRetries(now)
	}

	if s.lastErr != nil && s.lastErr != before {
		return s.lastErr
	}
	return nil
}

func (s *Session) readAvailable(now time.Time) {
	for s.state.Connected() {
		n, err := s.transport.Read(s.readBuf)
		if n > 0 {
			s.keepalive.Received(now)
			s.frames.Feed(s.readBuf[:n])
		}
		if err != nil {
			s.processFrames()
			if s.state.Connected() {
				s.fail(&ProtocolError{Kind: KindConnectionLost, Err: err})
			}
			return
		}
		if n == 0 {
			break
		}
	}
	s.processFrames()
}

func (s *Session) processFrames() {
	for s.state.Connected() {
		frame, ok, err := s.frames.Next()
		if err != nil {
			s.fail(&ProtocolError{Kind: KindGarbage, Err: err})
			return
		}
		if !ok {
			return
		}
		pkt, err := protocol.Decode(frame)
		if err != nil {
			s.garbage("", err)
			continue
		}
		s.log.Trace().Str("cmd", pkt.Name).Strs("fields", pkt.Fields).Msg("received")
		if err := s.dispatch(pkt); err != nil {
			s.log.Error().Err(err).Str("cmd", pkt.Name).Msg("dispatch failed")
		}
	}
}

func (s *Session) flushLobbyPulls() {
	if !s.state.Established() {
		return
	}
	games, clients := s.lobby.TakePulls()
	if games {
		s.sendCommand(protocol.CmdGames)
	}
	if clients && s.state.Connected() {
		s.sendCommand(protocol.CmdClients)
	}
}

func (s *Session) checkRetries(now time.Time) {
	resend, failed := s.retry.Tick(now)
	for _, p := range resend {
		s.log.Warn().
			Str("request", p.Kind.String()).
			Int("attempt", p.Attempts).
			Int("max", s.retry.MaxRetries()).
			Msg("no reply, resending")
		if err := s.send(p.Frame); err != nil {
			return
		}
	}
	if len(failed) > 0 {
		p := failed[0]
		s.fail(&ProtocolError{
			Kind:    KindTimeout,
			Command: p.Command.String(),
			Reason:  fmt.Sprintf("no reply after %d attempts", p.Attempts),
		})
	}
}

// Disconnect ends the session from any state. DISCONNECT is sent only when
// the server had accepted our login.
func (s *Session) Disconnect(reason string) {
	if s.state == StateDisconnected {
		return
	}
	if reason == "" {
		reason = protocol.ReasonNormal
	}
	if s.state.Established() && s.transport != nil {
		if frame, err := protocol.BuildDisconnect(reason); err == nil {
			if err := s.transport.Write(frame); err != nil {
				s.log.Debug().Err(err).Msg("best-effort DISCONNECT failed")
			}
		}
	}
	s.log.Info().Str("reason", reason).Msg("disconnecting")
	s.teardown()
	s.emit(events.EventDisconnected, events.DisconnectedPayload{Reason: reason})
}

// SendChat sends a chat line. An empty recipient means public chat.
func (s *Session) SendChat(message, recipient string) error {
	if !s.state.Established() {
		return ErrNotLoggedIn
	}
	frame, err := protocol.BuildChat(message, recipient)
	if err != nil {
		return fmt.Errorf("failed to build chat: %w", err)
	}
	return s.send(frame)
}

// SendAdminCommand sends a superuser CMD. It is refused locally for any
// other rights.
func (s *Session) SendAdminCommand(command string, args ...string) error {
	if !s.state.Established() || s.identity == nil {
		return ErrNotLoggedIn
	}
	if s.identity.Rights != protocol.RightsSuperuser {
		return fmt.Errorf("%s requires %s: %w", protocol.CmdCmd, protocol.RightsSuperuser, ErrDeficientPermission)
	}
	frame, err := protocol.BuildAdminCommand(command, args...)
	if err != nil {
		return fmt.Errorf("failed to build command: %w", err)
	}
	return s.send(frame)
}

// CurrentGames returns the last games snapshot. A stale snapshot schedules
// a single GAMES pull, sent on the next Tick.
func (s *Session) CurrentGames() []protocol.GameListing { return s.lobby.Games() }

// CurrentClients returns the last clients snapshot. A stale snapshot
// schedules a single CLIENTS pull, sent on the next Tick.
func (s *Session) CurrentClients() []protocol.ClientListing { return s.lobby.Clients() }

// LobbySnapshot returns both lobby lists without scheduling pulls.
func (s *Session) LobbySnapshot() ([]protocol.GameListing, []protocol.ClientListing) {
	return s.lobby.Snapshot()
}

// PendingLobbyPull reports whether a lobby list is being pulled.
func (s *Session) PendingLobbyPull() bool { return s.lobby.Pending() }

// LobbyChanged reports whether a lobby snapshot was replaced since the last
// call.
func (s *Session) LobbyChanged() bool { return s.lobby.Changed() }

// send writes a frame. A write error ends the session.
func (s *Session) send(frame []byte) error {
	if s.transport == nil {
		return ErrNotLoggedIn
	}
	if err := s.transport.Write(frame); err != nil {
		perr := &ProtocolError{Kind: KindConnectionLost, Err: err}
		s.fail(perr)
		return perr
	}
	if s.log.GetLevel() <= zerolog.TraceLevel {
		if pkt, err := protocol.Decode(frame); err == nil {
			s.log.Trace().Str("cmd", pkt.Name).Strs("fields", pkt.Fields).Msg("sent")
		}
	}
	return nil
}

func (s *Session) sendCommand(cmd protocol.Command, fields ...string) error {
	frame, err := protocol.Encode(cmd, fields...)
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", cmd, err)
	}
	return s.send(frame)
}

// fail ends the session because of perr.
func (s *Session) fail(perr *ProtocolError) {
	if s.state == StateDisconnected {
		return
	}
	authenticating := !s.state.Established()
	s.lastErr = perr
	s.log.Error().Err(perr).Str("state", s.state.String()).Msg("session failed")
	s.teardown()

	if authenticating {
		s.emit(events.EventLoginFailed, events.NewErrorPayload(perr))
		return
	}
	s.emit(events.EventDisconnected, events.DisconnectedPayload{
		Reason:  perr.Kind.String(),
		Err:     perr,
		Message: perr.Error(),
	})
}

// teardown closes the transport and forgets everything tied to it.
func (s *Session) teardown() {
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.log.Debug().Err(err).Msg("transport close")
		}
		s.transport = nil
	}
	s.frames.Reset()
	s.retry.Clear()
	s.lobby.Reset()
	s.identity = nil
	s.challenge = nil
	s.negotiation = nil
	s.handoff = nil
	s.transition(StateDisconnected)
}

func (s *Session) transition(to State) {
	if s.state == to {
		return
	}
	if !canTransition(s.state, to) {
		panic(fmt.Sprintf("session: illegal transition %s -> %s", s.state, to))
	}
	from := s.state
	s.state = to
	s.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	s.emit(events.EventStateChanged, events.StateChangedPayload{From: from.String(), To: to.String()})
}

func (s *Session) emit(t events.EventType, payload interface{}) {
	s.events = append(s.events, events.Event{
		Type:    t,
		Source:  "session",
		Time:    s.now,
		Payload: payload,
	})
}

// IsAuthFailure reports whether err means the credentials were rejected,
// so the caller should ask for them again.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}
