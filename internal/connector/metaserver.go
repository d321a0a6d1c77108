// Package connector owns the goroutine that drives a metaserver session. It
// dials the server, ticks the session, republishes session events on the
// event bus and serializes every outside request onto the tick goroutine.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wlnet/metaclient/internal/config"
	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/network"
	"github.com/wlnet/metaclient/internal/protocol"
	"github.com/wlnet/metaclient/internal/session"
)

// ErrStopped is returned by requests made after Run has returned.
var ErrStopped = errors.New("connector stopped")

const (
	publishQueueSize = 256
	eventSource      = "metaserver"
)

// Dialer opens a transport to addr.
type Dialer func(ctx context.Context, addr string, timeout time.Duration) (session.Transport, error)

// TCPDialer dials the metaserver over TCP.
func TCPDialer(ctx context.Context, addr string, timeout time.Duration) (session.Transport, error) {
	return network.Dial(ctx, addr, timeout)
}

type request struct {
	fn   func(*session.Session) error
	done chan error
}

// Status is a point-in-time view of the session, safe to read from any
// goroutine.
type Status struct {
	State            string                   `json:"state"`
	Nickname         string                   `json:"nickname,omitempty"`
	Rights           string                   `json:"rights,omitempty"`
	Server           string                   `json:"server"`
	Since            time.Time                `json:"since"`
	LastError        string                   `json:"last_error,omitempty"`
	ServerTimeOffset time.Duration            `json:"server_time_offset"`
	PendingRequests  int                      `json:"pending_requests"`
	Reconnects       int                      `json:"reconnects"`
	Games            []protocol.GameListing   `json:"games"`
	Clients          []protocol.ClientListing `json:"clients"`
	Handoff          *session.RelayHandoff    `json:"handoff,omitempty"`
}

// LoggedIn reports whether the session is past authentication.
func (s Status) LoggedIn() bool {
	return s.Nickname != ""
}

// MetaserverConnector drives one session against the configured metaserver.
type MetaserverConnector struct {
	cfg      *config.Config
	eventBus *events.EventBus
	dial     Dialer
	clock    func() time.Time
	logger   zerolog.Logger

	sess     *session.Session
	requests chan request
	publish  chan events.Event
	stopCh   chan struct{}

	// Tick goroutine only
	wantOnline     bool
	reconnectAt    time.Time
	reconnectTries int

	mu          sync.RWMutex
	status      Status
	lobbyNotify chan struct{}
}

// NewMetaserverConnector creates a connector. A nil dial uses TCPDialer.
func NewMetaserverConnector(cfg *config.Config, eventBus *events.EventBus, dial Dialer) *MetaserverConnector {
	if dial == nil {
		dial = TCPDialer
	}
	ms := cfg.GetMetaserver()
	logger := log.With().Str("component", "metaserver").Logger()

	sess := session.New(session.Config{
		BuildID:          ms.BuildID,
		ProtocolVersion:  ms.ProtocolVersion,
		ReplyTimeout:     ms.ReplyTimeout(),
		MaxRetries:       ms.MaxRetries,
		InactivityWindow: ms.InactivityWindow(),
		Logger:           logger,
	})

	c := &MetaserverConnector{
		cfg:         cfg,
		eventBus:    eventBus,
		dial:        dial,
		clock:       time.Now,
		logger:      logger,
		sess:        sess,
		requests:    make(chan request),
		publish:     make(chan events.Event, publishQueueSize),
		stopCh:      make(chan struct{}),
		lobbyNotify: make(chan struct{}),
	}
	c.status = Status{State: sess.State().String(), Server: ms.Address()}
	return c
}

// SetClock replaces the time source. It must be called before Run.
func (c *MetaserverConnector) SetClock(clock func() time.Time) {
	c.clock = clock
}

// Run drives the session until ctx is cancelled. With autoLogin the
// configured account logs in immediately.
func (c *MetaserverConnector) Run(ctx context.Context, autoLogin bool) error {
	ms := c.cfg.GetMetaserver()
	interval := ms.TickInterval()
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.publishLoop()
	}()

	defer func() {
		c.sess.Disconnect(protocol.ReasonNormal)
		c.flushEvents()
		close(c.stopCh)
		close(c.publish)
		wg.Wait()
		log.Info().Msg("metaserver connector stopped")
	}()

	if autoLogin {
		c.wantOnline = true
		if err := c.login(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("initial login failed")
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.requests:
			req.done <- c.runRequest(req.fn)
		case <-ticker.C:
			c.tick(ctx, c.clock())
		}
		c.flushEvents()
	}
}

// tick advances the session. A panic inside the session costs the
// connection, not the tick goroutine, and turns auto-reconnect off.
func (c *MetaserverConnector) tick(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("state", c.sess.State().String()).
				Msg("session tick panicked, disconnecting")
			c.wantOnline = false
			c.reconnectAt = time.Time{}
			c.sess.Disconnect(protocol.ReasonNormal)
		}
	}()
	if err := c.sess.Tick(now); err != nil {
		c.logger.Debug().Err(err).Msg("session ended during tick")
	}
	c.maybeReconnect(ctx, now)
}

func (c *MetaserverConnector) runRequest(fn func(*session.Session) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("request panicked")
			err = fmt.Errorf("request panicked: %v", r)
		}
	}()
	return fn(c.sess)
}

// login starts a login with the configured account and dials the server.
func (c *MetaserverConnector) login(ctx context.Context) error {
	if c.sess.State() != session.StateDisconnected {
		return fmt.Errorf("login in state %s: %w", c.sess.State(), session.ErrInvalidState)
	}
	now := c.clock()
	req, err := c.loginRequest(now, false)
	if err != nil {
		return err
	}
	if err := c.sess.Connect(req); err != nil {
		return err
	}

	ms := c.cfg.GetMetaserver()
	c.logger.Info().Str("addr", ms.Address()).Str("nickname", req.Nickname).Msg("connecting to metaserver")

	transport, err := c.dial(ctx, ms.Address(), ms.DialTimeout())
	if err != nil {
		c.sess.ConnectFailed(err)
		return err
	}
	return c.sess.Established(transport, c.clock())
}

// loginRequest builds a request from the account section. Anonymous
// accounts get a reconnect UUID, rotated when it has aged out.
func (c *MetaserverConnector) loginRequest(now time.Time, checkOnly bool) (session.LoginRequest, error) {
	acct := c.cfg.GetAccount()
	req := session.LoginRequest{Nickname: acct.Nickname, CheckPasswordOnly: checkOnly}
	if acct.Registered {
		req.Credential = session.RegisteredCredential{PasswordHash: acct.PasswordHash}
		return req, nil
	}

	id, rotated := c.cfg.EnsureReconnectUUID(now)
	if rotated {
		c.logger.Info().Msg("reconnect UUID rotated")
	}
	if err := c.cfg.Save(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to persist reconnect UUID")
	}
	req.Credential = session.AnonymousCredential{ReconnectUUID: id}
	return req, nil
}

func (c *MetaserverConnector) maybeReconnect(ctx context.Context, now time.Time) {
	if c.reconnectAt.IsZero() || now.Before(c.reconnectAt) {
		return
	}
	c.reconnectAt = time.Time{}
	if !c.wantOnline || c.sess.State() != session.StateDisconnected {
		return
	}
	c.reconnectTries++
	c.logger.Info().Int("attempt", c.reconnectTries).Msg("reconnecting to metaserver")
	if err := c.login(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("reconnect failed")
	}
}

// scheduleReconnect arms the reconnect timer after a failure that a retry
// could fix.
func (c *MetaserverConnector) scheduleReconnect(err error, now time.Time) {
	ms := c.cfg.GetMetaserver()
	if !c.wantOnline || !ms.AutoReconnect || err == nil {
		return
	}
	if session.IsAuthFailure(err) || errors.Is(err, session.ErrVersionMismatch) {
		c.logger.Warn().Err(err).Msg("not reconnecting after a permanent failure")
		c.wantOnline = false
		return
	}
	if ms.MaxReconnectAttempts > 0 && c.reconnectTries >= ms.MaxReconnectAttempts {
		c.logger.Error().Int("attempts", c.reconnectTries).Msg("giving up on reconnecting")
		c.wantOnline = false
		return
	}
	c.reconnectAt = now.Add(ms.ReconnectDelay())
	c.logger.Info().Time("at", c.reconnectAt).Msg("reconnect scheduled")
}

// flushEvents drains the session, reacts to what concerns the connector,
// refreshes the status snapshot and queues the events for publishing.
func (c *MetaserverConnector) flushEvents() {
	evs := c.sess.DrainEvents()
	for _, e := range evs {
		c.observe(e)
		select {
		case c.publish <- e:
		default:
			c.logger.Warn().Str("event", string(e.Type)).Msg("event queue full, dropping event")
		}
	}
	c.refreshStatus()
}

func (c *MetaserverConnector) observe(e events.Event) {
	switch p := e.Payload.(type) {
	case events.LoggedInPayload:
		if p.CheckOnly {
			return
		}
		c.reconnectTries = 0
		c.cfg.Touch(e.Time)
		if err := c.cfg.Save(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to save activity time")
		}
	case events.ReconnectIDPayload:
		c.cfg.SetReconnectUUID(p.UUID, e.Time)
		if err := c.cfg.Save(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to persist reconnect UUID")
		}
	case events.DisconnectedPayload:
		c.scheduleReconnect(p.Err, e.Time)
	case events.ErrorPayload:
		if e.Type == events.EventLoginFailed {
			c.scheduleReconnect(p.Err, e.Time)
		}
	}
}

func (c *MetaserverConnector) refreshStatus() {
	st := Status{
		State:            c.sess.State().String(),
		Server:           c.cfg.GetMetaserver().Address(),
		ServerTimeOffset: c.sess.ServerTimeOffset(),
		PendingRequests:  c.sess.PendingRequests(),
		Reconnects:       c.reconnectTries,
	}
	if id, ok := c.sess.Identity(); ok {
		st.Nickname = id.Nickname
		st.Rights = id.Rights.String()
	}
	if err := c.sess.LastError(); err != nil {
		st.LastError = err.Error()
	}
	if h, ok := c.sess.Handoff(); ok {
		st.Handoff = &h
	}

	lobbyChanged := c.sess.LobbyChanged()

	c.mu.Lock()
	defer c.mu.Unlock()

	st.Since = c.status.Since
	if st.State != c.status.State || st.Since.IsZero() {
		st.Since = c.clock()
	}
	if lobbyChanged {
		st.Games, st.Clients = c.sess.LobbySnapshot()
	} else if st.Nickname != "" {
		st.Games = c.status.Games
		st.Clients = c.status.Clients
	}
	c.status = st

	if lobbyChanged {
		close(c.lobbyNotify)
		c.lobbyNotify = make(chan struct{})
	}
}

func (c *MetaserverConnector) publishLoop() {
	ctx := context.Background()
	for e := range c.publish {
		e.Source = eventSource
		if err := c.eventBus.EmitSync(ctx, e); err != nil {
			c.logger.Debug().Err(err).Str("event", string(e.Type)).Msg("event handler failed")
		}
	}
}

// ============================================================================
// Requests from other goroutines
// ============================================================================

// Do runs fn on the tick goroutine and returns its error.
func (c *MetaserverConnector) Do(ctx context.Context, fn func(*session.Session) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the latest snapshot.
func (c *MetaserverConnector) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LobbyChanged returns a channel closed the next time a lobby list is
// replaced.
func (c *MetaserverConnector) LobbyChanged() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lobbyNotify
}

// Login logs in with the configured account and keeps the session online
// until Logout.
func (c *MetaserverConnector) Login(ctx context.Context) error {
	return c.Do(ctx, func(*session.Session) error {
		c.wantOnline = true
		c.reconnectTries = 0
		return c.login(ctx)
	})
}

// Logout disconnects and disables auto-reconnect.
func (c *MetaserverConnector) Logout(ctx context.Context, reason string) error {
	return c.Do(ctx, func(s *session.Session) error {
		c.wantOnline = false
		c.reconnectAt = time.Time{}
		s.Disconnect(reason)
		return nil
	})
}

// Games returns the games list. A stale list is pulled and waited for
// until ctx expires, in which case the old snapshot is returned.
func (c *MetaserverConnector) Games(ctx context.Context) ([]protocol.GameListing, error) {
	var games []protocol.GameListing
	err := c.lobbyRead(ctx, func(s *session.Session) { games = s.CurrentGames() })
	return games, err
}

// Clients returns the clients list, pulling it first if stale.
func (c *MetaserverConnector) Clients(ctx context.Context) ([]protocol.ClientListing, error) {
	var clients []protocol.ClientListing
	err := c.lobbyRead(ctx, func(s *session.Session) { clients = s.CurrentClients() })
	return clients, err
}

func (c *MetaserverConnector) lobbyRead(ctx context.Context, read func(*session.Session)) error {
	var pending bool
	notify := c.LobbyChanged()
	err := c.Do(ctx, func(s *session.Session) error {
		if !s.State().Established() {
			return session.ErrNotLoggedIn
		}
		read(s)
		pending = s.PendingLobbyPull()
		return nil
	})
	if err != nil || !pending {
		return err
	}

	select {
	case <-notify:
	case <-ctx.Done():
		return nil
	}
	return c.Do(context.WithoutCancel(ctx), func(s *session.Session) error {
		read(s)
		return nil
	})
}

// HostGame opens a game on the relay.
func (c *MetaserverConnector) HostGame(ctx context.Context, name string) error {
	return c.Do(ctx, func(s *session.Session) error { return s.HostGame(name, c.clock()) })
}

// JoinGame joins a game on the relay.
func (c *MetaserverConnector) JoinGame(ctx context.Context, name string) error {
	return c.Do(ctx, func(s *session.Session) error { return s.JoinGame(name, c.clock()) })
}

// StartGame tells the server the hosted game started.
func (c *MetaserverConnector) StartGame(ctx context.Context) error {
	return c.Do(ctx, func(s *session.Session) error { return s.StartGame() })
}

// LeaveGame returns to the lobby.
func (c *MetaserverConnector) LeaveGame(ctx context.Context) error {
	return c.Do(ctx, func(s *session.Session) error { return s.LeaveGame() })
}

// SendChat sends a chat line. An empty recipient means public chat.
func (c *MetaserverConnector) SendChat(ctx context.Context, message, recipient string) error {
	return c.Do(ctx, func(s *session.Session) error { return s.SendChat(message, recipient) })
}

// SendAdminCommand sends a superuser command.
func (c *MetaserverConnector) SendAdminCommand(ctx context.Context, command string, args ...string) error {
	return c.Do(ctx, func(s *session.Session) error { return s.SendAdminCommand(command, args...) })
}
