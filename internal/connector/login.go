package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wlnet/metaclient/internal/config"
	"github.com/wlnet/metaclient/internal/protocol"
	"github.com/wlnet/metaclient/internal/session"
)

// DefaultPollInterval is how often WaitForLogin ticks the session.
const DefaultPollInterval = 10 * time.Millisecond

// ErrLoginAborted is returned when a login ended without a recorded error,
// for instance because it was disconnected by the caller.
var ErrLoginAborted = errors.New("login aborted")

// WaitForLogin ticks s until it is logged in or disconnected. It is the
// modal wait for callers without a tick loop of their own. Events stay
// queued in the session.
func WaitForLogin(ctx context.Context, s *session.Session, clock func() time.Time, poll time.Duration) (session.Identity, error) {
	if clock == nil {
		clock = time.Now
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	for {
		s.Tick(clock())

		switch s.State() {
		case session.StateDisconnected:
			if err := s.LastError(); err != nil {
				return session.Identity{}, err
			}
			return session.Identity{}, ErrLoginAborted
		case session.StateConnecting, session.StateAuthenticating:
		default:
			id, _ := s.Identity()
			return id, nil
		}

		select {
		case <-ctx.Done():
			return session.Identity{}, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// CheckPassword asks whether the server accepts nickname and password
// hash, without staying logged in.
func CheckPassword(ctx context.Context, cfg *config.Config, nickname, passwordHash string, dial Dialer) (session.Identity, error) {
	if dial == nil {
		dial = TCPDialer
	}
	ms := cfg.GetMetaserver()

	s := session.New(session.Config{
		BuildID:          ms.BuildID,
		ProtocolVersion:  ms.ProtocolVersion,
		ReplyTimeout:     ms.ReplyTimeout(),
		MaxRetries:       ms.MaxRetries,
		InactivityWindow: ms.InactivityWindow(),
		Logger:           log.With().Str("component", "check_password").Logger(),
	})

	err := s.Connect(session.LoginRequest{
		Nickname:          nickname,
		Credential:        session.RegisteredCredential{PasswordHash: passwordHash},
		CheckPasswordOnly: true,
	})
	if err != nil {
		return session.Identity{}, err
	}

	transport, err := dial(ctx, ms.Address(), ms.DialTimeout())
	if err != nil {
		s.ConnectFailed(err)
		return session.Identity{}, fmt.Errorf("failed to reach metaserver: %w", err)
	}
	if err := s.Established(transport, time.Now()); err != nil {
		return session.Identity{}, err
	}

	id, err := WaitForLogin(ctx, s, time.Now, DefaultPollInterval)
	s.Disconnect(protocol.ReasonNormal)
	return id, err
}
