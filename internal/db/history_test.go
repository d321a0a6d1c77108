package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/protocol"
)

type HistorySuite struct {
	suite.Suite
	db *HistoryDatabase
	t0 time.Time
}

func (s *HistorySuite) SetupTest() {
	hdb, err := NewHistoryDatabase(filepath.Join(s.T().TempDir(), "nested", "history.db"))
	s.Require().NoError(err)
	s.db = hdb
	s.t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
}

func (s *HistorySuite) TearDownTest() {
	s.NoError(s.db.Close())
}

func TestHistorySuite(t *testing.T) {
	suite.Run(t, new(HistorySuite))
}

func (s *HistorySuite) TestChatNewestFirst() {
	s.Require().NoError(s.db.RecordChat("alice", "hi", "public", s.t0))
	s.Require().NoError(s.db.RecordChat("bob", "psst", "private", s.t0.Add(time.Second)))

	chat, err := s.db.RecentChat(10)
	s.Require().NoError(err)
	s.Require().Len(chat, 2)
	s.Equal("bob", chat[0].Sender)
	s.Equal("private", chat[0].Type)
	s.Equal(s.t0.Add(time.Second), chat[0].ReceivedAt)

	one, err := s.db.RecentChat(1)
	s.Require().NoError(err)
	s.Len(one, 1)
}

func (s *HistorySuite) TestSessionsOpenAndClose() {
	first, err := s.db.StartSession("alice", "REGISTERED", s.t0)
	s.Require().NoError(err)

	// A second start closes the first as abandoned.
	second, err := s.db.StartSession("alice", "REGISTERED", s.t0.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().NoError(s.db.EndSession(second, "NORMAL", s.t0.Add(2*time.Minute)))

	sessions, err := s.db.RecentSessions(10)
	s.Require().NoError(err)
	s.Require().Len(sessions, 2)

	s.Equal(second, sessions[0].ID)
	s.Equal("NORMAL", sessions[0].EndReason)
	s.Require().NotNil(sessions[0].EndedAt)
	s.Equal(s.t0.Add(2*time.Minute), *sessions[0].EndedAt)

	s.Equal(first, sessions[1].ID)
	s.Equal("ABANDONED", sessions[1].EndReason)
}

func (s *HistorySuite) TestPrune() {
	s.Require().NoError(s.db.RecordChat("old", "x", "public", s.t0))
	s.Require().NoError(s.db.RecordNotice("motd", "old motd", s.t0))
	s.Require().NoError(s.db.RecordChat("new", "y", "public", s.t0.Add(48*time.Hour)))

	n, err := s.db.Prune(s.t0.Add(24 * time.Hour))
	s.Require().NoError(err)
	s.EqualValues(2, n)

	chat, err := s.db.RecentChat(10)
	s.Require().NoError(err)
	s.Require().Len(chat, 1)
	s.Equal("new", chat[0].Sender)
}

func (s *HistorySuite) TestRecorderFromBus() {
	bus := events.NewEventBus()
	defer bus.Stop()
	s.db.Attach(bus)
	ctx := context.Background()

	emit := func(t events.EventType, payload interface{}) {
		s.Require().NoError(bus.EmitSync(ctx, events.Event{Type: t, Time: s.t0, Payload: payload}))
	}

	emit(events.EventLoggedIn, events.LoggedInPayload{Nickname: "alice", Rights: protocol.RightsRegistered})
	emit(events.EventChat, events.ChatPayload{ChatMessage: protocol.ChatMessage{Sender: "bob", Message: "hello", Type: protocol.ChatPublic}})
	emit(events.EventMotd, events.TextPayload{Text: "welcome"})
	emit(events.EventDisconnected, events.DisconnectedPayload{Reason: "NORMAL"})

	chat, err := s.db.RecentChat(10)
	s.Require().NoError(err)
	s.Require().Len(chat, 1)
	s.Equal("hello", chat[0].Message)

	notices, err := s.db.RecentNotices(10)
	s.Require().NoError(err)
	s.Require().Len(notices, 1)
	s.Equal("motd", notices[0].Kind)

	sessions, err := s.db.RecentSessions(10)
	s.Require().NoError(err)
	s.Require().Len(sessions, 1)
	s.Equal("REGISTERED", sessions[0].Rights)
	s.Equal("NORMAL", sessions[0].EndReason)

	s.db.Detach(bus)
	s.Zero(bus.HandlerCount(events.EventChat))
}
