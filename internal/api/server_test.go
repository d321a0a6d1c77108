package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/wlnet/metaclient/internal/config"
	"github.com/wlnet/metaclient/internal/connector"
	"github.com/wlnet/metaclient/internal/db"
	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/health"
	"github.com/wlnet/metaclient/internal/protocol"
	"github.com/wlnet/metaclient/internal/session"
)

type fakeController struct {
	status  connector.Status
	games   []protocol.GameListing
	clients []protocol.ClientListing
	err     error

	calls []string
	chat  [2]string
	cmd   []string
}

func (f *fakeController) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) Status() connector.Status { return f.status }
func (f *fakeController) Login(context.Context) error { return f.record("login") }
func (f *fakeController) Logout(_ context.Context, reason string) error {
	return f.record("logout:" + reason)
}
func (f *fakeController) Games(context.Context) ([]protocol.GameListing, error) {
	return f.games, f.record("games")
}
func (f *fakeController) Clients(context.Context) ([]protocol.ClientListing, error) {
	return f.clients, f.record("clients")
}
func (f *fakeController) HostGame(_ context.Context, name string) error { return f.record("host:" + name) }
func (f *fakeController) JoinGame(_ context.Context, name string) error { return f.record("join:" + name) }
func (f *fakeController) StartGame(context.Context) error { return f.record("start") }
func (f *fakeController) LeaveGame(context.Context) error { return f.record("leave") }
func (f *fakeController) SendChat(_ context.Context, message, recipient string) error {
	f.chat = [2]string{message, recipient}
	return f.record("chat")
}
func (f *fakeController) SendAdminCommand(_ context.Context, command string, args ...string) error {
	f.cmd = append([]string{command}, args...)
	return f.record("cmd")
}

type fakeHistory struct{}

func (fakeHistory) RecentChat(limit int) ([]db.ChatRecord, error) {
	return []db.ChatRecord{{ID: 1, Sender: "bob", Message: "hi", Type: "public"}}[:min(limit, 1)], nil
}
func (fakeHistory) RecentNotices(int) ([]db.NoticeRecord, error) { return nil, nil }
func (fakeHistory) RecentSessions(int) ([]db.SessionRecord, error) { return nil, nil }

type APISuite struct {
	suite.Suite
	ctl    *fakeController
	bus    *events.EventBus
	server *Server
}

func (s *APISuite) SetupTest() {
	cfg := config.DefaultConfig()
	cfg.ApplicationData.API.RateLimitRPS = 0
	cfg.ApplicationData.API.AllowedOrigins = []string{"*"}
	s.ctl = &fakeController{}
	s.bus = events.NewEventBus()
	s.server = NewServer(cfg, s.bus, s.ctl, fakeHistory{})
}

func (s *APISuite) TearDownTest() {
	s.bus.Stop()
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) do(method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (s *APISuite) TestPing() {
	rec, body := s.do(http.MethodGet, "/api/public/ping", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("ok", body["status"])
	s.Equal("nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func (s *APISuite) TestStatus() {
	s.ctl.status = connector.Status{State: "logged_in", Nickname: "alice", Rights: "REGISTERED"}
	rec, body := s.do(http.MethodGet, "/api/session/status", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("alice", body["nickname"])
	s.Equal("logged_in", body["state"])
}

func (s *APISuite) TestGames() {
	s.ctl.games = []protocol.GameListing{{Hostname: "bob", Version: "21", Status: protocol.GameSetup}}
	rec, body := s.do(http.MethodGet, "/api/lobby/games", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(float64(1), body["count"])
}

func (s *APISuite) TestGamesNotLoggedIn() {
	s.ctl.err = session.ErrNotLoggedIn
	rec, _ := s.do(http.MethodGet, "/api/lobby/clients", "")
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *APISuite) TestHostAndJoin() {
	rec, _ := s.do(http.MethodPost, "/api/game/host", `{"name":"my game"}`)
	s.Equal(http.StatusAccepted, rec.Code)
	rec, _ = s.do(http.MethodPost, "/api/game/join", `{"name":"other"}`)
	s.Equal(http.StatusAccepted, rec.Code)
	s.Equal([]string{"host:my game", "join:other"}, s.ctl.calls)

	rec, _ = s.do(http.MethodPost, "/api/game/host", `{}`)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *APISuite) TestStartRequiresHost() {
	s.ctl.err = session.ErrDeficientPermission
	rec, _ := s.do(http.MethodPost, "/api/game/start", "")
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *APISuite) TestChatAndCommand() {
	rec, _ := s.do(http.MethodPost, "/api/session/chat", `{"message":"hello","recipient":"bob"}`)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal([2]string{"hello", "bob"}, s.ctl.chat)

	rec, _ = s.do(http.MethodPost, "/api/session/cmd", `{"command":"kick","args":["mallory"]}`)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal([]string{"kick", "mallory"}, s.ctl.cmd)
}

func (s *APISuite) TestLoginLogout() {
	rec, _ := s.do(http.MethodPost, "/api/session/login", "")
	s.Equal(http.StatusAccepted, rec.Code)
	rec, _ = s.do(http.MethodPost, "/api/session/logout", `{"reason":"BYE"}`)
	s.Equal(http.StatusOK, rec.Code)
	rec, _ = s.do(http.MethodPost, "/api/session/logout", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal([]string{"login", "logout:BYE", "logout:"}, s.ctl.calls)
}

func (s *APISuite) TestErrorMapping() {
	s.Equal(http.StatusServiceUnavailable, errorStatus(connector.ErrStopped))
	s.Equal(http.StatusGatewayTimeout, errorStatus(context.DeadlineExceeded))
	s.Equal(http.StatusConflict, errorStatus(session.ErrInvalidState))
	s.Equal(http.StatusUnauthorized, errorStatus(&session.ProtocolError{Kind: session.KindAuthFailed}))
}

func (s *APISuite) TestHistory() {
	rec, body := s.do(http.MethodGet, "/api/history/chat?limit=5", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(float64(1), body["count"])

	rec, _ = s.do(http.MethodGet, "/api/history/chat?limit=zero", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *APISuite) TestHistoryDisabled() {
	s.server = NewServer(config.DefaultConfig(), s.bus, s.ctl, nil)
	rec, _ := s.do(http.MethodGet, "/api/history/sessions", "")
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

type fakeHealth []health.Result

func (f fakeHealth) Results() []health.Result { return f }

func (s *APISuite) TestHealth() {
	rec, _ := s.do(http.MethodGet, "/api/public/health", "")
	s.Equal(http.StatusServiceUnavailable, rec.Code)

	s.server.SetHealth(fakeHealth{
		{Name: "disk_utilization", Level: health.LevelWarning},
		{Name: "session", Level: health.LevelOK},
	})
	rec, body := s.do(http.MethodGet, "/api/public/health", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("warning", body["status"])
	s.Len(body["checks"], 2)
}

func (s *APISuite) TestUnknownRoute() {
	rec, _ := s.do(http.MethodGet, "/api/nope", "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *APISuite) TestEventStream() {
	s.server.hub.Attach(s.bus)
	ts := httptest.NewServer(s.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events?types=chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()

	s.Require().Eventually(func() bool { return s.server.hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	s.Require().NoError(s.bus.EmitSync(ctx, events.Event{Type: events.EventMotd, Payload: events.TextPayload{Text: "skip"}}))
	s.Require().NoError(s.bus.EmitSync(ctx, events.Event{
		Type:    events.EventChat,
		Payload: events.ChatPayload{ChatMessage: protocol.ChatMessage{Sender: "bob", Message: "hi", Type: protocol.ChatPublic}},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	s.Require().NoError(err)

	var got events.Event
	s.Require().NoError(json.Unmarshal(data, &got))
	s.Equal(events.EventChat, got.Type)
	s.Equal("hi", got.Payload.(map[string]interface{})["message"])
}
