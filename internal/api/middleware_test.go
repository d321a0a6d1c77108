package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlnet/metaclient/internal/config"
	"github.com/wlnet/metaclient/internal/events"
)

func TestCommandLimiterRefills(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l := NewCommandLimiter(2)
	l.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		ok, _ := l.allow("10.0.0.1")
		require.True(t, ok, "burst call %d", i)
	}
	ok, wait := l.allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	// Another caller has its own bucket.
	ok, _ = l.allow("10.0.0.2")
	assert.True(t, ok)

	now = now.Add(500 * time.Millisecond)
	ok, _ = l.allow("10.0.0.1")
	assert.True(t, ok)
}

func TestCommandLimiterForgetsIdleCallers(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l := NewCommandLimiter(1)
	l.now = func() time.Time { return now }

	l.allow("10.0.0.1")
	now = now.Add(idleBucket + time.Second)
	l.allow("10.0.0.2")
	assert.NotContains(t, l.callers, "10.0.0.1")
	assert.Contains(t, l.callers, "10.0.0.2")
}

func TestCommandLimiterOnlyThrottlesCommands(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ApplicationData.API.RateLimitRPS = 1
	bus := events.NewEventBus()
	defer bus.Stop()
	ctl := &fakeController{}
	srv := NewServer(cfg, bus, ctl, fakeHistory{})

	call := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	// Burst of two, shared by the session and game groups.
	assert.Equal(t, http.StatusOK, call(http.MethodPost, "/api/session/chat", `{"message":"a"}`).Code)
	assert.Equal(t, http.StatusAccepted, call(http.MethodPost, "/api/game/host", `{"name":"g"}`).Code)

	rec := call(http.MethodPost, "/api/session/chat", `{"message":"b"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too many metaserver commands")
	assert.Equal(t, []string{"chat", "host:g"}, ctl.calls)

	// Reads stay available while commands are throttled.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, call(http.MethodGet, "/api/session/status", "").Code)
		assert.Equal(t, http.StatusOK, call(http.MethodGet, "/api/lobby/games", "").Code)
		assert.Equal(t, http.StatusOK, call(http.MethodGet, "/api/public/ping", "").Code)
	}
}

func TestSecurityHeadersOnAPIRoutes(t *testing.T) {
	cfg := config.DefaultConfig()
	bus := events.NewEventBus()
	defer bus.Stop()
	srv := NewServer(cfg, bus, &fakeController{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/status", nil))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
}
