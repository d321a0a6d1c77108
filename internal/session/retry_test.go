package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlnet/metaclient/internal/protocol"
)

func TestRetryControllerRejectsDuplicateKind(t *testing.T) {
	rc := NewRetryController(time.Second, 3)
	require.NoError(t, rc.Register(RequestGameOpen, protocol.CmdGameOpen, []byte("a"), t0))

	err := rc.Register(RequestGameOpen, protocol.CmdGameOpen, []byte("b"), t0)
	assert.ErrorIs(t, err, ErrAlreadyPending)

	p, ok := rc.Pending(RequestGameOpen)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), p.Frame)
}

func TestRetryControllerAttemptsNeverExceedMax(t *testing.T) {
	for _, max := range []int{1, 2, 3, 5} {
		rc := NewRetryController(time.Second, max)
		require.NoError(t, rc.Register(RequestLogin, protocol.CmdLogin, nil, t0))

		sends := 1
		var failed []PendingRequest
		now := t0
		for i := 0; i < 20 && rc.Len() > 0; i++ {
			now = now.Add(time.Second)
			resend, f := rc.Tick(now)
			for _, p := range resend {
				assert.LessOrEqual(t, p.Attempts, max)
			}
			sends += len(resend)
			failed = append(failed, f...)
		}

		assert.Equal(t, max, sends, "max=%d", max)
		require.Len(t, failed, 1)
		assert.Equal(t, max, failed[0].Attempts)
		assert.Zero(t, rc.Len())
	}
}

func TestRetryControllerWaitsForTimeout(t *testing.T) {
	rc := NewRetryController(10*time.Second, 3)
	require.NoError(t, rc.Register(RequestLogin, protocol.CmdLogin, nil, t0))

	resend, failed := rc.Tick(t0.Add(9 * time.Second))
	assert.Empty(t, resend)
	assert.Empty(t, failed)

	assert.True(t, rc.OnReply(RequestLogin))
	assert.False(t, rc.OnReply(RequestLogin))

	resend, failed = rc.Tick(t0.Add(time.Hour))
	assert.Empty(t, resend)
	assert.Empty(t, failed)
}

func TestRetryControllerMostRecent(t *testing.T) {
	rc := NewRetryController(0, 0)
	assert.Equal(t, DefaultReplyTimeout, rc.Timeout())
	assert.Equal(t, DefaultMaxRetries, rc.MaxRetries())

	_, ok := rc.MostRecent()
	assert.False(t, ok)

	require.NoError(t, rc.Register(RequestLogin, protocol.CmdLogin, nil, t0))
	require.NoError(t, rc.Register(RequestGameOpen, protocol.CmdGameOpen, nil, t0))

	p, ok := rc.MostRecent()
	require.True(t, ok)
	assert.Equal(t, RequestGameOpen, p.Kind)

	rc.Clear()
	assert.Zero(t, rc.Len())
}

func TestChallengeIsSingleUse(t *testing.T) {
	c := NewChallenge("n0nc3")
	hash := protocol.HashPassword("secret")

	resp, err := c.Respond(hash)
	require.NoError(t, err)
	assert.Equal(t, protocol.ChallengeResponse("n0nc3", hash), resp)
	assert.True(t, c.Used())

	_, err = c.Respond(hash)
	assert.ErrorIs(t, err, ErrChallengeUsed)
}
