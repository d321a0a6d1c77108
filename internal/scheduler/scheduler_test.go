package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wlnet/metaclient/internal/config"
)

type fakePruner struct {
	cutoff  time.Time
	removed int64
	err     error
	calls   int
}

func (f *fakePruner) Prune(before time.Time) (int64, error) {
	f.calls++
	f.cutoff = before
	return f.removed, f.err
}

func TestNextCleanupTime(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 10, 12, 30, 0, 0, loc)

	tests := []struct {
		name  string
		clock string
		want  time.Time
	}{
		{"later today", "18:15", time.Date(2026, 3, 10, 18, 15, 0, 0, loc)},
		{"already passed", "04:00", time.Date(2026, 3, 11, 4, 0, 0, 0, loc)},
		{"exactly now", "12:30", time.Date(2026, 3, 11, 12, 30, 0, 0, loc)},
		{"garbage uses default", "soon", time.Date(2026, 3, 11, 4, 0, 0, 0, loc)},
		{"out of range uses default", "25:99", time.Date(2026, 3, 11, 4, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextCleanupTime(tt.clock, now))
		})
	}
}

func TestRunRetention(t *testing.T) {
	cfg := config.DefaultConfig()
	now := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	p := &fakePruner{removed: 12}

	s := NewScheduler(cfg, p)
	s.now = func() time.Time { return now }

	assert.Equal(t, int64(12), s.RunRetention())
	assert.Equal(t, now.Add(-30*24*time.Hour), p.cutoff)
}

func TestRunRetentionFailure(t *testing.T) {
	p := &fakePruner{err: errors.New("disk full")}
	s := NewScheduler(config.DefaultConfig(), p)
	assert.Zero(t, s.RunRetention())
	assert.Equal(t, 1, p.calls)
}

func TestRetentionDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	data := cfg.GetApplicationData()
	data.History.RetentionDays = 0
	cfg.SetApplicationData(data)

	p := &fakePruner{}
	s := NewScheduler(cfg, p)
	assert.Zero(t, s.RunRetention())
	assert.Zero(t, p.calls)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s := NewScheduler(config.DefaultConfig(), &fakePruner{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
