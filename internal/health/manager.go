// Package health runs periodic checks on the client: whether the metaserver
// session is where it should be, how full the data disk is, and how much the
// process is using.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/wlnet/metaclient/internal/config"
	"github.com/wlnet/metaclient/internal/connector"
	"github.com/wlnet/metaclient/internal/util"
)

// Level grades a check result.
type Level string

const (
	LevelOK       Level = "ok"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Result is the latest outcome of one check.
type Result struct {
	Name      string    `json:"name"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

// StatusSource reports the session status. *connector.MetaserverConnector
// implements it.
type StatusSource interface {
	Status() connector.Status
}

// stuckAfter is how long a session may sit with unanswered requests, or
// offline after a failure, before the session check complains.
const stuckAfter = 2 * time.Minute

// Manager runs periodic health checks.
type Manager struct {
	cfg    *config.Config
	status StatusSource
	now    func() time.Time

	diskUsage func(path string) (*disk.UsageStat, error)

	mu      sync.RWMutex
	results map[string]Result
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, status StatusSource) *Manager {
	return &Manager{
		cfg:       cfg,
		status:    status,
		now:       time.Now,
		diskUsage: disk.Usage,
		results:   make(map[string]Result),
	}
}

// Start launches the health check goroutines and blocks until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.GetApplicationData().Timers

	checks := []struct {
		name     string
		interval int
		fn       func() Result
	}{
		{"session", timers.SessionCheckInterval, m.checkSession},
		{"disk_utilization", timers.DiskCheckInterval, m.checkDiskUtilization},
		{"resources", timers.ResourceCheckInterval, m.checkResources},
	}

	var wg sync.WaitGroup
	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			// Run immediately on startup
			m.record(check.fn())

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.record(check.fn())
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("health check manager stopped")
}

// Results returns the latest result of every check that has run, sorted by
// name.
func (m *Manager) Results() []Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) record(r Result) {
	m.mu.Lock()
	prev, seen := m.results[r.Name]
	m.results[r.Name] = r
	m.mu.Unlock()

	lvl := zerolog.DebugLevel
	switch r.Level {
	case LevelWarning:
		lvl = zerolog.WarnLevel
	case LevelError, LevelCritical:
		lvl = zerolog.ErrorLevel
	}
	// Repeated bad results are logged at debug level only.
	if seen && prev.Level == r.Level && r.Level != LevelOK {
		lvl = zerolog.DebugLevel
	}
	log.WithLevel(lvl).Str("check", r.Name).Str("level", string(r.Level)).Msg(r.Message)
}

func (m *Manager) result(name string, level Level, format string, args ...interface{}) Result {
	return Result{Name: name, Level: level, Message: fmt.Sprintf(format, args...), CheckedAt: m.now()}
}

// checkSession flags a session that lost its connection or stopped getting
// answers.
func (m *Manager) checkSession() Result {
	if m.status == nil {
		return m.result("session", LevelInfo, "no session")
	}
	st := m.status.Status()
	since := m.now().Sub(st.Since)

	switch {
	case st.LastError != "" && !st.LoggedIn() && since > stuckAfter:
		return m.result("session", LevelError, "session offline for %s: %s", since.Round(time.Second), st.LastError)
	case st.PendingRequests > 0 && since > stuckAfter:
		return m.result("session", LevelWarning, "%d requests unanswered in state %s", st.PendingRequests, st.State)
	case st.LoggedIn():
		return m.result("session", LevelOK, "logged in as %s (%s)", st.Nickname, st.Rights)
	default:
		return m.result("session", LevelInfo, "session %s", st.State)
	}
}

// checkDiskUtilization grades free space on the volume holding the history
// database.
func (m *Manager) checkDiskUtilization() Result {
	path := filepath.Dir(m.cfg.GetApplicationData().History.DBPath)
	if path == "" || !util.FileExists(path) {
		path = "."
	}

	usage, err := m.diskUsage(path)
	if err != nil {
		return m.result("disk_utilization", LevelWarning, "disk utilization check failed: %v", err)
	}

	level := LevelOK
	switch {
	case usage.UsedPercent >= 100:
		level = LevelCritical
	case usage.UsedPercent >= 95:
		level = LevelError
	case usage.UsedPercent >= 90:
		level = LevelWarning
	case usage.UsedPercent >= 80:
		level = LevelInfo
	}

	return m.result("disk_utilization", level, "disk usage at %.1f%% (%d MB free of %d MB)",
		usage.UsedPercent, usage.Free/1024/1024, usage.Total/1024/1024)
}

// checkResources reports process memory and goroutine counts.
func (m *Manager) checkResources() Result {
	usage := util.GetResourceUsage()

	level := LevelOK
	if usage.MemoryUsedPercent >= 95 {
		level = LevelWarning
	}
	return m.result("resources", level, "rss %d MB, %d goroutines, system memory %.1f%%",
		usage.ProcessRSSMB, usage.Goroutines, usage.MemoryUsedPercent)
}
