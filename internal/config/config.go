// Package config handles configuration loading, validation, and persistence
// for the metaserver client.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wlnet/metaclient/internal/protocol"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 7380
	DefaultHost       = "widelands.org"

	// ReconnectUUIDLifetime is how long a reconnect UUID survives without
	// activity before it is replaced.
	ReconnectUUIDLifetime = 24 * time.Hour
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Account         Account         `json:"account"`
	Metaserver      Metaserver      `json:"metaserver"`
	ApplicationData ApplicationData `json:"application_data"`
}

// Account is the persisted identity. The password itself is never stored,
// only its SHA-1 hex digest.
type Account struct {
	Nickname      string    `json:"nickname"`
	Registered    bool      `json:"registered"`
	PasswordHash  string    `json:"password_hash"`
	ReconnectUUID string    `json:"reconnect_uuid"`
	LastActive    time.Time `json:"last_active"`
}

// Metaserver holds connection and protocol tuning.
type Metaserver struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	RelayPort       int    `json:"relay_port"`
	ProtocolVersion int    `json:"protocol_version"`
	BuildID         string `json:"build_id"`

	DialTimeoutSec      int `json:"dial_timeout_sec"`
	ReplyTimeoutSec     int `json:"reply_timeout_sec"`
	MaxRetries          int `json:"max_retries"`
	InactivityWindowSec int `json:"inactivity_window_sec"`
	TickIntervalMs      int `json:"tick_interval_ms"`

	AutoReconnect        bool `json:"auto_reconnect"`
	ReconnectDelaySec    int  `json:"reconnect_delay_sec"`
	MaxReconnectAttempts int  `json:"max_reconnect_attempts"`
}

// Address returns host:port of the metaserver.
func (m Metaserver) Address() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// DialTimeout returns the dial timeout as a duration.
func (m Metaserver) DialTimeout() time.Duration {
	return time.Duration(m.DialTimeoutSec) * time.Second
}

// ReplyTimeout returns the per-attempt reply timeout as a duration.
func (m Metaserver) ReplyTimeout() time.Duration {
	return time.Duration(m.ReplyTimeoutSec) * time.Second
}

// InactivityWindow returns the keepalive window as a duration.
func (m Metaserver) InactivityWindow() time.Duration {
	return time.Duration(m.InactivityWindowSec) * time.Second
}

// TickInterval returns the session tick interval as a duration.
func (m Metaserver) TickInterval() time.Duration {
	return time.Duration(m.TickIntervalMs) * time.Millisecond
}

// ReconnectDelay returns the pause before an automatic reconnect.
func (m Metaserver) ReconnectDelay() time.Duration {
	return time.Duration(m.ReconnectDelaySec) * time.Second
}

// ApplicationData contains the embedding application's configuration.
type ApplicationData struct {
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	History HistoryConfig `json:"history"`
	Logging LoggingConfig `json:"logging"`
	Timers  TimersConfig  `json:"timers"`
}

// APIConfig holds the local REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// HistoryConfig holds the chat/session history store settings.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"db_path"`
	RetentionDays int    `json:"retention_days"`
	// CleanupTime is the local HH:MM at which old history is pruned.
	CleanupTime string `json:"cleanup_time"`
}

// TimersConfig holds health check intervals in seconds. Zero disables a
// check.
type TimersConfig struct {
	SessionCheckInterval  int `json:"session_check_interval"`
	DiskCheckInterval     int `json:"disk_check_interval"`
	ResourceCheckInterval int `json:"resource_check_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Metaserver: Metaserver{
			Host:                 DefaultHost,
			Port:                 protocol.DefaultMetaserverPort,
			RelayPort:            protocol.DefaultRelayPort,
			ProtocolVersion:      protocol.ProtocolVersion,
			BuildID:              "metaclient",
			DialTimeoutSec:       10,
			ReplyTimeoutSec:      10,
			MaxRetries:           3,
			InactivityWindowSec:  60,
			TickIntervalMs:       50,
			AutoReconnect:        true,
			ReconnectDelaySec:    5,
			MaxReconnectAttempts: 10,
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled:        true,
				Port:           DefaultAPIPort,
				AllowedOrigins: []string{"http://localhost:3000"},
				RateLimitRPS:   20,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				Port:        1883,
				TopicPrefix: "metaclient",
			},
			History: HistoryConfig{
				Enabled:       true,
				DBPath:        filepath.Join("data", "history.db"),
				RetentionDays: 30,
				CleanupTime:   "04:00",
			},
			Logging: LoggingConfig{
				Level:     "info",
				Directory: "logs",
			},
			Timers: TimersConfig{
				SessionCheckInterval:  60,
				DiskCheckInterval:     600,
				ResourceCheckInterval: 300,
			},
		},
	}
}

// Load reads configuration from a JSON file, then applies environment
// overrides (see ApplyEnv).
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			ApplyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file always lists every option, including ones added
	// after it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	ApplyEnv(cfg)
	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file holds a password hash.
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetAccount returns a copy of the account section.
func (c *Config) GetAccount() Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Account
}

// SetAccount replaces the account section.
func (c *Config) SetAccount(a Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Account = a
}

// GetMetaserver returns a copy of the metaserver section.
func (c *Config) GetMetaserver() Metaserver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Metaserver
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// EnsureReconnectUUID returns the reconnect UUID to log in with. A missing
// UUID, or one unused for longer than ReconnectUUIDLifetime, is replaced by
// a fresh random one; rotated reports that. The activity clock is reset
// either way.
func (c *Config) EnsureReconnectUUID(now time.Time) (id string, rotated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := &c.Account
	if a.ReconnectUUID == "" || a.LastActive.IsZero() || now.Sub(a.LastActive) > ReconnectUUIDLifetime {
		a.ReconnectUUID = uuid.NewString()
		rotated = true
	}
	a.LastActive = now
	return a.ReconnectUUID, rotated
}

// SetReconnectUUID stores a UUID handed out by the session.
func (c *Config) SetReconnectUUID(id string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Account.ReconnectUUID = id
	c.Account.LastActive = now
}

// Touch records activity so the reconnect UUID stays valid.
func (c *Config) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Account.LastActive = now
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Account.Nickname == ""
}
