package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

var sha1Hex = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateAccount(&cfg.Account, result)
	validateMetaserver(&cfg.Metaserver, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateAccount(a *Account, result *ValidationResult) {
	nick := strings.TrimSpace(a.Nickname)
	if nick == "" {
		result.AddError("account.nickname", "nickname is required")
	}
	if strings.ContainsRune(a.Nickname, 0) {
		result.AddError("account.nickname", "nickname must not contain NUL bytes")
	}

	if a.Registered {
		if a.PasswordHash == "" {
			result.AddError("account.password_hash", "password hash is required for a registered account")
		} else if !sha1Hex.MatchString(a.PasswordHash) {
			result.AddError("account.password_hash", "password hash must be 40 lowercase hex characters")
		}
	} else if a.PasswordHash != "" {
		result.AddWarning("account.password_hash", "password hash is ignored for an unregistered account")
	}
}

func validateMetaserver(m *Metaserver, result *ValidationResult) {
	if strings.TrimSpace(m.Host) == "" {
		result.AddError("metaserver.host", "metaserver host is required")
	}
	validatePort(m.Port, "metaserver.port", result)
	validatePort(m.RelayPort, "metaserver.relay_port", result)

	if m.ProtocolVersion < 1 {
		result.AddError("metaserver.protocol_version", "protocol version must be positive")
	}
	if strings.TrimSpace(m.BuildID) == "" {
		result.AddWarning("metaserver.build_id", "empty build id, the server may reject the login")
	}

	if m.ReplyTimeoutSec < 1 {
		result.AddError("metaserver.reply_timeout_sec", "reply timeout must be at least 1 second")
	}
	if m.MaxRetries < 1 {
		result.AddError("metaserver.max_retries", "at least one attempt is required")
	}
	if m.InactivityWindowSec < 1 {
		result.AddError("metaserver.inactivity_window_sec", "inactivity window must be at least 1 second")
	} else if m.InactivityWindowSec <= m.ReplyTimeoutSec {
		result.AddWarning("metaserver.inactivity_window_sec",
			"inactivity window not longer than the reply timeout, keepalive may expire first")
	}
	if m.TickIntervalMs < 1 {
		result.AddError("metaserver.tick_interval_ms", "tick interval must be positive")
	} else if m.TickIntervalMs > 1000 {
		result.AddWarning("metaserver.tick_interval_ms",
			fmt.Sprintf("tick interval of %dms will make the session sluggish", m.TickIntervalMs))
	}

	if m.AutoReconnect && m.ReconnectDelaySec < 1 {
		result.AddWarning("metaserver.reconnect_delay_sec",
			"reconnect delay below 1 second may hammer the metaserver")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	// API
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"command rate limit is disabled (0 RPS), API callers can flood the metaserver session")
		}
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
		if data.MQTT.UseTLS && (data.MQTT.CertFile == "") != (data.MQTT.KeyFile == "") {
			result.AddError("application_data.mqtt.cert_file", "client certificate and key must be set together")
		}
	}

	// History
	if data.History.Enabled && strings.TrimSpace(data.History.DBPath) == "" {
		result.AddError("application_data.history.db_path", "history database path is required when enabled")
	}
	if data.History.Enabled && data.History.RetentionDays > 0 && !validClock(data.History.CleanupTime) {
		result.AddError("application_data.history.cleanup_time", "cleanup time must be HH:MM")
	}
	if data.History.RetentionDays < 0 {
		result.AddError("application_data.history.retention_days", "retention days cannot be negative")
	}
}

// validClock reports whether s is a 24h HH:MM time.
func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
