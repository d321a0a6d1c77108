package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "METACLIENT_"

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped; variables already set are not overwritten.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return err
	}
	log.Debug().Strs("files", existing).Msg("environment files loaded")
	return nil
}

// ApplyEnv overlays METACLIENT_* environment variables on cfg.
func ApplyEnv(cfg *Config) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	a := &cfg.Account
	a.Nickname = getEnv("NICKNAME", a.Nickname)
	a.Registered = getEnvBool("REGISTERED", a.Registered)
	a.PasswordHash = getEnv("PASSWORD_HASH", a.PasswordHash)

	m := &cfg.Metaserver
	m.Host = getEnv("HOST", m.Host)
	m.Port = getEnvInt("PORT", m.Port)
	m.BuildID = getEnv("BUILD_ID", m.BuildID)
	m.AutoReconnect = getEnvBool("AUTO_RECONNECT", m.AutoReconnect)

	app := &cfg.ApplicationData
	app.API.Enabled = getEnvBool("API_ENABLED", app.API.Enabled)
	app.API.Port = getEnvInt("API_PORT", app.API.Port)
	app.MQTT.Enabled = getEnvBool("MQTT_ENABLED", app.MQTT.Enabled)
	app.MQTT.BrokerURL = getEnv("MQTT_BROKER", app.MQTT.BrokerURL)
	app.History.Enabled = getEnvBool("HISTORY_ENABLED", app.History.Enabled)
	app.History.DBPath = getEnv("HISTORY_DB", app.History.DBPath)
	app.Logging.Level = getEnv("LOG_LEVEL", app.Logging.Level)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
