package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wlnet/metaclient/internal/protocol"
)

// RunSetupWizard guides the user through first-time configuration. Only the
// hash of the password is kept.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║        Metaclient - First Run Setup          ║")
	fmt.Fprintln(out, "╠══════════════════════════════════════════════╣")
	fmt.Fprintln(out, "║  Welcome! Let's set up your lobby account.   ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	acct := cfg.GetAccount()
	ms := cfg.GetMetaserver()
	app := cfg.GetApplicationData()

	fmt.Fprintln(out, "── Account ──")

	acct.Nickname = promptString(reader, out, "Nickname", acct.Nickname)
	acct.Registered = promptBool(reader, out, "Registered account", acct.Registered)
	if acct.Registered {
		if password := promptPassword(reader, out, "Password (leave blank to keep current)"); password != "" {
			acct.PasswordHash = protocol.HashPassword(password)
		}
	} else {
		acct.PasswordHash = ""
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Metaserver ──")

	ms.Host = promptString(reader, out, "Metaserver host", ms.Host)
	ms.Port = promptInt(reader, out, "Metaserver port", ms.Port)
	ms.AutoReconnect = promptBool(reader, out, "Reconnect automatically", ms.AutoReconnect)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Local API ──")

	app.API.Enabled = promptBool(reader, out, "Enable REST API", app.API.Enabled)
	if app.API.Enabled {
		app.API.Port = promptInt(reader, out, "REST API port", app.API.Port)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── MQTT Telemetry ──")

	app.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", app.MQTT.Enabled)
	if app.MQTT.Enabled {
		app.MQTT.BrokerURL = promptString(reader, out, "MQTT broker host", app.MQTT.BrokerURL)
	}

	cfg.SetAccount(acct)
	cfg.mu.Lock()
	cfg.Metaserver = ms
	cfg.mu.Unlock()
	cfg.SetApplicationData(app)

	// Validate before saving
	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved successfully!")
	fmt.Fprintln(out)

	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptPassword(reader *bufio.Reader, out io.Writer, prompt string) string {
	fmt.Fprintf(out, "  %s: ", prompt)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
