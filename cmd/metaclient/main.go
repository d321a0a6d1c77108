// metaclient - Widelands metaserver client
//
// metaclient keeps a session with the Widelands metaserver: it logs in,
// answers keepalives, mirrors the lobby, negotiates relay games and
// exposes all of it through an interactive CLI, a local REST/websocket
// API and MQTT telemetry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wlnet/metaclient/internal/config"
)

const (
	AppName    = "metaclient"
	AppVersion = "1.0.0"
	Banner     = `
                 _             _ _            _
  _ __ ___   ___| |_ __ _  ___| (_) ___ _ __ | |_
 | '_ ' _ \ / _ \ __/ _' |/ __| | |/ _ \ '_ \| __|
 | | | | | |  __/ || (_| | (__| | |  __/ | | | |_
 |_| |_| |_|\___|\__\__,_|\___|_|_|\___|_| |_|\__|
                                          v%s
 Widelands metaserver client
`
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configDir string
	envFiles  []string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "metaclient",
		Short: "Widelands metaserver client",
		Long: `metaclient connects to a Widelands metaserver, keeps the session alive
and exposes lobby, chat and relay negotiation through a CLI, a local
REST/websocket API and MQTT.

Settings come from config/config.json, overridden by METACLIENT_*
environment variables, which may be loaded from .env files.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFiles(flags.envFiles...)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configDir, "config-dir", config.DefaultConfigDir, "Directory holding config.json")
	rootCmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "Environment files to load before reading the config")

	rootCmd.AddCommand(newRunCmd(flags))
	rootCmd.AddCommand(newCheckPasswordCmd(flags))
	rootCmd.AddCommand(newHashPasswordCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", AppName, AppVersion)
		},
	})

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
