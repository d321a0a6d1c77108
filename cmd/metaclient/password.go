package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wlnet/metaclient/internal/config"
	"github.com/wlnet/metaclient/internal/connector"
	"github.com/wlnet/metaclient/internal/protocol"
	"github.com/wlnet/metaclient/internal/util"
)

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the hash stored in place of a password",
		Long: `hash-password prints the SHA-1 hex digest the client stores and sends
instead of the plain password. Without an argument the password is read
from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := passwordArg(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), protocol.HashPassword(password))
			return nil
		},
	}
}

func newCheckPasswordCmd(flags *globalFlags) *cobra.Command {
	var (
		nickname string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "check-password [password]",
		Short: "Ask the metaserver whether a password is valid",
		Long: `check-password logs in with CHECK_PWD, reports the rights the server
grants and disconnects. The nickname defaults to the configured account.
Without a password argument the stored password hash is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := util.InitLogger(util.LogConfig{Level: "warn", Console: true}); err != nil {
				return err
			}

			cfg, err := config.Load(flags.configDir)
			if err != nil {
				return err
			}
			account := cfg.GetAccount()
			if nickname == "" {
				nickname = account.Nickname
			}
			if nickname == "" {
				return fmt.Errorf("no nickname given and none configured")
			}

			hash := account.PasswordHash
			if len(args) > 0 {
				hash = protocol.HashPassword(args[0])
			}
			if hash == "" {
				return fmt.Errorf("no password given and no password hash configured")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			id, err := connector.CheckPassword(ctx, cfg, nickname, hash, nil)
			if err != nil {
				return fmt.Errorf("password check failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted: %s (%s)\n", id.Nickname, id.Rights)
			return nil
		},
	}

	cmd.Flags().StringVarP(&nickname, "nickname", "n", "", "Nickname to check (default: configured account)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}

// passwordArg returns the positional password or the first stdin line.
func passwordArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return "", fmt.Errorf("empty password")
	}
	return line, nil
}
