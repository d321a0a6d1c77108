// Package cli implements the interactive command-line interface of the
// metaserver client: lobby tables, chat, game negotiation and history.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/wlnet/metaclient/internal/connector"
	"github.com/wlnet/metaclient/internal/db"
	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/protocol"
)

// Controller is the session surface the CLI drives.
type Controller interface {
	Status() connector.Status
	Login(ctx context.Context) error
	Logout(ctx context.Context, reason string) error
	Games(ctx context.Context) ([]protocol.GameListing, error)
	Clients(ctx context.Context) ([]protocol.ClientListing, error)
	HostGame(ctx context.Context, name string) error
	JoinGame(ctx context.Context, name string) error
	StartGame(ctx context.Context) error
	LeaveGame(ctx context.Context) error
	SendChat(ctx context.Context, message, recipient string) error
	SendAdminCommand(ctx context.Context, command string, args ...string) error
}

// HistoryStore is the read side of the history database.
type HistoryStore interface {
	RecentChat(limit int) ([]db.ChatRecord, error)
	RecentNotices(limit int) ([]db.NoticeRecord, error)
	RecentSessions(limit int) ([]db.SessionRecord, error)
}

var (
	_ Controller   = (*connector.MetaserverConnector)(nil)
	_ HistoryStore = (*db.HistoryDatabase)(nil)
)

const (
	prompt             = "metaclient> "
	defaultHistorySize = 20
	lobbyWait          = 3 * time.Second
)

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.EventBus
	ctl      Controller
	history  HistoryStore

	in  io.Reader
	out io.Writer
}

// NewCLI creates a new CLI handler. history may be nil when the history
// store is disabled.
func NewCLI(eventBus *events.EventBus, ctl Controller, history HistoryStore, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		eventBus: eventBus,
		ctl:      ctl,
		history:  history,
		in:       in,
		out:      out,
	}
}

// Start begins the interactive CLI loop. It returns on EOF or quit, and
// checks ctx between lines.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nmetaclient ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	reader := newLineReader(c.in, c.out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine(prompt)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Msg("CLI: input closed")
			}
			return
		}
		if c.handleLine(ctx, line) {
			return
		}
	}
}

// handleLine runs one input line and reports whether the CLI should stop.
func (c *CLI) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	if cmd == "quit" || cmd == "exit" || cmd == "q" {
		fmt.Fprintln(c.out, "Shutting down metaclient...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
			Time:   time.Now(),
		})
		return true
	}

	if err := c.execute(ctx, cmd, args); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "games", "g":
		return c.cmdGames(ctx)
	case "clients", "who":
		return c.cmdClients(ctx)
	case "chat", "say":
		return c.cmdChat(ctx, args)
	case "msg", "whisper":
		return c.cmdWhisper(ctx, args)
	case "cmd":
		return c.cmdAdmin(ctx, args)
	case "host":
		return c.cmdHost(ctx, args)
	case "join":
		return c.cmdJoin(ctx, args)
	case "start":
		return c.cmdStart(ctx)
	case "leave":
		return c.cmdLeave(ctx)
	case "login", "reconnect":
		return c.cmdLogin(ctx)
	case "logout":
		return c.cmdLogout(ctx, args)
	case "history":
		return c.cmdHistory(args)
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                    metaclient CLI Commands                   ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status             Show the session status                  ║")
	fmt.Fprintln(c.out, "║  games              List open games                          ║")
	fmt.Fprintln(c.out, "║  clients            List connected clients                   ║")
	fmt.Fprintln(c.out, "║  chat <message>     Send a public chat line                  ║")
	fmt.Fprintln(c.out, "║  msg <nick> <text>  Send a private message                   ║")
	fmt.Fprintln(c.out, "║  cmd <name> [args]  Send an admin command                    ║")
	fmt.Fprintln(c.out, "║  host <game>        Open a game on the relay                 ║")
	fmt.Fprintln(c.out, "║  join <game>        Join a game on the relay                 ║")
	fmt.Fprintln(c.out, "║  start              Start the hosted game                    ║")
	fmt.Fprintln(c.out, "║  leave              Leave the current game                   ║")
	fmt.Fprintln(c.out, "║  login              Log in to the metaserver                 ║")
	fmt.Fprintln(c.out, "║  logout [reason]    Disconnect from the metaserver           ║")
	fmt.Fprintln(c.out, "║  history <kind> [n] Show chat, notices or sessions           ║")
	fmt.Fprintln(c.out, "║  quit               Shutdown metaclient                      ║")
	fmt.Fprintln(c.out, "║  help               Show this help message                   ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

// printStatus prints the current session status.
func (c *CLI) printStatus() {
	st := c.ctl.Status()

	fmt.Fprintf(c.out, "\n  State:        %s\n", st.State)
	fmt.Fprintf(c.out, "  Server:       %s\n", st.Server)
	if st.LoggedIn() {
		fmt.Fprintf(c.out, "  Nickname:     %s\n", st.Nickname)
		fmt.Fprintf(c.out, "  Rights:       %s\n", st.Rights)
	}
	if !st.Since.IsZero() {
		fmt.Fprintf(c.out, "  Since:        %s\n", st.Since.Format(time.RFC3339))
	}
	fmt.Fprintf(c.out, "  Time offset:  %s\n", st.ServerTimeOffset)
	fmt.Fprintf(c.out, "  Pending:      %d\n", st.PendingRequests)
	fmt.Fprintf(c.out, "  Reconnects:   %d\n", st.Reconnects)
	if st.LastError != "" {
		fmt.Fprintf(c.out, "  Last error:   %s\n", st.LastError)
	}
	if h := st.Handoff; h != nil {
		fmt.Fprintf(c.out, "  Game:         %s (%s)\n", h.Game, h.Role)
		fmt.Fprintf(c.out, "  Relay:        %s\n", endpointString(h.Endpoint))
	}
	fmt.Fprintln(c.out)
}

func (c *CLI) cmdGames(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, lobbyWait)
	defer cancel()

	games, err := c.ctl.Games(ctx)
	if err != nil {
		return err
	}
	if len(games) == 0 {
		fmt.Fprintln(c.out, "No open games")
		return nil
	}

	tw := c.newTable("Host", "Version", "Status")
	for _, g := range games {
		tw.Append([]string{g.Hostname, g.Version, g.Status.String()})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, lobbyWait)
	defer cancel()

	clients, err := c.ctl.Clients(ctx)
	if err != nil {
		return err
	}
	if len(clients) == 0 {
		fmt.Fprintln(c.out, "No clients online")
		return nil
	}

	tw := c.newTable("Name", "Version", "Game", "Rights")
	for _, cl := range clients {
		game := cl.Game
		if !cl.InGame() {
			game = "-"
		}
		tw.Append([]string{cl.Name, cl.Version, game, cl.Rights.String()})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdChat(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chat <message>")
	}
	return c.ctl.SendChat(ctx, strings.Join(args, " "), "")
}

func (c *CLI) cmdWhisper(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: msg <nickname> <message>")
	}
	if err := c.ctl.SendChat(ctx, strings.Join(args[1:], " "), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Message sent to %s\n", args[0])
	return nil
}

func (c *CLI) cmdAdmin(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: cmd <command> [args...]")
	}
	return c.ctl.SendAdminCommand(ctx, args[0], args[1:]...)
}

func (c *CLI) cmdHost(ctx context.Context, args []string) error {
	name, err := gameArg("host", args)
	if err != nil {
		return err
	}
	if err := c.ctl.HostGame(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Opening game %q...\n", name)
	return nil
}

func (c *CLI) cmdJoin(ctx context.Context, args []string) error {
	name, err := gameArg("join", args)
	if err != nil {
		return err
	}
	if err := c.ctl.JoinGame(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Joining game %q...\n", name)
	return nil
}

func (c *CLI) cmdStart(ctx context.Context) error {
	if err := c.ctl.StartGame(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Game start announced")
	return nil
}

func (c *CLI) cmdLeave(ctx context.Context) error {
	if err := c.ctl.LeaveGame(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Left the game")
	return nil
}

func (c *CLI) cmdLogin(ctx context.Context) error {
	if err := c.ctl.Login(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Login initiated")
	return nil
}

func (c *CLI) cmdLogout(ctx context.Context, args []string) error {
	reason := strings.Join(args, " ")
	if reason == "" {
		reason = "CLIENT_LEFT"
	}
	if err := c.ctl.Logout(ctx, reason); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Logged out")
	return nil
}

func (c *CLI) cmdHistory(args []string) error {
	if c.history == nil {
		return fmt.Errorf("history is disabled")
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: history <chat|notices|sessions> [count]")
	}

	limit := defaultHistorySize
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[1])
		}
		limit = n
	}

	switch strings.ToLower(args[0]) {
	case "chat":
		records, err := c.history.RecentChat(limit)
		if err != nil {
			return err
		}
		tw := c.newTable("Time", "Sender", "Type", "Message")
		for _, r := range records {
			tw.Append([]string{r.ReceivedAt.Local().Format(time.Stamp), r.Sender, r.Type, r.Message})
		}
		tw.Render()
	case "notices":
		records, err := c.history.RecentNotices(limit)
		if err != nil {
			return err
		}
		tw := c.newTable("Time", "Kind", "Text")
		for _, r := range records {
			tw.Append([]string{r.ReceivedAt.Local().Format(time.Stamp), r.Kind, r.Text})
		}
		tw.Render()
	case "sessions":
		records, err := c.history.RecentSessions(limit)
		if err != nil {
			return err
		}
		tw := c.newTable("ID", "Nickname", "Rights", "Started", "Ended", "Reason")
		for _, r := range records {
			ended := "-"
			if r.EndedAt != nil {
				ended = r.EndedAt.Local().Format(time.Stamp)
			}
			tw.Append([]string{
				strconv.FormatInt(r.ID, 10),
				r.Nickname,
				r.Rights,
				r.StartedAt.Local().Format(time.Stamp),
				ended,
				r.EndReason,
			})
		}
		tw.Render()
	default:
		return fmt.Errorf("unknown history kind: %s", args[0])
	}
	return nil
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func gameArg(verb string, args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("usage: %s <game name>", verb)
	}
	return strings.Join(args, " "), nil
}

func endpointString(ep protocol.RelayEndpoint) string {
	if ep.HasSecondary() {
		return ep.PrimaryIP + " / " + ep.SecondaryIP
	}
	return ep.PrimaryIP
}

// lineReader reads prompted lines from an input stream.
type lineReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func newLineReader(in io.Reader, out io.Writer) *lineReader {
	return &lineReader{scanner: bufio.NewScanner(in), out: out}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(lr.out, prompt)
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return lr.scanner.Text(), nil
}
