// Package protocol implements the text command codec spoken between the
// client and the metaserver. Every packet is a 2-byte big-endian length
// prefix (counting the prefix itself) followed by NUL-terminated string
// fields. The first field names the command; numbers and booleans travel
// as their decimal / "true"/"false" text form.
package protocol

// Command identifies a metaserver command. The set is closed: anything the
// codec does not recognize decodes to CmdUnknown.
type Command int

const (
	CmdUnknown Command = iota

	// Handshake
	CmdLogin        // client: version, nick, build, registered, uuid / server: nick, rights
	CmdCheckPwd     // client: version, nick, build
	CmdPwdChallenge // server: nonce / client: response
	CmdPwdOK        // server: nick, rights
	CmdError        // server: offending command, reason
	CmdDisconnect   // both: reason

	// Lobby
	CmdTime          // server: unix time
	CmdMotd          // server: text
	CmdAnnouncement  // server: text
	CmdCmd           // client: command, args (superuser only)
	CmdPing          // server
	CmdPong          // client
	CmdChat          // both
	CmdGamesUpdate   // server notification
	CmdGames         // client pull / server list
	CmdClientsUpdate // server notification
	CmdClients       // client pull / server list

	// Games and relay hand-off
	CmdGameOpen       // client: name / server: challenge, primary, has_secondary, secondary
	CmdGameConnect    // client: name / server: primary, has_secondary, secondary
	CmdGameDisconnect // client
	CmdGameStart      // client, acknowledged by the server with the same code
)

var commandNames = map[Command]string{
	CmdLogin:          "LOGIN",
	CmdCheckPwd:       "CHECK_PWD",
	CmdPwdChallenge:   "PWD_CHALLENGE",
	CmdPwdOK:          "PWD_OK",
	CmdError:          "ERROR",
	CmdDisconnect:     "DISCONNECT",
	CmdTime:           "TIME",
	CmdMotd:           "MOTD",
	CmdAnnouncement:   "ANNOUNCEMENT",
	CmdCmd:            "CMD",
	CmdPing:           "PING",
	CmdPong:           "PONG",
	CmdChat:           "CHAT",
	CmdGamesUpdate:    "GAMES_UPDATE",
	CmdGames:          "GAMES",
	CmdClientsUpdate:  "CLIENTS_UPDATE",
	CmdClients:        "CLIENTS",
	CmdGameOpen:       "GAME_OPEN",
	CmdGameConnect:    "GAME_CONNECT",
	CmdGameDisconnect: "GAME_DISCONNECT",
	CmdGameStart:      "GAME_START",
}

var commandsByName = func() map[string]Command {
	m := make(map[string]Command, len(commandNames))
	for cmd, name := range commandNames {
		m[name] = cmd
	}
	return m
}()

// String returns the wire name of the command.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// LookupCommand maps a wire name to its Command, or CmdUnknown.
func LookupCommand(name string) Command {
	if cmd, ok := commandsByName[name]; ok {
		return cmd
	}
	return CmdUnknown
}

// Commands returns every known command, in declaration order.
func Commands() []Command {
	cmds := make([]Command, 0, len(commandNames))
	for c := CmdLogin; c <= CmdGameStart; c++ {
		cmds = append(cmds, c)
	}
	return cmds
}

// Error reasons and markers used in ERROR and DISCONNECT payloads.
const (
	GarbageReceived = "GARBAGE_RECEIVED"

	ReasonInvalidCmd          = "INVALID_CMD"
	ReasonUnsupportedProtocol = "UNSUPPORTED_PROTOCOL"
	ReasonWrongPassword       = "WRONG_PASSWORD"
	ReasonAlreadyLoggedIn     = "ALREADY_LOGGED_IN"
	ReasonDeficientPermission = "DEFICIENT_PERMISSION"
	ReasonNoSuchGame          = "NO_SUCH_GAME"
	ReasonGameExists          = "GAME_EXISTS"
	ReasonGameFull            = "GAME_FULL"
	ReasonClientTimeout       = "CLIENT_TIMEOUT"
	ReasonNormal              = "NORMAL"
)

// ProtocolVersion is the version announced in LOGIN and CHECK_PWD.
const ProtocolVersion = 6

// Default ports. These are configuration, not protocol.
const (
	DefaultMetaserverPort = 7395
	DefaultRelayPort      = 7397
)

// MaxPacketSize is the maximum size of a frame, length prefix included.
const MaxPacketSize = 65535

// LengthPrefixSize is the size of the length prefix in bytes.
const LengthPrefixSize = 2

// FieldDelimiter terminates every field on the wire.
const FieldDelimiter byte = 0x00

// Packet is a decoded command: its kind, the raw command name as received
// and the ordered payload fields.
type Packet struct {
	Command Command
	Name    string
	Fields  []string
}

// Known reports whether the packet carries a recognized command.
func (p *Packet) Known() bool {
	return p.Command != CmdUnknown
}
