package protocol

import (
	"fmt"
	"strconv"
)

// ChatType classifies an incoming chat line.
type ChatType string

const (
	ChatPublic  ChatType = "public"
	ChatPrivate ChatType = "private"
	ChatSystem  ChatType = "system"
)

// LoginRequest is the payload of a client LOGIN or CHECK_PWD.
type LoginRequest struct {
	Version    int
	Nickname   string
	BuildID    string
	Registered bool
	UUID       string
}

// Auth is the payload of a server LOGIN or PWD_OK reply.
type Auth struct {
	Nickname string
	Rights   Rights
}

// ErrorReply is the payload of a server ERROR.
type ErrorReply struct {
	// Command is the name of the command that provoked the error, or
	// GARBAGE_RECEIVED.
	Command string
	Reason  string
}

// ChatMessage is the payload of a server CHAT.
type ChatMessage struct {
	Sender  string   `json:"sender"`
	Message string   `json:"message"`
	Type    ChatType `json:"type"`
}

// GameOpenReply is the server answer to GAME_OPEN.
type GameOpenReply struct {
	Challenge string
	Endpoint  RelayEndpoint
}

// ============================================================================
// Client -> server
// ============================================================================

// BuildLogin creates a LOGIN packet.
func BuildLogin(req LoginRequest) ([]byte, error) {
	return NewPacketBuilder(CmdLogin).
		WriteInt(req.Version).
		WriteString(req.Nickname).
		WriteString(req.BuildID).
		WriteBool(req.Registered).
		WriteString(req.UUID).
		Build()
}

// BuildCheckPwd creates a CHECK_PWD packet.
func BuildCheckPwd(req LoginRequest) ([]byte, error) {
	return NewPacketBuilder(CmdCheckPwd).
		WriteInt(req.Version).
		WriteString(req.Nickname).
		WriteString(req.BuildID).
		Build()
}

// BuildChallengeResponse answers a PWD_CHALLENGE.
func BuildChallengeResponse(response string) ([]byte, error) {
	return Encode(CmdPwdChallenge, response)
}

// BuildChat creates an outgoing CHAT. An empty recipient means public.
func BuildChat(message, recipient string) ([]byte, error) {
	return Encode(CmdChat, message, recipient)
}

// BuildAdminCommand creates a CMD packet.
func BuildAdminCommand(command string, args ...string) ([]byte, error) {
	return NewPacketBuilder(CmdCmd).WriteString(command).WriteStrings(args...).Build()
}

// BuildGameOpen creates a GAME_OPEN packet.
func BuildGameOpen(name string) ([]byte, error) {
	return Encode(CmdGameOpen, name)
}

// BuildGameConnect creates a GAME_CONNECT packet.
func BuildGameConnect(name string) ([]byte, error) {
	return Encode(CmdGameConnect, name)
}

// BuildDisconnect creates a DISCONNECT packet.
func BuildDisconnect(reason string) ([]byte, error) {
	return Encode(CmdDisconnect, reason)
}

// ============================================================================
// Server -> client
// ============================================================================

// ParseAuth parses a server LOGIN or PWD_OK reply.
func ParseAuth(pkt *Packet) (Auth, error) {
	r := NewPacketReader(pkt)
	nick, err := r.ReadString()
	if err != nil {
		return Auth{}, err
	}
	rs, err := r.ReadString()
	if err != nil {
		return Auth{}, err
	}
	rights, err := ParseRights(rs)
	if err != nil {
		return Auth{}, fmt.Errorf("%s: %w", pkt.Name, err)
	}
	return Auth{Nickname: nick, Rights: rights}, nil
}

// ParseChallenge returns the nonce carried by PWD_CHALLENGE.
func ParseChallenge(pkt *Packet) (string, error) {
	return NewPacketReader(pkt).ReadString()
}

// ParseError parses an ERROR. A missing reason is tolerated.
func ParseError(pkt *Packet) (ErrorReply, error) {
	r := NewPacketReader(pkt)
	cmd, err := r.ReadString()
	if err != nil {
		return ErrorReply{}, err
	}
	reply := ErrorReply{Command: cmd}
	if r.Remaining() > 0 {
		reply.Reason, _ = r.ReadString()
	}
	return reply, nil
}

// ParseTime returns the server unix time carried by TIME.
func ParseTime(pkt *Packet) (int64, error) {
	return NewPacketReader(pkt).ReadInt64()
}

// ParseText returns the single text field of MOTD, ANNOUNCEMENT and
// DISCONNECT. Packets without a field yield an empty string.
func ParseText(pkt *Packet) string {
	if len(pkt.Fields) == 0 {
		return ""
	}
	return pkt.Fields[0]
}

// ParseChat parses a server CHAT: sender, message, type.
func ParseChat(pkt *Packet) (ChatMessage, error) {
	r := NewPacketReader(pkt)
	sender, err := r.ReadString()
	if err != nil {
		return ChatMessage{}, err
	}
	msg, err := r.ReadString()
	if err != nil {
		return ChatMessage{}, err
	}
	typ := ChatPublic
	if r.Remaining() > 0 {
		s, _ := r.ReadString()
		typ = ChatType(s)
	}
	return ChatMessage{Sender: sender, Message: msg, Type: typ}, nil
}

// ParseGames parses a GAMES reply: count, then hostname/version/status
// triples.
func ParseGames(pkt *Packet) ([]GameListing, error) {
	r := NewPacketReader(pkt)
	n, err := readCount(r, 3)
	if err != nil {
		return nil, err
	}
	games := make([]GameListing, 0, n)
	for i := 0; i < n; i++ {
		host, _ := r.ReadString()
		version, _ := r.ReadString()
		st, _ := r.ReadString()
		status, err := ParseGameStatus(st)
		if err != nil {
			return nil, fmt.Errorf("GAMES entry %d: %w", i, err)
		}
		games = append(games, GameListing{Hostname: host, Version: version, Status: status})
	}
	return games, nil
}

// ParseClients parses a CLIENTS reply: count, then name/version/game/rights
// quadruples.
func ParseClients(pkt *Packet) ([]ClientListing, error) {
	r := NewPacketReader(pkt)
	n, err := readCount(r, 4)
	if err != nil {
		return nil, err
	}
	clients := make([]ClientListing, 0, n)
	for i := 0; i < n; i++ {
		name, _ := r.ReadString()
		version, _ := r.ReadString()
		game, _ := r.ReadString()
		rs, _ := r.ReadString()
		rights, err := ParseRights(rs)
		if err != nil {
			return nil, fmt.Errorf("CLIENTS entry %d: %w", i, err)
		}
		clients = append(clients, ClientListing{Name: name, Version: version, Game: game, Rights: rights})
	}
	return clients, nil
}

// readCount reads a list length and checks that enough fields follow.
func readCount(r *PacketReader, perEntry int) (int, error) {
	n, err := r.ReadInt()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: negative count %d", r.pkt.Name, n)
	}
	// Divide rather than multiply: a hostile count must not wrap.
	if n > r.Remaining()/perEntry {
		return 0, fmt.Errorf("%s: count %d needs %d fields per entry, have %d: %w",
			r.pkt.Name, n, perEntry, r.Remaining(), ErrMissingField)
	}
	return n, nil
}

// ParseGameOpenReply parses the server GAME_OPEN reply.
func ParseGameOpenReply(pkt *Packet) (GameOpenReply, error) {
	r := NewPacketReader(pkt)
	challenge, err := r.ReadString()
	if err != nil {
		return GameOpenReply{}, err
	}
	ep, err := readEndpoint(r)
	if err != nil {
		return GameOpenReply{}, err
	}
	return GameOpenReply{Challenge: challenge, Endpoint: ep}, nil
}

// ParseGameConnectReply parses the server GAME_CONNECT reply.
func ParseGameConnectReply(pkt *Packet) (RelayEndpoint, error) {
	return readEndpoint(NewPacketReader(pkt))
}

func readEndpoint(r *PacketReader) (RelayEndpoint, error) {
	primary, err := r.ReadString()
	if err != nil {
		return RelayEndpoint{}, err
	}
	ep := RelayEndpoint{PrimaryIP: primary}
	if r.Remaining() == 0 {
		return ep, nil
	}
	has, err := r.ReadBool()
	if err != nil {
		return RelayEndpoint{}, err
	}
	if has {
		if ep.SecondaryIP, err = r.ReadString(); err != nil {
			return RelayEndpoint{}, err
		}
	}
	return ep, nil
}

// ============================================================================
// Server-side encoders, used by test peers and tooling
// ============================================================================

// BuildAuth creates a server LOGIN or PWD_OK reply.
func BuildAuth(cmd Command, a Auth) ([]byte, error) {
	return Encode(cmd, a.Nickname, a.Rights.String())
}

// BuildError creates a server ERROR.
func BuildError(command, reason string) ([]byte, error) {
	return Encode(CmdError, command, reason)
}

// BuildGames creates a GAMES reply.
func BuildGames(games []GameListing) ([]byte, error) {
	b := NewPacketBuilder(CmdGames).WriteInt(len(games))
	for _, g := range games {
		b.WriteString(g.Hostname).WriteString(g.Version).WriteString(g.Status.String())
	}
	return b.Build()
}

// BuildClients creates a CLIENTS reply.
func BuildClients(clients []ClientListing) ([]byte, error) {
	b := NewPacketBuilder(CmdClients).WriteInt(len(clients))
	for _, c := range clients {
		b.WriteString(c.Name).WriteString(c.Version).WriteString(c.Game).WriteString(c.Rights.String())
	}
	return b.Build()
}

// BuildGameOpenReply creates the server GAME_OPEN reply.
func BuildGameOpenReply(reply GameOpenReply) ([]byte, error) {
	return NewPacketBuilder(CmdGameOpen).
		WriteString(reply.Challenge).
		WriteStrings(endpointFields(reply.Endpoint)...).
		Build()
}

// BuildGameConnectReply creates the server GAME_CONNECT reply.
func BuildGameConnectReply(ep RelayEndpoint) ([]byte, error) {
	return Encode(CmdGameConnect, endpointFields(ep)...)
}

func endpointFields(ep RelayEndpoint) []string {
	if ep.HasSecondary() {
		return []string{ep.PrimaryIP, "true", ep.SecondaryIP}
	}
	return []string{ep.PrimaryIP, "false"}
}

// BuildServerChat creates a server CHAT.
func BuildServerChat(m ChatMessage) ([]byte, error) {
	return Encode(CmdChat, m.Sender, m.Message, string(m.Type))
}

// BuildTime creates a server TIME.
func BuildTime(unix int64) ([]byte, error) {
	return Encode(CmdTime, strconv.FormatInt(unix, 10))
}
