package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decoder returns a helper that decodes the output of a Build function.
func decoder(t *testing.T) func([]byte, error) *Packet {
	return func(frame []byte, err error) *Packet {
		t.Helper()
		require.NoError(t, err)
		pkt, err := Decode(frame)
		require.NoError(t, err)
		return pkt
	}
}

func TestBuildLogin(t *testing.T) {
	pkt := decoder(t)(BuildLogin(LoginRequest{
		Version: ProtocolVersion, Nickname: "Alice", BuildID: "build-23", UUID: "uuid-1",
	}))

	assert.Equal(t, CmdLogin, pkt.Command)
	assert.Equal(t, []string{"6", "Alice", "build-23", "false", "uuid-1"}, pkt.Fields)
}

func TestBuildCheckPwd(t *testing.T) {
	pkt := decoder(t)(BuildCheckPwd(LoginRequest{Version: 6, Nickname: "Alice", BuildID: "b", Registered: true}))

	assert.Equal(t, CmdCheckPwd, pkt.Command)
	assert.Equal(t, []string{"6", "Alice", "b"}, pkt.Fields)
}

func TestParseAuth(t *testing.T) {
	pkt := decoder(t)(BuildAuth(CmdPwdOK, Auth{Nickname: "Alice", Rights: RightsRegistered}))

	auth, err := ParseAuth(pkt)
	require.NoError(t, err)
	assert.Equal(t, Auth{Nickname: "Alice", Rights: RightsRegistered}, auth)

	_, err = ParseAuth(&Packet{Command: CmdLogin, Name: "LOGIN", Fields: []string{"Alice", "WIZARD"}})
	assert.Error(t, err)
}

func TestParseError(t *testing.T) {
	reply, err := ParseError(&Packet{Command: CmdError, Name: "ERROR", Fields: []string{"LOGIN", ReasonWrongPassword}})
	require.NoError(t, err)
	assert.Equal(t, ErrorReply{Command: "LOGIN", Reason: ReasonWrongPassword}, reply)

	reply, err = ParseError(&Packet{Command: CmdError, Name: "ERROR", Fields: []string{GarbageReceived}})
	require.NoError(t, err)
	assert.Equal(t, GarbageReceived, reply.Command)
	assert.Empty(t, reply.Reason)
}

func TestGamesAndClients(t *testing.T) {
	games := []GameListing{
		{Hostname: "MyGame", Version: "build-23", Status: GameSetup},
		{Hostname: "Other", Version: "build-22", Status: GameRunning},
	}
	parsedGames, err := ParseGames(decoder(t)(BuildGames(games)))
	require.NoError(t, err)
	assert.Equal(t, games, parsedGames)

	clients := []ClientListing{
		{Name: "Alice", Version: "build-23", Rights: RightsRegistered},
		{Name: "Bob", Version: "build-23", Game: "MyGame", Rights: RightsSuperuser},
	}
	parsedClients, err := ParseClients(decoder(t)(BuildClients(clients)))
	require.NoError(t, err)
	assert.Equal(t, clients, parsedClients)
	assert.True(t, parsedClients[1].InGame())

	empty, err := ParseGames(decoder(t)(BuildGames(nil)))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseGamesTruncated(t *testing.T) {
	_, err := ParseGames(&Packet{Command: CmdGames, Name: "GAMES", Fields: []string{"2", "a", "b", "SETUP"}})
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestParseListingsBadCount(t *testing.T) {
	tests := []struct {
		name    string
		parse   func(*Packet) error
		fields  []string
		missing bool
	}{
		{"games count wraps when tripled", parseGamesErr, []string{"6148914691236517206", "a", "b"}, true},
		{"clients count wraps when quadrupled", parseClientsErr, []string{"4611686018427387904"}, true},
		{"games huge count", parseGamesErr, []string{"9223372036854775807", "a", "b", "SETUP"}, true},
		{"games negative count", parseGamesErr, []string{"-1"}, false},
		{"games count not a number", parseGamesErr, []string{"many", "a", "b", "SETUP"}, false},
		{"clients count not a number", parseClientsErr, []string{"x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { err = tt.parse(&Packet{Name: "LIST", Fields: tt.fields}) })
			require.Error(t, err)
			if tt.missing {
				assert.ErrorIs(t, err, ErrMissingField)
			}
		})
	}
}

func parseGamesErr(pkt *Packet) error {
	pkt.Command = CmdGames
	_, err := ParseGames(pkt)
	return err
}

func parseClientsErr(pkt *Packet) error {
	pkt.Command = CmdClients
	_, err := ParseClients(pkt)
	return err
}

func TestRelayReplies(t *testing.T) {
	open := GameOpenReply{Challenge: "c0ffee", Endpoint: RelayEndpoint{PrimaryIP: "10.0.0.1", SecondaryIP: "fe80::1"}}
	parsedOpen, err := ParseGameOpenReply(decoder(t)(BuildGameOpenReply(open)))
	require.NoError(t, err)
	assert.Equal(t, open, parsedOpen)

	ep := RelayEndpoint{PrimaryIP: "10.0.0.2"}
	parsedEp, err := ParseGameConnectReply(decoder(t)(BuildGameConnectReply(ep)))
	require.NoError(t, err)
	assert.Equal(t, ep, parsedEp)
	assert.Equal(t, []string{"10.0.0.2"}, parsedEp.Addresses())
}

func TestParseChat(t *testing.T) {
	msg := ChatMessage{Sender: "Bob", Message: "hi", Type: ChatPrivate}
	parsed, err := ParseChat(decoder(t)(BuildServerChat(msg)))
	require.NoError(t, err)
	assert.Equal(t, msg, parsed)
}

func TestParseTime(t *testing.T) {
	ts, err := ParseTime(decoder(t)(BuildTime(1700000000)))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts)
}
