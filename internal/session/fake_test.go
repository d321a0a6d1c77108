package session

import (
	"bytes"
	"errors"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/wlnet/metaclient/internal/events"
	"github.com/wlnet/metaclient/internal/protocol"
)

// fakeTransport is an in-memory Transport. Bytes queued with push are
// returned by Read; everything written is recorded.
type fakeTransport struct {
	in       bytes.Buffer
	out      [][]byte
	closed   bool
	readErr  error
	writeErr error
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if f.in.Len() == 0 {
		return 0, f.readErr
	}
	return f.in.Read(p)
}

func (f *fakeTransport) Write(p []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.out = append(f.out, append([]byte(nil), p...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// sessionSuite holds a session wired to a fake transport and a manual
// clock.
type sessionSuite struct {
	suite.Suite
	sess *Session
	tr   *fakeTransport
	now  time.Time
}

func (s *sessionSuite) SetupTest() {
	s.sess = New(DefaultConfig())
	s.tr = &fakeTransport{}
	s.now = t0
}

func (s *sessionSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

// push queues a frame from the server.
func (s *sessionSuite) push(frame []byte, err error) {
	s.Require().NoError(err)
	s.tr.in.Write(frame)
}

func (s *sessionSuite) pushCmd(cmd protocol.Command, fields ...string) {
	s.push(protocol.Encode(cmd, fields...))
}

func (s *sessionSuite) tick() error {
	return s.sess.Tick(s.now)
}

// sent decodes and clears everything the session wrote.
func (s *sessionSuite) sent() []*protocol.Packet {
	pkts := make([]*protocol.Packet, 0, len(s.tr.out))
	for _, frame := range s.tr.out {
		pkt, err := protocol.Decode(frame)
		s.Require().NoError(err)
		pkts = append(pkts, pkt)
	}
	s.tr.out = nil
	return pkts
}

func (s *sessionSuite) sentCommands() []protocol.Command {
	var cmds []protocol.Command
	for _, p := range s.sent() {
		cmds = append(cmds, p.Command)
	}
	return cmds
}

func (s *sessionSuite) connect(req LoginRequest) {
	s.Require().NoError(s.sess.Connect(req))
	s.Require().NoError(s.sess.Established(s.tr, s.now))
}

// loginAnonymous runs a full anonymous login and clears the outbox and
// the event queue.
func (s *sessionSuite) loginAnonymous(nick, uuid string) {
	s.connect(LoginRequest{Nickname: nick, Credential: AnonymousCredential{ReconnectUUID: uuid}})
	s.push(protocol.BuildAuth(protocol.CmdLogin, protocol.Auth{Nickname: nick, Rights: protocol.RightsUnregistered}))
	s.Require().NoError(s.tick())
	s.Require().Equal(StateLoggedIn, s.sess.State())
	s.tr.out = nil
	s.sess.DrainEvents()
}

func (s *sessionSuite) loginSuperuser(nick string) {
	s.connect(LoginRequest{Nickname: nick, Credential: RegisteredCredential{PasswordHash: protocol.HashPassword("root")}})
	s.pushCmd(protocol.CmdPwdChallenge, "nonce")
	s.Require().NoError(s.tick())
	s.push(protocol.BuildAuth(protocol.CmdLogin, protocol.Auth{Nickname: nick, Rights: protocol.RightsSuperuser}))
	s.Require().NoError(s.tick())
	s.Require().Equal(StateLoggedIn, s.sess.State())
	s.tr.out = nil
	s.sess.DrainEvents()
}

func findEvent(evs []events.Event, t events.EventType) (events.Event, bool) {
	for _, ev := range evs {
		if ev.Type == t {
			return ev, true
		}
	}
	return events.Event{}, false
}

func countEvents(evs []events.Event, t events.EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
