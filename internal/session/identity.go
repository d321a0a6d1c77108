package session

import (
	"fmt"

	"github.com/wlnet/metaclient/internal/protocol"
)

// Identity is who the server says we are. It is replaced wholesale on
// every successful login and never edited in place.
type Identity struct {
	Nickname string          `json:"nickname"`
	Rights   protocol.Rights `json:"rights"`
}

// Credential is how a login proves who it is: AnonymousCredential or
// RegisteredCredential.
type Credential interface {
	registered() bool
}

// AnonymousCredential logs in unregistered. ReconnectUUID lets the server
// hand back the same nickname after an unexpected disconnect; it may be
// empty.
type AnonymousCredential struct {
	ReconnectUUID string
}

func (AnonymousCredential) registered() bool { return false }

// RegisteredCredential logs in to a registered account. Only the SHA-1
// hex digest of the password is ever held.
type RegisteredCredential struct {
	PasswordHash string
}

func (RegisteredCredential) registered() bool { return true }

// LoginRequest is what the caller hands to Connect.
type LoginRequest struct {
	Nickname   string
	Credential Credential

	// CheckPasswordOnly sends CHECK_PWD instead of LOGIN. It requires a
	// RegisteredCredential.
	CheckPasswordOnly bool
}

func (r LoginRequest) validate() error {
	if r.Nickname == "" {
		return fmt.Errorf("nickname is required")
	}
	switch c := r.Credential.(type) {
	case AnonymousCredential:
		if r.CheckPasswordOnly {
			return fmt.Errorf("password check requires a registered credential")
		}
	case RegisteredCredential:
		if c.PasswordHash == "" {
			return fmt.Errorf("password hash is required for a registered login")
		}
	case nil:
		return fmt.Errorf("credential is required")
	default:
		return fmt.Errorf("unsupported credential %T", c)
	}
	return nil
}

// Challenge is a server nonce. It can answer exactly one login attempt.
type Challenge struct {
	nonce string
	used  bool
}

// NewChallenge wraps a nonce received in PWD_CHALLENGE.
func NewChallenge(nonce string) *Challenge {
	return &Challenge{nonce: nonce}
}

// Respond computes sha1(nonce ‖ passwordHash) and burns the challenge.
func (c *Challenge) Respond(passwordHash string) (string, error) {
	if c.used {
		return "", ErrChallengeUsed
	}
	c.used = true
	return protocol.ChallengeResponse(c.nonce, passwordHash), nil
}

// Used reports whether Respond has been called.
func (c *Challenge) Used() bool {
	return c.used
}
