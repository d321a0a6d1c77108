package protocol

import (
	"crypto/sha1"
	"encoding/hex"
)

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashPassword returns the hex SHA-1 of a plaintext password. This is the
// only form in which a password is stored or handed to the session.
func HashPassword(password string) string {
	return sha1Hex(password)
}

// ChallengeResponse answers a PWD_CHALLENGE nonce: sha1(nonce ‖ passwordHash).
func ChallengeResponse(nonce, passwordHash string) string {
	return sha1Hex(nonce + passwordHash)
}

// ReconnectUUID derives the semi-permanent reconnect token used when the
// server downgrades a registered login to unregistered.
func ReconnectUUID(nickname, passwordHash string) string {
	return sha1Hex(nickname + passwordHash)
}
