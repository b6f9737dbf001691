package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// InviteTokenBytes is the entropy of a raw invitation token (256 bits).
const InviteTokenBytes = 32

// InviteTokens mints invitation secrets and derives the keyed hash stored in
// place of them, so a leaked table cannot be replayed without the server key.
type InviteTokens struct {
	key []byte
}

func NewInviteTokens(secret string) (*InviteTokens, error) {
	if secret == "" {
		return nil, errors.New("invite token secret is empty")
	}

	// blake2b keys are capped at 64 bytes; derive a fixed-size key from any secret.
	sum := blake2b.Sum256([]byte(secret))
	return &InviteTokens{key: sum[:]}, nil
}

// Generate returns the raw token to hand to the invitee and its stored hash.
func (t *InviteTokens) Generate() (raw string, hash string, err error) {
	buf := make([]byte, InviteTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}

	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, t.Hash(raw), nil
}

func (t *InviteTokens) Hash(raw string) string {
	h, err := blake2b.New256(t.key)
	if err != nil {
		// only fails for keys over 64 bytes, which NewInviteTokens rules out
		panic(err)
	}
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}
