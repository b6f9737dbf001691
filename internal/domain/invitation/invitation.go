package invitation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusIssued   Status = "issued"
	StatusRedeemed Status = "redeemed"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

// Token is a single-use invitation to a private event. Only the keyed hash of
// the secret is stored; the raw value is handed out once at issue time.
type Token struct {
	ID           string     `json:"id"`
	TokenHash    string     `json:"-"`
	EventID      string     `json:"eventId"`
	InvitedEmail string     `json:"invitedEmail"`
	InvitedBy    string     `json:"invitedBy"`
	Status       Status     `json:"status"`
	IssuedAt     time.Time  `json:"issuedAt"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	RedeemedAt   *time.Time `json:"redeemedAt,omitempty"`
	RedeemedBy   *string    `json:"redeemedBy,omitempty"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
}

var (
	ErrNotFound        = errors.New("invitation not found")
	ErrExpired         = errors.New("invitation expired")
	ErrAlreadyRedeemed = errors.New("invitation already redeemed")
	ErrRevoked         = errors.New("invitation revoked")
	ErrInvalidState    = errors.New("invitation cannot change from its current state")
	ErrInvalidEvent    = errors.New("invitations are only issued for private events")
	ErrEmailMismatch   = errors.New("invitation was issued to a different email")
)

func New(eventID, email, invitedBy, hash string, now time.Time, ttl time.Duration) Token {
	return Token{
		ID:           uuid.NewString(),
		TokenHash:    hash,
		EventID:      eventID,
		InvitedEmail: NormalizeEmail(email),
		InvitedBy:    invitedBy,
		Status:       StatusIssued,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EffectiveStatus reports the status as of now; an issued token past its
// expiry reads as expired even before anything persists that.
func (t Token) EffectiveStatus(now time.Time) Status {
	if t.Status == StatusIssued && now.After(t.ExpiresAt) {
		return StatusExpired
	}
	return t.Status
}

// Redeem marks the token used by userID. A token past its expiry fails with
// ErrExpired whatever its stored status.
func (t *Token) Redeem(userID string, now time.Time) error {
	if now.After(t.ExpiresAt) {
		return ErrExpired
	}
	switch t.Status {
	case StatusRedeemed:
		return ErrAlreadyRedeemed
	case StatusRevoked:
		return ErrRevoked
	case StatusExpired:
		return ErrExpired
	}

	t.Status = StatusRedeemed
	t.RedeemedAt = &now
	t.RedeemedBy = &userID
	return nil
}

func (t *Token) Revoke(now time.Time) error {
	if t.EffectiveStatus(now) != StatusIssued {
		return ErrInvalidState
	}
	t.Status = StatusRevoked
	t.RevokedAt = &now
	return nil
}

// MatchesEmail compares the invited address to a verified identity email.
func (t Token) MatchesEmail(email string) bool {
	return t.InvitedEmail == NormalizeEmail(email)
}

// IssueRequest is the body of an issue call. TTLSeconds is optional.
type IssueRequest struct {
	Email      string `json:"email" binding:"required,email,max=254"`
	TTLSeconds *int   `json:"ttlSeconds" binding:"omitempty,min=60,max=2592000"`
}

// TokenRequest carries a raw token for redeem and revoke.
type TokenRequest struct {
	Token string `json:"token" binding:"required,min=16,max=256"`
}
