package invitation

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRedeem(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(tok *Token)
		at      time.Time
		wantErr error
	}{
		{name: "issued within ttl", at: t0.Add(time.Hour)},
		{name: "exactly at expiry", at: t0.Add(24 * time.Hour)},
		{name: "after expiry", at: t0.Add(24*time.Hour + time.Second), wantErr: ErrExpired},
		{
			name:    "already redeemed",
			mutate:  func(tok *Token) { _ = tok.Redeem("u1", t0) },
			at:      t0.Add(time.Minute),
			wantErr: ErrAlreadyRedeemed,
		},
		{
			name:    "revoked",
			mutate:  func(tok *Token) { _ = tok.Revoke(t0) },
			at:      t0.Add(time.Minute),
			wantErr: ErrRevoked,
		},
		{
			name:    "redeemed then expired",
			mutate:  func(tok *Token) { _ = tok.Redeem("u1", t0) },
			at:      t0.Add(25 * time.Hour),
			wantErr: ErrExpired,
		},
		{
			name:    "revoked then expired",
			mutate:  func(tok *Token) { _ = tok.Revoke(t0) },
			at:      t0.Add(25 * time.Hour),
			wantErr: ErrExpired,
		},
		{
			name:    "persisted expired",
			mutate:  func(tok *Token) { tok.Status = StatusExpired },
			at:      t0,
			wantErr: ErrExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := New("ev", "Alice@X.com ", "org", "hash", t0, 24*time.Hour)
			if tt.mutate != nil {
				tt.mutate(&tok)
			}

			err := tok.Redeem("u2", tt.at)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tok.Status != StatusRedeemed || tok.RedeemedBy == nil || *tok.RedeemedBy != "u2" {
				t.Fatalf("token not marked redeemed: %+v", tok)
			}
		})
	}
}

func TestRevoke(t *testing.T) {
	tok := New("ev", "a@x.com", "org", "hash", t0, time.Hour)
	if err := tok.Revoke(t0); err != nil {
		t.Fatalf("revoke issued: %v", err)
	}
	if err := tok.Revoke(t0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second revoke: expected ErrInvalidState, got %v", err)
	}

	redeemed := New("ev", "a@x.com", "org", "hash", t0, time.Hour)
	_ = redeemed.Redeem("u1", t0)
	if err := redeemed.Revoke(t0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("revoke redeemed: expected ErrInvalidState, got %v", err)
	}

	expired := New("ev", "a@x.com", "org", "hash", t0, time.Hour)
	if err := expired.Revoke(t0.Add(2 * time.Hour)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("revoke expired: expected ErrInvalidState, got %v", err)
	}
}

func TestMatchesEmailIgnoresCase(t *testing.T) {
	tok := New("ev", " Alice@X.com", "org", "hash", t0, time.Hour)
	if !tok.MatchesEmail("alice@x.com") {
		t.Fatal("expected case-insensitive match")
	}
	if tok.MatchesEmail("bob@x.com") {
		t.Fatal("unexpected match")
	}
}

func TestEffectiveStatus(t *testing.T) {
	tok := New("ev", "a@x.com", "org", "hash", t0, time.Hour)
	if got := tok.EffectiveStatus(t0); got != StatusIssued {
		t.Fatalf("got %s", got)
	}
	if got := tok.EffectiveStatus(t0.Add(2 * time.Hour)); got != StatusExpired {
		t.Fatalf("got %s", got)
	}
}
