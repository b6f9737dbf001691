package security

import (
	"encoding/base64"
	"testing"
)

func TestGenerateProducesDistinctHighEntropyTokens(t *testing.T) {
	tokens, err := NewInviteTokens("test-secret")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		raw, hash, err := tokens.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}

		decoded, err := base64.RawURLEncoding.DecodeString(raw)
		if err != nil {
			t.Fatalf("token is not base64url: %v", err)
		}
		if len(decoded)*8 < 128 {
			t.Fatalf("token has %d bits, want >= 128", len(decoded)*8)
		}
		if seen[raw] {
			t.Fatalf("duplicate token generated")
		}
		seen[raw] = true

		if hash == raw || hash != tokens.Hash(raw) {
			t.Fatalf("hash not deterministic or equals raw token")
		}
	}
}

func TestHashDependsOnSecret(t *testing.T) {
	a, _ := NewInviteTokens("secret-a")
	b, _ := NewInviteTokens("secret-b")

	if a.Hash("same") == b.Hash("same") {
		t.Fatal("hash must be keyed by secret")
	}
}

func TestNewInviteTokensRejectsEmptySecret(t *testing.T) {
	if _, err := NewInviteTokens(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
