package invite

import (
	"testing"
	"time"
)

func TestInvitationRoundTrip(t *testing.T) {
	token, err := NewToken("secret", "issuer", "user-1", time.Minute)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	userID, err := ParseToken("secret", "issuer", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected subject %q", userID)
	}
}

func TestInvitationRejectsWrongSecret(t *testing.T) {
	token, err := NewToken("secret", "issuer", "user-1", time.Minute)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("other", "issuer", token); err == nil {
		t.Fatalf("expected rejection with wrong secret")
	}
}

func TestInvitationRejectsExpired(t *testing.T) {
	token, err := NewToken("secret", "issuer", "user-1", -time.Minute)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("secret", "issuer", token); err == nil {
		t.Fatalf("expected rejection of expired token")
	}
}
