package auth

import (
	"context"
	"testing"
	"time"
)

func newTestIssuer(clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "spaced-sync",
		Audience:      "spaced-clients",
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
}

func TestIssueAndValidateClientToken(t *testing.T) {
	now := time.Date(2026, time.February, 1, 10, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(func() time.Time { return now })

	token, expiresIn, err := issuer.IssueClientToken(context.Background(), "client-42")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if expiresIn != int64(time.Hour.Seconds()) {
		t.Fatalf("expiresIn = %d, want %d", expiresIn, int64(time.Hour.Seconds()))
	}

	clientID, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if clientID != "client-42" {
		t.Fatalf("clientID = %q, want client-42", clientID)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issueTime := time.Date(2026, time.February, 1, 10, 0, 0, 0, time.UTC)
	current := issueTime
	issuer := newTestIssuer(func() time.Time { return current })

	token, _, err := issuer.IssueClientToken(context.Background(), "client-42")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	current = issueTime.Add(2 * time.Hour)
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	now := time.Date(2026, time.February, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer := newTestIssuer(clock)
	foreign := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("other-secret"),
		Issuer:        "spaced-sync",
		Audience:      "spaced-clients",
		TokenTTL:      time.Hour,
		Clock:         clock,
	})

	token, _, err := foreign.IssueClientToken(context.Background(), "client-42")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected token signed with a foreign secret to be rejected")
	}
}

func TestIssueRequiresClientID(t *testing.T) {
	issuer := newTestIssuer(time.Now)
	if _, _, err := issuer.IssueClientToken(context.Background(), ""); err == nil {
		t.Fatalf("expected missing client id to be rejected")
	}
}
