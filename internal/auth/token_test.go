package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("agent-7", "Avery", time.Hour, time.Now()))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "agent-7" || claims.Name != "Avery" || claims.JTI == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	issued, err := IssueToken(secret, NewClaims("agent-7", "Avery", time.Minute, now))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseTokenAt(secret, issued, now.Add(2*time.Minute))
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("agent-7", "Avery", time.Hour, time.Now()))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: expected ErrInvalidToken, got %v", err)
	}

	payload, sig, _ := strings.Cut(issued, ".")
	forged := payload + "x." + sig
	if _, err := ParseToken(secret, forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("forged payload: expected ErrInvalidToken, got %v", err)
	}

	if _, err := ParseToken(secret, "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("malformed: expected ErrInvalidToken, got %v", err)
	}
}
