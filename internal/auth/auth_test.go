package auth

import (
	"errors"
	"testing"
	"time"
)

const (
	testSecret = "test-secret"
	testIssuer = "walletd"
)

func mustValidator(t *testing.T) *Validator {
	t.Helper()
	validator, err := NewValidator(testSecret, testIssuer)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return validator
}

func mustToken(t *testing.T, secret string, issuer string, accountID string, role string, ttl time.Duration) string {
	t.Helper()
	token, err := IssueToken(secret, issuer, accountID, role, ttl)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestParseValidToken(t *testing.T) {
	t.Parallel()
	validator := mustValidator(t)
	token := mustToken(t, testSecret, testIssuer, "acct-1", "", time.Minute)

	claims, err := validator.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.AccountID() != "acct-1" {
		t.Fatalf("unexpected account: %s", claims.AccountID())
	}
	if claims.IsAdmin() {
		t.Fatalf("plain token should not be admin")
	}
}

func TestParseAdminRole(t *testing.T) {
	t.Parallel()
	validator := mustValidator(t)
	token := mustToken(t, testSecret, testIssuer, "ops-1", RoleAdmin, time.Minute)

	claims, err := validator.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !claims.IsAdmin() {
		t.Fatalf("expected admin role")
	}
}

func TestParseRejectsBadTokens(t *testing.T) {
	t.Parallel()
	validator := mustValidator(t)

	cases := map[string]string{
		"wrong secret":  mustToken(t, "other-secret", testIssuer, "acct-1", "", time.Minute),
		"wrong issuer":  mustToken(t, testSecret, "someone-else", "acct-1", "", time.Minute),
		"expired":       mustToken(t, testSecret, testIssuer, "acct-1", "", -time.Minute),
		"empty subject": mustToken(t, testSecret, testIssuer, "", "", time.Minute),
		"garbage":       "not-a-token",
	}
	for name, token := range cases {
		if _, err := validator.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestParseAuthorizationHeader(t *testing.T) {
	t.Parallel()
	validator := mustValidator(t)
	token := mustToken(t, testSecret, testIssuer, "acct-1", "", time.Minute)

	claims, err := validator.ParseAuthorizationHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if claims.AccountID() != "acct-1" {
		t.Fatalf("unexpected account: %s", claims.AccountID())
	}

	if _, err := validator.ParseAuthorizationHeader(token); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken without prefix, got %v", err)
	}
	if _, err := validator.ParseAuthorizationHeader(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken for empty header, got %v", err)
	}
}

func TestNewValidatorRequiresSecret(t *testing.T) {
	t.Parallel()
	if _, err := NewValidator("", testIssuer); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
