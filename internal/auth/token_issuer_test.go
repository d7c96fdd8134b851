package auth

import (
	"context"
	"testing"
	"time"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestIssueStaffTokenRoundTrip(t *testing.T) {
	now := time.Unix(1760000000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "queuepulse-auth",
		Audience:      "queuepulse-api",
		TokenTTL:      time.Hour,
		Clock:         fixedClock(now),
	})

	token, expiresIn, err := issuer.IssueStaffToken(context.Background(), StaffClaims{
		StaffID: "staff-17",
		Role:    "ophthalmologist",
	})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != 3600 {
		t.Fatalf("expected 3600 seconds expiry, got %d", expiresIn)
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if claims.StaffID != "staff-17" {
		t.Fatalf("expected staff-17, got %s", claims.StaffID)
	}
	if claims.Role != "ophthalmologist" {
		t.Fatalf("expected ophthalmologist role, got %s", claims.Role)
	}
}

func TestIssueStaffTokenRequiresIdentity(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "queuepulse-auth",
		Audience:      "queuepulse-api",
	})

	if _, _, err := issuer.IssueStaffToken(context.Background(), StaffClaims{Role: "optometrist"}); err == nil {
		t.Fatalf("expected error for missing staff id")
	}
	if _, _, err := issuer.IssueStaffToken(context.Background(), StaffClaims{StaffID: "staff-1"}); err == nil {
		t.Fatalf("expected error for missing role")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	issuedAt := time.Unix(1760000000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "queuepulse-auth",
		Audience:      "queuepulse-api",
		TokenTTL:      time.Minute,
		Clock:         fixedClock(issuedAt),
	})

	token, _, err := issuer.IssueStaffToken(context.Background(), StaffClaims{
		StaffID: "staff-2",
		Role:    "optometrist",
	})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	later := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "queuepulse-auth",
		Audience:      "queuepulse-api",
		Clock:         fixedClock(issuedAt.Add(2 * time.Minute)),
	})
	if _, err := later.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret-a"),
		Issuer:        "queuepulse-auth",
		Audience:      "queuepulse-api",
	})
	token, _, err := issuer.IssueStaffToken(context.Background(), StaffClaims{
		StaffID: "staff-3",
		Role:    "receptionist-type-2",
	})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret-b"),
		Issuer:        "queuepulse-auth",
		Audience:      "queuepulse-api",
	})
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatalf("expected token signed with different secret to be rejected")
	}
}
