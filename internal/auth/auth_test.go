package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	ResetSecretForTests()
	t.Setenv("PROSPECT_AUTH_SECRET", value)
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t, "test-secret")

	token, err := GenerateToken("user-42", []string{"Admin", "viewer", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != "prospect" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "viewer") {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("roles were not deduplicated: %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	withSecret(t, "test-secret")

	if _, err := GenerateToken("", []string{"admin"}, time.Minute); err == nil {
		t.Fatalf("expected error for empty user id")
	}
	if _, err := GenerateToken("user-1", []string{"admin"}, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	withSecret(t, "test-secret")

	token, err := GenerateToken("user-1", []string{"admin"}, time.Millisecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	withSecret(t, "secret-a")
	token, err := GenerateToken("user-1", []string{"admin"}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	withSecret(t, "secret-b")
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	ResetSecretForTests()
	t.Setenv("PROSPECT_AUTH_SECRET", "")
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("user-1", []string{"admin"}, time.Minute); err == nil {
		t.Fatalf("expected error without configured secret")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "user-7", []string{"Admin", "Admin", "viewer"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if !HasRole(ctx, "viewer") || !HasRole(ctx, "admin") {
		t.Fatalf("HasRole missing expected roles: %v", roles)
	}
	if HasRole(ctx, "operator") {
		t.Fatalf("unexpected role found")
	}
}
