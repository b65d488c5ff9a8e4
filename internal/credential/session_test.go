package credential

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	s := NewSessions(NewMemorySessionStore(), 0)

	tok, err := s.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok == "" {
		t.Fatalf("expected a token")
	}

	ok, err := s.Validate(context.Background(), "u1", tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !ok {
		t.Fatalf("expected freshly issued token to validate")
	}

	ok, err = s.Validate(context.Background(), "u1", "not-the-token")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok {
		t.Fatalf("wrong token validated")
	}

	ok, err = s.Validate(context.Background(), "u2", tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok {
		t.Fatalf("token validated for the wrong user")
	}
}

func TestIssueReplacesPreviousToken(t *testing.T) {
	s := NewSessions(NewMemorySessionStore(), 0)

	first, err := s.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := s.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct tokens")
	}

	if ok, _ := s.Validate(context.Background(), "u1", first); ok {
		t.Fatalf("superseded token still validates")
	}
	if ok, _ := s.Validate(context.Background(), "u1", second); !ok {
		t.Fatalf("current token does not validate")
	}
}

func TestValidateExpired(t *testing.T) {
	s := NewSessions(NewMemorySessionStore(), time.Hour)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	tok, err := s.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock = clock.Add(2 * time.Hour)
	ok, err := s.Validate(context.Background(), "u1", tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok {
		t.Fatalf("expired token validated")
	}
}

func TestRefreshSlidesExpiry(t *testing.T) {
	s := NewSessions(NewMemorySessionStore(), time.Hour)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	tok, err := s.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock = clock.Add(30 * time.Minute)
	next, err := s.Refresh(context.Background(), "u1", tok)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next == tok {
		t.Fatalf("expected a new token on refresh")
	}

	// The refreshed token carries a full TTL from the refresh moment.
	clock = clock.Add(45 * time.Minute)
	if ok, _ := s.Validate(context.Background(), "u1", next); !ok {
		t.Fatalf("refreshed token expired too early")
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	s := NewSessions(NewMemorySessionStore(), time.Hour)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	tok, err := s.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock = clock.Add(2 * time.Hour)
	if _, err := s.Refresh(context.Background(), "u1", tok); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateUnknownUser(t *testing.T) {
	s := NewSessions(NewMemorySessionStore(), 0)
	ok, err := s.Validate(context.Background(), "ghost", "whatever")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ok {
		t.Fatalf("unknown user validated")
	}
}
