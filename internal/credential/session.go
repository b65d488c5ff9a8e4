package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// DefaultSessionTTL is how long an issued session token stays valid.
const DefaultSessionTTL = 72 * time.Hour

var (
	// ErrTokenExpired covers both an expired and a non-matching token; the
	// client cannot distinguish them and should re-authenticate.
	ErrTokenExpired = errors.New("credential: session token expired")
	// ErrNoSession means no token was ever recorded for the user.
	ErrNoSession = errors.New("credential: no session recorded")
)

// SessionToken is a persisted inbound credential for one user.
type SessionToken struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// SessionStore persists session tokens keyed by user id.
type SessionStore interface {
	Upsert(ctx context.Context, tok SessionToken) error
	Find(ctx context.Context, userID string) (SessionToken, error)
}

// Sessions issues and validates inbound session tokens.
type Sessions struct {
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
}

// NewSessions creates the session manager. A non-positive ttl falls back to
// the default three days.
func NewSessions(store SessionStore, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{store: store, ttl: ttl, now: time.Now}
}

// Issue mints a fresh opaque token for the user and upserts it. The token is
// a hash over the user id and 16 bytes of crypto-strength entropy.
func (s *Sessions) Issue(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("credential: user id is required")
	}
	var entropy [16]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return "", fmt.Errorf("credential: read entropy: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write(entropy[:])
	token := hex.EncodeToString(h.Sum(nil))

	tok := SessionToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}
	if err := s.store.Upsert(ctx, tok); err != nil {
		return "", err
	}
	return token, nil
}

// Validate reports whether the presented token matches the stored one and has
// not expired.
func (s *Sessions) Validate(ctx context.Context, userID, token string) (bool, error) {
	if userID == "" || token == "" {
		return false, nil
	}
	stored, err := s.store.Find(ctx, userID)
	if errors.Is(err, ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(stored.Token), []byte(token)) != 1 {
		return false, nil
	}
	return s.now().Before(stored.ExpiresAt), nil
}

// Refresh re-issues the token with a full TTL if the presented one is still
// valid (sliding expiry), letting active users skip the external identity
// provider.
func (s *Sessions) Refresh(ctx context.Context, userID, token string) (string, error) {
	ok, err := s.Validate(ctx, userID, token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrTokenExpired
	}
	return s.Issue(ctx, userID)
}
