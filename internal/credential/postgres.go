package credential

import (
	"context"
	"database/sql"
	"errors"
)

var _ SessionStore = (*PGSessionStore)(nil)

// PGSessionStore persists session tokens in the sessions table.
type PGSessionStore struct {
	db *sql.DB
}

func NewPGSessionStore(db *sql.DB) *PGSessionStore {
	return &PGSessionStore{db: db}
}

func (s *PGSessionStore) Upsert(ctx context.Context, tok SessionToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(user_id, token, expires_at) values($1,$2,$3)
		 on conflict (user_id) do update set token=excluded.token, expires_at=excluded.expires_at`,
		tok.UserID, tok.Token, tok.ExpiresAt,
	)
	return err
}

func (s *PGSessionStore) Find(ctx context.Context, userID string) (SessionToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select user_id, token, expires_at from sessions where user_id=$1`, userID)
	var tok SessionToken
	if err := row.Scan(&tok.UserID, &tok.Token, &tok.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionToken{}, ErrNoSession
		}
		return SessionToken{}, err
	}
	return tok, nil
}
