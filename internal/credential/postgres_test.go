package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGSessionStoreUpsertAndFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGSessionStore(db)
	expires := time.Now().Add(DefaultSessionTTL).UTC()

	mock.ExpectExec("insert into sessions").
		WithArgs("u1", "tok-abc", expires).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Upsert(context.Background(), SessionToken{UserID: "u1", Token: "tok-abc", ExpiresAt: expires})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	mock.ExpectQuery("select user_id, token, expires_at from sessions").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "token", "expires_at"}).
			AddRow("u1", "tok-abc", expires))

	tok, err := store.Find(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if tok.Token != "tok-abc" || !tok.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected token %+v", tok)
	}

	mock.ExpectQuery("select user_id, token, expires_at from sessions").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "token", "expires_at"}))

	if _, err := store.Find(context.Background(), "ghost"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
