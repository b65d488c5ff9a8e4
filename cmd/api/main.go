package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"prospect.org/internal/config"
	"prospect.org/internal/credential"
	"prospect.org/internal/directory"
	"prospect.org/internal/dispatch"
	"prospect.org/internal/httpapi"
	"prospect.org/internal/obs"
	"prospect.org/internal/push"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres when a DSN is configured, in-memory stores otherwise (dev).
	var (
		db       *sql.DB
		store    directory.Store
		sessions *credential.Sessions
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = directory.NewPGStore(db)
		sessions = credential.NewSessions(credential.NewPGSessionStore(db), cfg.SessionTTL)
	} else {
		log.Println("no PROSPECT_PG_DSN set, using in-memory stores")
		store = directory.NewInMemory()
		sessions = credential.NewSessions(credential.NewMemorySessionStore(), cfg.SessionTTL)
	}

	provider := push.New(cfg.AppID, cfg.AppSecret, push.WithBaseURL(cfg.PushBaseURL))
	creds := credential.NewCache(provider)
	dispatcher := dispatch.New(store, creds, provider,
		dispatch.WithWorkers(cfg.DispatchWorkers),
		dispatch.WithRateLimit(cfg.PushRatePerSec),
	)

	api := httpapi.New(
		httpapi.ReadyProbe{DB: db},
		store, sessions, creds, provider, dispatcher,
		httpapi.Options{Version: version, TemplateID: cfg.TemplateID},
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting prospect-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
