// Package httpapi is the routing glue over the core subsystems: session
// exchange, subscription management, directory administration and manual
// notify.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"prospect.org/internal/credential"
	"prospect.org/internal/directory"
	"prospect.org/internal/dispatch"
	"prospect.org/internal/obs"
	"prospect.org/internal/push"
)

// ReadyProbe is a simple readiness check (e.g., DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// IdentityExchanger is the slice of the push client the session endpoint uses.
type IdentityExchanger interface {
	Code2Session(ctx context.Context, code string) (push.Session, error)
}

// Notifier runs a notify fan-out.
type Notifier interface {
	Notify(ctx context.Context, orgID, unitID int64, content dispatch.Content) (dispatch.Report, error)
}

// Options carries presentation defaults for the API.
type Options struct {
	Version    string
	TemplateID string
	// Template delivery state and language, passed through to the provider.
	State string
	Lang  string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	store      directory.Store
	sessions   *credential.Sessions
	creds      *credential.Cache
	identity   IdentityExchanger
	notifier   Notifier
	opts       Options
}

// New wires the routes.
func New(rp ReadyProbe, store directory.Store, sessions *credential.Sessions, creds *credential.Cache, identity IdentityExchanger, notifier Notifier, opts Options) *API {
	if opts.State == "" {
		opts.State = "formal"
	}
	if opts.Lang == "" {
		opts.Lang = "zh_CN"
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		store:      store,
		sessions:   sessions,
		creds:      creds,
		identity:   identity,
		notifier:   notifier,
		opts:       opts,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// session exchange and refresh
	a.mux.HandleFunc("/v1/session", a.handleSession)
	a.mux.HandleFunc("/v1/session/refresh", a.handleSessionRefresh)

	// subscriptions
	a.mux.HandleFunc("/v1/subscriptions", a.handleSubscriptions)

	// directory
	a.mux.HandleFunc("/v1/orgs", a.handleOrgsCollection)
	a.mux.HandleFunc("/v1/orgs/", a.handleOrgResource)

	// dispatch
	a.mux.HandleFunc("/v1/notify", a.handleNotify)

	// outbound credential passthrough for operators
	a.mux.HandleFunc("/v1/credential/outbound", a.handleOutboundCredential)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, 1<<16)
	h = LoggingJSON(h)
	h = RateLimit(h, 20, 10)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- basic handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "prospect-api",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "prospect-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
