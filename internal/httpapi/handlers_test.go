package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prospect.org/internal/auth"
	"prospect.org/internal/credential"
	"prospect.org/internal/directory"
	"prospect.org/internal/dispatch"
	"prospect.org/internal/push"
)

type fakeIdentity struct {
	sess push.Session
	err  error
}

func (f *fakeIdentity) Code2Session(ctx context.Context, code string) (push.Session, error) {
	if f.err != nil {
		return push.Session{}, f.err
	}
	return f.sess, nil
}

type fakeNotifier struct {
	report  dispatch.Report
	err     error
	gotOrg  int64
	gotUnit int64
	content dispatch.Content
}

func (f *fakeNotifier) Notify(ctx context.Context, orgID, unitID int64, content dispatch.Content) (dispatch.Report, error) {
	f.gotOrg, f.gotUnit, f.content = orgID, unitID, content
	if f.err != nil {
		return dispatch.Report{}, f.err
	}
	return f.report, nil
}

type stubTokenSource struct{}

func (stubTokenSource) FetchAccessToken(ctx context.Context) (string, time.Duration, error) {
	return "at-test", time.Hour, nil
}

type testEnv struct {
	handler  http.Handler
	store    *directory.InMemory
	sessions *credential.Sessions
	identity *fakeIdentity
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := directory.NewInMemory()
	sessions := credential.NewSessions(credential.NewMemorySessionStore(), 0)
	identity := &fakeIdentity{sess: push.Session{OpenID: "o1", SessionKey: "sk", UnionID: "un1"}}
	notifier := &fakeNotifier{report: dispatch.Report{ID: "run-1", Succeeded: 2}}
	api := New(ReadyProbe{}, store, sessions, credential.NewCache(stubTokenSource{}), identity, notifier,
		Options{Version: "test", TemplateID: "tmpl-1"})
	return &testEnv{
		handler:  api.Handler(),
		store:    store,
		sessions: sessions,
		identity: identity,
		notifier: notifier,
	}
}

func adminToken(t *testing.T) string {
	t.Helper()
	auth.ResetSecretForTests()
	t.Setenv("PROSPECT_AUTH_SECRET", "test-secret")
	t.Cleanup(auth.ResetSecretForTests)
	token, err := auth.GenerateToken("op-1", []string{"admin"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:4000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSessionExchange(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/session", map[string]any{"code": "code-xyz"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var res sessionResult
	decodeBody(t, rec, &res)
	if res.ErrCode != 0 || res.UserID != "o1" || res.Token == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	// The issued token validates on the token-check branch.
	rec = env.do(t, http.MethodPost, "/v1/session", map[string]any{
		"user_id": res.UserID, "access_token": res.Token,
	}, nil)
	var check sessionResult
	decodeBody(t, rec, &check)
	if check.ErrCode != 0 || check.UserID != "o1" {
		t.Fatalf("token check failed: %+v", check)
	}

	// A bogus token answers with the token-expired code, still HTTP 200.
	rec = env.do(t, http.MethodPost, "/v1/session", map[string]any{
		"user_id": res.UserID, "access_token": "bogus",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	decodeBody(t, rec, &check)
	if check.ErrCode != int(push.CodeTokenExpired) {
		t.Fatalf("expected err_code %d, got %+v", push.CodeTokenExpired, check)
	}
}

func TestSessionExchangeProviderRejection(t *testing.T) {
	env := newTestEnv(t)
	env.identity.err = &push.APIError{Code: push.CodeInvalidAuthCode, Msg: "invalid code"}

	rec := env.do(t, http.MethodPost, "/v1/session", map[string]any{"code": "bad"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var res sessionResult
	decodeBody(t, rec, &res)
	if res.ErrCode != int(push.CodeInvalidAuthCode) {
		t.Fatalf("expected provider code, got %+v", res)
	}
}

func TestSessionExchangeTransportFailure(t *testing.T) {
	env := newTestEnv(t)
	env.identity.err = push.ErrUnreachable

	rec := env.do(t, http.MethodPost, "/v1/session", map[string]any{"code": "x"}, nil)
	var res sessionResult
	decodeBody(t, rec, &res)
	if res.ErrCode != int(push.CodeNetwork) {
		t.Fatalf("expected network code, got %+v", res)
	}
}

func TestSessionRefresh(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.sessions.Issue(context.Background(), "o1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/v1/session/refresh", map[string]any{
		"user_id": "o1", "access_token": token,
	}, nil)
	var res sessionResult
	decodeBody(t, rec, &res)
	if res.ErrCode != 0 || res.Token == "" || res.Token == token {
		t.Fatalf("expected a fresh token, got %+v", res)
	}

	// The superseded token no longer refreshes.
	rec = env.do(t, http.MethodPost, "/v1/session/refresh", map[string]any{
		"user_id": "o1", "access_token": token,
	}, nil)
	decodeBody(t, rec, &res)
	if res.ErrCode != int(push.CodeTokenExpired) {
		t.Fatalf("expected token-expired code, got %+v", res)
	}
}

func TestDirectoryAdminGate(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"slug": "tongji", "name": "Tongji University"}

	rec := env.do(t, http.MethodPost, "/v1/orgs", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	_ = adminToken(t) // configures the signing secret
	viewer, err := auth.GenerateToken("op-2", []string{"viewer"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	rec = env.do(t, http.MethodPost, "/v1/orgs", body, map[string]string{
		"Authorization": "Bearer " + viewer,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}
}

func TestDirectoryLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := map[string]string{"Authorization": "Bearer " + adminToken(t)}

	rec := env.do(t, http.MethodPost, "/v1/orgs", map[string]any{
		"slug": "tongji", "name": "Tongji University",
	}, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create org: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, rec, &created)

	// Re-creating answers 200 with the existing id.
	rec = env.do(t, http.MethodPost, "/v1/orgs", map[string]any{
		"slug": "tongji", "name": "Tongji University",
	}, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate org: %d %s", rec.Code, rec.Body.String())
	}
	var dup struct {
		ID       int64 `json:"id"`
		Existing bool  `json:"existing"`
	}
	decodeBody(t, rec, &dup)
	if dup.ID != created.ID || !dup.Existing {
		t.Fatalf("unexpected duplicate response %+v", dup)
	}

	rec = env.do(t, http.MethodPost, "/v1/orgs/1/units", map[string]any{
		"slug": "cs", "name": "Computer Science",
	}, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create unit: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/orgs/1/units", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list units: %d", rec.Code)
	}
	var units struct {
		Units []directory.Unit `json:"units"`
	}
	decodeBody(t, rec, &units)
	if len(units.Units) != 1 || units.Units[0].Slug != "cs" {
		t.Fatalf("unexpected units %+v", units)
	}

	rec = env.do(t, http.MethodDelete, "/v1/orgs/1/units/1", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete unit: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodDelete, "/v1/orgs/1", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete org: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodDelete, "/v1/orgs/1", nil, admin)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after removal, got %d", rec.Code)
	}
}

func TestSubscriptionsFlow(t *testing.T) {
	env := newTestEnv(t)
	org, err := env.store.AddOrganization(context.Background(), "tongji", "Tongji University")
	if err != nil {
		t.Fatalf("AddOrganization: %v", err)
	}
	unit, err := env.store.AddUnit(context.Background(), org, "cs", "Computer Science")
	if err != nil {
		t.Fatalf("AddUnit: %v", err)
	}
	token, err := env.sessions.Issue(context.Background(), "o1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{
		"user_id": "o1", "access_token": token,
		"ops": []map[string]any{{"org_id": org, "unit_id": unit, "op": "subscribe"}},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/subscriptions?user_id=o1", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("get subscriptions: %d %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Subscriptions map[string][]int64 `json:"subscriptions"`
	}
	decodeBody(t, rec, &got)
	if len(got.Subscriptions) != 1 {
		t.Fatalf("unexpected subscriptions %+v", got)
	}

	// Unknown unit answers 404 and applies nothing.
	rec = env.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{
		"user_id": "o1", "access_token": token,
		"ops": []map[string]any{{"org_id": org, "unit_id": unit + 9, "op": "subscribe"}},
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	// A stale session token is rejected.
	rec = env.do(t, http.MethodPost, "/v1/subscriptions", map[string]any{
		"user_id": "o1", "access_token": "stale",
		"ops": []map[string]any{{"org_id": org, "unit_id": unit, "op": "unsubscribe"}},
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestNotifyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	admin := map[string]string{"Authorization": "Bearer " + adminToken(t)}

	rec := env.do(t, http.MethodPost, "/v1/notify", map[string]any{
		"org_id": 1, "unit_id": 2, "title": "Seminar", "date": "2026-08-28",
	}, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("notify: %d %s", rec.Code, rec.Body.String())
	}
	var rep dispatch.Report
	decodeBody(t, rec, &rep)
	if rep.ID != "run-1" || rep.Succeeded != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if env.notifier.gotOrg != 1 || env.notifier.gotUnit != 2 {
		t.Fatalf("target not forwarded: %d/%d", env.notifier.gotOrg, env.notifier.gotUnit)
	}
	if env.notifier.content.TemplateID != "tmpl-1" || env.notifier.content.State != "formal" || env.notifier.content.Lang != "zh_CN" {
		t.Fatalf("content defaults not applied: %+v", env.notifier.content)
	}

	env.notifier.err = directory.ErrUnitNotFound
	rec = env.do(t, http.MethodPost, "/v1/notify", map[string]any{
		"org_id": 1, "unit_id": 99, "title": "Seminar",
	}, admin)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	env.notifier.err = credential.ErrUnavailable
	rec = env.do(t, http.MethodPost, "/v1/notify", map[string]any{
		"org_id": 1, "unit_id": 2, "title": "Seminar",
	}, admin)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/nope", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
