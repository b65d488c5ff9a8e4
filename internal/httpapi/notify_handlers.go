package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"prospect.org/internal/audit"
	"prospect.org/internal/credential"
	"prospect.org/internal/directory"
	"prospect.org/internal/dispatch"
)

type notifyRequest struct {
	OrgID  int64  `json:"org_id"`
	UnitID int64  `json:"unit_id"`
	Title  string `json:"title"`
	Date   string `json:"date"`
}

// handleNotify fans a notification out to the unit's current subscribers and
// returns the full dispatch report, partial failures included.
func (a *API) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Title == "" {
		writeError(w, r, http.StatusBadRequest, "title is required")
		return
	}

	content := dispatch.Content{
		TemplateID: a.opts.TemplateID,
		Title:      req.Title,
		Date:       req.Date,
		State:      a.opts.State,
		Lang:       a.opts.Lang,
	}
	report, err := a.notifier.Notify(r.Context(), req.OrgID, req.UnitID, content)
	if errors.Is(err, directory.ErrUnitNotFound) {
		writeError(w, r, http.StatusNotFound, "unit not found")
		return
	}
	if errors.Is(err, credential.ErrUnavailable) {
		writeError(w, r, http.StatusBadGateway, "outbound credential unavailable")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "dispatch failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "notify_dispatched", map[string]any{
		"org_id":    req.OrgID,
		"unit_id":   req.UnitID,
		"report_id": report.ID,
		"succeeded": report.Succeeded,
		"failed":    len(report.Failures),
		"skipped":   len(report.Skipped),
		"truncated": report.Truncated,
	})
	writeJSON(w, http.StatusOK, report)
}

// handleOutboundCredential exposes the cached push credential to operators
// (e.g., for manual provider calls during incident response).
func (a *API) handleOutboundCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	token, err := a.creds.Token(r.Context())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "outbound credential unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": token})
}
