package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"prospect.org/internal/audit"
	"prospect.org/internal/directory"
)

type createOrgRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type createUnitRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

func (a *API) handleOrgsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listOrgs(w, r)
	case http.MethodPost:
		a.createOrg(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleOrgResource dispatches /v1/orgs/{org}, /v1/orgs/{org}/units and
// /v1/orgs/{org}/units/{unit}.
func (a *API) handleOrgResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/orgs/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	orgID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid organization id")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.removeOrg(w, r, orgID)
	case len(parts) == 2 && parts[1] == "units":
		switch r.Method {
		case http.MethodGet:
			a.listUnits(w, r, orgID)
		case http.MethodPost:
			a.createUnit(w, r, orgID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case len(parts) == 3 && parts[1] == "units":
		unitID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid unit id")
			return
		}
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.removeUnit(w, r, orgID, unitID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listOrgs(w http.ResponseWriter, r *http.Request) {
	orgs, err := a.store.ListOrganizations(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (a *API) createOrg(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	var req createOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Slug == "" || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "slug and name are required")
		return
	}

	id, err := a.store.AddOrganization(r.Context(), req.Slug, req.Name)
	if errors.Is(err, directory.ErrAlreadyExists) {
		// Duplicate creation is idempotent: answer with the existing id.
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "existing": true})
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "create failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "org_created", map[string]any{"org_id": id, "slug": req.Slug})
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (a *API) removeOrg(w http.ResponseWriter, r *http.Request, orgID int64) {
	if !a.requireAdmin(w, r) {
		return
	}
	err := a.store.RemoveOrganization(r.Context(), orgID)
	if errors.Is(err, directory.ErrOrgNotFound) {
		writeError(w, r, http.StatusNotFound, "organization not found")
		return
	}
	if err != nil {
		// Cascades must not half-complete silently; surface the sub-step.
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	_ = audit.LogEvent(r.Context(), "org_removed", map[string]any{"org_id": orgID})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) listUnits(w http.ResponseWriter, r *http.Request, orgID int64) {
	units, err := a.store.ListUnits(r.Context(), orgID)
	if errors.Is(err, directory.ErrOrgNotFound) {
		writeError(w, r, http.StatusNotFound, "organization not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"org_id": orgID, "units": units})
}

func (a *API) createUnit(w http.ResponseWriter, r *http.Request, orgID int64) {
	if !a.requireAdmin(w, r) {
		return
	}
	var req createUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Slug == "" || req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "slug and name are required")
		return
	}

	id, err := a.store.AddUnit(r.Context(), orgID, req.Slug, req.Name)
	if errors.Is(err, directory.ErrOrgNotFound) {
		writeError(w, r, http.StatusNotFound, "organization not found")
		return
	}
	if errors.Is(err, directory.ErrAlreadyExists) {
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "existing": true})
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "create failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "unit_created", map[string]any{"org_id": orgID, "unit_id": id, "slug": req.Slug})
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (a *API) removeUnit(w http.ResponseWriter, r *http.Request, orgID, unitID int64) {
	if !a.requireAdmin(w, r) {
		return
	}
	err := a.store.RemoveUnit(r.Context(), orgID, unitID)
	if errors.Is(err, directory.ErrUnitNotFound) {
		writeError(w, r, http.StatusNotFound, "unit not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	_ = audit.LogEvent(r.Context(), "unit_removed", map[string]any{"org_id": orgID, "unit_id": unitID})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
