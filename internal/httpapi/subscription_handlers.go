package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"prospect.org/internal/directory"
)

type subscriptionOp struct {
	OrgID  int64  `json:"org_id"`
	UnitID int64  `json:"unit_id"`
	Op     string `json:"op"` // "subscribe" | "unsubscribe"
}

type subscriptionsRequest struct {
	UserID string           `json:"user_id"`
	Token  string           `json:"access_token"`
	Ops    []subscriptionOp `json:"ops"`
}

func (a *API) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.applySubscriptions(w, r)
	case http.MethodGet:
		a.getSubscriptions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) applySubscriptions(w http.ResponseWriter, r *http.Request) {
	var req subscriptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	if !a.requireSession(w, r, req.UserID, req.Token) {
		return
	}
	if len(req.Ops) == 0 {
		writeError(w, r, http.StatusBadRequest, "ops must not be empty")
		return
	}

	ops := make([]directory.SubscriptionOp, 0, len(req.Ops))
	for _, op := range req.Ops {
		kind := directory.Subscribe
		switch op.Op {
		case "subscribe":
		case "unsubscribe":
			kind = directory.Unsubscribe
		default:
			writeError(w, r, http.StatusBadRequest, "op must be subscribe or unsubscribe")
			return
		}
		ops = append(ops, directory.SubscriptionOp{OrgID: op.OrgID, UnitID: op.UnitID, Kind: kind})
	}

	if err := a.store.Apply(r.Context(), req.UserID, ops); err != nil {
		if errors.Is(err, directory.ErrUnitNotFound) {
			writeError(w, r, http.StatusNotFound, "unit not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "apply failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) getSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	if !a.requireSession(w, r, userID, token) {
		return
	}

	subs, err := a.store.SubscriptionsOf(r.Context(), userID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       userID,
		"subscriptions": subs,
	})
}
