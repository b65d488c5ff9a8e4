package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"prospect.org/internal/credential"
	"prospect.org/internal/push"
)

type sessionRequest struct {
	Code string `json:"code"`
	// A returning client sends its stored identity instead of a fresh code.
	UserID string `json:"user_id"`
	Token  string `json:"access_token"`
}

// sessionResult mirrors the provider-style errcode envelope the clients
// already speak.
type sessionResult struct {
	ErrCode int    `json:"err_code"`
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
	Token   string `json:"access_token,omitempty"`
}

func sessionFailure(code push.Code) sessionResult {
	return sessionResult{ErrCode: int(code), Message: code.String()}
}

// handleSession exchanges an authorization code for a session token, or
// validates a token the client already holds.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}

	if req.Token != "" {
		ok, err := a.sessions.Validate(r.Context(), req.UserID, req.Token)
		if err != nil {
			writeJSON(w, http.StatusOK, sessionFailure(push.CodeStorage))
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, sessionFailure(push.CodeTokenExpired))
			return
		}
		writeJSON(w, http.StatusOK, sessionResult{
			ErrCode: int(push.CodeSuccess), Message: push.CodeSuccess.String(), UserID: req.UserID,
		})
		return
	}

	if req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}
	sess, err := a.identity.Code2Session(r.Context(), req.Code)
	if err != nil {
		var apiErr *push.APIError
		switch {
		case errors.As(err, &apiErr):
			writeJSON(w, http.StatusOK, sessionFailure(apiErr.Code))
		case errors.Is(err, push.ErrMalformedResponse):
			writeJSON(w, http.StatusOK, sessionFailure(push.CodeInvalidJSON))
		default:
			writeJSON(w, http.StatusOK, sessionFailure(push.CodeNetwork))
		}
		return
	}

	token, err := a.sessions.Issue(r.Context(), sess.OpenID)
	if err != nil {
		writeJSON(w, http.StatusOK, sessionFailure(push.CodeStorage))
		return
	}
	writeJSON(w, http.StatusOK, sessionResult{
		ErrCode: int(push.CodeSuccess),
		Message: push.CodeSuccess.String(),
		UserID:  sess.OpenID,
		Token:   token,
	})
}

// handleSessionRefresh re-issues a still-valid token with a fresh TTL so
// active users skip the identity provider.
func (a *API) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.UserID == "" || req.Token == "" {
		writeError(w, r, http.StatusBadRequest, "user_id and access_token are required")
		return
	}

	token, err := a.sessions.Refresh(r.Context(), req.UserID, req.Token)
	if errors.Is(err, credential.ErrTokenExpired) {
		writeJSON(w, http.StatusOK, sessionFailure(push.CodeTokenExpired))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, sessionFailure(push.CodeStorage))
		return
	}
	writeJSON(w, http.StatusOK, sessionResult{
		ErrCode: int(push.CodeSuccess),
		Message: push.CodeSuccess.String(),
		UserID:  req.UserID,
		Token:   token,
	})
}
