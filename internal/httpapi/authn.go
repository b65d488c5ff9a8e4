package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"prospect.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	roleAdmin = "admin"
)

// requireAdmin authenticates the request with a signed operator token and
// checks the admin role.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return false
	}
	claims, err := auth.ParseAndValidate(token)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return false
	}
	ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
	if !auth.HasRole(ctx, roleAdmin) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return false
	}
	*r = *r.WithContext(ctx)
	return true
}

// requireSession authenticates an end user by user id plus stored session
// token.
func (a *API) requireSession(w http.ResponseWriter, r *http.Request, userID, token string) bool {
	if userID == "" || token == "" {
		writeError(w, r, http.StatusUnauthorized, "user_id and token are required")
		return false
	}
	ok, err := a.sessions.Validate(r.Context(), userID, token)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session validation failed")
		return false
	}
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "session token invalid or expired")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
