package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

// SessionCookie is the HttpOnly cookie carrying a user's session token.
const SessionCookie = "access_token"

// AdminCookie carries the admin session token; the admin is not a row in
// the users table, so the token subject is the fixed AdminSubject.
const AdminCookie = "admin_token"

// AdminSubject is the JWT subject used for admin sessions.
const AdminSubject = "admin"

// contextKey is unexported so no other package can read or shadow the
// values this package stores in a request context.
type contextKey string

const userIDKey contextKey = "userID"

// RequireUser enforces a valid user session on protected routes. The user
// ID from the token lands in the request context; missing or invalid
// tokens get 401 and the chain stops.
func RequireUser(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := subjectFromCookie(r, tokens, SessionCookie)
			if err != nil || userID == "" || userID == AdminSubject {
				deny(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin enforces a valid admin session.
func RequireAdmin(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := subjectFromCookie(r, tokens, AdminCookie)
			if err != nil || subject != AdminSubject {
				deny(w, http.StatusForbidden, "forbidden", "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext retrieves the authenticated user's ID set by
// RequireUser. Returns ("", false) on anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func subjectFromCookie(r *http.Request, tokens *TokenService, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}

// deny writes the rejection in the same JSON shape handlers use, so 401
// and 403 bodies parse like every other error response.
func deny(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
