package auth

import (
	"context"
	"net/http"
	"strings"
)

// ContextKey is used for storing the session in request context.
type ContextKey string

const SessionContextKey ContextKey = "session"

// Middleware guards HTTP handlers with bearer-token auth.
type Middleware struct {
	store *Store
}

// NewMiddleware creates auth middleware over the given store.
func NewMiddleware(store *Store) *Middleware {
	return &Middleware{store: store}
}

// RequireAuth wraps a handler to require a valid session.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.store.Validate(TokenFromRequest(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromRequest extracts the bearer token. Websocket clients cannot
// set headers, so a token query parameter is accepted as well.
func TokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// SessionFromContext retrieves the session placed by RequireAuth.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(SessionContextKey).(*Session)
	return sess
}
