// ABOUTME: RequireAuthenticated middleware for session tokens (Bearer header or cookie).
// ABOUTME: Injects the authenticated user's ID into the request context.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/metagram-net/metagram.net-sub000/internal/auth"
	"github.com/metagram-net/metagram.net-sub000/internal/store"
)

// SessionCookie is the cookie that carries a session token for browser clients.
const SessionCookie = "session"

// RequireAuthenticated returns a middleware that requires a valid session
// token, either as "Authorization: Bearer <token>" or in the session cookie.
// The header wins when both are present. When the server has a store, the
// token's user must still exist.
func (srv *Server) RequireAuthenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if c, err := r.Cookie(SessionCookie); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			claims, err := auth.ParseSessionToken(token, []byte(srv.cfg.SessionSecret))
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if srv.store != nil {
				if _, err := srv.store.GetUser(r.Context(), claims.UserID); err != nil {
					if !errors.Is(err, store.ErrNotFound) {
						slog.ErrorContext(r.Context(), "auth: get user", "error", err)
						http.Error(w, "internal error", http.StatusInternalServerError)
						return
					}
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), claims.UserID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < len("Bearer ") || !strings.EqualFold(h[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[len("Bearer "):])
}
