// Package auth guards the streamable HTTP transport with a static bearer
// token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	bearerPrefix = "Bearer "
	challenge    = `Bearer realm="metabase-mcp"`
)

// RequireBearer returns middleware admitting only requests whose
// Authorization header is exactly "Bearer <token>". The prefix is
// case-sensitive and takes a single space. An empty token disables the check.
// Rejected requests get a 401 with a WWW-Authenticate challenge and never
// reach next.
func RequireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || provided == "" || subtle.ConstantTimeCompare([]byte(provided), want) != 1 {
				w.Header().Set("WWW-Authenticate", challenge)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
