package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const tokenQueryParam = "token"

// authMiddleware requires "Authorization: Bearer <token>" on every request
// when token is set. An empty token disables the check.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	return tokenAuth(token, false, next)
}

// streamAuthMiddleware also accepts ?token=, since browsers cannot set
// headers on a websocket upgrade.
func streamAuthMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	return tokenAuth(token, true, next)
}

func tokenAuth(token string, allowQuery bool, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	want := []byte(token)
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok && allowQuery {
			got, ok = r.URL.Query().Get(tokenQueryParam), true
		}
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="aoi"`)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
