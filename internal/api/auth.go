package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken rejects requests without the configured control token. The
// token is read from "Authorization: Bearer", X-API-Key, or the token query
// parameter (EventSource cannot set headers). An empty token allows all.
func requireToken(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenMatches(presentedToken(r), expected) {
				next.ServeHTTP(w, r)
				return
			}
			writeErrorMessage(w, http.StatusUnauthorized, "unauthorized", "Invalid control token")
		})
	}
}

func presentedToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("token")
}

func tokenMatches(got, expected string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
