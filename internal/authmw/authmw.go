// Package authmw guards the feed endpoints with a shared secret.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// QueryParam is the query parameter checked when no Authorization header is
// sent. PagerDuty and Phabricator webhooks cannot set headers.
const QueryParam = "token"

// SharedSecret returns middleware that accepts a request carrying the secret
// either as "Authorization: Bearer <secret>" or as "?token=<secret>".
// An empty secret disables the check.
func SharedSecret(secret string) func(http.Handler) http.Handler {
	if secret == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	expected := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := presented(r)
			if !ok {
				http.Error(w, `{"error":"missing credentials"}`, http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// presented returns the credential the request carries. A malformed
// Authorization header is not rescued by the query parameter.
func presented(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if !strings.HasPrefix(auth, "Bearer ") {
			return "", false
		}
		return auth[len("Bearer "):], true
	}
	if tok := r.URL.Query().Get(QueryParam); tok != "" {
		return tok, true
	}
	return "", false
}
