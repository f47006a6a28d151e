// Package middleware holds the HTTP middleware in front of the review API:
// reviewer authentication, rate limiting, CORS and request logging.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/reva/bridge/internal/broker"
)

const (
	ReviewerHeader  = "X-Reviewer"
	DefaultReviewer = "reviewer"
)

// HashToken returns the bcrypt hash to put in review.token_hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(h), nil
}

// ReviewerAuth checks the bearer token against tokenHash and tags the
// request context with the reviewer named in X-Reviewer. An empty
// tokenHash disables the token check.
//
// The token is shared by every reviewer, so X-Reviewer is an unverified
// label: the journal records who a token holder said they were, not who
// they are.
func ReviewerAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash != "" {
				token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !ok {
					// Browsers cannot set headers on a websocket handshake.
					token = r.URL.Query().Get("access_token")
				}
				if token == "" {
					writeError(w, http.StatusUnauthorized, "missing bearer token")
					return
				}
				if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
					writeError(w, http.StatusUnauthorized, "invalid token")
					return
				}
			}

			reviewer := strings.TrimSpace(r.Header.Get(ReviewerHeader))
			if reviewer == "" {
				reviewer = DefaultReviewer
			}
			next.ServeHTTP(w, r.WithContext(broker.WithReviewer(r.Context(), reviewer)))
		})
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}
