package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"titan/internal/authz"
)

// BearerAuth returns chi middleware that verifies the Authorization
// header's bearer token with verifier and stores the resulting
// authz.Claims on the request context for downstream handlers
// (control.go's handleControl reads them via authz.ClaimsFromContext).
func BearerAuth(verifier *authz.HMACVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeErr(w, http.StatusUnauthorized, fmt.Errorf("missing bearer token"))
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				writeErr(w, http.StatusUnauthorized, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(authz.WithClaims(r.Context(), claims)))
		})
	}
}
