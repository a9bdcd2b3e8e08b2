package authz

import "context"

type contextKey string

const claimsKey contextKey = "authz_claims"

// WithClaims stores the authenticated caller's Claims on ctx, set by
// the control HTTP API's auth middleware after verifying a bearer
// token (HMAC or OIDC).
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext retrieves the Claims stored by WithClaims.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(Claims)
	return claims, ok
}
