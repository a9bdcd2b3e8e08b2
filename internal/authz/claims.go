package authz

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the tenant and scope set a control-channel bearer
// token asserts. Scopes arrive as a space-delimited string per OAuth2
// convention (RFC 8693) and are split on first use.
type Claims struct {
	jwt.RegisteredClaims
	TenantID  string `json:"tenant_id"`
	ScopeList string `json:"scope"`
}

// Scopes splits the space-delimited scope claim into Scope values.
func (c Claims) Scopes() []Scope {
	if c.ScopeList == "" {
		return nil
	}
	fields := strings.Fields(c.ScopeList)
	scopes := make([]Scope, len(fields))
	for i, f := range fields {
		scopes[i] = Scope(f)
	}
	return scopes
}

// HMACVerifier verifies control-channel bearer tokens signed with a
// shared HMAC secret — the in-process signing used when the core
// itself issues short-lived tokens to its own admin CLI/HTTP API,
// distinct from externally issued OIDC tokens (see oidc.go).
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier constructs a verifier over secret.
func NewHMACVerifier(secret []byte) *HMACVerifier {
	return &HMACVerifier{secret: secret}
}

// Verify parses and validates tokenString, returning its Claims.
func (v *HMACVerifier) Verify(tokenString string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return Claims{}, fmt.Errorf("authz: verify token: %w", err)
	}
	if !token.Valid {
		return Claims{}, fmt.Errorf("authz: token invalid")
	}
	return claims, nil
}

// Issue mints a short-lived HMAC token for tenantID with the given
// scopes, used by cmd/titanctl to authenticate its own control
// commands against the HTTP API.
func (v *HMACVerifier) Issue(tenantID string, scopes []Scope, ttl time.Duration) (string, error) {
	scopeStrs := make([]string, len(scopes))
	for i, s := range scopes {
		scopeStrs[i] = string(s)
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TenantID:  tenantID,
		ScopeList: strings.Join(scopeStrs, " "),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
