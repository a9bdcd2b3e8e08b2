package authz

import (
	"context"
	"fmt"

	"github.com/Nerzal/gocloak/v13"
)

// KeycloakConfig configures the admin-role client credentials grant
// used to confirm realm-role membership for operators issuing
// system-wide control commands (halt, adjust_capital,
// set_morphic_mode — the ScopeAdmin-only commands in scopes.go).
type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
	// AdminRole is the realm role whose holders carry ScopeAdmin.
	AdminRole string
}

// RoleChecker confirms a user token carries the configured admin realm
// role, gating the control commands scopes.go reserves for ScopeAdmin.
type RoleChecker struct {
	client *gocloak.GoCloak
	cfg    KeycloakConfig
}

// NewRoleChecker constructs a RoleChecker against cfg.
func NewRoleChecker(cfg KeycloakConfig) *RoleChecker {
	return &RoleChecker{client: gocloak.NewClient(cfg.URL), cfg: cfg}
}

// HasAdminRole reports whether userToken's realm-access roles include
// cfg.AdminRole.
func (r *RoleChecker) HasAdminRole(ctx context.Context, userToken string) (bool, error) {
	_, claims, err := r.client.DecodeAccessToken(ctx, userToken, r.cfg.Realm)
	if err != nil {
		return false, fmt.Errorf("authz: decode access token: %w", err)
	}

	realmAccess, ok := (*claims)["realm_access"].(map[string]interface{})
	if !ok {
		return false, nil
	}
	rawRoles, ok := realmAccess["roles"].([]interface{})
	if !ok {
		return false, nil
	}
	for _, rr := range rawRoles {
		if role, ok := rr.(string); ok && role == r.cfg.AdminRole {
			return true, nil
		}
	}
	return false, nil
}

// GrantedScopes derives the Scope set a user token carries: everyone
// authenticated gets ScopeOperate, admin-role holders additionally get
// ScopeAdmin.
func (r *RoleChecker) GrantedScopes(ctx context.Context, userToken string) ([]Scope, error) {
	scopes := []Scope{ScopeOperate}
	isAdmin, err := r.HasAdminRole(ctx, userToken)
	if err != nil {
		return nil, err
	}
	if isAdmin {
		scopes = append(scopes, ScopeAdmin)
	}
	return scopes, nil
}
