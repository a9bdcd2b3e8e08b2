// Package authz authenticates and authorizes callers of the control
// HTTP API (internal/httpapi) against the six control commands named
// in spec.md §6. Two verification paths are supported: an in-process
// HMACVerifier for tokens the core itself issues (e.g. to
// cmd/titanctl), and an OIDCVerifier plus Keycloak realm-role check
// for deployments fronted by an external identity provider.
package authz
