package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACVerifierRoundTrip(t *testing.T) {
	v := NewHMACVerifier([]byte("test-secret"))

	token, err := v.Issue("tenant-a", []Scope{ScopeOperate, ScopeAdmin}, time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", claims.TenantID)
	assert.ElementsMatch(t, []Scope{ScopeOperate, ScopeAdmin}, claims.Scopes())
}

func TestHMACVerifierRejectsWrongSecret(t *testing.T) {
	v := NewHMACVerifier([]byte("test-secret"))
	token, err := v.Issue("tenant-a", []Scope{ScopeOperate}, time.Minute)
	require.NoError(t, err)

	wrong := NewHMACVerifier([]byte("different-secret"))
	_, err = wrong.Verify(token)
	assert.Error(t, err)
}

func TestHMACVerifierRejectsExpiredToken(t *testing.T) {
	v := NewHMACVerifier([]byte("test-secret"))
	token, err := v.Issue("tenant-a", []Scope{ScopeOperate}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestClaimsScopesEmpty(t *testing.T) {
	c := Claims{}
	assert.Nil(t, c.Scopes())
}
