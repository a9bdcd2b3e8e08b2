package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/authz"
	"titan/internal/bus"
	"titan/internal/capital"
	"titan/internal/execution"
	"titan/internal/failover"
	"titan/internal/mode"
)

func newTestDeps(t *testing.T) (Deps, *authz.HMACVerifier) {
	t.Helper()
	b := bus.NewMemoryBus()
	capStore := capital.NewStore(b, nil)
	governor := mode.NewGovernor(b, nil, "admin", "operator")
	tracker := execution.NewTracker(b)
	profitRouter := execution.NewProfitRouter(b, capStore)
	stateMachine := failover.NewStateMachine(b)

	deps := Deps{
		Bus:          b,
		Governor:     governor,
		CapitalStore: capStore,
		PnLTracker:   tracker,
		ProfitRouter: profitRouter,
		StateMachine: stateMachine,
	}
	return deps, authz.NewHMACVerifier([]byte("test-secret"))
}

func doControlRequest(t *testing.T, deps Deps, verifier *authz.HMACVerifier, scopes []authz.Scope, req ControlRequest) *httptest.ResponseRecorder {
	t.Helper()
	router := Router(deps, BearerAuth(verifier))

	body, err := json.Marshal(req)
	require.NoError(t, err)

	token, err := verifier.Issue("tenant-a", scopes, time.Minute)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/control", bytes.NewReader(body))
	httpReq.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httpReq)
	return rec
}

func TestControlRejectsMissingToken(t *testing.T) {
	deps, verifier := newTestDeps(t)
	router := Router(deps, BearerAuth(verifier))

	body, _ := json.Marshal(ControlRequest{Action: authz.CommandFlush, TenantID: "tenant-a"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control", bytes.NewReader(body))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestControlRejectsUnauthorizedScope(t *testing.T) {
	deps, verifier := newTestDeps(t)
	rec := doControlRequest(t, deps, verifier, []authz.Scope{authz.ScopeOperate}, ControlRequest{
		Action: authz.CommandHalt, TenantID: "tenant-a",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestControlHaltEntersHibernating(t *testing.T) {
	deps, verifier := newTestDeps(t)
	rec := doControlRequest(t, deps, verifier, []authz.Scope{authz.ScopeAdmin}, ControlRequest{
		Action: authz.CommandHalt, TenantID: "tenant-a",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	state, err := deps.StateMachine.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, failover.StateHibernating, state)
}

func TestControlAdjustCapital(t *testing.T) {
	deps, verifier := newTestDeps(t)
	args, _ := json.Marshal(map[string]interface{}{"strategy": "MomentumStrategy", "fraction": 0.2})
	rec := doControlRequest(t, deps, verifier, []authz.Scope{authz.ScopeAdmin}, ControlRequest{
		Action: authz.CommandAdjustCapital, TenantID: "tenant-a", Args: args,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	book, err := deps.CapitalStore.Get(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 0.2, book.Allocations["MomentumStrategy"])
}

func TestControlSetMorphicMode(t *testing.T) {
	deps, verifier := newTestDeps(t)
	args, _ := json.Marshal(map[string]string{"mode": "alpha_push"})
	rec := doControlRequest(t, deps, verifier, []authz.Scope{authz.ScopeAdmin}, ControlRequest{
		Action: authz.CommandSetMorphicMode, TenantID: "tenant-a", Args: args,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	current, err := deps.Governor.CurrentMode(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "alpha_push", current)
}

func TestControlUnrecognizedAction(t *testing.T) {
	deps, verifier := newTestDeps(t)
	rec := doControlRequest(t, deps, verifier, []authz.Scope{authz.ScopeAdmin}, ControlRequest{
		Action: authz.Command("bogus"), TenantID: "tenant-a",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
