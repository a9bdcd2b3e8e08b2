package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"titan/internal/authz"
	"titan/internal/bus"
	"titan/internal/capital"
	"titan/internal/envconfig"
	"titan/internal/errkind"
	"titan/internal/execution"
	"titan/internal/failover"
	"titan/internal/mode"
	"titan/internal/registry"
)

// ControlChannel is the normative control channel (§6).
const ControlChannel = "titan:control:manual"

// ControlRequest is the `{action, args…}` message schema for control
// commands (§6).
type ControlRequest struct {
	Action   authz.Command   `json:"action"`
	TenantID string          `json:"tenant_id"`
	Args     json.RawMessage `json:"args"`
}

// Deps are the components the control surface dispatches onto. Any
// field may be nil in a deployment that doesn't wire that concern; the
// corresponding command then fails with errkind.Fatal, reported as 500
// (the heatmap endpoints report 501).
type Deps struct {
	Bus           bus.Bus
	Governor      *mode.Governor
	CapitalStore  *capital.Store
	RestartQueue  *registry.RestartQueue
	PnLTracker    *execution.Tracker
	ProfitRouter  *execution.ProfitRouter
	StateMachine  *failover.StateMachine
	HeatmapSource *failover.HeatmapProducer
}

// Router builds the control/report chi router. auth wraps every
// control route with bearer-token verification; pass a no-op
// middleware to disable auth in tests.
func Router(deps Deps, authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}
		r.Post("/control", deps.handleControl)
	})

	r.Get("/reports/heatmap", deps.handleHeatmap)
	r.Get("/ws/heatmap", deps.handleHeatmapStream)

	return r
}

func writeErr(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (d Deps) handleControl(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("decode control request: %w", err))
		return
	}

	claims, ok := authz.ClaimsFromContext(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, fmt.Errorf("no authenticated caller"))
		return
	}
	if !authz.Authorized(req.Action, claims.Scopes()) {
		writeErr(w, http.StatusForbidden, errkind.New(errkind.PolicyViolation, "httpapi.handleControl",
			fmt.Sprintf("caller lacks scope for action %q", req.Action)))
		return
	}

	if d.Bus != nil {
		if payload, err := json.Marshal(req); err == nil {
			_ = d.Bus.Publish(r.Context(), ControlChannel, payload)
		}
	}

	result, err := d.dispatch(r.Context(), req)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}

func statusFor(err error) int {
	var ek *errkind.Error
	if asErrkind(err, &ek) {
		switch ek.Kind {
		case errkind.PolicyViolation:
			return http.StatusForbidden
		case errkind.InvalidSignal:
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func asErrkind(err error, target **errkind.Error) bool {
	e, ok := err.(*errkind.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func (d Deps) dispatch(ctx context.Context, req ControlRequest) (interface{}, error) {
	switch req.Action {
	case authz.CommandHalt:
		return d.doHalt(ctx, req)
	case authz.CommandFlush:
		return d.doFlush(ctx, req)
	case authz.CommandRestart:
		return d.doRestart(ctx, req)
	case authz.CommandAdjustCapital:
		return d.doAdjustCapital(ctx, req)
	case authz.CommandSetPersona:
		return d.doSetPersona(ctx, req)
	case authz.CommandSetMorphicMode:
		return d.doSetMorphicMode(ctx, req)
	default:
		return nil, errkind.New(errkind.InvalidSignal, "httpapi.dispatch",
			fmt.Sprintf("unrecognized action %q", req.Action))
	}
}

// doHalt enters system-wide Hibernating (§4.11): only an explicit
// admin command returns the system to Normal, which is exactly the
// authority this handler requires (ScopeAdmin, enforced above).
func (d Deps) doHalt(ctx context.Context, req ControlRequest) (interface{}, error) {
	if d.StateMachine == nil {
		return nil, errkind.New(errkind.Fatal, "httpapi.doHalt", "state machine not configured")
	}
	if err := d.StateMachine.EnterHibernating(ctx); err != nil {
		return nil, err
	}
	if d.Bus != nil {
		data, _ := json.Marshal(capital.HibernateDirective{Reason: "manual_halt", TenantID: req.TenantID})
		_ = d.Bus.Publish(ctx, capital.HibernateChannel, data)
	}
	return map[string]string{"state": string(failover.StateHibernating)}, nil
}

// doFlush forces the Net Realized Profit Router to close the tenant's
// current session early, per SPEC_FULL.md §4's open-question decision
// ("...and on explicit admin flush").
func (d Deps) doFlush(ctx context.Context, req ControlRequest) (interface{}, error) {
	if d.ProfitRouter == nil || d.PnLTracker == nil {
		return nil, errkind.New(errkind.Fatal, "httpapi.doFlush", "profit router not configured")
	}
	var args struct {
		Symbol string `json:"symbol"`
	}
	_ = json.Unmarshal(req.Args, &args)

	sessionDate := execution.SessionDate(time.Now())
	pnl, err := d.PnLTracker.Get(ctx, req.TenantID, args.Symbol, sessionDate)
	if err != nil {
		return nil, err
	}
	if err := d.ProfitRouter.Route(ctx, req.TenantID, pnl.Realized); err != nil {
		return nil, err
	}
	return pnl, nil
}

func (d Deps) doRestart(ctx context.Context, req ControlRequest) (interface{}, error) {
	if d.RestartQueue == nil {
		return nil, errkind.New(errkind.Fatal, "httpapi.doRestart", "restart queue not configured")
	}
	var args struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(req.Args, &args); err != nil || args.Name == "" {
		return nil, errkind.New(errkind.InvalidSignal, "httpapi.doRestart", "args must include name")
	}
	if err := d.RestartQueue.Enqueue(ctx, args.Name, args.Version, fmt.Errorf("manual restart requested via control API")); err != nil {
		return nil, err
	}
	return map[string]string{"name": args.Name, "version": args.Version}, nil
}

func (d Deps) doAdjustCapital(ctx context.Context, req ControlRequest) (interface{}, error) {
	if d.CapitalStore == nil {
		return nil, errkind.New(errkind.Fatal, "httpapi.doAdjustCapital", "capital store not configured")
	}
	var args struct {
		Strategy string  `json:"strategy"`
		Fraction float64 `json:"fraction"`
	}
	if err := json.Unmarshal(req.Args, &args); err != nil || args.Strategy == "" {
		return nil, errkind.New(errkind.InvalidSignal, "httpapi.doAdjustCapital", "args must include strategy and fraction")
	}
	book, err := d.CapitalStore.Mutate(ctx, req.TenantID, "control.adjust_capital", func(b *capital.Book) {
		b.Allocations[args.Strategy] = args.Fraction
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

func (d Deps) doSetPersona(ctx context.Context, req ControlRequest) (interface{}, error) {
	if d.Governor == nil {
		return nil, errkind.New(errkind.Fatal, "httpapi.doSetPersona", "governor not configured")
	}
	var args struct {
		Persona string `json:"persona"`
	}
	if err := json.Unmarshal(req.Args, &args); err != nil || args.Persona == "" {
		return nil, errkind.New(errkind.InvalidSignal, "httpapi.doSetPersona", "args must include persona")
	}
	changeReq := mode.ChangeRequest{
		TenantID:       req.TenantID,
		Mode:           envconfig.MorphicMode(args.Persona),
		RequesterScope: "operator",
	}
	if err := d.Governor.RequestChange(ctx, changeReq); err != nil {
		return nil, err
	}
	return changeReq, nil
}

func (d Deps) doSetMorphicMode(ctx context.Context, req ControlRequest) (interface{}, error) {
	if d.Governor == nil {
		return nil, errkind.New(errkind.Fatal, "httpapi.doSetMorphicMode", "governor not configured")
	}
	var args struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(req.Args, &args); err != nil || args.Mode == "" {
		return nil, errkind.New(errkind.InvalidSignal, "httpapi.doSetMorphicMode", "args must include mode")
	}
	changeReq := mode.ChangeRequest{
		TenantID:       req.TenantID,
		Mode:           envconfig.MorphicMode(args.Mode),
		RequesterScope: "admin",
	}
	if err := d.Governor.RequestChange(ctx, changeReq); err != nil {
		return nil, err
	}
	return changeReq, nil
}
