package signal

import (
	"context"
	"encoding/json"

	"titan/internal/bus"
	"titan/internal/errkind"
)

// Router is pipeline stage #10 (§4.7): the terminal stage, publishing
// each surviving signal to ExecutionChannel for the (out-of-scope)
// Execution Controller to consume.
type Router struct {
	bus bus.Bus
}

// NewRouter constructs a Router publishing through b.
func NewRouter(b bus.Bus) *Router {
	return &Router{bus: b}
}

// Route appends the router's own provenance entry and publishes s to
// ExecutionChannel.
func (r *Router) Route(ctx context.Context, s Signal) error {
	routed := s.WithVerdict(StageRouter, VerdictPass, "")
	data, err := json.Marshal(routed)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "signal.Router.Route", "encode failed", err)
	}
	return r.bus.Publish(ctx, ExecutionChannel, data)
}
