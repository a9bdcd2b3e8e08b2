// Package httpapi is the admin/control HTTP surface named in
// spec.md §6: a chi router exposing the six control commands
// (halt, flush, restart, adjust_capital, set_persona,
// set_morphic_mode) behind internal/authz bearer-token checks, plus a
// websocket push of the Latency Heatmap (§4.11) for terminal/UI
// consumers. It serves data only — dashboards themselves are a
// Non-goal (§1(e)).
package httpapi
