package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader accepts every origin (CheckOrigin always returns true);
// terminal/UI consumers of this stream run behind the
// same reverse proxy as the rest of the control API in every deployed
// topology this core targets.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleHeatmap serves the current Latency Heatmap snapshot as JSON
// (§4.11, §6).
func (d Deps) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	if d.HeatmapSource == nil {
		writeErr(w, http.StatusNotImplemented, errNotConfigured("heatmap producer"))
		return
	}
	snap := d.HeatmapSource.Snapshot(time.Now())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// heatmapStreamInterval is how often a connected websocket client
// receives a fresh snapshot.
const heatmapStreamInterval = 2 * time.Second

// handleHeatmapStream upgrades to a websocket and pushes a fresh
// Latency Heatmap snapshot every heatmapStreamInterval until the
// client disconnects or the request context is cancelled (§4.11).
func (d Deps) handleHeatmapStream(w http.ResponseWriter, r *http.Request) {
	if d.HeatmapSource == nil {
		writeErr(w, http.StatusNotImplemented, errNotConfigured("heatmap producer"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(heatmapStreamInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := d.HeatmapSource.Snapshot(now)
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}

func errNotConfigured(what string) error {
	return httpapiError(what + " not configured")
}

type httpapiError string

func (e httpapiError) Error() string { return string(e) }
