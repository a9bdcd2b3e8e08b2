package failover

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Sample is one stage-to-stage latency observation fed to the Latency
// Heatmap Producer (§4.11).
type Sample struct {
	From    string
	To      string
	Latency time.Duration
}

// bucketBounds are the histogram-style bucket upper bounds (ms) the
// heatmap groups samples into.
var bucketBounds = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

func bucketFor(latency time.Duration) string {
	ms := float64(latency.Microseconds()) / 1000.0
	for _, b := range bucketBounds {
		if ms <= b {
			return fmt.Sprintf("<=%gms", b)
		}
	}
	return ">2500ms"
}

// Cell is one (from, to, bucket) count in the heatmap matrix.
type Cell struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}

// Heatmap is the persisted/streamed snapshot consumed by terminal/UI
// clients (Non-goal (e): "only the data they consume").
type Heatmap struct {
	GeneratedAtMillis int64  `json:"generated_at_millis"`
	Cells             []Cell `json:"cells"`
}

// HeatmapProducer samples stage-to-stage latencies and stores a
// bucketed matrix (§4.11).
type HeatmapProducer struct {
	mu     sync.Mutex
	counts map[[3]string]int64
}

// NewHeatmapProducer constructs an empty HeatmapProducer.
func NewHeatmapProducer() *HeatmapProducer {
	return &HeatmapProducer{counts: make(map[[3]string]int64)}
}

// Observe records one stage-to-stage latency sample.
func (p *HeatmapProducer) Observe(s Sample) {
	key := [3]string{s.From, s.To, bucketFor(s.Latency)}
	p.mu.Lock()
	p.counts[key]++
	p.mu.Unlock()
}

// Snapshot returns the current bucketed matrix, sorted for stable JSON
// output (§6: "stable key order").
func (p *HeatmapProducer) Snapshot(now time.Time) Heatmap {
	p.mu.Lock()
	defer p.mu.Unlock()

	cells := make([]Cell, 0, len(p.counts))
	for k, count := range p.counts {
		cells = append(cells, Cell{From: k[0], To: k[1], Bucket: k[2], Count: count})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].From != cells[j].From {
			return cells[i].From < cells[j].From
		}
		if cells[i].To != cells[j].To {
			return cells[i].To < cells[j].To
		}
		return cells[i].Bucket < cells[j].Bucket
	})
	return Heatmap{GeneratedAtMillis: now.UnixMilli(), Cells: cells}
}

// MarshalForReport is a convenience for persisting the snapshot to
// reports/latency_heatmap.json (§6).
func (h Heatmap) MarshalForReport() ([]byte, error) {
	return json.MarshalIndent(h, "", "  ")
}

// StreamHandler is the minimal surface internal/httpapi's websocket
// endpoint needs to push snapshots; kept here so the producer has no
// dependency on the transport package.
type StreamHandler interface {
	Send(ctx context.Context, h Heatmap) error
}
