package reports

import (
	"context"
	"time"

	"titan/internal/errkind"
	"titan/internal/failover"
)

// LatencyHeatmapPath is the §9 normative local-relative path for the
// persisted latency heatmap.
const LatencyHeatmapPath = "reports/latency_heatmap.json"

// WriteLatencyHeatmap snapshots producer at now and writes it through
// sink at the normative path.
func WriteLatencyHeatmap(ctx context.Context, sink *Sink, producer *failover.HeatmapProducer, now time.Time) error {
	snapshot := producer.Snapshot(now)
	data, err := snapshot.MarshalForReport()
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "reports.WriteLatencyHeatmap", "encode failed", err)
	}
	return sink.Write(ctx, LatencyHeatmapPath, data)
}
