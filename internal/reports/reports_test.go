package reports

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"titan/internal/failover"
)

func TestSinkWriteLocalOnly(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(dir, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), "reports/thing.json", []byte(`{"a":1}`)))

	data, err := os.ReadFile(filepath.Join(dir, "reports/thing.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
}

func TestWriteTaxReport(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(dir, nil)
	require.NoError(t, err)

	report := TaxReport{
		TenantID:  "tenant-a",
		YearMonth: "2026-06",
		Rows: []TaxReportRow{
			{Symbol: "BTCUSDT", Outcome: "win", TradeCount: 3, RealizedPnL: 100},
			{Symbol: "BTCUSDT", Outcome: "loss", TradeCount: 1, RealizedPnL: -20},
		},
		Totals: map[string]float64{"win": 100, "loss": -20, "flat": 0},
	}
	require.NoError(t, WriteTaxReport(context.Background(), sink, report))

	data, err := os.ReadFile(filepath.Join(dir, TaxReportPath("2026-06")))
	require.NoError(t, err)
	var decoded TaxReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report, decoded)
}

func TestWriteLatencyHeatmap(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(dir, nil)
	require.NoError(t, err)

	producer := failover.NewHeatmapProducer()
	producer.Observe(failover.Sample{From: "signal", To: "gate", Latency: 4 * time.Millisecond})

	require.NoError(t, WriteLatencyHeatmap(context.Background(), sink, producer, time.Unix(0, 0)))

	data, err := os.ReadFile(filepath.Join(dir, LatencyHeatmapPath))
	require.NoError(t, err)
	var hm failover.Heatmap
	require.NoError(t, json.Unmarshal(data, &hm))
	require.Len(t, hm.Cells, 1)
	assert.Equal(t, "signal", hm.Cells[0].From)
}

func TestWriteRecoveryReport(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(dir, nil)
	require.NoError(t, err)

	reporter := failover.NewRecoveryReporter(time.Unix(0, 0))
	reporter.Step(time.Unix(10, 0), "replay_positions", "restored 2 open positions")
	report := reporter.Finish(time.Unix(20, 0), "recovered")

	require.NoError(t, WriteRecoveryReport(context.Background(), sink, report))

	data, err := os.ReadFile(filepath.Join(dir, RecoveryReportPath))
	require.NoError(t, err)
	assert.Contains(t, string(data), "replay_positions")
}
