// Package reports writes the coordination core's three persisted JSON
// reports (§9): the monthly tax report, the latency heatmap, and the
// failover recovery report. Every report is written to the local
// filesystem first; a Sink additionally mirrors it to S3-compatible
// object storage when one is configured, so a report survives the
// loss of the local disk it was written on.
package reports
