package reports

import (
	"context"

	"titan/internal/errkind"
	"titan/internal/failover"
)

// RecoveryReportPath is the §9 normative local-relative path for the
// persisted recovery report.
const RecoveryReportPath = "reports/recovery_report.json"

// WriteRecoveryReport marshals report and writes it through sink at
// the normative path.
func WriteRecoveryReport(ctx context.Context, sink *Sink, report failover.RecoveryReport) error {
	data, err := report.MarshalJSON()
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "reports.WriteRecoveryReport", "encode failed", err)
	}
	return sink.Write(ctx, RecoveryReportPath, data)
}
