package reports

import (
	"context"
	"encoding/json"
	"fmt"

	"titan/internal/errkind"
	"titan/internal/journal"
)

// TaxReport is the §9 monthly tax report for one tenant: realized PnL
// aggregated by symbol and outcome over a calendar month.
type TaxReport struct {
	TenantID  string             `json:"tenant_id"`
	YearMonth string             `json:"year_month"`
	Rows      []TaxReportRow     `json:"rows"`
	Totals    map[string]float64 `json:"totals"`
}

// TaxReportRow is one (symbol, outcome) aggregate line.
type TaxReportRow struct {
	Symbol      string  `json:"symbol"`
	Outcome     string  `json:"outcome"`
	TradeCount  int     `json:"trade_count"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// BuildTaxReport aggregates tenantID's trade outcomes for yearMonth
// (YYYY-MM) into a TaxReport via the journal, the tax report's source
// of truth (§9's persisted reports are derived, never authoritative).
func BuildTaxReport(ctx context.Context, j *journal.Journal, tenantID, yearMonth string) (TaxReport, error) {
	rows, err := j.MonthlyRealized(ctx, tenantID, yearMonth)
	if err != nil {
		return TaxReport{}, err
	}

	report := TaxReport{
		TenantID:  tenantID,
		YearMonth: yearMonth,
		Totals:    map[string]float64{"win": 0, "loss": 0, "flat": 0},
	}
	for _, r := range rows {
		report.Rows = append(report.Rows, TaxReportRow{
			Symbol:      r.Symbol,
			Outcome:     r.Outcome,
			TradeCount:  r.TradeCt,
			RealizedPnL: r.RealizedP,
		})
		report.Totals[r.Outcome] += r.RealizedP
	}
	return report, nil
}

// TaxReportPath returns the §9 normative local-relative path for a
// tenant's monthly tax report.
func TaxReportPath(yearMonth string) string {
	return fmt.Sprintf("tax_report_%s.json", yearMonth)
}

// WriteTaxReport marshals report as stable-key-ordered JSON and writes
// it through sink.
func WriteTaxReport(ctx context.Context, sink *Sink, report TaxReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "reports.WriteTaxReport", "encode failed", err)
	}
	return sink.Write(ctx, TaxReportPath(report.YearMonth), data)
}
