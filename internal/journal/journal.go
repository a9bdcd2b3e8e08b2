// Package journal provides the durable, append-only store backing the
// Position Restorer (§4.10), the Drawdown Redirector's consecutive-loss
// count (§4.8), the Capital Book audit log (§3), and the Restart
// Queue's exhausted-retry history (§4.4). Every other piece of
// coordination-core state lives on the Bus; journal is the one
// component allowed a direct SQL connection, because durability across
// a full Bus loss is the one property the Bus itself cannot offer.
package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"titan/internal/errkind"
)

// Journal owns the single *sql.DB connection pool used by the
// coordination core's durable state. No other package opens its own
// SQL connection (mirrors §4.1's "no module opens its own Redis or
// etcd connection" rule, extended to the durable store).
type Journal struct {
	db *sql.DB
}

// Open connects to databaseURL and verifies reachability. Callers
// should defer Close.
func Open(databaseURL string) (*Journal, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, "journal.Open", "connect failed", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errkind.Wrap(errkind.TransientUnavailable, "journal.Open", "ping failed", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error { return j.db.Close() }

// Migrate creates the journal's tables if they do not already exist.
// Idempotent; safe to call on every process start.
func (j *Journal) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trade_outcomes (
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			symbol TEXT NOT NULL,
			signal_id TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION,
			pnl DOUBLE PRECISION,
			outcome TEXT NOT NULL,
			session_date TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS trade_outcomes_strategy_idx ON trade_outcomes (tenant_id, strategy, recorded_at DESC)`,
		`CREATE TABLE IF NOT EXISTS capital_book_audit (
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			version BIGINT NOT NULL,
			book_json JSONB NOT NULL,
			reason TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS restart_exhaustions (
			id BIGSERIAL PRIMARY KEY,
			module_name TEXT NOT NULL,
			module_version TEXT NOT NULL,
			attempts INT NOT NULL,
			cause TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS open_positions (
			tenant_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			net_quantity DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			restore_acked BOOLEAN NOT NULL DEFAULT false,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, symbol)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return errkind.Wrap(errkind.Fatal, "journal.Migrate", "schema statement failed", err)
		}
	}
	return nil
}

// TradeOutcome is one row of the append-only trade_outcomes table, the
// source the Drawdown Redirector (§4.8) reads consecutive-loss streaks
// from.
type TradeOutcome struct {
	TenantID    string
	Strategy    string
	Symbol      string
	SignalID    string
	Side        string
	Quantity    float64
	EntryPrice  float64
	ExitPrice   float64
	PnL         float64
	Outcome     string // "win" | "loss" | "flat"
	SessionDate string // YYYY-MM-DD, tenant-local
}

// RecordTrade appends one trade outcome. Trades are never updated or
// deleted; corrections are new rows.
func (j *Journal) RecordTrade(ctx context.Context, t TradeOutcome) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trade_outcomes
			(tenant_id, strategy, symbol, signal_id, side, quantity, entry_price, exit_price, pnl, outcome, session_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.TenantID, t.Strategy, t.Symbol, t.SignalID, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice, t.PnL, t.Outcome, t.SessionDate)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "journal.RecordTrade", "insert failed", err)
	}
	return nil
}

// RecentOutcomes returns the most recent n trade outcomes for
// (tenantID, strategy), newest first.
func (j *Journal) RecentOutcomes(ctx context.Context, tenantID, strategy string, n int) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT outcome FROM trade_outcomes
		WHERE tenant_id=$1 AND strategy=$2
		ORDER BY recorded_at DESC LIMIT $3`, tenantID, strategy, n)
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, "journal.RecentOutcomes", "query failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var outcome string
		if err := rows.Scan(&outcome); err != nil {
			return nil, errkind.Wrap(errkind.Fatal, "journal.RecentOutcomes", "scan failed", err)
		}
		out = append(out, outcome)
	}
	return out, rows.Err()
}

// AuditCapitalBook appends one immutable snapshot of a tenant's
// Capital Book to the audit log (§3: "Mutations journal-logged").
func (j *Journal) AuditCapitalBook(ctx context.Context, tenantID string, version int64, bookJSON []byte, reason string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO capital_book_audit (tenant_id, version, book_json, reason)
		VALUES ($1,$2,$3,$4)`, tenantID, version, bookJSON, reason)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "journal.AuditCapitalBook", "insert failed", err)
	}
	return nil
}

// RecordRestartExhaustion appends one row recording that a module was
// given up on after MAX_RETRIES. registry.RestartQueue does not call
// it; rows are written only by direct callers.
func (j *Journal) RecordRestartExhaustion(ctx context.Context, moduleName, moduleVersion string, attempts int, cause string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO restart_exhaustions (module_name, module_version, attempts, cause)
		VALUES ($1,$2,$3,$4)`, moduleName, moduleVersion, attempts, cause)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "journal.RecordRestartExhaustion", "insert failed", err)
	}
	return nil
}

// OpenPosition is one row of the open_positions table, the Position
// Restorer's (§4.10) source of truth across process restarts.
type OpenPosition struct {
	TenantID     string
	Symbol       string
	NetQuantity  float64
	EntryPrice   float64
	RestoreAcked bool
}

// UpsertPosition records the current net position for (tenantID,
// symbol). Neither the Session PnL Tracker nor the execution path
// calls it; positions reach the table only through direct callers.
func (j *Journal) UpsertPosition(ctx context.Context, p OpenPosition) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO open_positions (tenant_id, symbol, net_quantity, entry_price, restore_acked, updated_at)
		VALUES ($1,$2,$3,$4,$5, now())
		ON CONFLICT (tenant_id, symbol) DO UPDATE SET
			net_quantity = EXCLUDED.net_quantity,
			entry_price = EXCLUDED.entry_price,
			restore_acked = EXCLUDED.restore_acked,
			updated_at = now()`,
		p.TenantID, p.Symbol, p.NetQuantity, p.EntryPrice, p.RestoreAcked)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "journal.UpsertPosition", "upsert failed", err)
	}
	return nil
}

// OpenPositions returns every position for tenantID that has not yet
// been acked as restored (§4.10: "Idempotent: if a restore is acked
// within the journal already, it is skipped").
func (j *Journal) OpenPositions(ctx context.Context, tenantID string) ([]OpenPosition, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT tenant_id, symbol, net_quantity, entry_price, restore_acked
		FROM open_positions WHERE tenant_id=$1 AND restore_acked=false AND net_quantity <> 0`, tenantID)
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, "journal.OpenPositions", "query failed", err)
	}
	defer rows.Close()

	var out []OpenPosition
	for rows.Next() {
		var p OpenPosition
		if err := rows.Scan(&p.TenantID, &p.Symbol, &p.NetQuantity, &p.EntryPrice, &p.RestoreAcked); err != nil {
			return nil, errkind.Wrap(errkind.Fatal, "journal.OpenPositions", "scan failed", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MonthlyRealizedRow is one (symbol, outcome) aggregate over a
// tenant's trade_outcomes for a given calendar month, the granularity
// internal/reports' tax report is built from.
type MonthlyRealizedRow struct {
	Symbol    string
	Outcome   string
	TradeCt   int
	RealizedP float64
}

// MonthlyRealized aggregates realized PnL by symbol and outcome for
// tenantID over yearMonth (YYYY-MM), for the monthly tax report.
func (j *Journal) MonthlyRealized(ctx context.Context, tenantID, yearMonth string) ([]MonthlyRealizedRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT symbol, outcome, COUNT(*), COALESCE(SUM(pnl), 0)
		FROM trade_outcomes
		WHERE tenant_id=$1 AND session_date LIKE $2
		GROUP BY symbol, outcome
		ORDER BY symbol, outcome`, tenantID, yearMonth+"-%")
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, "journal.MonthlyRealized", "query failed", err)
	}
	defer rows.Close()

	var out []MonthlyRealizedRow
	for rows.Next() {
		var r MonthlyRealizedRow
		if err := rows.Scan(&r.Symbol, &r.Outcome, &r.TradeCt, &r.RealizedP); err != nil {
			return nil, errkind.Wrap(errkind.Fatal, "journal.MonthlyRealized", "scan failed", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AckRestore marks (tenantID, symbol) as already restored, so a
// duplicate restart does not re-emit a restore intent.
func (j *Journal) AckRestore(ctx context.Context, tenantID, symbol string) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE open_positions SET restore_acked=true, updated_at=now()
		WHERE tenant_id=$1 AND symbol=$2`, tenantID, symbol)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, "journal.AckRestore", fmt.Sprintf("ack %s/%s failed", tenantID, symbol), err)
	}
	return nil
}
