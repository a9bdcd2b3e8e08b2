package execution

import (
	"context"

	"titan/internal/journal"
)

// RestoreIntentChannel carries the restore intents the Position
// Restorer emits to the (external) Execution Controller on startup.
const RestoreIntentChannel = "titan:core:restore"

// RestoreIntent asks the Execution Controller to reconcile its own
// open-order book against a previously journaled position (§4.10).
type RestoreIntent struct {
	TenantID    string  `json:"tenant_id"`
	Symbol      string  `json:"symbol"`
	NetQuantity float64 `json:"net_quantity"`
	EntryPrice  float64 `json:"entry_price"`
}

// Publisher is the narrow Bus surface the Restorer needs: publish one
// intent per open position.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Restorer implements the Position Restorer (§4.10): on startup it
// reads the last journaled open positions per tenant and emits one
// restore intent per position, skipping any already acked as restored.
type Restorer struct {
	journal *journal.Journal
	bus     Publisher
}

// NewRestorer constructs a Restorer.
func NewRestorer(j *journal.Journal, b Publisher) *Restorer {
	return &Restorer{journal: j, bus: b}
}

// Restore emits a RestoreIntent for every still-open, not-yet-acked
// position belonging to tenantID, then marks each as acked so a
// duplicate restart does not re-emit it (§4.10: "Idempotent: if a
// restore is acked within the journal already, it is skipped").
func (r *Restorer) Restore(ctx context.Context, tenantID string) (int, error) {
	positions, err := r.journal.OpenPositions(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, p := range positions {
		data, err := marshal(RestoreIntent{
			TenantID: p.TenantID, Symbol: p.Symbol, NetQuantity: p.NetQuantity, EntryPrice: p.EntryPrice,
		})
		if err != nil {
			return restored, err
		}
		if err := r.bus.Publish(ctx, RestoreIntentChannel, data); err != nil {
			return restored, err
		}
		if err := r.journal.AckRestore(ctx, p.TenantID, p.Symbol); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}
