package billing

import (
	"context"
	"fmt"
	"math"

	"github.com/stripe/stripe-go/v82"

	"titan/internal/errkind"
)

// Currency is the fixed settlement currency for performance-fee
// invoicing; the core does not do multi-currency accounting.
const Currency = "usd"

// CustomerResolver maps a tenant to the Stripe customer ID its
// performance fees are invoiced against. The core does not own this
// mapping — it is handed in by whatever system onboarded the tenant.
type CustomerResolver func(ctx context.Context, tenantID string) (customerID string, ok bool)

// Invoicer posts a performance-fee invoice item against the
// commander_pool share of a tenant's realized profit (the bucket §4.9's
// Net Realized Profit Router computes). The router does not invoke it.
type Invoicer struct {
	client  StripeAPI
	resolve CustomerResolver
}

// NewInvoicer constructs an Invoicer. client may be nil in
// environments with no Stripe key configured, in which case
// PostPerformanceFee is a documented no-op rather than a crash — the
// profit router's bucket accounting must not depend on billing being
// configured.
func NewInvoicer(client StripeAPI, resolve CustomerResolver) *Invoicer {
	return &Invoicer{client: client, resolve: resolve}
}

// PostPerformanceFee posts an invoice item for amount (already the
// commander_pool share computed by execution.ProfitRouter) against
// tenantID's Stripe customer. amount <= 0 and an unresolved tenant are
// both no-ops: there is no fee to bill for a loss, and a tenant with
// no known customer ID is out of scope for invoicing, not an error.
func (inv *Invoicer) PostPerformanceFee(ctx context.Context, tenantID string, amount float64) (*stripe.InvoiceItem, error) {
	if inv == nil || inv.client == nil || inv.resolve == nil {
		return nil, nil
	}
	if amount <= 0 {
		return nil, nil
	}

	customerID, ok := inv.resolve(ctx, tenantID)
	if !ok {
		return nil, nil
	}

	amountCents := int64(math.Round(amount * 100))
	item, err := inv.client.CreateInvoiceItem(
		customerID,
		amountCents,
		Currency,
		fmt.Sprintf("Performance fee — commander pool — tenant %s", tenantID),
		map[string]string{"tenant_id": tenantID, "bucket": "commander_pool"},
	)
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, "billing.Invoicer.PostPerformanceFee", "stripe invoice item failed", err)
	}
	return item, nil
}

// InvoiceHistory returns tenantID's recent Stripe invoices, for
// internal/reportapi's read-only billing history endpoint. Returns
// (nil, nil) for an unresolved tenant or an unconfigured Invoicer,
// consistent with PostPerformanceFee's no-op-over-error stance.
func (inv *Invoicer) InvoiceHistory(ctx context.Context, tenantID string, limit int64) ([]*stripe.Invoice, error) {
	if inv == nil || inv.client == nil || inv.resolve == nil {
		return nil, nil
	}
	customerID, ok := inv.resolve(ctx, tenantID)
	if !ok {
		return nil, nil
	}
	invoices, err := inv.client.ListInvoices(customerID, limit)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientUnavailable, "billing.Invoicer.InvoiceHistory", "stripe list invoices failed", err)
	}
	return invoices, nil
}
