package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/invoiceitem"
)

// StripeAPI defines the subset of Stripe operations billing needs.
type StripeAPI interface {
	CreateInvoiceItem(customerID string, amountCents int64, currency, description string, metadata map[string]string) (*stripe.InvoiceItem, error)
	ListInvoices(customerID string, limit int64) ([]*stripe.Invoice, error)
}

// StripeClient wraps the Stripe API for performance-fee invoicing.
type StripeClient struct {
	apiKey string
}

var _ StripeAPI = (*StripeClient)(nil)

// NewStripeClient creates a new Stripe client wrapper.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{apiKey: apiKey}
}

// CreateCustomer creates a Stripe customer for a tenant. The core does
// not manage the customer lifecycle beyond this — a hosting product is
// expected to have already onboarded the tenant in the common case,
// this exists for environments where the core is the first writer.
func (s *StripeClient) CreateCustomer(tenantID, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"tenant_id": tenantID,
		},
	}
	c, err := customer.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe customer: %w", err)
	}
	return c, nil
}

// CreateInvoiceItem posts a pending invoice item against customerID,
// to be picked up by Stripe's next invoice for that customer (or an
// explicit draft invoice the caller finalizes).
func (s *StripeClient) CreateInvoiceItem(customerID string, amountCents int64, currency, description string, metadata map[string]string) (*stripe.InvoiceItem, error) {
	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(currency),
		Description: stripe.String(description),
		Metadata:    metadata,
	}
	item, err := invoiceitem.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe invoice item: %w", err)
	}
	return item, nil
}

// ListInvoices retrieves recent invoices for a Stripe customer, used
// by the reporting surface to show performance-fee billing history.
func (s *StripeClient) ListInvoices(customerID string, limit int64) ([]*stripe.Invoice, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Filters.AddFilter("limit", "", fmt.Sprintf("%d", limit))

	var invoices []*stripe.Invoice
	iter := invoice.List(params)
	for iter.Next() {
		invoices = append(invoices, iter.Invoice())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, nil
}
