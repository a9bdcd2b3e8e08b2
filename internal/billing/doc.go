// Package billing implements the one billing surface the coordination
// core itself owns: posting a performance-fee invoice item against a
// tenant's Stripe customer for the commander_pool share of realized
// profit (§4.9), and listing that customer's invoices. The Net Realized
// Profit Router does not call into this package; an invoice item is
// posted only when a caller invokes Invoicer.PostPerformanceFee.
//
// The core does not bill for platform usage, seats, or subscriptions —
// those belong to a hosting product layered on top, not the
// coordination fabric itself (§1 Non-goals). A tenant's Stripe
// customer ID is configuration the core is handed, not something it
// provisions.
package billing
