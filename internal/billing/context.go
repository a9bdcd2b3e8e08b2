package billing

import "context"

type contextKey string

const stripeClientKey contextKey = "stripeClient"

// SetStripeClientInContext stores the Stripe client in context.
func SetStripeClientInContext(ctx context.Context, client *StripeClient) context.Context {
	return context.WithValue(ctx, stripeClientKey, client)
}

// GetStripeClientFromContext retrieves the Stripe client from context.
func GetStripeClientFromContext(ctx context.Context) *StripeClient {
	client, _ := ctx.Value(stripeClientKey).(*StripeClient)
	return client
}
