package main

import (
	"context"
	"math"
	"time"

	"titan/internal/capital"
	"titan/internal/execution"
)

// trailingWindowDays is how many tenant-local session dates
// trailingPerformanceFeed samples when building a strategy's trailing
// ProfitabilityRisk pair (§4.8's "trailing window").
const trailingWindowDays = 7

// trailingPerformanceFeed builds the LoopOptimizer's TrailingWindow
// callback from real session data: a strategy's trailing profitability
// is its mean daily realized PnL over trailingWindowDays, squashed to
// [-1,1]; its risk is the coefficient of variation across those same
// days, clamped to [0,1]. The Capital Book's current Allocations keys
// are the only place the coordination core records which strategies a
// tenant is running, so they double as the universe this feed samples
// — a tenant with no allocations yet has nothing to rebalance against.
func trailingPerformanceFeed(tracker *execution.Tracker, capStore *capital.Store) func(ctx context.Context, tenantID string) ([]capital.ProfitabilityRisk, error) {
	return func(ctx context.Context, tenantID string) ([]capital.ProfitabilityRisk, error) {
		book, err := capStore.Get(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if len(book.Allocations) == 0 {
			return nil, nil
		}

		now := time.Now()
		inputs := make([]capital.ProfitabilityRisk, 0, len(book.Allocations))
		for strategy := range book.Allocations {
			daily := make([]float64, 0, trailingWindowDays)
			for i := 0; i < trailingWindowDays; i++ {
				date := execution.SessionDate(now.AddDate(0, 0, -i))
				session, err := tracker.Get(ctx, tenantID, strategy, date)
				if err != nil {
					return nil, err
				}
				daily = append(daily, session.Realized)
			}
			inputs = append(inputs, capital.ProfitabilityRisk{
				Strategy:      strategy,
				Profitability: squash(mean(daily)),
				Risk:          coefficientOfVariation(daily),
			})
		}
		return inputs, nil
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// squash maps a raw trailing PnL figure to [-1,1] without needing a
// tenant-specific scale: tanh saturates gracefully instead of clamping
// hard at an arbitrary notional.
func squash(x float64) float64 {
	return math.Tanh(x / 100)
}

// coefficientOfVariation returns stddev/|mean| clamped to [0,1], the
// Risk half of a ProfitabilityRisk pair: a strategy whose daily PnL
// swings wildly relative to its average is scored riskier than one
// with a steady trend, independent of notional size.
func coefficientOfVariation(xs []float64) float64 {
	m := mean(xs)
	if m == 0 {
		return 0
	}
	var variance float64
	for _, x := range xs {
		d := x - m
		variance += d * d
	}
	variance /= float64(len(xs))
	cv := math.Sqrt(variance) / math.Abs(m)
	if cv > 1 {
		return 1
	}
	return cv
}
