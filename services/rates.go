package services

import (
	"context"
	"errors"
	"fmt"

	"coinwatch/models"
)

// ErrUnsupportedCurrency is returned when a conversion target has no known
// rate. Unsupported currencies are rejected explicitly, never silently
// defaulted to USD.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// RateProvider resolves a conversion rate between two quote currencies.
// Chart and market data are cached in USD and converted post-cache, so the
// rate source sits behind this seam.
type RateProvider interface {
	Rate(ctx context.Context, from, to models.Currency) (float64, error)
}

// StaticRateProvider serves fixed conversion rates. The table is a
// placeholder until a live FX source is wired in; the rates are not current.
type StaticRateProvider struct {
	rates map[models.Currency]float64
}

// NewStaticRateProvider returns the placeholder rate table.
func NewStaticRateProvider() *StaticRateProvider {
	return &StaticRateProvider{
		rates: map[models.Currency]float64{
			models.CurrencyUSD: 1,
			models.CurrencyEUR: 0.85,
			models.CurrencyGBP: 0.75,
		},
	}
}

func (p *StaticRateProvider) Rate(_ context.Context, from, to models.Currency) (float64, error) {
	fromRate, ok := p.rates[from]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, from)
	}
	toRate, ok := p.rates[to]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, to)
	}
	return toRate / fromRate, nil
}
