package models

import "fmt"

// Timeframe selects the historical window for chart data.
type Timeframe string

const (
	TimeframeOneDay   Timeframe = "1d"
	TimeframeOneWeek  Timeframe = "1w"
	TimeframeOneMonth Timeframe = "1M"
	TimeframeOneYear  Timeframe = "1y"
	TimeframeAll      Timeframe = "all"
)

// Timeframes lists all supported timeframes, most volatile first.
var Timeframes = []Timeframe{
	TimeframeOneDay,
	TimeframeOneWeek,
	TimeframeOneMonth,
	TimeframeOneYear,
	TimeframeAll,
}

// ParseTimeframe validates a raw query value.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case TimeframeOneDay, TimeframeOneWeek, TimeframeOneMonth, TimeframeOneYear, TimeframeAll:
		return Timeframe(s), nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Days maps a timeframe to the upstream market_chart "days" parameter.
func (t Timeframe) Days() string {
	switch t {
	case TimeframeOneDay:
		return "1"
	case TimeframeOneWeek:
		return "7"
	case TimeframeOneMonth:
		return "30"
	case TimeframeOneYear:
		return "365"
	default:
		return "max"
	}
}

// Currency is a supported fiat quote currency.
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyEUR Currency = "eur"
	CurrencyGBP Currency = "gbp"
)

// ParseCurrency validates a raw query value. An empty value defaults to USD.
func ParseCurrency(s string) (Currency, error) {
	if s == "" {
		return CurrencyUSD, nil
	}
	switch Currency(s) {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return Currency(s), nil
	}
	return "", fmt.Errorf("unknown currency %q", s)
}
