package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinwatch/models"
	"coinwatch/services/coingecko"
)

type fakeMarketAPI struct {
	mu sync.Mutex

	coinsCalls  int
	coins       []coingecko.CoinMarket
	coinsErr    error
	priceCalls  [][]string
	prices      map[string]coingecko.PriceQuote
	pricesErr   error
	chartCalls  int
	chart       []coingecko.ChartPoint
	searchCalls int
	matches     []coingecko.SearchCoin
	globalCalls int
	global      *coingecko.GlobalData
}

func (f *fakeMarketAPI) CoinsMarkets(_ context.Context, _ string, _, _ int) ([]coingecko.CoinMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coinsCalls++
	return f.coins, f.coinsErr
}

func (f *fakeMarketAPI) CoinDetails(_ context.Context, id string) (*coingecko.CoinDetails, error) {
	return &coingecko.CoinDetails{ID: id}, nil
}

func (f *fakeMarketAPI) MarketChart(_ context.Context, _, _ string) ([]coingecko.ChartPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chartCalls++
	return f.chart, nil
}

func (f *fakeMarketAPI) SimplePrice(_ context.Context, ids []string, _ string) (map[string]coingecko.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls = append(f.priceCalls, append([]string(nil), ids...))
	if f.pricesErr != nil {
		return nil, f.pricesErr
	}
	out := make(map[string]coingecko.PriceQuote)
	for _, id := range ids {
		if quote, ok := f.prices[id]; ok {
			out[id] = quote
		}
	}
	return out, nil
}

func (f *fakeMarketAPI) Search(_ context.Context, _ string) ([]coingecko.SearchCoin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	return f.matches, nil
}

func (f *fakeMarketAPI) Global(_ context.Context) (*coingecko.GlobalData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.globalCalls++
	return f.global, nil
}

type fakeGlobalStore struct {
	data  *models.GlobalMarketData
	err   error
	calls int
}

func (f *fakeGlobalStore) LatestGlobalMarketData(context.Context) (*models.GlobalMarketData, error) {
	f.calls++
	return f.data, f.err
}

func ptr(v float64) *float64 { return &v }

func quote(price float64) coingecko.PriceQuote {
	return coingecko.PriceQuote{Price: ptr(price)}
}

func TestFetchMarketDataFetchesOnlyMissingIDs(t *testing.T) {
	api := &fakeMarketAPI{prices: map[string]coingecko.PriceQuote{
		"bitcoin":  quote(67000),
		"ethereum": quote(3500),
		"solana":   quote(150),
	}}
	svc := NewMarketService(api, NewStaticRateProvider(), &fakeGlobalStore{})
	ctx := context.Background()

	// Warm the cache with bitcoin only.
	first, err := svc.FetchMarketData(ctx, []string{"bitcoin"}, models.CurrencyUSD)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// ethereum and solana are missing, so only they go upstream.
	second, err := svc.FetchMarketData(ctx, []string{"bitcoin", "ethereum", "solana"}, models.CurrencyUSD)
	require.NoError(t, err)

	require.Len(t, second, 3)
	assert.Equal(t, 67000.0, *second["bitcoin"].CurrentPrice)
	assert.Equal(t, 3500.0, *second["ethereum"].CurrentPrice)
	assert.Equal(t, 150.0, *second["solana"].CurrentPrice)

	require.Len(t, api.priceCalls, 2)
	assert.Equal(t, []string{"bitcoin"}, api.priceCalls[0])
	assert.ElementsMatch(t, []string{"ethereum", "solana"}, api.priceCalls[1])
}

func TestFetchMarketDataServedEntirelyFromCacheSkipsUpstream(t *testing.T) {
	api := &fakeMarketAPI{prices: map[string]coingecko.PriceQuote{
		"bitcoin": quote(67000), "ethereum": quote(3500),
	}}
	svc := NewMarketService(api, NewStaticRateProvider(), &fakeGlobalStore{})
	ctx := context.Background()

	_, err := svc.FetchMarketData(ctx, []string{"bitcoin", "ethereum"}, models.CurrencyUSD)
	require.NoError(t, err)

	result, err := svc.FetchMarketData(ctx, []string{"bitcoin", "ethereum"}, models.CurrencyUSD)
	require.NoError(t, err)

	assert.Len(t, result, 2)
	assert.Len(t, api.priceCalls, 1, "a fully fresh batch must not touch upstream")
}

func TestFetchMarketDataOmitsUnknownIDs(t *testing.T) {
	api := &fakeMarketAPI{prices: map[string]coingecko.PriceQuote{"bitcoin": quote(67000)}}
	svc := NewMarketService(api, NewStaticRateProvider(), &fakeGlobalStore{})

	result, err := svc.FetchMarketData(context.Background(), []string{"bitcoin", "no-such-coin"}, models.CurrencyUSD)
	require.NoError(t, err)

	assert.Len(t, result, 1)
	_, present := result["no-such-coin"]
	assert.False(t, present)
}

func TestFetchMarketDataConvertsPostCache(t *testing.T) {
	api := &fakeMarketAPI{prices: map[string]coingecko.PriceQuote{
		"bitcoin": {Price: ptr(1000), MarketCap: ptr(2000), PriceChange24H: ptr(-1.5)},
	}}
	svc := NewMarketService(api, NewStaticRateProvider(), &fakeGlobalStore{})
	ctx := context.Background()

	eur, err := svc.FetchMarketData(ctx, []string{"bitcoin"}, models.CurrencyEUR)
	require.NoError(t, err)
	assert.InDelta(t, 850.0, *eur["bitcoin"].CurrentPrice, 1e-9)
	assert.InDelta(t, 1700.0, *eur["bitcoin"].MarketCap, 1e-9)
	assert.Equal(t, -1.5, *eur["bitcoin"].PriceChange24H, "percentage change is currency-independent")

	// The cached value stays USD: a follow-up USD read returns the original.
	usd, err := svc.FetchMarketData(ctx, []string{"bitcoin"}, models.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, *usd["bitcoin"].CurrentPrice)
	assert.Len(t, api.priceCalls, 1)
}

func TestFetchMarketDataPropagatesUpstreamFailure(t *testing.T) {
	boom := errors.New("rate limited")
	api := &fakeMarketAPI{pricesErr: boom}
	svc := NewMarketService(api, NewStaticRateProvider(), &fakeGlobalStore{})

	_, err := svc.FetchMarketData(context.Background(), []string{"bitcoin"}, models.CurrencyUSD)
	assert.ErrorIs(t, err, boom)
}

func TestFetchCoinsCachesPageAndConvertsCopy(t *testing.T) {
	api := &fakeMarketAPI{coins: []coingecko.CoinMarket{
		{ID: "bitcoin", CurrentPrice: ptr(1000), PriceChangePercentage24H: ptr(2.5)},
	}}
	svc := NewMarketService(api, NewStaticRateProvider(), &fakeGlobalStore{})
	ctx := context.Background()

	usd, err := svc.FetchCoins(ctx, 1, 250, models.CurrencyUSD)
	require.NoError(t, err)
	require.Len(t, usd, 1)
	assert.Equal(t, 1000.0, *usd[0].CurrentPrice)

	gbp, err := svc.FetchCoins(ctx, 1, 250, models.CurrencyGBP)
	require.NoError(t, err)
	assert.InDelta(t, 750.0, *gbp[0].CurrentPrice, 1e-9)
	assert.Equal(t, 2.5, *gbp[0].PriceChangePercentage24H)

	// Conversion must not mutate the cached USD page.
	assert.Equal(t, 1000.0, *usd[0].CurrentPrice)
	assert.Equal(t, 1, api.coinsCalls, "both reads share one upstream fetch")
}

func TestFetchCoinsRejectsUnsupportedCurrency(t *testing.T) {
	api := &fakeMarketAPI{coins: []coingecko.CoinMarket{{ID: "bitcoin"}}}
	svc := NewMarketService(api, NewStaticRateProvider(), &fakeGlobalStore{})

	_, err := svc.FetchCoins(context.Background(), 1, 250, models.Currency("jpy"))
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestFetchChartDataCachesPerTimeframe(t *testing.T) {
	api := &fakeMarketAPI{chart: []coingecko.ChartPoint{{Timestamp: 1716508800, Close: 100}}}
	svc := NewMarketService(api, NewStaticRateProvider(), &fakeGlobalStore{})
	ctx := context.Background()

	_, err := svc.FetchChartData(ctx, "bitcoin", models.TimeframeOneDay, models.CurrencyUSD)
	require.NoError(t, err)
	_, err = svc.FetchChartData(ctx, "bitcoin", models.TimeframeOneDay, models.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, 1, api.chartCalls)

	// A different timeframe is a different cache entry.
	_, err = svc.FetchChartData(ctx, "bitcoin", models.TimeframeOneWeek, models.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, 2, api.chartCalls)

	eur, err := svc.FetchChartData(ctx, "bitcoin", models.TimeframeOneDay, models.CurrencyEUR)
	require.NoError(t, err)
	assert.InDelta(t, 85.0, eur[0].Close, 1e-9)
	assert.Equal(t, 2, api.chartCalls, "conversion reads the cached series")
}

func TestSearchCoinsAttachesMarketData(t *testing.T) {
	api := &fakeMarketAPI{
		matches: []coingecko.SearchCoin{
			{ID: "bitcoin", Name: "Bitcoin", Symbol: "btc"},
			{ID: "obscure-coin", Name: "Obscure", Symbol: "obs"},
		},
		prices: map[string]coingecko.PriceQuote{"bitcoin": quote(67000)},
	}
	svc := NewMarketService(api, NewStaticRateProvider(), &fakeGlobalStore{})

	results, err := svc.SearchCoins(context.Background(), "  Bit ")
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.NotNil(t, results[0].MarketData)
	assert.Equal(t, 67000.0, *results[0].MarketData.CurrentPrice)
	assert.Nil(t, results[1].MarketData, "no quote upstream means no market data attached")
}

func TestSearchCoinsCachesMatchesButRefreshesNothingUpstream(t *testing.T) {
	api := &fakeMarketAPI{
		matches: []coingecko.SearchCoin{{ID: "bitcoin"}},
		prices:  map[string]coingecko.PriceQuote{"bitcoin": quote(67000)},
	}
	svc := NewMarketService(api, NewStaticRateProvider(), &fakeGlobalStore{})
	ctx := context.Background()

	_, err := svc.SearchCoins(ctx, "bit")
	require.NoError(t, err)
	_, err = svc.SearchCoins(ctx, "BIT")
	require.NoError(t, err)

	assert.Equal(t, 1, api.searchCalls, "queries differing only in case share one entry")
	assert.Len(t, api.priceCalls, 1, "the fresh quote rides the market-data cache")
}

func TestFetchGlobalCryptoMarketDataCaches(t *testing.T) {
	api := &fakeMarketAPI{global: &coingecko.GlobalData{Markets: 900}}
	svc := NewMarketService(api, NewStaticRateProvider(), &fakeGlobalStore{})
	ctx := context.Background()

	first, err := svc.FetchGlobalCryptoMarketData(ctx)
	require.NoError(t, err)
	second, err := svc.FetchGlobalCryptoMarketData(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(900), first.Markets)
	assert.Same(t, first, second)
	assert.Equal(t, 1, api.globalCalls)
}

func TestFetchGlobalMarketDataReadsStoreOncePerWindow(t *testing.T) {
	store := &fakeGlobalStore{data: &models.GlobalMarketData{CPIPercentage: 3.2}}
	svc := NewMarketService(&fakeMarketAPI{}, NewStaticRateProvider(), store)
	ctx := context.Background()

	first, err := svc.FetchGlobalMarketData(ctx)
	require.NoError(t, err)
	_, err = svc.FetchGlobalMarketData(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3.2, first.CPIPercentage)
	assert.Equal(t, 1, store.calls)
}
