package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"coinwatch/cache"
	"coinwatch/models"
	"coinwatch/services/coingecko"
)

// Freshness windows per data category. Charts resolve their TTL by
// timeframe: the wider the window, the slower the series moves.
const (
	coinsTTL        = 30 * time.Minute
	detailsTTL      = 2 * time.Hour
	searchTTL       = 15 * time.Minute
	marketTTL       = 3 * time.Minute
	globalTTL       = 2 * time.Hour
	globalMarketTTL = 2 * time.Hour
)

var chartTTLs = map[models.Timeframe]time.Duration{
	models.TimeframeOneDay:   15 * time.Minute,
	models.TimeframeOneWeek:  time.Hour,
	models.TimeframeOneMonth: 6 * time.Hour,
	models.TimeframeOneYear:  24 * time.Hour,
	models.TimeframeAll:      7 * 24 * time.Hour,
}

// MarketAPI is the upstream surface the service depends on. Implemented by
// coingecko.Client; tests swap in a fake.
type MarketAPI interface {
	CoinsMarkets(ctx context.Context, currency string, page, perPage int) ([]coingecko.CoinMarket, error)
	CoinDetails(ctx context.Context, id string) (*coingecko.CoinDetails, error)
	MarketChart(ctx context.Context, id, days string) ([]coingecko.ChartPoint, error)
	SimplePrice(ctx context.Context, ids []string, currency string) (map[string]coingecko.PriceQuote, error)
	Search(ctx context.Context, query string) ([]coingecko.SearchCoin, error)
	Global(ctx context.Context) (*coingecko.GlobalData, error)
}

// GlobalStore reads the macro-statistics singleton maintained out of band.
type GlobalStore interface {
	LatestGlobalMarketData(ctx context.Context) (*models.GlobalMarketData, error)
}

// GormGlobalStore reads the singleton row from the relational store.
type GormGlobalStore struct {
	db *gorm.DB
}

func NewGormGlobalStore(db *gorm.DB) *GormGlobalStore {
	return &GormGlobalStore{db: db}
}

func (s *GormGlobalStore) LatestGlobalMarketData(ctx context.Context) (*models.GlobalMarketData, error) {
	var data models.GlobalMarketData
	if err := s.db.WithContext(ctx).Order("updated_at DESC").First(&data).Error; err != nil {
		return nil, err
	}
	return &data, nil
}

// MarketData is the compact per-coin quote served by the batched market-data
// endpoint and attached to search results. Cached in USD; converted on read.
type MarketData struct {
	CurrentPrice   *float64 `json:"current_price"`
	MarketCap      *float64 `json:"market_cap"`
	TotalVolume    *float64 `json:"total_volume"`
	PriceChange24H *float64 `json:"price_change_24h"`
}

// SearchResult is a catalog match decorated with a fresh quote when one is
// available.
type SearchResult struct {
	coingecko.SearchCoin
	MarketData *MarketData `json:"market_data,omitempty"`
}

type pageKey struct {
	page    int
	perPage int
}

type chartKey struct {
	id        string
	timeframe models.Timeframe
}

// MarketService serves all upstream-backed market data through a cache-first,
// coalesced read path. Every cache stores USD values; currency conversion
// happens after the cache so one upstream fetch serves every quote currency.
type MarketService struct {
	api     MarketAPI
	rates   RateProvider
	globals GlobalStore

	coinsCache   *cache.Cache[pageKey, []coingecko.CoinMarket]
	detailsCache *cache.Cache[string, *coingecko.CoinDetails]
	chartCache   *cache.Cache[chartKey, []coingecko.ChartPoint]
	searchCache  *cache.Cache[string, []coingecko.SearchCoin]
	marketCache  *cache.Cache[string, MarketData]
	globalCache  *cache.Cache[struct{}, *coingecko.GlobalData]
	macroCache   *cache.Cache[struct{}, *models.GlobalMarketData]

	coinsFlight   *cache.Coalescer[pageKey, []coingecko.CoinMarket]
	detailsFlight *cache.Coalescer[string, *coingecko.CoinDetails]
	chartFlight   *cache.Coalescer[chartKey, []coingecko.ChartPoint]
	searchFlight  *cache.Coalescer[string, []coingecko.SearchCoin]
	marketFlight  *cache.Coalescer[string, map[string]MarketData]
	globalFlight  *cache.Coalescer[struct{}, *coingecko.GlobalData]
}

func NewMarketService(api MarketAPI, rates RateProvider, globals GlobalStore) *MarketService {
	return &MarketService{
		api:     api,
		rates:   rates,
		globals: globals,

		coinsCache:   cache.New[pageKey, []coingecko.CoinMarket](),
		detailsCache: cache.New[string, *coingecko.CoinDetails](),
		chartCache:   cache.New[chartKey, []coingecko.ChartPoint](),
		searchCache:  cache.New[string, []coingecko.SearchCoin](),
		marketCache:  cache.New[string, MarketData](),
		globalCache:  cache.New[struct{}, *coingecko.GlobalData](),
		macroCache:   cache.New[struct{}, *models.GlobalMarketData](),

		coinsFlight:   cache.NewCoalescer[pageKey, []coingecko.CoinMarket](),
		detailsFlight: cache.NewCoalescer[string, *coingecko.CoinDetails](),
		chartFlight:   cache.NewCoalescer[chartKey, []coingecko.ChartPoint](),
		searchFlight:  cache.NewCoalescer[string, []coingecko.SearchCoin](),
		marketFlight:  cache.NewCoalescer[string, map[string]MarketData](),
		globalFlight:  cache.NewCoalescer[struct{}, *coingecko.GlobalData](),
	}
}

// FetchCoins serves one page of the coin catalog. The page is cached in USD;
// a non-USD request converts a copy of the cached page.
func (s *MarketService) FetchCoins(ctx context.Context, page, perPage int, currency models.Currency) ([]coingecko.CoinMarket, error) {
	key := pageKey{page: page, perPage: perPage}

	coins, ok := s.coinsCache.Get(key, coinsTTL)
	if !ok {
		var err error
		coins, _, err = s.coinsFlight.Do(key, func() ([]coingecko.CoinMarket, error) {
			fetched, err := s.api.CoinsMarkets(ctx, string(models.CurrencyUSD), page, perPage)
			if err != nil {
				return nil, err
			}
			s.coinsCache.Put(key, fetched)
			return fetched, nil
		})
		if err != nil {
			return nil, err
		}
	}

	return s.convertCoins(ctx, coins, currency)
}

// FetchCoinDetails serves full details for one coin. Details carry per-currency
// maps upstream, so no conversion applies.
func (s *MarketService) FetchCoinDetails(ctx context.Context, id string) (*coingecko.CoinDetails, error) {
	if details, ok := s.detailsCache.Get(id, detailsTTL); ok {
		return details, nil
	}

	details, _, err := s.detailsFlight.Do(id, func() (*coingecko.CoinDetails, error) {
		fetched, err := s.api.CoinDetails(ctx, id)
		if err != nil {
			return nil, err
		}
		s.detailsCache.Put(id, fetched)
		return fetched, nil
	})
	return details, err
}

// FetchChartData serves the price series for one coin and timeframe. Freshness
// scales with the window: a daily chart expires in minutes, the full history
// in days.
func (s *MarketService) FetchChartData(ctx context.Context, id string, timeframe models.Timeframe, currency models.Currency) ([]coingecko.ChartPoint, error) {
	key := chartKey{id: id, timeframe: timeframe}
	ttl := chartTTLs[timeframe]

	points, ok := s.chartCache.Get(key, ttl)
	if !ok {
		var err error
		points, _, err = s.chartFlight.Do(key, func() ([]coingecko.ChartPoint, error) {
			fetched, err := s.api.MarketChart(ctx, id, timeframe.Days())
			if err != nil {
				return nil, err
			}
			s.chartCache.Put(key, fetched)
			return fetched, nil
		})
		if err != nil {
			return nil, err
		}
	}

	if currency == models.CurrencyUSD {
		return points, nil
	}
	rate, err := s.rates.Rate(ctx, models.CurrencyUSD, currency)
	if err != nil {
		return nil, err
	}
	converted := make([]coingecko.ChartPoint, len(points))
	for i, p := range points {
		converted[i] = coingecko.ChartPoint{Timestamp: p.Timestamp, Close: p.Close * rate}
	}
	return converted, nil
}

// SearchCoins serves catalog matches for a free-text query. Matches are
// cached; the attached quotes are not, they ride the market-data cache so a
// repeated search still shows current prices.
func (s *MarketService) SearchCoins(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.ToLower(strings.TrimSpace(query))

	matches, ok := s.searchCache.Get(query, searchTTL)
	if !ok {
		var err error
		matches, _, err = s.searchFlight.Do(query, func() ([]coingecko.SearchCoin, error) {
			fetched, err := s.api.Search(ctx, query)
			if err != nil {
				return nil, err
			}
			s.searchCache.Put(query, fetched)
			return fetched, nil
		})
		if err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	quotes, err := s.FetchMarketData(ctx, ids, models.CurrencyUSD)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		result := SearchResult{SearchCoin: m}
		if quote, ok := quotes[m.ID]; ok {
			q := quote
			result.MarketData = &q
		}
		results = append(results, result)
	}
	return results, nil
}

// FetchMarketData serves current quotes for a batch of coin ids. Ids with a
// fresh cached quote are served from cache; only the missing or stale ids go
// upstream, in a single batched call. Ids upstream does not recognize are
// omitted from the result.
func (s *MarketService) FetchMarketData(ctx context.Context, ids []string, currency models.Currency) (map[string]MarketData, error) {
	result := make(map[string]MarketData, len(ids))

	var missing []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if quote, ok := s.marketCache.Get(id, marketTTL); ok {
			result[id] = quote
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		flightKey := strings.Join(missing, ",")

		fetched, _, err := s.marketFlight.Do(flightKey, func() (map[string]MarketData, error) {
			raw, err := s.api.SimplePrice(ctx, missing, string(models.CurrencyUSD))
			if err != nil {
				return nil, err
			}
			quotes := make(map[string]MarketData, len(raw))
			for id, q := range raw {
				quote := MarketData{
					CurrentPrice:   q.Price,
					MarketCap:      q.MarketCap,
					TotalVolume:    q.Volume24H,
					PriceChange24H: q.PriceChange24H,
				}
				quotes[id] = quote
				s.marketCache.Put(id, quote)
			}
			return quotes, nil
		})
		if err != nil {
			return nil, err
		}
		for id, quote := range fetched {
			result[id] = quote
		}
	}

	if currency == models.CurrencyUSD {
		return result, nil
	}
	rate, err := s.rates.Rate(ctx, models.CurrencyUSD, currency)
	if err != nil {
		return nil, err
	}
	converted := make(map[string]MarketData, len(result))
	for id, quote := range result {
		converted[id] = MarketData{
			CurrentPrice:   scaled(quote.CurrentPrice, rate),
			MarketCap:      scaled(quote.MarketCap, rate),
			TotalVolume:    scaled(quote.TotalVolume, rate),
			// 24h change is a percentage, not an amount.
			PriceChange24H: quote.PriceChange24H,
		}
	}
	return converted, nil
}

// FetchGlobalCryptoMarketData serves aggregate market statistics.
func (s *MarketService) FetchGlobalCryptoMarketData(ctx context.Context) (*coingecko.GlobalData, error) {
	if data, ok := s.globalCache.Get(struct{}{}, globalTTL); ok {
		return data, nil
	}

	data, _, err := s.globalFlight.Do(struct{}{}, func() (*coingecko.GlobalData, error) {
		fetched, err := s.api.Global(ctx)
		if err != nil {
			return nil, err
		}
		s.globalCache.Put(struct{}{}, fetched)
		return fetched, nil
	})
	return data, err
}

// FetchGlobalMarketData serves the macro-statistics singleton through the
// cache. The row is maintained out of band; a missing row surfaces as
// gorm.ErrRecordNotFound.
func (s *MarketService) FetchGlobalMarketData(ctx context.Context) (*models.GlobalMarketData, error) {
	if data, ok := s.macroCache.Get(struct{}{}, globalMarketTTL); ok {
		return data, nil
	}

	data, err := s.globals.LatestGlobalMarketData(ctx)
	if err != nil {
		return nil, err
	}
	s.macroCache.Put(struct{}{}, data)
	return data, nil
}

func (s *MarketService) convertCoins(ctx context.Context, coins []coingecko.CoinMarket, currency models.Currency) ([]coingecko.CoinMarket, error) {
	if currency == models.CurrencyUSD {
		return coins, nil
	}
	rate, err := s.rates.Rate(ctx, models.CurrencyUSD, currency)
	if err != nil {
		return nil, err
	}

	converted := make([]coingecko.CoinMarket, len(coins))
	for i, c := range coins {
		out := c
		out.CurrentPrice = scaled(c.CurrentPrice, rate)
		out.MarketCap = scaled(c.MarketCap, rate)
		out.FullyDilutedValuation = scaled(c.FullyDilutedValuation, rate)
		out.TotalVolume = scaled(c.TotalVolume, rate)
		out.High24H = scaled(c.High24H, rate)
		out.Low24H = scaled(c.Low24H, rate)
		out.PriceChange24H = scaled(c.PriceChange24H, rate)
		out.ATH = scaled(c.ATH, rate)
		out.ATL = scaled(c.ATL, rate)
		converted[i] = out
	}
	return converted, nil
}

// scaled multiplies through a pointer, preserving nil for missing data.
func scaled(v *float64, rate float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v * rate
	return &out
}
