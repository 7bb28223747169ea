package coingecko

import (
	"encoding/json"
	"fmt"
	"time"
)

// CoinMarket is one row of the /coins/markets response.
type CoinMarket struct {
	ID                       string     `json:"id"`
	Symbol                   string     `json:"symbol"`
	Name                     string     `json:"name"`
	Image                    string     `json:"image"`
	CurrentPrice             *float64   `json:"current_price"`
	MarketCap                *float64   `json:"market_cap"`
	MarketCapRank            *int64     `json:"market_cap_rank"`
	FullyDilutedValuation    *float64   `json:"fully_diluted_valuation"`
	TotalVolume              *float64   `json:"total_volume"`
	High24H                  *float64   `json:"high_24h"`
	Low24H                   *float64   `json:"low_24h"`
	PriceChange24H           *float64   `json:"price_change_24h"`
	PriceChangePercentage24H *float64   `json:"price_change_percentage_24h"`
	CirculatingSupply        *float64   `json:"circulating_supply"`
	TotalSupply              *float64   `json:"total_supply"`
	MaxSupply                *float64   `json:"max_supply"`
	ATH                      *float64   `json:"ath"`
	ATHChangePercentage      *float64   `json:"ath_change_percentage"`
	ATHDate                  *time.Time `json:"ath_date"`
	ATL                      *float64   `json:"atl"`
	ATLChangePercentage      *float64   `json:"atl_change_percentage"`
	ATLDate                  *time.Time `json:"atl_date"`
}

// CoinDetails is the subset of /coins/{id} served through the details cache.
type CoinDetails struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Description   struct {
		EN string `json:"en"`
	} `json:"description"`
	Image struct {
		Thumb string `json:"thumb"`
		Small string `json:"small"`
		Large string `json:"large"`
	} `json:"image"`
	Links struct {
		Homepage []string `json:"homepage"`
	} `json:"links"`
	MarketCapRank *int64 `json:"market_cap_rank"`
	MarketData    struct {
		CurrentPrice map[string]float64 `json:"current_price"`
		MarketCap    map[string]float64 `json:"market_cap"`
		TotalVolume  map[string]float64 `json:"total_volume"`
		ATH          map[string]float64 `json:"ath"`
		ATL          map[string]float64 `json:"atl"`
	} `json:"market_data"`
}

// SearchCoin is one match from the /search response.
type SearchCoin struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	MarketCapRank *int64 `json:"market_cap_rank"`
	Large         string `json:"large"`
}

type searchResponse struct {
	Coins []SearchCoin `json:"coins"`
}

// GlobalData carries the aggregate statistics of the /global response.
type GlobalData struct {
	ActiveCryptocurrencies int64              `json:"active_cryptocurrencies"`
	Markets                int64              `json:"markets"`
	TotalMarketCap         map[string]float64 `json:"total_market_cap"`
	TotalVolume            map[string]float64 `json:"total_volume"`
	MarketCapPercentage    map[string]float64 `json:"market_cap_percentage"`
}

type globalResponse struct {
	Data GlobalData `json:"data"`
}

// PriceQuote is one coin's entry in the /simple/price response. Upstream
// omits or nulls fields it has no data for.
type PriceQuote struct {
	Price          *float64
	MarketCap      *float64
	Volume24H      *float64
	PriceChange24H *float64
}

// ChartPoint is a single point of a market chart series. Upstream delivers
// points as positional [timestamp, close] pairs; older chart sources used a
// keyed object form. Both decode, positional first.
type ChartPoint struct {
	Timestamp int64   `json:"timestamp"`
	Close     float64 `json:"close"`
}

func (p *ChartPoint) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err == nil {
		p.Timestamp = int64(pair[0])
		p.Close = pair[1]
		return nil
	}

	var keyed struct {
		Timestamp int64   `json:"timestamp"`
		Close     float64 `json:"close"`
	}
	if err := json.Unmarshal(data, &keyed); err != nil {
		return fmt.Errorf("chart point is neither positional nor keyed: %w", err)
	}
	p.Timestamp = keyed.Timestamp
	p.Close = keyed.Close
	return nil
}

type marketChartResponse struct {
	Prices []ChartPoint `json:"prices"`
}
