package models

import (
	"time"

	"gorm.io/gorm"
)

// Coin is a market snapshot of a single cryptocurrency. The upstream
// CoinGecko id is the primary key; rows are rebuilt wholesale by the catalog
// refresh job and price fields are touched by the market-data refresh job.
type Coin struct {
	ID                       string     `gorm:"primaryKey;column:coin_id" json:"id"`
	Symbol                   string     `gorm:"index" json:"symbol"`
	Name                     string     `json:"name"`
	Image                    string     `json:"image"`
	MarketCapRank            *int64     `gorm:"index" json:"market_cap_rank"`
	CurrentPrice             *float64   `json:"current_price"`
	MarketCap                *float64   `json:"market_cap"`
	FullyDilutedValuation    *float64   `json:"fully_diluted_valuation"`
	TotalVolume              *float64   `json:"total_volume"`
	High24H                  *float64   `gorm:"column:high_24h" json:"high_24h"`
	Low24H                   *float64   `gorm:"column:low_24h" json:"low_24h"`
	PriceChange24H           *float64   `gorm:"column:price_change_24h" json:"price_change_24h"`
	PriceChangePercentage24H *float64   `gorm:"column:price_change_percentage_24h" json:"price_change_percentage_24h"`
	CirculatingSupply        *float64   `json:"circulating_supply"`
	TotalSupply              *float64   `json:"total_supply"`
	MaxSupply                *float64   `json:"max_supply"`
	ATH                      *float64   `gorm:"column:ath" json:"ath"`
	ATHChangePercentage      *float64   `gorm:"column:ath_change_percentage" json:"ath_change_percentage"`
	ATHDate                  *time.Time `gorm:"column:ath_date" json:"ath_date"`
	ATL                      *float64   `gorm:"column:atl" json:"atl"`
	ATLChangePercentage      *float64   `gorm:"column:atl_change_percentage" json:"atl_change_percentage"`
	ATLDate                  *time.Time `gorm:"column:atl_date" json:"atl_date"`
	CreatedAt                time.Time  `json:"-"`
	UpdatedAt                time.Time  `json:"-"`
}

func (Coin) TableName() string {
	return "coins"
}

// MigrateCoinModels runs database migrations for coin-related models
func MigrateCoinModels(db *gorm.DB) error {
	return db.AutoMigrate(&Coin{})
}
