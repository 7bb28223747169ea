package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PercentageMap stores per-coin market-cap dominance percentages as a JSON
// column so the singleton row stays schema-free as upstream adds coins.
type PercentageMap map[string]float64

func (m PercentageMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *PercentageMap) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*m = nil
		return nil
	default:
		return fmt.Errorf("unsupported type for PercentageMap: %T", value)
	}
	return json.Unmarshal(data, m)
}

// GlobalCryptoMarketData is a singleton row holding aggregate crypto market
// statistics, upserted by the global-data refresh job.
type GlobalCryptoMarketData struct {
	ID                  uint          `gorm:"primaryKey" json:"-"`
	MarketCapPercentage PercentageMap `gorm:"type:text" json:"market_cap_percentage"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

func (GlobalCryptoMarketData) TableName() string {
	return "global_crypto_market_data"
}

// GlobalMarketData is a singleton row of macro statistics relevant to crypto
// markets. It is maintained out of band (admin tooling writes it) and served
// through the cached read path.
type GlobalMarketData struct {
	ID                       uint      `gorm:"primaryKey" json:"-"`
	CPIPercentage            float64   `gorm:"column:cpi_percentage" json:"cpi_percentage"`
	NextCPITimestamp         int64     `gorm:"column:next_cpi_timestamp" json:"next_cpi_timestamp"`
	InterestRatePercentage   float64   `json:"interest_rate_percentage"`
	NextFOMCMeetingTimestamp int64     `gorm:"column:next_fomc_meeting_timestamp" json:"next_fomc_meeting_timestamp"`
	UpdatedAt                time.Time `json:"updated_at"`
}

func (GlobalMarketData) TableName() string {
	return "global_market_data"
}

// MigrateGlobalDataModels runs database migrations for global data models
func MigrateGlobalDataModels(db *gorm.DB) error {
	return db.AutoMigrate(&GlobalCryptoMarketData{}, &GlobalMarketData{})
}
