package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TargetDirection selects which side of the target price triggers an alert.
type TargetDirection string

const (
	TargetAbove TargetDirection = "ABOVE"
	TargetBelow TargetDirection = "BELOW"
)

// Valid reports whether d is a known direction.
func (d TargetDirection) Valid() bool {
	return d == TargetAbove || d == TargetBelow
}

// PriceAlert is a user-owned price rule. It is consumed and deleted by the
// alert evaluator once its condition fires. At most one active alert may
// exist per (user, coin, target price) tuple; the composite unique index
// backs the service-level conflict check.
type PriceAlert struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UserID          string          `gorm:"index:idx_alert_tuple,unique;not null" json:"user_id"`
	CoinID          string          `gorm:"index:idx_alert_tuple,unique;not null" json:"coin_id"`
	CoinName        string          `json:"coin_name"`
	TargetPrice     decimal.Decimal `gorm:"type:decimal(24,8);index:idx_alert_tuple,unique" json:"target_price"`
	TargetDirection TargetDirection `gorm:"not null" json:"target_direction"`
	DeviceToken     string          `json:"device_token,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"-"`
}

func (PriceAlert) TableName() string {
	return "price_alerts"
}

// MigrateAlertModels runs database migrations for alert models
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(&PriceAlert{})
}
