// Package alerts manages price alerts: persistence and periodic evaluation
// against current market data.
package alerts

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"coinwatch/models"
)

// ErrDuplicateAlert is returned when a user already has an alert for the same
// coin at the same target price.
var ErrDuplicateAlert = errors.New("alert already exists")

// Store persists price alerts.
type Store interface {
	All(ctx context.Context) ([]models.PriceAlert, error)
	ForUser(ctx context.Context, userID string) ([]models.PriceAlert, error)
	Create(ctx context.Context, alert *models.PriceAlert) error
	Delete(ctx context.Context, id uint) error
	DeleteForUser(ctx context.Context, userID string, id uint) (bool, error)
}

// CoinStore reads current coin snapshots for alert evaluation.
type CoinStore interface {
	ByIDs(ctx context.Context, ids []string) (map[string]models.Coin, error)
}

// GormStore is the relational Store implementation.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) All(ctx context.Context) ([]models.PriceAlert, error) {
	var alerts []models.PriceAlert
	if err := s.db.WithContext(ctx).Order("id").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func (s *GormStore) ForUser(ctx context.Context, userID string) ([]models.PriceAlert, error) {
	var alerts []models.PriceAlert
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// Create inserts an alert. The (user, coin, target) tuple is unique; a
// duplicate surfaces as ErrDuplicateAlert.
func (s *GormStore) Create(ctx context.Context, alert *models.PriceAlert) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PriceAlert{}).
		Where("user_id = ? AND coin_id = ? AND target_price = ?", alert.UserID, alert.CoinID, alert.TargetPrice).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateAlert
	}
	return s.db.WithContext(ctx).Create(alert).Error
}

func (s *GormStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.PriceAlert{}, id).Error
}

// DeleteForUser removes one of the user's alerts. The bool reports whether a
// row existed.
func (s *GormStore) DeleteForUser(ctx context.Context, userID string, id uint) (bool, error) {
	result := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Delete(&models.PriceAlert{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GormCoinStore reads coin snapshots from the relational catalog.
type GormCoinStore struct {
	db *gorm.DB
}

func NewGormCoinStore(db *gorm.DB) *GormCoinStore {
	return &GormCoinStore{db: db}
}

func (s *GormCoinStore) ByIDs(ctx context.Context, ids []string) (map[string]models.Coin, error) {
	if len(ids) == 0 {
		return map[string]models.Coin{}, nil
	}

	var coins []models.Coin
	if err := s.db.WithContext(ctx).Where("coin_id IN ?", ids).Find(&coins).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]models.Coin, len(coins))
	for _, c := range coins {
		byID[c.ID] = c
	}
	return byID, nil
}

// decimalFromPrice converts a nullable float price for target comparison.
func decimalFromPrice(price *float64) (decimal.Decimal, bool) {
	if price == nil {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(*price), true
}
