// Package scheduler runs the background refresh jobs: coin catalog, market
// data, global statistics, and the price alert sweep.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coinwatch/models"
	"coinwatch/retry"
	"coinwatch/services"
	"coinwatch/services/coingecko"
)

const (
	catalogInterval = 30 * time.Minute
	marketInterval  = 3 * time.Minute
	globalInterval  = 10 * time.Minute
	alertsInterval  = 1 * time.Minute

	catalogPages   = 4
	catalogPerPage = 250
	pageDelay      = 5 * time.Second

	marketBatchSize = 500
	batchDelay      = 2 * time.Second

	catalogTimeout = 10 * time.Minute
	jobTimeout     = 2 * time.Minute
)

// AlertRunner is the alert sweep entry point.
type AlertRunner interface {
	Run(ctx context.Context) error
}

// Broadcaster pushes refreshed quotes to streaming subscribers.
type Broadcaster interface {
	BroadcastMarketData(quotes map[string]services.MarketData)
}

// Scheduler manages scheduled jobs. Every job carries a reentrancy guard: a
// tick that lands while the previous run is still going is skipped and
// logged, never queued.
type Scheduler struct {
	cron     *gocron.Scheduler
	db       *gorm.DB
	api      services.MarketAPI
	alerts   AlertRunner
	hub      Broadcaster
	retryCfg retry.Config

	pageDelay  time.Duration
	batchDelay time.Duration

	catalogBusy atomic.Bool
	marketBusy  atomic.Bool
	globalBusy  atomic.Bool
	alertsBusy  atomic.Bool
}

// NewScheduler creates a scheduler instance. hub may be nil when streaming is
// disabled.
func NewScheduler(db *gorm.DB, api services.MarketAPI, alerts AlertRunner, hub Broadcaster) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		db:       db,
		api:      api,
		alerts:   alerts,
		hub:      hub,
		retryCfg: retry.Config{MaxRetries: 3, BaseDelay: 2 * time.Second},

		pageDelay:  pageDelay,
		batchDelay: batchDelay,
	}
}

// Start registers and starts all scheduled jobs.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	s.cron.Every(catalogInterval).StartImmediately().Do(func() {
		s.runGuarded("catalog refresh", &s.catalogBusy, catalogTimeout, s.refreshCatalog)
	})

	s.cron.Every(marketInterval).Do(func() {
		s.runGuarded("market data refresh", &s.marketBusy, jobTimeout, s.refreshMarketData)
	})

	s.cron.Every(globalInterval).StartImmediately().Do(func() {
		s.runGuarded("global data refresh", &s.globalBusy, jobTimeout, s.refreshGlobalData)
	})

	s.cron.Every(alertsInterval).Do(func() {
		s.runGuarded("alert sweep", &s.alertsBusy, jobTimeout, s.alerts.Run)
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runGuarded runs fn unless the previous run of the same job is still in
// flight.
func (s *Scheduler) runGuarded(name string, busy *atomic.Bool, timeout time.Duration, fn func(ctx context.Context) error) {
	if !busy.CompareAndSwap(false, true) {
		log.Printf("Skipping %s: previous run still in progress", name)
		return
	}
	defer busy.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		log.Printf("Job %s failed after %v: %v", name, time.Since(start).Round(time.Millisecond), err)
		return
	}
	log.Printf("Job %s completed in %v", name, time.Since(start).Round(time.Millisecond))
}

// refreshCatalog rebuilds the coin catalog from upstream. The table is
// cleared first, so readers can see a partial catalog while pages load; the
// window is short and the next refresh repairs any gap. A failed page is
// logged and does not stop the remaining pages.
func (s *Scheduler) refreshCatalog(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Coin{}).Error; err != nil {
		return fmt.Errorf("failed to clear coin catalog: %w", err)
	}

	total := 0
	failed := 0
	for page := 1; page <= catalogPages; page++ {
		if page > 1 {
			if err := waitBetween(ctx, s.pageDelay); err != nil {
				return err
			}
		}

		pageNum := page
		coins, err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) ([]coingecko.CoinMarket, error) {
			return s.api.CoinsMarkets(ctx, string(models.CurrencyUSD), pageNum, catalogPerPage)
		})
		if err != nil {
			log.Printf("Catalog page %d failed: %v", page, err)
			failed++
			continue
		}
		if len(coins) == 0 {
			break
		}

		rows := make([]models.Coin, 0, len(coins))
		for _, c := range coins {
			rows = append(rows, coinRow(c))
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
			log.Printf("Catalog page %d failed to persist: %v", page, err)
			failed++
			continue
		}
		total += len(rows)
	}

	log.Printf("Catalog refresh stored %d coins", total)
	if failed > 0 {
		return fmt.Errorf("%d of %d catalog pages failed", failed, catalogPages)
	}
	return nil
}

// refreshMarketData updates price fields for every cataloged coin in batches.
// A batch that still fails after retries aborts the rest of the cycle: a
// terminal failure usually means the upstream is down or rate limiting, and
// the remaining batches would only burn more quota. The next tick retries the
// whole set.
func (s *Scheduler) refreshMarketData(ctx context.Context) error {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Coin{}).Order("market_cap_rank").Pluck("coin_id", &ids).Error; err != nil {
		return fmt.Errorf("failed to load coin ids: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	refreshed := make(map[string]services.MarketData)
	for i := 0; i < len(ids); i += marketBatchSize {
		if i > 0 {
			if err := waitBetween(ctx, s.batchDelay); err != nil {
				return err
			}
		}
		end := i + marketBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		quotes, err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) (map[string]coingecko.PriceQuote, error) {
			return s.api.SimplePrice(ctx, batch, string(models.CurrencyUSD))
		})
		if err != nil {
			return fmt.Errorf("market data batch %d failed: %w", i/marketBatchSize+1, err)
		}

		for id, q := range quotes {
			err := s.db.WithContext(ctx).Model(&models.Coin{}).Where("coin_id = ?", id).Updates(map[string]interface{}{
				"current_price":               q.Price,
				"market_cap":                  q.MarketCap,
				"total_volume":                q.Volume24H,
				"price_change_percentage_24h": q.PriceChange24H,
			}).Error
			if err != nil {
				log.Printf("Failed to update market data for %s: %v", id, err)
				continue
			}
			refreshed[id] = services.MarketData{
				CurrentPrice:   q.Price,
				MarketCap:      q.MarketCap,
				TotalVolume:    q.Volume24H,
				PriceChange24H: q.PriceChange24H,
			}
		}
	}

	log.Printf("Market data refresh updated %d of %d coins", len(refreshed), len(ids))
	if s.hub != nil {
		s.hub.BroadcastMarketData(refreshed)
	}
	return nil
}

// refreshGlobalData upserts the global statistics singleton.
func (s *Scheduler) refreshGlobalData(ctx context.Context) error {
	data, err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) (*coingecko.GlobalData, error) {
		return s.api.Global(ctx)
	})
	if err != nil {
		return err
	}

	row := models.GlobalCryptoMarketData{
		ID:                  1,
		MarketCapPercentage: models.PercentageMap(data.MarketCapPercentage),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to upsert global market data: %w", err)
	}
	return nil
}

func coinRow(c coingecko.CoinMarket) models.Coin {
	return models.Coin{
		ID:                       c.ID,
		Symbol:                   c.Symbol,
		Name:                     c.Name,
		Image:                    c.Image,
		MarketCapRank:            c.MarketCapRank,
		CurrentPrice:             c.CurrentPrice,
		MarketCap:                c.MarketCap,
		FullyDilutedValuation:    c.FullyDilutedValuation,
		TotalVolume:              c.TotalVolume,
		High24H:                  c.High24H,
		Low24H:                   c.Low24H,
		PriceChange24H:           c.PriceChange24H,
		PriceChangePercentage24H: c.PriceChangePercentage24H,
		CirculatingSupply:        c.CirculatingSupply,
		TotalSupply:              c.TotalSupply,
		MaxSupply:                c.MaxSupply,
		ATH:                      c.ATH,
		ATHChangePercentage:      c.ATHChangePercentage,
		ATHDate:                  c.ATHDate,
		ATL:                      c.ATL,
		ATLChangePercentage:      c.ATLChangePercentage,
		ATLDate:                  c.ATLDate,
	}
}

func waitBetween(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
