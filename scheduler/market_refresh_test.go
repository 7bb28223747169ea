package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coinwatch/models"
	"coinwatch/services"
	"coinwatch/services/coingecko"
)

type fakeMarketAPI struct {
	mu       sync.Mutex
	batches  [][]string
	priceErr error
}

func (f *fakeMarketAPI) SimplePrice(_ context.Context, ids []string, _ string) (map[string]coingecko.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), ids...))
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	out := make(map[string]coingecko.PriceQuote, len(ids))
	for _, id := range ids {
		price := 100.0
		out[id] = coingecko.PriceQuote{Price: &price}
	}
	return out, nil
}

func (f *fakeMarketAPI) CoinsMarkets(context.Context, string, int, int) ([]coingecko.CoinMarket, error) {
	return nil, nil
}

func (f *fakeMarketAPI) CoinDetails(context.Context, string) (*coingecko.CoinDetails, error) {
	return nil, nil
}

func (f *fakeMarketAPI) MarketChart(context.Context, string, string) ([]coingecko.ChartPoint, error) {
	return nil, nil
}

func (f *fakeMarketAPI) Search(context.Context, string) ([]coingecko.SearchCoin, error) {
	return nil, nil
}

func (f *fakeMarketAPI) Global(context.Context) (*coingecko.GlobalData, error) {
	return nil, nil
}

type fakeBroadcaster struct {
	broadcasts []map[string]services.MarketData
}

func (f *fakeBroadcaster) BroadcastMarketData(quotes map[string]services.MarketData) {
	f.broadcasts = append(f.broadcasts, quotes)
}

func newSchedulerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A second connection would see its own empty in-memory database.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.MigrateCoinModels(db))
	return db
}

func seedCoins(t *testing.T, db *gorm.DB, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	rows := make([]models.Coin, 0, n)
	for i := 1; i <= n; i++ {
		rank := int64(i)
		id := fmt.Sprintf("coin-%04d", i)
		ids = append(ids, id)
		rows = append(rows, models.Coin{ID: id, Symbol: id, Name: id, MarketCapRank: &rank})
	}
	require.NoError(t, db.CreateInBatches(&rows, 50).Error)
	return ids
}

func TestRefreshMarketDataPartitionsIntoBatches(t *testing.T) {
	db := newSchedulerDB(t)
	ids := seedCoins(t, db, marketBatchSize+1)

	api := &fakeMarketAPI{}
	hub := &fakeBroadcaster{}
	s := &Scheduler{db: db, api: api, hub: hub}

	require.NoError(t, s.refreshMarketData(context.Background()))

	// One over the batch size splits into a full batch plus a remainder,
	// requested in rank order.
	require.Len(t, api.batches, 2)
	assert.Equal(t, ids[:marketBatchSize], api.batches[0])
	assert.Equal(t, ids[marketBatchSize:], api.batches[1])

	var coin models.Coin
	require.NoError(t, db.First(&coin, "coin_id = ?", ids[0]).Error)
	require.NotNil(t, coin.CurrentPrice)
	assert.Equal(t, 100.0, *coin.CurrentPrice)

	require.Len(t, hub.broadcasts, 1)
	assert.Len(t, hub.broadcasts[0], len(ids))
}

func TestRefreshMarketDataAbortsCycleOnBatchFailure(t *testing.T) {
	db := newSchedulerDB(t)
	seedCoins(t, db, marketBatchSize+1)

	api := &fakeMarketAPI{priceErr: errors.New("429 too many requests")}
	hub := &fakeBroadcaster{}
	s := &Scheduler{db: db, api: api, hub: hub}

	err := s.refreshMarketData(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch 1")

	// A terminal batch failure stops the cycle before the next batch is
	// attempted, and nothing is broadcast.
	assert.Len(t, api.batches, 1)
	assert.Empty(t, hub.broadcasts)
}

func TestRefreshMarketDataNoCoinsIsNoop(t *testing.T) {
	db := newSchedulerDB(t)
	api := &fakeMarketAPI{}
	s := &Scheduler{db: db, api: api}

	require.NoError(t, s.refreshMarketData(context.Background()))
	assert.Empty(t, api.batches)
}
