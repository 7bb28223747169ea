package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinwatch/models"
	"coinwatch/services/notify"
)

type fakeAlertStore struct {
	alerts  []models.PriceAlert
	deleted []uint
	loadErr error
}

func (f *fakeAlertStore) All(context.Context) ([]models.PriceAlert, error) {
	return f.alerts, f.loadErr
}

func (f *fakeAlertStore) ForUser(context.Context, string) ([]models.PriceAlert, error) {
	return nil, nil
}

func (f *fakeAlertStore) Create(context.Context, *models.PriceAlert) error { return nil }

func (f *fakeAlertStore) Delete(_ context.Context, id uint) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAlertStore) DeleteForUser(context.Context, string, uint) (bool, error) {
	return false, nil
}

type fakeCoinStore struct {
	coins map[string]models.Coin
}

func (f *fakeCoinStore) ByIDs(context.Context, []string) (map[string]models.Coin, error) {
	return f.coins, nil
}

type fakeNotifier struct {
	sent    []notify.Notification
	failFor string
}

func (f *fakeNotifier) Send(_ context.Context, n notify.Notification) error {
	if f.failFor != "" && n.CoinID == f.failFor {
		return errors.New("push gateway down")
	}
	f.sent = append(f.sent, n)
	return nil
}

func price(v float64) *float64 { return &v }

func alert(id uint, coinID string, target float64, dir models.TargetDirection, token string) models.PriceAlert {
	return models.PriceAlert{
		ID:              id,
		UserID:          "user-1",
		CoinID:          coinID,
		CoinName:        coinID,
		TargetPrice:     decimal.NewFromFloat(target),
		TargetDirection: dir,
		DeviceToken:     token,
	}
}

func TestEvaluatorFiresAndDeletesTriggeredAlerts(t *testing.T) {
	store := &fakeAlertStore{alerts: []models.PriceAlert{
		alert(1, "bitcoin", 60000, models.TargetAbove, "token-a"),
		alert(2, "ethereum", 4000, models.TargetAbove, "token-a"),
		alert(3, "solana", 100, models.TargetBelow, "token-b"),
	}}
	coins := &fakeCoinStore{coins: map[string]models.Coin{
		"bitcoin":  {ID: "bitcoin", CurrentPrice: price(67000)},
		"ethereum": {ID: "ethereum", CurrentPrice: price(3500)},
		"solana":   {ID: "solana", CurrentPrice: price(90)},
	}}
	notifier := &fakeNotifier{}

	err := NewEvaluator(store, coins, notifier).Run(context.Background())
	require.NoError(t, err)

	// bitcoin crossed above, solana dropped below, ethereum did not trigger.
	require.Len(t, notifier.sent, 2)
	assert.ElementsMatch(t, []uint{1, 3}, store.deleted)
}

func TestEvaluatorTriggersOnExactTarget(t *testing.T) {
	store := &fakeAlertStore{alerts: []models.PriceAlert{
		alert(1, "bitcoin", 67000, models.TargetAbove, "token-a"),
	}}
	coins := &fakeCoinStore{coins: map[string]models.Coin{
		"bitcoin": {ID: "bitcoin", CurrentPrice: price(67000)},
	}}
	notifier := &fakeNotifier{}

	require.NoError(t, NewEvaluator(store, coins, notifier).Run(context.Background()))
	assert.Len(t, notifier.sent, 1, "reaching the target exactly counts as crossing")
}

func TestEvaluatorBadgeCountsPerDeviceToken(t *testing.T) {
	store := &fakeAlertStore{alerts: []models.PriceAlert{
		alert(1, "bitcoin", 1, models.TargetAbove, "token-a"),
		alert(2, "ethereum", 1, models.TargetAbove, "token-a"),
		alert(3, "solana", 1, models.TargetAbove, "token-b"),
	}}
	coins := &fakeCoinStore{coins: map[string]models.Coin{
		"bitcoin":  {ID: "bitcoin", CurrentPrice: price(100)},
		"ethereum": {ID: "ethereum", CurrentPrice: price(100)},
		"solana":   {ID: "solana", CurrentPrice: price(100)},
	}}
	notifier := &fakeNotifier{}

	require.NoError(t, NewEvaluator(store, coins, notifier).Run(context.Background()))
	require.Len(t, notifier.sent, 3)

	badges := map[string][]int{}
	for _, n := range notifier.sent {
		badges[n.DeviceToken] = append(badges[n.DeviceToken], n.Badge)
	}
	assert.Equal(t, []int{1, 2}, badges["token-a"])
	assert.Equal(t, []int{1}, badges["token-b"])
}

func TestEvaluatorSkipsAlertsWithoutDataOrToken(t *testing.T) {
	store := &fakeAlertStore{alerts: []models.PriceAlert{
		alert(1, "unknown-coin", 1, models.TargetAbove, "token-a"),
		alert(2, "bitcoin", 1, models.TargetAbove, ""),
		alert(3, "no-price", 1, models.TargetAbove, "token-a"),
	}}
	coins := &fakeCoinStore{coins: map[string]models.Coin{
		"bitcoin":  {ID: "bitcoin", CurrentPrice: price(100)},
		"no-price": {ID: "no-price"},
	}}
	notifier := &fakeNotifier{}

	require.NoError(t, NewEvaluator(store, coins, notifier).Run(context.Background()))
	assert.Empty(t, notifier.sent)
	assert.Empty(t, store.deleted, "skipped alerts stay active")
}

func TestEvaluatorKeepsAlertWhenPushFails(t *testing.T) {
	store := &fakeAlertStore{alerts: []models.PriceAlert{
		alert(1, "bitcoin", 1, models.TargetAbove, "token-a"),
		alert(2, "ethereum", 1, models.TargetAbove, "token-a"),
	}}
	coins := &fakeCoinStore{coins: map[string]models.Coin{
		"bitcoin":  {ID: "bitcoin", CurrentPrice: price(100)},
		"ethereum": {ID: "ethereum", CurrentPrice: price(100)},
	}}
	notifier := &fakeNotifier{failFor: "bitcoin"}

	require.NoError(t, NewEvaluator(store, coins, notifier).Run(context.Background()))

	// The failed push leaves alert 1 active for the next sweep; alert 2 still
	// goes through.
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "ethereum", notifier.sent[0].CoinID)
	assert.Equal(t, []uint{2}, store.deleted)
}

func TestEvaluatorAbortsWhenAlertsCannotLoad(t *testing.T) {
	boom := errors.New("db offline")
	store := &fakeAlertStore{loadErr: boom}

	err := NewEvaluator(store, &fakeCoinStore{}, &fakeNotifier{}).Run(context.Background())
	assert.ErrorIs(t, err, boom)
}
