package alerts

import (
	"context"
	"fmt"
	"log"

	"coinwatch/models"
	"coinwatch/services/notify"
)

// Evaluator walks all active alerts against current prices and pushes a
// notification for each one that triggered. Triggered alerts are one-shot:
// they are deleted after a successful push, so an alert never fires twice.
type Evaluator struct {
	alerts   Store
	coins    CoinStore
	notifier notify.Notifier
}

func NewEvaluator(alerts Store, coins CoinStore, notifier notify.Notifier) *Evaluator {
	return &Evaluator{alerts: alerts, coins: coins, notifier: notifier}
}

// Run evaluates every alert once. A failure on one alert is logged and does
// not stop the sweep; only a failure to load state aborts.
func (e *Evaluator) Run(ctx context.Context) error {
	alerts, err := e.alerts.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil
	}

	ids := make([]string, 0, len(alerts))
	seen := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		if !seen[a.CoinID] {
			seen[a.CoinID] = true
			ids = append(ids, a.CoinID)
		}
	}

	coins, err := e.coins.ByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load coins for alerts: %w", err)
	}

	// Badge increments per device token within one sweep so stacked
	// notifications number themselves.
	badges := make(map[string]int)
	triggered := 0

	for _, alert := range alerts {
		coin, ok := coins[alert.CoinID]
		if !ok {
			log.Printf("Skipping alert %d: no market data for %s", alert.ID, alert.CoinID)
			continue
		}
		if alert.DeviceToken == "" {
			log.Printf("Skipping alert %d: no device token", alert.ID)
			continue
		}

		price, ok := decimalFromPrice(coin.CurrentPrice)
		if !ok {
			log.Printf("Skipping alert %d: %s has no current price", alert.ID, alert.CoinID)
			continue
		}

		fired := false
		switch alert.TargetDirection {
		case models.TargetAbove:
			fired = price.GreaterThanOrEqual(alert.TargetPrice)
		case models.TargetBelow:
			fired = price.LessThanOrEqual(alert.TargetPrice)
		}
		if !fired {
			continue
		}

		badges[alert.DeviceToken]++
		notification := notify.Notification{
			DeviceToken: alert.DeviceToken,
			Title:       fmt.Sprintf("%s Alert", alert.CoinName),
			Body:        alertBody(alert),
			Badge:       badges[alert.DeviceToken],
			CoinID:      alert.CoinID,
		}

		if err := e.notifier.Send(ctx, notification); err != nil {
			log.Printf("Failed to notify alert %d for %s: %v", alert.ID, alert.CoinID, err)
			continue
		}
		if err := e.alerts.Delete(ctx, alert.ID); err != nil {
			log.Printf("Failed to delete fired alert %d: %v", alert.ID, err)
			continue
		}
		triggered++
	}

	if triggered > 0 {
		log.Printf("Price alert sweep: %d of %d alerts fired", triggered, len(alerts))
	}
	return nil
}

func alertBody(alert models.PriceAlert) string {
	if alert.TargetDirection == models.TargetAbove {
		return fmt.Sprintf("%s has risen above $%s", alert.CoinName, alert.TargetPrice.String())
	}
	return fmt.Sprintf("%s has dropped below $%s", alert.CoinName, alert.TargetPrice.String())
}
