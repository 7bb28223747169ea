package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNSNotifier pushes notifications through Apple's push service using
// token-based authentication. A single client is shared; apns2 keeps the
// HTTP/2 connection alive across pushes.
type APNSNotifier struct {
	client *apns2.Client
	topic  string
	log    *DeliveryLog
}

// NewAPNSNotifier loads the signing key and builds the push client.
// deliveryLog may be nil; outcomes are then only written to the process log.
func NewAPNSNotifier(keyPath, keyID, teamID, topic string, sandbox bool, deliveryLog *DeliveryLog) (*APNSNotifier, error) {
	authKey, err := token.AuthKeyFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs auth key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   keyID,
		TeamID:  teamID,
	})
	if sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return &APNSNotifier{client: client, topic: topic, log: deliveryLog}, nil
}

func (a *APNSNotifier) Send(ctx context.Context, n Notification) error {
	p := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body).
		Badge(n.Badge).
		Sound("default").
		Custom("coin_id", n.CoinID)

	res, err := a.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: n.DeviceToken,
		Topic:       a.topic,
		Payload:     p,
	})
	if err != nil {
		a.log.Record(ctx, n, "error", err.Error())
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		a.log.Record(ctx, n, "rejected", res.Reason)
		return fmt.Errorf("push rejected: %s (status %d)", res.Reason, res.StatusCode)
	}

	log.Printf("Pushed notification for %s (apns id %s)", n.CoinID, res.ApnsID)
	a.log.Record(ctx, n, "sent", "")
	return nil
}
