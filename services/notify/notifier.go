// Package notify delivers price alert notifications to devices and records
// delivery outcomes.
package notify

import "context"

// Notification is one push message bound for a single device.
type Notification struct {
	DeviceToken string
	Title       string
	Body        string
	Badge       int
	CoinID      string
}

// Notifier sends a notification to the device named by its token.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}
