package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const deliveryCollection = "notification_deliveries"

// DeliveryLog records push delivery outcomes in MongoDB for later audit.
// The log is optional: a nil *DeliveryLog is safe to call and records
// nothing, so environments without a Mongo URI run unchanged.
type DeliveryLog struct {
	collection *mongo.Collection
}

type deliveryRecord struct {
	DeviceToken string    `bson:"device_token"`
	CoinID      string    `bson:"coin_id"`
	Title       string    `bson:"title"`
	Outcome     string    `bson:"outcome"`
	Detail      string    `bson:"detail,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
}

// NewDeliveryLog connects to MongoDB and prepares the delivery collection.
// An empty URI disables the log and returns nil without error.
func NewDeliveryLog(ctx context.Context, uri, database string) (*DeliveryLog, error) {
	if uri == "" {
		log.Println("MONGO_URI not set, notification delivery log disabled")
		return nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(connectCtx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(database).Collection(deliveryCollection)
	collection.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})

	log.Println("Notification delivery log connected")
	return &DeliveryLog{collection: collection}, nil
}

// Record writes one delivery outcome. Failures are logged, never propagated:
// the audit trail must not break alert delivery.
func (d *DeliveryLog) Record(ctx context.Context, n Notification, outcome, detail string) {
	if d == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := d.collection.InsertOne(writeCtx, deliveryRecord{
		DeviceToken: n.DeviceToken,
		CoinID:      n.CoinID,
		Title:       n.Title,
		Outcome:     outcome,
		Detail:      detail,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		log.Printf("Failed to record notification delivery: %v", err)
	}
}

// Close disconnects the underlying client.
func (d *DeliveryLog) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	return d.collection.Database().Client().Disconnect(ctx)
}
