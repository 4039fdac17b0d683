package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"auction-engine/internal/domain"

	"github.com/go-redis/redis/v8"
)

const (
	notificationChannel = "auction_notifications"
	ledgerChannel       = "auction_ledger"
)

// NotificationPublisher hands notifications to the external delivery service
// over pub/sub. The engine treats delivery as fire-and-forget.
type NotificationPublisher struct {
	client *redis.Client
}

func NewNotificationPublisher(client *redis.Client) *NotificationPublisher {
	return &NotificationPublisher{client: client}
}

type notificationMessage struct {
	UserID    string                 `json:"user_id"`
	Kind      string                 `json:"kind"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (p *NotificationPublisher) Notify(ctx context.Context, userID string, kind domain.NotificationKind, payload map[string]interface{}) error {
	data, err := json.Marshal(notificationMessage{
		UserID:    userID,
		Kind:      string(kind),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return p.client.Publish(ctx, notificationChannel, data).Err()
}

// LedgerPublisher hands payment transactions to the external wallet/payment
// service, same contract as NotificationPublisher.
type LedgerPublisher struct {
	client *redis.Client
}

func NewLedgerPublisher(client *redis.Client) *LedgerPublisher {
	return &LedgerPublisher{client: client}
}

func (p *LedgerPublisher) RecordTransaction(ctx context.Context, t *domain.PaymentTransaction) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	return p.client.Publish(ctx, ledgerChannel, data).Err()
}
