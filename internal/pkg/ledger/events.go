package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// SpendEventChannel is the redis channel spend events are published on.
const SpendEventChannel = "creditledger:spend"

// SpendEvent is emitted after every successful spend for external
// subscribers (usage analytics, alerting). Delivery is best-effort and never
// blocks or fails the spend itself.
type SpendEvent struct {
	AccountID    uint      `json:"account_id"`
	ActionType   string    `json:"action_type"`
	Units        int       `json:"units"`
	Credits      int       `json:"credits"`
	SourceType   string    `json:"source_type"`
	BalanceAfter int       `json:"balance_after"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher delivers domain events to external subscribers.
type Publisher interface {
	PublishSpend(ctx context.Context, event SpendEvent) error
}

// NopPublisher drops all events.
type NopPublisher struct{}

func (NopPublisher) PublishSpend(ctx context.Context, event SpendEvent) error {
	return nil
}

// RedisPublisher publishes spend events on a redis pub/sub channel.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher on the given redis client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishSpend(ctx context.Context, event SpendEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, SpendEventChannel, payload).Err()
}

// publishSpend fires the event without letting subscriber trouble surface to
// the spender.
func (s *Service) publishSpend(ctx context.Context, event SpendEvent) {
	if err := s.publisher.PublishSpend(ctx, event); err != nil {
		log.Warnf("[Ledger] failed to publish spend event for account %d: %v", event.AccountID, err)
	}
}
