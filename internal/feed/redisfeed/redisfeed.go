// Package redisfeed delivers order change events over redis pub/sub. Each
// account has its own channel so a client subscribes only to its own orders.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mahfaza/walletd/pkg/wallet"
)

const channelPrefix = "orders:"

// Feed implements wallet.OrderFeed over a redis client.
type Feed struct {
	client *redis.Client
}

// New returns a Feed backed by the given client.
func New(client *redis.Client) *Feed {
	return &Feed{client: client}
}

// Channel returns the pub/sub channel name for an account.
func Channel(accountID string) string {
	return channelPrefix + accountID
}

// PublishOrderEvent marshals the event and publishes it on the owning
// account's channel.
func (feed *Feed) PublishOrderEvent(ctx context.Context, event wallet.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	if err := feed.client.Publish(ctx, Channel(event.Order.AccountID), payload).Err(); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Subscribe delivers decoded order events for one account to callback until
// ctx is canceled or the returned stop function is called. Undecodable
// payloads are dropped.
func (feed *Feed) Subscribe(ctx context.Context, accountID string, callback func(wallet.OrderEvent)) (func() error, error) {
	pubsub := feed.client.Subscribe(ctx, Channel(accountID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(accountID), err)
	}
	messages := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case message, ok := <-messages:
				if !ok {
					return
				}
				var event wallet.OrderEvent
				if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
					continue
				}
				callback(event)
			}
		}
	}()
	return pubsub.Close, nil
}
