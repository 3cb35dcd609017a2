package wallet

import "context"

// OrderEventKind distinguishes order inserts from updates on the feed.
type OrderEventKind string

const (
	OrderEventCreated OrderEventKind = "created"
	OrderEventUpdated OrderEventKind = "updated"
)

// OrderEvent is the change-feed payload delivered to subscribed clients.
// NewUnreadReply is true exactly once per unread-reply transition: when an
// admin reply newly lands while no unread reply was pending.
type OrderEvent struct {
	Kind           OrderEventKind `json:"kind"`
	Order          Order          `json:"order"`
	NewUnreadReply bool           `json:"new_unread_reply"`
}

// OrderFeed publishes order events to an external transport. Implementations
// decide delivery (pub/sub, long-poll, websocket); the service only promises
// to publish after the owning transaction has committed.
type OrderFeed interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

func (service *Service) publishOrderEvent(ctx context.Context, event OrderEvent) {
	if service.feed == nil {
		return
	}
	if err := service.feed.PublishOrderEvent(ctx, event); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:   operationOrderFeed,
			AccountID:   event.Order.AccountID,
			ReferenceID: event.Order.ID,
			Error:       err,
		})
	}
}
