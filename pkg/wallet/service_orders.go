package wallet

import (
	"context"
	"strings"
)

// GetOrder fetches a single order.
func (service *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return service.store.GetOrder(ctx, orderID)
}

// ListOrders returns the account's orders, newest first.
func (service *Service) ListOrders(ctx context.Context, accountID string, limit int, offset int) ([]Order, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	return service.store.ListOrders(ctx, accountID, limit, offset)
}

// UnreadReplyCount counts orders with an admin reply that has not been read.
func (service *Service) UnreadReplyCount(ctx context.Context, accountID string) (int64, error) {
	if err := validateAccountID(accountID); err != nil {
		return 0, err
	}
	return service.store.CountUnreadReplies(ctx, accountID)
}

// MarkReplyRead records that the account has seen the admin reply.
// Re-marking an already-read reply, or an order with no reply, is a no-op.
func (service *Service) MarkReplyRead(ctx context.Context, orderID string) error {
	var updatedOrder *Order
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		order, err := txStore.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.AdminReply == "" || order.ReplyReadAtUnixUTC != 0 {
			return nil
		}
		nowUnixUTC := service.nowFn()
		transitioned, err := txStore.MarkOrderReplyRead(ctx, orderID, nowUnixUTC)
		if err != nil {
			return err
		}
		if transitioned {
			order.ReplyReadAtUnixUTC = nowUnixUTC
			order.UpdatedUnixUTC = nowUnixUTC
			updatedOrder = &order
		}
		return nil
	})
	if operationError == nil && updatedOrder != nil {
		service.publishOrderEvent(ctx, OrderEvent{Kind: OrderEventUpdated, Order: *updatedOrder})
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationMarkReplyRead,
		ReferenceID: orderID,
		Error:       operationError,
	})
	return operationError
}

// SetAdminReply attaches (or overwrites) the admin reply on an order and
// resets the read marker. The change-feed event carries NewUnreadReply=true
// only when the order had no unread reply before this write, so the unread
// counter sees exactly one event per transition.
func (service *Service) SetAdminReply(ctx context.Context, orderID string, reply string) error {
	var updatedOrder *Order
	var newUnread bool
	operationError := func() error {
		if strings.TrimSpace(reply) == "" {
			return WrapError(operationSetReply, "reply", "empty", ErrInvalidReply)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			order, err := txStore.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			wasUnread := order.AdminReply != "" && order.ReplyReadAtUnixUTC == 0
			nowUnixUTC := service.nowFn()
			if err := txStore.SetOrderAdminReply(ctx, orderID, reply, nowUnixUTC); err != nil {
				return err
			}
			order.AdminReply = reply
			order.ReplyReadAtUnixUTC = 0
			order.UpdatedUnixUTC = nowUnixUTC
			updatedOrder = &order
			newUnread = !wasUnread
			return nil
		})
	}()
	if operationError == nil && updatedOrder != nil {
		service.publishOrderEvent(ctx, OrderEvent{
			Kind:           OrderEventUpdated,
			Order:          *updatedOrder,
			NewUnreadReply: newUnread,
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationSetReply,
		ReferenceID: orderID,
		Error:       operationError,
	})
	return operationError
}

// CompleteOrder moves a pending order to completed. Called by the external
// fulfillment actor; completing an already-completed order is a no-op.
func (service *Service) CompleteOrder(ctx context.Context, orderID string) error {
	var updatedOrder *Order
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		order, err := txStore.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == OrderStatusCompleted {
			return nil
		}
		nowUnixUTC := service.nowFn()
		transitioned, err := txStore.CompleteOrder(ctx, orderID, nowUnixUTC)
		if err != nil {
			return err
		}
		if transitioned {
			order.Status = OrderStatusCompleted
			order.UpdatedUnixUTC = nowUnixUTC
			updatedOrder = &order
		}
		return nil
	})
	if operationError == nil && updatedOrder != nil {
		service.publishOrderEvent(ctx, OrderEvent{Kind: OrderEventUpdated, Order: *updatedOrder})
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationCompleteOrder,
		ReferenceID: orderID,
		Error:       operationError,
	})
	return operationError
}
