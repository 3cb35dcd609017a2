package wallet

import (
	"context"
	"errors"
	"testing"
)

func seedPurchasedOrder(t *testing.T, store *stubStore, service *Service, accountID string) Order {
	t.Helper()
	store.seedAccount(t, accountID, 1000)
	store.seedProduct(t, "prod-seed", 100, true)
	result, err := service.Purchase(context.Background(), accountID, "prod-seed", "req-"+accountID)
	if err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
	return store.mustOrder(t, result.OrderID)
}

func TestSetAdminReplyMarksUnread(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	feed := &recordingFeed{}
	service := mustNewService(t, store, WithOrderFeed(feed))
	order := seedPurchasedOrder(t, store, service, "acct-1")

	if err := service.SetAdminReply(context.Background(), order.ID, "shipped tomorrow"); err != nil {
		t.Fatalf("set reply: %v", err)
	}
	count, err := service.UnreadReplyCount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 unread reply, got %d", count)
	}
	events := feed.all()
	last := events[len(events)-1]
	if last.Kind != OrderEventUpdated || !last.NewUnreadReply {
		t.Fatalf("expected update event with new unread reply, got %+v", last)
	}
}

func TestSetAdminReplyOverwriteWhileUnreadEmitsNoSecondUnreadEvent(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	feed := &recordingFeed{}
	service := mustNewService(t, store, WithOrderFeed(feed))
	order := seedPurchasedOrder(t, store, service, "acct-1")
	ctx := context.Background()

	if err := service.SetAdminReply(ctx, order.ID, "first reply"); err != nil {
		t.Fatalf("first reply: %v", err)
	}
	if err := service.SetAdminReply(ctx, order.ID, "edited reply"); err != nil {
		t.Fatalf("second reply: %v", err)
	}

	count, err := service.UnreadReplyCount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected unread count to stay 1, got %d", count)
	}
	unreadEvents := 0
	for _, event := range feed.all() {
		if event.NewUnreadReply {
			unreadEvents++
		}
	}
	if unreadEvents != 1 {
		t.Fatalf("expected exactly one unread-reply event, got %d", unreadEvents)
	}
}

func TestReplyReadThenNewReplyBecomesUnreadAgain(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	feed := &recordingFeed{}
	service := mustNewService(t, store, WithOrderFeed(feed))
	order := seedPurchasedOrder(t, store, service, "acct-1")
	ctx := context.Background()

	if err := service.SetAdminReply(ctx, order.ID, "first"); err != nil {
		t.Fatalf("set reply: %v", err)
	}
	if err := service.MarkReplyRead(ctx, order.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if count, _ := service.UnreadReplyCount(ctx, "acct-1"); count != 0 {
		t.Fatalf("expected 0 unread after read, got %d", count)
	}
	if err := service.SetAdminReply(ctx, order.ID, "second"); err != nil {
		t.Fatalf("second reply: %v", err)
	}
	if count, _ := service.UnreadReplyCount(ctx, "acct-1"); count != 1 {
		t.Fatalf("expected new reply to be unread again")
	}
	unreadEvents := 0
	for _, event := range feed.all() {
		if event.NewUnreadReply {
			unreadEvents++
		}
	}
	if unreadEvents != 2 {
		t.Fatalf("expected two unread transitions, got %d", unreadEvents)
	}
}

func TestMarkReplyReadIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	feed := &recordingFeed{}
	service := mustNewService(t, store, WithOrderFeed(feed))
	order := seedPurchasedOrder(t, store, service, "acct-1")
	ctx := context.Background()

	// No reply yet: marking read is a quiet no-op.
	if err := service.MarkReplyRead(ctx, order.ID); err != nil {
		t.Fatalf("mark read without reply: %v", err)
	}
	if err := service.SetAdminReply(ctx, order.ID, "hello"); err != nil {
		t.Fatalf("set reply: %v", err)
	}
	eventsBefore := len(feed.all())
	if err := service.MarkReplyRead(ctx, order.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := service.MarkReplyRead(ctx, order.ID); err != nil {
		t.Fatalf("repeat mark read: %v", err)
	}
	// One update event for the transition, none for the repeat.
	if got := len(feed.all()) - eventsBefore; got != 1 {
		t.Fatalf("expected one read event, got %d", got)
	}
}

func TestCompleteOrderTransitionsOnce(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	feed := &recordingFeed{}
	service := mustNewService(t, store, WithOrderFeed(feed))
	order := seedPurchasedOrder(t, store, service, "acct-1")
	ctx := context.Background()

	if err := service.CompleteOrder(ctx, order.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if store.mustOrder(t, order.ID).Status != OrderStatusCompleted {
		t.Fatalf("order not completed")
	}
	eventsBefore := len(feed.all())
	if err := service.CompleteOrder(ctx, order.ID); err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if got := len(feed.all()) - eventsBefore; got != 0 {
		t.Fatalf("repeat completion published %d extra events", got)
	}
}

func TestOrderOperationsOnMissingOrder(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustNewService(t, store)
	ctx := context.Background()

	if _, err := service.GetOrder(ctx, "nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("get: %v", err)
	}
	if err := service.SetAdminReply(ctx, "nope", "reply"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("reply: %v", err)
	}
	if err := service.MarkReplyRead(ctx, "nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("read: %v", err)
	}
	if err := service.CompleteOrder(ctx, "nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("complete: %v", err)
	}
}

func TestSetAdminReplyRejectsEmptyReply(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustNewService(t, store)
	order := seedPurchasedOrder(t, store, service, "acct-1")

	err := service.SetAdminReply(context.Background(), order.ID, "   ")
	if !errors.Is(err, ErrInvalidReply) {
		t.Fatalf("expected ErrInvalidReply, got %v", err)
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustNewService(t, store)
	store.seedAccount(t, "acct-1", 10000)
	store.seedProduct(t, "prod-1", 100, true)
	ctx := context.Background()

	store.orders["old"] = Order{ID: "old", AccountID: "acct-1", RequestID: "r-old", CreatedUnixUTC: 10}
	store.orders["new"] = Order{ID: "new", AccountID: "acct-1", RequestID: "r-new", CreatedUnixUTC: 20}
	store.orders["other"] = Order{ID: "other", AccountID: "acct-2", RequestID: "r-x", CreatedUnixUTC: 30}

	orders, err := service.ListOrders(ctx, "acct-1", 10, 0)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "new" || orders[1].ID != "old" {
		t.Fatalf("unexpected order listing: %+v", orders)
	}
}
