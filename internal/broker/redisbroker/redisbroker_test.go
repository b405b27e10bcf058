package redisbroker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/rob634/rmhgeoapi-sub015/internal/broker"
	"github.com/rob634/rmhgeoapi-sub015/internal/logger"
)

func newTestBroker(t *testing.T) (*Broker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	b, err := New(context.Background(), mr.Addr(), "", 0, "coremachine", "test-consumer", log)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestSendReceiveComplete(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	if err := b.Send(ctx, "tasks", []byte(`{"task_id":"t1"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs, err := b.Receive(ctx, "tasks", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0].Body) != `{"task_id":"t1"}` {
		t.Fatalf("unexpected body: %s", msgs[0].Body)
	}
	if msgs[0].DeliveryCount != 1 {
		t.Fatalf("expected delivery count 1, got %d", msgs[0].DeliveryCount)
	}

	if err := b.Complete(ctx, msgs[0]); err != nil {
		t.Fatalf("complete: %v", err)
	}

	msgs, err = b.Receive(ctx, "tasks", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("receive after complete: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages after complete, got %d", len(msgs))
	}
}

func TestAbandonIsRedeliveredAfterLockExpiry(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()
	b.Configure("tasks", broker.QueueConfig{MaxDeliveryCount: 5, LockDuration: 50 * time.Millisecond})

	if err := b.Send(ctx, "tasks", []byte(`{"task_id":"t1"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	first, err := b.Receive(ctx, "tasks", 10, 10*time.Millisecond)
	if err != nil || len(first) != 1 {
		t.Fatalf("first receive: %v %d", err, len(first))
	}
	if err := b.Abandon(ctx, first[0]); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	mr.FastForward(100 * time.Millisecond)

	second, err := b.Receive(ctx, "tasks", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected redelivery of abandoned message, got %d messages", len(second))
	}
	if second[0].DeliveryCount < 2 {
		t.Fatalf("expected delivery count to have incremented on reclaim, got %d", second[0].DeliveryCount)
	}
}

func TestDeadLetterMovesToSiblingStream(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	if err := b.Send(ctx, "tasks", []byte(`{"task_id":"t1"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, err := b.Receive(ctx, "tasks", 10, 10*time.Millisecond)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: %v %d", err, len(msgs))
	}

	if err := b.DeadLetter(ctx, msgs[0], "delivery count exhausted"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	dead, err := b.PeekDeadLetters(ctx, "tasks", 10)
	if err != nil {
		t.Fatalf("peek dlq: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead-lettered message, got %d", len(dead))
	}
	if string(dead[0].Body) != `{"task_id":"t1"}` {
		t.Fatalf("unexpected dead letter body: %s", dead[0].Body)
	}

	remaining, err := b.Receive(ctx, "tasks", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("receive after dead letter: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected source queue drained, got %d", len(remaining))
	}
}

func TestRenewLockResetsIdleTimer(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()
	b.Configure("tasks", broker.QueueConfig{MaxDeliveryCount: 5, LockDuration: 50 * time.Millisecond})

	if err := b.Send(ctx, "tasks", []byte(`{"task_id":"t1"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, err := b.Receive(ctx, "tasks", 10, 10*time.Millisecond)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: %v %d", err, len(msgs))
	}

	if err := b.RenewLock(ctx, msgs[0], 50*time.Millisecond); err != nil {
		t.Fatalf("renew lock: %v", err)
	}

	mr.FastForward(30 * time.Millisecond)

	stillPending, err := b.Receive(ctx, "tasks", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("receive after renew: %v", err)
	}
	if len(stillPending) != 0 {
		t.Fatalf("expected renewed lock to prevent reclaim, got %d messages", len(stillPending))
	}
}
