package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	rdb, _ := newTestRedis(t)
	ctx := context.Background()

	producer := NewProducer(rdb, quietLogger(), "test:eval:queue")
	consumer, err := NewConsumer(rdb, quietLogger(), "test:eval:queue", "workers", "worker-1",
		WithBlockTime(50*time.Millisecond))
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	if err := producer.SubmitProduct(ctx, 1, 42, "2026-08-25:product:42", SourcePeriodic); err != nil {
		t.Fatalf("submit product: %v", err)
	}
	if err := producer.SubmitCampaign(ctx, 1, 7, "2026-08-25:campaign:7", SourceManual); err != nil {
		t.Fatalf("submit campaign: %v", err)
	}

	msgs, err := consumer.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	first := msgs[0].Message
	if first.EntityType != EntityProduct || first.EntityID != 42 {
		t.Errorf("first message wrong: %+v", first)
	}
	if first.CycleKey != "2026-08-25:product:42" {
		t.Errorf("cycle key lost: %s", first.CycleKey)
	}
	second := msgs[1].Message
	if second.EntityType != EntityCampaign || second.EntityID != 7 || second.Source != SourceManual {
		t.Errorf("second message wrong: %+v", second)
	}

	for _, m := range msgs {
		if err := consumer.Ack(ctx, m.ID); err != nil {
			t.Errorf("ack %s: %v", m.ID, err)
		}
	}

	pending, err := consumer.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending != 0 {
		t.Errorf("expected 0 pending after ack, got %d", pending)
	}
}

func TestProducer_RejectsZeroID(t *testing.T) {
	rdb, _ := newTestRedis(t)
	producer := NewProducer(rdb, quietLogger(), "test:eval:queue")

	if err := producer.SubmitProduct(context.Background(), 1, 0, "k", SourcePeriodic); err == nil {
		t.Error("expected error for zero product id")
	}
	if err := producer.SubmitCampaign(context.Background(), 1, 0, "k", SourcePeriodic); err == nil {
		t.Error("expected error for zero campaign id")
	}
}

func TestConsumer_HandleFailureRetriesThenDLQ(t *testing.T) {
	rdb, _ := newTestRedis(t)
	ctx := context.Background()

	producer := NewProducer(rdb, quietLogger(), "test:eval:queue")
	consumer, err := NewConsumer(rdb, quietLogger(), "test:eval:queue", "workers", "worker-1",
		WithBlockTime(50*time.Millisecond),
		WithMaxRetry(1))
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	if err := producer.SubmitProduct(ctx, 1, 5, "k", SourcePeriodic); err != nil {
		t.Fatalf("submit: %v", err)
	}

	msgs, err := consumer.Read(ctx)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("read: %v (%d msgs)", err, len(msgs))
	}

	// 第一次失败：重入队
	action, err := consumer.HandleFailure(ctx, msgs[0], errors.New("platform timeout"))
	if err != nil {
		t.Fatalf("handle failure: %v", err)
	}
	if action != FailureActionRetry {
		t.Fatalf("expected retry, got %s", action)
	}

	msgs, err = consumer.Read(ctx)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("read retried: %v (%d msgs)", err, len(msgs))
	}
	if msgs[0].Message.Retry != 1 {
		t.Errorf("retry counter = %d, want 1", msgs[0].Message.Retry)
	}

	// 第二次失败：超过 maxRetry，进死信
	action, err = consumer.HandleFailure(ctx, msgs[0], errors.New("platform timeout"))
	if err != nil {
		t.Fatalf("handle failure: %v", err)
	}
	if action != FailureActionDLQ {
		t.Fatalf("expected dlq, got %s", action)
	}

	dlqLen, err := rdb.XLen(ctx, "test:eval:queue:dlq").Result()
	if err != nil {
		t.Fatalf("xlen dlq: %v", err)
	}
	if dlqLen != 1 {
		t.Errorf("expected 1 dead letter, got %d", dlqLen)
	}
}

func TestConsumer_PoisonMessageGoesToDLQ(t *testing.T) {
	rdb, _ := newTestRedis(t)
	ctx := context.Background()

	consumer, err := NewConsumer(rdb, quietLogger(), "test:eval:queue", "workers", "worker-1",
		WithBlockTime(50*time.Millisecond))
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	// 手工写一条非 JSON 的脏消息
	if err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: "test:eval:queue",
		Values: map[string]interface{}{"data": "not-json"},
	}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}

	msgs, err := consumer.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("poison message must be filtered, got %d", len(msgs))
	}

	dlqLen, err := rdb.XLen(ctx, "test:eval:queue:dlq").Result()
	if err != nil {
		t.Fatalf("xlen dlq: %v", err)
	}
	if dlqLen != 1 {
		t.Errorf("expected poison message in dlq, got %d", dlqLen)
	}
}
