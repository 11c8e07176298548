package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Kashino17/pod-autom-sub000/internal/pkg/cyclelock"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/taskqueue"
)

const testStream = "podautom:eval:queue"

func newTestScheduler(t *testing.T) (*Scheduler, *redis.Client, func()) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sched := &Scheduler{
		logger:   logger,
		producer: taskqueue.NewProducer(rdb, logger, testStream),
		locker:   cyclelock.NewLocker(rdb, 2*time.Hour),
		interval: time.Hour,
		batch:    50,
	}
	return sched, rdb, func() {
		_ = rdb.Close()
		s.Close()
	}
}

func TestDispatchEntity_OncePerCycle(t *testing.T) {
	ctx := context.Background()
	sched, rdb, cleanup := newTestScheduler(t)
	defer cleanup()

	if !sched.DispatchEntity(ctx, 1, taskqueue.EntityCampaign, 7, "2026-08-25T10:00") {
		t.Fatal("first dispatch must publish")
	}
	if sched.DispatchEntity(ctx, 1, taskqueue.EntityCampaign, 7, "2026-08-25T10:00") {
		t.Fatal("second dispatch in same cycle must be skipped")
	}

	n, err := rdb.XLen(ctx, testStream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 message, got %d", n)
	}
}

func TestDispatchEntity_NewCycleDispatchesAgain(t *testing.T) {
	ctx := context.Background()
	sched, rdb, cleanup := newTestScheduler(t)
	defer cleanup()

	if !sched.DispatchEntity(ctx, 1, taskqueue.EntityProduct, 3, "2026-08-25T10:00") {
		t.Fatal("first cycle must publish")
	}
	if !sched.DispatchEntity(ctx, 1, taskqueue.EntityProduct, 3, "2026-08-25T11:00") {
		t.Fatal("next cycle must publish again")
	}

	n, _ := rdb.XLen(ctx, testStream).Result()
	if n != 2 {
		t.Fatalf("expected 2 messages, got %d", n)
	}
}

func TestDispatchEntity_MessageContent(t *testing.T) {
	ctx := context.Background()
	sched, rdb, cleanup := newTestScheduler(t)
	defer cleanup()

	sched.DispatchEntity(ctx, 9, taskqueue.EntityCampaign, 42, "2026-08-25T10:00")

	msgs, err := rdb.XRange(ctx, testStream, "-", "+").Result()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("xrange: %v (%d msgs)", err, len(msgs))
	}
	var msg taskqueue.EvalMessage
	if err := json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if msg.ShopID != 9 || msg.EntityID != 42 {
		t.Errorf("ids = shop %d entity %d", msg.ShopID, msg.EntityID)
	}
	if msg.EntityType != taskqueue.EntityCampaign {
		t.Errorf("entity_type = %s", msg.EntityType)
	}
	if msg.CycleKey != "2026-08-25T10:00:campaign:42" {
		t.Errorf("cycle_key = %s", msg.CycleKey)
	}
	if msg.Source != taskqueue.SourcePeriodic {
		t.Errorf("source = %s", msg.Source)
	}
}

func TestCycleStamp_StableWithinInterval(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 17, 3, 0, time.UTC)
	a := CycleStamp(base, time.Hour)
	b := CycleStamp(base.Add(42*time.Minute), time.Hour)
	if a != b {
		t.Errorf("same interval must share a stamp: %s vs %s", a, b)
	}
	if a != "2026-08-25T10:00" {
		t.Errorf("stamp = %s", a)
	}

	c := CycleStamp(base.Add(time.Hour), time.Hour)
	if c == a {
		t.Error("next interval must advance the stamp")
	}
}
