package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, key string, rate, burst float64) *RateLimiter {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRedisRateLimiter(rdb, logger, key, rate, burst)
}

func TestAcquire_ConsumesToken(t *testing.T) {
	limiter := newTestLimiter(t, "podautom:test:consume", 10, 2)

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	raw, err := limiter.rdb.HGet(context.Background(), limiter.key, "tokens").Result()
	if err != nil {
		t.Fatalf("hget tokens: %v", err)
	}
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		t.Fatalf("parse tokens %q: %v", raw, err)
	}
	if tokens > 1.1 {
		t.Errorf("tokens after acquire = %.2f, want about 1", tokens)
	}
}

func TestAcquire_WaitsForRefill(t *testing.T) {
	limiter := newTestLimiter(t, "podautom:test:refill", 10, 1)

	// 耗尽桶里唯一的令牌。
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	start := time.Now()
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	// 速率 10/s，补一个令牌约 100ms。
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("second acquire returned after %v, want >= 80ms", elapsed)
	}
}

func TestAcquire_ContextDeadline(t *testing.T) {
	limiter := newTestLimiter(t, "podautom:test:deadline", 1, 1)

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("warm acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.Acquire(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("err = %v, want ErrRateLimitTimeout", err)
	}
}

func TestAcquire_DisabledLimiterIsNoop(t *testing.T) {
	limiter := newTestLimiter(t, "podautom:test:disabled", 0, 0)

	for i := 0; i < 10; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}

func TestAcquire_BurstSharedAcrossGoroutines(t *testing.T) {
	// 速率调到 1/s，100ms 内补不满一个令牌，成功数恰好等于 burst。
	limiter := newTestLimiter(t, "podautom:test:burst", 1, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	success, timedOut := 0, 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := limiter.Acquire(ctx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrRateLimitTimeout):
				timedOut++
			default:
				t.Errorf("unexpected acquire error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 5 {
		t.Errorf("success = %d (timed out %d), want 5", success, timedOut)
	}
	if success+timedOut != 20 {
		t.Errorf("accounted %d acquires, want 20", success+timedOut)
	}
}
