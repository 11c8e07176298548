// Package ratelimit 提供基于 Redis 的分布式令牌桶限流。
//
// 广告平台与 Shopify 的出站调用共享限流器，多个 worker 进程
// 通过同一个 Redis key 协调，避免单机限流在水平扩容后失效。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/Kashino17/pod-autom-sub000/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimitTimeout 表示等待令牌时 context 先到期。
var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

// 桶状态存在一个 hash 里（tokens + 上次补充时间戳，毫秒），
// 原子地补充并尝试扣减；拿不到时返回建议的等待毫秒数。
const acquireScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

if rate <= 0 or burst <= 0 then
  return {1, 0}
end

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now_ms

local elapsed_ms = now_ms - last
if elapsed_ms > 0 then
  tokens = math.min(burst, tokens + elapsed_ms * rate / 1000.0)
end

local wait_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
else
  wait_ms = math.ceil((1 - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now_ms)
redis.call("PEXPIRE", key, math.ceil(burst / rate * 2000.0))

if wait_ms > 0 then
  return {0, wait_ms}
end
return {1, 0}
`

// RateLimiter 是所有出站平台调用共享的令牌桶。
type RateLimiter struct {
	rdb    *redis.Client
	logger *slog.Logger
	script *redis.Script
	key    string
	rate   float64 // 每秒补充的令牌数
	burst  float64 // 桶容量
}

// NewRedisRateLimiter 创建限流器；rate 或 burst 为 0 时限流关闭。
func NewRedisRateLimiter(rdb *redis.Client, logger *slog.Logger, key string, rate float64, burst float64) *RateLimiter {
	if key == "" {
		key = "podautom:ratelimit:platform"
	}
	return &RateLimiter{
		rdb:    rdb,
		logger: logger,
		script: redis.NewScript(acquireScript),
		key:    key,
		rate:   rate,
		burst:  burst,
	}
}

// Acquire 阻塞直到拿到一个令牌或 ctx 到期。
//
// 等待时长按脚本返回的补充时间 + 少量抖动，避免多个 worker
// 在同一毫秒醒来互相抢令牌。
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	}()

	for {
		waitMs, err := r.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if waitMs == 0 {
			return nil
		}

		wait := time.Duration(waitMs)*time.Millisecond +
			time.Duration(rand.Int63n(int64(10*time.Millisecond)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			metrics.RateLimitTimeoutTotal.Inc()
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

// tryAcquire 跑一次脚本；返回 0 表示拿到令牌，否则为建议等待毫秒数。
func (r *RateLimiter) tryAcquire(ctx context.Context) (int64, error) {
	res, err := r.script.Run(ctx, r.rdb, []string{r.key},
		r.rate, r.burst, time.Now().UnixMilli()).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, fmt.Errorf("ratelimit: unexpected script result %T", res)
	}
	if asInt64(values[0]) == 1 {
		return 0, nil
	}

	waitMs := asInt64(values[1])
	if waitMs <= 0 {
		waitMs = 50
	}
	return waitMs, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
