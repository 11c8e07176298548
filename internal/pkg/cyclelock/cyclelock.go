// Package cyclelock 用 Redis SETNX 实现评估周期的幂等锁。
//
// 调度器在给实体派发评估前先 Acquire(cycleKey)：同一个 (实体, 周期)
// 只有第一次成功，重复调度直接跳过，保证每个周期至多一条审计日志。
package cyclelock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "podautom:cyclelock:"

type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLocker 创建周期锁。TTL 应大于一个评估周期，防止锁过期后同周期重派。
func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Locker{
		rdb: rdb,
		ttl: ttl,
	}
}

// Acquire 尝试获取 cycleKey 的锁，返回是否获取成功。
// 返回 false 表示该 (实体, 周期) 已被派发过。
func (l *Locker) Acquire(ctx context.Context, cycleKey string) (bool, error) {
	if l == nil || l.rdb == nil || cycleKey == "" {
		return true, nil
	}
	key := keyPrefix + hashKey(cycleKey)
	ok, err := l.rdb.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cyclelock setnx: %w", err)
	}
	return ok, nil
}

// Release 释放锁，用于派发失败后允许同周期重试。
func (l *Locker) Release(ctx context.Context, cycleKey string) error {
	if l == nil || l.rdb == nil || cycleKey == "" {
		return nil
	}
	key := keyPrefix + hashKey(cycleKey)
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cyclelock del: %w", err)
	}
	return nil
}

func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}
