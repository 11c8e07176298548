// Package scheduler 负责周期评估的调度派发。
//
// API 进程内运行一个调度循环：每个评估周期扫描所有启用店铺，把活跃商品
// 与活跃广告系列逐个投递到 Redis Stream 评估队列，由 worker 进程消费执行。
// 周期锁保证同一实体在同一周期内只被派发一次，多实例部署下也不会重复。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/Kashino17/pod-autom-sub000/internal/model"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/cyclelock"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/metrics"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/taskqueue"
)

// 扫描分页大小的下限，防止配置成 0 导致死循环。
const minBatchSize = 10

// Scheduler 评估调度器。
type Scheduler struct {
	db       *gorm.DB
	logger   *slog.Logger
	producer *taskqueue.Producer
	locker   *cyclelock.Locker
	interval time.Duration
	batch    int
}

// New 创建调度器。interval 是评估周期，batch 是数据库扫描分页大小。
func New(db *gorm.DB, logger *slog.Logger, producer *taskqueue.Producer, locker *cyclelock.Locker, interval time.Duration, batch int) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if batch < minBatchSize {
		batch = minBatchSize
	}
	return &Scheduler{
		db:       db,
		logger:   logger,
		producer: producer,
		locker:   locker,
		interval: interval,
		batch:    batch,
	}
}

// Run 启动调度循环，阻塞直到 ctx 取消。
//
// 启动时立即执行一轮派发，之后按评估周期触发；进程重启不会错过
// 当前周期，周期锁会挡掉已派发过的实体。
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		slog.Duration("interval", s.interval),
		slog.Int("batch", s.batch))

	s.dispatchCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(time.Minute)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.dispatchCycle(ctx)
		case <-statsTicker.C:
			s.logQueueDepth(ctx)
		}
	}
}

// CycleStamp 返回评估周期标识，同一周期内的所有调用返回相同值。
func CycleStamp(t time.Time, interval time.Duration) string {
	return t.UTC().Truncate(interval).Format("2006-01-02T15:04")
}

// dispatchCycle 执行一轮全量派发。
func (s *Scheduler) dispatchCycle(ctx context.Context) {
	start := time.Now()
	stamp := CycleStamp(start, s.interval)

	var dispatched, shops int
	lastID := uint(0)
	for {
		var shopIDs []uint
		err := s.db.WithContext(ctx).
			Model(&model.Shop{}).
			Select("id").
			Where("is_enabled = ? AND id > ?", true, lastID).
			Order("id ASC").
			Limit(s.batch).
			Pluck("id", &shopIDs).Error
		if err != nil {
			s.logger.Error("scan shops failed", slog.String("error", err.Error()))
			return
		}
		if len(shopIDs) == 0 {
			break
		}

		for _, shopID := range shopIDs {
			if ctx.Err() != nil {
				return
			}
			dispatched += s.dispatchShop(ctx, shopID, stamp)
			shops++
			lastID = shopID
		}
	}

	s.logger.Info("dispatch cycle done",
		slog.String("cycle", stamp),
		slog.Int("shops", shops),
		slog.Int("dispatched", dispatched),
		slog.Duration("elapsed", time.Since(start)))
}

// dispatchShop 派发单个店铺的商品与广告系列，返回派发数。
func (s *Scheduler) dispatchShop(ctx context.Context, shopID uint, stamp string) int {
	n := s.dispatchProducts(ctx, shopID, stamp)

	// 预算优化未开启的店铺不派发广告系列评估
	var settings model.OptimizationSettings
	err := s.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&settings).Error
	if err != nil || !settings.IsEnabled {
		return n
	}
	return n + s.dispatchCampaigns(ctx, shopID, stamp)
}

func (s *Scheduler) dispatchProducts(ctx context.Context, shopID uint, stamp string) int {
	var n int
	lastID := uint(0)
	for {
		var ids []uint
		err := s.db.WithContext(ctx).
			Model(&model.Product{}).
			Select("id").
			Where("shop_id = ? AND status = ? AND id > ?", shopID, model.ProductActive, lastID).
			Order("id ASC").
			Limit(s.batch).
			Pluck("id", &ids).Error
		if err != nil {
			s.logger.Error("scan products failed",
				slog.Uint64("shop_id", uint64(shopID)),
				slog.String("error", err.Error()))
			return n
		}
		if len(ids) == 0 {
			return n
		}

		for _, id := range ids {
			if s.DispatchEntity(ctx, shopID, taskqueue.EntityProduct, id, stamp) {
				n++
			}
			lastID = id
		}
	}
}

func (s *Scheduler) dispatchCampaigns(ctx context.Context, shopID uint, stamp string) int {
	var n int
	lastID := uint(0)
	for {
		var ids []uint
		err := s.db.WithContext(ctx).
			Model(&model.Campaign{}).
			Select("id").
			Where("shop_id = ? AND status = ? AND id > ?", shopID, model.CampaignActive, lastID).
			Order("id ASC").
			Limit(s.batch).
			Pluck("id", &ids).Error
		if err != nil {
			s.logger.Error("scan campaigns failed",
				slog.Uint64("shop_id", uint64(shopID)),
				slog.String("error", err.Error()))
			return n
		}
		if len(ids) == 0 {
			return n
		}

		for _, id := range ids {
			if s.DispatchEntity(ctx, shopID, taskqueue.EntityCampaign, id, stamp) {
				n++
			}
			lastID = id
		}
	}
}

// DispatchEntity 为单个实体取周期锁并投递评估消息。
//
// 返回是否真正投递：锁已被占（本周期已派发过）时跳过；投递失败则
// 释放锁，让下一轮调度有机会重试。
func (s *Scheduler) DispatchEntity(ctx context.Context, shopID uint, entityType string, entityID uint, stamp string) bool {
	cycleKey := fmt.Sprintf("%s:%s:%d", stamp, entityType, entityID)

	ok, err := s.locker.Acquire(ctx, cycleKey)
	if err != nil {
		s.logger.Error("cycle lock failed",
			slog.String("cycle_key", cycleKey),
			slog.String("error", err.Error()))
		return false
	}
	if !ok {
		metrics.DispatchSkippedTotal.Inc()
		s.logger.Debug("entity already dispatched this cycle",
			slog.String("cycle_key", cycleKey))
		return false
	}

	if entityType == taskqueue.EntityProduct {
		err = s.producer.SubmitProduct(ctx, shopID, entityID, cycleKey, taskqueue.SourcePeriodic)
	} else {
		err = s.producer.SubmitCampaign(ctx, shopID, entityID, cycleKey, taskqueue.SourcePeriodic)
	}
	if err != nil {
		if relErr := s.locker.Release(ctx, cycleKey); relErr != nil {
			s.logger.Error("cycle lock release failed",
				slog.String("cycle_key", cycleKey),
				slog.String("error", relErr.Error()))
		}
		return false
	}
	return true
}

func (s *Scheduler) logQueueDepth(ctx context.Context) {
	depth, err := s.producer.QueueLength(ctx)
	if err != nil {
		s.logger.Warn("queue depth probe failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("eval queue depth", slog.Int64("depth", depth))
}
