// Package evaluator 是 worker 侧的评估服务。
//
// 消费评估队列的消息，执行生命周期判定或预算评估，落实副作用
// （Shopify 下架、平台改预算、放量），并写入审计日志。评估结果一旦
// 写入审计日志即为该周期的终局，重复投递直接确认；只有写日志之前的
// 失败才交回队列重试或进入死信。
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Kashino17/pod-autom-sub000/internal/adplatform"
	"github.com/Kashino17/pod-autom-sub000/internal/lifecycle"
	"github.com/Kashino17/pod-autom-sub000/internal/model"
	"github.com/Kashino17/pod-autom-sub000/internal/optimizer"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/metrics"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/taskqueue"
	"github.com/Kashino17/pod-autom-sub000/internal/shopify"
	"github.com/Kashino17/pod-autom-sub000/internal/winner"
)

const loserTag = "LOSER"

// Service 评估服务。
type Service struct {
	db       *gorm.DB
	registry *adplatform.Registry
	shopify  *shopify.Client
	scaler   *winner.Scaler
	logger   *slog.Logger
}

// NewService 创建评估服务。
func NewService(db *gorm.DB, registry *adplatform.Registry, sc *shopify.Client, scaler *winner.Scaler, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		registry: registry,
		shopify:  sc,
		scaler:   scaler,
		logger:   logger,
	}
}

// HandleMessage 处理一条评估消息。
//
// 同一 CycleKey 已有审计日志时直接确认，保证重试投递不会重复执行
// 副作用，也不会产生第二条日志。
func (s *Service) HandleMessage(ctx context.Context, msg *taskqueue.EvalMessage) error {
	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.WithLabelValues(msg.EntityType).Observe(time.Since(start).Seconds())
	}()

	done, err := s.cycleDone(ctx, msg.CycleKey)
	if err != nil {
		return err
	}
	if done {
		s.logger.Debug("cycle already evaluated",
			slog.String("cycle_key", msg.CycleKey))
		return nil
	}

	switch msg.EntityType {
	case taskqueue.EntityProduct:
		return s.evaluateProduct(ctx, msg)
	case taskqueue.EntityCampaign:
		return s.evaluateCampaign(ctx, msg)
	default:
		return fmt.Errorf("unknown entity type %q", msg.EntityType)
	}
}

// evaluateProduct 对单个商品执行一次生命周期判定。
func (s *Service) evaluateProduct(ctx context.Context, msg *taskqueue.EvalMessage) error {
	var product model.Product
	if err := s.db.WithContext(ctx).First(&product, msg.EntityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("product vanished before evaluation",
				slog.Uint64("product_id", uint64(msg.EntityID)))
			return nil
		}
		return fmt.Errorf("load product %d: %w", msg.EntityID, err)
	}

	// 已淘汰或已晋升的商品不再评估
	if product.Status != model.ProductActive {
		return nil
	}

	var shop model.Shop
	if err := s.db.WithContext(ctx).Preload("User").First(&shop, product.ShopID).Error; err != nil {
		return fmt.Errorf("load shop %d: %w", product.ShopID, err)
	}

	cfg, err := s.lifecycleConfig(ctx, shop.ID)
	if err != nil {
		return err
	}

	var (
		action      model.LogAction
		evalErr     error
		metricsSnap optimizer.MetricsSnapshot
		sideEffects bool
	)

	snap, err := s.latestSnapshot(ctx, product.ID)
	if err != nil {
		action, evalErr = model.LogFailed, err
	} else {
		metricsSnap = optimizer.MetricsSnapshot{
			"sales_3d":  snap.Sales3d,
			"sales_7d":  snap.Sales7d,
			"sales_10d": snap.Sales10d,
			"sales_14d": snap.Sales14d,
		}

		// 判定分支可能触碰 Shopify 与商品行，此后不能再交回队列重试
		sideEffects = true
		switch product.Phase {
		case model.PhasePost:
			action, evalErr = s.applyPostVerdict(ctx, &shop, &product, snap, cfg)
		default:
			action, evalErr = s.applyStartVerdict(ctx, &shop, &product, snap, cfg)
		}
	}

	entry := optimizer.BuildLifecycleLogEntry(shop.ID, product.ID, action, metricsSnap, msg.CycleKey, evalErr)
	if err := s.appendLog(ctx, entry); err != nil {
		if sideEffects {
			s.logger.Error("lifecycle log write failed after side effects",
				slog.Uint64("product_id", uint64(product.ID)),
				slog.String("error", err.Error()))
			return nil
		}
		return err
	}

	metrics.EvaluationTotal.WithLabelValues(taskqueue.EntityProduct, string(action)).Inc()

	if evalErr != nil {
		s.logger.Warn("product evaluation recorded failure",
			slog.Uint64("shop_id", uint64(shop.ID)),
			slog.Uint64("product_id", uint64(product.ID)),
			slog.String("error", evalErr.Error()))
		return nil
	}

	s.logger.Info("product evaluated",
		slog.Uint64("shop_id", uint64(shop.ID)),
		slog.Uint64("product_id", uint64(product.ID)),
		slog.String("phase", string(product.Phase)),
		slog.String("action", string(action)))
	return nil
}

func (s *Service) applyStartVerdict(ctx context.Context, shop *model.Shop, product *model.Product, snap *model.ProductSnapshot, cfg *model.LifecycleConfig) (model.LogAction, error) {
	verdict := lifecycle.ClassifyStartPhase(snap.Sales7d, lifecycle.StartConfigFrom(cfg))

	switch verdict {
	case lifecycle.VerdictReplace:
		if err := s.archiveProduct(ctx, shop, product); err != nil {
			return model.LogFailed, err
		}
		return model.LogReplaced, nil

	case lifecycle.VerdictKeep:
		if err := s.db.WithContext(ctx).Model(product).Update("phase", model.PhasePost).Error; err != nil {
			return model.LogFailed, fmt.Errorf("advance phase: %w", err)
		}
		return model.LogAdvanced, nil

	case lifecycle.VerdictWinner:
		if err := s.promote(ctx, shop, product, snap, 0); err != nil {
			return model.LogFailed, err
		}
		return model.LogWinner, nil

	default:
		return model.LogHold, nil
	}
}

func (s *Service) applyPostVerdict(ctx context.Context, shop *model.Shop, product *model.Product, snap *model.ProductSnapshot, cfg *model.LifecycleConfig) (model.LogAction, error) {
	res := lifecycle.ClassifyPostPhase(lifecycle.SnapshotFrom(snap), lifecycle.PostConfigFrom(cfg))

	if res.Verdict == lifecycle.PostArchive {
		if err := s.archiveProduct(ctx, shop, product); err != nil {
			return model.LogFailed, err
		}
		return model.LogArchived, nil
	}

	// 四个窗口全达标且近 7 天销量到爆款线的商品直接晋升
	if res.SuccessCount == 4 && snap.Sales7d >= cfg.WinnerThreshold {
		if err := s.promote(ctx, shop, product, snap, res.SuccessCount); err != nil {
			return model.LogFailed, err
		}
		return model.LogWinner, nil
	}

	return model.LogKept, nil
}

func (s *Service) promote(ctx context.Context, shop *model.Shop, product *model.Product, snap *model.ProductSnapshot, bucketsPassed int) error {
	if s.scaler == nil {
		return fmt.Errorf("winner scaler not configured")
	}
	_, err := s.scaler.Promote(ctx, shop, product, winner.Snapshot{
		Sales3d:       snap.Sales3d,
		Sales7d:       snap.Sales7d,
		Sales10d:      snap.Sales10d,
		Sales14d:      snap.Sales14d,
		BucketsPassed: bucketsPassed,
	})
	if errors.Is(err, winner.ErrAlreadyPromoted) {
		return nil
	}
	return err
}

// archiveProduct 执行淘汰：Shopify 库存清零 + LOSER 标签，再落库。
func (s *Service) archiveProduct(ctx context.Context, shop *model.Shop, product *model.Product) error {
	if s.shopify != nil {
		shopifyID, err := strconv.ParseInt(product.ShopifyID, 10, 64)
		if err != nil {
			return fmt.Errorf("parse shopify id %q: %w", product.ShopifyID, err)
		}
		creds := shopify.Credentials{Domain: shop.ShopifyDomain, Token: shop.ShopifyToken}
		if err := s.shopify.SetInventoryZero(ctx, creds, shopifyID); err != nil {
			return fmt.Errorf("zero inventory: %w", err)
		}
		if err := s.shopify.AddTags(ctx, creds, shopifyID, loserTag); err != nil {
			return fmt.Errorf("tag loser: %w", err)
		}
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":      model.ProductArchived,
		"archived_at": &now,
	}
	if err := s.db.WithContext(ctx).Model(product).Updates(updates).Error; err != nil {
		return fmt.Errorf("archive product: %w", err)
	}
	return nil
}

// evaluateCampaign 对单个广告系列执行一次预算评估。
func (s *Service) evaluateCampaign(ctx context.Context, msg *taskqueue.EvalMessage) error {
	var campaign model.Campaign
	if err := s.db.WithContext(ctx).First(&campaign, msg.EntityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("campaign vanished before evaluation",
				slog.Uint64("campaign_id", uint64(msg.EntityID)))
			return nil
		}
		return fmt.Errorf("load campaign %d: %w", msg.EntityID, err)
	}

	settings, err := s.optimizationSettings(ctx, campaign.ShopID)
	if err != nil {
		return err
	}
	if settings == nil || !settings.IsEnabled {
		return nil
	}

	rules, err := s.loadRules(ctx, campaign.ShopID)
	if err != nil {
		return err
	}

	client, err := s.registry.Get(campaign.Platform)
	if err != nil {
		return fmt.Errorf("campaign %d: %w", campaign.ID, err)
	}

	live := adplatform.NewCampaignSource(ctx, client, campaign.ExternalID)
	src := optimizer.SourceFor(settings, campaign.ID, live)

	dec := optimizer.Evaluate(rules, src, optimizer.BudgetState{
		Current: campaign.DailyBudget,
		Status:  campaign.Status,
	})

	// 测试模式只记录决策，不触碰平台与预算
	applied := false
	if !dec.IsTestRun {
		switch dec.Action {
		case model.LogScaledUp, model.LogScaledDown, model.LogPaused:
			applied = true
			if err := s.applyDecision(ctx, client, &campaign, dec); err != nil {
				dec.Action = model.LogFailed
				dec.Err = err
			}
		}
	}

	campaignID := campaign.ID
	entry := optimizer.BuildLogEntry(campaign.ShopID, &campaignID, dec, msg.CycleKey)
	if err := s.appendLog(ctx, entry); err != nil {
		if applied {
			// 平台预算可能已经改过，重试会在新预算上二次缩放
			s.logger.Error("optimization log write failed after applying decision",
				slog.Uint64("campaign_id", uint64(campaign.ID)),
				slog.String("error", err.Error()))
			return nil
		}
		return err
	}

	metrics.EvaluationTotal.WithLabelValues(taskqueue.EntityCampaign, string(dec.Action)).Inc()
	if dec.Rule != nil && dec.Err == nil {
		metrics.RuleFiredTotal.WithLabelValues(string(dec.Rule.ActionType)).Inc()
	}

	s.logger.Info("campaign evaluated",
		slog.Uint64("shop_id", uint64(campaign.ShopID)),
		slog.Uint64("campaign_id", uint64(campaign.ID)),
		slog.String("action", string(dec.Action)),
		slog.Bool("test_run", dec.IsTestRun))

	if dec.Err != nil {
		s.logger.Warn("campaign evaluation recorded failure",
			slog.Uint64("campaign_id", uint64(campaign.ID)),
			slog.String("error", dec.Err.Error()))
	}
	return nil
}

// applyDecision 把评估决策写回平台与数据库。
func (s *Service) applyDecision(ctx context.Context, client adplatform.Client, campaign *model.Campaign, dec optimizer.Decision) error {
	switch dec.Action {
	case model.LogScaledUp, model.LogScaledDown:
		if dec.NewBudget == dec.OldBudget {
			return nil
		}
		if err := client.UpdateBudget(ctx, campaign.ExternalID, dec.NewBudget); err != nil {
			return fmt.Errorf("platform budget update: %w", err)
		}
		if err := s.db.WithContext(ctx).Model(campaign).Update("daily_budget", dec.NewBudget).Error; err != nil {
			return fmt.Errorf("persist budget: %w", err)
		}

	case model.LogPaused:
		if err := client.UpdateStatus(ctx, campaign.ExternalID, model.CampaignPaused); err != nil {
			return fmt.Errorf("platform status update: %w", err)
		}
		if err := s.db.WithContext(ctx).Model(campaign).Update("status", model.CampaignPaused).Error; err != nil {
			return fmt.Errorf("persist status: %w", err)
		}
	}
	return nil
}

func (s *Service) lifecycleConfig(ctx context.Context, shopID uint) (*model.LifecycleConfig, error) {
	var cfg model.LifecycleConfig
	err := s.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// 未配置时使用默认阈值
		return model.DefaultLifecycleConfig(shopID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load lifecycle config: %w", err)
	}
	return &cfg, nil
}

func (s *Service) optimizationSettings(ctx context.Context, shopID uint) (*model.OptimizationSettings, error) {
	var settings model.OptimizationSettings
	err := s.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load optimization settings: %w", err)
	}
	return &settings, nil
}

func (s *Service) loadRules(ctx context.Context, shopID uint) ([]model.OptimizationRule, error) {
	var rules []model.OptimizationRule
	err := s.db.WithContext(ctx).
		Preload("Conditions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("shop_id = ?", shopID).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return rules, nil
}

func (s *Service) latestSnapshot(ctx context.Context, productID uint) (*model.ProductSnapshot, error) {
	var snap model.ProductSnapshot
	err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("captured_at desc").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no sales snapshot for product %d", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &snap, nil
}

// cycleDone 判断该 (实体, 周期) 是否已有审计日志。
func (s *Service) cycleDone(ctx context.Context, cycleKey string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.OptimizationLog{}).
		Where("cycle_key = ?", cycleKey).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check cycle log: %w", err)
	}
	return n > 0, nil
}

// appendLog 写入一条审计日志。
//
// cycle_key 上有唯一索引，与消费侧检查并发竞争时的重复写入会被
// ON CONFLICT 吞掉，不算错误。
func (s *Service) appendLog(ctx context.Context, entry *model.OptimizationLog) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cycle_key"}},
			DoNothing: true,
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("write optimization log: %w", err)
	}
	return nil
}
