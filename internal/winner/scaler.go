// Package winner 负责爆款商品的放量流程。
//
// 一个商品晋升 Winner 后：记录判定快照（每商品一次）、按已配置平台
// 生成放量广告系列（文案走 aigen）、给 Shopify 商品打 WINNER 标签、
// 邮件通知店主。单个平台投放失败只标记该行 failed，不中断其余平台。
package winner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/Kashino17/pod-autom-sub000/internal/adplatform"
	"github.com/Kashino17/pod-autom-sub000/internal/aigen"
	"github.com/Kashino17/pod-autom-sub000/internal/model"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/metrics"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/notify"
	"github.com/Kashino17/pod-autom-sub000/internal/shopify"
)

// ErrAlreadyPromoted 商品已有 Winner 记录。
var ErrAlreadyPromoted = errors.New("product already promoted")

const winnerTag = "WINNER"

// 放量广告的初始日预算。
const defaultScaleBudget = 50.0

// Snapshot 晋升时刻的销量快照。
type Snapshot struct {
	Sales3d       float64
	Sales7d       float64
	Sales10d      float64
	Sales14d      float64
	BucketsPassed int
}

// Scaler 执行放量流程。
type Scaler struct {
	db       *gorm.DB
	registry *adplatform.Registry
	shopify  *shopify.Client
	gen      aigen.Generator
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewScaler 创建放量执行器。notifier 可为 nil（禁用邮件）。
func NewScaler(db *gorm.DB, registry *adplatform.Registry, sc *shopify.Client, gen aigen.Generator, notifier notify.Notifier, logger *slog.Logger) *Scaler {
	return &Scaler{
		db:       db,
		registry: registry,
		shopify:  sc,
		gen:      gen,
		notifier: notifier,
		logger:   logger,
	}
}

// Promote 把商品晋升为 Winner 并触发放量。
//
// 幂等：同一商品第二次调用返回 ErrAlreadyPromoted，不重复投放。
func (s *Scaler) Promote(ctx context.Context, shop *model.Shop, product *model.Product, snap Snapshot) (*model.WinnerProduct, error) {
	var existing model.WinnerProduct
	err := s.db.WithContext(ctx).Where("product_id = ?", product.ID).First(&existing).Error
	if err == nil {
		return nil, ErrAlreadyPromoted
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check winner record: %w", err)
	}

	wp := &model.WinnerProduct{
		ShopID:        shop.ID,
		ProductID:     product.ID,
		Sales3d:       snap.Sales3d,
		Sales7d:       snap.Sales7d,
		Sales10d:      snap.Sales10d,
		Sales14d:      snap.Sales14d,
		BucketsPassed: snap.BucketsPassed,
	}
	if err := s.db.WithContext(ctx).Create(wp).Error; err != nil {
		return nil, fmt.Errorf("create winner record: %w", err)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":    model.ProductWinner,
		"winner_at": &now,
	}
	if err := s.db.WithContext(ctx).Model(product).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update product status: %w", err)
	}

	s.launchCampaigns(ctx, shop, product, wp)

	if err := s.tagProduct(ctx, shop, product); err != nil {
		// 标签失败不回滚放量，记日志由人工补
		s.logger.Error("winner tagging failed",
			slog.Uint64("product_id", uint64(product.ID)),
			slog.String("error", err.Error()))
	}

	if s.notifier != nil {
		if err := s.notifier.SendWinnerAlert(ctx, wp, product, shop.ShopifyDomain, shop.User.Email); err != nil {
			s.logger.Error("winner alert failed",
				slog.Uint64("product_id", uint64(product.ID)),
				slog.String("error", err.Error()))
		}
	}

	metrics.WinnerPromotedTotal.Inc()
	s.logger.Info("product promoted to winner",
		slog.Uint64("shop_id", uint64(shop.ID)),
		slog.Uint64("product_id", uint64(product.ID)),
		slog.Float64("sales_7d", snap.Sales7d))

	return wp, nil
}

// launchCampaigns 在每个已配置平台上创建放量广告系列。
func (s *Scaler) launchCampaigns(ctx context.Context, shop *model.Shop, product *model.Product, wp *model.WinnerProduct) {
	for _, platform := range s.registry.Platforms() {
		row := &model.WinnerCampaign{
			WinnerProductID: wp.ID,
			Platform:        platform,
			CreativeType:    model.CreativeImage,
			LinkType:        "product",
			Status:          model.WinnerCampaignDraft,
		}

		headline, adCopy, err := s.generateCopy(ctx, product, platform)
		if err != nil {
			s.logger.Error("copy generation failed",
				slog.String("platform", string(platform)),
				slog.String("error", err.Error()))
			row.Status = model.WinnerCampaignFailed
			s.saveCampaignRow(ctx, row)
			continue
		}
		row.Headline = headline
		row.AdCopy = adCopy

		client, err := s.registry.Get(platform)
		if err != nil {
			row.Status = model.WinnerCampaignFailed
			s.saveCampaignRow(ctx, row)
			continue
		}

		externalID, err := client.CreateCampaign(ctx, adplatform.CampaignSpec{
			Name:        fmt.Sprintf("[WINNER] %s", product.Title),
			DailyBudget: defaultScaleBudget,
			Headline:    headline,
			AdCopy:      adCopy,
			LinkURL:     fmt.Sprintf("https://%s/products/%s", shop.ShopifyDomain, product.ShopifyID),
		})
		if err != nil {
			s.logger.Error("winner campaign launch failed",
				slog.String("platform", string(platform)),
				slog.Uint64("product_id", uint64(product.ID)),
				slog.String("error", err.Error()))
			row.Status = model.WinnerCampaignFailed
			s.saveCampaignRow(ctx, row)
			continue
		}

		row.ExternalID = externalID
		row.Status = model.WinnerCampaignLaunched
		s.saveCampaignRow(ctx, row)
	}
}

func (s *Scaler) saveCampaignRow(ctx context.Context, row *model.WinnerCampaign) {
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		s.logger.Error("save winner campaign failed",
			slog.String("platform", string(row.Platform)),
			slog.String("error", err.Error()))
	}
}

func (s *Scaler) generateCopy(ctx context.Context, product *model.Product, platform model.Platform) (string, string, error) {
	headline, err := s.gen.Generate(ctx, aigen.Prompt{
		Instruction: fmt.Sprintf("Write a short %s ad headline (max 60 chars) for the product %q.", platform, product.Title),
		Subject:     product.Title,
	})
	if err != nil {
		return "", "", fmt.Errorf("headline: %w", err)
	}

	adCopy, err := s.gen.Generate(ctx, aigen.Prompt{
		Instruction: fmt.Sprintf("Write %s ad copy (2 sentences) for the product %q.", platform, product.Title),
		Subject:     product.Title,
	})
	if err != nil {
		return "", "", fmt.Errorf("ad copy: %w", err)
	}
	return headline, adCopy, nil
}

func (s *Scaler) tagProduct(ctx context.Context, shop *model.Shop, product *model.Product) error {
	if s.shopify == nil {
		return nil
	}
	shopifyID, err := strconv.ParseInt(product.ShopifyID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse shopify id %q: %w", product.ShopifyID, err)
	}
	return s.shopify.AddTags(ctx, shopify.Credentials{
		Domain: shop.ShopifyDomain,
		Token:  shop.ShopifyToken,
	}, shopifyID, winnerTag)
}
