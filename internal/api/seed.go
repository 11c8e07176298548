package api

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Kashino17/pod-autom-sub000/internal/model"
)

// SeedDemoData 初始化只读演示账号与示例店铺。
//
// 演示店铺未启用调度（IsEnabled=false），只用于浏览配置、预演与日志界面；
// 重复调用保持幂等。
func (s *Server) SeedDemoData(ctx context.Context) error {
	const demoEmail = "demo@podautom.app"
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", demoEmail).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte("guest-demo"), bcrypt.DefaultCost)
		if hashErr != nil {
			return hashErr
		}
		user = model.User{
			Email:      demoEmail,
			Password:   string(hash),
			Role:       "guest",
			IsVerified: true,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return err
		}
	}

	var shop model.Shop
	err = s.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&shop).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		shop = model.Shop{
			UserID:        user.ID,
			Name:          "Demo Store",
			ShopifyDomain: "pod-autom-demo.myshopify.com",
			ShopifyToken:  "demo-token",
			IsEnabled:     false,
		}
		if err := s.db.WithContext(ctx).Create(&shop).Error; err != nil {
			return err
		}
	}

	if err := s.seedDemoProduct(ctx, shop.ID); err != nil {
		return err
	}
	return s.seedDemoCampaign(ctx, shop.ID)
}

func (s *Server) seedDemoProduct(ctx context.Context, shopID uint) error {
	var product model.Product
	err := s.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&product).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil {
		return nil
	}

	product = model.Product{
		ShopID:    shopID,
		ShopifyID: "9000000000001",
		Title:     "Sunset Palms Graphic Tee",
		Phase:     model.PhasePost,
		Status:    model.ProductActive,
	}
	if err := s.db.WithContext(ctx).Create(&product).Error; err != nil {
		return err
	}

	snap := model.ProductSnapshot{
		ProductID:  product.ID,
		Sales3d:    3,
		Sales7d:    5,
		Sales10d:   6,
		Sales14d:   8,
		CapturedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(&snap).Error
}

func (s *Server) seedDemoCampaign(ctx context.Context, shopID uint) error {
	var campaign model.Campaign
	err := s.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&campaign).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil {
		return nil
	}

	campaign = model.Campaign{
		ShopID:      shopID,
		Platform:    model.PlatformPinterest,
		ExternalID:  "demo-campaign-1",
		Name:        "Demo Prospecting",
		DailyBudget: 25,
		Status:      model.CampaignActive,
	}
	if err := s.db.WithContext(ctx).Create(&campaign).Error; err != nil {
		return err
	}

	rule := model.OptimizationRule{
		ShopID:      shopID,
		Name:        "Cut spend without checkouts",
		IsEnabled:   true,
		Priority:    10,
		ActionType:  model.ActionScaleDown,
		ActionValue: 20,
		ActionUnit:  model.UnitPercent,
		MinBudget:   5,
		MaxBudget:   100,
		Conditions: []model.RuleCondition{
			{Position: 0, Metric: model.MetricSpend, Operator: model.OpGTE, Value: 50, TimeRangeDays: 7, Connective: model.ConnectiveAnd},
			{Position: 1, Metric: model.MetricCheckouts, Operator: model.OpLT, Value: 2, TimeRangeDays: 7},
		},
	}
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return err
	}

	settings := model.OptimizationSettings{
		ShopID:          shopID,
		IsEnabled:       false,
		TestModeEnabled: true,
		TestCampaignID:  &campaign.ID,
		TestSpend:       80,
		TestCheckouts:   1,
		TestROAS:        0.8,
	}
	return s.db.WithContext(ctx).Save(&settings).Error
}
