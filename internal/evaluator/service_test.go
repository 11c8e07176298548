package evaluator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Kashino17/pod-autom-sub000/internal/adplatform"
	"github.com/Kashino17/pod-autom-sub000/internal/model"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/taskqueue"
)

// fakePlatform 是记录调用的广告平台客户端。
type fakePlatform struct {
	metrics     map[string]float64 // "spend_7d" 形式
	fetchErr    error
	budgetCalls int
	lastBudget  float64
	statusCalls int
}

func (f *fakePlatform) Platform() model.Platform { return model.PlatformPinterest }

func (f *fakePlatform) FetchMetric(_ context.Context, _ string, metric model.Metric, days int) (float64, error) {
	if f.fetchErr != nil {
		return 0, f.fetchErr
	}
	return f.metrics[fmt.Sprintf("%s_%dd", metric, days)], nil
}

func (f *fakePlatform) UpdateBudget(_ context.Context, _ string, budget float64) error {
	f.budgetCalls++
	f.lastBudget = budget
	return nil
}

func (f *fakePlatform) UpdateStatus(_ context.Context, _ string, _ model.CampaignStatus) error {
	f.statusCalls++
	return nil
}

func (f *fakePlatform) CreateCampaign(_ context.Context, _ adplatform.CampaignSpec) (string, error) {
	return "ext-scale-1", nil
}

func newTestService(t *testing.T, platform *fakePlatform) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "eval.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&model.User{}, &model.Shop{}, &model.Product{}, &model.ProductSnapshot{},
		&model.LifecycleConfig{}, &model.Campaign{}, &model.OptimizationRule{},
		&model.RuleCondition{}, &model.OptimizationSettings{}, &model.OptimizationLog{},
		&model.WinnerProduct{}, &model.WinnerCampaign{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(db, adplatform.NewRegistry(platform), nil, nil, logger), db
}

func seedShop(t *testing.T, db *gorm.DB) *model.Shop {
	t.Helper()
	user := model.User{Email: "owner@example.com", Password: "x", Role: "admin", IsVerified: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	shop := model.Shop{
		UserID:        user.ID,
		Name:          "Test Shop",
		ShopifyDomain: "test.myshopify.com",
		ShopifyToken:  "tok",
		IsEnabled:     true,
	}
	if err := db.Create(&shop).Error; err != nil {
		t.Fatalf("seed shop: %v", err)
	}
	return &shop
}

// seedManagedCampaign 建一个被缩放规则覆盖的广告系列：
// spend_7d >= 100 时预算砍半，预算区间 [5, 500]。
func seedManagedCampaign(t *testing.T, db *gorm.DB, shopID uint) *model.Campaign {
	t.Helper()
	campaign := model.Campaign{
		ShopID:      shopID,
		Platform:    model.PlatformPinterest,
		ExternalID:  "ext-1",
		Name:        "Prospecting",
		DailyBudget: 40,
		Status:      model.CampaignActive,
	}
	if err := db.Create(&campaign).Error; err != nil {
		t.Fatalf("seed campaign: %v", err)
	}

	settings := model.OptimizationSettings{ShopID: shopID, IsEnabled: true}
	if err := db.Create(&settings).Error; err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	rule := model.OptimizationRule{
		ShopID:      shopID,
		Name:        "halve heavy spenders",
		IsEnabled:   true,
		Priority:    10,
		ActionType:  model.ActionScaleDown,
		ActionValue: 50,
		ActionUnit:  model.UnitPercent,
		MinBudget:   5,
		MaxBudget:   500,
		Conditions: []model.RuleCondition{
			{Position: 0, Metric: model.MetricSpend, Operator: model.OpGTE, Value: 100, TimeRangeDays: 7},
		},
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return &campaign
}

func countLogs(t *testing.T, db *gorm.DB, cycleKey string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&model.OptimizationLog{}).Where("cycle_key = ?", cycleKey).Count(&n).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return n
}

func TestHandleMessage_RedeliverySkipsEvaluatedCycle(t *testing.T) {
	platform := &fakePlatform{metrics: map[string]float64{"spend_7d": 150}}
	svc, db := newTestService(t, platform)
	shop := seedShop(t, db)
	campaign := seedManagedCampaign(t, db, shop.ID)

	msg := taskqueue.NewCampaignMessage(shop.ID, campaign.ID, "2026-08-25T00:00:campaign:1", taskqueue.SourcePeriodic)
	if err := svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	if platform.budgetCalls != 1 || platform.lastBudget != 20 {
		t.Fatalf("budget calls = %d, last = %v, want 1 call at 20", platform.budgetCalls, platform.lastBudget)
	}
	if n := countLogs(t, db, msg.CycleKey); n != 1 {
		t.Fatalf("log rows = %d, want 1", n)
	}

	// 重试投递同一周期：不再缩放，不再写日志
	msg.Retry = 1
	if err := svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if platform.budgetCalls != 1 {
		t.Errorf("budget calls after redelivery = %d, want 1", platform.budgetCalls)
	}
	if n := countLogs(t, db, msg.CycleKey); n != 1 {
		t.Errorf("log rows after redelivery = %d, want 1", n)
	}

	var reloaded model.Campaign
	if err := db.First(&reloaded, campaign.ID).Error; err != nil {
		t.Fatalf("reload campaign: %v", err)
	}
	if reloaded.DailyBudget != 20 {
		t.Errorf("daily budget = %v, want 20", reloaded.DailyBudget)
	}
}

func TestHandleMessage_NewCycleEvaluatesAgain(t *testing.T) {
	platform := &fakePlatform{metrics: map[string]float64{"spend_7d": 150}}
	svc, db := newTestService(t, platform)
	shop := seedShop(t, db)
	campaign := seedManagedCampaign(t, db, shop.ID)

	first := taskqueue.NewCampaignMessage(shop.ID, campaign.ID, "2026-08-25T00:00:campaign:1", taskqueue.SourcePeriodic)
	if err := svc.HandleMessage(context.Background(), first); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	second := taskqueue.NewCampaignMessage(shop.ID, campaign.ID, "2026-08-26T00:00:campaign:1", taskqueue.SourcePeriodic)
	if err := svc.HandleMessage(context.Background(), second); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	// 第二个周期在新预算 20 上再砍半
	if platform.budgetCalls != 2 || platform.lastBudget != 10 {
		t.Errorf("budget calls = %d, last = %v, want 2 calls ending at 10", platform.budgetCalls, platform.lastBudget)
	}
	if n := countLogs(t, db, first.CycleKey); n != 1 {
		t.Errorf("first cycle rows = %d, want 1", n)
	}
	if n := countLogs(t, db, second.CycleKey); n != 1 {
		t.Errorf("second cycle rows = %d, want 1", n)
	}
}

func TestHandleMessage_MetricFailureWritesSingleFailedRow(t *testing.T) {
	platform := &fakePlatform{fetchErr: errors.New("pinterest: 500")}
	svc, db := newTestService(t, platform)
	shop := seedShop(t, db)
	campaign := seedManagedCampaign(t, db, shop.ID)

	msg := taskqueue.NewCampaignMessage(shop.ID, campaign.ID, "2026-08-25T00:00:campaign:1", taskqueue.SourcePeriodic)

	// 失败结果一旦入账即为终局，消息直接确认
	if err := svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	var rows []model.OptimizationLog
	if err := db.Where("cycle_key = ?", msg.CycleKey).Find(&rows).Error; err != nil {
		t.Fatalf("load logs: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("log rows = %d, want 1", len(rows))
	}
	if rows[0].Action != model.LogFailed || rows[0].ErrorMessage == "" {
		t.Errorf("row = %+v, want failed with error message", rows[0])
	}
	if platform.budgetCalls != 0 {
		t.Errorf("budget calls = %d, want 0", platform.budgetCalls)
	}
}

func TestHandleMessage_ProductReplaceOncePerCycle(t *testing.T) {
	platform := &fakePlatform{}
	svc, db := newTestService(t, platform)
	shop := seedShop(t, db)

	product := model.Product{
		ShopID:    shop.ID,
		ShopifyID: "9000000000001",
		Title:     "Faded Tee",
		Phase:     model.PhaseStart,
		Status:    model.ProductActive,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	snap := model.ProductSnapshot{ProductID: product.ID, Sales7d: 0, CapturedAt: time.Now()}
	if err := db.Create(&snap).Error; err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	msg := taskqueue.NewProductMessage(shop.ID, product.ID, "2026-08-25T00:00:product:1", taskqueue.SourcePeriodic)
	if err := svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	var rows []model.OptimizationLog
	if err := db.Where("cycle_key = ?", msg.CycleKey).Find(&rows).Error; err != nil {
		t.Fatalf("load logs: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("log rows = %d, want 1", len(rows))
	}
	if rows[0].Action != model.LogReplaced {
		t.Errorf("action = %s, want replaced", rows[0].Action)
	}

	var reloaded model.Product
	if err := db.First(&reloaded, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if reloaded.Status != model.ProductArchived {
		t.Errorf("status = %s, want archived", reloaded.Status)
	}
}
