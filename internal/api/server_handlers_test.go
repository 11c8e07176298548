package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Kashino17/pod-autom-sub000/internal/config"
	"github.com/Kashino17/pod-autom-sub000/internal/model"
)

type mockShopStore struct {
	shop      *model.Shop
	count     int64
	created   *model.Shop
	createErr error
}

func (m *mockShopStore) OwnedShop(_ context.Context, userID, shopID uint) (*model.Shop, error) {
	if m.shop != nil && m.shop.ID == shopID && m.shop.UserID == userID {
		return m.shop, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockShopStore) CountShops(_ context.Context, _ uint) (int64, error) {
	return m.count, nil
}

func (m *mockShopStore) CreateShop(_ context.Context, shop *model.Shop) error {
	if m.createErr != nil {
		return m.createErr
	}
	shop.ID = 99
	m.created = shop
	return nil
}

type mockRuleStore struct {
	count   int64
	created *model.OptimizationRule
	enabled []model.OptimizationRule
}

func (m *mockRuleStore) CountRules(_ context.Context, _ uint) (int64, error) {
	return m.count, nil
}

func (m *mockRuleStore) CreateRule(_ context.Context, rule *model.OptimizationRule) error {
	rule.ID = 7
	m.created = rule
	return nil
}

func (m *mockRuleStore) ListEnabledRules(_ context.Context, _ uint) ([]model.OptimizationRule, error) {
	return m.enabled, nil
}

type mockLifecycleStore struct {
	cfg   *model.LifecycleConfig
	saved *model.LifecycleConfig
}

func (m *mockLifecycleStore) GetConfig(_ context.Context, _ uint) (*model.LifecycleConfig, error) {
	if m.cfg == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return m.cfg, nil
}

func (m *mockLifecycleStore) SaveConfig(_ context.Context, cfg *model.LifecycleConfig) error {
	m.saved = cfg
	return nil
}

func newTestServer(shops ShopStore, rules RuleStore, lc LifecycleStore) *Server {
	gin.SetMode(gin.TestMode)
	return &Server{
		cfg: &config.Config{App: config.AppConfig{
			MaxShopsPerUser: 3,
			MaxRulesPerShop: 5,
		}},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		shops:     shops,
		rules:     rules,
		lifecycle: lc,
	}
}

// perform 以指定身份执行单个 handler。
func perform(handler gin.HandlerFunc, method, path string, body interface{}, role string, params ...gin.Param) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reqBody io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reqBody = bytes.NewReader(data)
	}
	c.Request = httptest.NewRequest(method, path, reqBody)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params
	c.Set("userID", uint(1))
	c.Set("role", role)

	handler(c)
	return w
}

func demoShop() *model.Shop {
	return &model.Shop{ID: 5, UserID: 1, Name: "Shop", ShopifyDomain: "s.myshopify.com"}
}

func shopParam() gin.Param {
	return gin.Param{Key: "id", Value: "5"}
}

func TestCreateRule_Valid(t *testing.T) {
	rules := &mockRuleStore{}
	s := newTestServer(&mockShopStore{shop: demoShop()}, rules, &mockLifecycleStore{})

	body := ruleRequest{
		Name:        "cut dead spend",
		Priority:    10,
		ActionType:  "scale_down",
		ActionValue: 20,
		MinBudget:   5,
		MaxBudget:   500,
		Conditions: []conditionRequest{
			{Metric: "spend", Operator: "gte", Value: 100, Connective: "and"},
			{Metric: "checkouts", Operator: "lt", Value: 2},
		},
	}
	w := perform(s.handleCreateRule, http.MethodPost, "/shops/5/rules", body, "admin", shopParam())
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	created := rules.created
	if created == nil {
		t.Fatal("rule not persisted")
	}
	if created.ShopID != 5 || created.ActionType != model.ActionScaleDown {
		t.Errorf("rule = %+v", created)
	}
	if created.MinBudget != 5 || created.MaxBudget != 500 {
		t.Errorf("budget bounds = [%v, %v]", created.MinBudget, created.MaxBudget)
	}
	if created.ActionUnit != model.UnitPercent {
		t.Errorf("default unit = %s", created.ActionUnit)
	}
	if len(created.Conditions) != 2 {
		t.Fatalf("conditions = %d", len(created.Conditions))
	}
	if created.Conditions[0].Position != 0 || created.Conditions[1].Position != 1 {
		t.Error("positions must follow request order")
	}
	if created.Conditions[0].TimeRangeDays != 7 {
		t.Errorf("default time range = %d", created.Conditions[0].TimeRangeDays)
	}
}

func TestCreateRule_InvalidMetric(t *testing.T) {
	s := newTestServer(&mockShopStore{shop: demoShop()}, &mockRuleStore{}, &mockLifecycleStore{})

	body := ruleRequest{
		Name:        "bad",
		ActionType:  "scale_up",
		ActionValue: 10,
		Conditions:  []conditionRequest{{Metric: "clicks", Operator: "gte", Value: 1}},
	}
	w := perform(s.handleCreateRule, http.MethodPost, "/shops/5/rules", body, "admin", shopParam())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateRule_InvalidBudgetBounds(t *testing.T) {
	s := newTestServer(&mockShopStore{shop: demoShop()}, &mockRuleStore{}, &mockLifecycleStore{})

	cases := []struct {
		name string
		min  float64
		max  float64
	}{
		{"missing max for scale action", 5, 0},
		{"max below min", 50, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := ruleRequest{
				Name:        "bad bounds",
				ActionType:  "scale_down",
				ActionValue: 20,
				MinBudget:   tc.min,
				MaxBudget:   tc.max,
				Conditions:  []conditionRequest{{Metric: "spend", Operator: "gte", Value: 50}},
			}
			w := perform(s.handleCreateRule, http.MethodPost, "/shops/5/rules", body, "admin", shopParam())
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCreateRule_PauseIgnoresBudgetBounds(t *testing.T) {
	rules := &mockRuleStore{}
	s := newTestServer(&mockShopStore{shop: demoShop()}, rules, &mockLifecycleStore{})

	body := ruleRequest{
		Name:       "pause bleeders",
		ActionType: "pause",
		Conditions: []conditionRequest{{Metric: "roas", Operator: "lt", Value: 1}},
	}
	w := perform(s.handleCreateRule, http.MethodPost, "/shops/5/rules", body, "admin", shopParam())
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestCreateRule_LimitReached(t *testing.T) {
	s := newTestServer(&mockShopStore{shop: demoShop()}, &mockRuleStore{count: 5}, &mockLifecycleStore{})

	body := ruleRequest{
		Name:        "one too many",
		ActionType:  "pause",
		Conditions:  []conditionRequest{{Metric: "roas", Operator: "lt", Value: 1}},
	}
	w := perform(s.handleCreateRule, http.MethodPost, "/shops/5/rules", body, "admin", shopParam())
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateRule_GuestForbidden(t *testing.T) {
	s := newTestServer(&mockShopStore{shop: demoShop()}, &mockRuleStore{}, &mockLifecycleStore{})

	body := ruleRequest{
		Name:       "guest write",
		ActionType: "pause",
		Conditions: []conditionRequest{{Metric: "spend", Operator: "gte", Value: 1}},
	}
	w := perform(s.handleCreateRule, http.MethodPost, "/shops/5/rules", body, "guest", shopParam())
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateShop_InvalidDomain(t *testing.T) {
	s := newTestServer(&mockShopStore{}, &mockRuleStore{}, &mockLifecycleStore{})

	body := createShopRequest{Name: "x", ShopifyDomain: "example.com", ShopifyToken: "t"}
	w := perform(s.handleCreateShop, http.MethodPost, "/shops", body, "admin")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateShop_LimitReached(t *testing.T) {
	s := newTestServer(&mockShopStore{count: 3}, &mockRuleStore{}, &mockLifecycleStore{})

	body := createShopRequest{Name: "x", ShopifyDomain: "x.myshopify.com", ShopifyToken: "t"}
	w := perform(s.handleCreateShop, http.MethodPost, "/shops", body, "admin")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPutLifecycle_RejectsInvertedThresholds(t *testing.T) {
	lc := &mockLifecycleStore{}
	s := newTestServer(&mockShopStore{shop: demoShop()}, &mockRuleStore{}, lc)

	body := lifecycleConfigPayload{
		DeleteThreshold: 5,
		KeepThreshold:   4,
		WinnerThreshold: 10,
		MinBuckets:      2,
	}
	w := perform(s.handlePutLifecycle, http.MethodPut, "/shops/5/lifecycle", body, "admin", shopParam())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if lc.saved != nil {
		t.Error("invalid config must not be saved")
	}
}

func TestPutLifecycle_Valid(t *testing.T) {
	lc := &mockLifecycleStore{}
	s := newTestServer(&mockShopStore{shop: demoShop()}, &mockRuleStore{}, lc)

	body := lifecycleConfigPayload{
		DeleteThreshold: 1,
		KeepThreshold:   4,
		WinnerThreshold: 4,
		Day3Target:      2,
		Day7Target:      3,
		Day10Target:     4.5,
		Day14Target:     6,
		MinBuckets:      2,
	}
	w := perform(s.handlePutLifecycle, http.MethodPut, "/shops/5/lifecycle", body, "admin", shopParam())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if lc.saved == nil || lc.saved.ShopID != 5 || lc.saved.WinnerThreshold != 4 {
		t.Errorf("saved = %+v", lc.saved)
	}
}

func TestPreviewLifecycle_StartPhase(t *testing.T) {
	lc := &mockLifecycleStore{cfg: model.DefaultLifecycleConfig(5)}
	s := newTestServer(&mockShopStore{shop: demoShop()}, &mockRuleStore{}, lc)

	body := previewLifecycleRequest{Phase: "start", Sales7d: 12}
	w := perform(s.handlePreviewLifecycle, http.MethodPost, "/shops/5/preview/lifecycle", body, "guest", shopParam())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["verdict"] != "winner" {
		t.Errorf("verdict = %v", resp["verdict"])
	}
}

func TestPreviewLifecycle_PostPhase(t *testing.T) {
	lc := &mockLifecycleStore{cfg: model.DefaultLifecycleConfig(5)}
	s := newTestServer(&mockShopStore{shop: demoShop()}, &mockRuleStore{}, lc)

	// day3/day7 达标，day10/day14 不达标，minBuckets=2 => keep
	body := previewLifecycleRequest{Phase: "post", Sales3d: 2, Sales7d: 3, Sales10d: 4, Sales14d: 5}
	w := perform(s.handlePreviewLifecycle, http.MethodPost, "/shops/5/preview/lifecycle", body, "guest", shopParam())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Verdict      string `json:"verdict"`
		SuccessCount int    `json:"success_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Verdict != "keep" || resp.SuccessCount != 2 {
		t.Errorf("verdict = %s, success = %d", resp.Verdict, resp.SuccessCount)
	}
}

func TestPreviewRules_AppliesFirstMatch(t *testing.T) {
	rules := &mockRuleStore{enabled: []model.OptimizationRule{
		{
			ID: 1, Name: "cut", IsEnabled: true, Priority: 10,
			ActionType: model.ActionScaleDown, ActionValue: 50, ActionUnit: model.UnitPercent,
			MinBudget: 5, MaxBudget: 500,
			Conditions: []model.RuleCondition{
				{Metric: model.MetricSpend, Operator: model.OpGTE, Value: 100, TimeRangeDays: 7},
			},
		},
	}}
	s := newTestServer(&mockShopStore{shop: demoShop()}, rules, &mockLifecycleStore{})

	body := previewRulesRequest{
		Budget:  40,
		Metrics: map[string]float64{"spend_7d": 150},
	}
	w := perform(s.handlePreviewRules, http.MethodPost, "/shops/5/preview/rules", body, "guest", shopParam())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp previewRulesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Action != model.LogScaledDown {
		t.Errorf("action = %s", resp.Action)
	}
	if resp.NewBudget != 20 {
		t.Errorf("new budget = %v", resp.NewBudget)
	}
	if resp.RuleName != "cut" {
		t.Errorf("rule name = %s", resp.RuleName)
	}
}

func TestPreviewRules_NoMatchSkips(t *testing.T) {
	rules := &mockRuleStore{enabled: []model.OptimizationRule{
		{
			ID: 1, Name: "cut", IsEnabled: true,
			ActionType: model.ActionScaleDown, ActionValue: 50, ActionUnit: model.UnitPercent,
			MinBudget: 5, MaxBudget: 500,
			Conditions: []model.RuleCondition{
				{Metric: model.MetricSpend, Operator: model.OpGTE, Value: 100, TimeRangeDays: 7},
			},
		},
	}}
	s := newTestServer(&mockShopStore{shop: demoShop()}, rules, &mockLifecycleStore{})

	body := previewRulesRequest{
		Budget:  40,
		Metrics: map[string]float64{"spend_7d": 10},
	}
	w := perform(s.handlePreviewRules, http.MethodPost, "/shops/5/preview/rules", body, "guest", shopParam())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp previewRulesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Action != model.LogSkipped {
		t.Errorf("action = %s", resp.Action)
	}
	if resp.NewBudget != 40 {
		t.Errorf("budget changed on skip: %v", resp.NewBudget)
	}
}

func TestOwnedShop_RejectsForeignShop(t *testing.T) {
	// 店铺属于用户 2，当前用户 1 访问应 404
	s := newTestServer(&mockShopStore{shop: &model.Shop{ID: 5, UserID: 2}}, &mockRuleStore{}, &mockLifecycleStore{})

	w := perform(s.handleGetLifecycle, http.MethodGet, "/shops/5/lifecycle", nil, "admin", shopParam())
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}
