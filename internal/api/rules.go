package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Kashino17/pod-autom-sub000/internal/model"
)

type conditionRequest struct {
	Metric        string  `json:"metric" binding:"required"`
	Operator      string  `json:"operator" binding:"required"`
	Value         float64 `json:"value"`
	TimeRangeDays int     `json:"time_range_days"`
	Connective    string  `json:"connective"`
}

type ruleRequest struct {
	Name        string             `json:"name" binding:"required"`
	IsEnabled   *bool              `json:"is_enabled"`
	Priority    int                `json:"priority"`
	ActionType  string             `json:"action_type" binding:"required"`
	ActionValue float64            `json:"action_value"`
	ActionUnit  string             `json:"action_unit"`
	MinBudget   float64            `json:"min_budget"`
	MaxBudget   float64            `json:"max_budget"`
	Conditions  []conditionRequest `json:"conditions" binding:"required,min=1"`
}

type conditionResponse struct {
	Metric        model.Metric     `json:"metric"`
	Operator      model.Operator   `json:"operator"`
	Value         float64          `json:"value"`
	TimeRangeDays int              `json:"time_range_days"`
	Connective    model.Connective `json:"connective,omitempty"`
}

type ruleResponse struct {
	ID          uint                `json:"id"`
	Name        string              `json:"name"`
	IsEnabled   bool                `json:"is_enabled"`
	Priority    int                 `json:"priority"`
	ActionType  model.ActionType    `json:"action_type"`
	ActionValue float64             `json:"action_value"`
	ActionUnit  model.ActionUnit    `json:"action_unit"`
	MinBudget   float64             `json:"min_budget"`
	MaxBudget   float64             `json:"max_budget"`
	Conditions  []conditionResponse `json:"conditions"`
}

func toRuleResponse(r *model.OptimizationRule) ruleResponse {
	conds := make([]conditionResponse, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		conds = append(conds, conditionResponse{
			Metric:        c.Metric,
			Operator:      c.Operator,
			Value:         c.Value,
			TimeRangeDays: c.TimeRangeDays,
			Connective:    c.Connective,
		})
	}
	return ruleResponse{
		ID:          r.ID,
		Name:        r.Name,
		IsEnabled:   r.IsEnabled,
		Priority:    r.Priority,
		ActionType:  r.ActionType,
		ActionValue: r.ActionValue,
		ActionUnit:  r.ActionUnit,
		MinBudget:   r.MinBudget,
		MaxBudget:   r.MaxBudget,
		Conditions:  conds,
	}
}

// handleListRules 返回店铺的全部优化规则（含禁用），按优先级降序。
func (s *Server) handleListRules(c *gin.Context) {
	shop := s.ownedShop(c)
	if shop == nil {
		return
	}

	var rules []model.OptimizationRule
	err := s.db.WithContext(c.Request.Context()).
		Preload("Conditions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("shop_id = ?", shop.ID).
		Order("priority DESC, id ASC").
		Find(&rules).Error
	if err != nil {
		s.logger.Error("list rules failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list rules failed"})
		return
	}

	out := make([]ruleResponse, 0, len(rules))
	for i := range rules {
		out = append(out, toRuleResponse(&rules[i]))
	}
	c.JSON(http.StatusOK, out)
}

// handleCreateRule 创建优化规则。
//
// POST /shops/:id/rules
func (s *Server) handleCreateRule(c *gin.Context) {
	if forbidGuest(c) {
		return
	}
	shop := s.ownedShop(c)
	if shop == nil {
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, msg := buildRule(shop.ID, req)
	if msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	count, err := s.rules.CountRules(c.Request.Context(), shop.ID)
	if err != nil {
		s.logger.Error("count rules failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count rules failed"})
		return
	}
	maxRules := s.cfg.App.MaxRulesPerShop
	if maxRules <= 0 {
		maxRules = 20
	}
	if count >= int64(maxRules) {
		c.JSON(http.StatusForbidden, gin.H{"error": "rule limit reached"})
		return
	}

	if err := s.rules.CreateRule(c.Request.Context(), rule); err != nil {
		s.logger.Error("create rule failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create rule failed"})
		return
	}

	c.JSON(http.StatusCreated, toRuleResponse(rule))
}

// buildRule 校验请求并构造规则，返回空串表示通过。
func buildRule(shopID uint, req ruleRequest) (*model.OptimizationRule, string) {
	actionType := model.ActionType(strings.ToLower(strings.TrimSpace(req.ActionType)))
	switch actionType {
	case model.ActionScaleUp, model.ActionScaleDown, model.ActionPause:
	default:
		return nil, "invalid action_type"
	}

	actionUnit := model.ActionUnit(strings.ToLower(strings.TrimSpace(req.ActionUnit)))
	if actionUnit == "" {
		actionUnit = model.UnitPercent
	}
	switch actionUnit {
	case model.UnitPercent, model.UnitAmount:
	default:
		return nil, "invalid action_unit"
	}

	if actionType != model.ActionPause && req.ActionValue <= 0 {
		return nil, "action_value must be positive"
	}
	if req.MinBudget < 0 || req.MaxBudget < 0 {
		return nil, "budget bounds must be non-negative"
	}
	// 缩放动作的结果会被压回 [min_budget, max_budget]，上限缺失或倒挂
	// 会把每次缩放都钉在下限上
	if actionType != model.ActionPause {
		if req.MaxBudget <= 0 {
			return nil, "max_budget must be positive for scale actions"
		}
		if req.MaxBudget < req.MinBudget {
			return nil, "max_budget must not be below min_budget"
		}
	}

	conds := make([]model.RuleCondition, 0, len(req.Conditions))
	for i, rc := range req.Conditions {
		metric := model.Metric(strings.ToLower(strings.TrimSpace(rc.Metric)))
		switch metric {
		case model.MetricSpend, model.MetricCheckouts, model.MetricROAS:
		default:
			return nil, "invalid metric"
		}

		op := model.Operator(strings.ToLower(strings.TrimSpace(rc.Operator)))
		switch op {
		case model.OpGTE, model.OpLTE, model.OpGT, model.OpLT, model.OpEQ:
		default:
			return nil, "invalid operator"
		}

		conn := model.Connective(strings.ToLower(strings.TrimSpace(rc.Connective)))
		switch conn {
		case "", model.ConnectiveAnd, model.ConnectiveOr:
		default:
			return nil, "invalid connective"
		}

		days := rc.TimeRangeDays
		if days <= 0 {
			days = 7
		}

		conds = append(conds, model.RuleCondition{
			Position:      i,
			Metric:        metric,
			Operator:      op,
			Value:         rc.Value,
			TimeRangeDays: days,
			Connective:    conn,
		})
	}

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}

	return &model.OptimizationRule{
		ShopID:      shopID,
		Name:        strings.TrimSpace(req.Name),
		IsEnabled:   enabled,
		Priority:    req.Priority,
		ActionType:  actionType,
		ActionValue: req.ActionValue,
		ActionUnit:  actionUnit,
		MinBudget:   req.MinBudget,
		MaxBudget:   req.MaxBudget,
		Conditions:  conds,
	}, ""
}

// ownedRule 加载规则并校验其店铺归属于当前用户。
func (s *Server) ownedRule(c *gin.Context) *model.OptimizationRule {
	ruleID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return nil
	}

	var rule model.OptimizationRule
	err = s.db.WithContext(c.Request.Context()).
		Preload("Conditions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Joins("JOIN shops ON shops.id = optimization_rules.shop_id").
		Where("optimization_rules.id = ? AND shops.user_id = ?", ruleID, getUserID(c)).
		First(&rule).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return nil
	}
	return &rule
}

// handleUpdateRule 整体替换规则定义。
//
// PATCH /rules/:id — 条件链整条替换，避免位置/连接符出现半套状态。
func (s *Server) handleUpdateRule(c *gin.Context) {
	if forbidGuest(c) {
		return
	}
	rule := s.ownedRule(c)
	if rule == nil {
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, msg := buildRule(rule.ShopID, req)
	if msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	err := s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&model.RuleCondition{}).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"name":         updated.Name,
			"is_enabled":   updated.IsEnabled,
			"priority":     updated.Priority,
			"action_type":  updated.ActionType,
			"action_value": updated.ActionValue,
			"action_unit":  updated.ActionUnit,
			"min_budget":   updated.MinBudget,
			"max_budget":   updated.MaxBudget,
		}
		if err := tx.Model(&model.OptimizationRule{}).Where("id = ?", rule.ID).Updates(updates).Error; err != nil {
			return err
		}
		for i := range updated.Conditions {
			updated.Conditions[i].RuleID = rule.ID
		}
		return tx.Create(&updated.Conditions).Error
	})
	if err != nil {
		s.logger.Error("update rule failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update rule failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// handleDeleteRule 删除规则及其条件。
func (s *Server) handleDeleteRule(c *gin.Context) {
	if forbidGuest(c) {
		return
	}
	rule := s.ownedRule(c)
	if rule == nil {
		return
	}

	err := s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&model.RuleCondition{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.OptimizationRule{}, rule.ID).Error
	})
	if err != nil {
		s.logger.Error("delete rule failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete rule failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": rule.ID})
}

// handleToggleRule 翻转规则启用状态。
//
// POST /rules/:id/toggle
func (s *Server) handleToggleRule(c *gin.Context) {
	if forbidGuest(c) {
		return
	}
	rule := s.ownedRule(c)
	if rule == nil {
		return
	}

	enabled := !rule.IsEnabled
	if err := s.db.WithContext(c.Request.Context()).
		Model(&model.OptimizationRule{}).
		Where("id = ?", rule.ID).
		Update("is_enabled", enabled).Error; err != nil {
		s.logger.Error("toggle rule failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "toggle rule failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"is_enabled": enabled})
}

type optimizationSettingsPayload struct {
	IsEnabled       bool    `json:"is_enabled"`
	TestModeEnabled bool    `json:"test_mode_enabled"`
	TestCampaignID  *uint   `json:"test_campaign_id"`
	TestSpend       float64 `json:"test_spend"`
	TestCheckouts   float64 `json:"test_checkouts"`
	TestROAS        float64 `json:"test_roas"`
}

// handleGetOptimization 返回店铺的优化引擎设置。
func (s *Server) handleGetOptimization(c *gin.Context) {
	shop := s.ownedShop(c)
	if shop == nil {
		return
	}

	var settings model.OptimizationSettings
	err := s.db.WithContext(c.Request.Context()).Where("shop_id = ?", shop.ID).First(&settings).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load settings failed"})
		return
	}

	c.JSON(http.StatusOK, optimizationSettingsPayload{
		IsEnabled:       settings.IsEnabled,
		TestModeEnabled: settings.TestModeEnabled,
		TestCampaignID:  settings.TestCampaignID,
		TestSpend:       settings.TestSpend,
		TestCheckouts:   settings.TestCheckouts,
		TestROAS:        settings.TestROAS,
	})
}

// handlePutOptimization 保存优化引擎设置。
//
// 测试模式必须指定属于本店铺的广告系列。
func (s *Server) handlePutOptimization(c *gin.Context) {
	if forbidGuest(c) {
		return
	}
	shop := s.ownedShop(c)
	if shop == nil {
		return
	}

	var req optimizationSettingsPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.TestModeEnabled {
		if req.TestCampaignID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "test_campaign_id required in test mode"})
			return
		}
		var count int64
		if err := s.db.WithContext(c.Request.Context()).
			Model(&model.Campaign{}).
			Where("id = ? AND shop_id = ?", *req.TestCampaignID, shop.ID).
			Count(&count).Error; err != nil || count == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "test campaign not in shop"})
			return
		}
	}

	var settings model.OptimizationSettings
	err := s.db.WithContext(c.Request.Context()).Where("shop_id = ?", shop.ID).First(&settings).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load settings failed"})
			return
		}
		settings = model.OptimizationSettings{ShopID: shop.ID}
	}

	settings.IsEnabled = req.IsEnabled
	settings.TestModeEnabled = req.TestModeEnabled
	settings.TestCampaignID = req.TestCampaignID
	settings.TestSpend = req.TestSpend
	settings.TestCheckouts = req.TestCheckouts
	settings.TestROAS = req.TestROAS

	if err := s.db.WithContext(c.Request.Context()).Save(&settings).Error; err != nil {
		s.logger.Error("save settings failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save settings failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"saved": true})
}
