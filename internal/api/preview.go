package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Kashino17/pod-autom-sub000/internal/lifecycle"
	"github.com/Kashino17/pod-autom-sub000/internal/model"
	"github.com/Kashino17/pod-autom-sub000/internal/optimizer"
)

type previewLifecycleRequest struct {
	Phase    string  `json:"phase" binding:"required"` // start / post
	Sales3d  float64 `json:"sales_3d"`
	Sales7d  float64 `json:"sales_7d"`
	Sales10d float64 `json:"sales_10d"`
	Sales14d float64 `json:"sales_14d"`
}

// handlePreviewLifecycle 用店铺已存配置对一组手填销量做判定预演。
//
// POST /shops/:id/preview/lifecycle — 纯计算，不落库不派发。
func (s *Server) handlePreviewLifecycle(c *gin.Context) {
	shop := s.ownedShop(c)
	if shop == nil {
		return
	}

	var req previewLifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := s.lifecycle.GetConfig(c.Request.Context(), shop.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load config failed"})
			return
		}
		cfg = model.DefaultLifecycleConfig(shop.ID)
	}

	switch req.Phase {
	case string(model.PhaseStart):
		verdict := lifecycle.ClassifyStartPhase(req.Sales7d, lifecycle.StartConfigFrom(cfg))
		c.JSON(http.StatusOK, gin.H{"phase": req.Phase, "verdict": verdict})
	case string(model.PhasePost):
		res := lifecycle.ClassifyPostPhase(lifecycle.Snapshot{
			Day3:  req.Sales3d,
			Day7:  req.Sales7d,
			Day10: req.Sales10d,
			Day14: req.Sales14d,
		}, lifecycle.PostConfigFrom(cfg))
		c.JSON(http.StatusOK, gin.H{
			"phase":         req.Phase,
			"verdict":       res.Verdict,
			"passed":        res.Passed,
			"success_count": res.SuccessCount,
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phase"})
	}
}

type previewRulesRequest struct {
	Budget float64 `json:"budget"`
	Status string  `json:"status"`

	// 指标快照，键为 "指标_窗口天数d"，如 "spend_7d": 120.5
	Metrics map[string]float64 `json:"metrics" binding:"required"`
}

type previewRulesResponse struct {
	Action    model.LogAction           `json:"action"`
	RuleID    *uint                     `json:"rule_id,omitempty"`
	RuleName  string                    `json:"rule_name,omitempty"`
	OldBudget float64                   `json:"old_budget"`
	NewBudget float64                   `json:"new_budget"`
	OldStatus model.CampaignStatus      `json:"old_status"`
	NewStatus model.CampaignStatus      `json:"new_status"`
	Metrics   optimizer.MetricsSnapshot `json:"metrics"`
	Error     string                    `json:"error,omitempty"`
}

// handlePreviewRules 用店铺已启用的规则对手填指标做一次评估预演。
//
// POST /shops/:id/preview/rules — 不写日志、不触达广告平台。
func (s *Server) handlePreviewRules(c *gin.Context) {
	shop := s.ownedShop(c)
	if shop == nil {
		return
	}

	var req previewRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := model.CampaignStatus(req.Status)
	if status == "" {
		status = model.CampaignActive
	}

	rules, err := s.rules.ListEnabledRules(c.Request.Context(), shop.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load rules failed"})
		return
	}

	dec := optimizer.Evaluate(rules, optimizer.NewStaticSource(req.Metrics), optimizer.BudgetState{
		Current: req.Budget,
		Status:  status,
	})

	resp := previewRulesResponse{
		Action:    dec.Action,
		OldBudget: dec.OldBudget,
		NewBudget: dec.NewBudget,
		OldStatus: dec.OldStatus,
		NewStatus: dec.NewStatus,
		Metrics:   dec.Snapshot,
	}
	if dec.Rule != nil {
		resp.RuleID = &dec.Rule.ID
		resp.RuleName = dec.Rule.Name
	}
	if dec.Err != nil {
		resp.Error = dec.Err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
