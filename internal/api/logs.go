package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Kashino17/pod-autom-sub000/internal/model"
)

type logResponse struct {
	ID           uint            `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	CampaignID   *uint           `json:"campaign_id,omitempty"`
	ProductID    *uint           `json:"product_id,omitempty"`
	RuleID       *uint           `json:"rule_id,omitempty"`
	RuleName     string          `json:"rule_name,omitempty"`
	Action       model.LogAction `json:"action"`
	OldBudget    *float64        `json:"old_budget,omitempty"`
	NewBudget    *float64        `json:"new_budget,omitempty"`
	OldStatus    string          `json:"old_status,omitempty"`
	NewStatus    string          `json:"new_status,omitempty"`
	MetricsJSON  string          `json:"metrics_json,omitempty"`
	IsTestRun    bool            `json:"is_test_run"`
	CycleKey     string          `json:"cycle_key"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// handleListLogs 返回店铺的审计日志，按时间倒序分页。
//
// GET /shops/:id/logs?limit=20&offset=0&campaign_id=&product_id=
func (s *Server) handleListLogs(c *gin.Context) {
	shop := s.ownedShop(c)
	if shop == nil {
		return
	}

	limit := parseQueryInt(c, "limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := parseQueryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(c.Request.Context()).
		Model(&model.OptimizationLog{}).
		Where("shop_id = ?", shop.ID)
	if campaignID := c.Query("campaign_id"); campaignID != "" {
		query = query.Where("campaign_id = ?", campaignID)
	}
	if productID := c.Query("product_id"); productID != "" {
		query = query.Where("product_id = ?", productID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logger.Error("count logs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count logs failed"})
		return
	}

	logs := []logResponse{}
	if err := query.
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Scan(&logs).Error; err != nil {
		s.logger.Error("list logs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list logs failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total": total,
		"logs":  logs,
	})
}

type winnerCampaignResponse struct {
	Platform   model.Platform             `json:"platform"`
	ExternalID string                     `json:"external_id,omitempty"`
	Headline   string                     `json:"headline,omitempty"`
	AdCopy     string                     `json:"ad_copy,omitempty"`
	Status     model.WinnerCampaignStatus `json:"status"`
}

type winnerResponse struct {
	ID            uint                     `json:"id"`
	ProductID     uint                     `json:"product_id"`
	ProductTitle  string                   `json:"product_title"`
	CreatedAt     time.Time                `json:"created_at"`
	Sales3d       float64                  `json:"sales_3d"`
	Sales7d       float64                  `json:"sales_7d"`
	Sales10d      float64                  `json:"sales_10d"`
	Sales14d      float64                  `json:"sales_14d"`
	BucketsPassed int                      `json:"buckets_passed"`
	Campaigns     []winnerCampaignResponse `json:"campaigns"`
}

// handleListWinners 返回店铺的爆款商品及其放量广告。
//
// GET /shops/:id/winners
func (s *Server) handleListWinners(c *gin.Context) {
	shop := s.ownedShop(c)
	if shop == nil {
		return
	}

	var winners []model.WinnerProduct
	if err := s.db.WithContext(c.Request.Context()).
		Preload("Campaigns").
		Where("shop_id = ?", shop.ID).
		Order("id DESC").
		Find(&winners).Error; err != nil {
		s.logger.Error("list winners failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list winners failed"})
		return
	}

	// 标题批量查出来，避免 N+1
	titles := map[uint]string{}
	if len(winners) > 0 {
		ids := make([]uint, 0, len(winners))
		for _, w := range winners {
			ids = append(ids, w.ProductID)
		}
		var products []model.Product
		if err := s.db.WithContext(c.Request.Context()).
			Select("id, title").
			Where("id IN ?", ids).
			Find(&products).Error; err == nil {
			for _, p := range products {
				titles[p.ID] = p.Title
			}
		}
	}

	out := make([]winnerResponse, 0, len(winners))
	for _, w := range winners {
		campaigns := make([]winnerCampaignResponse, 0, len(w.Campaigns))
		for _, wc := range w.Campaigns {
			campaigns = append(campaigns, winnerCampaignResponse{
				Platform:   wc.Platform,
				ExternalID: wc.ExternalID,
				Headline:   wc.Headline,
				AdCopy:     wc.AdCopy,
				Status:     wc.Status,
			})
		}
		out = append(out, winnerResponse{
			ID:            w.ID,
			ProductID:     w.ProductID,
			ProductTitle:  titles[w.ProductID],
			CreatedAt:     w.CreatedAt,
			Sales3d:       w.Sales3d,
			Sales7d:       w.Sales7d,
			Sales10d:      w.Sales10d,
			Sales14d:      w.Sales14d,
			BucketsPassed: w.BucketsPassed,
			Campaigns:     campaigns,
		})
	}

	c.JSON(http.StatusOK, out)
}
