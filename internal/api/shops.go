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

type shopResponse struct {
	ID            uint   `json:"id"`
	Name          string `json:"name"`
	ShopifyDomain string `json:"shopify_domain"`
	IsEnabled     bool   `json:"is_enabled"`
}

type createShopRequest struct {
	Name          string `json:"name" binding:"required"`
	ShopifyDomain string `json:"shopify_domain" binding:"required"`
	ShopifyToken  string `json:"shopify_token" binding:"required"`
}

// handleListShops 返回当前用户的店铺列表。
func (s *Server) handleListShops(c *gin.Context) {
	shops := []shopResponse{}
	if err := s.db.WithContext(c.Request.Context()).
		Model(&model.Shop{}).
		Select("id, name, shopify_domain, is_enabled").
		Where("user_id = ?", getUserID(c)).
		Order("id ASC").
		Scan(&shops).Error; err != nil {
		s.logger.Error("list shops failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list shops failed"})
		return
	}
	c.JSON(http.StatusOK, shops)
}

// handleCreateShop 接入新店铺。
//
// POST /shops
func (s *Server) handleCreateShop(c *gin.Context) {
	if forbidGuest(c) {
		return
	}
	var req createShopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	domain := strings.TrimSpace(strings.ToLower(req.ShopifyDomain))
	if !strings.HasSuffix(domain, ".myshopify.com") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shopify domain"})
		return
	}

	userID := getUserID(c)
	count, err := s.shops.CountShops(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("count shops failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count shops failed"})
		return
	}
	maxShops := s.cfg.App.MaxShopsPerUser
	if maxShops <= 0 {
		maxShops = 3
	}
	if count >= int64(maxShops) {
		c.JSON(http.StatusForbidden, gin.H{"error": "shop limit reached"})
		return
	}

	shop := model.Shop{
		UserID:        userID,
		Name:          strings.TrimSpace(req.Name),
		ShopifyDomain: domain,
		ShopifyToken:  req.ShopifyToken,
		IsEnabled:     true,
	}
	if err := s.shops.CreateShop(c.Request.Context(), &shop); err != nil {
		s.logger.Error("create shop failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create shop failed"})
		return
	}

	c.JSON(http.StatusCreated, shopResponse{
		ID:            shop.ID,
		Name:          shop.Name,
		ShopifyDomain: shop.ShopifyDomain,
		IsEnabled:     shop.IsEnabled,
	})
}

type lifecycleConfigPayload struct {
	DeleteThreshold float64 `json:"delete_threshold"`
	KeepThreshold   float64 `json:"keep_threshold"`
	WinnerThreshold float64 `json:"winner_threshold"`
	Day3Target      float64 `json:"day3_target"`
	Day7Target      float64 `json:"day7_target"`
	Day10Target     float64 `json:"day10_target"`
	Day14Target     float64 `json:"day14_target"`
	MinBuckets      int     `json:"min_buckets"`
}

// handleGetLifecycle 返回店铺的生命周期配置，未配置时返回默认值。
func (s *Server) handleGetLifecycle(c *gin.Context) {
	shop := s.ownedShop(c)
	if shop == nil {
		return
	}

	cfg, err := s.lifecycle.GetConfig(c.Request.Context(), shop.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cfg = model.DefaultLifecycleConfig(shop.ID)
		} else {
			s.logger.Error("load lifecycle config failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load config failed"})
			return
		}
	}

	c.JSON(http.StatusOK, lifecycleConfigPayload{
		DeleteThreshold: cfg.DeleteThreshold,
		KeepThreshold:   cfg.KeepThreshold,
		WinnerThreshold: cfg.WinnerThreshold,
		Day3Target:      cfg.Day3Target,
		Day7Target:      cfg.Day7Target,
		Day10Target:     cfg.Day10Target,
		Day14Target:     cfg.Day14Target,
		MinBuckets:      cfg.MinBuckets,
	})
}

// handlePutLifecycle 保存生命周期配置。
//
// 阈值必须满足 delete < keep <= winner，MinBuckets 在 1-4 之间。
func (s *Server) handlePutLifecycle(c *gin.Context) {
	if forbidGuest(c) {
		return
	}
	shop := s.ownedShop(c)
	if shop == nil {
		return
	}

	var req lifecycleConfigPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := validateLifecyclePayload(req); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	cfg, err := s.lifecycle.GetConfig(c.Request.Context(), shop.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load config failed"})
			return
		}
		cfg = &model.LifecycleConfig{ShopID: shop.ID}
	}

	cfg.DeleteThreshold = req.DeleteThreshold
	cfg.KeepThreshold = req.KeepThreshold
	cfg.WinnerThreshold = req.WinnerThreshold
	cfg.Day3Target = req.Day3Target
	cfg.Day7Target = req.Day7Target
	cfg.Day10Target = req.Day10Target
	cfg.Day14Target = req.Day14Target
	cfg.MinBuckets = req.MinBuckets

	if err := s.lifecycle.SaveConfig(c.Request.Context(), cfg); err != nil {
		s.logger.Error("save lifecycle config failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save config failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func validateLifecyclePayload(req lifecycleConfigPayload) string {
	if req.DeleteThreshold < 0 || req.KeepThreshold < 0 || req.WinnerThreshold < 0 {
		return "thresholds must be non-negative"
	}
	if req.DeleteThreshold >= req.KeepThreshold {
		return "delete_threshold must be below keep_threshold"
	}
	if req.KeepThreshold > req.WinnerThreshold {
		return "keep_threshold must not exceed winner_threshold"
	}
	if req.Day3Target < 0 || req.Day7Target < 0 || req.Day10Target < 0 || req.Day14Target < 0 {
		return "bucket targets must be non-negative"
	}
	if req.MinBuckets < 1 || req.MinBuckets > 4 {
		return "min_buckets must be between 1 and 4"
	}
	return ""
}
