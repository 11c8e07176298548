// Package api 实现运营仪表盘的 HTTP 服务。
//
// 职责：账号与租户管理、生命周期/优化规则配置、引擎预演、审计日志与
// 爆款查询。调度器也挂在 API 进程内周期派发评估消息，评估本身由
// worker 进程执行。
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Kashino17/pod-autom-sub000/internal/api/auth"
	"github.com/Kashino17/pod-autom-sub000/internal/api/middleware"
	"github.com/Kashino17/pod-autom-sub000/internal/api/scheduler"
	"github.com/Kashino17/pod-autom-sub000/internal/config"
	"github.com/Kashino17/pod-autom-sub000/internal/model"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/cyclelock"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/metrics"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/notify"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/taskqueue"
)

// Server 封装 API 服务的依赖与路由。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine
	sched  *scheduler.Scheduler
	auth   *auth.Handler

	shops     ShopStore
	rules     RuleStore
	lifecycle LifecycleStore
}

// ShopStore 租户读写，接口化以便 handler 测试注入 mock。
type ShopStore interface {
	OwnedShop(ctx context.Context, userID, shopID uint) (*model.Shop, error)
	CountShops(ctx context.Context, userID uint) (int64, error)
	CreateShop(ctx context.Context, shop *model.Shop) error
}

// RuleStore 优化规则读写。
type RuleStore interface {
	CountRules(ctx context.Context, shopID uint) (int64, error)
	CreateRule(ctx context.Context, rule *model.OptimizationRule) error
	ListEnabledRules(ctx context.Context, shopID uint) ([]model.OptimizationRule, error)
}

// LifecycleStore 生命周期配置读写。
type LifecycleStore interface {
	GetConfig(ctx context.Context, shopID uint) (*model.LifecycleConfig, error)
	SaveConfig(ctx context.Context, cfg *model.LifecycleConfig) error
}

type dbShopStore struct {
	db *gorm.DB
}

func (s dbShopStore) OwnedShop(ctx context.Context, userID, shopID uint) (*model.Shop, error) {
	var shop model.Shop
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", shopID, userID).First(&shop).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func (s dbShopStore) CountShops(ctx context.Context, userID uint) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Shop{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s dbShopStore) CreateShop(ctx context.Context, shop *model.Shop) error {
	return s.db.WithContext(ctx).Create(shop).Error
}

type dbRuleStore struct {
	db *gorm.DB
}

func (s dbRuleStore) CountRules(ctx context.Context, shopID uint) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.OptimizationRule{}).Where("shop_id = ?", shopID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s dbRuleStore) CreateRule(ctx context.Context, rule *model.OptimizationRule) error {
	return s.db.WithContext(ctx).Create(rule).Error
}

func (s dbRuleStore) ListEnabledRules(ctx context.Context, shopID uint) ([]model.OptimizationRule, error) {
	var rules []model.OptimizationRule
	err := s.db.WithContext(ctx).
		Preload("Conditions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("shop_id = ? AND is_enabled = ?", shopID, true).
		Order("id ASC").
		Find(&rules).Error
	return rules, err
}

type dbLifecycleStore struct {
	db *gorm.DB
}

func (s dbLifecycleStore) GetConfig(ctx context.Context, shopID uint) (*model.LifecycleConfig, error) {
	var cfg model.LifecycleConfig
	if err := s.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s dbLifecycleStore) SaveConfig(ctx context.Context, cfg *model.LifecycleConfig) error {
	return s.db.WithContext(ctx).Save(cfg).Error
}

// NewServer 初始化 API 服务器。
//
// 连接 MySQL 并自动迁移、连接 Redis、创建调度器与路由。
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.User{}, &model.Shop{},
		&model.Product{}, &model.ProductSnapshot{}, &model.LifecycleConfig{},
		&model.Campaign{}, &model.OptimizationRule{}, &model.RuleCondition{},
		&model.OptimizationSettings{}, &model.OptimizationLog{},
		&model.WinnerProduct{}, &model.WinnerCampaign{},
	); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	emailNotifier := notify.NewEmailNotifier(&cfg.Email, logger)

	producer := taskqueue.NewProducer(rdb, logger, cfg.App.EvalQueueStream)
	locker := cyclelock.NewLocker(rdb, cfg.App.CycleLockTTL)
	sched := scheduler.New(db, logger, producer, locker, cfg.App.EvalInterval, cfg.App.DispatchBatch)

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		router:    r,
		sched:     sched,
		auth:      auth.NewHandler(db, cfg.Security.JWTSecret, cfg.Security.InviteCode, emailNotifier, logger),
		shops:     dbShopStore{db: db},
		rules:     dbRuleStore{db: db},
		lifecycle: dbLifecycleStore{db: db},
	}
	s.registerRoutes()
	return s, nil
}

// Run 启动调度器与 HTTP 服务。
func (s *Server) Run() error {
	s.StartScheduler(context.Background())

	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartScheduler 在后台 goroutine 中启动调度循环。
func (s *Server) StartScheduler(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in scheduler", slog.Any("panic", r))
			}
		}()
		s.sched.Run(ctx)
	}()
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if closeErr := sqlDB.Close(); closeErr != nil && firstErr == nil {
			firstErr = closeErr
		}
	}
	return firstErr
}

// registerRoutes 注册所有 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/register", s.auth.Register)
	s.router.POST("/login", s.auth.Login)
	s.router.POST("/login/guest", s.auth.GuestLogin)
	s.router.POST("/verify", s.auth.VerifyEmail)
	s.router.POST("/resend", s.auth.ResendCode)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.POST("/logout", s.auth.Logout)

	authed.GET("/shops", s.handleListShops)
	authed.POST("/shops", s.handleCreateShop)

	authed.GET("/shops/:id/lifecycle", s.handleGetLifecycle)
	authed.PUT("/shops/:id/lifecycle", s.handlePutLifecycle)

	authed.GET("/shops/:id/rules", s.handleListRules)
	authed.POST("/shops/:id/rules", s.handleCreateRule)
	authed.PATCH("/rules/:id", s.handleUpdateRule)
	authed.DELETE("/rules/:id", s.handleDeleteRule)
	authed.POST("/rules/:id/toggle", s.handleToggleRule)

	authed.GET("/shops/:id/optimization", s.handleGetOptimization)
	authed.PUT("/shops/:id/optimization", s.handlePutOptimization)

	authed.POST("/shops/:id/preview/lifecycle", s.handlePreviewLifecycle)
	authed.POST("/shops/:id/preview/rules", s.handlePreviewRules)

	authed.GET("/shops/:id/logs", s.handleListLogs)
	authed.GET("/shops/:id/winners", s.handleListWinners)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ownedShop 校验店铺归属，失败时直接写响应并返回 nil。
func (s *Server) ownedShop(c *gin.Context) *model.Shop {
	shopID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shop id"})
		return nil
	}
	shop, err := s.shops.OwnedShop(c.Request.Context(), getUserID(c), shopID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "shop not found"})
		return nil
	}
	return shop
}

// forbidGuest 拦截演示账号的写操作，返回 true 表示已拦截。
func forbidGuest(c *gin.Context) bool {
	if getUserRole(c) == "guest" {
		c.JSON(http.StatusForbidden, gin.H{"error": "demo account is read-only"})
		return true
	}
	return false
}

func parseIDParam(c *gin.Context, key string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(key), 10, 32)
	if err != nil || id == 0 {
		return 0, strconv.ErrSyntax
	}
	return uint(id), nil
}

func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}

func getUserID(c *gin.Context) uint {
	return c.GetUint("userID")
}

func getUserRole(c *gin.Context) string {
	role, ok := c.Get("role")
	if !ok {
		return "admin"
	}
	if s, ok := role.(string); ok && s != "" {
		return s
	}
	return "admin"
}
