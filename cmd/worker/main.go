package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Kashino17/pod-autom-sub000/internal/adplatform"
	"github.com/Kashino17/pod-autom-sub000/internal/aigen"
	"github.com/Kashino17/pod-autom-sub000/internal/config"
	"github.com/Kashino17/pod-autom-sub000/internal/evaluator"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/logger"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/metrics"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/notify"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/queue"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/ratelimit"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/taskqueue"
	"github.com/Kashino17/pod-autom-sub000/internal/shopify"
	"github.com/Kashino17/pod-autom-sub000/internal/winner"
	workerpkg "github.com/Kashino17/pod-autom-sub000/internal/worker"
)

// main 是评估 worker 进程的入口。
//
// 连接 MySQL 与 Redis，组装评估服务（Shopify、广告平台、文案生成、
// 爆款放量、邮件通知），然后消费评估队列直到收到退出信号。
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.InitMetrics()

	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		appLogger.Error("connect mysql failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("connect redis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	limiter := ratelimit.NewRedisRateLimiter(rdb, appLogger, "", cfg.App.RateLimit, cfg.App.RateBurst)
	registry := buildRegistry(&cfg.AdPlatform, limiter, appLogger)

	shopifyClient := shopify.NewClient(&cfg.Shopify, appLogger)
	gen := aigen.ForConfig(&cfg.AIGen, appLogger)
	notifier := notify.NewEmailNotifier(&cfg.Email, appLogger)
	scaler := winner.NewScaler(db, registry, shopifyClient, gen, notifier, appLogger)
	service := evaluator.NewService(db, registry, shopifyClient, scaler, appLogger)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	consumer, err := taskqueue.NewConsumer(rdb, appLogger,
		cfg.App.EvalQueueStream, cfg.App.EvalQueueGroup, hostname)
	if err != nil {
		appLogger.Error("init consumer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pool := queue.NewPool(appLogger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity)
	runner := workerpkg.NewRunner(consumer, pool, service.HandleMessage, appLogger)

	appLogger.Info("evaluation worker started",
		slog.String("stream", cfg.App.EvalQueueStream),
		slog.String("group", cfg.App.EvalQueueGroup),
		slog.String("consumer", hostname))

	runner.Run(ctx)

	if err := rdb.Close(); err != nil {
		appLogger.Error("close redis failed", slog.String("error", err.Error()))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	appLogger.Info("evaluation worker stopped")
}

// buildRegistry 按配置注册有 BaseURL 的广告平台客户端。
func buildRegistry(cfg *config.AdPlatformConfig, limiter *ratelimit.RateLimiter, logger *slog.Logger) *adplatform.Registry {
	clients := make([]adplatform.Client, 0, 3)
	if cfg.PinterestBaseURL != "" {
		clients = append(clients, adplatform.NewPinterestClient(cfg, limiter, logger))
	}
	if cfg.MetaBaseURL != "" {
		clients = append(clients, adplatform.NewMetaClient(cfg, limiter, logger))
	}
	if cfg.GoogleBaseURL != "" {
		clients = append(clients, adplatform.NewGoogleClient(cfg, limiter, logger))
	}
	return adplatform.NewRegistry(clients...)
}
