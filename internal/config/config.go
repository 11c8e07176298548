package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App        AppConfig        `json:"app"`
	MySQL      MySQLConfig      `json:"mysql"`
	Redis      RedisConfig      `json:"redis"`
	Shopify    ShopifyConfig    `json:"shopify"`
	AdPlatform AdPlatformConfig `json:"ad_platform"`
	AIGen      AIGenConfig      `json:"ai_gen"`
	Email      EmailConfig      `json:"email"`
	Security   SecurityConfig   `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env              string        `json:"env"`               // 运行环境: local / prod
	LogLevel         string        `json:"log_level"`         // 日志级别: debug / info / warn / error
	HTTPAddr         string        `json:"http_addr"`         // API 服务监听地址
	EvalInterval     time.Duration `json:"eval_interval"`     // 评估周期间隔（如 "1h"）
	CycleLockTTL     time.Duration `json:"cycle_lock_ttl"`    // 周期幂等锁 TTL
	WorkerPoolSize   int           `json:"worker_pool_size"`  // Worker Pool 大小（并发评估数）
	QueueCapacity    int           `json:"queue_capacity"`    // 内存队列容量
	DispatchBatch    int           `json:"dispatch_batch"`    // 调度器单次批量入队大小
	MaxShopsPerUser  int           `json:"max_shops_per_user"` // 每个用户最大店铺数
	MaxRulesPerShop  int           `json:"max_rules_per_shop"` // 每个店铺最大规则数
	RateLimit        float64       `json:"rate_limit"`        // 广告平台调用限流速率（token/s）
	RateBurst        float64       `json:"rate_burst"`        // 限流桶容量
	JWTSecret        string        `json:"jwt_secret"`        // JWT 签名密钥

	// Redis Streams 评估队列配置
	EvalQueueStream string `json:"eval_queue_stream"` // Redis Stream 名称
	EvalQueueGroup  string `json:"eval_queue_group"`  // Consumer Group 名称
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// ShopifyConfig Shopify Admin API 配置。
type ShopifyConfig struct {
	APIVersion string        `json:"api_version"` // Admin API 版本（如 "2024-07"）
	Timeout    time.Duration `json:"timeout"`     // 单次请求超时
	MaxRetries int           `json:"max_retries"` // 429/5xx 重试次数
}

// AdPlatformConfig 广告平台 API 配置。
type AdPlatformConfig struct {
	PinterestBaseURL string        `json:"pinterest_base_url"`
	PinterestToken   string        `json:"pinterest_token"`
	MetaBaseURL      string        `json:"meta_base_url"`
	MetaToken        string        `json:"meta_token"`
	GoogleBaseURL    string        `json:"google_base_url"`
	GoogleToken      string        `json:"google_token"`
	Timeout          time.Duration `json:"timeout"` // 单次请求超时
}

// AIGenConfig 文案生成服务配置。
type AIGenConfig struct {
	BaseURL string        `json:"base_url"` // 为空表示禁用，退化为固定模板
	APIKey  string        `json:"api_key"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret  string `json:"jwt_secret"`  // JWT 签名密钥
	InviteCode string `json:"invite_code"` // 邀请码（为空表示禁止注册）
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		// 即使没有配置文件，也允许环境变量覆盖默认值
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// 应用默认值（对于未设置的字段）
	applyDefaults(cfg)

	// 环境变量优先覆盖配置
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:             "local",
			LogLevel:        "info",
			HTTPAddr:        ":8081",
			EvalInterval:    1 * time.Hour,
			CycleLockTTL:    2 * time.Hour,
			WorkerPoolSize:  20,
			QueueCapacity:   1000,
			DispatchBatch:   100,
			MaxShopsPerUser: 5,
			MaxRulesPerShop: 50,
			RateLimit:       3,
			RateBurst:       5,
			JWTSecret:       "dev_secret_change_me",

			EvalQueueStream: "podautom:eval:queue",
			EvalQueueGroup:  "eval_workers",
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/podautom?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Shopify: ShopifyConfig{
			APIVersion: "2024-07",
			Timeout:    15 * time.Second,
			MaxRetries: 3,
		},
		AdPlatform: AdPlatformConfig{
			PinterestBaseURL: "https://api.pinterest.com/v5",
			MetaBaseURL:      "https://graph.facebook.com/v19.0",
			GoogleBaseURL:    "https://googleads.googleapis.com/v16",
			Timeout:          20 * time.Second,
		},
		AIGen: AIGenConfig{
			BaseURL: "",
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Security: SecurityConfig{
			JWTSecret:  "dev_secret_change_me",
			InviteCode: "",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.EvalInterval == 0 {
		cfg.App.EvalInterval = defaults.App.EvalInterval
	}
	if cfg.App.CycleLockTTL == 0 {
		cfg.App.CycleLockTTL = defaults.App.CycleLockTTL
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.DispatchBatch == 0 {
		cfg.App.DispatchBatch = defaults.App.DispatchBatch
	}
	if cfg.App.MaxShopsPerUser == 0 {
		cfg.App.MaxShopsPerUser = defaults.App.MaxShopsPerUser
	}
	if cfg.App.MaxRulesPerShop == 0 {
		cfg.App.MaxRulesPerShop = defaults.App.MaxRulesPerShop
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.EvalQueueStream == "" {
		cfg.App.EvalQueueStream = defaults.App.EvalQueueStream
	}
	if cfg.App.EvalQueueGroup == "" {
		cfg.App.EvalQueueGroup = defaults.App.EvalQueueGroup
	}
	if cfg.Security.JWTSecret == "" {
		if cfg.App.JWTSecret != "" {
			cfg.Security.JWTSecret = cfg.App.JWTSecret
		} else {
			cfg.Security.JWTSecret = defaults.Security.JWTSecret
		}
	}
	if cfg.App.JWTSecret == "" {
		cfg.App.JWTSecret = cfg.Security.JWTSecret
	}
	if cfg.Shopify.APIVersion == "" {
		cfg.Shopify.APIVersion = defaults.Shopify.APIVersion
	}
	if cfg.Shopify.Timeout == 0 {
		cfg.Shopify.Timeout = defaults.Shopify.Timeout
	}
	if cfg.Shopify.MaxRetries == 0 {
		cfg.Shopify.MaxRetries = defaults.Shopify.MaxRetries
	}
	if cfg.AdPlatform.PinterestBaseURL == "" {
		cfg.AdPlatform.PinterestBaseURL = defaults.AdPlatform.PinterestBaseURL
	}
	if cfg.AdPlatform.MetaBaseURL == "" {
		cfg.AdPlatform.MetaBaseURL = defaults.AdPlatform.MetaBaseURL
	}
	if cfg.AdPlatform.GoogleBaseURL == "" {
		cfg.AdPlatform.GoogleBaseURL = defaults.AdPlatform.GoogleBaseURL
	}
	if cfg.AdPlatform.Timeout == 0 {
		cfg.AdPlatform.Timeout = defaults.AdPlatform.Timeout
	}
	if cfg.AIGen.Model == "" {
		cfg.AIGen.Model = defaults.AIGen.Model
	}
	if cfg.AIGen.Timeout == 0 {
		cfg.AIGen.Timeout = defaults.AIGen.Timeout
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("invite_code", "INVITE_CODE")
	_ = viper.BindEnv("aigen_api_key", "AIGEN_API_KEY")
	_ = viper.BindEnv("pinterest_token", "PINTEREST_TOKEN")
	_ = viper.BindEnv("meta_token", "META_TOKEN")
	_ = viper.BindEnv("google_ads_token", "GOOGLE_ADS_TOKEN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_EVAL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.EvalInterval = d
		}
	}
	if v := os.Getenv("APP_CYCLE_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.CycleLockTTL = d
		}
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_DISPATCH_BATCH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.DispatchBatch = i
		}
	}
	if v := os.Getenv("APP_MAX_SHOPS_PER_USER"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxShopsPerUser = i
		}
	}
	if v := os.Getenv("APP_MAX_RULES_PER_SHOP"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxRulesPerShop = i
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if v := os.Getenv("APP_EVAL_QUEUE_STREAM"); v != "" {
		cfg.App.EvalQueueStream = v
	}
	if v := os.Getenv("APP_EVAL_QUEUE_GROUP"); v != "" {
		cfg.App.EvalQueueGroup = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
		cfg.App.JWTSecret = v
	}
	if v := os.Getenv("APP_INVITE_CODE"); v != "" {
		cfg.Security.InviteCode = v
	}
	if v := viper.GetString("invite_code"); v != "" {
		cfg.Security.InviteCode = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			host := v
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = host + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SHOPIFY_API_VERSION"); v != "" {
		cfg.Shopify.APIVersion = v
	}
	if v := os.Getenv("PINTEREST_BASE_URL"); v != "" {
		cfg.AdPlatform.PinterestBaseURL = v
	}
	if v := os.Getenv("META_BASE_URL"); v != "" {
		cfg.AdPlatform.MetaBaseURL = v
	}
	if v := os.Getenv("GOOGLE_ADS_BASE_URL"); v != "" {
		cfg.AdPlatform.GoogleBaseURL = v
	}
	if v := viper.GetString("pinterest_token"); v != "" {
		cfg.AdPlatform.PinterestToken = v
	}
	if v := viper.GetString("meta_token"); v != "" {
		cfg.AdPlatform.MetaToken = v
	}
	if v := viper.GetString("google_ads_token"); v != "" {
		cfg.AdPlatform.GoogleToken = v
	}

	if v := os.Getenv("AIGEN_BASE_URL"); v != "" {
		cfg.AIGen.BaseURL = v
	}
	if v := viper.GetString("aigen_api_key"); v != "" {
		cfg.AIGen.APIKey = v
	}
	if v := os.Getenv("AIGEN_MODEL"); v != "" {
		cfg.AIGen.Model = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "podautom",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		EvalInterval string `json:"eval_interval"`
		CycleLockTTL string `json:"cycle_lock_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.EvalInterval != "" {
		duration, err := time.ParseDuration(aux.EvalInterval)
		if err != nil {
			return fmt.Errorf("invalid eval_interval format: %w", err)
		}
		a.EvalInterval = duration
	}
	if aux.CycleLockTTL != "" {
		duration, err := time.ParseDuration(aux.CycleLockTTL)
		if err != nil {
			return fmt.Errorf("invalid cycle_lock_ttl format: %w", err)
		}
		a.CycleLockTTL = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		EvalInterval string `json:"eval_interval"`
		CycleLockTTL string `json:"cycle_lock_ttl"`
		*Alias
	}{
		EvalInterval: a.EvalInterval.String(),
		CycleLockTTL: a.CycleLockTTL.String(),
		Alias:        (*Alias)(&a),
	})
}

// DurationJSON 辅助：ShopifyConfig / AdPlatformConfig / AIGenConfig 的超时
// 字段同样接受 "15s" 这种字符串。
func (s *ShopifyConfig) UnmarshalJSON(data []byte) error {
	type Alias ShopifyConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{Alias: (*Alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid shopify timeout: %w", err)
		}
		s.Timeout = d
	}
	return nil
}

func (c *AdPlatformConfig) UnmarshalJSON(data []byte) error {
	type Alias AdPlatformConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{Alias: (*Alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid ad_platform timeout: %w", err)
		}
		c.Timeout = d
	}
	return nil
}

func (c *AIGenConfig) UnmarshalJSON(data []byte) error {
	type Alias AIGenConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{Alias: (*Alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid ai_gen timeout: %w", err)
		}
		c.Timeout = d
	}
	return nil
}
