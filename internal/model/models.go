package model

import (
	"time"
)

// ProductPhase 表示商品所处的生命周期评估阶段。
type ProductPhase string

const (
	PhaseStart ProductPhase = "start" // Start Phase: 上架后的首个评估窗口
	PhasePost  ProductPhase = "post"  // Post Phase: 通过 Start Phase 后的滚动窗口评估
)

// ProductStatus 表示商品的生命周期状态。
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"   // 正常在售，参与每日评估
	ProductArchived ProductStatus = "archived" // 已淘汰（Loser），库存已清零
	ProductWinner   ProductStatus = "winner"   // 爆款（Winner），进入广告放量
)

// Platform 表示广告投放平台。
type Platform string

const (
	PlatformPinterest Platform = "pinterest"
	PlatformMeta      Platform = "meta"
	PlatformGoogle    Platform = "google"
)

// Shop 表示一个接入自动化的 Shopify 店铺（租户）。
//
// 所有规则配置、商品与广告系列都挂在店铺之下。
type Shop struct {
	ID        uint      `gorm:"primaryKey"` // 店铺唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	UserID uint   `gorm:"not null;index"`    // 所属运营账号 ID
	User   User   `gorm:"foreignKey:UserID"` // 所属运营账号
	Name   string `gorm:"not null"`          // 店铺展示名称

	ShopifyDomain string `gorm:"type:varchar(191);uniqueIndex;not null"` // myshopify 域名
	ShopifyToken  string `gorm:"not null"`                               // Admin API 访问令牌

	IsEnabled bool `gorm:"default:true"` // 是否参与每日评估

	Products  []Product  `gorm:"foreignKey:ShopID"` // 店铺商品
	Campaigns []Campaign `gorm:"foreignKey:ShopID"` // 店铺广告系列
}

// Product 表示由自动化创建并持续评估的店铺商品。
//
// ShopifyID 是商品在 Shopify 的唯一标识，用于回写库存与标签。
type Product struct {
	ID        uint      `gorm:"primaryKey"` // 内部 ID
	CreatedAt time.Time // 创建时间（即商品上架时间）
	UpdatedAt time.Time // 更新时间

	ShopID    uint   `gorm:"not null;index"`                         // 所属店铺 ID
	ShopifyID string `gorm:"type:varchar(191);uniqueIndex;not null"` // Shopify 商品 ID
	Title     string // 商品标题

	Phase      ProductPhase  `gorm:"type:varchar(16);default:start"`  // 当前评估阶段
	Status     ProductStatus `gorm:"type:varchar(16);default:active"` // 生命周期状态
	ArchivedAt *time.Time    // 淘汰时间（Loser）
	WinnerAt   *time.Time    // 晋升 Winner 的时间
}

// ProductSnapshot 表示商品在固定时间窗口内的滚动销量快照。
//
// 快照由外部的销量同步任务写入，评估引擎只读不改。
type ProductSnapshot struct {
	ID        uint `gorm:"primaryKey"`
	ProductID uint `gorm:"not null;index"` // 商品 ID

	Sales3d  float64 // 近 3 天销量
	Sales7d  float64 // 近 7 天销量
	Sales10d float64 // 近 10 天销量
	Sales14d float64 // 近 14 天销量

	CapturedAt time.Time `gorm:"index"` // 快照生成时间
}

// LifecycleConfig 保存单个店铺的生命周期规则配置。
//
// Start Phase 三个阈值满足 DeleteThreshold < KeepThreshold <= WinnerThreshold，
// 在保存接口处校验；Post Phase 按 4 个时间窗口的目标值与 MinBuckets 判定去留。
type LifecycleConfig struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ShopID uint `gorm:"uniqueIndex;not null"` // 每个店铺一份配置

	// Start Phase（以近 7 天销量评估）
	DeleteThreshold float64 `gorm:"default:1"`  // 销量 <= 此值 => 淘汰换品
	KeepThreshold   float64 `gorm:"default:4"`  // 销量 >= 此值 => 进入 Post Phase
	WinnerThreshold float64 `gorm:"default:10"` // 销量 >= 此值 => 标记 Winner

	// Post Phase：4 个窗口各自的销量目标
	Day3Target  float64 `gorm:"default:2"`
	Day7Target  float64 `gorm:"default:3"`
	Day10Target float64 `gorm:"default:4.5"`
	Day14Target float64 `gorm:"default:6"`
	MinBuckets  int     `gorm:"default:2"` // 至少达标的窗口数（1-4）
}

// DefaultLifecycleConfig 返回未配置店铺使用的默认生命周期配置。
func DefaultLifecycleConfig(shopID uint) *LifecycleConfig {
	return &LifecycleConfig{
		ShopID:          shopID,
		DeleteThreshold: 1,
		KeepThreshold:   4,
		WinnerThreshold: 10,
		Day3Target:      2,
		Day7Target:      3,
		Day10Target:     4.5,
		Day14Target:     6,
		MinBuckets:      2,
	}
}

// CampaignStatus 表示广告系列状态。
type CampaignStatus string

const (
	CampaignActive CampaignStatus = "active"
	CampaignPaused CampaignStatus = "paused"
)

// Campaign 表示一个被预算优化引擎托管的广告系列。
type Campaign struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ShopID     uint     `gorm:"not null;index"`                // 所属店铺 ID
	Platform   Platform `gorm:"type:varchar(16);not null"`     // 投放平台
	ExternalID string   `gorm:"type:varchar(191);uniqueIndex"` // 平台侧广告系列 ID
	Name       string   // 广告系列名称

	DailyBudget float64        // 当前日预算
	Status      CampaignStatus `gorm:"type:varchar(16);default:active"`
}

// Metric 表示优化规则条件可引用的广告指标。
type Metric string

const (
	MetricSpend     Metric = "spend"     // 花费
	MetricCheckouts Metric = "checkouts" // 结算数
	MetricROAS      Metric = "roas"      // 广告支出回报率
)

// Operator 表示条件的比较运算符。
type Operator string

const (
	OpGTE Operator = "gte" // >=
	OpLTE Operator = "lte" // <=
	OpGT  Operator = "gt"  // >
	OpLT  Operator = "lt"  // <
	OpEQ  Operator = "eq"  // =
)

// Connective 表示与下一个条件的布尔连接方式。
type Connective string

const (
	ConnectiveAnd Connective = "and"
	ConnectiveOr  Connective = "or"
)

// ActionType 表示规则命中后对预算执行的动作。
type ActionType string

const (
	ActionScaleUp   ActionType = "scale_up"
	ActionScaleDown ActionType = "scale_down"
	ActionPause     ActionType = "pause"
)

// ActionUnit 表示动作数值的单位。
type ActionUnit string

const (
	UnitPercent ActionUnit = "percent" // ActionValue 为当前预算的百分比
	UnitAmount  ActionUnit = "amount"  // ActionValue 为固定金额
)

// OptimizationRule 表示一条用户定义的预算优化规则。
//
// 规则之间相互独立，按 Priority 从高到低依次评估，首条命中的规则生效。
type OptimizationRule struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ShopID    uint   `gorm:"not null;index"` // 所属店铺 ID
	Name      string `gorm:"not null"`       // 规则名称
	IsEnabled bool   `gorm:"default:true"`   // 是否启用
	Priority  int    `gorm:"default:0"`      // 优先级，越大越先评估

	ActionType  ActionType `gorm:"type:varchar(16);not null"` // 命中后的动作
	ActionValue float64    // 动作数值（百分比或金额）
	ActionUnit  ActionUnit `gorm:"type:varchar(16);default:percent"`
	MinBudget   float64    // 预算下限
	MaxBudget   float64    // 预算上限

	Conditions []RuleCondition `gorm:"foreignKey:RuleID"` // 条件链，按 Position 排列
}

// RuleCondition 表示规则条件链中的一个条件。
//
// Connective 保存在当前条件上，描述它与「下一个」条件的连接方式；
// 链尾条件的 Connective 为空。
type RuleCondition struct {
	ID     uint `gorm:"primaryKey"`
	RuleID uint `gorm:"not null;index"` // 所属规则 ID

	Position      int        `gorm:"default:0"`                 // 链内位置（从 0 开始）
	Metric        Metric     `gorm:"type:varchar(16);not null"` // 引用的指标
	Operator      Operator   `gorm:"type:varchar(8);not null"`  // 比较运算符
	Value         float64    // 比较阈值
	TimeRangeDays int        `gorm:"default:7"`       // 指标聚合窗口（天）
	Connective    Connective `gorm:"type:varchar(8)"` // 与下一条件的连接方式
}

// OptimizationSettings 保存单个店铺的优化引擎开关与测试模式。
//
// 测试模式开启时，TestCampaignID 指定的广告系列用固定的测试指标代替实时指标，
// 其余广告系列不受影响。
type OptimizationSettings struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ShopID    uint `gorm:"uniqueIndex;not null"`
	IsEnabled bool `gorm:"default:false"` // 预算优化总开关

	TestModeEnabled bool  `gorm:"default:false"`
	TestCampaignID  *uint // 测试模式生效的广告系列
	TestSpend       float64
	TestCheckouts   float64
	TestROAS        float64
}

// LogAction 表示审计日志记录的评估结果。
type LogAction string

const (
	LogScaledUp   LogAction = "scaled_up"
	LogScaledDown LogAction = "scaled_down"
	LogPaused     LogAction = "paused"
	LogSkipped    LogAction = "skipped"
	LogFailed     LogAction = "failed"
	LogReplaced   LogAction = "replaced" // 生命周期：Start Phase 淘汰换品
	LogKept       LogAction = "kept"     // 生命周期：保留
	LogAdvanced   LogAction = "advanced" // 生命周期：进入 Post Phase
	LogArchived   LogAction = "archived" // 生命周期：Post Phase 淘汰（Loser）
	LogWinner     LogAction = "winner"   // 生命周期：晋升 Winner
	LogHold       LogAction = "hold"     // 生命周期：观望，本轮不动作
)

// OptimizationLog 是评估引擎写入的只追加审计记录。
//
// 每次评估（命中、跳过或失败）恰好产生一条；创建后永不修改。
// MetricsJSON 保存评估实际使用的指标快照，测试模式下即为测试指标。
type OptimizationLog struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`

	ShopID     uint  `gorm:"not null;index"`
	CampaignID *uint `gorm:"index"` // 预算优化评估时记录
	ProductID  *uint `gorm:"index"` // 生命周期评估时记录
	RuleID     *uint // 命中的规则 ID（未命中为空）
	RuleName   string

	Action    LogAction `gorm:"type:varchar(16);not null;index"`
	OldBudget *float64
	NewBudget *float64
	OldStatus string `gorm:"type:varchar(16)"`
	NewStatus string `gorm:"type:varchar(16)"`

	MetricsJSON  string `gorm:"type:text"`              // 评估使用的指标快照（JSON）
	IsTestRun    bool   `gorm:"default:false"`          // 是否使用测试指标
	CycleKey     string `gorm:"type:varchar(64);uniqueIndex"` // 评估周期标识，唯一索引保证每周期至多一条
	ErrorMessage string `gorm:"type:text"`              // Action 为 failed 时的错误信息
}

// WinnerProduct 记录一次 Winner 判定，保存判定时刻的销量快照。
//
// 每个商品至多一条，由放量任务创建。
type WinnerProduct struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	ShopID    uint `gorm:"not null;index"`
	ProductID uint `gorm:"uniqueIndex;not null"`

	Sales3d       float64 // 判定时近 3 天销量
	Sales7d       float64 // 判定时近 7 天销量
	Sales10d      float64
	Sales14d      float64
	BucketsPassed int // 判定时达标的窗口数

	Campaigns []WinnerCampaign `gorm:"foreignKey:WinnerProductID"`
}

// CreativeType 表示放量广告的素材类型。
type CreativeType string

const (
	CreativeImage    CreativeType = "image"
	CreativeVideo    CreativeType = "video"
	CreativeCarousel CreativeType = "carousel"
)

// WinnerCampaignStatus 表示放量广告的生成状态。
type WinnerCampaignStatus string

const (
	WinnerCampaignDraft    WinnerCampaignStatus = "draft"
	WinnerCampaignLaunched WinnerCampaignStatus = "launched"
	WinnerCampaignFailed   WinnerCampaignStatus = "failed"
)

// WinnerCampaign 表示为 Winner 商品生成的放量广告系列。
type WinnerCampaign struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	WinnerProductID uint         `gorm:"not null;index"`
	Platform        Platform     `gorm:"type:varchar(16);not null"`
	CreativeType    CreativeType `gorm:"type:varchar(16);default:image"`
	LinkType        string       `gorm:"type:varchar(16);default:product"` // product / collection
	Headline        string       // 生成的广告标题
	AdCopy          string       `gorm:"type:text"` // 生成的广告文案

	ExternalID string               `gorm:"type:varchar(191)"` // 投放成功后的平台侧 ID
	Status     WinnerCampaignStatus `gorm:"type:varchar(16);default:draft"`
}
