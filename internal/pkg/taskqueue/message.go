package taskqueue

import "time"

// 消息里的实体类型。
const (
	EntityProduct  = "product"
	EntityCampaign = "campaign"
)

// 消息来源。
const (
	SourcePeriodic = "periodic" // 周期调度
	SourceManual   = "manual"   // 用户手动触发
)

// EvalMessage 表示评估队列中的一条消息。
//
// 调度器按 (店铺, 实体) 粒度发消息，worker 按消息执行一次生命周期
// 判定或预算评估；CycleKey 标识评估周期，用于幂等锁与审计日志关联。
type EvalMessage struct {
	ShopID     uint      `json:"shop_id"`
	EntityType string    `json:"entity_type"` // "product" / "campaign"
	EntityID   uint      `json:"entity_id"`
	CycleKey   string    `json:"cycle_key"`
	Timestamp  time.Time `json:"timestamp"` // 消息创建时间
	Retry      int       `json:"retry"`     // 重试次数
	Source     string    `json:"source"`    // "periodic" / "manual"
}

// NewProductMessage 创建一条商品生命周期评估消息。
func NewProductMessage(shopID, productID uint, cycleKey, source string) *EvalMessage {
	return &EvalMessage{
		ShopID:     shopID,
		EntityType: EntityProduct,
		EntityID:   productID,
		CycleKey:   cycleKey,
		Timestamp:  time.Now(),
		Source:     source,
	}
}

// NewCampaignMessage 创建一条广告系列预算评估消息。
func NewCampaignMessage(shopID, campaignID uint, cycleKey, source string) *EvalMessage {
	return &EvalMessage{
		ShopID:     shopID,
		EntityType: EntityCampaign,
		EntityID:   campaignID,
		CycleKey:   cycleKey,
		Timestamp:  time.Now(),
		Source:     source,
	}
}
