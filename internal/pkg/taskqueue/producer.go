package taskqueue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Producer 评估消息生产者，由 API 进程的调度器使用。
type Producer struct {
	queue  *EvalQueue
	logger *slog.Logger
}

// NewProducer 创建生产者。streamName 为空时使用默认 Stream。
func NewProducer(rdb *redis.Client, logger *slog.Logger, streamName ...string) *Producer {
	stream := "podautom:eval:queue"
	if len(streamName) > 0 && streamName[0] != "" {
		stream = streamName[0]
	}

	return &Producer{
		queue:  NewEvalQueue(rdb, logger, stream),
		logger: logger,
	}
}

// SubmitProduct 提交一条商品生命周期评估消息。
func (p *Producer) SubmitProduct(ctx context.Context, shopID, productID uint, cycleKey, source string) error {
	if productID == 0 {
		return fmt.Errorf("invalid product id: %d", productID)
	}
	return p.submit(ctx, NewProductMessage(shopID, productID, cycleKey, normalizeSource(source)))
}

// SubmitCampaign 提交一条广告系列预算评估消息。
func (p *Producer) SubmitCampaign(ctx context.Context, shopID, campaignID uint, cycleKey, source string) error {
	if campaignID == 0 {
		return fmt.Errorf("invalid campaign id: %d", campaignID)
	}
	return p.submit(ctx, NewCampaignMessage(shopID, campaignID, cycleKey, normalizeSource(source)))
}

func (p *Producer) submit(ctx context.Context, msg *EvalMessage) error {
	if err := p.queue.Publish(ctx, msg); err != nil {
		p.logger.Error("submit evaluation failed",
			slog.Uint64("shop_id", uint64(msg.ShopID)),
			slog.String("entity_type", msg.EntityType),
			slog.Uint64("entity_id", uint64(msg.EntityID)),
			slog.String("error", err.Error()))
		return err
	}

	p.logger.Info("evaluation submitted",
		slog.Uint64("shop_id", uint64(msg.ShopID)),
		slog.String("entity_type", msg.EntityType),
		slog.Uint64("entity_id", uint64(msg.EntityID)),
		slog.String("cycle_key", msg.CycleKey),
		slog.String("source", msg.Source))

	return nil
}

func normalizeSource(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}

// QueueLength 获取当前队列长度。
func (p *Producer) QueueLength(ctx context.Context) (int64, error) {
	return p.queue.StreamInfo(ctx)
}
