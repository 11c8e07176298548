// Package taskqueue 基于 Redis Streams 实现评估任务队列。
//
// API 侧的调度器是生产者，worker 进程是消费者；消费者组 + XAUTOCLAIM
// 保证消息至少投递一次，重试超限的消息进入死信 Stream。
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// EvalQueue 封装 Redis Streams 的队列操作。
type EvalQueue struct {
	rdb        *redis.Client
	logger     *slog.Logger
	streamName string // Stream 名称，如 "podautom:eval:queue"
}

// NewEvalQueue 创建一个队列实例。
func NewEvalQueue(rdb *redis.Client, logger *slog.Logger, streamName string) *EvalQueue {
	if streamName == "" {
		streamName = "podautom:eval:queue"
	}
	return &EvalQueue{
		rdb:        rdb,
		logger:     logger,
		streamName: streamName,
	}
}

// Publish 发布一条评估消息到队列（XADD）。
func (q *EvalQueue) Publish(ctx context.Context, msg *EvalMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return q.publishRaw(ctx, q.streamName, map[string]interface{}{
		"data": string(data),
	})
}

func (q *EvalQueue) publishRaw(ctx context.Context, stream string, values map[string]interface{}) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: 100000,
		Approx: false,
		Values: values,
	}

	msgID, err := q.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}

	q.logger.Debug("eval message published",
		slog.String("stream", stream),
		slog.String("msg_id", msgID),
		slog.Any("fields", values))

	return nil
}

// CreateConsumerGroup 创建消费者组（XGROUP CREATE），已存在则忽略。
func (q *EvalQueue) CreateConsumerGroup(ctx context.Context, groupName string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.streamName, groupName, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}

	q.logger.Info("consumer group ready",
		slog.String("stream", q.streamName),
		slog.String("group", groupName))

	return nil
}

// StreamInfo 返回 Stream 当前消息数量。
func (q *EvalQueue) StreamInfo(ctx context.Context) (int64, error) {
	length, err := q.rdb.XLen(ctx, q.streamName).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return length, nil
}

func parseMessage(data string) (*EvalMessage, error) {
	var msg EvalMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}
