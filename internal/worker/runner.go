// Package worker 实现评估消息的消费循环。
//
// Runner 从 Redis Stream 拉取评估消息，投到进程内 worker 池并发执行，
// 成功 Ack、失败走重试/死信。评估本身由 evaluator.Service 完成。
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Kashino17/pod-autom-sub000/internal/pkg/queue"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/taskqueue"
)

// Handler 处理一条评估消息。
type Handler func(ctx context.Context, msg *taskqueue.EvalMessage) error

const shutdownTimeout = 30 * time.Second

// Runner 消费循环。
type Runner struct {
	consumer *taskqueue.Consumer
	pool     *queue.Pool
	handler  Handler
	logger   *slog.Logger
}

// NewRunner 创建消费循环。
func NewRunner(consumer *taskqueue.Consumer, pool *queue.Pool, handler Handler, logger *slog.Logger) *Runner {
	return &Runner{
		consumer: consumer,
		pool:     pool,
		handler:  handler,
		logger:   logger,
	}
}

// Run 启动消费循环，阻塞直到 ctx 取消。
func (r *Runner) Run(ctx context.Context) {
	r.pool.Start(ctx)
	r.logger.Info("worker runner started")

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		default:
		}

		msgs, err := r.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.shutdown()
				return
			}
			r.logger.Error("read eval queue failed", slog.String("error", err.Error()))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			r.enqueueMessage(ctx, msg)
		}
	}
}

// enqueueMessage 把消息投到 worker 池，池满时阻塞等待而不是丢弃。
func (r *Runner) enqueueMessage(ctx context.Context, msg *taskqueue.MessageWithID) {
	job := func(jobCtx context.Context) error {
		r.handleMessage(jobCtx, msg)
		return nil
	}
	if err := r.pool.EnqueueBlocking(ctx, job); err != nil {
		// 进程退出中，消息留在 pending，重启后由 XAUTOCLAIM 接管
		r.logger.Warn("enqueue eval message aborted",
			slog.String("msg_id", msg.ID),
			slog.String("error", err.Error()))
	}
}

func (r *Runner) handleMessage(ctx context.Context, msg *taskqueue.MessageWithID) {
	err := r.handler(ctx, msg.Message)
	if err == nil {
		if ackErr := r.consumer.Ack(ctx, msg.ID); ackErr != nil {
			r.logger.Error("ack failed",
				slog.String("msg_id", msg.ID),
				slog.String("error", ackErr.Error()))
		}
		return
	}

	r.logger.Error("evaluation failed",
		slog.String("msg_id", msg.ID),
		slog.Uint64("shop_id", uint64(msg.Message.ShopID)),
		slog.String("entity_type", msg.Message.EntityType),
		slog.Uint64("entity_id", uint64(msg.Message.EntityID)),
		slog.Int("retry", msg.Message.Retry),
		slog.String("error", err.Error()))

	action, failErr := r.consumer.HandleFailure(ctx, msg, err)
	if failErr != nil {
		r.logger.Error("failure handling failed",
			slog.String("msg_id", msg.ID),
			slog.String("error", failErr.Error()))
		return
	}
	r.logger.Info("evaluation rescheduled",
		slog.String("msg_id", msg.ID),
		slog.String("action", string(action)))
}

func (r *Runner) shutdown() {
	if err := r.pool.ShutdownWithTimeout(shutdownTimeout); err != nil {
		r.logger.Warn("worker pool shutdown timed out", slog.String("error", err.Error()))
	}
	r.logger.Info("worker runner stopped")
}
