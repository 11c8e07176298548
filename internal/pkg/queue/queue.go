// Package queue 提供评估任务的内存队列与固定 worker 池。
//
// 调度器把生命周期判定与预算评估包成 Job 入队，worker 池并发执行；
// 队列深度同步到 Prometheus gauge，满载时非阻塞入队直接丢弃并计数，
// 由下一个评估周期补偿。
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kashino17/pod-autom-sub000/internal/pkg/metrics"
)

// Job 表示一次可执行的评估任务。
type Job func(ctx context.Context) error

// ErrorHandler 错误处理回调函数。
type ErrorHandler func(err error, job Job)

// Pool 是带统计与优雅关闭的评估 worker 池。
type Pool struct {
	logger       *slog.Logger
	workers      int
	jobs         chan Job
	errorHandler ErrorHandler

	wg     sync.WaitGroup
	closed atomic.Bool

	stats poolStats
}

// poolStats 池内部统计信息（使用 atomic 类型）。
type poolStats struct {
	TotalEnqueued  atomic.Int64
	TotalProcessed atomic.Int64
	TotalSucceeded atomic.Int64
	TotalFailed    atomic.Int64
	TotalDropped   atomic.Int64 // 队列满丢弃数
	TotalPanics    atomic.Int64
}

// PoolStats 统计信息快照（普通值类型，可安全拷贝）。
type PoolStats struct {
	TotalEnqueued  int64
	TotalProcessed int64
	TotalSucceeded int64
	TotalFailed    int64
	TotalDropped   int64
	TotalPanics    int64
}

// NewPool 创建评估 worker 池。
//
// workers 与 capacity 至少为 1，非法值会被纠正而不是报错。
func NewPool(logger *slog.Logger, workers int, capacity int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// SetErrorHandler 设置错误处理回调函数。
func (p *Pool) SetErrorHandler(handler ErrorHandler) {
	p.errorHandler = handler
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker stopped", slog.Int("worker_id", id))
			return

		case job, ok := <-p.jobs:
			if !ok {
				p.logger.Debug("worker exit on closed channel", slog.Int("worker_id", id))
				return
			}
			metrics.EvalQueueDepth.Set(float64(len(p.jobs)))
			if job != nil {
				p.executeJob(ctx, job, id)
			}
		}
	}
}

// executeJob 执行单个任务，带 panic 恢复和错误处理。
func (p *Pool) executeJob(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.TotalPanics.Add(1)
			p.logger.Error("evaluation job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	err := job(ctx)
	p.stats.TotalProcessed.Add(1)

	if err != nil {
		p.stats.TotalFailed.Add(1)
		p.logger.Warn("evaluation job failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))

		if p.errorHandler != nil {
			p.errorHandler(err, job)
		}
	} else {
		p.stats.TotalSucceeded.Add(1)
	}
}

// Enqueue 将任务放入队列，若队列已满则返回 false（非阻塞）。
func (p *Pool) Enqueue(job Job) bool {
	if job == nil {
		return false
	}

	if p.closed.Load() {
		p.logger.Warn("pool is closed, reject job")
		return false
	}

	select {
	case p.jobs <- job:
		p.stats.TotalEnqueued.Add(1)
		metrics.EvalQueueDepth.Set(float64(len(p.jobs)))
		return true
	default:
		p.stats.TotalDropped.Add(1)
		p.logger.Warn("pool full, drop job",
			slog.Int("capacity", cap(p.jobs)),
			slog.Int("pending", len(p.jobs)))
		return false
	}
}

// EnqueueBlocking 阻塞式入队，直到成功或 ctx 被取消。
func (p *Pool) EnqueueBlocking(ctx context.Context, job Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}

	if p.closed.Load() {
		return fmt.Errorf("pool is closed")
	}

	select {
	case p.jobs <- job:
		p.stats.TotalEnqueued.Add(1)
		metrics.EvalQueueDepth.Set(float64(len(p.jobs)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 优雅关闭：
//  1. 标记为已关闭（拒绝新任务）
//  2. 关闭任务通道
//  3. 等待所有 worker 完成当前任务
func (p *Pool) Shutdown() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.jobs)
		p.logger.Info("pool shutdown initiated, waiting for workers to finish")
		p.wg.Wait()
		p.logger.Info("pool shutdown completed")
	}
}

// ShutdownWithTimeout 带超时的优雅关闭。
func (p *Pool) ShutdownWithTimeout(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("pool already closed")
	}

	close(p.jobs)
	p.logger.Info("pool shutdown initiated with timeout",
		slog.String("timeout", timeout.String()))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pool shutdown completed")
		return nil
	case <-time.After(timeout):
		p.logger.Error("pool shutdown timeout")
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Stats 获取统计信息的快照。
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TotalEnqueued:  p.stats.TotalEnqueued.Load(),
		TotalProcessed: p.stats.TotalProcessed.Load(),
		TotalSucceeded: p.stats.TotalSucceeded.Load(),
		TotalFailed:    p.stats.TotalFailed.Load(),
		TotalDropped:   p.stats.TotalDropped.Load(),
		TotalPanics:    p.stats.TotalPanics.Load(),
	}
}

// Len 返回当前待处理的任务数量。
func (p *Pool) Len() int {
	return len(p.jobs)
}

// Cap 返回队列容量。
func (p *Pool) Cap() int {
	return cap(p.jobs)
}

// IsClosed 返回池是否已关闭。
func (p *Pool) IsClosed() bool {
	return p.closed.Load()
}

// String 返回池的状态描述。
func (p *Pool) String() string {
	stats := p.Stats()
	return fmt.Sprintf("Pool[workers=%d, capacity=%d, pending=%d, closed=%v, enqueued=%d, processed=%d, succeeded=%d, failed=%d, dropped=%d, panics=%d]",
		p.workers,
		p.Cap(),
		p.Len(),
		p.IsClosed(),
		stats.TotalEnqueued,
		stats.TotalProcessed,
		stats.TotalSucceeded,
		stats.TotalFailed,
		stats.TotalDropped,
		stats.TotalPanics,
	)
}
