// Package metrics 定义 Prometheus 指标并负责注册。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EvaluationTotal 按实体类型与结果统计评估次数。
	// entity: product / campaign；outcome: scaled_up / scaled_down / paused /
	// skipped / failed / replaced / kept / advanced / archived / winner / hold。
	EvaluationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podautom_evaluation_total",
			Help: "Total evaluations by entity type and outcome",
		},
		[]string{"entity", "outcome"},
	)

	// RuleFiredTotal 按动作类型统计规则命中次数。
	RuleFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podautom_rule_fired_total",
			Help: "Total optimization rule matches by action type",
		},
		[]string{"action"},
	)

	// EvaluationDuration 单次评估耗时（含平台调用）。
	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podautom_evaluation_duration_seconds",
			Help:    "Evaluation duration by entity type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	// EvalQueueDepth 内存评估队列当前深度。
	EvalQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "podautom_eval_queue_depth",
			Help: "Current depth of the in-memory evaluation queue",
		},
	)

	// DispatchSkippedTotal 因幂等锁已存在而跳过的调度次数。
	DispatchSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "podautom_dispatch_skipped_total",
			Help: "Dispatches skipped because the cycle lock was already held",
		},
	)

	// TaskAutoClaimTotal 从超时消费者接管的消息数。
	TaskAutoClaimTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "podautom_eval_autoclaim_total",
			Help: "Messages reclaimed from stale stream consumers",
		},
	)

	// TaskDLQTotal 投入死信队列的消息数。
	TaskDLQTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "podautom_eval_dlq_total",
			Help: "Messages moved to the dead letter stream",
		},
	)

	// PlatformRequestTotal 广告平台/Shopify 出站请求计数。
	PlatformRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podautom_platform_request_total",
			Help: "Outbound API requests by platform and status",
		},
		[]string{"platform", "status"},
	)

	// RateLimitWaitDuration 限流等待耗时。
	RateLimitWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "podautom_ratelimit_wait_seconds",
			Help:    "Time spent waiting on the platform rate limiter",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "podautom_ratelimit_timeout_total",
			Help: "Rate limiter waits aborted by context timeout",
		},
	)

	// WinnerPromotedTotal 爆款晋升次数。
	WinnerPromotedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "podautom_winner_promoted_total",
			Help: "Products promoted to winner status",
		},
	)
)

// InitMetrics 把所有指标注册到默认 registry，重复注册直接 panic，
// 因此只在进程启动时调用一次。
func InitMetrics() {
	prometheus.MustRegister(
		EvaluationTotal,
		RuleFiredTotal,
		EvaluationDuration,
		EvalQueueDepth,
		DispatchSkippedTotal,
		TaskAutoClaimTotal,
		TaskDLQTotal,
		PlatformRequestTotal,
		RateLimitWaitDuration,
		RateLimitTimeoutTotal,
		WinnerPromotedTotal,
	)
}
