package optimizer

import (
	"fmt"

	"github.com/Kashino17/pod-autom-sub000/internal/model"
)

// MetricsSource 按 (指标, 时间窗口) 提供预聚合好的指标值。
//
// 聚合由调用方完成（广告平台 API 或测试模式），引擎本身不做任何再聚合；
// 条件链里的每个条件可以引用各自不同的时间窗口。
type MetricsSource interface {
	// Value 返回指标在指定窗口（天）内的聚合值。
	Value(metric model.Metric, timeRangeDays int) (float64, error)
	// IsTest 返回该数据源是否为测试模式的固定指标。
	IsTest() bool
}

// MetricsSnapshot 记录一次评估实际读取过的指标值，键形如 "spend_7d"。
//
// 快照随审计日志落库，保证评估可复现：测试模式的日志里只会出现测试指标。
type MetricsSnapshot map[string]float64

func snapshotKey(metric model.Metric, days int) string {
	return fmt.Sprintf("%s_%dd", metric, days)
}

// StaticSource 是基于内存表的指标源，用于规则预览接口与测试。
type StaticSource struct {
	Values map[string]float64 // snapshotKey -> value
	Test   bool
}

// NewStaticSource 创建静态指标源。
func NewStaticSource(values map[string]float64) *StaticSource {
	return &StaticSource{Values: values}
}

// Set 写入一个指标值。
func (s *StaticSource) Set(metric model.Metric, days int, v float64) {
	if s.Values == nil {
		s.Values = map[string]float64{}
	}
	s.Values[snapshotKey(metric, days)] = v
}

func (s *StaticSource) Value(metric model.Metric, days int) (float64, error) {
	v, ok := s.Values[snapshotKey(metric, days)]
	if !ok {
		return 0, fmt.Errorf("metric %s over %dd not provided", metric, days)
	}
	return v, nil
}

func (s *StaticSource) IsTest() bool { return s.Test }

// testSource 返回优化设置里的固定测试指标，忽略时间窗口。
type testSource struct {
	spend     float64
	checkouts float64
	roas      float64
}

func (t testSource) Value(metric model.Metric, _ int) (float64, error) {
	switch metric {
	case model.MetricSpend:
		return t.spend, nil
	case model.MetricCheckouts:
		return t.checkouts, nil
	case model.MetricROAS:
		return t.roas, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

func (t testSource) IsTest() bool { return true }

// SourceFor 在一次评估开始前为广告系列选定指标源。
//
// 测试模式只对设置中指定的那一个广告系列生效，其余广告系列仍然使用
// live 源；选择在每轮评估做一次，而不是在规则层面反复判断。
func SourceFor(settings *model.OptimizationSettings, campaignID uint, live MetricsSource) MetricsSource {
	if settings != nil && settings.TestModeEnabled &&
		settings.TestCampaignID != nil && *settings.TestCampaignID == campaignID {
		return testSource{
			spend:     settings.TestSpend,
			checkouts: settings.TestCheckouts,
			roas:      settings.TestROAS,
		}
	}
	return live
}

// recordingSource 包装指标源，记录评估实际读取过的值。
type recordingSource struct {
	inner MetricsSource
	seen  MetricsSnapshot
}

func newRecordingSource(inner MetricsSource) *recordingSource {
	return &recordingSource{inner: inner, seen: MetricsSnapshot{}}
}

func (r *recordingSource) Value(metric model.Metric, days int) (float64, error) {
	v, err := r.inner.Value(metric, days)
	if err != nil {
		return 0, err
	}
	r.seen[snapshotKey(metric, days)] = v
	return v, nil
}

func (r *recordingSource) IsTest() bool { return r.inner.IsTest() }
