// Package optimizer 实现广告预算优化的纯规则引擎。
//
// 引擎对单个广告系列做一次评估：按优先级扫描启用的规则，首条条件链
// 成立的规则生效，计算新预算或暂停信号。引擎不访问网络与数据库，
// 副作用（改预算、写日志）由调用方执行。
package optimizer

import (
	"fmt"
	"sort"

	"github.com/Kashino17/pod-autom-sub000/internal/model"
)

// BudgetState 是评估输入的预算现状。
type BudgetState struct {
	Current float64
	Status  model.CampaignStatus
}

// Decision 是一次评估的完整结果。
//
// 无论命中、跳过还是失败，每次评估恰好产生一个 Decision，
// 调用方据此写入恰好一条审计日志。
type Decision struct {
	Action model.LogAction // scaled_up / scaled_down / paused / skipped / failed

	Rule *model.OptimizationRule // 命中的规则，未命中为 nil

	OldBudget float64
	NewBudget float64
	OldStatus model.CampaignStatus
	NewStatus model.CampaignStatus

	Snapshot  MetricsSnapshot // 评估实际读取的指标
	IsTestRun bool
	Err       error // Action 为 failed 时的原因
}

// Evaluate 对一个广告系列执行一次规则评估。
//
// 规则先按启用过滤，再按 Priority 降序稳定排序（同优先级保持传入顺序）；
// 首条链成立的规则生效，之后的规则不再评估。任何条件取值失败或规则
// 数据异常都会折叠成 failed 结果，不向调用方抛出，保证同一批次里
// 其他广告系列不受影响。
func Evaluate(rules []model.OptimizationRule, src MetricsSource, state BudgetState) (dec Decision) {
	rec := newRecordingSource(src)
	dec = Decision{
		Action:    model.LogSkipped,
		OldBudget: state.Current,
		NewBudget: state.Current,
		OldStatus: state.Status,
		NewStatus: state.Status,
		Snapshot:  rec.seen,
		IsTestRun: src.IsTest(),
	}

	defer func() {
		if r := recover(); r != nil {
			dec.Action = model.LogFailed
			dec.NewBudget = dec.OldBudget
			dec.NewStatus = dec.OldStatus
			dec.Err = fmt.Errorf("rule evaluation panic: %v", r)
		}
	}()

	enabled := make([]model.OptimizationRule, 0, len(rules))
	for _, r := range rules {
		if r.IsEnabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority > enabled[j].Priority
	})

	for i := range enabled {
		rule := &enabled[i]
		matched, err := evalChain(rule.Conditions, rec)
		if err != nil {
			dec.Action = model.LogFailed
			dec.Rule = rule
			dec.Err = fmt.Errorf("rule %q: %w", rule.Name, err)
			return dec
		}
		if !matched {
			continue
		}

		dec.Rule = rule
		applyAction(rule, state, &dec)
		return dec
	}

	return dec
}

// evalChain 从左到右折叠条件链。
//
// 连接符保存在前一个条件上（缺省按 AND），没有运算符优先级，
// 也不短路：链上每个条件都会取值，保证审计快照完整。
func evalChain(conds []model.RuleCondition, src MetricsSource) (bool, error) {
	if len(conds) == 0 {
		return false, fmt.Errorf("rule has no conditions")
	}

	sorted := make([]model.RuleCondition, len(conds))
	copy(sorted, conds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	result, err := evalCondition(sorted[0], src)
	if err != nil {
		return false, err
	}
	for i := 1; i < len(sorted); i++ {
		next, err := evalCondition(sorted[i], src)
		if err != nil {
			return false, err
		}
		switch sorted[i-1].Connective {
		case model.ConnectiveOr:
			result = result || next
		default: // 缺省与 AND 等价
			result = result && next
		}
	}
	return result, nil
}

func evalCondition(cond model.RuleCondition, src MetricsSource) (bool, error) {
	v, err := src.Value(cond.Metric, cond.TimeRangeDays)
	if err != nil {
		return false, fmt.Errorf("condition %s over %dd: %w", cond.Metric, cond.TimeRangeDays, err)
	}
	return compare(v, cond.Operator, cond.Value)
}

// compare 做纯数值比较，不做任何类型转换。
func compare(value float64, op model.Operator, threshold float64) (bool, error) {
	switch op {
	case model.OpGTE:
		return value >= threshold, nil
	case model.OpLTE:
		return value <= threshold, nil
	case model.OpGT:
		return value > threshold, nil
	case model.OpLT:
		return value < threshold, nil
	case model.OpEQ:
		return value == threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// clamp 把预算压回 [min, max] 区间；min > max 时取 min，保证确定性。
func clamp(v, min, max float64) float64 {
	if min > max {
		return min
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// applyAction 根据命中的规则计算新预算或暂停信号。
func applyAction(rule *model.OptimizationRule, state BudgetState, dec *Decision) {
	switch rule.ActionType {
	case model.ActionPause:
		dec.Action = model.LogPaused
		dec.NewBudget = state.Current
		dec.NewStatus = model.CampaignPaused

	case model.ActionScaleUp:
		dec.Action = model.LogScaledUp
		dec.NewBudget = clamp(scaled(state.Current, rule.ActionValue, rule.ActionUnit), rule.MinBudget, rule.MaxBudget)

	case model.ActionScaleDown:
		dec.Action = model.LogScaledDown
		dec.NewBudget = clamp(scaled(state.Current, -rule.ActionValue, rule.ActionUnit), rule.MinBudget, rule.MaxBudget)

	default:
		dec.Action = model.LogFailed
		dec.Err = fmt.Errorf("rule %q: unknown action %q", rule.Name, rule.ActionType)
	}
}

// scaled 按百分比或固定金额调整预算，delta 为负表示下调。
func scaled(current, delta float64, unit model.ActionUnit) float64 {
	if unit == model.UnitAmount {
		return current + delta
	}
	return current * (1 + delta/100)
}
