// Package lifecycle 实现商品生命周期的纯判定引擎。
//
// 引擎只做判定，不做任何副作用；打标签、清库存等由调用方
// （每日评估任务）根据判定结果执行。
package lifecycle

import "github.com/Kashino17/pod-autom-sub000/internal/model"

// Verdict 表示 Start Phase 的判定结果。
type Verdict string

const (
	VerdictReplace Verdict = "replace" // 销量不达标，淘汰换品
	VerdictKeep    Verdict = "keep"    // 达标，进入 Post Phase
	VerdictWinner  Verdict = "winner"  // 爆款，进入广告放量
	VerdictHold    Verdict = "hold"    // 介于淘汰与保留之间，本轮不动作
)

// PostVerdict 表示 Post Phase 的判定结果。
type PostVerdict string

const (
	PostKeep    PostVerdict = "keep"
	PostArchive PostVerdict = "archive" // 淘汰（Loser），调用方清库存并打 LOSER 标签
)

// StartPhaseConfig 是 Start Phase 的阈值配置。
//
// 正常配置满足 DeleteThreshold < KeepThreshold <= WinnerThreshold；
// 判定函数不依赖该不变式，阈值退化（相等或全为零）时仍给出确定结果。
type StartPhaseConfig struct {
	DeleteThreshold float64 // 销量 <= 此值 => Replace
	KeepThreshold   float64 // 销量 >= 此值 => Keep
	WinnerThreshold float64 // 销量 >= 此值 => Winner
}

// PostPhaseConfig 是 Post Phase 的窗口目标配置。
type PostPhaseConfig struct {
	Day3Target  float64
	Day7Target  float64
	Day10Target float64
	Day14Target float64
	MinBuckets  int // 至少达标的窗口数
}

// Snapshot 是商品在 4 个固定窗口内的滚动销量。
type Snapshot struct {
	Day3  float64
	Day7  float64
	Day10 float64
	Day14 float64
}

// PostResult 是 Post Phase 的完整判定结果。
//
// Passed 与 SuccessCount 随结果一并返回，供审计日志与 Winner 记录使用。
type PostResult struct {
	Verdict      PostVerdict
	Passed       [4]bool // 各窗口是否达标，顺序为 day3/day7/day10/day14
	SuccessCount int
}

// ClassifyStartPhase 用近 7 天销量对 Start Phase 商品做判定。
//
// Winner 优先于 Keep 检查：WinnerThreshold >= KeepThreshold 时 Winner 是
// Keep 的子集，先判 Winner 保证爆款不会停在 Keep。销量严格落在
// DeleteThreshold 与 KeepThreshold 之间时返回 Hold，商品留在 Start Phase
// 等下一轮评估。
func ClassifyStartPhase(salesLast7Days float64, cfg StartPhaseConfig) Verdict {
	switch {
	case salesLast7Days >= cfg.WinnerThreshold:
		return VerdictWinner
	case salesLast7Days >= cfg.KeepThreshold:
		return VerdictKeep
	case salesLast7Days <= cfg.DeleteThreshold:
		return VerdictReplace
	default:
		return VerdictHold
	}
}

// ClassifyPostPhase 对 Post Phase 商品做 4 窗口达标判定。
//
// 每个窗口独立比较「销量 >= 目标」，达标窗口数不少于 MinBuckets 则保留，
// 否则淘汰。MinBuckets <= 0 时恒保留，大于 4 时恒淘汰。
func ClassifyPostPhase(snap Snapshot, cfg PostPhaseConfig) PostResult {
	res := PostResult{
		Passed: [4]bool{
			snap.Day3 >= cfg.Day3Target,
			snap.Day7 >= cfg.Day7Target,
			snap.Day10 >= cfg.Day10Target,
			snap.Day14 >= cfg.Day14Target,
		},
	}
	for _, ok := range res.Passed {
		if ok {
			res.SuccessCount++
		}
	}

	if res.SuccessCount >= cfg.MinBuckets {
		res.Verdict = PostKeep
	} else {
		res.Verdict = PostArchive
	}
	return res
}

// StartConfigFrom 从店铺配置提取 Start Phase 阈值。
func StartConfigFrom(cfg *model.LifecycleConfig) StartPhaseConfig {
	return StartPhaseConfig{
		DeleteThreshold: cfg.DeleteThreshold,
		KeepThreshold:   cfg.KeepThreshold,
		WinnerThreshold: cfg.WinnerThreshold,
	}
}

// PostConfigFrom 从店铺配置提取 Post Phase 窗口目标。
func PostConfigFrom(cfg *model.LifecycleConfig) PostPhaseConfig {
	return PostPhaseConfig{
		Day3Target:  cfg.Day3Target,
		Day7Target:  cfg.Day7Target,
		Day10Target: cfg.Day10Target,
		Day14Target: cfg.Day14Target,
		MinBuckets:  cfg.MinBuckets,
	}
}

// SnapshotFrom 从销量快照记录提取判定输入。
func SnapshotFrom(s *model.ProductSnapshot) Snapshot {
	return Snapshot{
		Day3:  s.Sales3d,
		Day7:  s.Sales7d,
		Day10: s.Sales10d,
		Day14: s.Sales14d,
	}
}
