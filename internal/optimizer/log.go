package optimizer

import (
	"encoding/json"

	"github.com/Kashino17/pod-autom-sub000/internal/model"
)

// BuildLogEntry 把一次评估结果转成待落库的审计日志行。
//
// 构造是确定性的：快照就是评估实际读取的指标（测试模式下即测试指标），
// cycleKey 标识评估周期，配合 cycle_key 上的唯一索引与消费侧的去重
// 检查保证每个 (实体, 周期) 至多一条日志。
func BuildLogEntry(shopID uint, campaignID *uint, dec Decision, cycleKey string) *model.OptimizationLog {
	entry := &model.OptimizationLog{
		ShopID:     shopID,
		CampaignID: campaignID,
		Action:     dec.Action,
		OldStatus:  string(dec.OldStatus),
		NewStatus:  string(dec.NewStatus),
		IsTestRun:  dec.IsTestRun,
		CycleKey:   cycleKey,
	}

	oldBudget, newBudget := dec.OldBudget, dec.NewBudget
	entry.OldBudget = &oldBudget
	entry.NewBudget = &newBudget

	if dec.Rule != nil {
		ruleID := dec.Rule.ID
		entry.RuleID = &ruleID
		entry.RuleName = dec.Rule.Name
	}
	if dec.Err != nil {
		entry.ErrorMessage = dec.Err.Error()
	}

	if len(dec.Snapshot) > 0 {
		if data, err := json.Marshal(dec.Snapshot); err == nil {
			entry.MetricsJSON = string(data)
		}
	}
	return entry
}

// BuildLifecycleLogEntry 为生命周期判定构造审计日志行。
func BuildLifecycleLogEntry(shopID uint, productID uint, action model.LogAction, snap MetricsSnapshot, cycleKey string, evalErr error) *model.OptimizationLog {
	entry := &model.OptimizationLog{
		ShopID:    shopID,
		ProductID: &productID,
		Action:    action,
		CycleKey:  cycleKey,
	}
	if evalErr != nil {
		entry.ErrorMessage = evalErr.Error()
	}
	if len(snap) > 0 {
		if data, err := json.Marshal(snap); err == nil {
			entry.MetricsJSON = string(data)
		}
	}
	return entry
}
