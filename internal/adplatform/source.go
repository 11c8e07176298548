package adplatform

import (
	"context"

	"github.com/Kashino17/pod-autom-sub000/internal/model"
)

// CampaignSource 把某个广告系列的平台指标适配成规则引擎的指标源。
//
// 引擎接口不带 context，这里在构造时绑定一次评估的 ctx；
// 一次评估内的所有条件取值共享同一个截止时间。
type CampaignSource struct {
	ctx        context.Context
	client     Client
	externalID string
}

// NewCampaignSource 创建指标源。
func NewCampaignSource(ctx context.Context, client Client, externalID string) *CampaignSource {
	return &CampaignSource{
		ctx:        ctx,
		client:     client,
		externalID: externalID,
	}
}

func (s *CampaignSource) Value(metric model.Metric, timeRangeDays int) (float64, error) {
	return s.client.FetchMetric(s.ctx, s.externalID, metric, timeRangeDays)
}

func (s *CampaignSource) IsTest() bool { return false }
