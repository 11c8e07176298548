// Package adplatform 封装广告平台（Pinterest / Meta / Google）的 API 调用。
//
// 预算优化引擎通过这里读指标、写预算与状态；爆款扩量通过这里创建
// 新广告系列。所有出站调用共享 Redis 令牌桶限流。
package adplatform

import (
	"context"
	"fmt"

	"github.com/Kashino17/pod-autom-sub000/internal/model"
)

// Client 是单个广告平台的操作接口。
type Client interface {
	// Platform 返回平台标识。
	Platform() model.Platform

	// FetchMetric 读取广告系列在指定窗口内的聚合指标。
	FetchMetric(ctx context.Context, externalID string, metric model.Metric, timeRangeDays int) (float64, error)

	// UpdateBudget 更新日预算。
	UpdateBudget(ctx context.Context, externalID string, dailyBudget float64) error

	// UpdateStatus 更新广告系列状态（active / paused）。
	UpdateStatus(ctx context.Context, externalID string, status model.CampaignStatus) error

	// CreateCampaign 创建新广告系列，返回平台侧 ID。
	CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error)
}

// CampaignSpec 创建广告系列的参数。
type CampaignSpec struct {
	Name        string
	DailyBudget float64
	Headline    string
	AdCopy      string
	LinkURL     string
}

// Registry 按平台名索引客户端。
type Registry struct {
	clients map[model.Platform]Client
}

// NewRegistry 创建客户端注册表。
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[model.Platform]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Platform()] = c
	}
	return r
}

// Get 返回平台对应的客户端，未配置的平台报错。
func (r *Registry) Get(platform model.Platform) (Client, error) {
	c, ok := r.clients[platform]
	if !ok {
		return nil, fmt.Errorf("platform %q not configured", platform)
	}
	return c, nil
}

// Platforms 返回所有已配置的平台。
func (r *Registry) Platforms() []model.Platform {
	out := make([]model.Platform, 0, len(r.clients))
	for p := range r.clients {
		out = append(out, p)
	}
	return out
}
