package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Kashino17/pod-autom-sub000/internal/config"
	"github.com/Kashino17/pod-autom-sub000/internal/model"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/metrics"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/ratelimit"
)

// restClient 各平台共用的 REST 实现，差异只在 baseURL 与令牌。
type restClient struct {
	platform   model.Platform
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	logger     *slog.Logger
}

// NewPinterestClient 创建 Pinterest 客户端。
func NewPinterestClient(cfg *config.AdPlatformConfig, limiter *ratelimit.RateLimiter, logger *slog.Logger) Client {
	return newRESTClient(model.PlatformPinterest, cfg.PinterestBaseURL, cfg.PinterestToken, cfg.Timeout, limiter, logger)
}

// NewMetaClient 创建 Meta 客户端。
func NewMetaClient(cfg *config.AdPlatformConfig, limiter *ratelimit.RateLimiter, logger *slog.Logger) Client {
	return newRESTClient(model.PlatformMeta, cfg.MetaBaseURL, cfg.MetaToken, cfg.Timeout, limiter, logger)
}

// NewGoogleClient 创建 Google Ads 客户端。
func NewGoogleClient(cfg *config.AdPlatformConfig, limiter *ratelimit.RateLimiter, logger *slog.Logger) Client {
	return newRESTClient(model.PlatformGoogle, cfg.GoogleBaseURL, cfg.GoogleToken, cfg.Timeout, limiter, logger)
}

func newRESTClient(platform model.Platform, baseURL, token string, timeout time.Duration, limiter *ratelimit.RateLimiter, logger *slog.Logger) *restClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &restClient{
		platform:   platform,
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logger,
	}
}

func (c *restClient) Platform() model.Platform { return c.platform }

type metricResponse struct {
	Value float64 `json:"value"`
}

func (c *restClient) FetchMetric(ctx context.Context, externalID string, metric model.Metric, timeRangeDays int) (float64, error) {
	path := fmt.Sprintf("/campaigns/%s/metrics?metric=%s&days=%d", externalID, metric, timeRangeDays)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("fetch %s metric %s: %w", c.platform, metric, err)
	}

	var resp metricResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode %s metric: %w", c.platform, err)
	}
	return resp.Value, nil
}

func (c *restClient) UpdateBudget(ctx context.Context, externalID string, dailyBudget float64) error {
	payload := map[string]interface{}{"daily_budget": dailyBudget}
	if _, err := c.do(ctx, http.MethodPatch, "/campaigns/"+externalID, payload); err != nil {
		return fmt.Errorf("update %s budget: %w", c.platform, err)
	}

	c.logger.Info("campaign budget updated",
		slog.String("platform", string(c.platform)),
		slog.String("external_id", externalID),
		slog.Float64("daily_budget", dailyBudget))
	return nil
}

func (c *restClient) UpdateStatus(ctx context.Context, externalID string, status model.CampaignStatus) error {
	payload := map[string]interface{}{"status": string(status)}
	if _, err := c.do(ctx, http.MethodPatch, "/campaigns/"+externalID, payload); err != nil {
		return fmt.Errorf("update %s status: %w", c.platform, err)
	}

	c.logger.Info("campaign status updated",
		slog.String("platform", string(c.platform)),
		slog.String("external_id", externalID),
		slog.String("status", string(status)))
	return nil
}

type createResponse struct {
	ID string `json:"id"`
}

func (c *restClient) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	payload := map[string]interface{}{
		"name":         spec.Name,
		"daily_budget": spec.DailyBudget,
		"headline":     spec.Headline,
		"ad_copy":      spec.AdCopy,
		"link_url":     spec.LinkURL,
		"status":       string(model.CampaignActive),
	}
	body, err := c.do(ctx, http.MethodPost, "/campaigns", payload)
	if err != nil {
		return "", fmt.Errorf("create %s campaign: %w", c.platform, err)
	}

	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode %s create response: %w", c.platform, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%s returned empty campaign id", c.platform)
	}

	c.logger.Info("campaign created",
		slog.String("platform", string(c.platform)),
		slog.String("external_id", resp.ID),
		slog.String("name", spec.Name))
	return resp.ID, nil
}

func (c *restClient) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.PlatformRequestTotal.WithLabelValues(string(c.platform), "error").Inc()
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.PlatformRequestTotal.WithLabelValues(string(c.platform), strconv.Itoa(resp.StatusCode)).Inc()
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	metrics.PlatformRequestTotal.WithLabelValues(string(c.platform), "ok").Inc()
	return body, nil
}
