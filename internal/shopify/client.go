// Package shopify 封装 Shopify Admin REST API 调用。
//
// 销量快照从 orders 接口按时间窗口聚合得出；下架（库存清零 + LOSER
// 标签）与爆款标记（WINNER 标签）都通过这里执行。凭据按店铺传入，
// 一个 Client 服务所有店铺。
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Kashino17/pod-autom-sub000/internal/config"
	"github.com/Kashino17/pod-autom-sub000/internal/pkg/metrics"
)

// Credentials 单个店铺的 Admin API 凭据。
type Credentials struct {
	Domain string // myshopify 域名，如 "acme.myshopify.com"
	Token  string // Admin API access token
}

// SalesSnapshot 商品近 N 天的销量聚合。
type SalesSnapshot struct {
	Sales3d  float64
	Sales7d  float64
	Sales10d float64
	Sales14d float64
}

// Client Shopify Admin API 客户端。
type Client struct {
	httpClient *http.Client
	apiVersion string
	maxRetries int
	logger     *slog.Logger

	// baseURL 覆盖用于测试，生产为空时按 Domain 拼接
	baseURL string
}

// NewClient 创建客户端。
func NewClient(cfg *config.ShopifyConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiVersion: cfg.APIVersion,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

type order struct {
	CreatedAt time.Time `json:"created_at"`
	LineItems []struct {
		ProductID int64   `json:"product_id"`
		Quantity  float64 `json:"quantity"`
	} `json:"line_items"`
}

type ordersResponse struct {
	Orders []order `json:"orders"`
}

// FetchSalesSnapshot 拉取商品近 14 天的订单并按窗口聚合销量。
//
// 只请求一次 14 天的订单，再在本地按 created_at 分桶，避免对同一
// 商品打四次 API。
func (c *Client) FetchSalesSnapshot(ctx context.Context, creds Credentials, shopifyProductID int64) (*SalesSnapshot, error) {
	since := time.Now().AddDate(0, 0, -14).UTC().Format(time.RFC3339)
	path := fmt.Sprintf("/orders.json?status=any&created_at_min=%s&limit=250", since)

	body, err := c.do(ctx, creds, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}

	var resp ordersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}

	snap := &SalesSnapshot{}
	now := time.Now()
	for _, o := range resp.Orders {
		age := now.Sub(o.CreatedAt)
		for _, li := range o.LineItems {
			if li.ProductID != shopifyProductID {
				continue
			}
			if age <= 14*24*time.Hour {
				snap.Sales14d += li.Quantity
			}
			if age <= 10*24*time.Hour {
				snap.Sales10d += li.Quantity
			}
			if age <= 7*24*time.Hour {
				snap.Sales7d += li.Quantity
			}
			if age <= 3*24*time.Hour {
				snap.Sales3d += li.Quantity
			}
		}
	}
	return snap, nil
}

type productResponse struct {
	Product struct {
		ID       int64  `json:"id"`
		Tags     string `json:"tags"`
		Variants []struct {
			ID              int64 `json:"id"`
			InventoryItemID int64 `json:"inventory_item_id"`
		} `json:"variants"`
	} `json:"product"`
}

// SetInventoryZero 把商品所有变体的库存清零（下架动作的一半，
// 另一半是打 LOSER 标签）。
func (c *Client) SetInventoryZero(ctx context.Context, creds Credentials, shopifyProductID int64) error {
	body, err := c.do(ctx, creds, http.MethodGet, fmt.Sprintf("/products/%d.json", shopifyProductID), nil)
	if err != nil {
		return fmt.Errorf("fetch product: %w", err)
	}

	var resp productResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode product: %w", err)
	}

	for _, v := range resp.Product.Variants {
		payload := map[string]interface{}{
			"variant": map[string]interface{}{
				"id":                   v.ID,
				"inventory_quantity":   0,
				"inventory_management": "shopify",
			},
		}
		if _, err := c.do(ctx, creds, http.MethodPut, fmt.Sprintf("/variants/%d.json", v.ID), payload); err != nil {
			return fmt.Errorf("zero variant %d: %w", v.ID, err)
		}
	}

	c.logger.Info("inventory zeroed",
		slog.Int64("product_id", shopifyProductID),
		slog.Int("variants", len(resp.Product.Variants)))
	return nil
}

// AddTags 给商品追加标签，已存在的标签不重复。
func (c *Client) AddTags(ctx context.Context, creds Credentials, shopifyProductID int64, tags ...string) error {
	body, err := c.do(ctx, creds, http.MethodGet, fmt.Sprintf("/products/%d.json", shopifyProductID), nil)
	if err != nil {
		return fmt.Errorf("fetch product: %w", err)
	}

	var resp productResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode product: %w", err)
	}

	existing := map[string]bool{}
	merged := []string{}
	for _, t := range strings.Split(resp.Product.Tags, ",") {
		t = strings.TrimSpace(t)
		if t != "" && !existing[t] {
			existing[t] = true
			merged = append(merged, t)
		}
	}
	for _, t := range tags {
		if t != "" && !existing[t] {
			existing[t] = true
			merged = append(merged, t)
		}
	}

	payload := map[string]interface{}{
		"product": map[string]interface{}{
			"id":   shopifyProductID,
			"tags": strings.Join(merged, ", "),
		},
	}
	if _, err := c.do(ctx, creds, http.MethodPut, fmt.Sprintf("/products/%d.json", shopifyProductID), payload); err != nil {
		return fmt.Errorf("update tags: %w", err)
	}

	c.logger.Info("tags added",
		slog.Int64("product_id", shopifyProductID),
		slog.Any("tags", tags))
	return nil
}

// do 执行一次带重试的 Admin API 请求，429/5xx 按 Retry-After 退避。
func (c *Client) do(ctx context.Context, creds Credentials, method, path string, payload interface{}) ([]byte, error) {
	var reqBody []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		reqBody = data
	}

	url := c.baseURL
	if url == "" {
		url = fmt.Sprintf("https://%s/admin/api/%s", creds.Domain, c.apiVersion)
	}
	url += path

	var lastErr error
	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		var reader io.Reader
		if reqBody != nil {
			reader = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("X-Shopify-Access-Token", creds.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			metrics.PlatformRequestTotal.WithLabelValues("shopify", "error").Inc()
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			metrics.PlatformRequestTotal.WithLabelValues("shopify", "ok").Inc()
			if readErr != nil {
				return nil, fmt.Errorf("read response: %w", readErr)
			}
			return body, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			metrics.PlatformRequestTotal.WithLabelValues("shopify", strconv.Itoa(resp.StatusCode)).Inc()
			lastErr = fmt.Errorf("shopify %s %s: status %d", method, path, resp.StatusCode)
			wait := retryAfter(resp)
			c.logger.Warn("shopify request retrying",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}

		default:
			metrics.PlatformRequestTotal.WithLabelValues("shopify", strconv.Itoa(resp.StatusCode)).Inc()
			return nil, fmt.Errorf("shopify %s %s: status %d: %s", method, path, resp.StatusCode, truncate(body, 200))
		}
	}

	return nil, fmt.Errorf("shopify request failed after %d attempts: %w", attempts, lastErr)
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 500 * time.Millisecond
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
