// Package aigen 封装放量广告文案的生成调用。
//
// 对调用方只有一个 prompt -> text 的接口；未配置生成服务时退化为
// 固定模板，保证爆款流程不因外部服务缺席而中断。
package aigen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Kashino17/pod-autom-sub000/internal/config"
)

// Prompt 一次文案生成请求。
//
// Instruction 是发给生成服务的完整指令；Subject 是文案主体（商品标题），
// 降级模板只使用 Subject，不会把指令文本写进文案。
type Prompt struct {
	Instruction string
	Subject     string
}

// Generator 文案生成接口。
type Generator interface {
	// Generate 根据请求生成一段文案。
	Generate(ctx context.Context, p Prompt) (string, error)
}

// HTTPGenerator 调用 OpenAI 兼容的 chat completions 接口。
type HTTPGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPGenerator 创建 HTTP 生成器。
func NewHTTPGenerator(cfg *config.AIGenConfig, logger *slog.Logger) *HTTPGenerator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGenerator{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if p.Instruction == "" {
		return "", fmt.Errorf("empty prompt")
	}

	payload := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "user", Content: p.Instruction},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate: status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty generation result")
	}

	g.logger.Debug("copy generated", slog.Int("prompt_len", len(p.Instruction)))
	return out.Choices[0].Message.Content, nil
}

// NoopGenerator 用商品标题套固定模板，用于未配置生成服务的部署与测试。
type NoopGenerator struct{}

func (NoopGenerator) Generate(_ context.Context, p Prompt) (string, error) {
	subject := strings.TrimSpace(p.Subject)
	if subject == "" {
		return "Shop the look", nil
	}
	return fmt.Sprintf("Shop the look: %s", subject), nil
}

// ForConfig 按配置选择实现：BaseURL 为空时用 Noop。
func ForConfig(cfg *config.AIGenConfig, logger *slog.Logger) Generator {
	if cfg == nil || cfg.BaseURL == "" {
		return NoopGenerator{}
	}
	return NewHTTPGenerator(cfg, logger)
}
