// Package llm 提供重排版代理使用的 LLM 上游客户端。
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// 默认参数，与前端的整理功能保持一致
const (
	DefaultModel       = "claude-3-5-haiku-latest"
	DefaultMaxTokens   = 1500
	DefaultTemperature = 0.7
)

// Config 是 Anthropic 客户端的配置
type Config struct {
	APIKey    string
	BaseURL   string // 为空时使用官方地址，测试中指向 httptest 服务
	Model     string
	MaxTokens int64
}

// StatusError 表示上游 API 返回的非 2xx 响应
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("anthropic API returned status %d: %s", e.Code, e.Message)
}

// HTTPStatus 返回上游的 HTTP 状态码
func (e *StatusError) HTTPStatus() int { return e.Code }

// AnthropicCompleter 使用 Anthropic Messages API 完成单轮补全
type AnthropicCompleter struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicCompleter 创建补全客户端。APIKey 为空时返回错误，调用方据此视为未配置。
func NewAnthropicCompleter(cfg Config) (*AnthropicCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// 不自动重试，失败直接返回给调用方
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicCompleter{
		client:    &client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Complete 以 system 为系统提示、prompt 为用户消息请求一次补全，返回拼接后的文本。
func (c *AnthropicCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(DefaultTemperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &StatusError{Code: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic API returned no text content")
	}
	return b.String(), nil
}
