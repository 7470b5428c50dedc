// Package anthropic adapts the Anthropic Messages API to the llm.Client
// boundary.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/llm"
)

const (
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
)

// Config 描述调用 Anthropic 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// HTTPClient 仅用于测试注入。
	HTTPClient *http.Client
}

// Client 通过官方 SDK 调用 Claude 模型。
type Client struct {
	inner sdk.Client
	model sdk.Model
}

// NewClient 根据配置创建客户端。未配置 APIKey 时读取 ANTHROPIC_API_KEY。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	// 重试由上层的决策适配器负责。
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := sdk.Model(strings.TrimSpace(cfg.Model))
	if model == "" {
		model = sdk.ModelClaudeSonnet4_20250514
	}
	return &Client{inner: sdk.NewClient(opts...), model: model}, nil
}

// Generate 实现 llm.Client。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	system := strings.TrimSpace(req.System)
	if req.JSON {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var builder strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(sdk.TextBlock); ok {
			builder.WriteString(text.Text)
		}
	}
	content := strings.TrimSpace(builder.String())
	if content == "" {
		return nil, errors.New("Anthropic 响应内容为空")
	}
	return &llm.Response{Text: content, Model: string(msg.Model)}, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "请求 Anthropic 超时")
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("Anthropic 返回错误状态 %d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("请求 Anthropic 失败: %w", err)
}
