package oracle

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/llm"
	"Yelp-Navigator/internal/state"
	"Yelp-Navigator/pkg/logger"
)

const (
	defaultCallTimeout = 30 * time.Second
	maxAttempts        = 2
)

// Adapter 通过 llm.Client 实现 Oracle，负责超时、严格解析与一次立即重试。
type Adapter struct {
	client  llm.Client
	timeout time.Duration
	log     *slog.Logger
}

// AdapterOption 定义可选的适配器配置。
type AdapterOption func(*Adapter)

// WithCallTimeout 设置单次调用的超时时间。
func WithCallTimeout(timeout time.Duration) AdapterOption {
	return func(a *Adapter) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

// NewAdapter 创建基于大模型的决策预言机。
func NewAdapter(client llm.Client, opts ...AdapterOption) (*Adapter, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitFailure, "未配置大模型客户端")
	}
	a := &Adapter{client: client, timeout: defaultCallTimeout, log: logger.Named("oracle")}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Decide 实现 Oracle。
func (a *Adapter) Decide(ctx context.Context, in SupervisorContext) (SupervisorDecision, error) {
	var out SupervisorDecision
	err := a.call(ctx, "decide", llm.Request{System: decideSystemPrompt, Prompt: mustJSON(in), JSON: true, MaxTokens: 200}, func(text string) error {
		var raw struct {
			Action string `json:"action"`
			Reason string `json:"reason"`
		}
		if err := decodeObject(text, &raw); err != nil {
			return err
		}
		action := Action(strings.ToLower(strings.TrimSpace(raw.Action)))
		if !action.Valid() {
			return fmt.Errorf("未知的动作 %q", raw.Action)
		}
		out = SupervisorDecision{Action: action, Reason: strings.TrimSpace(raw.Reason)}
		return nil
	})
	return out, err
}

// Clarify 实现 Oracle。
func (a *Adapter) Clarify(ctx context.Context, in ClarifyContext) (ClarifyDecision, error) {
	var out ClarifyDecision
	err := a.call(ctx, "clarify", llm.Request{System: clarifySystemPrompt, Prompt: mustJSON(in), JSON: true, MaxTokens: 300}, func(text string) error {
		var raw struct {
			Status      string `json:"status"`
			Query       string `json:"query"`
			Location    string `json:"location"`
			DetailLevel string `json:"detail_level"`
			Focus       string `json:"focus"`
			Question    string `json:"question"`
		}
		if err := decodeObject(text, &raw); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(raw.Status)) {
		case "clarified":
			if strings.TrimSpace(raw.Query) == "" && strings.TrimSpace(raw.Focus) == "" {
				return stdErrors.New("clarified 结果缺少 query")
			}
			level, err := strictLevel(raw.DetailLevel)
			if err != nil {
				return err
			}
			out = Clarified{Intent: Intent{
				Query:       strings.TrimSpace(raw.Query),
				Location:    strings.TrimSpace(raw.Location),
				DetailLevel: level,
				Focus:       knownFocus(in.KnownBusinesses, raw.Focus),
			}}
		case "needs_more_info":
			question := strings.TrimSpace(raw.Question)
			if question == "" {
				return stdErrors.New("needs_more_info 结果缺少 question")
			}
			out = NeedsMoreInfo{Question: question}
		default:
			return fmt.Errorf("未知的澄清状态 %q", raw.Status)
		}
		return nil
	})
	return out, err
}

// Summarize 实现 Oracle。
func (a *Adapter) Summarize(ctx context.Context, in SummaryContext) (string, error) {
	var out string
	err := a.call(ctx, "summarize", llm.Request{System: summarizeSystemPrompt, Prompt: mustJSON(in), MaxTokens: 800}, func(text string) error {
		text = strings.TrimSpace(text)
		if text == "" {
			return stdErrors.New("总结为空")
		}
		out = text
		return nil
	})
	return out, err
}

// Review 实现 Oracle。
func (a *Adapter) Review(ctx context.Context, in ApprovalContext) (ApprovalDecision, error) {
	var out ApprovalDecision
	err := a.call(ctx, "review", llm.Request{System: reviewSystemPrompt, Prompt: mustJSON(in), JSON: true, MaxTokens: 200}, func(text string) error {
		var raw struct {
			Outcome string `json:"outcome"`
			Reason  string `json:"reason"`
		}
		if err := decodeObject(text, &raw); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(raw.Outcome)) {
		case "approve":
			out = Approve{}
		case "revise":
			out = Revise{Reason: strings.TrimSpace(raw.Reason)}
		default:
			return fmt.Errorf("未知的审批结果 %q", raw.Outcome)
		}
		return nil
	})
	return out, err
}

// call 执行一次带超时的调用，解析失败或调用失败时立即重试一次。
func (a *Adapter) call(ctx context.Context, op string, req llm.Request, parse func(string) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return xerrors.Wrap(xerrors.CodeCancelled, err, "决策调用已取消")
		}

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		resp, err := a.client.Generate(callCtx, req)
		cancel()

		switch {
		case err != nil:
			lastErr = err
		case resp == nil:
			lastErr = stdErrors.New("模型未返回内容")
		default:
			lastErr = parse(resp.Text)
		}
		if lastErr == nil {
			return nil
		}
		a.log.Warn("决策调用失败",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()))
	}
	if ctx.Err() != nil {
		return xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "决策调用已取消")
	}
	return xerrors.Wrap(xerrors.CodeOracleFailure, lastErr, op+" 调用失败", xerrors.WithMetadata("op", op))
}

// decodeObject 从模型输出中截取第一个 JSON 对象并严格解码。
func decodeObject(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("输出中没有 JSON 对象: %q", truncate(text))
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("解析 JSON 失败: %w", err)
	}
	return nil
}

func strictLevel(raw string) (state.DetailLevel, error) {
	switch state.DetailLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case "", state.DetailGeneral:
		return state.DetailGeneral, nil
	case state.DetailDetailed:
		return state.DetailDetailed, nil
	case state.DetailReviews:
		return state.DetailReviews, nil
	default:
		return "", fmt.Errorf("未知的信息粒度 %q", raw)
	}
}

func knownFocus(known []BusinessRef, focus string) string {
	focus = strings.TrimSpace(focus)
	for _, ref := range known {
		if ref.ID == focus {
			return focus
		}
	}
	return ""
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(raw)
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 80 {
		return string([]rune(text)[:80]) + "..."
	}
	return text
}
