// Package guardrail screens raw user input before it reaches any decision
// step: prompt-injection attempts are blocked and personal data is redacted.
package guardrail

import (
	"regexp"
)

// BlockedWarning 是拦截注入后返回给用户的固定提示。
const BlockedWarning = "Your message looks like an attempt to override the assistant's instructions and was not processed. Please rephrase your business search request."

// Result 是一次筛查的结果。Blocked 为 true 时其余字段不计算。
type Result struct {
	Sanitized  string         `json:"sanitized"`
	Blocked    bool           `json:"blocked"`
	Warning    string         `json:"warning,omitempty"`
	Redactions map[string]int `json:"redactions,omitempty"`
}

// Redactor 描述一类个人信息及其替换占位符。
type Redactor struct {
	Name        string
	Pattern     *regexp.Regexp
	Placeholder string
}

var defaultInjectionPatterns = []string{
	`ignore\s+(all\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules)`,
	`disregard\s+(all\s+)?(the\s+)?(previous|prior|above|earlier)`,
	`forget\s+(everything|all|your\s+instructions)`,
	`system\s*:\s*you\s+are`,
	`new\s+instructions\s*:`,
	`(reveal|show|print)\s+(me\s+)?(your|the)\s+system\s+prompt`,
	`override\s+(your\s+)?(safety|rules|guardrails)`,
	`you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak)\s+mode`,
}

// 顺序有意义：卡号与 SSN 须先于电话号码匹配。
var defaultRedactors = []Redactor{
	{Name: "email", Pattern: regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), Placeholder: "[EMAIL_REDACTED]"},
	{Name: "ssn", Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), Placeholder: "[SSN_REDACTED]"},
	{Name: "credit_card", Pattern: regexp.MustCompile(`\b\d(?:[ -]?\d){12,15}\b`), Placeholder: "[CREDIT_CARD_REDACTED]"},
	{Name: "ip", Pattern: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`), Placeholder: "[IP_REDACTED]"},
	{Name: "phone", Pattern: regexp.MustCompile(`(?:\+?1[ .\-]?)?(?:\(\d{3}\)|\b\d{3})[ .\-]?\d{3}[ .\-]?\d{4}\b`), Placeholder: "[PHONE_REDACTED]"},
}

// Filter 是无状态、确定性的输入过滤器，可被多个会话并发使用。
type Filter struct {
	detectInjection bool
	redactPII       bool
	injection       []*regexp.Regexp
	redactors       []Redactor
	observer        func(Result)
}

// Option 定义可选的过滤器配置。
type Option func(*Filter)

// WithInjectionDetection 开关注入检测。
func WithInjectionDetection(enabled bool) Option {
	return func(f *Filter) { f.detectInjection = enabled }
}

// WithPIIRedaction 开关个人信息脱敏。
func WithPIIRedaction(enabled bool) Option {
	return func(f *Filter) { f.redactPII = enabled }
}

// WithPatterns 追加自定义的注入规则与脱敏规则。
func WithPatterns(set *PatternSet) Option {
	return func(f *Filter) {
		if set == nil {
			return
		}
		f.injection = append(f.injection, set.injection...)
		f.redactors = append(f.redactors, set.redactors...)
	}
}

// WithObserver 在每次筛查后回调，用于指标采集。
func WithObserver(fn func(Result)) Option {
	return func(f *Filter) { f.observer = fn }
}

// New 构造过滤器，默认两项检查均开启。
func New(opts ...Option) *Filter {
	f := &Filter{detectInjection: true, redactPII: true}
	for _, raw := range defaultInjectionPatterns {
		f.injection = append(f.injection, regexp.MustCompile(`(?i)`+raw))
	}
	f.redactors = append(f.redactors, defaultRedactors...)
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Screen 对原始输入执行注入检测与脱敏。
func (f *Filter) Screen(raw string) Result {
	res := f.screen(raw)
	if f.observer != nil {
		f.observer(res)
	}
	return res
}

func (f *Filter) screen(raw string) Result {
	if f.detectInjection {
		for _, pattern := range f.injection {
			if pattern.MatchString(raw) {
				return Result{Blocked: true, Warning: BlockedWarning}
			}
		}
	}

	if !f.redactPII {
		return Result{Sanitized: raw}
	}

	sanitized := raw
	var counts map[string]int
	for _, r := range f.redactors {
		matches := r.Pattern.FindAllStringIndex(sanitized, -1)
		if len(matches) == 0 {
			continue
		}
		if counts == nil {
			counts = make(map[string]int)
		}
		counts[r.Name] += len(matches)
		sanitized = r.Pattern.ReplaceAllLiteralString(sanitized, r.Placeholder)
	}
	return Result{Sanitized: sanitized, Redactions: counts}
}
