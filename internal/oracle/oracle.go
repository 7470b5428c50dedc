// Package oracle is the single boundary between the supervisor loop and
// model-backed reasoning. Every call site gets its own closed decision type so
// that free-form model output never reaches the state machine.
package oracle

import (
	"context"

	"Yelp-Navigator/internal/state"
	"Yelp-Navigator/internal/tools"
)

// Action 是监督者可选择的下一步。
type Action string

const (
	ActionRunSearch    Action = "run_search"
	ActionRunDetails   Action = "run_details"
	ActionRunSentiment Action = "run_sentiment"
	ActionFinalize     Action = "finalize"
)

// Valid 判断是否为受支持的动作。
func (a Action) Valid() bool {
	switch a {
	case ActionRunSearch, ActionRunDetails, ActionRunSentiment, ActionFinalize:
		return true
	default:
		return false
	}
}

// SupervisorContext 是监督者决策所需的最小上下文，只含布尔标记与计数，
// 大小与商户数量无关。
type SupervisorContext struct {
	DetailLevel        state.DetailLevel `json:"detail_level"`
	HasFocus           bool              `json:"has_focus"`
	HasSearchResults   bool              `json:"has_search_results"`
	ResultCount        int               `json:"result_count"`
	TargetCount        int               `json:"target_count"`
	DetailsMissing     int               `json:"details_missing"`
	SentimentMissing   int               `json:"sentiment_missing"`
	SearchAttempted    bool              `json:"search_attempted"`
	DetailsAttempted   bool              `json:"details_attempted"`
	SentimentAttempted bool              `json:"sentiment_attempted"`
	ErrorCount         int               `json:"error_count"`
	RetryCount         int               `json:"retry_count"`
	RevisionCount      int               `json:"revision_count"`
	LastErrorKind      state.ErrorKind   `json:"last_error_kind,omitempty"`
	Steps              int               `json:"steps"`
}

// SupervisorDecision 是决策结果。
type SupervisorDecision struct {
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Intent 是澄清阶段得到的用户意图。
type Intent struct {
	Query       string            `json:"query"`
	Location    string            `json:"location"`
	DetailLevel state.DetailLevel `json:"detail_level"`
	// Focus 是用户追问的已知商户 ID，可为空。
	Focus string `json:"focus,omitempty"`
}

// BusinessRef 是已知商户的 ID 与名称。
type BusinessRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ClarifyContext 是澄清调用的输入。
type ClarifyContext struct {
	// Messages 是本轮请求中用户发出的全部消息，按时间排序。
	Messages         []string      `json:"messages"`
	Attempts         int           `json:"attempts"`
	KnownBusinesses  []BusinessRef `json:"known_businesses,omitempty"`
	PreviousQuery    string        `json:"previous_query,omitempty"`
	PreviousLocation string        `json:"previous_location,omitempty"`
}

// ClarifyDecision 是封闭的澄清结果：Clarified 或 NeedsMoreInfo。
type ClarifyDecision interface {
	isClarifyDecision()
}

// Clarified 表示意图已明确。
type Clarified struct {
	Intent Intent
}

// NeedsMoreInfo 表示需要向用户追问。
type NeedsMoreInfo struct {
	Question string
}

func (Clarified) isClarifyDecision()     {}
func (NeedsMoreInfo) isClarifyDecision() {}

// BusinessSummary 汇集单个商户可供总结的数据。
type BusinessSummary struct {
	tools.Business
	Details   *tools.BusinessDetails `json:"details,omitempty"`
	Sentiment *tools.SentimentReport `json:"sentiment,omitempty"`
}

// SummaryContext 是生成总结的输入。
type SummaryContext struct {
	Query       string            `json:"query"`
	Location    string            `json:"location"`
	DetailLevel state.DetailLevel `json:"detail_level"`
	Businesses  []BusinessSummary `json:"businesses"`
	Feedback    string            `json:"feedback,omitempty"`
	Partial     bool              `json:"partial,omitempty"`
}

// ApprovalContext 是审批调用的输入。
type ApprovalContext struct {
	Query         string            `json:"query"`
	Location      string            `json:"location"`
	DetailLevel   state.DetailLevel `json:"detail_level"`
	Summary       string            `json:"summary"`
	ResultCount   int               `json:"result_count"`
	RevisionCount int               `json:"revision_count"`
}

// ApprovalDecision 是封闭的审批结果：Approve 或 Revise。
type ApprovalDecision interface {
	isApprovalDecision()
}

// Approve 表示接受总结。
type Approve struct{}

// Revise 表示总结需要返工。
type Revise struct {
	Reason string
}

func (Approve) isApprovalDecision() {}
func (Revise) isApprovalDecision()  {}

// Oracle 是决策预言机。每个方法对应一个调用点。
type Oracle interface {
	Decide(ctx context.Context, in SupervisorContext) (SupervisorDecision, error)
	Clarify(ctx context.Context, in ClarifyContext) (ClarifyDecision, error)
	Summarize(ctx context.Context, in SummaryContext) (string, error)
	Review(ctx context.Context, in ApprovalContext) (ApprovalDecision, error)
}
