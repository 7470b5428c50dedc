package state

import (
	"strings"

	xerrors "Yelp-Navigator/internal/errors"
)

// Phase 是监督者状态机的节点。
type Phase string

const (
	PhaseClarifying       Phase = "clarifying"
	PhaseDeciding         Phase = "deciding"
	PhaseRunningSearch    Phase = "running_search"
	PhaseRunningDetails   Phase = "running_details"
	PhaseRunningSentiment Phase = "running_sentiment"
	PhaseSummarizing      Phase = "summarizing"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseFinalized        Phase = "finalized"
	PhaseAborted          Phase = "aborted"
)

// Terminal 判断是否为终止状态。
func (p Phase) Terminal() bool {
	return p == PhaseFinalized || p == PhaseAborted
}

// IsTool 判断是否为工具节点。
func (p Phase) IsTool() bool {
	switch p {
	case PhaseRunningSearch, PhaseRunningDetails, PhaseRunningSentiment:
		return true
	default:
		return false
	}
}

// DetailLevel 是澄清后的信息粒度。
type DetailLevel string

const (
	DetailGeneral  DetailLevel = "general"
	DetailDetailed DetailLevel = "detailed"
	DetailReviews  DetailLevel = "reviews"
)

// ParseDetailLevel 解析粒度字符串，无法识别时回落到 general。
func ParseDetailLevel(raw string) DetailLevel {
	switch DetailLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case DetailDetailed:
		return DetailDetailed
	case DetailReviews:
		return DetailReviews
	default:
		return DetailGeneral
	}
}

// ErrorKind 记录最近一次失败的类别。
type ErrorKind string

const (
	ErrorNone             ErrorKind = ""
	ErrorTransient        ErrorKind = "transient"
	ErrorRateLimited      ErrorKind = "rate_limited"
	ErrorAuth             ErrorKind = "auth"
	ErrorMalformedRequest ErrorKind = "malformed_request"
	ErrorOracleFailure    ErrorKind = "oracle_failure"
	ErrorBudgetExceeded   ErrorKind = "budget_exceeded"
)

// Retryable 判断该类别是否允许退避重试。
func (k ErrorKind) Retryable() bool {
	return k == ErrorTransient
}

// KindOf 将统一错误码映射为错误类别。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorNone
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeRateLimited:
		return ErrorRateLimited
	case xerrors.CodeToolAuth:
		return ErrorAuth
	case xerrors.CodeMalformedRequest, xerrors.CodeInvalidArgument:
		return ErrorMalformedRequest
	case xerrors.CodeOracleFailure:
		return ErrorOracleFailure
	case xerrors.CodeBudgetExceeded:
		return ErrorBudgetExceeded
	default:
		return ErrorTransient
	}
}
