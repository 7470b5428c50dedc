// Package supervisor implements the routing state machine. It asks the
// decision oracle for the next node, then applies hard guards and budgets
// that the oracle output can never bypass.
package supervisor

import (
	"context"
	"log/slog"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/observability/metrics"
	"Yelp-Navigator/internal/oracle"
	"Yelp-Navigator/internal/state"
	"Yelp-Navigator/pkg/logger"
)

// Limits 汇总监督者使用的所有上限。
type Limits struct {
	MaxErrors            int
	MaxRetryBudget       int
	MaxSteps             int
	MaxEnrich            int
	MaxApprovalRevisions int
}

// DefaultLimits 返回默认上限。
func DefaultLimits() Limits {
	return Limits{
		MaxErrors:            3,
		MaxRetryBudget:       12,
		MaxSteps:             12,
		MaxEnrich:            3,
		MaxApprovalRevisions: 2,
	}
}

func (l *Limits) applyDefaults() {
	def := DefaultLimits()
	if l.MaxErrors <= 0 {
		l.MaxErrors = def.MaxErrors
	}
	if l.MaxRetryBudget <= 0 {
		l.MaxRetryBudget = def.MaxRetryBudget
	}
	if l.MaxSteps <= 0 {
		l.MaxSteps = def.MaxSteps
	}
	if l.MaxEnrich <= 0 {
		l.MaxEnrich = def.MaxEnrich
	}
	// MaxApprovalRevisions 允许为 0，表示从不修订。
	if l.MaxApprovalRevisions < 0 {
		l.MaxApprovalRevisions = def.MaxApprovalRevisions
	}
}

// Supervisor 无内部可变状态，可被多个会话共享。
type Supervisor struct {
	oracle oracle.Oracle
	limits Limits
	log    *slog.Logger
}

// Option 定义可选配置。
type Option func(*Supervisor)

// WithLimits 覆盖默认上限。
func WithLimits(l Limits) Option {
	return func(s *Supervisor) { s.limits = l }
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// New 创建监督者。
func New(o oracle.Oracle, opts ...Option) (*Supervisor, error) {
	if o == nil {
		return nil, xerrors.New(xerrors.CodeInitFailure, "未配置决策预言机")
	}
	s := &Supervisor{oracle: o, limits: DefaultLimits(), log: logger.Named("supervisor")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.limits.applyDefaults()
	return s, nil
}

// Limits 返回生效的上限。
func (s *Supervisor) Limits() Limits {
	return s.limits
}

// Targets 返回本轮增强节点应处理的商户 ID。
func (s *Supervisor) Targets(st *state.Conversation) []string {
	return st.TargetIDs(s.limits.MaxEnrich)
}

// ContextFor 构造交给预言机的最小上下文，大小与商户数量无关。
func (s *Supervisor) ContextFor(st *state.Conversation) oracle.SupervisorContext {
	targets := s.Targets(st)
	in := oracle.SupervisorContext{
		DetailLevel:      st.DetailLevel,
		HasFocus:         st.CurrentBusinessFocus != "",
		HasSearchResults: st.SearchedThisRequest(),
		TargetCount:      len(targets),
		ErrorCount:       st.ErrorCount,
		RetryCount:       st.RetryCount,
		RevisionCount:    st.RevisionCount,
		LastErrorKind:    st.LastErrorKind,
		Steps:            st.Steps,
	}
	if st.ToolResults.Search != nil {
		in.ResultCount = len(st.ToolResults.Search.Businesses)
	}
	for _, id := range targets {
		flags := st.Flags(id)
		if !flags.HasDetails {
			in.DetailsMissing++
		}
		if !flags.HasSentiment {
			in.SentimentMissing++
		}
	}
	for _, p := range st.Trail {
		switch p {
		case state.PhaseRunningSearch:
			in.SearchAttempted = true
		case state.PhaseRunningDetails:
			in.DetailsAttempted = true
		case state.PhaseRunningSentiment:
			in.SentimentAttempted = true
		}
	}
	return in
}

// Decide 在 deciding 状态选择下一个节点。返回的错误只可能是取消。
func (s *Supervisor) Decide(ctx context.Context, st *state.Conversation) (state.Phase, error) {
	st.Steps++
	hasPartial := !st.ToolResults.Empty()

	if st.ErrorCount > s.limits.MaxErrors || st.RetryCount > s.limits.MaxRetryBudget {
		logger.AuditEvent(ctx, "supervisor.budget_exceeded",
			slog.String("session_id", st.SessionID),
			slog.Int("error_count", st.ErrorCount),
			slog.Int("retry_count", st.RetryCount),
			slog.Bool("partial", hasPartial))
		if hasPartial {
			return state.PhaseSummarizing, nil
		}
		if st.LastErrorKind == state.ErrorNone {
			st.LastErrorKind = state.ErrorBudgetExceeded
		}
		return state.PhaseAborted, nil
	}
	if !hasPartial && (st.LastErrorKind == state.ErrorRateLimited || st.LastErrorKind == state.ErrorAuth) {
		return state.PhaseAborted, nil
	}
	if st.Steps > s.limits.MaxSteps {
		s.log.Warn("决策步数超限，强制进入总结", slog.String("session_id", st.SessionID), slog.Int("steps", st.Steps))
		return state.PhaseSummarizing, nil
	}

	in := s.ContextFor(st)
	dec, err := s.oracle.Decide(ctx, in)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeCancelled {
			return state.PhaseDeciding, err
		}
		st.RecordFailure(state.ErrorOracleFailure, 0)
		s.log.Warn("监督决策失败", slog.String("session_id", st.SessionID), slog.String("error", err.Error()))
		return state.PhaseDeciding, nil
	}

	next := s.guard(st, in, phaseFor(dec.Action))
	s.log.Debug("监督决策",
		slog.String("session_id", st.SessionID),
		slog.String("action", string(dec.Action)),
		slog.String("next", string(next)),
		slog.String("reason", dec.Reason))
	return next, nil
}

// guard 对预言机的输出施加硬性约束。
func (s *Supervisor) guard(st *state.Conversation, in oracle.SupervisorContext, next state.Phase) state.Phase {
	fallback := state.PhaseSummarizing
	if !in.HasSearchResults && !in.HasFocus && !in.SearchAttempted {
		fallback = state.PhaseRunningSearch
	}

	switch next {
	case state.PhaseRunningDetails, state.PhaseRunningSentiment:
		if st.DetailLevel == state.DetailGeneral {
			return fallback
		}
		if in.TargetCount == 0 {
			return fallback
		}
	case state.PhaseRunningSearch:
		// 已有结果时重复检索没有意义，转去补齐尚缺的增强数据。
		if in.HasSearchResults {
			return pendingEnrichment(st, in)
		}
	}
	return next
}

// pendingEnrichment 返回按当前粒度仍需执行的增强节点，没有时进入总结。
func pendingEnrichment(st *state.Conversation, in oracle.SupervisorContext) state.Phase {
	if st.DetailLevel == state.DetailGeneral || in.TargetCount == 0 {
		return state.PhaseSummarizing
	}
	if in.DetailsMissing > 0 && !in.DetailsAttempted {
		return state.PhaseRunningDetails
	}
	if st.DetailLevel == state.DetailReviews && in.SentimentMissing > 0 && !in.SentimentAttempted {
		return state.PhaseRunningSentiment
	}
	return state.PhaseSummarizing
}

func phaseFor(action oracle.Action) state.Phase {
	switch action {
	case oracle.ActionRunSearch:
		return state.PhaseRunningSearch
	case oracle.ActionRunDetails:
		return state.PhaseRunningDetails
	case oracle.ActionRunSentiment:
		return state.PhaseRunningSentiment
	default:
		return state.PhaseSummarizing
	}
}

// SummaryContextFor 根据本轮工具结果组装总结输入。
func (s *Supervisor) SummaryContextFor(st *state.Conversation) oracle.SummaryContext {
	in := oracle.SummaryContext{
		Query:       st.Query,
		Location:    st.Location,
		DetailLevel: st.DetailLevel,
		Feedback:    st.RevisionFeedback,
		Partial:     st.ErrorCount > 0,
	}

	var businesses []oracle.BusinessSummary
	seen := make(map[string]bool)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		summary := oracle.BusinessSummary{}
		if st.ToolResults.Search != nil {
			for _, b := range st.ToolResults.Search.Businesses {
				if b.ID == id {
					summary.Business = b
					break
				}
			}
		}
		if summary.ID == "" {
			summary.ID = id
			summary.Name = st.BusinessNames[id]
		}
		if d, ok := st.ToolResults.Details[id]; ok {
			d := d
			summary.Details = &d
		}
		if r, ok := st.ToolResults.Sentiment[id]; ok {
			r := r
			summary.Sentiment = &r
		}
		businesses = append(businesses, summary)
	}

	if st.CurrentBusinessFocus != "" {
		add(st.CurrentBusinessFocus)
	} else {
		for _, id := range st.ToolResults.Search.IDs() {
			add(id)
		}
	}
	for _, id := range st.KnownBusinessIDs {
		_, hasDetails := st.ToolResults.Details[id]
		_, hasSentiment := st.ToolResults.Sentiment[id]
		if hasDetails || hasSentiment {
			add(id)
		}
	}
	in.Businesses = businesses
	return in
}

// Summarize 生成总结，预言机失败时退回确定性摘要。
func (s *Supervisor) Summarize(ctx context.Context, st *state.Conversation) (state.Phase, error) {
	in := s.SummaryContextFor(st)
	text, err := s.oracle.Summarize(ctx, in)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeCancelled {
			return state.PhaseSummarizing, err
		}
		s.log.Warn("总结生成失败，使用确定性摘要", slog.String("session_id", st.SessionID), slog.String("error", err.Error()))
		text = oracle.Digest(in)
	}
	if text == "" {
		text = oracle.Digest(in)
	}
	st.Summary = text
	st.RevisionFeedback = ""
	return state.PhaseAwaitingApproval, nil
}

// Review 在 awaiting_approval 状态决定终止或返工。
func (s *Supervisor) Review(ctx context.Context, st *state.Conversation) (state.Phase, error) {
	if st.RevisionCount >= s.limits.MaxApprovalRevisions {
		logger.AuditEvent(ctx, "supervisor.forced_finalize",
			slog.String("session_id", st.SessionID),
			slog.Int("revision_count", st.RevisionCount))
		return state.PhaseFinalized, nil
	}

	in := oracle.ApprovalContext{
		Query:         st.Query,
		Location:      st.Location,
		DetailLevel:   st.DetailLevel,
		Summary:       st.Summary,
		RevisionCount: st.RevisionCount,
	}
	if st.ToolResults.Search != nil {
		in.ResultCount = len(st.ToolResults.Search.Businesses)
	}
	dec, err := s.oracle.Review(ctx, in)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeCancelled {
			return state.PhaseAwaitingApproval, err
		}
		s.log.Warn("审批失败，按通过处理", slog.String("session_id", st.SessionID), slog.String("error", err.Error()))
		return state.PhaseFinalized, nil
	}

	switch d := dec.(type) {
	case oracle.Revise:
		st.RevisionCount++
		st.RevisionFeedback = d.Reason
		return state.PhaseSummarizing, nil
	default:
		return state.PhaseFinalized, nil
	}
}

// Transition 校验并执行一次状态切换。
func Transition(st *state.Conversation, next state.Phase) error {
	from := st.Phase
	if !Allowed(from, next) {
		return xerrors.New(xerrors.CodeInvalidArgument, "非法的状态切换",
			xerrors.WithMetadata("from", string(from)),
			xerrors.WithMetadata("to", string(next)))
	}
	st.MoveTo(next)
	metrics.Transitions.WithLabelValues(string(from), string(next)).Inc()
	return nil
}

var transitions = map[state.Phase][]state.Phase{
	state.PhaseClarifying: {state.PhaseClarifying, state.PhaseDeciding},
	state.PhaseDeciding: {
		state.PhaseDeciding,
		state.PhaseRunningSearch,
		state.PhaseRunningDetails,
		state.PhaseRunningSentiment,
		state.PhaseSummarizing,
		state.PhaseAborted,
	},
	state.PhaseRunningSearch:    {state.PhaseDeciding},
	state.PhaseRunningDetails:   {state.PhaseDeciding},
	state.PhaseRunningSentiment: {state.PhaseDeciding},
	state.PhaseSummarizing:      {state.PhaseAwaitingApproval},
	state.PhaseAwaitingApproval: {state.PhaseSummarizing, state.PhaseFinalized},
}

// Allowed 判断状态切换是否合法。工具节点只能回到 deciding。
func Allowed(from, to state.Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
