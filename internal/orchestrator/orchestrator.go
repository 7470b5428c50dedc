// Package orchestrator runs one user turn end to end: input screening,
// bounded clarification, the supervisor loop and response assembly, with a
// checkpoint after every state transition.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"Yelp-Navigator/internal/checkpoint"
	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/events"
	"Yelp-Navigator/internal/guardrail"
	"Yelp-Navigator/internal/invoker"
	"Yelp-Navigator/internal/observability/alerting"
	"Yelp-Navigator/internal/observability/metrics"
	"Yelp-Navigator/internal/oracle"
	"Yelp-Navigator/internal/state"
	"Yelp-Navigator/internal/supervisor"
	"Yelp-Navigator/internal/tools"
	"Yelp-Navigator/pkg/logger"
)

const defaultMaxClarificationAttempts = 2

// Defaults 是澄清多次失败后采用的意图。
type Defaults struct {
	Query       string            `json:"query" mapstructure:"query"`
	Location    string            `json:"location" mapstructure:"location"`
	DetailLevel state.DetailLevel `json:"detail_level" mapstructure:"detail_level"`
}

func (d *Defaults) applyDefaults() {
	if strings.TrimSpace(d.Query) == "" {
		d.Query = "restaurants"
	}
	if strings.TrimSpace(d.Location) == "" {
		d.Location = "San Francisco, CA"
	}
	d.DetailLevel = state.ParseDetailLevel(string(d.DetailLevel))
}

// Deps 汇集编排器的全部协作者。Events 与 Alerts 可为空。
type Deps struct {
	Guardrail  *guardrail.Filter
	Oracle     oracle.Oracle
	Supervisor *supervisor.Supervisor
	Invoker    *invoker.Invoker
	Store      checkpoint.Store
	Events     events.Publisher
	Alerts     alerting.Dispatcher
}

// Response 是一次回合返回给调用方的内容。
type Response struct {
	SessionID     string                   `json:"session_id"`
	Request       int                      `json:"request,omitempty"`
	Text          string                   `json:"text"`
	Phase         state.Phase              `json:"phase,omitempty"`
	Trail         []state.Phase            `json:"trail,omitempty"`
	Blocked       bool                     `json:"blocked,omitempty"`
	AwaitingInput bool                     `json:"awaiting_input,omitempty"`
	Businesses    []oracle.BusinessSummary `json:"businesses,omitempty"`
	ErrorKind     state.ErrorKind          `json:"error_kind,omitempty"`
	Redactions    map[string]int           `json:"redactions,omitempty"`
}

// Orchestrator 串联各组件处理用户回合。不同会话可并发处理，同一会话的回合串行执行。
type Orchestrator struct {
	deps         Deps
	defaults     Defaults
	maxClarify   int
	log          *slog.Logger
	newSessionID func() string
	sessionsMu   sync.Mutex
	sessions     map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithDefaults 设置澄清兜底意图。
func WithDefaults(d Defaults) Option {
	return func(o *Orchestrator) {
		o.defaults = d
	}
}

// WithMaxClarificationAttempts 设置最多追问次数，0 表示直接采用默认意图。
func WithMaxClarificationAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxClarify = n
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithSessionIDGenerator 替换会话 ID 生成方式。
func WithSessionIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newSessionID = fn
		}
	}
}

// New 校验依赖并创建编排器。
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Guardrail == nil:
		return nil, xerrors.New(xerrors.CodeInitFailure, "未配置输入过滤器")
	case deps.Oracle == nil:
		return nil, xerrors.New(xerrors.CodeInitFailure, "未配置决策预言机")
	case deps.Supervisor == nil:
		return nil, xerrors.New(xerrors.CodeInitFailure, "未配置监督者")
	case deps.Invoker == nil:
		return nil, xerrors.New(xerrors.CodeInitFailure, "未配置工具执行器")
	case deps.Store == nil:
		return nil, xerrors.New(xerrors.CodeInitFailure, "未配置快照存储")
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}

	o := &Orchestrator{
		deps:         deps,
		maxClarify:   defaultMaxClarificationAttempts,
		log:          logger.Named("orchestrator"),
		newSessionID: uuid.NewString,
		sessions:     make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.defaults.applyDefaults()
	return o, nil
}

func (o *Orchestrator) lock(sessionID string) func() {
	o.sessionsMu.Lock()
	l, ok := o.sessions[sessionID]
	if !ok {
		l = &sessionLock{}
		o.sessions[sessionID] = l
	}
	l.refs++
	o.sessionsMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.sessionsMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.sessions, sessionID)
		}
		o.sessionsMu.Unlock()
	}
}

// HandleTurn 处理一条用户消息。sessionID 为空时创建新会话。
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, text string) (*Response, error) {
	metrics.ActiveTurns.Inc()
	defer metrics.ActiveTurns.Dec()

	screened := o.deps.Guardrail.Screen(text)
	if screened.Blocked {
		logger.AuditEvent(ctx, "guardrail.blocked", slog.String("session_id", sessionID))
		o.publish(ctx, events.NewEvent(events.TypeBlocked, sessionID))
		metrics.Turns.WithLabelValues("blocked").Inc()
		return &Response{SessionID: sessionID, Text: screened.Warning, Blocked: true}, nil
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = o.newSessionID()
	}
	unlock := o.lock(sessionID)
	defer unlock()

	st, err := o.deps.Store.Load(ctx, sessionID)
	if err != nil {
		return nil, o.fatal(ctx, sessionID, err)
	}
	if st == nil {
		st = state.New(sessionID)
	}
	if !st.AwaitingInput {
		st.BeginRequest()
	}
	st.AppendMessage(state.RoleUser, screened.Sanitized, "")

	resp, err := o.drive(ctx, st)
	if err != nil {
		return nil, err
	}
	resp.Redactions = screened.Redactions
	return resp, nil
}

// Resume 从最近的快照继续一次被中断的运行。已结束的运行直接返回上次的回复。
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (*Response, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	metrics.ActiveTurns.Inc()
	defer metrics.ActiveTurns.Dec()

	unlock := o.lock(sessionID)
	defer unlock()

	st, err := o.deps.Store.Load(ctx, sessionID)
	if err != nil {
		return nil, o.fatal(ctx, sessionID, err)
	}
	if st == nil {
		return nil, xerrors.New(xerrors.CodeNotFound, "会话不存在", xerrors.WithMetadata("session_id", sessionID))
	}
	if st.Phase.Terminal() || st.AwaitingInput {
		return o.respond(st), nil
	}
	o.log.Info("恢复会话", slog.String("session_id", sessionID), slog.String("phase", string(st.Phase)))
	return o.drive(ctx, st)
}

// Session 返回会话快照，不存在时返回 nil。
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*state.Conversation, error) {
	st, err := o.deps.Store.Load(ctx, sessionID)
	if err != nil {
		return nil, o.fatal(ctx, sessionID, err)
	}
	return st, nil
}

func (o *Orchestrator) drive(ctx context.Context, st *state.Conversation) (*Response, error) {
	if st.Phase == state.PhaseClarifying {
		ready, err := o.clarify(ctx, st)
		if err != nil {
			return nil, err
		}
		if !ready {
			if err := o.save(ctx, st); err != nil {
				return nil, err
			}
			metrics.Turns.WithLabelValues("awaiting_input").Inc()
			return o.respond(st), nil
		}
		if err := o.advance(ctx, st, state.PhaseDeciding); err != nil {
			return nil, err
		}
	}

	for !st.Phase.Terminal() {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		next, err := o.step(ctx, st)
		if err != nil {
			return nil, err
		}
		if err := o.advance(ctx, st, next); err != nil {
			return nil, err
		}
	}
	return o.finish(ctx, st)
}

// clarify 返回 true 表示意图已确定，可以进入决策循环。
func (o *Orchestrator) clarify(ctx context.Context, st *state.Conversation) (bool, error) {
	in := oracle.ClarifyContext{
		Messages:         st.UserMessagesSince(st.RequestStart),
		Attempts:         st.ClarificationAttempts,
		PreviousQuery:    st.Query,
		PreviousLocation: st.Location,
	}
	for _, id := range st.KnownBusinessIDs {
		in.KnownBusinesses = append(in.KnownBusinesses, oracle.BusinessRef{ID: id, Name: st.BusinessNames[id]})
	}

	dec, err := o.deps.Oracle.Clarify(ctx, in)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeCancelled || ctx.Err() != nil {
			return false, cancelled(err)
		}
		o.log.Warn("澄清失败", slog.String("session_id", st.SessionID), slog.String("error", err.Error()))
		dec = oracle.NeedsMoreInfo{Question: "Could you tell me what kind of business you want and where?"}
	}

	switch d := dec.(type) {
	case oracle.Clarified:
		intent := d.Intent
		focus := tools.NormalizeID(intent.Focus)
		if focus != "" && !st.IsKnown(focus) {
			focus = ""
		}
		if focus == "" && (strings.TrimSpace(intent.Query) == "" || strings.TrimSpace(intent.Location) == "") {
			return o.unclear(ctx, st, "Which city or neighborhood should I search in?")
		}
		st.SetIntent(intent.Query, intent.Location, state.ParseDetailLevel(string(intent.DetailLevel)))
		st.CurrentBusinessFocus = focus
		st.AwaitingInput = false
		st.PendingQuestion = ""
		return true, nil
	case oracle.NeedsMoreInfo:
		return o.unclear(ctx, st, d.Question)
	default:
		return o.unclear(ctx, st, "")
	}
}

func (o *Orchestrator) unclear(ctx context.Context, st *state.Conversation, question string) (bool, error) {
	st.ClarificationAttempts++
	if st.ClarificationAttempts > o.maxClarify {
		o.applyDefaults(ctx, st)
		return true, nil
	}
	if strings.TrimSpace(question) == "" {
		question = "What kind of business are you looking for, and where?"
	}
	st.AwaitingInput = true
	st.PendingQuestion = question
	st.Response = question
	st.AppendMessage(state.RoleAssistant, question, "")
	return false, nil
}

func (o *Orchestrator) applyDefaults(ctx context.Context, st *state.Conversation) {
	st.SetIntent(o.defaults.Query, o.defaults.Location, o.defaults.DetailLevel)
	st.CurrentBusinessFocus = ""
	st.AwaitingInput = false
	st.PendingQuestion = ""
	logger.AuditEvent(ctx, "clarification.defaults_applied",
		slog.String("session_id", st.SessionID),
		slog.Int("attempts", st.ClarificationAttempts),
		slog.String("query", st.Query),
		slog.String("location", st.Location))
}

func (o *Orchestrator) step(ctx context.Context, st *state.Conversation) (state.Phase, error) {
	sup := o.deps.Supervisor
	switch st.Phase {
	case state.PhaseDeciding:
		return sup.Decide(ctx, st)
	case state.PhaseRunningSearch, state.PhaseRunningDetails, state.PhaseRunningSentiment:
		tool := toolFor(st.Phase)
		out := o.deps.Invoker.Invoke(ctx, tool, sup.Targets(st), st)
		if out.Err != nil {
			return st.Phase, out.Err
		}
		st.AppendMessage(state.RoleTool, fmt.Sprintf("fetched=%d cache_hits=%d failed=%d skipped=%d",
			out.Fetched, out.CacheHits, out.Failed, out.Skipped), tool)
		return state.PhaseDeciding, nil
	case state.PhaseSummarizing:
		if st.DetailLevel != state.DetailGeneral {
			o.deps.Invoker.Hydrate(ctx, sup.Targets(st), st)
		}
		return sup.Summarize(ctx, st)
	case state.PhaseAwaitingApproval:
		return sup.Review(ctx, st)
	default:
		return st.Phase, xerrors.New(xerrors.CodeInvalidArgument, "无法在当前状态继续",
			xerrors.WithMetadata("phase", string(st.Phase)))
	}
}

func toolFor(phase state.Phase) tools.Name {
	switch phase {
	case state.PhaseRunningDetails:
		return tools.Details
	case state.PhaseRunningSentiment:
		return tools.Sentiment
	default:
		return tools.Search
	}
}

// advance 执行状态切换并立即保存快照。
func (o *Orchestrator) advance(ctx context.Context, st *state.Conversation, next state.Phase) error {
	from := st.Phase
	if err := supervisor.Transition(st, next); err != nil {
		return err
	}
	if err := o.save(ctx, st); err != nil {
		return err
	}
	o.publish(ctx, events.Transition(st, from, next))
	return nil
}

func (o *Orchestrator) save(ctx context.Context, st *state.Conversation) error {
	if err := o.deps.Store.Save(ctx, st.SessionID, st); err != nil {
		return o.fatal(ctx, st.SessionID, err)
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, st *state.Conversation) (*Response, error) {
	outcome := string(st.Phase)
	evType := events.TypeCompleted
	if st.Phase == state.PhaseAborted {
		st.Response = Apology(st.LastErrorKind)
		evType = events.TypeAborted
		logger.AuditEvent(ctx, "turn.aborted",
			slog.String("session_id", st.SessionID),
			slog.String("error_kind", string(st.LastErrorKind)))
	} else {
		st.Response = st.Summary
	}
	st.AppendMessage(state.RoleAssistant, st.Response, "")
	if err := o.save(ctx, st); err != nil {
		return nil, err
	}

	ev := events.NewEvent(evType, st.SessionID)
	ev.Request = st.Request
	ev.To = st.Phase
	ev.Detail = string(st.LastErrorKind)
	o.publish(ctx, ev)
	metrics.Turns.WithLabelValues(outcome).Inc()
	return o.respond(st), nil
}

func (o *Orchestrator) respond(st *state.Conversation) *Response {
	resp := &Response{
		SessionID:     st.SessionID,
		Request:       st.Request,
		Text:          st.Response,
		Phase:         st.Phase,
		Trail:         append([]state.Phase(nil), st.Trail...),
		AwaitingInput: st.AwaitingInput,
		ErrorKind:     st.LastErrorKind,
	}
	if st.AwaitingInput {
		resp.Text = st.PendingQuestion
	}
	if st.Phase == state.PhaseFinalized {
		resp.Businesses = o.deps.Supervisor.SummaryContextFor(st).Businesses
	}
	return resp
}

func (o *Orchestrator) publish(ctx context.Context, ev events.Event) {
	if err := o.deps.Events.Publish(ctx, ev); err != nil {
		o.log.Warn("发布会话事件失败",
			slog.String("session_id", ev.SessionID),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()))
	}
}

// fatal 统一快照存储错误的错误码，只为检查点故障发送告警。
func (o *Orchestrator) fatal(ctx context.Context, sessionID string, err error) error {
	if xerrors.CodeOf(err) == xerrors.CodeCancelled || ctx.Err() != nil {
		return cancelled(err)
	}
	if _, ok := xerrors.From(err); !ok {
		err = xerrors.Wrap(xerrors.CodeCheckpointFailure, err, "会话快照不可用",
			xerrors.WithMetadata("session_id", sessionID))
	}
	if !xerrors.IsFatal(err) {
		return err
	}
	metrics.Turns.WithLabelValues("error").Inc()
	o.log.Error("回合因致命错误终止", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	if o.deps.Alerts != nil {
		if alertErr := o.deps.Alerts.Notify(ctx, alerting.FromError(sessionID, err)); alertErr != nil {
			o.log.Warn("发送告警失败", slog.String("error", alertErr.Error()))
		}
	}
	return err
}

func cancelled(err error) error {
	if xerrors.CodeOf(err) == xerrors.CodeCancelled {
		return err
	}
	return xerrors.Wrap(xerrors.CodeCancelled, err, "回合已取消")
}

// Apology 返回运行中止时展示给用户的固定提示。
func Apology(kind state.ErrorKind) string {
	switch kind {
	case state.ErrorRateLimited:
		return "Sorry, the business directory is rate limiting requests right now (rate_limited). Please try again in a few minutes."
	case state.ErrorAuth:
		return "Sorry, I couldn't reach the business directory because of an access problem (auth). Please try again later."
	case state.ErrorNone:
		return "Sorry, I couldn't complete your request. Please try again."
	default:
		return fmt.Sprintf("Sorry, I couldn't complete your request because of an internal problem (%s). Please try again.", kind)
	}
}
