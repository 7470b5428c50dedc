// Package invoker runs tool nodes: it consults the entity cache before any
// external call, retries transient failures with exponential backoff, writes
// successful results through to the cache and folds outcomes into the
// conversation state. It never aborts a conversation on its own.
package invoker

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"Yelp-Navigator/internal/cache"
	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/observability/metrics"
	"Yelp-Navigator/internal/state"
	"Yelp-Navigator/internal/tools"
	"Yelp-Navigator/pkg/logger"
)

// Config 描述重试策略与调用超时。
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	CallTimeout     time.Duration
	SearchLimit     int
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 2
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 8 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 10
	}
}

// Outcome 汇总一次工具节点的执行情况。
type Outcome struct {
	Tool        tools.Name
	Fetched     int
	CacheHits   int
	Failed      int
	Skipped     int
	RateLimited bool
	// Err 仅在上下文取消时设置。
	Err error
}

// Invoker 执行工具节点，可被多个会话并发使用。
type Invoker struct {
	searcher  tools.Searcher
	details   tools.DetailFetcher
	sentiment tools.SentimentAnalyzer
	cache     cache.Cache
	freshness cache.FreshnessPolicy
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
	newTimer  func() backoff.Timer
}

// Option 定义可选的 Invoker 配置。
type Option func(*Invoker)

// WithConfig 设置重试策略。
func WithConfig(cfg Config) Option {
	return func(i *Invoker) { i.cfg = cfg }
}

// WithFreshness 设置缓存新鲜度策略，默认永不过期。
func WithFreshness(policy cache.FreshnessPolicy) Option {
	return func(i *Invoker) {
		if policy != nil {
			i.freshness = policy
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) {
		if l != nil {
			i.log = l
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(i *Invoker) {
		if now != nil {
			i.now = now
		}
	}
}

// WithTimerFactory 替换退避等待使用的计时器，主要用于测试。
func WithTimerFactory(fn func() backoff.Timer) Option {
	return func(i *Invoker) { i.newTimer = fn }
}

// New 创建 Invoker。
func New(c cache.Cache, searcher tools.Searcher, details tools.DetailFetcher, sentiment tools.SentimentAnalyzer, opts ...Option) (*Invoker, error) {
	if c == nil {
		return nil, xerrors.New(xerrors.CodeInitFailure, "未配置实体缓存")
	}
	if searcher == nil || details == nil || sentiment == nil {
		return nil, xerrors.New(xerrors.CodeInitFailure, "工具未完整配置")
	}
	inv := &Invoker{
		searcher:  searcher,
		details:   details,
		sentiment: sentiment,
		cache:     c,
		freshness: cache.AlwaysFresh{},
		log:       logger.Named("invoker"),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	inv.cfg.applyDefaults()
	return inv, nil
}

// Invoke 执行指定工具。search 忽略 ids，使用会话中已澄清的意图。
func (i *Invoker) Invoke(ctx context.Context, tool tools.Name, ids []string, st *state.Conversation) Outcome {
	switch tool {
	case tools.Search:
		return i.runSearch(ctx, st)
	case tools.Details:
		return i.runEnrichment(ctx, tool, cache.KindDetails, ids, st)
	case tools.Sentiment:
		return i.runEnrichment(ctx, tool, cache.KindSentiment, ids, st)
	default:
		st.RecordFailure(state.ErrorMalformedRequest, 0)
		return Outcome{Tool: tool, Failed: 1}
	}
}

func (i *Invoker) runSearch(ctx context.Context, st *state.Conversation) Outcome {
	out := Outcome{Tool: tools.Search}
	query := tools.SearchQuery{Term: st.Query, Location: st.Location, Limit: i.cfg.SearchLimit}
	if query.Term == "" || query.Location == "" {
		st.RecordFailure(state.ErrorMalformedRequest, 0)
		out.Failed = 1
		return out
	}

	var result *tools.SearchResult
	attempts, err := i.retry(ctx, tools.Search, func(callCtx context.Context) error {
		var callErr error
		result, callErr = i.searcher.Search(callCtx, query)
		return callErr
	})
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeCancelled {
			out.Err = err
			return out
		}
		return i.fail(out, st, err, attempts)
	}
	if attempts > 1 {
		st.RetryCount += attempts - 1
	}
	if result == nil {
		result = &tools.SearchResult{Query: query}
	}

	now := i.now()
	for _, biz := range result.Businesses {
		if biz.ID == "" {
			continue
		}
		rec, encErr := cache.Encode(biz.ID, cache.KindCore, biz, now)
		if encErr == nil {
			encErr = i.cache.Put(ctx, rec)
		}
		if encErr != nil {
			i.log.Warn("写入 core 缓存失败", slog.String("business_id", biz.ID), slog.String("error", encErr.Error()))
			st.AddKnownBusiness(biz.ID)
			continue
		}
		st.MarkCore(biz.ID, biz.Name)
	}
	st.ToolResults.Search = result
	st.CurrentBusinessFocus = ""
	out.Fetched = len(result.Businesses)
	return out
}

func (i *Invoker) runEnrichment(ctx context.Context, tool tools.Name, kind cache.Kind, ids []string, st *state.Conversation) Outcome {
	out := Outcome{Tool: tool}
	details := make(map[string]tools.BusinessDetails)
	sentiment := make(map[string]tools.SentimentReport)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			out.Err = xerrors.Wrap(xerrors.CodeCancelled, err, "工具执行已取消")
			break
		}
		id = tools.NormalizeID(id)
		if id == "" {
			continue
		}

		if rec, ok := i.lookup(ctx, id, kind); ok {
			out.CacheHits++
			i.absorb(st, kind, id, rec, details, sentiment)
			continue
		}
		if out.RateLimited {
			out.Skipped++
			continue
		}

		var payload any
		attempts, err := i.retry(ctx, tool, func(callCtx context.Context) error {
			switch kind {
			case cache.KindDetails:
				res, callErr := i.details.FetchDetails(callCtx, id)
				if callErr == nil && res != nil {
					payload = res
				}
				return callErr
			default:
				res, callErr := i.sentiment.AnalyzeSentiment(callCtx, id)
				if callErr == nil && res != nil {
					payload = res
				}
				return callErr
			}
		})
		if err != nil {
			if xerrors.CodeOf(err) == xerrors.CodeCancelled {
				out.Err = err
				break
			}
			out = i.fail(out, st, err, attempts)
			i.log.Warn("工具调用失败",
				slog.String("tool", string(tool)),
				slog.String("business_id", id),
				slog.Int("attempts", attempts),
				slog.String("error", err.Error()))
			continue
		}
		if attempts > 1 {
			st.RetryCount += attempts - 1
		}

		rec, encErr := cache.Encode(id, kind, payload, i.now())
		if encErr == nil {
			encErr = i.cache.Put(ctx, rec)
		}
		if encErr != nil {
			i.log.Warn("写入缓存失败", slog.String("kind", string(kind)), slog.String("business_id", id), slog.String("error", encErr.Error()))
		}
		i.absorb(st, kind, id, rec, details, sentiment)
		if encErr != nil {
			// 缓存未落盘时不设置标记，下次仍会重新获取。
			i.unmark(st, kind, id)
		}
		out.Fetched++
	}

	switch kind {
	case cache.KindDetails:
		st.ToolResults.Details = details
	case cache.KindSentiment:
		st.ToolResults.Sentiment = sentiment
	}
	return out
}

// Hydrate 只从缓存补齐已标记但本轮尚未载入的增强结果，不发起任何外部调用。
func (i *Invoker) Hydrate(ctx context.Context, ids []string, st *state.Conversation) int {
	if st.ToolResults.Details == nil {
		st.ToolResults.Details = make(map[string]tools.BusinessDetails)
	}
	if st.ToolResults.Sentiment == nil {
		st.ToolResults.Sentiment = make(map[string]tools.SentimentReport)
	}
	loaded := 0
	for _, id := range ids {
		flags := st.Flags(id)
		if _, ok := st.ToolResults.Details[id]; flags.HasDetails && !ok {
			if rec, hit := i.lookup(ctx, id, cache.KindDetails); hit {
				i.absorb(st, cache.KindDetails, id, rec, st.ToolResults.Details, st.ToolResults.Sentiment)
				loaded++
			}
		}
		if _, ok := st.ToolResults.Sentiment[id]; flags.HasSentiment && !ok {
			if rec, hit := i.lookup(ctx, id, cache.KindSentiment); hit {
				i.absorb(st, cache.KindSentiment, id, rec, st.ToolResults.Details, st.ToolResults.Sentiment)
				loaded++
			}
		}
	}
	return loaded
}

// lookup 返回可直接使用的缓存记录。
func (i *Invoker) lookup(ctx context.Context, id string, kind cache.Kind) (cache.Record, bool) {
	rec, ok, err := i.cache.Get(ctx, id, kind)
	if err != nil {
		i.log.Warn("读取缓存失败", slog.String("kind", string(kind)), slog.String("business_id", id), slog.String("error", err.Error()))
		metrics.CacheLookups.WithLabelValues(string(kind), "error").Inc()
		return cache.Record{}, false
	}
	if !ok || !i.freshness.Fresh(rec, i.now()) {
		metrics.CacheLookups.WithLabelValues(string(kind), "miss").Inc()
		return cache.Record{}, false
	}
	metrics.CacheLookups.WithLabelValues(string(kind), "hit").Inc()
	return rec, true
}

// absorb 将记录合并进本次调用的结果并设置缓存标记。
func (i *Invoker) absorb(st *state.Conversation, kind cache.Kind, id string, rec cache.Record, details map[string]tools.BusinessDetails, sentiment map[string]tools.SentimentReport) {
	switch kind {
	case cache.KindDetails:
		var d tools.BusinessDetails
		if found, err := cache.Decode(rec, &d); err != nil || !found {
			d = tools.BusinessDetails{BusinessID: id}
		}
		details[id] = d
		st.MarkDetails(id)
	case cache.KindSentiment:
		var s tools.SentimentReport
		if found, err := cache.Decode(rec, &s); err == nil && found {
			sentiment[id] = s
		}
		st.MarkSentiment(id)
	}
}

func (i *Invoker) unmark(st *state.Conversation, kind cache.Kind, id string) {
	flags := st.CacheFlags[id]
	switch kind {
	case cache.KindDetails:
		flags.HasDetails = false
	case cache.KindSentiment:
		flags.HasSentiment = false
	}
	st.CacheFlags[id] = flags
}

func (i *Invoker) fail(out Outcome, st *state.Conversation, err error, attempts int) Outcome {
	kind := state.KindOf(err)
	retries := attempts - 1
	st.RecordFailure(kind, retries)
	out.Failed++
	if kind == state.ErrorRateLimited {
		out.RateLimited = true
	}
	return out
}

// retry 以指数退避执行 op，返回实际尝试次数。不可重试的错误立即返回。
func (i *Invoker) retry(ctx context.Context, tool tools.Name, op func(context.Context) error) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.cfg.InitialInterval
	b.Multiplier = i.cfg.BackoffFactor
	b.MaxInterval = i.cfg.MaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(i.cfg.MaxAttempts-1)), ctx)

	attempts := 0
	operation := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, i.cfg.CallTimeout)
		defer cancel()

		started := time.Now()
		err := classify(ctx, op(callCtx))
		metrics.ToolLatency.WithLabelValues(string(tool)).Observe(time.Since(started).Seconds())
		if err == nil {
			metrics.ToolCalls.WithLabelValues(string(tool), "success").Inc()
			return nil
		}
		metrics.ToolCalls.WithLabelValues(string(tool), string(state.KindOf(err))).Inc()
		if !xerrors.RetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		i.log.Debug("工具调用将重试",
			slog.String("tool", string(tool)),
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}

	var timer backoff.Timer
	if i.newTimer != nil {
		timer = i.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(operation, policy, notify, timer)
	if err != nil && ctx.Err() != nil {
		return attempts, xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "工具执行已取消")
	}
	return attempts, err
}

// classify 将任意错误归一为统一错误码。超时视为瞬时错误。
func classify(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return xerrors.Wrap(xerrors.CodeCancelled, err, "工具执行已取消")
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "工具调用超时")
	}
	return xerrors.Wrap(xerrors.CodeToolTransient, err, "工具调用失败")
}
