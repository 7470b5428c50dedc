package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"Yelp-Navigator/internal/cache"
	"Yelp-Navigator/internal/checkpoint"
	"Yelp-Navigator/internal/config"
	"Yelp-Navigator/internal/events"
	"Yelp-Navigator/internal/guardrail"
	"Yelp-Navigator/internal/invoker"
	"Yelp-Navigator/internal/llm"
	"Yelp-Navigator/internal/llm/anthropic"
	"Yelp-Navigator/internal/llm/openai"
	"Yelp-Navigator/internal/llm/pythonbridge"
	"Yelp-Navigator/internal/observability/alerting"
	"Yelp-Navigator/internal/observability/metrics"
	"Yelp-Navigator/internal/oracle"
	"Yelp-Navigator/internal/orchestrator"
	"Yelp-Navigator/internal/state"
	"Yelp-Navigator/internal/supervisor"
	"Yelp-Navigator/internal/tools/static"
	"Yelp-Navigator/internal/tools/yelp"
	"Yelp-Navigator/pkg/logger"
)

// app 持有一次进程生命周期内的组件，Close 按创建的逆序释放。
type app struct {
	orch    *orchestrator.Orchestrator
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	filter, err := newGuardrail(cfg)
	if err != nil {
		return nil, err
	}

	entityCache, err := newCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, entityCache.Close)

	inv, err := newInvoker(cfg, entityCache)
	if err != nil {
		return nil, err
	}

	o, err := newOracle(cfg)
	if err != nil {
		return nil, err
	}
	sup, err := supervisor.New(o, supervisor.WithLimits(supervisor.Limits{
		MaxErrors:            cfg.Limits.MaxErrors,
		MaxRetryBudget:       cfg.Limits.MaxRetryBudget,
		MaxSteps:             cfg.Limits.MaxSteps,
		MaxEnrich:            cfg.Limits.MaxEnrich,
		MaxApprovalRevisions: cfg.MaxApprovalRevisions,
	}))
	if err != nil {
		return nil, err
	}

	if cfg.Checkpoint.Backend == checkpoint.BackendDurable && cfg.Checkpoint.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Checkpoint.Path), 0o755); err != nil {
			return nil, fmt.Errorf("创建快照目录失败: %w", err)
		}
	}
	store, err := checkpoint.Open(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	sink, err := events.Open(ctx, cfg.Events)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sink.Close)

	a.orch, err = orchestrator.New(orchestrator.Deps{
		Guardrail:  filter,
		Oracle:     o,
		Supervisor: sup,
		Invoker:    inv,
		Store:      store,
		Events:     sink,
		Alerts:     newAlerts(cfg),
	},
		orchestrator.WithDefaults(orchestrator.Defaults{
			Query:       cfg.Defaults.Query,
			Location:    cfg.Defaults.Location,
			DetailLevel: state.ParseDetailLevel(cfg.Defaults.DetailLevel),
		}),
		orchestrator.WithMaxClarificationAttempts(cfg.MaxClarificationAttempts),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newGuardrail(cfg *config.Config) (*guardrail.Filter, error) {
	opts := []guardrail.Option{
		guardrail.WithInjectionDetection(cfg.EnableGuardrails),
		guardrail.WithPIIRedaction(cfg.SanitizePII),
		guardrail.WithObserver(func(r guardrail.Result) {
			metrics.ObserveGuardrail(r.Blocked, r.Redactions)
		}),
	}
	if cfg.Guardrail.PatternsFile != "" {
		set, err := guardrail.LoadPatterns(cfg.Guardrail.PatternsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, guardrail.WithPatterns(set))
	}
	return guardrail.New(opts...), nil
}

func newCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		rc, err := cache.NewRedis(ctx, cfg.Cache.Redis)
		if err != nil {
			return nil, err
		}
		return rc, nil
	default:
		return cache.NewMemory(), nil
	}
}

func newInvoker(cfg *config.Config, c cache.Cache) (*invoker.Invoker, error) {
	opts := []invoker.Option{
		invoker.WithConfig(invoker.Config{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
			BackoffFactor:   cfg.RetryBackoffFactor,
			MaxInterval:     cfg.RetryMaxInterval,
			CallTimeout:     cfg.Limits.CallTimeout,
			SearchLimit:     cfg.Tools.SearchLimit,
		}),
	}
	if cfg.Cache.MaxAge > 0 {
		opts = append(opts, invoker.WithFreshness(cache.MaxAge(cfg.Cache.MaxAge)))
	}

	switch cfg.Tools.Provider {
	case config.ToolsYelp:
		client, err := yelp.NewClient(yelp.Config{
			APIKey:  cfg.Tools.APIKey,
			BaseURL: cfg.Tools.BaseURL,
			Timeout: cfg.Tools.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return invoker.New(c, client, client, client, opts...)
	default:
		dir := static.Sample()
		if cfg.Tools.DirectoryFile != "" {
			loaded, err := static.Load(cfg.Tools.DirectoryFile, cfg.Tools.SearchLimit)
			if err != nil {
				return nil, err
			}
			dir = loaded
		}
		return invoker.New(c, dir, dir, dir, opts...)
	}
}

func newOracle(cfg *config.Config) (oracle.Oracle, error) {
	var (
		client llm.Client
		err    error
	)
	switch cfg.Oracle.Provider {
	case config.OracleOpenAI:
		client, err = openai.NewClient(openai.Config{
			APIKey:  cfg.Oracle.APIKey,
			BaseURL: cfg.Oracle.BaseURL,
			Model:   cfg.Oracle.Model,
			Timeout: cfg.Oracle.Timeout,
		})
	case config.OracleAnthropic:
		client, err = anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.Oracle.APIKey,
			BaseURL: cfg.Oracle.BaseURL,
			Model:   cfg.Oracle.Model,
			Timeout: cfg.Oracle.Timeout,
		})
	case config.OraclePython:
		client, err = pythonbridge.NewClient(cfg.Oracle.Python)
	default:
		return oracle.NewRules(), nil
	}
	if err != nil {
		return nil, err
	}
	return oracle.NewAdapter(client, oracle.WithCallTimeout(cfg.Oracle.Timeout))
}

func newAlerts(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerts")}}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:     cfg.Alerts.WebhookURL,
			Headers: cfg.Alerts.Headers,
		})
	}
	return alerting.NewFanout(notifiers...)
}
