package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"Yelp-Navigator/internal/api"
	"Yelp-Navigator/internal/observability/metrics"
	"Yelp-Navigator/pkg/logger"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 REST API 服务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			log := logger.Named("navigatord")
			if metricsAddr != "" {
				go func() {
					if err := metrics.StartServer(ctx, metricsAddr); err != nil && !errors.Is(err, context.Canceled) {
						log.Error("指标服务异常退出", slog.String("error", err.Error()))
					}
				}()
			}

			server := api.NewServer(cfg.Server.Address, a.orch,
				api.WithTurnTimeout(cfg.Server.TurnTimeout),
				api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
			)
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("服务已停止")
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-address", "", "单独暴露 /metrics 的监听地址，为空时仅挂载在 API 端口")
	return cmd
}
