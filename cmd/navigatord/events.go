package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"Yelp-Navigator/internal/events"
	"Yelp-Navigator/pkg/logger"
)

func newEventsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "订阅会话事件流",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "tail",
		Short: "持续打印事件，每行一个 JSON 对象",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			sink, err := events.Open(ctx, cfg.Events)
			if err != nil {
				return err
			}
			defer sink.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			err = sink.Consume(ctx, func(_ context.Context, ev events.Event) error {
				return enc.Encode(ev)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	})
	return cmd
}
