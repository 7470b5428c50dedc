package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"Yelp-Navigator/internal/orchestrator"
	"Yelp-Navigator/pkg/logger"
)

type outputOptions struct {
	asJSON bool
}

func (o outputOptions) print(w io.Writer, resp *orchestrator.Response) error {
	if o.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintf(w, "session: %s\n", resp.SessionID)
	if resp.Phase != "" {
		fmt.Fprintf(w, "phase:   %s\n", resp.Phase)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, resp.Text)
	return nil
}

func newAskCmd(root *rootOptions) *cobra.Command {
	var (
		sessionID string
		out       outputOptions
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "提交一条消息并打印回复",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Server.TurnTimeout)
			defer cancel()
			resp, err := a.orch.HandleTurn(ctx, sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return out.print(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "继续已有会话")
	cmd.Flags().BoolVar(&out.asJSON, "json", false, "以 JSON 输出完整响应")
	return cmd
}

func newResumeCmd(root *rootOptions) *cobra.Command {
	var out outputOptions
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "从最近的快照继续未完成的回合",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Server.TurnTimeout)
			defer cancel()
			resp, err := a.orch.Resume(ctx, args[0])
			if err != nil {
				return err
			}
			return out.print(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().BoolVar(&out.asJSON, "json", false, "以 JSON 输出完整响应")
	return cmd
}
