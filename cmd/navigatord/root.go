package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"Yelp-Navigator/internal/config"
	"Yelp-Navigator/pkg/logger"
)

const configEnv = "NAVIGATOR_CONFIG"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "navigatord",
		Short: "Yelp Navigator 多轮商户推荐服务",
		Long: `navigatord 驱动监督者状态机完成商户检索、详情补全与评论分析，
并在每次状态转换后写入会话快照，进程重启后可以从快照继续。`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "配置文件路径 (YAML/JSON)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newAskCmd(opts))
	cmd.AddCommand(newResumeCmd(opts))
	cmd.AddCommand(newEventsCmd(opts))
	return cmd
}

func defaultConfigPath() string {
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return filepath.Join("configs", "navigator.yaml")
}

// loadConfig 读取配置并初始化全局日志。
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}
