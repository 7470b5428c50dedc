// Package pythonbridge runs model inference through an external script: the
// request is written to the script's stdin as JSON and the reply is read from
// stdout. It lets operators plug a local model runtime in as the oracle
// backend without linking it into the binary.
package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"Yelp-Navigator/internal/llm"
)

// Config 描述外部脚本的位置。
type Config struct {
	Executable string `mapstructure:"executable"`
	Script     string `mapstructure:"script"`
	WorkingDir string `mapstructure:"working_dir"`
}

// Client 通过调用外部脚本实现大模型推理。
type Client struct {
	executable string
	scriptPath string
	workingDir string
}

// NewClient 创建脚本桥接客户端，未指定解释器时使用 python3。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Script) == "" {
		return nil, fmt.Errorf("未指定推理脚本路径")
	}
	executable := strings.TrimSpace(cfg.Executable)
	if executable == "" {
		executable = "python3"
	}
	return &Client{
		executable: executable,
		scriptPath: cfg.Script,
		workingDir: cfg.WorkingDir,
	}, nil
}

type bridgeRequest struct {
	System    string `json:"system"`
	Prompt    string `json:"prompt"`
	JSON      bool   `json:"json"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type bridgeResponse struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
	Error string `json:"error,omitempty"`
}

// Generate 调用外部脚本，并解析输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	encoded, err := json.Marshal(bridgeRequest{
		System:    req.System,
		Prompt:    req.Prompt,
		JSON:      req.JSON,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.executable, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("执行推理脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp bridgeResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("解析脚本输出失败: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("推理脚本返回错误: %s", resp.Error)
	}
	return &llm.Response{Text: resp.Text, Model: resp.Model}, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ llm.Client = (*Client)(nil)
