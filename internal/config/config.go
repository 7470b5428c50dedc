package config

import (
	stdErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"Yelp-Navigator/internal/cache"
	"Yelp-Navigator/internal/checkpoint"
	"Yelp-Navigator/internal/events"
	"Yelp-Navigator/internal/llm/pythonbridge"
	"Yelp-Navigator/pkg/logger"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 NAVIGATOR_SERVER_ADDRESS。
const EnvPrefix = "NAVIGATOR"

// Config 描述导航服务启动所需的全部配置。顶层的开关与重试参数对应对外公开的配置项。
type Config struct {
	EnableGuardrails         bool          `mapstructure:"enable_guardrails"`
	SanitizePII              bool          `mapstructure:"sanitize_pii"`
	MaxClarificationAttempts int           `mapstructure:"max_clarification_attempts"`
	MaxApprovalRevisions     int           `mapstructure:"max_approval_revisions"`
	RetryMaxAttempts         int           `mapstructure:"retry_max_attempts"`
	RetryInitialInterval     time.Duration `mapstructure:"retry_initial_interval"`
	RetryBackoffFactor       float64       `mapstructure:"retry_backoff_factor"`
	RetryMaxInterval         time.Duration `mapstructure:"retry_max_interval"`
	CheckpointBackend        string        `mapstructure:"checkpoint_backend"`

	Server     ServerConfig      `mapstructure:"server"`
	Log        logger.Config     `mapstructure:"log"`
	Defaults   DefaultsConfig    `mapstructure:"defaults"`
	Limits     LimitsConfig      `mapstructure:"limits"`
	Guardrail  GuardrailConfig   `mapstructure:"guardrail"`
	Checkpoint checkpoint.Config `mapstructure:"checkpoint"`
	Cache      CacheConfig       `mapstructure:"cache"`
	Events     events.Config     `mapstructure:"events"`
	Oracle     OracleConfig      `mapstructure:"oracle"`
	Tools      ToolsConfig       `mapstructure:"tools"`
	Alerts     AlertsConfig      `mapstructure:"alerts"`
	Runtime    RuntimeConfig     `mapstructure:"runtime"`
}

// ServerConfig 控制 HTTP 服务。
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// TurnTimeout 限制单个回合的总耗时。
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
}

// DefaultsConfig 是澄清失败后采用的兜底意图。
type DefaultsConfig struct {
	Query       string `mapstructure:"query"`
	Location    string `mapstructure:"location"`
	DetailLevel string `mapstructure:"detail_level"`
}

// LimitsConfig 汇总监督者预算与工具调用超时。
type LimitsConfig struct {
	MaxErrors      int           `mapstructure:"max_errors"`
	MaxRetryBudget int           `mapstructure:"max_retry_budget"`
	MaxSteps       int           `mapstructure:"max_steps"`
	MaxEnrich      int           `mapstructure:"max_enrich"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
}

// GuardrailConfig 指定额外的注入与脱敏规则文件。
type GuardrailConfig struct {
	PatternsFile string `mapstructure:"patterns_file"`
}

// CacheConfig 选择实体缓存后端。MaxAge 为 0 表示永不过期。
type CacheConfig struct {
	Backend string            `mapstructure:"backend"`
	MaxAge  time.Duration     `mapstructure:"max_age"`
	Redis   cache.RedisConfig `mapstructure:"redis"`
}

// OracleConfig 选择决策预言机的实现。
type OracleConfig struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Python 仅在 provider 为 python_bridge 时使用。
	Python pythonbridge.Config `mapstructure:"python"`
}

// ToolsConfig 选择商户目录的实现。
type ToolsConfig struct {
	Provider      string        `mapstructure:"provider"`
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SearchLimit   int           `mapstructure:"search_limit"`
	DirectoryFile string        `mapstructure:"directory_file"`
}

// AlertsConfig 配置致命错误的通知渠道。
type AlertsConfig struct {
	WebhookURL string            `mapstructure:"webhook_url"`
	Headers    map[string]string `mapstructure:"headers"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// 支持的实现名称
const (
	OracleRules     = "rules"
	OracleOpenAI    = "openai"
	OracleAnthropic = "anthropic"
	OraclePython    = "python_bridge"

	ToolsYelp   = "yelp"
	ToolsStatic = "static"

	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Load 依次应用内置默认值、配置文件（存在时）与 NAVIGATOR_* 环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir := "."
	if path = strings.TrimSpace(path); path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
			baseDir = filepath.Dir(path)
		} else if !stdErrors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("打开配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("enable_guardrails", true)
	v.SetDefault("sanitize_pii", true)
	v.SetDefault("max_clarification_attempts", 2)
	v.SetDefault("max_approval_revisions", 2)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_initial_interval", 500*time.Millisecond)
	v.SetDefault("retry_backoff_factor", 2.0)
	v.SetDefault("retry_max_interval", 8*time.Second)
	v.SetDefault("checkpoint_backend", checkpoint.BackendMemory)

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.turn_timeout", 90*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output_paths", []string{"stdout"})
	v.SetDefault("log.add_source", false)
	v.SetDefault("log.audit.enabled", false)
	v.SetDefault("log.audit.path", "")
	v.SetDefault("log.audit.max_size_mb", 50)
	v.SetDefault("log.audit.max_backups", 5)
	v.SetDefault("log.audit.max_age_days", 30)

	v.SetDefault("defaults.query", "restaurants")
	v.SetDefault("defaults.location", "San Francisco, CA")
	v.SetDefault("defaults.detail_level", "general")

	v.SetDefault("limits.max_errors", 3)
	v.SetDefault("limits.max_retry_budget", 12)
	v.SetDefault("limits.max_steps", 12)
	v.SetDefault("limits.max_enrich", 3)
	v.SetDefault("limits.call_timeout", 10*time.Second)

	v.SetDefault("guardrail.patterns_file", "")

	v.SetDefault("checkpoint.driver", checkpoint.DriverSQLite)
	v.SetDefault("checkpoint.path", "")
	v.SetDefault("checkpoint.dsn", "")
	v.SetDefault("checkpoint.max_open_conns", 0)
	v.SetDefault("checkpoint.max_idle_conns", 0)
	v.SetDefault("checkpoint.conn_max_lifetime", time.Duration(0))
	v.SetDefault("checkpoint.conn_max_idle_time", time.Duration(0))
	v.SetDefault("checkpoint.table", "")
	v.SetDefault("checkpoint.region", "")
	v.SetDefault("checkpoint.endpoint", "")

	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.max_age", time.Duration(0))
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "navigator:cache")

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.buffer", 256)
	v.SetDefault("events.redis.address", "127.0.0.1:6379")
	v.SetDefault("events.redis.password", "")
	v.SetDefault("events.redis.db", 0)
	v.SetDefault("events.redis.list", "navigator:events")
	v.SetDefault("events.redis.max_len", 10000)
	v.SetDefault("events.redis.block_wait", time.Second)
	v.SetDefault("events.rabbitmq.url", "")
	v.SetDefault("events.rabbitmq.queue", "navigator.events")
	v.SetDefault("events.rabbitmq.prefetch", 16)
	v.SetDefault("events.rabbitmq.durable", true)
	v.SetDefault("events.rabbitmq.auto_delete", false)

	v.SetDefault("oracle.provider", OracleRules)
	v.SetDefault("oracle.model", "")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.base_url", "")
	v.SetDefault("oracle.timeout", 30*time.Second)
	v.SetDefault("oracle.python.executable", "python3")
	v.SetDefault("oracle.python.script", "")
	v.SetDefault("oracle.python.working_dir", "")

	v.SetDefault("tools.provider", ToolsStatic)
	v.SetDefault("tools.api_key", "")
	v.SetDefault("tools.base_url", "")
	v.SetDefault("tools.timeout", 10*time.Second)
	v.SetDefault("tools.search_limit", 10)
	v.SetDefault("tools.directory_file", "")

	v.SetDefault("alerts.webhook_url", "")

	v.SetDefault("runtime.data_dir", "")
}

// applyDefaults 解析派生值：相对路径以配置文件所在目录为基准。
func (c *Config) applyDefaults(baseDir string) {
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	c.CheckpointBackend = strings.ToLower(strings.TrimSpace(c.CheckpointBackend))
	if c.CheckpointBackend == "" {
		c.CheckpointBackend = checkpoint.BackendMemory
	}
	c.Checkpoint.Backend = c.CheckpointBackend
	if c.Checkpoint.Driver == checkpoint.DriverSQLite {
		if c.Checkpoint.Path == "" {
			c.Checkpoint.Path = filepath.Join(c.Runtime.DataDir, "checkpoints.db")
		} else if !filepath.IsAbs(c.Checkpoint.Path) {
			c.Checkpoint.Path = filepath.Join(baseDir, c.Checkpoint.Path)
		}
	}

	if c.Guardrail.PatternsFile != "" && !filepath.IsAbs(c.Guardrail.PatternsFile) {
		c.Guardrail.PatternsFile = filepath.Join(baseDir, c.Guardrail.PatternsFile)
	}
	if c.Tools.DirectoryFile != "" && !filepath.IsAbs(c.Tools.DirectoryFile) {
		c.Tools.DirectoryFile = filepath.Join(baseDir, c.Tools.DirectoryFile)
	}
	if c.Oracle.Python.Script != "" {
		c.Oracle.Python.Script = pythonbridge.ResolveScriptPath(baseDir, c.Oracle.Python.Script)
	}
	if c.Oracle.Python.WorkingDir == "" {
		c.Oracle.Python.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.Oracle.Python.WorkingDir) {
		c.Oracle.Python.WorkingDir = filepath.Join(baseDir, c.Oracle.Python.WorkingDir)
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}

	c.Oracle.Provider = strings.ToLower(strings.TrimSpace(c.Oracle.Provider))
	c.Tools.Provider = strings.ToLower(strings.TrimSpace(c.Tools.Provider))
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
}

// Validate 检查取值范围与枚举项。
func (c *Config) Validate() error {
	switch c.CheckpointBackend {
	case checkpoint.BackendMemory, checkpoint.BackendDurable:
	default:
		return fmt.Errorf("不支持的 checkpoint_backend: %s", c.CheckpointBackend)
	}
	switch c.Oracle.Provider {
	case OracleRules, OracleOpenAI, OracleAnthropic, OraclePython:
	default:
		return fmt.Errorf("不支持的 oracle.provider: %s", c.Oracle.Provider)
	}
	switch c.Tools.Provider {
	case ToolsYelp, ToolsStatic:
	default:
		return fmt.Errorf("不支持的 tools.provider: %s", c.Tools.Provider)
	}
	switch c.Cache.Backend {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("不支持的 cache.backend: %s", c.Cache.Backend)
	}
	if c.MaxClarificationAttempts < 0 {
		return fmt.Errorf("max_clarification_attempts 不能为负数")
	}
	if c.MaxApprovalRevisions < 0 {
		return fmt.Errorf("max_approval_revisions 不能为负数")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry_max_attempts 至少为 1")
	}
	if c.RetryBackoffFactor < 1 {
		return fmt.Errorf("retry_backoff_factor 不能小于 1")
	}
	return nil
}
