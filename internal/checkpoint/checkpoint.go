// Package checkpoint persists conversation state after every supervisor
// transition so an interrupted run can be resumed. All backends share the
// Store interface; the orchestrator never branches on which one is in use.
package checkpoint

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/state"
)

// Store 保存与读取会话快照。不同会话的并发访问必须安全。
type Store interface {
	// Save 以覆盖方式写入最新快照。
	Save(ctx context.Context, sessionID string, st *state.Conversation) error
	// Load 返回最新快照；不存在时返回 (nil, nil)。
	Load(ctx context.Context, sessionID string) (*state.Conversation, error)
	Close() error
}

const (
	BackendMemory  = "memory"
	BackendDurable = "durable"

	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverDynamoDB = "dynamodb"
)

// Config 描述快照存储的后端选择。
type Config struct {
	Backend string `mapstructure:"backend"`
	Driver  string `mapstructure:"driver"`
	// Path 是 SQLite 数据库文件路径。
	Path string `mapstructure:"path"`
	DSN  string `mapstructure:"dsn"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// Open 按配置创建存储。
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendDurable:
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的快照后端: "+cfg.Backend)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		return NewSQL(ctx, DriverSQLite, cfg)
	case DriverMySQL:
		return NewSQL(ctx, DriverMySQL, cfg)
	case DriverDynamoDB:
		return NewDynamo(ctx, cfg)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的快照驱动: "+cfg.Driver)
	}
}

func encode(sessionID string, st *state.Conversation) ([]byte, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	if st == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话状态不能为空")
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCheckpointFailure, err, "序列化会话状态失败")
	}
	return raw, nil
}

func decode(raw []byte) (*state.Conversation, error) {
	var st state.Conversation
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCheckpointFailure, err, "解析会话快照失败")
	}
	return &st, nil
}

func failure(err error, message, sessionID string) error {
	return xerrors.Wrap(xerrors.CodeCheckpointFailure, err, message, xerrors.WithMetadata("session_id", sessionID))
}
