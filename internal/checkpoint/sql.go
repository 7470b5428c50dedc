package checkpoint

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/state"
)

// SQLStore 基于 database/sql 持久化快照，支持 SQLite 与 MySQL。
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQL 打开数据库并执行迁移。
func NewSQL(ctx context.Context, dialect string, cfg Config) (*SQLStore, error) {
	db, err := openDatabase(ctx, dialect, cfg)
	if err != nil {
		return nil, err
	}
	store := &SQLStore{db: db, dialect: dialect}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitFailure, err, "初始化快照表失败")
	}
	return store, nil
}

func openDatabase(ctx context.Context, dialect string, cfg Config) (*sql.DB, error) {
	var dsn string
	switch dialect {
	case DriverSQLite:
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "SQLite 路径不能为空")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitFailure, err, "创建 SQLite 目录失败")
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	case DriverMySQL:
		dsn = strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
		}
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的数据库方言: "+dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitFailure, err, fmt.Sprintf("连接 %s 失败", dialect))
	}

	if dialect == DriverSQLite {
		// SQLite 只允许单写者。
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitFailure, err, fmt.Sprintf("无法连接到 %s", dialect))
	}
	return db, nil
}

func (s *SQLStore) upsertSQL() string {
	if s.dialect == DriverMySQL {
		return `INSERT INTO checkpoints (session_id, phase, request_no, state, updated_at)
    VALUES (?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE phase = VALUES(phase), request_no = VALUES(request_no), state = VALUES(state), updated_at = VALUES(updated_at)`
	}
	return `INSERT INTO checkpoints (session_id, phase, request_no, state, updated_at)
    VALUES (?, ?, ?, ?, ?)
    ON CONFLICT(session_id) DO UPDATE SET phase = excluded.phase, request_no = excluded.request_no, state = excluded.state, updated_at = excluded.updated_at`
}

// Save 实现 Store。
func (s *SQLStore) Save(ctx context.Context, sessionID string, st *state.Conversation) error {
	raw, err := encode(sessionID, st)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.upsertSQL(),
		sessionID,
		string(st.Phase),
		st.Request,
		string(raw),
		time.Now().UnixMilli(),
	); err != nil {
		return failure(err, "写入会话快照失败", sessionID)
	}
	return nil
}

// Load 实现 Store。
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*state.Conversation, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM checkpoints WHERE session_id = ?`, sessionID).Scan(&raw)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, failure(err, "读取会话快照失败", sessionID)
	}
	return decode([]byte(raw))
}

// Close 实现 Store。
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
