package checkpoint

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-sql-driver/mysql"

	"Yelp-Navigator/deploy/migrations"
	"Yelp-Navigator/internal/state"
)

func TestMySQLStoreRunMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}, values: [][]driver.Value{{"0001"}}}),
		beginOp(),
		// a manually patched schema already has the column
		{typ: opExec, query: migrationStatement(t, "0002_add_checkpoint_request.sql"), err: &mysql.MySQLError{Number: 1060, Message: "Duplicate column name 'request_no'"}},
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &SQLStore{db: db, dialect: DriverMySQL}
	if err := store.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestMySQLStoreMigrationFailureRollsBack(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		{typ: opExec, query: migrationStatement(t, "0001_create_checkpoints.sql"), err: &mysql.MySQLError{Number: 1142, Message: "CREATE command denied"}},
		rollbackOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &SQLStore{db: db, dialect: DriverMySQL}
	if err := store.runMigrations(context.Background()); err == nil {
		t.Fatalf("expected migration error")
	}
}

func TestMySQLStoreSaveAndLoad(t *testing.T) {
	t.Parallel()

	st := sampleConversation("s1")
	raw := mustJSON(t, st)
	store := &SQLStore{dialect: DriverMySQL}

	db, drv := newMockDB(t, []mockOperation{
		execOp(store.upsertSQL(), mockResult{rowsAffected: 1}),
		queryOp(`SELECT state FROM checkpoints WHERE session_id = ?`, mockRowsData{columns: []string{"state"}, values: [][]driver.Value{{raw}}}),
		queryOp(`SELECT state FROM checkpoints WHERE session_id = ?`, mockRowsData{columns: []string{"state"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()
	store.db = db

	if err := store.Save(context.Background(), "s1", st); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Phase != state.PhaseDeciding || loaded.Query != "Mexican restaurants" {
		t.Fatalf("unexpected snapshot: %+v", loaded)
	}
	missing, err := store.Load(context.Background(), "s2")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing session, got %v, %v", missing, err)
	}
}

func TestUpsertSQLPerDialect(t *testing.T) {
	mysqlSQL := (&SQLStore{dialect: DriverMySQL}).upsertSQL()
	sqliteSQL := (&SQLStore{dialect: DriverSQLite}).upsertSQL()
	if !strings.Contains(mysqlSQL, "ON DUPLICATE KEY UPDATE") {
		t.Fatalf("mysql upsert should use ON DUPLICATE KEY: %s", mysqlSQL)
	}
	if !strings.Contains(sqliteSQL, "ON CONFLICT(session_id)") {
		t.Fatalf("sqlite upsert should use ON CONFLICT: %s", sqliteSQL)
	}
}

func migrationStatement(t *testing.T, name string) string {
	t.Helper()
	dir, err := migrations.ForDialect(DriverMySQL)
	if err != nil {
		t.Fatalf("open migrations: %v", err)
	}
	content, err := fs.ReadFile(dir, name)
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	statements := splitSQLStatements(string(content))
	if len(statements) == 0 {
		t.Fatalf("no statements in migration %s", name)
	}
	return statements[0]
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
