package sqlift

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// define all package level errors here
var (
	ErrDriverStmtClosed = errors.New("sqlift: statement closed")
	ErrDriverConnClosed = errors.New("sqlift: connection closed")
	ErrDriverTxDone     = errors.New("sqlift: transaction done")
)

// DriverName is the name the package registers with database/sql.
const DriverName = "sqlift"

// define all package level structs here

type sqliftDriver struct{}

type sqliftConn struct {
	mu     sync.Mutex
	conn   *Connection
	closed bool
}

type sqliftStmt struct {
	conn   *sqliftConn
	stmt   *Statement
	closed bool
}

type sqliftRows struct {
	conn   *sqliftConn
	stmt   *Statement
	cursor *Cursor
	// owned statements were prepared for this result set alone and are finalized with it
	owned     bool
	columns   []string
	decltypes []string
	closed    bool
}

type sqliftResult struct {
	lastInsertId int64
	rowsAffected int64
}

type sqliftTx struct {
	conn  *sqliftConn
	depth int
	done  bool
}

// register driver
func init() {
	sql.Register(DriverName, &sqliftDriver{})
}

// Implement sql.Driver methods
func (d *sqliftDriver) Open(dsn string) (driver.Conn, error) {
	config, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return openConn(config)
}

func openConn(config Config) (*sqliftConn, error) {
	conn := NewFromConfig(config)
	if err := conn.Open(); err != nil {
		return nil, err
	}
	return &sqliftConn{conn: conn}, nil
}

// --- Connector Pattern ---

// Connector opens driver connections from a DSN adjusted by options.
type Connector struct {
	config Config
}

// NewConnector parses dsn and applies opts on top of it.
func NewConnector(dsn string, opts ...Option) (*Connector, error) {
	config, err := ParseDSN(dsn, opts...)
	if err != nil {
		return nil, err
	}
	return &Connector{config: config}, nil
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return openConn(c.config)
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver {
	return &sqliftDriver{}
}

// Ensure Connector implements driver.Connector
var _ driver.Connector = (*Connector)(nil)

// --- driver.Conn and friends ---

// Ensure sqliftConn implements required interfaces.
var (
	_ driver.Conn               = (*sqliftConn)(nil)
	_ driver.ConnPrepareContext = (*sqliftConn)(nil)
	_ driver.ExecerContext      = (*sqliftConn)(nil)
	_ driver.QueryerContext     = (*sqliftConn)(nil)
	_ driver.Pinger             = (*sqliftConn)(nil)
	_ driver.ConnBeginTx        = (*sqliftConn)(nil)
)

func (c *sqliftConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *sqliftConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return nil, err
	}
	stmt, err := c.conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	return &sqliftStmt{conn: c, stmt: stmt}, nil
}

func (c *sqliftConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *sqliftConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx opens a savepoint; outside a transaction it behaves as BEGIN DEFERRED.
func (c *sqliftConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return nil, err
	}
	switch sql.IsolationLevel(opts.Isolation) {
	case sql.LevelDefault, sql.LevelSerializable:
	default:
		return nil, fmt.Errorf("sqlift: unsupported isolation level %v", sql.IsolationLevel(opts.Isolation))
	}
	if err := c.conn.Begin(); err != nil {
		return nil, err
	}
	return &sqliftTx{conn: c, depth: c.conn.TransactionDepth()}, nil
}

func (c *sqliftConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return err
	}
	// trivial ping: simple select constant
	stmt, err := c.conn.Prepare("SELECT 1")
	if err != nil {
		return driver.ErrBadConn
	}
	defer stmt.Close()
	return stmt.drain()
}

func (c *sqliftConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return nil, err
	}
	// without arguments the whole script runs, multiple statements included
	if len(args) == 0 {
		if err := c.conn.Execute(query); err != nil {
			return nil, err
		}
		return c.result(), nil
	}
	stmt, err := c.conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	// finalize regardless of status
	defer stmt.Close()
	return c.exec(stmt, args)
}

func (c *sqliftConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return nil, err
	}
	return c.query(query, args)
}

// exec binds args to stmt, runs it to completion and leaves it rewound. Caller holds c.mu.
func (c *sqliftConn) exec(stmt *Statement, args []driver.NamedValue) (driver.Result, error) {
	if err := bindArgs(stmt, args); err != nil {
		return nil, err
	}
	if err := stmt.drain(); err != nil {
		return nil, err
	}
	return c.result(), nil
}

// query prepares a statement owned by the returned rows. Caller holds c.mu.
func (c *sqliftConn) query(query string, args []driver.NamedValue) (driver.Rows, error) {
	stmt, err := c.conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	rows, err := c.openRows(stmt, args, true)
	if err != nil {
		_ = stmt.Finalize()
		return nil, err
	}
	return rows, nil
}

// openRows binds args and hands the stepping rights to the rows wrapper.
// The cursor stays before the first row.
func (c *sqliftConn) openRows(stmt *Statement, args []driver.NamedValue, owned bool) (*sqliftRows, error) {
	if err := bindArgs(stmt, args); err != nil {
		return nil, err
	}
	cursor, err := stmt.ExecuteQuery()
	if err != nil {
		return nil, err
	}
	return &sqliftRows{
		conn:   c,
		stmt:   stmt,
		cursor: cursor,
		owned:  owned,
	}, nil
}

func (c *sqliftConn) result() *sqliftResult {
	return &sqliftResult{
		lastInsertId: c.conn.LastInsertRowID(),
		rowsAffected: c.conn.Changes(),
	}
}

// checkOpen must be called with c.mu held.
func (c *sqliftConn) checkOpen(ctx context.Context) error {
	if c.closed || !c.conn.IsOpen() {
		return ErrDriverConnClosed
	}
	return ctx.Err()
}

// --- driver.Stmt and friends ---

// Ensure sqliftStmt implements required interfaces.
var (
	_ driver.Stmt             = (*sqliftStmt)(nil)
	_ driver.StmtExecContext  = (*sqliftStmt)(nil)
	_ driver.StmtQueryContext = (*sqliftStmt)(nil)
)

func (s *sqliftStmt) Close() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stmt.Close()
}

func (s *sqliftStmt) NumInput() int {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.stmt.ParameterCount()
}

func (s *sqliftStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

func (s *sqliftStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.closed {
		return nil, ErrDriverStmtClosed
	}
	if err := s.conn.checkOpen(ctx); err != nil {
		return nil, err
	}
	if s.stmt.State() == StateStepped {
		// rows from an earlier Query are still open: run on a fresh statement
		stmt, err := s.conn.conn.Prepare(s.stmt.SQL())
		if err != nil {
			return nil, err
		}
		defer stmt.Close()
		return s.conn.exec(stmt, args)
	}
	if err := s.stmt.Reset(); err != nil {
		return nil, err
	}
	return s.conn.exec(s.stmt, args)
}

func (s *sqliftStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

func (s *sqliftStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.closed {
		return nil, ErrDriverStmtClosed
	}
	if err := s.conn.checkOpen(ctx); err != nil {
		return nil, err
	}
	if s.stmt.State() == StateStepped {
		return s.conn.query(s.stmt.SQL(), args)
	}
	if err := s.stmt.Reset(); err != nil {
		return nil, err
	}
	return s.conn.openRows(s.stmt, args, false)
}

// --- driver.Rows ---

// Ensure sqliftRows implements the required interfaces.
var (
	_ driver.Rows                           = (*sqliftRows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*sqliftRows)(nil)
)

func (r *sqliftRows) Columns() []string {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	r.loadColumns()
	return r.columns
}

// loadColumns must be called with r.conn.mu held.
func (r *sqliftRows) loadColumns() {
	if r.columns != nil {
		return
	}
	names := r.cursor.Columns()
	decltypes := make([]string, len(names))
	for i := range names {
		decltypes[i], _ = r.cursor.ColumnDeclType(i)
	}
	r.columns = names
	r.decltypes = decltypes
}

func (r *sqliftRows) ColumnTypeDatabaseTypeName(index int) string {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	r.loadColumns()
	if index < 0 || index >= len(r.decltypes) {
		return ""
	}
	return strings.ToUpper(r.decltypes[index])
}

func (r *sqliftRows) Close() error {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	_ = r.cursor.Close()
	if r.owned {
		return r.stmt.Close()
	}
	return nil
}

func (r *sqliftRows) Next(dest []driver.Value) error {
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	if r.closed {
		return io.EOF
	}
	// Ensure decltypes are populated
	r.loadColumns()
	result, err := r.cursor.Step()
	switch result {
	case StepRow:
	case StepDone:
		return io.EOF
	default:
		return err
	}
	if len(dest) != len(r.columns) {
		return fmt.Errorf("sqlift: expected %d dests, got %d", len(r.columns), len(dest))
	}
	loc := r.conn.conn.config.location()
	for i := range dest {
		v, err := r.cursor.Value(i)
		if err != nil {
			return err
		}
		dest[i] = v.Any()
		// Check if column type indicates a time value
		if text, ok := v.Text(); ok && isTimeColumn(r.decltypes[i]) {
			if t, err := parseTimeString(text, loc); err == nil {
				dest[i] = t
			}
		}
	}
	return nil
}

// --- driver.Result ---

var _ driver.Result = (*sqliftResult)(nil)

func (r *sqliftResult) LastInsertId() (int64, error) {
	return r.lastInsertId, nil
}

func (r *sqliftResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- driver.Tx ---

var _ driver.Tx = (*sqliftTx)(nil)

func (tx *sqliftTx) Commit() error {
	return tx.end(false)
}

func (tx *sqliftTx) Rollback() error {
	return tx.end(true)
}

func (tx *sqliftTx) end(rollback bool) error {
	tx.conn.mu.Lock()
	defer tx.conn.mu.Unlock()
	if tx.done {
		return ErrDriverTxDone
	}
	tx.done = true
	if tx.conn.closed {
		return ErrDriverConnClosed
	}
	conn := tx.conn.conn
	err := conn.endSavepoint(tx.depth, rollback)
	if err != nil && !rollback && conn.TransactionDepth() >= tx.depth {
		// database/sql forgets the transaction either way, so do not leave it open on the connection
		if rbErr := conn.endSavepoint(tx.depth, true); rbErr != nil {
			return errors.Join(err, rbErr)
		}
	}
	return err
}

// Helpers

func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// bindArgs binds ordered and named values to a statement.
// Named values are resolved against the :, @ and $ prefixes, otherwise ordinal positions are used (1-based).
func bindArgs(stmt *Statement, args []driver.NamedValue) error {
	hasNamed := false
	for _, nv := range args {
		if nv.Name != "" {
			hasNamed = true
			break
		}
	}
	if !hasNamed {
		if want := stmt.ParameterCount(); len(args) != want {
			return fmt.Errorf("sqlift: got %d args, want %d", len(args), want)
		}
	}
	for idx, nv := range args {
		pos := idx + 1
		if nv.Name != "" {
			pos = namedPosition(stmt, nv.Name)
			if pos <= 0 {
				return fmt.Errorf("sqlift: unknown named parameter %q", nv.Name)
			}
		} else if nv.Ordinal > 0 {
			pos = nv.Ordinal
		}
		v, err := driverValue(nv.Value)
		if err != nil {
			return err
		}
		if err := stmt.Bind(pos, v); err != nil {
			return err
		}
	}
	return nil
}

// driverValue converts a database/sql argument. Times keep their zone offset
// and sub-second digits so they read back as the same instant in any location.
func driverValue(x any) (Value, error) {
	if t, ok := x.(time.Time); ok {
		return Text(t.Format(time.RFC3339Nano)), nil
	}
	return ValueOf(x)
}

func namedPosition(stmt *Statement, name string) int {
	for _, prefix := range []string{":", "@", "$"} {
		if pos := stmt.ParameterIndex(prefix + name); pos > 0 {
			return pos
		}
	}
	return 0
}

// isTimeColumn checks if the column declared type indicates a time/date column.
// This matches the behavior of github.com/mattn/go-sqlite3.
func isTimeColumn(decltype string) bool {
	if decltype == "" {
		return false
	}
	upper := strings.ToUpper(decltype)
	return upper == "TIMESTAMP" || upper == "DATETIME" || upper == "DATE"
}

// SQLiteTimestampFormats are the timestamp formats supported by go-sqlite3.
// https://github.com/mattn/go-sqlite3/blob/master/sqlite3.go
var SQLiteTimestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTimeString attempts to parse a string as a time.Time value in loc.
func parseTimeString(s string, loc *time.Location) (time.Time, error) {
	// Strip trailing "Z" suffix before parsing (go-sqlite3 behavior)
	if trimmed, ok := strings.CutSuffix(s, "Z"); ok {
		s = trimmed
		loc = time.UTC
	}
	for _, format := range SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(format, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}
