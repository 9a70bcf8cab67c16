package sqlift

import (
	"errors"
	"log/slog"
)

// Connection owns one database handle and originates the statements that run on it.
// A Connection and everything derived from it is meant for one goroutine at a time.
type Connection struct {
	config Config
	logger *slog.Logger

	handle SqliteDB
	// generation counts successful opens; statements remember the one they were prepared under.
	generation uint64
	lastErr    error

	savepoints stack[string]
	savepointN uint64
}

// New returns an unopened connection to the database at path.
func New(path string, opts ...Option) *Connection {
	config := Config{Path: path}
	for _, opt := range opts {
		opt(&config)
	}
	return NewFromConfig(config)
}

func NewFromConfig(config Config) *Connection {
	return &Connection{
		config: config,
		logger: config.logger(),
	}
}

func (c *Connection) Path() string {
	return c.config.Path
}

// SetPath changes the database file used by the next Open.
func (c *Connection) SetPath(path string) error {
	if c.handle != nil {
		return c.fail(ErrAlreadyOpen)
	}
	c.config.Path = path
	return nil
}

func (c *Connection) IsOpen() bool {
	return c.handle != nil
}

// LastError is the most recent failure reported by the connection, nil if none happened.
func (c *Connection) LastError() error {
	return c.lastErr
}

// Open acquires the database handle in read-write mode.
// On failure no handle is retained and the error matches ErrOpen.
func (c *Connection) Open() error {
	if c.handle != nil {
		return c.fail(ErrAlreadyOpen)
	}
	if err := ensureLibrary(); err != nil {
		return c.fail(withKind(ErrOpen, err))
	}
	db, err := sqlite3_open_v2(c.config.Path, c.config.openFlags())
	if err != nil {
		return c.fail(withKind(ErrOpen, err))
	}
	if c.config.BusyTimeout > 0 {
		if err := sqlite3_busy_timeout(db, c.config.BusyTimeout); err != nil {
			_ = sqlite3_close_v2(db)
			return c.fail(withKind(ErrOpen, err))
		}
	}
	c.handle = db
	c.generation++
	c.savepoints.clear()
	c.logger.Debug("database opened", slog.String("path", c.config.Path))
	return nil
}

// Close releases the handle. The connection is unopened afterwards even when an error is returned.
func (c *Connection) Close() error {
	if c.handle == nil {
		return nil
	}
	db := c.handle
	c.handle = nil
	c.savepoints.clear()
	if err := sqlite3_close_v2(db); err != nil {
		err = withKind(ErrClose, err)
		c.logger.Warn("close failed", slog.String("path", c.config.Path), slog.Any("error", err))
		return c.fail(err)
	}
	return nil
}

// Execute runs one or more semicolon separated statements without parameters or rows.
func (c *Connection) Execute(sql string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := sqlite3_exec(c.handle, sql); err != nil {
		return c.fail(withKind(ErrExecution, err))
	}
	return nil
}

// Begin opens a new savepoint nested in the current one.
func (c *Connection) Begin() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.savepointN++
	name := savepointName(c.config.savepointPrefix(), c.savepointN)
	if err := c.Execute("SAVEPOINT " + quoteIdentifier(name)); err != nil {
		return c.transactionFailed("begin", name, err)
	}
	c.savepoints.push(name)
	return nil
}

// Commit releases the innermost savepoint.
func (c *Connection) Commit() error {
	return c.endSavepoint(c.savepoints.size(), false)
}

// Rollback undoes the work of the innermost savepoint and releases it.
func (c *Connection) Rollback() error {
	return c.endSavepoint(c.savepoints.size(), true)
}

// TransactionDepth is the number of savepoints currently open.
func (c *Connection) TransactionDepth() int {
	return c.savepoints.size()
}

// InTransaction runs fn inside its own savepoint. A returned error or a panic
// rolls the savepoint back, otherwise it is committed. Savepoints fn leaves
// open are settled together with the enclosing one.
func (c *Connection) InTransaction(fn func() error) error {
	if err := c.Begin(); err != nil {
		return err
	}
	depth := c.savepoints.size()
	defer func() {
		if r := recover(); r != nil {
			_ = c.endSavepoint(depth, true)
			panic(r)
		}
	}()
	if err := fn(); err != nil {
		if rbErr := c.endSavepoint(depth, true); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return c.endSavepoint(depth, false)
}

// endSavepoint settles the savepoint at 1-based depth and every savepoint above it.
func (c *Connection) endSavepoint(depth int, rollback bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if depth == 0 || depth > c.savepoints.size() {
		return c.fail(ErrNoTransaction)
	}
	name := c.savepoints.at(depth - 1)
	quoted := quoteIdentifier(name)
	op := "commit"
	if rollback {
		op = "rollback"
		if err := c.Execute("ROLLBACK TRANSACTION TO SAVEPOINT " + quoted); err != nil {
			return c.transactionFailed(op, name, err)
		}
	}
	if err := c.Execute("RELEASE SAVEPOINT " + quoted); err != nil {
		return c.transactionFailed(op, name, err)
	}
	c.savepoints.truncate(depth - 1)
	return nil
}

func (c *Connection) transactionFailed(op, savepoint string, err error) error {
	c.logger.Error(op+" transaction failed",
		slog.String("savepoint", savepoint),
		slog.Int("depth", c.savepoints.size()),
		slog.Any("error", err))
	// the engine may have ended the transaction on its own, e.g. after SQLITE_FULL
	if c.handle != nil && sqlite3_get_autocommit(c.handle) {
		c.savepoints.clear()
	}
	return err
}

// Prepare compiles the first statement in sql. The error matches ErrPreparing.
func (c *Connection) Prepare(sql string) (*Statement, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	handle, err := sqlite3_prepare_v2(c.handle, sql)
	if err != nil {
		return nil, c.fail(withKind(ErrPreparing, err))
	}
	return newStatement(c, handle, sql), nil
}

// PrepareWith compiles sql and binds values to ordinals 1..N.
// A binding failure does not fail the call: it is kept on the statement, reported
// by Err, and blocks execution until Reset.
func (c *Connection) PrepareWith(sql string, values ...Value) (*Statement, error) {
	stmt, err := c.Prepare(sql)
	if err != nil {
		return nil, err
	}
	_ = stmt.BindAll(values...)
	return stmt, nil
}

// Changes reports the rows modified by the most recent INSERT, UPDATE or DELETE.
func (c *Connection) Changes() int64 {
	if c.handle == nil {
		return 0
	}
	return sqlite3_changes(c.handle)
}

func (c *Connection) LastInsertRowID() int64 {
	if c.handle == nil {
		return 0
	}
	return sqlite3_last_insert_rowid(c.handle)
}

// Autocommit is true when no transaction is open on the handle.
func (c *Connection) Autocommit() bool {
	if c.handle == nil {
		return true
	}
	return sqlite3_get_autocommit(c.handle)
}

// Helpers

func (c *Connection) checkOpen() error {
	if c.handle == nil {
		return c.fail(ErrConnectionClosed)
	}
	return nil
}

// live reports whether the handle opened under generation is still the current one.
func (c *Connection) live(generation uint64) bool {
	return c.handle != nil && c.generation == generation
}

func (c *Connection) fail(err error) error {
	c.lastErr = err
	return err
}
