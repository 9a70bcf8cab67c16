package sqlift

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestConnection opens a private in-memory database closed at cleanup.
func openTestConnection(t *testing.T, opts ...Option) *Connection {
	t.Helper()
	requireLibLoaded(t)
	opts = append([]Option{WithCreate(true), WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	conn := New(":memory:", opts...)
	require.NoError(t, conn.Open())
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func countRows(t *testing.T, conn *Connection, table string) int64 {
	t.Helper()
	stmt, err := conn.Prepare("SELECT count(*) FROM " + table)
	require.NoError(t, err)
	defer stmt.Close()
	cursor, err := stmt.ExecuteQuery()
	require.NoError(t, err)
	defer cursor.Close()
	require.True(t, cursor.Next())
	n, err := cursor.GetInt(0)
	require.NoError(t, err)
	return n
}

func TestConnectionLifecycle(t *testing.T) {
	conn := openTestConnection(t)
	require.True(t, conn.IsOpen())

	require.ErrorIs(t, conn.Open(), ErrAlreadyOpen)
	require.True(t, conn.IsOpen(), "a failed double open keeps the live handle")
	require.NoError(t, conn.Execute("SELECT 1"))

	require.NoError(t, conn.Close())
	require.False(t, conn.IsOpen())
	require.NoError(t, conn.Close(), "closing an unopened connection is a no-op")

	require.ErrorIs(t, conn.Execute("SELECT 1"), ErrConnectionClosed)
	require.ErrorIs(t, conn.LastError(), ErrConnectionClosed)
	_, err := conn.Prepare("SELECT 1")
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.ErrorIs(t, conn.Begin(), ErrConnectionClosed)
	require.Equal(t, int64(0), conn.Changes())
	require.True(t, conn.Autocommit())
}

func TestOpenMissingFile(t *testing.T) {
	requireLibLoaded(t)
	path := filepath.Join(t.TempDir(), "missing.db")
	conn := New(path)

	err := conn.Open()
	require.ErrorIs(t, err, ErrOpen)
	require.ErrorIs(t, err, ErrCantOpen)
	require.False(t, conn.IsOpen())
	require.Equal(t, err, conn.LastError())

	_, statErr := os.Stat(path)
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestOpenCreate(t *testing.T) {
	requireLibLoaded(t)
	path := filepath.Join(t.TempDir(), "created.db")
	conn := New(path, WithCreate(true))
	require.NoError(t, conn.Open())
	defer conn.Close()

	require.NoError(t, conn.Execute("CREATE TABLE t (x)"))
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestSetPath(t *testing.T) {
	requireLibLoaded(t)
	dir := t.TempDir()
	conn := New(filepath.Join(dir, "first.db"), WithCreate(true))
	second := filepath.Join(dir, "second.db")
	require.NoError(t, conn.SetPath(second))
	require.Equal(t, second, conn.Path())

	require.NoError(t, conn.Open())
	defer conn.Close()
	require.ErrorIs(t, conn.SetPath(filepath.Join(dir, "third.db")), ErrAlreadyOpen)
	require.Equal(t, second, conn.Path())
}

func TestExecuteError(t *testing.T) {
	conn := openTestConnection(t)
	err := conn.Execute("CREAT TABLE t (x)")
	require.ErrorIs(t, err, ErrExecution)
	require.ErrorIs(t, err, ErrGeneric)
	require.Contains(t, err.Error(), "syntax error")
	require.Equal(t, err, conn.LastError())
}

func TestNestedSavepoints(t *testing.T) {
	conn := openTestConnection(t)
	require.NoError(t, conn.Execute("CREATE TABLE t (id INTEGER)"))

	require.NoError(t, conn.Begin())
	require.False(t, conn.Autocommit())
	require.NoError(t, conn.Execute("INSERT INTO t VALUES (1)"))

	require.NoError(t, conn.Begin())
	require.Equal(t, 2, conn.TransactionDepth())
	require.NoError(t, conn.Execute("INSERT INTO t VALUES (2)"))
	require.NoError(t, conn.Rollback())
	require.Equal(t, 1, conn.TransactionDepth())

	require.NoError(t, conn.Commit())
	require.Equal(t, 0, conn.TransactionDepth())
	require.True(t, conn.Autocommit())
	require.Equal(t, int64(1), countRows(t, conn, "t"))

	require.ErrorIs(t, conn.Commit(), ErrNoTransaction)
	require.ErrorIs(t, conn.Rollback(), ErrNoTransaction)
}

func TestTransactionFailurePropagates(t *testing.T) {
	conn := openTestConnection(t, WithSavepointPrefix("app"))
	require.NoError(t, conn.Begin())

	// releasing the savepoint behind the connection's back ends the transaction
	require.NoError(t, conn.Execute(`RELEASE SAVEPOINT "app_1"`))
	err := conn.Commit()
	require.ErrorIs(t, err, ErrExecution)
	require.Contains(t, err.Error(), "no such savepoint")
	require.Equal(t, 0, conn.TransactionDepth(), "the savepoint stack follows the engine")
}

func TestInTransaction(t *testing.T) {
	conn := openTestConnection(t)
	require.NoError(t, conn.Execute("CREATE TABLE t (id INTEGER)"))

	require.NoError(t, conn.InTransaction(func() error {
		return conn.Execute("INSERT INTO t VALUES (1)")
	}))
	require.Equal(t, int64(1), countRows(t, conn, "t"))

	failure := errors.New("abort")
	err := conn.InTransaction(func() error {
		require.NoError(t, conn.Execute("INSERT INTO t VALUES (2)"))
		return failure
	})
	require.ErrorIs(t, err, failure)
	require.Equal(t, int64(1), countRows(t, conn, "t"))

	require.Panics(t, func() {
		_ = conn.InTransaction(func() error {
			require.NoError(t, conn.Execute("INSERT INTO t VALUES (3)"))
			panic("boom")
		})
	})
	require.Equal(t, 0, conn.TransactionDepth())
	require.True(t, conn.Autocommit())
	require.Equal(t, int64(1), countRows(t, conn, "t"))
}

func TestInTransactionSettlesInnerSavepoints(t *testing.T) {
	conn := openTestConnection(t)
	require.NoError(t, conn.Execute("CREATE TABLE t (id INTEGER)"))

	require.NoError(t, conn.InTransaction(func() error {
		if err := conn.Begin(); err != nil {
			return err
		}
		return conn.Execute("INSERT INTO t VALUES (1)")
	}))
	require.Equal(t, 0, conn.TransactionDepth())
	require.True(t, conn.Autocommit())
	require.Equal(t, int64(1), countRows(t, conn, "t"))
}

func TestStatementsAfterClose(t *testing.T) {
	conn := openTestConnection(t)
	stmt, err := conn.Prepare("SELECT 1")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.ErrorIs(t, stmt.Bind(1, Int(1)), ErrConnectionClosed)
	_, err = stmt.ExecuteQuery()
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.ErrorIs(t, stmt.ExecuteUpdate(), ErrConnectionClosed)
	require.NoError(t, stmt.Finalize(), "finalize still releases the handle")
	require.Equal(t, StateFinalized, stmt.State())
}

func TestReopenInvalidatesStatements(t *testing.T) {
	conn := openTestConnection(t)
	stmt, err := conn.Prepare("SELECT 1")
	require.NoError(t, err)
	cursor, err := stmt.ExecuteQuery()
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Open())

	result, err := cursor.Step()
	require.Equal(t, StepFailed, result)
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.ErrorIs(t, stmt.ExecuteUpdate(), ErrConnectionClosed)
	require.NoError(t, cursor.Close())
	require.NoError(t, stmt.Finalize())
}

func TestChangesAndLastInsertRowID(t *testing.T) {
	conn := openTestConnection(t)
	require.NoError(t, conn.Execute("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)"))
	require.NoError(t, conn.Execute("INSERT INTO t (v) VALUES ('a'), ('b'), ('c')"))
	require.Equal(t, int64(3), conn.Changes())
	require.Equal(t, int64(3), conn.LastInsertRowID())

	require.NoError(t, conn.Execute("UPDATE t SET v = 'z' WHERE id > 1"))
	require.Equal(t, int64(2), conn.Changes())
}

func TestBusyTimeout(t *testing.T) {
	requireLibLoaded(t)
	path := filepath.Join(t.TempDir(), "busy.db")
	logger := slog.New(slog.DiscardHandler)

	holder := New(path, WithCreate(true), WithLogger(logger))
	require.NoError(t, holder.Open())
	defer holder.Close()
	require.NoError(t, holder.Execute("CREATE TABLE t (x)"))
	require.NoError(t, holder.Execute("BEGIN EXCLUSIVE"))
	defer holder.Execute("ROLLBACK")

	waiter := New(path, WithBusyTimeout(50), WithLogger(logger))
	require.NoError(t, waiter.Open())
	defer waiter.Close()
	err := waiter.Execute("INSERT INTO t VALUES (1)")
	require.ErrorIs(t, err, ErrExecution)
	require.ErrorIs(t, err, ErrBusy)
}
