package sqlift

import (
	"log/slog"
	"strconv"
)

// StatementState is the lifecycle position of a Statement.
type StatementState uint8

const (
	// StatePrepared: compiled, nothing bound.
	StatePrepared StatementState = iota
	// StateBound: at least one parameter attached.
	StateBound
	// StateStepped: a Cursor holds the stepping rights.
	StateStepped
	// StateFinalized: handle released, terminal.
	StateFinalized
)

func (s StatementState) String() string {
	switch s {
	case StatePrepared:
		return "prepared"
	case StateBound:
		return "bound"
	case StateStepped:
		return "stepped"
	case StateFinalized:
		return "finalized"
	default:
		return "StatementState(" + strconv.Itoa(int(s)) + ")"
	}
}

// Statement owns one compiled statement of its Connection.
type Statement struct {
	conn       *Connection
	generation uint64
	handle     SqliteStmt
	sql        string

	state StatementState
	// resume is the state restored when the active cursor closes.
	resume  StatementState
	err     error
	bindErr error
	cursor  *Cursor
}

func newStatement(conn *Connection, handle SqliteStmt, sql string) *Statement {
	return &Statement{
		conn:       conn,
		generation: conn.generation,
		handle:     handle,
		sql:        sql,
		state:      StatePrepared,
	}
}

func (s *Statement) SQL() string {
	return s.sql
}

func (s *Statement) State() StatementState {
	return s.state
}

// Err is the last failure of the statement. A pending bind failure is reported first.
func (s *Statement) Err() error {
	if s.bindErr != nil {
		return s.bindErr
	}
	return s.err
}

// ParameterCount is the largest parameter ordinal in the statement, 0 after finalize.
func (s *Statement) ParameterCount() int {
	if s.state == StateFinalized {
		return 0
	}
	return sqlite3_bind_parameter_count(s.handle)
}

// ParameterIndex resolves a named parameter such as ":id" to its ordinal, 0 when unknown.
func (s *Statement) ParameterIndex(name string) int {
	if s.state == StateFinalized {
		return 0
	}
	return sqlite3_bind_parameter_index(s.handle, name)
}

// Bind attaches v to the 1-based ordinal. A failure matches ErrBind and stays
// pending until Reset.
func (s *Statement) Bind(ordinal int, v Value) error {
	if err := s.checkIdle(); err != nil {
		return s.fail(err)
	}
	if err := bindValue(s.handle, ordinal, v); err != nil {
		err = withKind(ErrBind, err)
		s.bindErr = err
		s.conn.logger.Warn("bind failed",
			slog.String("sql", s.sql),
			slog.Int("ordinal", ordinal),
			slog.String("kind", v.Kind().String()),
			slog.Any("error", err))
		return s.fail(err)
	}
	s.state = StateBound
	return nil
}

// BindAll binds values to ordinals 1..N and stops at the first failure.
func (s *Statement) BindAll(values ...Value) error {
	for i, v := range values {
		if err := s.Bind(i+1, v); err != nil {
			return err
		}
	}
	return nil
}

// Reset rewinds the statement and clears its bindings, any pending bind
// failure and the last error.
func (s *Statement) Reset() error {
	if err := s.checkIdle(); err != nil {
		return s.fail(err)
	}
	if err := sqlite3_reset(s.handle); err != nil {
		return s.fail(withKind(ErrReset, err))
	}
	if err := sqlite3_clear_bindings(s.handle); err != nil {
		return s.fail(withKind(ErrReset, err))
	}
	s.bindErr = nil
	s.err = nil
	s.state = StatePrepared
	return nil
}

// Finalize releases the compiled statement. It is the only operation still
// allowed once the connection is closed. A second call returns ErrStatementFinalized.
func (s *Statement) Finalize() error {
	if s.state == StateFinalized {
		return s.fail(ErrStatementFinalized)
	}
	handle := s.handle
	live := s.conn.live(s.generation)
	s.handle = nil
	s.state = StateFinalized
	if s.cursor != nil {
		s.cursor.detach()
		s.cursor = nil
	}
	var err error
	if live {
		err = sqlite3_finalize(handle)
	} else {
		err = sqlite3_finalize_detached(handle)
	}
	if err != nil {
		return s.fail(withKind(ErrFinalize, err))
	}
	return nil
}

// Close finalizes the statement unless that already happened.
func (s *Statement) Close() error {
	if s.state == StateFinalized {
		return nil
	}
	return s.Finalize()
}

// ExecuteQuery hands the stepping rights to a new Cursor. Nothing is stepped
// until the cursor advances, and the statement refuses every other operation
// except Finalize until the cursor is closed.
func (s *Statement) ExecuteQuery() (*Cursor, error) {
	if err := s.checkRunnable(); err != nil {
		return nil, err
	}
	cursor := newCursor(s)
	s.cursor = cursor
	s.resume = s.state
	s.state = StateStepped
	return cursor, nil
}

// ExecuteUpdate steps the statement exactly once. Anything but completion
// resets the statement and returns an error matching ErrUpdate. On success the
// statement is finalized.
func (s *Statement) ExecuteUpdate() error {
	if err := s.checkRunnable(); err != nil {
		return err
	}
	status, err := sqlite3_step(s.handle)
	if status != SQLITE_DONE {
		if err == nil {
			err = &Error{Code: status}
		}
		_ = sqlite3_reset(s.handle)
		return s.fail(withKind(ErrUpdate, err))
	}
	_ = sqlite3_reset(s.handle)
	return s.Finalize()
}

// drain steps the statement until completion, discarding rows, and rewinds it.
func (s *Statement) drain() error {
	if err := s.checkRunnable(); err != nil {
		return err
	}
	for {
		status, err := sqlite3_step(s.handle)
		if err != nil {
			_ = sqlite3_reset(s.handle)
			return s.fail(withKind(ErrStep, err))
		}
		if status == SQLITE_DONE {
			return sqlite3_reset(s.handle)
		}
	}
}

// release takes the stepping rights back from cursor.
func (s *Statement) release(cursor *Cursor) {
	if s.cursor != cursor {
		return
	}
	s.cursor = nil
	if s.state == StateFinalized {
		return
	}
	// reset repeats the error of a failed step, which the cursor already reported
	_ = sqlite3_reset(s.handle)
	s.state = s.resume
}

// Helpers

// checkIdle allows operations that need a live, unfinalized statement without a cursor.
func (s *Statement) checkIdle() error {
	if s.state == StateFinalized {
		return ErrStatementFinalized
	}
	if !s.conn.live(s.generation) {
		return ErrConnectionClosed
	}
	if s.cursor != nil {
		return ErrCursorActive
	}
	return nil
}

func (s *Statement) checkRunnable() error {
	if err := s.checkIdle(); err != nil {
		return s.fail(err)
	}
	if s.bindErr != nil {
		return s.bindErr
	}
	return nil
}

func (s *Statement) fail(err error) error {
	s.err = err
	return err
}
