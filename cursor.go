package sqlift

import (
	"fmt"
	"strings"
	"time"
)

// StepResult is the outcome of advancing a Cursor.
type StepResult uint8

const (
	StepRow StepResult = iota
	StepDone
	StepFailed
)

func (r StepResult) String() string {
	switch r {
	case StepRow:
		return "row"
	case StepDone:
		return "done"
	default:
		return "failed"
	}
}

// Cursor iterates the rows of a query. It holds the stepping rights of its
// Statement until Close.
type Cursor struct {
	stmt   *Statement
	hasRow bool
	done   bool
	closed bool

	stepErr error
	errs    []error
	// columns maps lower-cased column names to ordinals for the current row.
	columns map[string]int
}

func newCursor(stmt *Statement) *Cursor {
	return &Cursor{stmt: stmt}
}

// Step advances to the next row. After StepDone or StepFailed further calls
// report the same outcome without touching the engine.
func (c *Cursor) Step() (StepResult, error) {
	if err := c.checkUsable(); err != nil {
		return StepFailed, c.record(err)
	}
	if c.stepErr != nil {
		return StepFailed, c.stepErr
	}
	if c.done {
		return StepDone, nil
	}
	status, err := sqlite3_step(c.stmt.handle)
	switch {
	case err != nil:
		c.hasRow = false
		c.stepErr = c.record(withKind(ErrStep, err))
		c.stmt.fail(c.stepErr)
		return StepFailed, c.stepErr
	case status == SQLITE_ROW:
		c.hasRow = true
		c.fetchRow()
		return StepRow, nil
	default:
		c.hasRow = false
		c.done = true
		return StepDone, nil
	}
}

// Next reports whether a row is available. Use Err to tell exhaustion from failure.
func (c *Cursor) Next() bool {
	result, _ := c.Step()
	return result == StepRow
}

// Err is the step failure that ended iteration, nil on normal exhaustion.
func (c *Cursor) Err() error {
	return c.stepErr
}

// Errors lists every failure recorded by the cursor in order, getter failures included.
func (c *Cursor) Errors() []error {
	return append([]error(nil), c.errs...)
}

func (c *Cursor) ColumnCount() int {
	if c.checkUsable() != nil {
		return 0
	}
	return sqlite3_column_count(c.stmt.handle)
}

func (c *Cursor) ColumnName(i int) (string, error) {
	if err := c.checkOrdinal(i); err != nil {
		return "", c.record(err)
	}
	return sqlite3_column_name(c.stmt.handle, i), nil
}

// ColumnDeclType is the declared type of a table column, empty for expressions.
func (c *Cursor) ColumnDeclType(i int) (string, error) {
	if err := c.checkOrdinal(i); err != nil {
		return "", c.record(err)
	}
	return sqlite3_column_decltype(c.stmt.handle, i), nil
}

func (c *Cursor) Columns() []string {
	n := c.ColumnCount()
	names := make([]string, n)
	for i := range names {
		names[i] = sqlite3_column_name(c.stmt.handle, i)
	}
	return names
}

func (c *Cursor) GetInt(i int) (int64, error) {
	if err := c.checkCell(i); err != nil {
		return 0, c.record(err)
	}
	return sqlite3_column_int64(c.stmt.handle, i), nil
}

func (c *Cursor) GetDouble(i int) (float64, error) {
	if err := c.checkCell(i); err != nil {
		return 0, c.record(err)
	}
	return sqlite3_column_double(c.stmt.handle, i), nil
}

// GetBool is true for a stored integer greater than zero, false otherwise.
func (c *Cursor) GetBool(i int) (bool, error) {
	n, err := c.GetInt(i)
	return n > 0, err
}

// GetString reads the cell as text. NULL reads as the empty string.
func (c *Cursor) GetString(i int) (string, error) {
	if err := c.checkCell(i); err != nil {
		return "", c.record(err)
	}
	return sqlite3_column_text(c.stmt.handle, i), nil
}

// GetBlob copies the cell. NULL reads as nil, a zero-length blob as an empty slice.
func (c *Cursor) GetBlob(i int) ([]byte, error) {
	if err := c.checkCell(i); err != nil {
		return nil, c.record(err)
	}
	if sqlite3_column_type(c.stmt.handle, i) == SQLITE_NULL {
		return nil, nil
	}
	b := sqlite3_column_blob(c.stmt.handle, i)
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// GetTime parses a YYYY-MM-DD HH:MM:SS cell in the connection's location,
// keeping the fields down to p.
func (c *Cursor) GetTime(i int, p Precision) (time.Time, error) {
	text, err := c.GetString(i)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseTimestamp(text, p, c.stmt.conn.config.location())
	if err != nil {
		return time.Time{}, c.record(err)
	}
	return t, nil
}

// ColumnType is the storage class of the cell in the current row.
func (c *Cursor) ColumnType(i int) (StorageClass, error) {
	if err := c.checkCell(i); err != nil {
		return SQLITE_NULL, c.record(err)
	}
	return sqlite3_column_type(c.stmt.handle, i), nil
}

// Value reads the cell into the variant matching its storage class.
func (c *Cursor) Value(i int) (Value, error) {
	if err := c.checkCell(i); err != nil {
		return Null(), c.record(err)
	}
	return columnValue(c.stmt.handle, i), nil
}

// Name based access. Lookups are case-insensitive.

func (c *Cursor) GetIntByName(name string) (int64, error) {
	i, err := c.ordinal(name)
	if err != nil {
		return 0, err
	}
	return c.GetInt(i)
}

func (c *Cursor) GetDoubleByName(name string) (float64, error) {
	i, err := c.ordinal(name)
	if err != nil {
		return 0, err
	}
	return c.GetDouble(i)
}

func (c *Cursor) GetBoolByName(name string) (bool, error) {
	i, err := c.ordinal(name)
	if err != nil {
		return false, err
	}
	return c.GetBool(i)
}

func (c *Cursor) GetStringByName(name string) (string, error) {
	i, err := c.ordinal(name)
	if err != nil {
		return "", err
	}
	return c.GetString(i)
}

func (c *Cursor) GetBlobByName(name string) ([]byte, error) {
	i, err := c.ordinal(name)
	if err != nil {
		return nil, err
	}
	return c.GetBlob(i)
}

func (c *Cursor) GetTimeByName(name string, p Precision) (time.Time, error) {
	i, err := c.ordinal(name)
	if err != nil {
		return time.Time{}, err
	}
	return c.GetTime(i, p)
}

func (c *Cursor) ColumnTypeByName(name string) (StorageClass, error) {
	i, err := c.ordinal(name)
	if err != nil {
		return SQLITE_NULL, err
	}
	return c.ColumnType(i)
}

func (c *Cursor) ValueByName(name string) (Value, error) {
	i, err := c.ordinal(name)
	if err != nil {
		return Null(), err
	}
	return c.Value(i)
}

// Close rewinds the statement and returns its stepping rights. Safe to call more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.hasRow = false
	stmt := c.stmt
	c.stmt = nil
	if stmt != nil {
		stmt.release(c)
	}
	return nil
}

// Helpers

// detach is called by a finalizing statement; the cursor can only report errors afterwards.
func (c *Cursor) detach() {
	c.stmt = nil
	c.hasRow = false
}

func (c *Cursor) fetchRow() {
	n := sqlite3_column_count(c.stmt.handle)
	if c.columns == nil {
		c.columns = make(map[string]int, n)
	} else {
		clear(c.columns)
	}
	for i := 0; i < n; i++ {
		c.columns[strings.ToLower(sqlite3_column_name(c.stmt.handle, i))] = i
	}
}

func (c *Cursor) ordinal(name string) (int, error) {
	if err := c.checkRow(); err != nil {
		return 0, c.record(err)
	}
	i, ok := c.columns[strings.ToLower(name)]
	if !ok {
		return 0, c.record(fmt.Errorf("%w: %q", ErrUnknownColumn, name))
	}
	return i, nil
}

func (c *Cursor) checkUsable() error {
	if c.closed {
		return ErrCursorClosed
	}
	if c.stmt == nil {
		return ErrStatementFinalized
	}
	if !c.stmt.conn.live(c.stmt.generation) {
		return ErrConnectionClosed
	}
	return nil
}

func (c *Cursor) checkOrdinal(i int) error {
	if err := c.checkUsable(); err != nil {
		return err
	}
	if n := sqlite3_column_count(c.stmt.handle); i < 0 || i >= n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrColumnIndex, i, n)
	}
	return nil
}

func (c *Cursor) checkRow() error {
	if err := c.checkUsable(); err != nil {
		return err
	}
	if !c.hasRow {
		return ErrNoRow
	}
	return nil
}

func (c *Cursor) checkCell(i int) error {
	if err := c.checkRow(); err != nil {
		return err
	}
	return c.checkOrdinal(i)
}

func (c *Cursor) record(err error) error {
	c.errs = append(c.errs, err)
	return err
}
