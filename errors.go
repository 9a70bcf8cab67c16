package sqlift

import (
	"errors"
	"fmt"
)

// define all package level errors here

// Operation kinds. Engine failures are *Error values whose Kind is one of these.
var (
	ErrOpen      = errors.New("sqlift: open failed")
	ErrClose     = errors.New("sqlift: close failed")
	ErrExecution = errors.New("sqlift: execution failed")
	ErrPreparing = errors.New("sqlift: preparing failed")
	ErrBind      = errors.New("sqlift: binding failed")
	ErrReset     = errors.New("sqlift: reset failed")
	ErrFinalize  = errors.New("sqlift: finalize failed")
	// ErrSelect is reserved; queries report failures through ErrStep.
	ErrSelect = errors.New("sqlift: select failed")
	ErrUpdate = errors.New("sqlift: update failed")
	ErrStep   = errors.New("sqlift: step failed")
)

// Misuse of the API. These never carry an engine status.
var (
	ErrLibrary            = errors.New("sqlift: sqlite library is not available")
	ErrConnectionClosed   = errors.New("sqlift: connection is not open")
	ErrAlreadyOpen        = errors.New("sqlift: connection is already open")
	ErrStatementFinalized = errors.New("sqlift: statement is finalized")
	ErrCursorActive       = errors.New("sqlift: statement has an open cursor")
	ErrCursorClosed       = errors.New("sqlift: cursor is closed")
	ErrNoRow              = errors.New("sqlift: cursor is not positioned on a row")
	ErrColumnIndex        = errors.New("sqlift: column index out of range")
	ErrUnknownColumn      = errors.New("sqlift: unknown column")
	ErrNoTransaction      = errors.New("sqlift: no open transaction")
	ErrUnsupportedType    = errors.New("sqlift: unsupported value type")
	ErrIntegerOverflow    = errors.New("sqlift: integer does not fit in 64 bits")
	ErrParse              = errors.New("sqlift: malformed timestamp")
)

// One sentinel per primary engine status, matched through errors.Is on an *Error.
var (
	ErrGeneric    = errors.New("sqlift: SQL error or missing database")
	ErrInternal   = errors.New("sqlift: internal logic error")
	ErrPermission = errors.New("sqlift: access permission denied")
	ErrAbort      = errors.New("sqlift: callback requested an abort")
	ErrBusy       = errors.New("sqlift: database is locked")
	ErrLocked     = errors.New("sqlift: table is locked")
	ErrNoMemory   = errors.New("sqlift: out of memory")
	ErrReadonly   = errors.New("sqlift: database is read-only")
	ErrInterrupt  = errors.New("sqlift: operation interrupted")
	ErrIO         = errors.New("sqlift: disk I/O error")
	ErrCorrupt    = errors.New("sqlift: database disk image is malformed")
	ErrFull       = errors.New("sqlift: database is full")
	ErrCantOpen   = errors.New("sqlift: unable to open database file")
	ErrSchema     = errors.New("sqlift: database schema changed")
	ErrTooBig     = errors.New("sqlift: string or blob too big")
	ErrConstraint = errors.New("sqlift: constraint violation")
	ErrMismatch   = errors.New("sqlift: data type mismatch")
	ErrMisuse     = errors.New("sqlift: library used incorrectly")
	ErrAuth       = errors.New("sqlift: authorization denied")
	ErrRange      = errors.New("sqlift: bind parameter out of range")
	ErrNotADB     = errors.New("sqlift: file is not a database")
)

var statusErrors = map[SqliteStatusCode]error{
	SQLITE_ERROR:      ErrGeneric,
	SQLITE_INTERNAL:   ErrInternal,
	SQLITE_PERM:       ErrPermission,
	SQLITE_ABORT:      ErrAbort,
	SQLITE_BUSY:       ErrBusy,
	SQLITE_LOCKED:     ErrLocked,
	SQLITE_NOMEM:      ErrNoMemory,
	SQLITE_READONLY:   ErrReadonly,
	SQLITE_INTERRUPT:  ErrInterrupt,
	SQLITE_IOERR:      ErrIO,
	SQLITE_CORRUPT:    ErrCorrupt,
	SQLITE_FULL:       ErrFull,
	SQLITE_CANTOPEN:   ErrCantOpen,
	SQLITE_SCHEMA:     ErrSchema,
	SQLITE_TOOBIG:     ErrTooBig,
	SQLITE_CONSTRAINT: ErrConstraint,
	SQLITE_MISMATCH:   ErrMismatch,
	SQLITE_MISUSE:     ErrMisuse,
	SQLITE_AUTH:       ErrAuth,
	SQLITE_RANGE:      ErrRange,
	SQLITE_NOTADB:     ErrNotADB,
}

// statusMessages is never written after package initialization.
var statusMessages = map[SqliteStatusCode]string{
	SQLITE_OK:         "not an error",
	SQLITE_ERROR:      "SQL error or missing database",
	SQLITE_INTERNAL:   "Internal logic error in SQLite",
	SQLITE_PERM:       "Access permission denied",
	SQLITE_ABORT:      "Callback routine requested an abort",
	SQLITE_BUSY:       "The database file is locked",
	SQLITE_LOCKED:     "A table in the database is locked",
	SQLITE_NOMEM:      "A malloc() failed",
	SQLITE_READONLY:   "Attempt to write a readonly database",
	SQLITE_INTERRUPT:  "Operation terminated by sqlite3_interrupt()",
	SQLITE_IOERR:      "Some kind of disk I/O error occurred",
	SQLITE_CORRUPT:    "The database disk image is malformed",
	SQLITE_NOTFOUND:   "Unknown opcode in sqlite3_file_control()",
	SQLITE_FULL:       "Insertion failed because database is full",
	SQLITE_CANTOPEN:   "Unable to open the database file",
	SQLITE_PROTOCOL:   "Database lock protocol error",
	SQLITE_EMPTY:      "Database is empty",
	SQLITE_SCHEMA:     "The database schema changed",
	SQLITE_TOOBIG:     "String or BLOB exceeds size limit",
	SQLITE_CONSTRAINT: "Abort due to constraint violation",
	SQLITE_MISMATCH:   "Data type mismatch",
	SQLITE_MISUSE:     "Library used incorrectly",
	SQLITE_NOLFS:      "Uses OS features not supported on host",
	SQLITE_AUTH:       "Authorization denied",
	SQLITE_FORMAT:     "Auxiliary database format error",
	SQLITE_RANGE:      "2nd parameter to sqlite3_bind out of range",
	SQLITE_NOTADB:     "File opened that is not a database file",
	SQLITE_NOTICE:     "Notifications from sqlite3_log()",
	SQLITE_WARNING:    "Warnings from sqlite3_log()",
	SQLITE_ROW:        "sqlite3_step() has another row ready",
	SQLITE_DONE:       "sqlite3_step() has finished executing",
}

const unknownStatusMessage = "unknown error"

// Message returns the fixed description of the code. Extended codes use their primary code.
func (c SqliteStatusCode) Message() string {
	if msg, ok := statusMessages[c]; ok {
		return msg
	}
	if msg, ok := statusMessages[c.Primary()]; ok {
		return msg
	}
	return unknownStatusMessage
}

func (c SqliteStatusCode) String() string {
	return fmt.Sprintf("%d (%s)", int32(c), c.Message())
}

// Error is a failure reported by the engine.
type Error struct {
	// Kind is the operation that failed, e.g. ErrUpdate. Nil for raw binding errors.
	Kind error
	// Code is the status returned by the engine.
	Code SqliteStatusCode
	// Message is the engine diagnostic, falling back to the status description.
	Message string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.Message()
	}
	if e.Kind != nil {
		return fmt.Sprintf("%v: %s", e.Kind, msg)
	}
	return "sqlift: " + msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if status, ok := statusErrors[e.Code.Primary()]; ok {
		errs = append(errs, status)
	}
	return errs
}

// Helpers

func statusToError(code SqliteStatusCode, msg string) error {
	switch code {
	case SQLITE_OK, SQLITE_ROW, SQLITE_DONE:
		return nil
	}
	return &Error{Code: code, Message: msg}
}

// withKind tags err with the operation kind. Misuse sentinels are wrapped so both match.
func withKind(kind error, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		tagged := *e
		tagged.Kind = kind
		return &tagged
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// ParseError reports a cell that does not hold a YYYY-MM-DD HH:MM:SS timestamp.
type ParseError struct {
	Text  string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s in %q: %v", ErrParse, e.Field, e.Text, e.Err)
	}
	return fmt.Sprintf("%v: %s in %q", ErrParse, e.Field, e.Text)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
