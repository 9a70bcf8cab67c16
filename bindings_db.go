package sqlift

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

// define all necessary constants first
type SqliteStatusCode int32

// note, that OK, ROW and DONE are statuses - everything else is an error
const (
	SQLITE_OK         SqliteStatusCode = 0
	SQLITE_ERROR      SqliteStatusCode = 1
	SQLITE_INTERNAL   SqliteStatusCode = 2
	SQLITE_PERM       SqliteStatusCode = 3
	SQLITE_ABORT      SqliteStatusCode = 4
	SQLITE_BUSY       SqliteStatusCode = 5
	SQLITE_LOCKED     SqliteStatusCode = 6
	SQLITE_NOMEM      SqliteStatusCode = 7
	SQLITE_READONLY   SqliteStatusCode = 8
	SQLITE_INTERRUPT  SqliteStatusCode = 9
	SQLITE_IOERR      SqliteStatusCode = 10
	SQLITE_CORRUPT    SqliteStatusCode = 11
	SQLITE_NOTFOUND   SqliteStatusCode = 12
	SQLITE_FULL       SqliteStatusCode = 13
	SQLITE_CANTOPEN   SqliteStatusCode = 14
	SQLITE_PROTOCOL   SqliteStatusCode = 15
	SQLITE_EMPTY      SqliteStatusCode = 16
	SQLITE_SCHEMA     SqliteStatusCode = 17
	SQLITE_TOOBIG     SqliteStatusCode = 18
	SQLITE_CONSTRAINT SqliteStatusCode = 19
	SQLITE_MISMATCH   SqliteStatusCode = 20
	SQLITE_MISUSE     SqliteStatusCode = 21
	SQLITE_NOLFS      SqliteStatusCode = 22
	SQLITE_AUTH       SqliteStatusCode = 23
	SQLITE_FORMAT     SqliteStatusCode = 24
	SQLITE_RANGE      SqliteStatusCode = 25
	SQLITE_NOTADB     SqliteStatusCode = 26
	SQLITE_NOTICE     SqliteStatusCode = 27
	SQLITE_WARNING    SqliteStatusCode = 28
	SQLITE_ROW        SqliteStatusCode = 100
	SQLITE_DONE       SqliteStatusCode = 101
)

// Primary strips the extended bits from a result code.
func (c SqliteStatusCode) Primary() SqliteStatusCode {
	return c & 0xff
}

// StorageClass is the dynamic type the engine assigns to a single cell.
type StorageClass int32

const (
	SQLITE_INTEGER StorageClass = 1
	SQLITE_FLOAT   StorageClass = 2
	SQLITE_TEXT    StorageClass = 3
	SQLITE_BLOB    StorageClass = 4
	SQLITE_NULL    StorageClass = 5
)

func (t StorageClass) String() string {
	switch t {
	case SQLITE_INTEGER:
		return "INTEGER"
	case SQLITE_FLOAT:
		return "REAL"
	case SQLITE_TEXT:
		return "TEXT"
	case SQLITE_BLOB:
		return "BLOB"
	case SQLITE_NULL:
		return "NULL"
	default:
		return fmt.Sprintf("StorageClass(%d)", int32(t))
	}
}

type SqliteOpenFlags int32

const (
	SQLITE_OPEN_READONLY  SqliteOpenFlags = 0x00000001
	SQLITE_OPEN_READWRITE SqliteOpenFlags = 0x00000002
	SQLITE_OPEN_CREATE    SqliteOpenFlags = 0x00000004
	SQLITE_OPEN_URI       SqliteOpenFlags = 0x00000040
	SQLITE_OPEN_MEMORY    SqliteOpenFlags = 0x00000080
	SQLITE_OPEN_NOMUTEX   SqliteOpenFlags = 0x00008000
	SQLITE_OPEN_FULLMUTEX SqliteOpenFlags = 0x00010000
)

// sqliteTransient is SQLITE_TRANSIENT: the engine copies the buffer before the bind call returns.
const sqliteTransient = ^uintptr(0)

// define opaque pointers as-is and accept them as exact arguments
type sqlite3_t struct{}
type sqlite3_stmt_t struct{}

type SqliteDB *sqlite3_t
type SqliteStmt *sqlite3_stmt_t

// then, define C extern methods
var (
	c_sqlite3_libversion func() unsafe.Pointer // const char*

	c_sqlite3_open_v2 func(
		filename string, // const char*
		db unsafe.Pointer, // sqlite3**
		flags int32,
		vfs unsafe.Pointer, // const char* | NULL
	) int32

	c_sqlite3_close_v2 func(
		db unsafe.Pointer, // sqlite3*
	) int32

	c_sqlite3_errmsg func(
		db unsafe.Pointer, // sqlite3*
	) unsafe.Pointer // const char*

	c_sqlite3_exec func(
		db unsafe.Pointer, // sqlite3*
		sql string, // const char*
		callback uintptr, // int (*)(void*,int,char**,char**) | NULL
		arg unsafe.Pointer, // void*
		errmsg unsafe.Pointer, // char**
	) int32

	c_sqlite3_free func(
		ptr unsafe.Pointer, // void*
	)

	c_sqlite3_busy_timeout func(
		db unsafe.Pointer, // sqlite3*
		ms int32,
	) int32

	c_sqlite3_changes func(
		db unsafe.Pointer, // sqlite3*
	) int32

	c_sqlite3_last_insert_rowid func(
		db unsafe.Pointer, // sqlite3*
	) int64

	c_sqlite3_get_autocommit func(
		db unsafe.Pointer, // sqlite3*
	) int32

	c_sqlite3_prepare_v2 func(
		db unsafe.Pointer, // sqlite3*
		sql string, // const char*
		nByte int32,
		stmt unsafe.Pointer, // sqlite3_stmt**
		tail unsafe.Pointer, // const char** | NULL
	) int32

	c_sqlite3_db_handle func(
		stmt unsafe.Pointer, // sqlite3_stmt*
	) unsafe.Pointer // sqlite3*

	c_sqlite3_bind_parameter_count func(
		stmt unsafe.Pointer,
	) int32

	c_sqlite3_bind_parameter_index func(
		stmt unsafe.Pointer,
		name string, // const char*
	) int32

	c_sqlite3_bind_null func(
		stmt unsafe.Pointer,
		index int32,
	) int32

	c_sqlite3_bind_int64 func(
		stmt unsafe.Pointer,
		index int32,
		value int64,
	) int32

	c_sqlite3_bind_double func(
		stmt unsafe.Pointer,
		index int32,
		value float64,
	) int32

	c_sqlite3_bind_text func(
		stmt unsafe.Pointer,
		index int32,
		value string, // const char*
		n int32,
		destructor uintptr, // void (*)(void*)
	) int32

	c_sqlite3_bind_blob func(
		stmt unsafe.Pointer,
		index int32,
		value unsafe.Pointer, // const void*
		n int32,
		destructor uintptr, // void (*)(void*)
	) int32

	c_sqlite3_bind_zeroblob func(
		stmt unsafe.Pointer,
		index int32,
		n int32,
	) int32

	c_sqlite3_clear_bindings func(
		stmt unsafe.Pointer,
	) int32

	c_sqlite3_step func(
		stmt unsafe.Pointer,
	) int32

	c_sqlite3_reset func(
		stmt unsafe.Pointer,
	) int32

	c_sqlite3_finalize func(
		stmt unsafe.Pointer,
	) int32

	c_sqlite3_column_count func(
		stmt unsafe.Pointer,
	) int32

	c_sqlite3_column_name func(
		stmt unsafe.Pointer,
		index int32,
	) unsafe.Pointer // const char*

	c_sqlite3_column_decltype func(
		stmt unsafe.Pointer,
		index int32,
	) unsafe.Pointer // const char*

	c_sqlite3_column_type func(
		stmt unsafe.Pointer,
		index int32,
	) int32

	c_sqlite3_column_int64 func(
		stmt unsafe.Pointer,
		index int32,
	) int64

	c_sqlite3_column_double func(
		stmt unsafe.Pointer,
		index int32,
	) float64

	c_sqlite3_column_text func(
		stmt unsafe.Pointer,
		index int32,
	) unsafe.Pointer // const unsigned char*

	c_sqlite3_column_blob func(
		stmt unsafe.Pointer,
		index int32,
	) unsafe.Pointer // const void*

	c_sqlite3_column_bytes func(
		stmt unsafe.Pointer,
		index int32,
	) int32
)

// register_sqlite3 binds every extern method from an already loaded library.
// purego panics on a missing symbol, the panic is turned into an error here.
func register_sqlite3(handle uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("register sqlite3 symbols: %v", r)
		}
	}()
	purego.RegisterLibFunc(&c_sqlite3_libversion, handle, "sqlite3_libversion")
	purego.RegisterLibFunc(&c_sqlite3_open_v2, handle, "sqlite3_open_v2")
	purego.RegisterLibFunc(&c_sqlite3_close_v2, handle, "sqlite3_close_v2")
	purego.RegisterLibFunc(&c_sqlite3_errmsg, handle, "sqlite3_errmsg")
	purego.RegisterLibFunc(&c_sqlite3_exec, handle, "sqlite3_exec")
	purego.RegisterLibFunc(&c_sqlite3_free, handle, "sqlite3_free")
	purego.RegisterLibFunc(&c_sqlite3_busy_timeout, handle, "sqlite3_busy_timeout")
	purego.RegisterLibFunc(&c_sqlite3_changes, handle, "sqlite3_changes")
	purego.RegisterLibFunc(&c_sqlite3_last_insert_rowid, handle, "sqlite3_last_insert_rowid")
	purego.RegisterLibFunc(&c_sqlite3_get_autocommit, handle, "sqlite3_get_autocommit")
	purego.RegisterLibFunc(&c_sqlite3_prepare_v2, handle, "sqlite3_prepare_v2")
	purego.RegisterLibFunc(&c_sqlite3_db_handle, handle, "sqlite3_db_handle")
	purego.RegisterLibFunc(&c_sqlite3_bind_parameter_count, handle, "sqlite3_bind_parameter_count")
	purego.RegisterLibFunc(&c_sqlite3_bind_parameter_index, handle, "sqlite3_bind_parameter_index")
	purego.RegisterLibFunc(&c_sqlite3_bind_null, handle, "sqlite3_bind_null")
	purego.RegisterLibFunc(&c_sqlite3_bind_int64, handle, "sqlite3_bind_int64")
	purego.RegisterLibFunc(&c_sqlite3_bind_double, handle, "sqlite3_bind_double")
	purego.RegisterLibFunc(&c_sqlite3_bind_text, handle, "sqlite3_bind_text")
	purego.RegisterLibFunc(&c_sqlite3_bind_blob, handle, "sqlite3_bind_blob")
	purego.RegisterLibFunc(&c_sqlite3_bind_zeroblob, handle, "sqlite3_bind_zeroblob")
	purego.RegisterLibFunc(&c_sqlite3_clear_bindings, handle, "sqlite3_clear_bindings")
	purego.RegisterLibFunc(&c_sqlite3_step, handle, "sqlite3_step")
	purego.RegisterLibFunc(&c_sqlite3_reset, handle, "sqlite3_reset")
	purego.RegisterLibFunc(&c_sqlite3_finalize, handle, "sqlite3_finalize")
	purego.RegisterLibFunc(&c_sqlite3_column_count, handle, "sqlite3_column_count")
	purego.RegisterLibFunc(&c_sqlite3_column_name, handle, "sqlite3_column_name")
	purego.RegisterLibFunc(&c_sqlite3_column_decltype, handle, "sqlite3_column_decltype")
	purego.RegisterLibFunc(&c_sqlite3_column_type, handle, "sqlite3_column_type")
	purego.RegisterLibFunc(&c_sqlite3_column_int64, handle, "sqlite3_column_int64")
	purego.RegisterLibFunc(&c_sqlite3_column_double, handle, "sqlite3_column_double")
	purego.RegisterLibFunc(&c_sqlite3_column_text, handle, "sqlite3_column_text")
	purego.RegisterLibFunc(&c_sqlite3_column_blob, handle, "sqlite3_column_blob")
	purego.RegisterLibFunc(&c_sqlite3_column_bytes, handle, "sqlite3_column_bytes")
	return nil
}

// Helpers

func copyCString(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), n))
}

func copyBytes(p unsafe.Pointer, n int32) []byte {
	if p == nil || n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(p), n))
	return out
}

// stmtStatusToError reads the diagnostic from the connection owning stmt.
func stmtStatusToError(stmt SqliteStmt, code int32) error {
	status := SqliteStatusCode(code)
	if status == SQLITE_OK || status == SQLITE_ROW || status == SQLITE_DONE {
		return nil
	}
	db := c_sqlite3_db_handle(unsafe.Pointer(stmt))
	return statusToError(status, copyCString(c_sqlite3_errmsg(db)))
}

// Go wrappers over imported C bindings

/** Version string of the loaded engine */
func sqlite3_libversion() string {
	return copyCString(c_sqlite3_libversion())
}

/** Open a database handle
 * Even a failed open can allocate a handle; it is closed before returning.
 */
func sqlite3_open_v2(filename string, flags SqliteOpenFlags) (SqliteDB, error) {
	var db SqliteDB
	code := SqliteStatusCode(c_sqlite3_open_v2(filename, unsafe.Pointer(&db), int32(flags), nil))
	if code == SQLITE_OK {
		return db, nil
	}
	msg := ""
	if db != nil {
		msg = sqlite3_errmsg(db)
		c_sqlite3_close_v2(unsafe.Pointer(db))
	}
	return nil, statusToError(code, msg)
}

/** Close a database handle
 * Unfinalized statements keep the handle alive as a zombie until they are finalized.
 */
func sqlite3_close_v2(db SqliteDB) error {
	code := SqliteStatusCode(c_sqlite3_close_v2(unsafe.Pointer(db)))
	if code == SQLITE_OK {
		return nil
	}
	return statusToError(code, sqlite3_errmsg(db))
}

/** Most recent diagnostic text of the handle */
func sqlite3_errmsg(db SqliteDB) string {
	if db == nil {
		return ""
	}
	return copyCString(c_sqlite3_errmsg(unsafe.Pointer(db)))
}

/** Run zero or more semicolon separated statements without capturing rows */
func sqlite3_exec(db SqliteDB, sql string) error {
	var cerr unsafe.Pointer
	code := SqliteStatusCode(c_sqlite3_exec(unsafe.Pointer(db), sql, 0, nil, unsafe.Pointer(&cerr)))
	msg := ""
	if cerr != nil {
		msg = copyCString(cerr)
		c_sqlite3_free(cerr)
	}
	return statusToError(code, msg)
}

/** Install a busy handler sleeping up to ms milliseconds */
func sqlite3_busy_timeout(db SqliteDB, ms int) error {
	code := SqliteStatusCode(c_sqlite3_busy_timeout(unsafe.Pointer(db), int32(ms)))
	return statusToError(code, "")
}

/** Rows modified by the most recent INSERT, UPDATE or DELETE */
func sqlite3_changes(db SqliteDB) int64 {
	return int64(c_sqlite3_changes(unsafe.Pointer(db)))
}

func sqlite3_last_insert_rowid(db SqliteDB) int64 {
	return c_sqlite3_last_insert_rowid(unsafe.Pointer(db))
}

/** True when no transaction is open on the handle */
func sqlite3_get_autocommit(db SqliteDB) bool {
	return c_sqlite3_get_autocommit(unsafe.Pointer(db)) != 0
}

/** Compile the first statement of sql
 * SQL consisting only of whitespace or comments compiles to no statement, which is reported as misuse.
 */
func sqlite3_prepare_v2(db SqliteDB, sql string) (SqliteStmt, error) {
	var stmt SqliteStmt
	code := SqliteStatusCode(c_sqlite3_prepare_v2(unsafe.Pointer(db), sql, int32(len(sql)), unsafe.Pointer(&stmt), nil))
	if code != SQLITE_OK {
		return nil, statusToError(code, sqlite3_errmsg(db))
	}
	if stmt == nil {
		return nil, statusToError(SQLITE_MISUSE, "no SQL statement to prepare")
	}
	return stmt, nil
}

func sqlite3_bind_parameter_count(stmt SqliteStmt) int {
	return int(c_sqlite3_bind_parameter_count(unsafe.Pointer(stmt)))
}

/** 1-based position of a named parameter, 0 when there is none */
func sqlite3_bind_parameter_index(stmt SqliteStmt, name string) int {
	return int(c_sqlite3_bind_parameter_index(unsafe.Pointer(stmt), name))
}

func sqlite3_bind_null(stmt SqliteStmt, index int) error {
	return stmtStatusToError(stmt, c_sqlite3_bind_null(unsafe.Pointer(stmt), int32(index)))
}

func sqlite3_bind_int64(stmt SqliteStmt, index int, value int64) error {
	return stmtStatusToError(stmt, c_sqlite3_bind_int64(unsafe.Pointer(stmt), int32(index), value))
}

func sqlite3_bind_double(stmt SqliteStmt, index int, value float64) error {
	return stmtStatusToError(stmt, c_sqlite3_bind_double(unsafe.Pointer(stmt), int32(index), value))
}

/** Bind TEXT, the engine keeps its own copy */
func sqlite3_bind_text(stmt SqliteStmt, index int, value string) error {
	return stmtStatusToError(stmt, c_sqlite3_bind_text(unsafe.Pointer(stmt), int32(index), value, int32(len(value)), sqliteTransient))
}

/** Bind BLOB, the engine keeps its own copy
 * A nil pointer would bind NULL, so an empty value binds a zero-length blob instead.
 */
func sqlite3_bind_blob(stmt SqliteStmt, index int, value []byte) error {
	if len(value) == 0 {
		return stmtStatusToError(stmt, c_sqlite3_bind_zeroblob(unsafe.Pointer(stmt), int32(index), 0))
	}
	return stmtStatusToError(stmt, c_sqlite3_bind_blob(unsafe.Pointer(stmt), int32(index), unsafe.Pointer(&value[0]), int32(len(value)), sqliteTransient))
}

func sqlite3_clear_bindings(stmt SqliteStmt) error {
	return stmtStatusToError(stmt, c_sqlite3_clear_bindings(unsafe.Pointer(stmt)))
}

/** Step statement execution once
 * Returns SQLITE_ROW if a row is available and SQLITE_DONE when execution finished.
 */
func sqlite3_step(stmt SqliteStmt) (SqliteStatusCode, error) {
	code := c_sqlite3_step(unsafe.Pointer(stmt))
	return SqliteStatusCode(code), stmtStatusToError(stmt, code)
}

/** Reset a statement to its initial state, bindings are kept */
func sqlite3_reset(stmt SqliteStmt) error {
	return stmtStatusToError(stmt, c_sqlite3_reset(unsafe.Pointer(stmt)))
}

/** Finalize a statement
 * The statement is released even when an error is returned; the error only repeats the last failed step.
 */
func sqlite3_finalize(stmt SqliteStmt) error {
	db := c_sqlite3_db_handle(unsafe.Pointer(stmt))
	code := SqliteStatusCode(c_sqlite3_finalize(unsafe.Pointer(stmt)))
	if code == SQLITE_OK {
		return nil
	}
	return statusToError(code, copyCString(c_sqlite3_errmsg(db)))
}

/** Finalize a statement whose connection was already closed
 * The last finalize frees a zombie connection, so its diagnostic cannot be read afterwards.
 */
func sqlite3_finalize_detached(stmt SqliteStmt) error {
	return statusToError(SqliteStatusCode(c_sqlite3_finalize(unsafe.Pointer(stmt))), "")
}

func sqlite3_column_count(stmt SqliteStmt) int {
	return int(c_sqlite3_column_count(unsafe.Pointer(stmt)))
}

func sqlite3_column_name(stmt SqliteStmt, index int) string {
	return copyCString(c_sqlite3_column_name(unsafe.Pointer(stmt), int32(index)))
}

/** Declared type of a result column, empty for expressions */
func sqlite3_column_decltype(stmt SqliteStmt, index int) string {
	return copyCString(c_sqlite3_column_decltype(unsafe.Pointer(stmt), int32(index)))
}

func sqlite3_column_type(stmt SqliteStmt, index int) StorageClass {
	return StorageClass(c_sqlite3_column_type(unsafe.Pointer(stmt), int32(index)))
}

func sqlite3_column_int64(stmt SqliteStmt, index int) int64 {
	return c_sqlite3_column_int64(unsafe.Pointer(stmt), int32(index))
}

func sqlite3_column_double(stmt SqliteStmt, index int) float64 {
	return c_sqlite3_column_double(unsafe.Pointer(stmt), int32(index))
}

// Additional ergonomic helpers (the only non-direct translations)

/** Return TEXT value as a Go string (copied)
 * A NULL cell returns the empty string. column_text must run before column_bytes.
 */
func sqlite3_column_text(stmt SqliteStmt, index int) string {
	p := c_sqlite3_column_text(unsafe.Pointer(stmt), int32(index))
	if p == nil {
		return ""
	}
	n := c_sqlite3_column_bytes(unsafe.Pointer(stmt), int32(index))
	return string(copyBytes(p, n))
}

/** Return BLOB value as a Go byte slice (copied)
 * NULL and zero-length blobs both come back as nil; callers tell them apart with column_type.
 */
func sqlite3_column_blob(stmt SqliteStmt, index int) []byte {
	p := c_sqlite3_column_blob(unsafe.Pointer(stmt), int32(index))
	if p == nil {
		return nil
	}
	n := c_sqlite3_column_bytes(unsafe.Pointer(stmt), int32(index))
	return copyBytes(p, n)
}
