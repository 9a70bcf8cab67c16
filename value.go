package sqlift

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBool
	KindTime
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindBlob:
		return "blob"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a parameter or a cell. The zero Value is NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
	t    time.Time
}

func Null() Value {
	return Value{}
}

func Int(v int64) Value {
	return Value{kind: KindInteger, i: v}
}

func Real(v float64) Value {
	return Value{kind: KindReal, f: v}
}

func Text(v string) Value {
	return Value{kind: KindText, s: v}
}

func Bool(v bool) Value {
	return Value{kind: KindBool, i: boolToInt(v)}
}

func Time(v time.Time) Value {
	return Value{kind: KindTime, t: v}
}

func Blob(v []byte) Value {
	return Value{kind: KindBlob, b: v}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) Int64() (int64, bool) {
	return v.i, v.kind == KindInteger
}

func (v Value) Float64() (float64, bool) {
	return v.f, v.kind == KindReal
}

func (v Value) Text() (string, bool) {
	return v.s, v.kind == KindText
}

func (v Value) Bool() (bool, bool) {
	return v.i > 0, v.kind == KindBool
}

func (v Value) Time() (time.Time, bool) {
	return v.t, v.kind == KindTime
}

func (v Value) Blob() ([]byte, bool) {
	return v.b, v.kind == KindBlob
}

// Any unwraps the value into the matching Go type; NULL becomes nil.
func (v Value) Any() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBool:
		return v.i > 0
	case KindTime:
		return v.t
	case KindBlob:
		return v.b
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindText:
		return strconv.Quote(v.s)
	case KindTime:
		return FormatTimestamp(v.t)
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.b)
	default:
		return fmt.Sprint(v.Any())
	}
}

// ValueOf converts a dynamically typed host value. Unsigned values above
// math.MaxInt64 fail with ErrIntegerOverflow and types outside the variant
// fail with ErrUnsupportedType.
func ValueOf(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return uintValue(uint64(v))
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint64:
		return uintValue(v)
	case string:
		return Text(v), nil
	case float32:
		return Real(float64(v)), nil
	case float64:
		return Real(v), nil
	case bool:
		return Bool(v), nil
	case time.Time:
		return Time(v), nil
	case []byte:
		return Blob(v), nil
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil {
			return Value{}, err
		}
		if _, nested := dv.(driver.Valuer); nested {
			return Value{}, fmt.Errorf("%w: %T returns another driver.Valuer", ErrUnsupportedType, x)
		}
		return ValueOf(dv)
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, x)
	}
}

// Values converts every argument with ValueOf, stopping at the first failure.
func Values(xs ...any) ([]Value, error) {
	out := make([]Value, len(xs))
	for i, x := range xs {
		v, err := ValueOf(x)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func uintValue(v uint64) (Value, error) {
	if v > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: %d", ErrIntegerOverflow, v)
	}
	return Int(int64(v)), nil
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// bindValue attaches v at the 1-based ordinal using the storage class of its kind.
func bindValue(stmt SqliteStmt, ordinal int, v Value) error {
	switch v.kind {
	case KindNull:
		return sqlite3_bind_null(stmt, ordinal)
	case KindInteger, KindBool:
		return sqlite3_bind_int64(stmt, ordinal, v.i)
	case KindText:
		return sqlite3_bind_text(stmt, ordinal, v.s)
	case KindReal:
		return sqlite3_bind_double(stmt, ordinal, v.f)
	case KindTime:
		return sqlite3_bind_text(stmt, ordinal, FormatTimestamp(v.t))
	case KindBlob:
		return sqlite3_bind_blob(stmt, ordinal, v.b)
	default:
		return fmt.Errorf("%w: kind %v", ErrUnsupportedType, v.kind)
	}
}

// columnValue reads a cell into the variant matching its storage class.
func columnValue(stmt SqliteStmt, index int) Value {
	switch sqlite3_column_type(stmt, index) {
	case SQLITE_INTEGER:
		return Int(sqlite3_column_int64(stmt, index))
	case SQLITE_FLOAT:
		return Real(sqlite3_column_double(stmt, index))
	case SQLITE_TEXT:
		return Text(sqlite3_column_text(stmt, index))
	case SQLITE_BLOB:
		b := sqlite3_column_blob(stmt, index)
		if b == nil {
			b = []byte{}
		}
		return Blob(b)
	default:
		return Null()
	}
}
