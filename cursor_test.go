package sqlift

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, text string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation(TimestampLayout, text, time.UTC)
	require.NoError(t, err)
	return ts
}

func query(t *testing.T, conn *Connection, sql string, values ...Value) *Cursor {
	t.Helper()
	stmt, err := conn.PrepareWith(sql, values...)
	require.NoError(t, err)
	require.NoError(t, stmt.Err())
	t.Cleanup(func() { _ = stmt.Close() })
	cursor, err := stmt.ExecuteQuery()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cursor.Close() })
	return cursor
}

func TestCreateInsertSelect(t *testing.T) {
	conn := openTestConnection(t)
	require.NoError(t, conn.Execute("CREATE TABLE t (id INTEGER, name TEXT)"))

	stmt, err := conn.PrepareWith("INSERT INTO t VALUES (?, ?)", Int(1), Text("a"))
	require.NoError(t, err)
	require.NoError(t, stmt.ExecuteUpdate())

	cursor := query(t, conn, "SELECT * FROM t")
	require.True(t, cursor.Next())
	id, err := cursor.GetIntByName("id")
	require.NoError(t, err)
	require.Equal(t, int64(1), id)
	name, err := cursor.GetStringByName("name")
	require.NoError(t, err)
	require.Equal(t, "a", name)
	require.False(t, cursor.Next())
	require.NoError(t, cursor.Err())
	require.Empty(t, cursor.Errors())
}

func TestStepResults(t *testing.T) {
	conn := openTestConnection(t)
	cursor := query(t, conn, "SELECT 1")

	result, err := cursor.Step()
	require.NoError(t, err)
	require.Equal(t, StepRow, result)

	for range 2 {
		result, err = cursor.Step()
		require.NoError(t, err)
		require.Equal(t, StepDone, result)
	}
	_, err = cursor.GetInt(0)
	require.ErrorIs(t, err, ErrNoRow)
}

func TestStepFailure(t *testing.T) {
	conn := openTestConnection(t)
	// abs of the smallest integer overflows at step time
	cursor := query(t, conn, "SELECT abs(?)", Int(math.MinInt64))

	result, err := cursor.Step()
	require.Equal(t, StepFailed, result)
	require.ErrorIs(t, err, ErrStep)
	require.ErrorIs(t, err, ErrGeneric)
	require.Contains(t, err.Error(), "integer overflow")

	require.False(t, cursor.Next())
	require.Equal(t, err, cursor.Err())
	require.Equal(t, err, cursor.stmt.Err())

	result, again := cursor.Step()
	require.Equal(t, StepFailed, result)
	require.Equal(t, err, again)
	require.Len(t, cursor.Errors(), 1)
}

func TestNameAndOrdinalAccess(t *testing.T) {
	conn := openTestConnection(t)
	cursor := query(t, conn, "SELECT 7 AS Id, 'x' AS Name, 2.5 AS Score")
	require.Equal(t, 3, cursor.ColumnCount())
	require.Equal(t, []string{"Id", "Name", "Score"}, cursor.Columns())

	name, err := cursor.ColumnName(1)
	require.NoError(t, err)
	require.Equal(t, "Name", name)
	_, err = cursor.ColumnName(3)
	require.ErrorIs(t, err, ErrColumnIndex)

	require.True(t, cursor.Next())
	for _, column := range []string{"id", "ID", "Id"} {
		byName, err := cursor.GetIntByName(column)
		require.NoError(t, err)
		byOrdinal, err := cursor.GetInt(0)
		require.NoError(t, err)
		require.Equal(t, byOrdinal, byName)
	}
	s, err := cursor.GetStringByName("NAME")
	require.NoError(t, err)
	require.Equal(t, "x", s)
	f, err := cursor.GetDoubleByName("score")
	require.NoError(t, err)
	require.Equal(t, 2.5, f)
	typ, err := cursor.ColumnTypeByName("score")
	require.NoError(t, err)
	require.Equal(t, SQLITE_FLOAT, typ)
	v, err := cursor.ValueByName("name")
	require.NoError(t, err)
	require.Equal(t, Text("x"), v)
}

func TestColumnLookupErrors(t *testing.T) {
	conn := openTestConnection(t)
	cursor := query(t, conn, "SELECT 1 AS a")

	_, err := cursor.GetIntByName("a")
	require.ErrorIs(t, err, ErrNoRow)

	require.True(t, cursor.Next())
	_, err = cursor.GetIntByName("missing")
	require.ErrorIs(t, err, ErrUnknownColumn)
	require.Contains(t, err.Error(), `"missing"`)
	_, err = cursor.GetString(4)
	require.ErrorIs(t, err, ErrColumnIndex)
	_, err = cursor.Value(-1)
	require.ErrorIs(t, err, ErrColumnIndex)

	errs := cursor.Errors()
	require.Len(t, errs, 4)
	require.ErrorIs(t, errs[0], ErrNoRow)
	require.ErrorIs(t, errs[1], ErrUnknownColumn)
	require.NoError(t, cursor.Err(), "getter failures do not end iteration")
}

func TestDuplicateColumnNames(t *testing.T) {
	conn := openTestConnection(t)
	cursor := query(t, conn, "SELECT 1 AS a, 2 AS A")
	require.True(t, cursor.Next())
	n, err := cursor.GetIntByName("a")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestColumnMapFollowsRows(t *testing.T) {
	conn := openTestConnection(t)
	require.NoError(t, conn.Execute("CREATE TABLE t (id INTEGER, name TEXT); INSERT INTO t VALUES (1, 'a'), (2, 'b'), (3, 'c')"))

	cursor := query(t, conn, "SELECT id, name FROM t ORDER BY id")
	var ids []int64
	var names []string
	for cursor.Next() {
		id, err := cursor.GetIntByName("id")
		require.NoError(t, err)
		name, err := cursor.GetStringByName("name")
		require.NoError(t, err)
		ids = append(ids, id)
		names = append(names, name)
	}
	require.NoError(t, cursor.Err())
	require.Equal(t, []int64{1, 2, 3}, ids)
	require.Equal(t, []string{"a", "b", "c"}, names)
}

func TestBoolThreshold(t *testing.T) {
	conn := openTestConnection(t)
	require.NoError(t, conn.Execute("CREATE TABLE flags (v INTEGER)"))
	for _, v := range []Value{Int(-5), Int(0), Int(1), Int(7), Bool(true), Bool(false)} {
		stmt, err := conn.PrepareWith("INSERT INTO flags VALUES (?)", v)
		require.NoError(t, err)
		require.NoError(t, stmt.ExecuteUpdate())
	}

	cursor := query(t, conn, "SELECT v FROM flags ORDER BY rowid")
	var got []bool
	for cursor.Next() {
		b, err := cursor.GetBool(0)
		require.NoError(t, err)
		got = append(got, b)
	}
	require.NoError(t, cursor.Err())
	require.Equal(t, []bool{false, false, true, true, true, false}, got)
}

func TestTemporalRoundTrip(t *testing.T) {
	conn := openTestConnection(t, WithLocation(time.UTC))
	ts := time.Date(2023, 11, 5, 14, 30, 59, 0, time.UTC)
	cursor := query(t, conn, "SELECT ? AS at", Time(ts))
	require.True(t, cursor.Next())

	raw, err := cursor.GetString(0)
	require.NoError(t, err)
	require.Equal(t, "2023-11-05 14:30:59", raw)

	got, err := cursor.GetTime(0, PrecisionSecond)
	require.NoError(t, err)
	require.True(t, ts.Equal(got))

	year, err := cursor.GetTimeByName("AT", PrecisionYear)
	require.NoError(t, err)
	require.True(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).Equal(year))

	day, err := cursor.GetTime(0, PrecisionDay)
	require.NoError(t, err)
	require.True(t, time.Date(2023, 11, 5, 0, 0, 0, 0, time.UTC).Equal(day))
}

func TestTemporalMalformed(t *testing.T) {
	conn := openTestConnection(t)
	cursor := query(t, conn, "SELECT 'not a timestamp'")
	require.True(t, cursor.Next())

	_, err := cursor.GetTime(0, PrecisionSecond)
	require.ErrorIs(t, err, ErrParse)
	require.Len(t, cursor.Errors(), 1)
}

func TestTemporalUsesConnectionLocation(t *testing.T) {
	zone := time.FixedZone("plus9", 9*60*60)
	conn := openTestConnection(t, WithLocation(zone))
	cursor := query(t, conn, "SELECT '2020-05-06 07:08:09'")
	require.True(t, cursor.Next())

	got, err := cursor.GetTime(0, PrecisionSecond)
	require.NoError(t, err)
	require.Equal(t, zone, got.Location())
	require.True(t, time.Date(2020, 5, 6, 7, 8, 9, 0, zone).Equal(got))
}

func TestBlobAndNull(t *testing.T) {
	conn := openTestConnection(t)
	cursor := query(t, conn, "SELECT ?1, ?2, ?3", Blob([]byte{1, 2, 3}), Blob([]byte{}), Null())
	require.True(t, cursor.Next())

	b, err := cursor.GetBlob(0)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)

	empty, err := cursor.GetBlob(1)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)

	null, err := cursor.GetBlob(2)
	require.NoError(t, err)
	require.Nil(t, null)

	for i, want := range []StorageClass{SQLITE_BLOB, SQLITE_BLOB, SQLITE_NULL} {
		typ, err := cursor.ColumnType(i)
		require.NoError(t, err)
		require.Equal(t, want, typ)
	}

	v, err := cursor.Value(1)
	require.NoError(t, err)
	require.Equal(t, KindBlob, v.Kind())
	nullValue, err := cursor.Value(2)
	require.NoError(t, err)
	require.True(t, nullValue.IsNull())

	// NULL text reads as the empty string
	s, err := cursor.GetString(2)
	require.NoError(t, err)
	require.Equal(t, "", s)
}

func TestValueDispatch(t *testing.T) {
	conn := openTestConnection(t)
	cursor := query(t, conn, "SELECT 1, 2.5, 'x', NULL, x'ff'")
	require.True(t, cursor.Next())

	want := []Value{Int(1), Real(2.5), Text("x"), Null(), Blob([]byte{0xff})}
	for i, w := range want {
		v, err := cursor.Value(i)
		require.NoError(t, err)
		require.Equal(t, w, v, "column %d", i)
	}
}

func TestWideIntegers(t *testing.T) {
	conn := openTestConnection(t)
	cursor := query(t, conn, "SELECT ?, ?", Int(math.MaxInt64), Int(math.MinInt64))
	require.True(t, cursor.Next())

	hi, err := cursor.GetInt(0)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), hi)
	lo, err := cursor.GetInt(1)
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), lo)
}

func TestCursorClose(t *testing.T) {
	conn := openTestConnection(t)
	cursor := query(t, conn, "SELECT 1")
	require.NoError(t, cursor.Close())
	require.NoError(t, cursor.Close())

	result, err := cursor.Step()
	require.Equal(t, StepFailed, result)
	require.ErrorIs(t, err, ErrCursorClosed)
	require.Equal(t, 0, cursor.ColumnCount())
	require.Empty(t, cursor.Columns())
}

func TestCursorAfterConnectionClose(t *testing.T) {
	conn := openTestConnection(t)
	cursor := query(t, conn, "SELECT 1")
	require.True(t, cursor.Next())
	require.NoError(t, conn.Close())

	_, err := cursor.GetInt(0)
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.False(t, cursor.Next())
}
