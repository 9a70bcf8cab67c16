package sqlift

import (
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValueOf(t *testing.T) {
	now := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		kind Kind
		want any
	}{
		{"nil", nil, KindNull, nil},
		{"int", 42, KindInteger, int64(42)},
		{"int8", int8(-3), KindInteger, int64(-3)},
		{"int64 min", int64(math.MinInt64), KindInteger, int64(math.MinInt64)},
		{"uint32", uint32(math.MaxUint32), KindInteger, int64(math.MaxUint32)},
		{"uint64 max int", uint64(math.MaxInt64), KindInteger, int64(math.MaxInt64)},
		{"float32", float32(1.5), KindReal, 1.5},
		{"string", "x", KindText, "x"},
		{"bool", true, KindBool, true},
		{"time", now, KindTime, now},
		{"bytes", []byte{1, 2}, KindBlob, []byte{1, 2}},
		{"value", Text("kept"), KindText, "kept"},
		{"valuer null", sql.NullString{}, KindNull, nil},
		{"valuer int", sql.NullInt64{Int64: 5, Valid: true}, KindInteger, int64(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ValueOf(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.kind, v.Kind())
			require.Equal(t, tt.want, v.Any())
		})
	}
}

func TestValueOfRejects(t *testing.T) {
	_, err := ValueOf(uint64(math.MaxInt64) + 1)
	require.ErrorIs(t, err, ErrIntegerOverflow)

	_, err = ValueOf(struct{}{})
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ValueOf([]int{1})
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestValues(t *testing.T) {
	vs, err := Values(1, "a", nil, 2.5)
	require.NoError(t, err)
	require.Len(t, vs, 4)
	require.Equal(t, KindInteger, vs[0].Kind())
	require.Equal(t, KindText, vs[1].Kind())
	require.True(t, vs[2].IsNull())
	require.Equal(t, KindReal, vs[3].Kind())

	_, err = Values(1, struct{}{})
	require.ErrorIs(t, err, ErrUnsupportedType)
	require.Contains(t, err.Error(), "argument 2")
}

func TestValueAccessors(t *testing.T) {
	n, ok := Int(5).Int64()
	require.True(t, ok)
	require.Equal(t, int64(5), n)

	_, ok = Int(5).Text()
	require.False(t, ok)

	b, ok := Bool(true).Bool()
	require.True(t, ok)
	require.True(t, b)

	b, ok = Bool(false).Bool()
	require.True(t, ok)
	require.False(t, b)

	f, ok := Real(0.25).Float64()
	require.True(t, ok)
	require.Equal(t, 0.25, f)

	blob, ok := Blob(nil).Blob()
	require.True(t, ok)
	require.Nil(t, blob)

	require.True(t, Value{}.IsNull())
	require.True(t, Null().IsNull())
	require.False(t, Blob(nil).IsNull())
}

func TestValueString(t *testing.T) {
	require.Equal(t, "NULL", Null().String())
	require.Equal(t, `"a\"b"`, Text(`a"b`).String())
	require.Equal(t, "x'dead'", Blob([]byte{0xde, 0xad}).String())
	require.Equal(t, "7", Int(7).String())
	require.Equal(t, "true", Bool(true).String())
	require.Equal(t, "2001-02-03 04:05:06", Time(time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)).String())
	require.Equal(t, "blob", KindBlob.String())
	require.Equal(t, "Kind(42)", Kind(42).String())
}
