package table

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable(t *testing.T) *Table {
	t.Helper()
	tbl := New("name", "age", "score")
	require.NoError(t, tbl.Append(Row{"alice", int64(30), 91.5}))
	require.NoError(t, tbl.Append(Row{"bob", int64(25), 78.0}))
	require.NoError(t, tbl.Append(Row{"carol", int64(41), 88.25}))
	return tbl
}

func TestAppend(t *testing.T) {
	tbl := New("a", "b")

	require.NoError(t, tbl.Append(Row{int64(1), "x"}))
	assert.Equal(t, 1, tbl.NumRows())
	assert.Equal(t, 2, tbl.NumColumns())

	err := tbl.Append(Row{int64(1)})
	assert.Error(t, err)
	assert.Equal(t, 1, tbl.NumRows())
}

func TestColumnIndex(t *testing.T) {
	tbl := sampleTable(t)

	idx, err := tbl.ColumnIndex("age")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = tbl.ColumnIndex("missing")
	assert.Error(t, err)
}

func TestSlice(t *testing.T) {
	tbl := sampleTable(t)

	t.Run("middle range", func(t *testing.T) {
		s := tbl.Slice(1, 3)
		require.Equal(t, 2, s.NumRows())
		assert.Equal(t, "bob", s.Rows[0][0])
		assert.Equal(t, "carol", s.Rows[1][0])
	})

	t.Run("out of range clamps", func(t *testing.T) {
		s := tbl.Slice(-5, 100)
		assert.Equal(t, tbl.NumRows(), s.NumRows())
	})

	t.Run("inverted range is empty", func(t *testing.T) {
		s := tbl.Slice(2, 1)
		assert.Equal(t, 0, s.NumRows())
	})

	t.Run("appending to slice leaves original intact", func(t *testing.T) {
		s := tbl.Slice(0, 1)
		require.NoError(t, s.Append(Row{"dave", int64(19), 50.0}))
		assert.Equal(t, 2, s.NumRows())
		assert.Equal(t, 3, tbl.NumRows())
	})
}

func TestConcat(t *testing.T) {
	tbl := sampleTable(t)

	t.Run("preserves order", func(t *testing.T) {
		out, err := Concat(tbl.Slice(0, 1), tbl.Slice(1, 2), tbl.Slice(2, 3))
		require.NoError(t, err)
		assert.True(t, Equal(tbl, out))
	})

	t.Run("schema mismatch", func(t *testing.T) {
		other := New("only_one")
		_, err := Concat(tbl, other)
		assert.Error(t, err)
	})

	t.Run("no parts", func(t *testing.T) {
		_, err := Concat()
		assert.Error(t, err)
	})
}

func TestEstimatedBytes(t *testing.T) {
	empty := New("a")
	assert.Equal(t, int64(1), empty.EstimatedBytes())

	tbl := sampleTable(t)
	assert.Greater(t, tbl.EstimatedBytes(), int64(0))

	bigger := sampleTable(t)
	require.NoError(t, bigger.Append(Row{"dave", int64(19), 50.0}))
	assert.Greater(t, bigger.EstimatedBytes(), tbl.EstimatedBytes())
}

func TestEqualCoercion(t *testing.T) {
	a := New("v")
	require.NoError(t, a.Append(Row{int64(3)}))
	b := New("v")
	require.NoError(t, b.Append(Row{float64(3)}))
	assert.True(t, Equal(a, b), "whole floats compare equal to ints")

	c := New("v")
	require.NoError(t, c.Append(Row{[]byte("x")}))
	d := New("v")
	require.NoError(t, d.Append(Row{"x"}))
	assert.True(t, Equal(c, d), "byte slices compare equal to strings")
}

func TestCSVRoundTrip(t *testing.T) {
	tbl := sampleTable(t)

	var sb strings.Builder
	require.NoError(t, tbl.WriteCSV(&sb))

	back, err := ReadCSV(strings.NewReader(sb.String()))
	require.NoError(t, err)
	assert.True(t, Equal(tbl, back))
}

func TestReadCSVInference(t *testing.T) {
	data := "id,ratio,active,label\n1,0.5,true,alpha\n2,1.25,false,beta\n"
	tbl, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)

	require.Equal(t, 2, tbl.NumRows())
	assert.Equal(t, int64(1), tbl.Rows[0][0])
	assert.Equal(t, 0.5, tbl.Rows[0][1])
	assert.Equal(t, true, tbl.Rows[0][2])
	assert.Equal(t, "alpha", tbl.Rows[0][3])
}

func TestReadCSVEmptyCellsBecomeNil(t *testing.T) {
	data := "a,b\n1,\n,2\n"
	tbl, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)

	assert.Nil(t, tbl.Rows[0][1])
	assert.Nil(t, tbl.Rows[1][0])
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, int64(7), ParseValue("7"))
	assert.Equal(t, 7.5, ParseValue("7.5"))
	assert.Equal(t, true, ParseValue("true"))
	assert.Equal(t, "7x", ParseValue("7x"))
	assert.Nil(t, ParseValue(""))
}
