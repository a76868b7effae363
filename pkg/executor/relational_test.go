package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedframe/speed/pkg/pipeline"
	"github.com/speedframe/speed/pkg/table"
)

func writeCSVFixture(t *testing.T, rows int) string {
	t.Helper()
	tbl := table.New("name", "age", "city")
	names := []string{"alice", "bob", "carol", "dave"}
	cities := []string{"berlin", "madrid"}
	for i := 0; i < rows; i++ {
		require.NoError(t, tbl.Append(table.Row{
			fmt.Sprintf("%s-%d", names[i%len(names)], i),
			int64(20 + i%30),
			cities[i%len(cities)],
		}))
	}
	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, tbl.WriteCSVFile(path))
	return path
}

func newTestRelational(t *testing.T) *Relational {
	t.Helper()
	return NewRelational(filepath.Join(t.TempDir(), "test.db"))
}

func TestRelationalRunFileFilterSelect(t *testing.T) {
	path := writeCSVFixture(t, 200)
	e := newTestRelational(t)

	p := pipeline.New("adults").
		Filter("age", ">=", int64(40)).
		Select("name", "age").
		SortBy([]string{"age"}, []bool{false}).
		Limit(5)

	out, err := e.RunFile(context.Background(), path, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age"}, out.Columns)
	require.Equal(t, 5, out.NumRows())
	prev := int64(1 << 62)
	for _, row := range out.Rows {
		age := row[1].(int64)
		assert.GreaterOrEqual(t, age, int64(40))
		assert.LessOrEqual(t, age, prev)
		prev = age
	}
}

func TestRelationalRunFileGroupBy(t *testing.T) {
	path := writeCSVFixture(t, 100)
	e := newTestRelational(t)

	p := pipeline.New("per-city").
		GroupBy([]string{"city"}, pipeline.Agg{Func: "count", As: "n"}).
		SortBy([]string{"city"}, nil)

	out, err := e.RunFile(context.Background(), path, p)
	require.NoError(t, err)
	require.Equal(t, 2, out.NumRows())
	assert.Equal(t, "berlin", out.Rows[0][0])
	assert.EqualValues(t, int64(50), out.Rows[0][1])
	assert.Equal(t, "madrid", out.Rows[1][0])
	assert.EqualValues(t, int64(50), out.Rows[1][1])
}

func TestRelationalRunTableMatchesInMemory(t *testing.T) {
	tbl := table.New("name", "age")
	require.NoError(t, tbl.Append(table.Row{"alice", int64(30)}))
	require.NoError(t, tbl.Append(table.Row{"bob", int64(20)}))
	require.NoError(t, tbl.Append(table.Row{"carol", int64(41)}))

	p := pipeline.New("adults").
		Filter("age", ">", int64(21)).
		WithColumn("age_next", pipeline.Expr{
			Left:  pipeline.Col("age"),
			Op:    "+",
			Right: pipeline.Lit(int64(1)),
		}).
		SortBy([]string{"age"}, nil)

	e := newTestRelational(t)
	fromDB, err := e.RunTable(context.Background(), tbl, p)
	require.NoError(t, err)

	fromMem, err := InMemory{}.Run(tbl, p)
	require.NoError(t, err)

	assert.True(t, table.Equal(fromMem, fromDB),
		"relational and in-memory paths must agree:\n db=%v\nmem=%v", fromDB.Rows, fromMem.Rows)
}

func TestRelationalColumnReplacementMatchesInMemory(t *testing.T) {
	tbl := table.New("a", "b")
	require.NoError(t, tbl.Append(table.Row{int64(1), int64(10)}))
	require.NoError(t, tbl.Append(table.Row{int64(2), int64(20)}))

	// Overwrites column a in place; the result must keep exactly two columns.
	p := pipeline.New("bump").WithColumn("a", pipeline.Expr{
		Left:  pipeline.Col("a"),
		Op:    "+",
		Right: pipeline.Lit(int64(100)),
	})

	e := newTestRelational(t)
	fromDB, err := e.RunTable(context.Background(), tbl, p)
	require.NoError(t, err)

	fromMem, err := InMemory{}.Run(tbl, p)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, fromDB.Columns)
	assert.True(t, table.Equal(fromMem, fromDB),
		"relational and in-memory paths must agree:\n db=%v\nmem=%v", fromDB.Rows, fromMem.Rows)
}

func TestRelationalGroupByOrderMatchesInMemory(t *testing.T) {
	tbl := table.New("k", "v")
	require.NoError(t, tbl.Append(table.Row{"b", int64(1)}))
	require.NoError(t, tbl.Append(table.Row{"a", int64(2)}))
	require.NoError(t, tbl.Append(table.Row{"b", int64(3)}))

	p := pipeline.New("totals").
		GroupBy([]string{"k"}, pipeline.Agg{Func: "sum", Column: "v", As: "total"})

	e := newTestRelational(t)
	fromDB, err := e.RunTable(context.Background(), tbl, p)
	require.NoError(t, err)

	fromMem, err := InMemory{}.Run(tbl, p)
	require.NoError(t, err)

	require.Equal(t, 2, fromDB.NumRows())
	assert.Equal(t, "a", fromDB.Rows[0][0])
	assert.Equal(t, "b", fromDB.Rows[1][0])
	assert.True(t, table.Equal(fromMem, fromDB),
		"relational and in-memory paths must agree:\n db=%v\nmem=%v", fromDB.Rows, fromMem.Rows)
}

func TestRelationalNullHandling(t *testing.T) {
	tbl := table.New("v")
	require.NoError(t, tbl.Append(table.Row{nil}))
	require.NoError(t, tbl.Append(table.Row{int64(1)}))
	require.NoError(t, tbl.Append(table.Row{int64(2)}))

	p := pipeline.New("nonnull").Filter("v", ">=", int64(0))
	e := newTestRelational(t)

	out, err := e.RunTable(context.Background(), tbl, p)
	require.NoError(t, err)
	// SQL comparisons against NULL are not true, matching in-memory behavior.
	assert.Equal(t, 2, out.NumRows())
}

func TestRelationalStagingTableIsReplaced(t *testing.T) {
	e := newTestRelational(t)
	p := pipeline.New("noop")

	first := table.New("a")
	require.NoError(t, first.Append(table.Row{int64(1)}))
	out, err := e.RunTable(context.Background(), first, p)
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())

	second := table.New("a", "b")
	require.NoError(t, second.Append(table.Row{int64(1), int64(2)}))
	require.NoError(t, second.Append(table.Row{int64(3), int64(4)}))
	out, err = e.RunTable(context.Background(), second, p)
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumRows())
	assert.Equal(t, 2, out.NumColumns())
}

func TestRelationalOpaquePipelineRejected(t *testing.T) {
	tbl := table.New("a")
	require.NoError(t, tbl.Append(table.Row{int64(1)}))

	p := pipeline.FromFunc("opaque", func(in *table.Table) (*table.Table, error) { return in, nil })
	e := newTestRelational(t)

	_, err := e.RunTable(context.Background(), tbl, p)
	assert.Error(t, err)
}

func TestRelationalIngestBatching(t *testing.T) {
	// More rows than one insert batch to cross the transaction boundary.
	path := writeCSVFixture(t, insertBatchRows*2+17)
	e := newTestRelational(t)

	out, err := e.RunFile(context.Background(), path, pipeline.New("all"))
	require.NoError(t, err)
	assert.Equal(t, insertBatchRows*2+17, out.NumRows())
}
