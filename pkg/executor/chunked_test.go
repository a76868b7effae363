package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedframe/speed/pkg/pipeline"
	"github.com/speedframe/speed/pkg/resource"
	"github.com/speedframe/speed/pkg/table"
)

func testBudget(cores int) resource.Budget {
	return resource.Budget{AvailableCores: cores, AvailableRAMBytes: 1 << 30}
}

func sequenceTable(t *testing.T, n int) *table.Table {
	t.Helper()
	tbl := table.New("id", "label")
	for i := 0; i < n; i++ {
		require.NoError(t, tbl.Append(table.Row{int64(i), fmt.Sprintf("row-%04d", i)}))
	}
	return tbl
}

func TestChunkedRunTablePreservesOrder(t *testing.T) {
	tbl := sequenceTable(t, 500)
	// Tiny chunk bound forces many chunks.
	e := NewChunked(1024, t.TempDir())

	p := pipeline.New("passthrough").Filter("id", ">=", int64(0))
	out, err := e.RunTable(context.Background(), tbl, p, testBudget(4))
	require.NoError(t, err)

	require.Equal(t, 500, out.NumRows())
	for i, row := range out.Rows {
		assert.EqualValues(t, int64(i), row[0], "row %d out of place", i)
	}
}

func TestChunkedRunTableSingleChunk(t *testing.T) {
	tbl := sequenceTable(t, 10)
	e := NewChunked(1<<30, t.TempDir())

	out, err := e.RunTable(context.Background(), tbl, pipeline.New("noop"), testBudget(4))
	require.NoError(t, err)
	assert.True(t, table.Equal(tbl, out))
}

func TestChunkedRunTableEmptyInput(t *testing.T) {
	tbl := table.New("id", "label")
	e := NewChunked(1024, t.TempDir())

	out, err := e.RunTable(context.Background(), tbl, pipeline.New("noop"), testBudget(2))
	require.NoError(t, err)
	assert.Equal(t, 0, out.NumRows())
	assert.Equal(t, 2, out.NumColumns())
}

func TestChunkedFailureIdentifiesChunk(t *testing.T) {
	tbl := sequenceTable(t, 100)
	e := NewChunked(512, t.TempDir())

	// Fails only on chunks containing id 50.
	p := pipeline.FromFunc("half-broken", func(in *table.Table) (*table.Table, error) {
		for _, row := range in.Rows {
			if row[0] == int64(50) {
				return nil, fmt.Errorf("synthetic failure")
			}
		}
		return in, nil
	})

	_, err := e.RunTable(context.Background(), tbl, p, testBudget(4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunked execution failed")
	assert.Contains(t, err.Error(), "chunk")
	assert.Contains(t, err.Error(), "synthetic failure")
}

func TestChunkedNotifyReportsProgress(t *testing.T) {
	tbl := sequenceTable(t, 200)
	e := NewChunked(1024, t.TempDir())

	var mu sync.Mutex
	var calls int
	e.Notify = func(done, total int) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	_, err := e.RunTable(context.Background(), tbl, pipeline.New("noop"), testBudget(4))
	require.NoError(t, err)
	assert.Greater(t, calls, 1, "expected more than one chunk")
}

func TestChunkedRAMBudgetCapsChunkSize(t *testing.T) {
	tbl := sequenceTable(t, 500)
	// MaxChunkBytes alone would allow the whole table in one chunk; the RAM
	// budget must split it so in-flight chunks fit in memory.
	e := NewChunked(1<<30, t.TempDir())

	var mu sync.Mutex
	var calls int
	e.Notify = func(done, total int) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	budget := resource.Budget{AvailableCores: 2, AvailableRAMBytes: 4096}
	out, err := e.RunTable(context.Background(), tbl, pipeline.New("noop"), budget)
	require.NoError(t, err)
	require.Equal(t, 500, out.NumRows())
	assert.Greater(t, calls, 1, "RAM budget should force multiple chunks")
}

func TestEffectiveChunkBytes(t *testing.T) {
	e := NewChunked(1<<20, "")

	// Ample RAM leaves the configured bound in charge.
	assert.EqualValues(t, 1<<20, e.effectiveChunkBytes(resource.Budget{
		AvailableCores: 4, AvailableRAMBytes: 1 << 30,
	}))
	// Tight RAM shares evenly across workers.
	assert.EqualValues(t, 2048, e.effectiveChunkBytes(resource.Budget{
		AvailableCores: 2, AvailableRAMBytes: 4096,
	}))
	// A fully reserved RAM budget falls back to the configured bound.
	assert.EqualValues(t, 1<<20, e.effectiveChunkBytes(resource.Budget{
		AvailableCores: 2, AvailableRAMBytes: 0,
	}))
}

func TestChunkedRunFile(t *testing.T) {
	tbl := sequenceTable(t, 300)
	dir := t.TempDir()
	path := filepath.Join(dir, "in.csv")
	require.NoError(t, tbl.WriteCSVFile(path))

	e := NewChunked(1024, dir)
	p := pipeline.New("evens").Apply(func(in *table.Table) (*table.Table, error) {
		out := in.Slice(0, 0)
		for _, row := range in.Rows {
			if row[0].(int64)%2 == 0 {
				out.Rows = append(out.Rows, row)
			}
		}
		return out, nil
	})

	out, err := e.RunFile(context.Background(), path, p, testBudget(4))
	require.NoError(t, err)
	require.Equal(t, 150, out.NumRows())
	for i, row := range out.Rows {
		assert.EqualValues(t, int64(2*i), row[0])
	}
}

func TestChunkedCleansTempArtifacts(t *testing.T) {
	tbl := sequenceTable(t, 100)
	dir := t.TempDir()
	e := NewChunked(1024, dir)

	_, err := e.RunTable(context.Background(), tbl, pipeline.New("noop"), testBudget(2))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "run directory should be removed")
}

func TestInMemoryRun(t *testing.T) {
	tbl := sequenceTable(t, 5)
	p := pipeline.New("limit").Limit(3)

	out, err := InMemory{}.Run(tbl, p)
	require.NoError(t, err)
	assert.Equal(t, 3, out.NumRows())
}
