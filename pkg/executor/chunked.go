package executor

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/speedframe/speed/pkg/compression"
	"github.com/speedframe/speed/pkg/errors"
	"github.com/speedframe/speed/pkg/logger"
	"github.com/speedframe/speed/pkg/pipeline"
	"github.com/speedframe/speed/pkg/resource"
	"github.com/speedframe/speed/pkg/table"
)

// Chunked executes a pipeline over bounded-size chunks of the input with a
// worker pool, then concatenates chunk results in original order.
//
// Precondition (documented, not verified): the pipeline must be row-wise /
// chunk-local. Pipelines that need cross-chunk state, such as a dataset-wide
// sort or a global aggregation, will silently produce a different result than
// a single-pass run.
type Chunked struct {
	// MaxChunkBytes bounds the approximate size of one chunk.
	MaxChunkBytes int64
	// TempDir receives intermediate chunk artifacts; created if absent.
	TempDir string
	// Codec compresses spill files. Nil means snappy.
	Codec *compression.Codec
	// Notify, when set, is called after each chunk completes.
	Notify func(done, total int)
}

// NewChunked creates a chunked executor.
func NewChunked(maxChunkBytes int64, tempDir string) *Chunked {
	return &Chunked{MaxChunkBytes: maxChunkBytes, TempDir: tempDir}
}

func (e *Chunked) codec() (*compression.Codec, error) {
	if e.Codec != nil {
		return e.Codec, nil
	}
	return compression.NewCodec(compression.Snappy)
}

// RunTable partitions an in-memory table into contiguous row ranges and runs
// the pipeline on each range in parallel.
func (e *Chunked) RunTable(ctx context.Context, t *table.Table, p *pipeline.Pipeline, budget resource.Budget) (*table.Table, error) {
	total := t.EstimatedBytes()
	maxBytes := e.effectiveChunkBytes(budget)
	chunkCount := chunkCount(total, maxBytes)
	rowsPerChunk := (t.NumRows() + chunkCount - 1) / chunkCount
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}

	chunks := make(chan indexedChunk)
	produce := func(ctx context.Context) error {
		defer close(chunks)
		idx := 0
		start := 0
		for {
			end := start + rowsPerChunk
			if end > t.NumRows() {
				end = t.NumRows()
			}
			select {
			case chunks <- indexedChunk{index: idx, data: t.Slice(start, end)}:
			case <-ctx.Done():
				return ctx.Err()
			}
			idx++
			start = end
			if start >= t.NumRows() {
				return nil
			}
		}
	}
	return e.run(ctx, p, budget, chunkCount, produce, chunks)
}

// RunFile partitions a CSV file into contiguous row ranges, reading one
// chunk at a time so the whole file is never resident, and runs the pipeline
// on each range in parallel.
func (e *Chunked) RunFile(ctx context.Context, path string, p *pipeline.Pipeline, budget resource.Budget) (*table.Table, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat input file")
	}
	maxBytes := e.effectiveChunkBytes(budget)
	chunkCount := chunkCount(info.Size(), maxBytes)

	f, err := os.Open(path) //nolint:gosec // G304: caller-controlled data file
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open input file")
	}
	defer f.Close()

	chunks := make(chan indexedChunk)
	produce := func(ctx context.Context) error {
		defer close(chunks)
		return streamCSVChunks(ctx, f, maxBytes, chunks)
	}
	return e.run(ctx, p, budget, chunkCount, produce, chunks)
}

// indexedChunk pairs a chunk with its original position.
type indexedChunk struct {
	index int
	data  *table.Table
}

// effectiveChunkBytes bounds one chunk by MaxChunkBytes and, when the budget
// reports usable RAM, by an even share of that RAM per worker, so the chunks
// in flight at full parallelism fit inside the budget. A zero RAM figure
// (reservation consumed everything) leaves MaxChunkBytes as the only bound.
func (e *Chunked) effectiveChunkBytes(budget resource.Budget) int64 {
	maxBytes := e.MaxChunkBytes
	cores := budget.AvailableCores
	if cores < 1 {
		cores = 1
	}
	if budget.AvailableRAMBytes > 0 {
		ramShare := budget.AvailableRAMBytes / int64(cores)
		if ramShare > 0 && (maxBytes <= 0 || ramShare < maxBytes) {
			maxBytes = ramShare
		}
	}
	return maxBytes
}

func chunkCount(totalBytes, maxBytes int64) int {
	if maxBytes <= 0 || totalBytes <= 0 {
		return 1
	}
	n := int((totalBytes + maxBytes - 1) / maxBytes)
	if n < 1 {
		n = 1
	}
	return n
}

// run drives the worker pool: a producer feeds chunks, workers apply the
// pipeline and spill results to disk, and the results are concatenated in
// chunk order once every worker finishes (a join barrier). Any chunk failure
// fails the whole run; sibling results are discarded.
func (e *Chunked) run(
	ctx context.Context,
	p *pipeline.Pipeline,
	budget resource.Budget,
	estimatedChunks int,
	produce func(context.Context) error,
	chunks <-chan indexedChunk,
) (*table.Table, error) {
	degree := budget.AvailableCores
	if degree > estimatedChunks {
		degree = estimatedChunks
	}
	if degree < 1 {
		degree = 1
	}

	codec, err := e.codec()
	if err != nil {
		return nil, err
	}
	runDir := filepath.Join(e.TempDir, "speed-chunks-"+uuid.NewString())
	if err := os.MkdirAll(runDir, 0o750); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create temp chunk directory")
	}
	defer os.RemoveAll(runDir)

	logger.Debug("starting chunked execution",
		zap.String("pipeline", p.Name()),
		zap.Int("estimated_chunks", estimatedChunks),
		zap.Int("parallelism", degree),
		zap.String("temp_dir", runDir))

	var (
		mu        sync.Mutex
		spills    = make(map[int]string)
		chunkErrs = make(map[int]error)
		done      int
		produced  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return produce(gctx) })

	// Chunks are independent units of work: no shared mutable state crosses
	// the pool, and a failure does not interrupt in-flight siblings (no
	// mid-flight cancellation in this design).
	var workers errgroup.Group
	workers.SetLimit(degree)
	collect := make(chan struct{})
	go func() {
		defer close(collect)
		for chunk := range chunks {
			chunk := chunk
			mu.Lock()
			produced++
			mu.Unlock()
			workers.Go(func() error {
				out, err := p.RunTable(chunk.data)
				if err != nil {
					mu.Lock()
					chunkErrs[chunk.index] = err
					mu.Unlock()
					return errors.Wrap(err, errors.ErrorTypeChunk, "chunk transform failed").
						WithDetail("chunk", chunk.index)
				}
				spill := filepath.Join(runDir, fmt.Sprintf("chunk_%06d.csv%s", chunk.index, codec.Extension()))
				if err := writeSpill(out, spill, codec); err != nil {
					mu.Lock()
					chunkErrs[chunk.index] = err
					mu.Unlock()
					return err
				}
				mu.Lock()
				spills[chunk.index] = spill
				done++
				n := done
				mu.Unlock()
				if e.Notify != nil {
					e.Notify(n, estimatedChunks)
				}
				return nil
			})
		}
	}()

	<-collect
	workerErr := workers.Wait()
	produceErr := g.Wait()

	if workerErr != nil || len(chunkErrs) > 0 {
		var agg *multierror.Error
		for idx, cerr := range chunkErrs {
			agg = multierror.Append(agg,
				errors.Wrap(cerr, errors.ErrorTypeChunk, fmt.Sprintf("chunk %d failed", idx)).
					WithDetail("chunk", idx))
		}
		if agg == nil {
			agg = multierror.Append(agg, workerErr)
		}
		return nil, errors.Wrap(agg.ErrorOrNil(), errors.ErrorTypeChunk, "chunked execution failed").
			WithDetail("failed_chunks", len(chunkErrs))
	}
	if produceErr != nil {
		return nil, errors.Wrap(produceErr, errors.ErrorTypeChunk, "chunk production failed")
	}

	// Reassemble in original chunk order.
	parts := make([]*table.Table, 0, len(spills))
	for i := 0; i < produced; i++ {
		spill, ok := spills[i]
		if !ok {
			return nil, errors.New(errors.ErrorTypeChunk, "missing chunk result").WithDetail("chunk", i)
		}
		part, err := readSpill(spill, codec)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return table.New(), nil
	}
	return table.Concat(parts...)
}

// writeSpill writes a chunk result as compressed CSV.
func writeSpill(t *table.Table, path string, codec *compression.Codec) error {
	f, err := os.Create(path) //nolint:gosec // G304: path is under our temp dir
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create spill file")
	}
	defer f.Close()
	w, err := codec.WrapWriter(f)
	if err != nil {
		return err
	}
	if err := t.WriteCSV(w); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush spill file")
	}
	return nil
}

// readSpill reads a chunk result back from compressed CSV.
func readSpill(path string, codec *compression.Codec) (*table.Table, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is under our temp dir
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open spill file")
	}
	defer f.Close()
	r, err := codec.WrapReader(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return table.ReadCSV(r)
}

// streamCSVChunks reads CSV rows, accumulating them into tables of
// approximately maxBytes each, and sends them in order.
func streamCSVChunks(ctx context.Context, r io.Reader, maxBytes int64, out chan<- indexedChunk) error {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read CSV header")
	}

	idx := 0
	chunk := table.New(header...)
	var chunkBytes int64
	send := func() error {
		select {
		case out <- indexedChunk{index: idx, data: chunk}:
		case <-ctx.Done():
			return ctx.Err()
		}
		idx++
		chunk = table.New(header...)
		chunkBytes = 0
		return nil
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to read CSV record")
		}
		row := make(table.Row, len(rec))
		for i, v := range rec {
			row[i] = table.ParseValue(v)
			chunkBytes += int64(len(v)) + 1
		}
		chunk.Rows = append(chunk.Rows, row)
		if maxBytes > 0 && chunkBytes >= maxBytes {
			if err := send(); err != nil {
				return err
			}
		}
	}
	if chunk.NumRows() > 0 || idx == 0 {
		return send()
	}
	return nil
}
