// Package dispatch implements the Speed orchestrator: given a dataset (file
// or in-memory table) and a transformation pipeline, it picks one of three
// execution paths (relational push-down, chunked parallel execution, or
// direct in-memory execution) based on pipeline compatibility and data size
// relative to available resources, then runs it and returns the result.
package dispatch

import (
	"context"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/speedframe/speed/pkg/compression"
	"github.com/speedframe/speed/pkg/errors"
	"github.com/speedframe/speed/pkg/executor"
	"github.com/speedframe/speed/pkg/logger"
	"github.com/speedframe/speed/pkg/pipeline"
	"github.com/speedframe/speed/pkg/resource"
	"github.com/speedframe/speed/pkg/table"
)

// Input is the dataset reference: a file path or an in-memory table.
type Input interface {
	isInput()
}

// FileInput references an existing readable data file. CSV is the assumed
// format.
type FileInput struct {
	Path string
}

func (FileInput) isInput() {}

// TableInput references a caller-owned in-memory table. Executors only read
// it.
type TableInput struct {
	Table *table.Table
}

func (TableInput) isInput() {}

// Route identifies the execution path the dispatcher selected.
type Route string

const (
	// RouteRelational pushes the pipeline into the embedded database.
	RouteRelational Route = "relational"
	// RouteChunked splits the data into bounded chunks with a worker pool.
	RouteChunked Route = "chunked"
	// RouteInMemory applies the pipeline directly to the table.
	RouteInMemory Route = "in_memory"
)

const bytesPerGB = int64(1) << 30

// Options configure one Speed invocation. The zero value is not usable;
// start from DefaultOptions.
type Options struct {
	// MemoryThresholdGB is the in-memory routing threshold. In-memory
	// tables at or under the threshold run directly in memory.
	MemoryThresholdGB float64
	// ReserveCores is subtracted from detected cores before sizing the
	// chunk worker pool.
	ReserveCores int
	// ReserveRAMGB is subtracted from detected RAM.
	ReserveRAMGB float64
	// MaxChunkGB bounds one chunk's approximate size.
	MaxChunkGB float64
	// DBFile is the embedded database file; created if absent. Concurrent
	// Speed calls must use distinct files.
	DBFile string
	// TempDir receives chunk intermediates; created if absent. Empty means
	// the OS temp directory.
	TempDir string
	// SpillCompression selects the chunk spill codec.
	SpillCompression compression.Algorithm
	// Prober overrides system resource detection; nil means the host.
	Prober resource.Prober
	// Observer receives progress callbacks; nil means zap logging.
	Observer Observer
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MemoryThresholdGB: 2,
		ReserveCores:      2,
		ReserveRAMGB:      4,
		MaxChunkGB:        0.5,
		DBFile:            "ben_speed.db",
		SpillCompression:  compression.Snappy,
	}
}

// Speed routes the pipeline over the input to exactly one executor and
// returns the materialized result.
//
// Routing, first match wins:
//
//	file       + pushable                         -> relational (stream ingest)
//	file       + not pushable                     -> chunked (chunked file read)
//	in-memory  + pushable     + over threshold    -> relational (bulk load)
//	in-memory  + pushable     + under threshold   -> in-memory
//	in-memory  + not pushable + over threshold    -> chunked
//	in-memory  + not pushable + under threshold   -> in-memory
func Speed(ctx context.Context, input Input, p *pipeline.Pipeline, opts Options) (*table.Table, error) {
	if p == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "pipeline is required")
	}

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	log := logger.WithContext(ctx)

	obs := opts.Observer
	if obs == nil {
		obs = LogObserver{Logger: log}
	}

	size, err := estimateSize(input)
	if err != nil {
		return nil, err
	}
	verdict := pipeline.Classify(p)
	prober := opts.Prober
	if prober == nil {
		prober = resource.SystemProber{}
	}
	budget := prober.Probe(opts.ReserveCores, gbToBytes(opts.ReserveRAMGB))

	route, err := chooseRoute(input, verdict, size, gbToBytes(opts.MemoryThresholdGB))
	if err != nil {
		return nil, err
	}
	obs.OnRoute(route, verdict, size)
	log.Info("dispatching pipeline",
		zap.String("pipeline", p.Name()),
		zap.String("route", string(route)),
		zap.String("verdict", verdict.String()),
		zap.Int64("estimated_bytes", size),
		zap.Int("available_cores", budget.AvailableCores))

	out, err := execute(ctx, input, p, opts, route, budget, obs)
	if err != nil {
		obs.OnComplete(route, 0, err)
		return nil, err
	}
	obs.OnComplete(route, out.NumRows(), nil)
	return out, nil
}

// chooseRoute implements the routing table. The trailing error is the
// should-be-unreachable exhaustion guard.
func chooseRoute(input Input, verdict pipeline.Verdict, size, threshold int64) (Route, error) {
	switch input.(type) {
	case FileInput:
		if verdict == pipeline.Pushable {
			return RouteRelational, nil
		}
		return RouteChunked, nil
	case TableInput:
		if size > threshold {
			if verdict == pipeline.Pushable {
				return RouteRelational, nil
			}
			return RouteChunked, nil
		}
		return RouteInMemory, nil
	}
	return "", errors.New(errors.ErrorTypeRouting, "could not determine execution approach").
		WithDetail("input", describeInput(input))
}

func execute(
	ctx context.Context,
	input Input,
	p *pipeline.Pipeline,
	opts Options,
	route Route,
	budget resource.Budget,
	obs Observer,
) (*table.Table, error) {
	tempDir, err := ensureTempDir(opts.TempDir)
	if err != nil {
		return nil, err
	}

	switch route {
	case RouteRelational:
		rel := executor.NewRelational(opts.DBFile)
		if in, ok := input.(FileInput); ok {
			return rel.RunFile(ctx, in.Path, p)
		}
		return rel.RunTable(ctx, input.(TableInput).Table, p)

	case RouteChunked:
		codec, err := compression.NewCodec(opts.SpillCompression)
		if err != nil {
			return nil, err
		}
		ch := executor.NewChunked(gbToBytes(opts.MaxChunkGB), tempDir)
		ch.Codec = codec
		ch.Notify = obs.OnChunkDone
		if in, ok := input.(FileInput); ok {
			return ch.RunFile(ctx, in.Path, p, budget)
		}
		return ch.RunTable(ctx, input.(TableInput).Table, p, budget)

	case RouteInMemory:
		return executor.InMemory{}.Run(input.(TableInput).Table, p)
	}
	return nil, errors.New(errors.ErrorTypeRouting, "could not determine execution approach").
		WithDetail("route", string(route))
}

// estimateSize validates the input and returns its approximate byte size.
// The estimate feeds routing only; it is never required to be exact.
func estimateSize(input Input) (int64, error) {
	switch in := input.(type) {
	case FileInput:
		info, err := os.Stat(in.Path)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeValidation, "input file is not readable").
				WithDetail("path", in.Path)
		}
		if info.IsDir() {
			return 0, errors.New(errors.ErrorTypeValidation, "input path is a directory").
				WithDetail("path", in.Path)
		}
		return info.Size(), nil
	case TableInput:
		if in.Table == nil {
			return 0, errors.New(errors.ErrorTypeValidation, "input table is nil")
		}
		return in.Table.EstimatedBytes(), nil
	case nil:
		return 0, errors.New(errors.ErrorTypeValidation, "input is required")
	}
	return 0, errors.New(errors.ErrorTypeValidation, "unsupported input kind").
		WithDetail("input", describeInput(input))
}

func ensureTempDir(dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to create temp directory").
			WithDetail("temp_dir", dir)
	}
	return dir, nil
}

func describeInput(input Input) string {
	switch in := input.(type) {
	case FileInput:
		return "file:" + in.Path
	case TableInput:
		return "table"
	default:
		return "unknown"
	}
}

func gbToBytes(gb float64) int64 {
	return int64(gb * float64(bytesPerGB))
}
