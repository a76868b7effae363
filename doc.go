// Package speed is an adaptive data transformation dispatcher. Given a
// dataset (a CSV file or an in-memory table) and a transformation pipeline,
// it routes execution to the path expected to be fastest for the workload:
//
// 1. Relational push-down: pipelines expressible as SQL are translated into
// a single query and executed inside an embedded database, so large datasets
// never fully materialize in process memory.
//
// 2. Chunked parallel execution: pipelines that cannot be pushed down run
// over bounded-size chunks on a worker pool sized from the machine's spare
// capacity, with results reassembled in original order.
//
// 3. Direct in-memory execution: small in-memory tables skip all
// orchestration and run the pipeline directly.
//
// # Quick Start
//
// Route a pipeline over a CSV file:
//
//	import (
//	    "context"
//	    "github.com/speedframe/speed/pkg/dispatch"
//	    "github.com/speedframe/speed/pkg/pipeline"
//	)
//
//	p := pipeline.New("adults").
//	    Filter("age", ">=", int64(18)).
//	    Select("name", "age")
//
//	out, err := dispatch.Speed(context.Background(),
//	    dispatch.FileInput{Path: "people.csv"}, p, dispatch.DefaultOptions())
//
// # Key Packages
//
//	pkg/dispatch     - Routing orchestrator and progress observers
//	pkg/pipeline     - Pipeline model, operations, push-down classification
//	pkg/executor     - Relational, chunked and in-memory execution paths
//	pkg/table        - In-memory table and CSV I/O
//	pkg/resource     - System capacity probing and reservation
//	pkg/compression  - Spill file codecs
//	pkg/config       - YAML configuration
//	pkg/logger       - Structured logging
//	pkg/errors       - Typed, structured errors
package speed
