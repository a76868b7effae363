package executor

import (
	"github.com/speedframe/speed/pkg/pipeline"
	"github.com/speedframe/speed/pkg/table"
)

// InMemory applies a pipeline directly to a fully materialized table: no
// size checks, no compatibility checks, errors pass through unmodified.
type InMemory struct{}

// Run applies the pipeline to t and returns whatever it produces.
func (InMemory) Run(t *table.Table, p *pipeline.Pipeline) (*table.Table, error) {
	return p.RunTable(t)
}
