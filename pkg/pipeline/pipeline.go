// Package pipeline defines the user-facing transformation model for Speed.
//
// A Pipeline is an ordered list of operations over a tabular relation. The
// operation list is introspectable, which is what lets the classifier decide
// statically whether the whole pipeline can be translated to SQL and pushed
// into the embedded database, or must run against materialized tables.
//
// A Relation is the capability a pipeline transforms: either a materialized
// in-memory table (MemRelation) or a deferred query handle owned by the
// relational executor. Pipelines must be side-effect free and safe to apply
// once per chunk; that contract is documented, not enforced.
package pipeline

import (
	"github.com/speedframe/speed/pkg/errors"
	"github.com/speedframe/speed/pkg/table"
)

// Relation is a tabular relation a pipeline can transform. Implementations
// are MemRelation (materialized) and the relational executor's lazy handle.
type Relation interface {
	// Lazy reports whether the relation is still a deferred query rather
	// than a realized table.
	Lazy() bool

	// ApplyOperation returns a new relation with op applied. The receiver
	// is not modified.
	ApplyOperation(op Operation) (Relation, error)
}

// MemRelation wraps a materialized table as a Relation.
type MemRelation struct {
	T *table.Table
}

// Lazy always reports false for a materialized table.
func (m MemRelation) Lazy() bool { return false }

// ApplyOperation evaluates op directly against the table.
func (m MemRelation) ApplyOperation(op Operation) (Relation, error) {
	out, err := op.EvalTable(m.T)
	if err != nil {
		return nil, err
	}
	return MemRelation{T: out}, nil
}

// Pipeline is a named, ordered sequence of operations.
type Pipeline struct {
	name string
	ops  []Operation
}

// New creates an empty pipeline.
func New(name string) *Pipeline {
	return &Pipeline{name: name}
}

// FromFunc wraps an opaque table transform as a single-operation pipeline.
// Such pipelines are never pushable.
func FromFunc(name string, fn func(*table.Table) (*table.Table, error)) *Pipeline {
	return New(name).Apply(fn)
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Operations returns the operation list for introspection.
func (p *Pipeline) Operations() []Operation { return p.ops }

// Run applies every operation, in order, to r.
func (p *Pipeline) Run(r Relation) (Relation, error) {
	var err error
	for _, op := range p.ops {
		r, err = r.ApplyOperation(op)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "pipeline operation failed").
				WithDetail("pipeline", p.name).
				WithDetail("operation", op.Name())
		}
	}
	return r, nil
}

// RunTable applies the pipeline to a materialized table and requires the
// result to be materialized as well.
func (p *Pipeline) RunTable(t *table.Table) (*table.Table, error) {
	out, err := p.Run(MemRelation{T: t})
	if err != nil {
		return nil, err
	}
	mem, ok := out.(MemRelation)
	if !ok || out.Lazy() {
		return nil, errors.New(errors.ErrorTypeData, "pipeline did not produce a materialized table").
			WithDetail("pipeline", p.name)
	}
	return mem.T, nil
}

// Builder methods. Each appends one operation and returns the pipeline for
// chaining.

// Filter keeps rows where column compares true against value.
// Comparators: = != < <= > >=.
func (p *Pipeline) Filter(column, comparator string, value interface{}) *Pipeline {
	p.ops = append(p.ops, &FilterOp{Column: column, Comparator: comparator, Value: value})
	return p
}

// Select projects the named columns, in the given order.
func (p *Pipeline) Select(columns ...string) *Pipeline {
	p.ops = append(p.ops, &SelectOp{Columns: columns})
	return p
}

// WithColumn adds or replaces a column computed from expr.
func (p *Pipeline) WithColumn(name string, expr Expr) *Pipeline {
	p.ops = append(p.ops, &WithColumnOp{Column: name, Expr: expr})
	return p
}

// SortBy sorts by the given columns; ascending[i] controls direction of
// columns[i] and defaults to true when shorter than columns.
func (p *Pipeline) SortBy(columns []string, ascending []bool) *Pipeline {
	p.ops = append(p.ops, &SortOp{Columns: columns, Ascending: ascending})
	return p
}

// GroupBy groups by the key columns and computes the given aggregates.
func (p *Pipeline) GroupBy(keys []string, aggs ...Agg) *Pipeline {
	p.ops = append(p.ops, &GroupByOp{Keys: keys, Aggs: aggs})
	return p
}

// Limit keeps the first n rows.
func (p *Pipeline) Limit(n int) *Pipeline {
	p.ops = append(p.ops, &LimitOp{N: n})
	return p
}

// Apply appends an opaque table transform. The pipeline becomes not pushable.
func (p *Pipeline) Apply(fn func(*table.Table) (*table.Table, error)) *Pipeline {
	p.ops = append(p.ops, &ApplyOp{Fn: fn})
	return p
}
