package pipeline

import (
	gojson "github.com/goccy/go-json"

	"github.com/speedframe/speed/pkg/errors"
)

// Spec is the JSON form of a pipeline, as accepted by the CLI:
//
//	{
//	  "name": "clean",
//	  "operations": [
//	    {"op": "filter", "column": "age", "comparator": ">", "value": 21},
//	    {"op": "select", "columns": ["name", "age"]},
//	    {"op": "sort", "columns": ["age"], "ascending": [false]},
//	    {"op": "group_by", "keys": ["name"],
//	     "aggs": [{"func": "count", "as": "n"}]},
//	    {"op": "limit", "n": 100}
//	  ]
//	}
type Spec struct {
	Name       string   `json:"name"`
	Operations []OpSpec `json:"operations"`
}

// OpSpec is one operation of a Spec. Fields are a union over the operation
// kinds; the "op" discriminator selects which ones are read.
type OpSpec struct {
	Op         string      `json:"op"`
	Column     string      `json:"column,omitempty"`
	Comparator string      `json:"comparator,omitempty"`
	Value      interface{} `json:"value,omitempty"`
	Columns    []string    `json:"columns,omitempty"`
	Ascending  []bool      `json:"ascending,omitempty"`
	Keys       []string    `json:"keys,omitempty"`
	Aggs       []Agg       `json:"aggs,omitempty"`
	Expr       *ExprSpec   `json:"expr,omitempty"`
	N          int         `json:"n,omitempty"`
}

// ExprSpec is the JSON form of a WithColumn expression.
type ExprSpec struct {
	Left  OperandSpec `json:"left"`
	Op    string      `json:"op,omitempty"`
	Right OperandSpec `json:"right,omitempty"`
}

// OperandSpec is the JSON form of an expression operand.
type OperandSpec struct {
	Column  string      `json:"column,omitempty"`
	Literal interface{} `json:"literal,omitempty"`
}

// ParseSpec decodes a JSON pipeline spec into a Pipeline.
func ParseSpec(data []byte) (*Pipeline, error) {
	var spec Spec
	if err := gojson.Unmarshal(data, &spec); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse pipeline spec")
	}
	return FromSpec(spec)
}

// FromSpec builds a Pipeline from a decoded Spec.
func FromSpec(spec Spec) (*Pipeline, error) {
	p := New(spec.Name)
	for i, op := range spec.Operations {
		switch op.Op {
		case "filter":
			p.Filter(op.Column, op.Comparator, normalizeLiteral(op.Value))
		case "select":
			p.Select(op.Columns...)
		case "with_column":
			if op.Expr == nil {
				return nil, specErr(i, "with_column requires an expr")
			}
			p.WithColumn(op.Column, Expr{
				Left:  operandFromSpec(op.Expr.Left),
				Op:    op.Expr.Op,
				Right: operandFromSpec(op.Expr.Right),
			})
		case "sort":
			p.SortBy(op.Columns, op.Ascending)
		case "group_by":
			p.GroupBy(op.Keys, op.Aggs...)
		case "limit":
			p.Limit(op.N)
		default:
			return nil, specErr(i, "unknown operation "+op.Op)
		}
	}
	return p, nil
}

func operandFromSpec(o OperandSpec) Operand {
	if o.Column != "" {
		return Col(o.Column)
	}
	return Lit(normalizeLiteral(o.Literal))
}

// normalizeLiteral converts JSON numbers (always float64) that are whole to
// int64, so filter comparisons behave the same as builder-constructed
// pipelines.
func normalizeLiteral(v interface{}) interface{} {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}

func specErr(index int, msg string) error {
	return errors.New(errors.ErrorTypeConfig, msg).WithDetail("operation_index", index)
}
