package executor

import (
	"context"
	"database/sql"

	"github.com/speedframe/speed/pkg/errors"
	"github.com/speedframe/speed/pkg/pipeline"
	"github.com/speedframe/speed/pkg/table"
)

// LazyRelation is a deferred query over a table in the embedded database.
// Applying a pipeline operation only rewrites the query text; nothing
// executes until Materialize. The column list of the current query travels
// with it so schema-dependent operations (replacing a column, for example)
// can render exact projections.
type LazyRelation struct {
	db      *sql.DB
	query   string
	columns []string
}

// newLazyRelation creates the base relation over a named database table with
// the given column list.
func newLazyRelation(db *sql.DB, tableName string, columns []string) *LazyRelation {
	return &LazyRelation{
		db:      db,
		query:   "SELECT * FROM " + quoteSQLIdent(tableName),
		columns: columns,
	}
}

// Lazy always reports true: a LazyRelation is a deferred query by
// construction, and materializing produces a *table.Table, not another
// LazyRelation.
func (r *LazyRelation) Lazy() bool { return true }

// Query returns the accumulated SQL text.
func (r *LazyRelation) Query() string { return r.query }

// ApplyOperation wraps the current query with the operation's SQL form.
func (r *LazyRelation) ApplyOperation(op pipeline.Operation) (pipeline.Relation, error) {
	q, cols, err := op.SQL(r.query, r.columns)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "operation cannot be pushed to SQL").
			WithDetail("operation", op.Name())
	}
	return &LazyRelation{db: r.db, query: q, columns: cols}, nil
}

// Materialize forces execution of the accumulated query and scans the rows
// into an in-memory table.
func (r *LazyRelation) Materialize(ctx context.Context) (*table.Table, error) {
	rows, err := r.db.QueryContext(ctx, r.query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query execution failed").
			WithDetail("query", r.query)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read result columns")
	}

	out := table.New(cols...)
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan result row")
		}
		row := make(table.Row, len(cols))
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "result iteration failed")
	}
	return out, nil
}
