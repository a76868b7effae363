// Package executor implements the three execution paths the dispatcher
// routes between: relational push-down into an embedded SQL database,
// chunked parallel execution, and direct in-memory execution.
package executor

import (
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	// Embedded SQL engine behind database/sql.
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/speedframe/speed/pkg/errors"
	"github.com/speedframe/speed/pkg/logger"
	"github.com/speedframe/speed/pkg/pipeline"
	"github.com/speedframe/speed/pkg/table"
)

const (
	// defaultTableName is the staging table one run ingests into.
	defaultTableName = "temp_data"
	// insertBatchRows bounds rows per ingestion transaction flush.
	insertBatchRows = 500
	// inferSampleRows bounds rows buffered for column type inference when
	// ingesting a file.
	inferSampleRows = 128
)

// Relational executes pushable pipelines inside the embedded database.
// One executor value is safe for sequential reuse; the database file must
// not be shared by concurrent runs.
type Relational struct {
	// DBFile is the database file, created if absent.
	DBFile string
	// TableName is the staging table name; an existing same-named table is
	// overwritten. Defaults to "temp_data".
	TableName string
}

// NewRelational creates a relational executor over the given database file.
func NewRelational(dbFile string) *Relational {
	return &Relational{DBFile: dbFile, TableName: defaultTableName}
}

func (e *Relational) tableName() string {
	if e.TableName == "" {
		return defaultTableName
	}
	return e.TableName
}

// RunFile stream-ingests a CSV file into the database, applies the pipeline
// as a relational query and materializes the result. The file is never fully
// materialized in process memory.
func (e *Relational) RunFile(ctx context.Context, path string, p *pipeline.Pipeline) (*table.Table, error) {
	db, err := e.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	columns, err := e.ingestFile(ctx, db, path)
	if err != nil {
		return nil, err
	}
	return e.applyAndMaterialize(ctx, db, p, columns)
}

// RunTable bulk-loads an in-memory table into the database, applies the
// pipeline as a relational query and materializes the result.
func (e *Relational) RunTable(ctx context.Context, t *table.Table, p *pipeline.Pipeline) (*table.Table, error) {
	db, err := e.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := e.loadTable(ctx, db, t); err != nil {
		return nil, err
	}
	return e.applyAndMaterialize(ctx, db, p, t.Columns)
}

func (e *Relational) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", e.DBFile)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to open database").
			WithDetail("db_file", e.DBFile)
	}
	return db, nil
}

// applyAndMaterialize applies the pipeline to a lazy relation over the
// staging table, checks the result is still a deferred query, and forces it.
func (e *Relational) applyAndMaterialize(ctx context.Context, db *sql.DB, p *pipeline.Pipeline, columns []string) (*table.Table, error) {
	base := newLazyRelation(db, e.tableName(), columns)
	out, err := p.Run(base)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to build relational query").
			WithDetail("pipeline", p.Name())
	}
	lazy, ok := out.(*LazyRelation)
	if !ok || !lazy.Lazy() {
		// The pipeline forced materialization mid-flight. That defeats the
		// push-down and signals a pipeline the classifier should have
		// rejected.
		return nil, errors.New(errors.ErrorTypeQuery, "pipeline left the lazy relation").
			WithDetail("pipeline", p.Name())
	}
	logger.Debug("materializing relational query",
		zap.String("pipeline", p.Name()),
		zap.String("query", lazy.Query()))
	return lazy.Materialize(ctx)
}

// ingestFile streams a CSV file into the staging table and returns the
// table's column list. A leading sample drives column typing; rows are
// inserted in batched transactions so memory stays bounded by the batch,
// not the file.
func (e *Relational) ingestFile(ctx context.Context, db *sql.DB, path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: caller-controlled data file
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open input file")
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read CSV header")
	}

	// Buffer a sample to infer column types, then replay it.
	sample := make([][]string, 0, inferSampleRows)
	for len(sample) < inferSampleRows {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read CSV record")
		}
		sample = append(sample, rec)
	}
	kinds := inferSQLKinds(header, sample)

	if err := e.createTable(ctx, db, header, kinds); err != nil {
		return nil, err
	}

	ins, err := newInserter(ctx, db, e.tableName(), header, kinds)
	if err != nil {
		return nil, err
	}
	for _, rec := range sample {
		if err := ins.add(rec); err != nil {
			return nil, err
		}
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			ins.abort()
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read CSV record")
		}
		if err := ins.add(rec); err != nil {
			return nil, err
		}
	}
	return header, ins.finish()
}

// loadTable writes an in-memory table into the staging table, overwriting
// any previous contents.
func (e *Relational) loadTable(ctx context.Context, db *sql.DB, t *table.Table) error {
	kinds := make([]string, len(t.Columns))
	for i := range t.Columns {
		kinds[i] = sqlTypeForColumn(t, i)
	}
	if err := e.createTable(ctx, db, t.Columns, kinds); err != nil {
		return err
	}
	ins, err := newInserter(ctx, db, e.tableName(), t.Columns, nil)
	if err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := ins.addValues([]interface{}(row)); err != nil {
			return err
		}
	}
	return ins.finish()
}

func (e *Relational) createTable(ctx context.Context, db *sql.DB, columns, kinds []string) error {
	name := quoteSQLIdent(e.tableName())
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to drop staging table")
	}
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteSQLIdent(c) + " " + kinds[i]
	}
	stmt := "CREATE TABLE " + name + " (" + strings.Join(defs, ", ") + ")"
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create staging table").
			WithDetail("statement", stmt)
	}
	return nil
}

// inserter batches INSERTs inside transactions.
type inserter struct {
	ctx      context.Context
	db       *sql.DB
	stmtText string
	kinds    []string
	tx       *sql.Tx
	stmt     *sql.Stmt
	pending  int
}

func newInserter(ctx context.Context, db *sql.DB, tableName string, columns, kinds []string) (*inserter, error) {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteSQLIdent(c)
		marks[i] = "?"
	}
	text := "INSERT INTO " + quoteSQLIdent(tableName) +
		" (" + strings.Join(quoted, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
	ins := &inserter{ctx: ctx, db: db, stmtText: text, kinds: kinds}
	if err := ins.begin(); err != nil {
		return nil, err
	}
	return ins, nil
}

func (ins *inserter) begin() error {
	tx, err := ins.db.BeginTx(ins.ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to begin ingestion transaction")
	}
	stmt, err := tx.PrepareContext(ins.ctx, ins.stmtText)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to prepare insert")
	}
	ins.tx = tx
	ins.stmt = stmt
	ins.pending = 0
	return nil
}

// add converts a raw CSV record per the inferred kinds and inserts it.
func (ins *inserter) add(rec []string) error {
	values := make([]interface{}, len(rec))
	for i, v := range rec {
		values[i] = sqlCell(v, ins.kinds[i])
	}
	return ins.addValues(values)
}

func (ins *inserter) addValues(values []interface{}) error {
	if _, err := ins.stmt.ExecContext(ins.ctx, values...); err != nil {
		ins.abort()
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to insert row")
	}
	ins.pending++
	if ins.pending >= insertBatchRows {
		if err := ins.flush(); err != nil {
			return err
		}
		return ins.begin()
	}
	return nil
}

func (ins *inserter) flush() error {
	_ = ins.stmt.Close()
	if err := ins.tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to commit ingestion batch")
	}
	return nil
}

func (ins *inserter) abort() {
	if ins.stmt != nil {
		_ = ins.stmt.Close()
	}
	if ins.tx != nil {
		_ = ins.tx.Rollback()
	}
}

func (ins *inserter) finish() error {
	return ins.flush()
}

// quoteSQLIdent quotes a SQL identifier, escaping embedded quotes.
func quoteSQLIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// inferSQLKinds picks INTEGER/REAL/TEXT per column from sampled records.
func inferSQLKinds(header []string, sample [][]string) []string {
	kinds := make([]string, len(header))
	for col := range header {
		kind := "INTEGER"
		seen := false
		for _, rec := range sample {
			v := rec[col]
			if v == "" {
				continue
			}
			seen = true
			if kind == "INTEGER" {
				if _, err := strconv.ParseInt(v, 10, 64); err == nil {
					continue
				}
				kind = "REAL"
			}
			if kind == "REAL" {
				if _, err := strconv.ParseFloat(v, 64); err == nil {
					continue
				}
				kind = "TEXT"
				break
			}
		}
		if !seen {
			kind = "TEXT"
		}
		kinds[col] = kind
	}
	return kinds
}

// sqlCell converts a raw CSV value per the column's SQL kind. Values that
// fail to parse degrade to TEXT; empty values become NULL.
func sqlCell(v, kind string) interface{} {
	if v == "" {
		return nil
	}
	switch kind {
	case "INTEGER":
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case "REAL":
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}

// sqlTypeForColumn maps a table column to a SQL type from its first non-nil
// cell.
func sqlTypeForColumn(t *table.Table, col int) string {
	for _, row := range t.Rows {
		switch row[col].(type) {
		case nil:
			continue
		case int64, bool:
			return "INTEGER"
		case float64:
			return "REAL"
		default:
			return "TEXT"
		}
	}
	return "TEXT"
}
