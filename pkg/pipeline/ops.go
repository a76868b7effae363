package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/speedframe/speed/pkg/errors"
	"github.com/speedframe/speed/pkg/table"
)

// Operation is one step of a pipeline. Pushable operations know both their
// in-memory evaluation and their SQL form; opaque operations only the former.
type Operation interface {
	// Name identifies the operation kind for logs and errors.
	Name() string

	// Pushable reports whether the operation belongs to the
	// relation-translatable whitelist.
	Pushable() bool

	// EvalTable evaluates the operation against a materialized table.
	EvalTable(t *table.Table) (*table.Table, error)

	// SQL wraps the inner query with this operation's SQL form and reports
	// the resulting column list. columns is the inner query's column list;
	// nil means unknown (classification probes pass nil). Opaque operations
	// return an error.
	SQL(inner string, columns []string) (query string, out []string, err error)
}

// FilterOp keeps rows where Column compares true against Value.
type FilterOp struct {
	Column     string
	Comparator string
	Value      interface{}
}

// Name implements Operation.
func (o *FilterOp) Name() string { return "filter" }

// Pushable implements Operation.
func (o *FilterOp) Pushable() bool { return true }

// EvalTable implements Operation.
func (o *FilterOp) EvalTable(t *table.Table) (*table.Table, error) {
	idx, err := t.ColumnIndex(o.Column)
	if err != nil {
		return nil, err
	}
	out := t.Slice(0, 0)
	for _, row := range t.Rows {
		keep, err := compareCells(row[idx], o.Comparator, o.Value)
		if err != nil {
			return nil, err
		}
		if keep {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// SQL implements Operation.
func (o *FilterOp) SQL(inner string, columns []string) (string, []string, error) {
	cmp, err := sqlComparator(o.Comparator)
	if err != nil {
		return "", nil, err
	}
	lit, err := sqlLiteral(o.Value)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS t WHERE %s %s %s",
		inner, quoteIdent(o.Column), cmp, lit), columns, nil
}

// SelectOp projects the named columns, in order.
type SelectOp struct {
	Columns []string
}

// Name implements Operation.
func (o *SelectOp) Name() string { return "select" }

// Pushable implements Operation.
func (o *SelectOp) Pushable() bool { return true }

// EvalTable implements Operation.
func (o *SelectOp) EvalTable(t *table.Table) (*table.Table, error) {
	idxs := make([]int, len(o.Columns))
	for i, c := range o.Columns {
		idx, err := t.ColumnIndex(c)
		if err != nil {
			return nil, err
		}
		idxs[i] = idx
	}
	out := table.New(o.Columns...)
	for _, row := range t.Rows {
		projected := make(table.Row, len(idxs))
		for i, idx := range idxs {
			projected[i] = row[idx]
		}
		out.Rows = append(out.Rows, projected)
	}
	return out, nil
}

// SQL implements Operation.
func (o *SelectOp) SQL(inner string, _ []string) (string, []string, error) {
	if len(o.Columns) == 0 {
		return "", nil, errors.New(errors.ErrorTypeValidation, "select requires at least one column")
	}
	quoted := make([]string, len(o.Columns))
	for i, c := range o.Columns {
		quoted[i] = quoteIdent(c)
	}
	out := append([]string(nil), o.Columns...)
	return fmt.Sprintf("SELECT %s FROM (%s) AS t", strings.Join(quoted, ", "), inner), out, nil
}

// Operand is one side of an expression: a column reference or a literal.
// Exactly one of Column and Literal is meaningful; Column wins when set.
type Operand struct {
	Column  string
	Literal interface{}
}

// Expr is a binary arithmetic expression over operands. An empty Op means
// the expression is just Left.
type Expr struct {
	Left  Operand
	Op    string // + - * /
	Right Operand
}

// Col references a column in an expression.
func Col(name string) Operand { return Operand{Column: name} }

// Lit embeds a literal value in an expression.
func Lit(v interface{}) Operand { return Operand{Literal: v} }

// WithColumnOp adds or replaces the column named Column, computed from Expr.
type WithColumnOp struct {
	Column string
	Expr   Expr
}

// Name implements Operation.
func (o *WithColumnOp) Name() string { return "with_column" }

// Pushable implements Operation.
func (o *WithColumnOp) Pushable() bool { return true }

// EvalTable implements Operation.
func (o *WithColumnOp) EvalTable(t *table.Table) (*table.Table, error) {
	existing := -1
	for i, c := range t.Columns {
		if c == o.Column {
			existing = i
			break
		}
	}

	out := &table.Table{Columns: append([]string(nil), t.Columns...)}
	if existing < 0 {
		out.Columns = append(out.Columns, o.Column)
	}
	for _, row := range t.Rows {
		v, err := evalExpr(o.Expr, t, row)
		if err != nil {
			return nil, err
		}
		newRow := append(table.Row(nil), row...)
		if existing >= 0 {
			newRow[existing] = v
		} else {
			newRow = append(newRow, v)
		}
		out.Rows = append(out.Rows, newRow)
	}
	return out, nil
}

// SQL implements Operation.
func (o *WithColumnOp) SQL(inner string, columns []string) (string, []string, error) {
	expr, err := sqlExpr(o.Expr)
	if err != nil {
		return "", nil, err
	}
	for i, c := range columns {
		if c != o.Column {
			continue
		}
		// Replacing an existing column: SELECT * would keep the old one and
		// produce a duplicate, so render an explicit projection with the
		// expression substituted in place.
		parts := make([]string, len(columns))
		for j, cc := range columns {
			if j == i {
				parts[j] = expr + " AS " + quoteIdent(cc)
			} else {
				parts[j] = quoteIdent(cc)
			}
		}
		out := append([]string(nil), columns...)
		return fmt.Sprintf("SELECT %s FROM (%s) AS t", strings.Join(parts, ", "), inner), out, nil
	}
	var out []string
	if columns != nil {
		out = append(append([]string(nil), columns...), o.Column)
	}
	return fmt.Sprintf("SELECT *, %s AS %s FROM (%s) AS t", expr, quoteIdent(o.Column), inner), out, nil
}

// SortOp sorts rows by one or more columns. The sort is stable so that ties
// keep original row order, which keeps output reproducible.
type SortOp struct {
	Columns   []string
	Ascending []bool
}

// Name implements Operation.
func (o *SortOp) Name() string { return "sort" }

// Pushable implements Operation.
func (o *SortOp) Pushable() bool { return true }

func (o *SortOp) ascending(i int) bool {
	if i >= len(o.Ascending) {
		return true
	}
	return o.Ascending[i]
}

// EvalTable implements Operation.
func (o *SortOp) EvalTable(t *table.Table) (*table.Table, error) {
	idxs := make([]int, len(o.Columns))
	for i, c := range o.Columns {
		idx, err := t.ColumnIndex(c)
		if err != nil {
			return nil, err
		}
		idxs[i] = idx
	}
	out := t.Slice(0, t.NumRows())
	sort.SliceStable(out.Rows, func(a, b int) bool {
		for i, idx := range idxs {
			c := orderCells(out.Rows[a][idx], out.Rows[b][idx])
			if c == 0 {
				continue
			}
			if o.ascending(i) {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return out, nil
}

// SQL implements Operation.
func (o *SortOp) SQL(inner string, columns []string) (string, []string, error) {
	if len(o.Columns) == 0 {
		return "", nil, errors.New(errors.ErrorTypeValidation, "sort requires at least one column")
	}
	terms := make([]string, len(o.Columns))
	for i, c := range o.Columns {
		dir := "ASC"
		if !o.ascending(i) {
			dir = "DESC"
		}
		terms[i] = quoteIdent(c) + " " + dir
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS t ORDER BY %s", inner, strings.Join(terms, ", ")), columns, nil
}

// Agg is one aggregate of a group-by: Func over Column, named As in the
// output. An empty Column with Func "count" means COUNT(*).
type Agg struct {
	Func   string // sum count avg min max
	Column string
	As     string
}

// GroupByOp groups by key columns and computes aggregates per group.
// Groups are emitted in ascending key order on both execution paths: the
// table evaluation sorts its output and the SQL form carries an ORDER BY,
// so the relational and in-memory results agree row for row.
type GroupByOp struct {
	Keys []string
	Aggs []Agg
}

// Name implements Operation.
func (o *GroupByOp) Name() string { return "group_by" }

// Pushable implements Operation.
func (o *GroupByOp) Pushable() bool { return true }

// EvalTable implements Operation.
func (o *GroupByOp) EvalTable(t *table.Table) (*table.Table, error) {
	keyIdxs := make([]int, len(o.Keys))
	for i, k := range o.Keys {
		idx, err := t.ColumnIndex(k)
		if err != nil {
			return nil, err
		}
		keyIdxs[i] = idx
	}
	aggIdxs := make([]int, len(o.Aggs))
	for i, a := range o.Aggs {
		if a.Column == "" {
			if a.Func != "count" {
				return nil, errors.New(errors.ErrorTypeValidation, "aggregate requires a column").
					WithDetail("func", a.Func)
			}
			aggIdxs[i] = -1
			continue
		}
		idx, err := t.ColumnIndex(a.Column)
		if err != nil {
			return nil, err
		}
		aggIdxs[i] = idx
	}

	type group struct {
		keyCells table.Row
		accs     []*accumulator
	}
	order := make([]string, 0)
	groups := make(map[string]*group)

	for _, row := range t.Rows {
		var sb strings.Builder
		for _, idx := range keyIdxs {
			sb.WriteString(formatKey(row[idx]))
			sb.WriteByte(0x1f)
		}
		key := sb.String()
		g, ok := groups[key]
		if !ok {
			g = &group{accs: make([]*accumulator, len(o.Aggs))}
			for i := range o.Aggs {
				g.accs[i] = &accumulator{}
			}
			g.keyCells = make(table.Row, len(keyIdxs))
			for i, idx := range keyIdxs {
				g.keyCells[i] = row[idx]
			}
			groups[key] = g
			order = append(order, key)
		}
		for i, idx := range aggIdxs {
			if idx < 0 {
				g.accs[i].addCount()
				continue
			}
			if err := g.accs[i].add(row[idx]); err != nil {
				return nil, err
			}
		}
	}

	cols := append([]string(nil), o.Keys...)
	for _, a := range o.Aggs {
		cols = append(cols, aggAlias(a))
	}
	out := table.New(cols...)
	for _, key := range order {
		g := groups[key]
		row := append(table.Row(nil), g.keyCells...)
		for i, a := range o.Aggs {
			v, err := g.accs[i].result(a.Func)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		out.Rows = append(out.Rows, row)
	}
	sort.SliceStable(out.Rows, func(a, b int) bool {
		for i := range o.Keys {
			if c := orderCells(out.Rows[a][i], out.Rows[b][i]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return out, nil
}

// SQL implements Operation.
func (o *GroupByOp) SQL(inner string, _ []string) (string, []string, error) {
	if len(o.Keys) == 0 || len(o.Aggs) == 0 {
		return "", nil, errors.New(errors.ErrorTypeValidation, "group_by requires keys and aggregates")
	}
	cols := make([]string, 0, len(o.Keys)+len(o.Aggs))
	for _, k := range o.Keys {
		cols = append(cols, quoteIdent(k))
	}
	for _, a := range o.Aggs {
		fn, err := sqlAggFunc(a.Func)
		if err != nil {
			return "", nil, err
		}
		arg := "*"
		if a.Column != "" {
			arg = quoteIdent(a.Column)
		} else if a.Func != "count" {
			return "", nil, errors.New(errors.ErrorTypeValidation, "aggregate requires a column").
				WithDetail("func", a.Func)
		}
		cols = append(cols, fmt.Sprintf("%s(%s) AS %s", fn, arg, quoteIdent(aggAlias(a))))
	}
	keys := make([]string, len(o.Keys))
	for i, k := range o.Keys {
		keys[i] = quoteIdent(k)
	}
	out := append([]string(nil), o.Keys...)
	for _, a := range o.Aggs {
		out = append(out, aggAlias(a))
	}
	// ORDER BY keeps group order identical to the table evaluation.
	return fmt.Sprintf("SELECT %s FROM (%s) AS t GROUP BY %s ORDER BY %s",
		strings.Join(cols, ", "), inner, strings.Join(keys, ", "), strings.Join(keys, ", ")), out, nil
}

// LimitOp keeps the first N rows.
type LimitOp struct {
	N int
}

// Name implements Operation.
func (o *LimitOp) Name() string { return "limit" }

// Pushable implements Operation.
func (o *LimitOp) Pushable() bool { return true }

// EvalTable implements Operation.
func (o *LimitOp) EvalTable(t *table.Table) (*table.Table, error) {
	if o.N < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "limit must be non-negative")
	}
	return t.Slice(0, o.N), nil
}

// SQL implements Operation.
func (o *LimitOp) SQL(inner string, columns []string) (string, []string, error) {
	if o.N < 0 {
		return "", nil, errors.New(errors.ErrorTypeValidation, "limit must be non-negative")
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS t LIMIT %d", inner, o.N), columns, nil
}

// ApplyOp is the opaque escape hatch: an arbitrary table transform. It is
// never pushable.
type ApplyOp struct {
	Fn func(*table.Table) (*table.Table, error)
}

// Name implements Operation.
func (o *ApplyOp) Name() string { return "apply" }

// Pushable implements Operation.
func (o *ApplyOp) Pushable() bool { return false }

// EvalTable implements Operation.
func (o *ApplyOp) EvalTable(t *table.Table) (*table.Table, error) {
	return o.Fn(t)
}

// SQL implements Operation.
func (o *ApplyOp) SQL(string, []string) (string, []string, error) {
	return "", nil, errors.New(errors.ErrorTypeClassification, "opaque operation has no SQL form")
}

// Helpers shared by evaluation and SQL rendering.

func aggAlias(a Agg) string {
	if a.As != "" {
		return a.As
	}
	if a.Column == "" {
		return a.Func
	}
	return a.Func + "_" + a.Column
}

func sqlAggFunc(fn string) (string, error) {
	switch fn {
	case "sum", "count", "avg", "min", "max":
		return strings.ToUpper(fn), nil
	default:
		return "", errors.New(errors.ErrorTypeValidation, "unsupported aggregate").WithDetail("func", fn)
	}
}

func sqlComparator(cmp string) (string, error) {
	switch cmp {
	case "=", "<", "<=", ">", ">=":
		return cmp, nil
	case "!=":
		return "<>", nil
	default:
		return "", errors.New(errors.ErrorTypeValidation, "unsupported comparator").WithDetail("comparator", cmp)
	}
}

// quoteIdent quotes a SQL identifier, escaping embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqlLiteral renders a Go value as a SQL literal.
func sqlLiteral(v interface{}) (string, error) {
	switch c := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(c, "'", "''") + "'", nil
	case int:
		return strconv.Itoa(c), nil
	case int64:
		return strconv.FormatInt(c, 10), nil
	case float64:
		return strconv.FormatFloat(c, 'g', -1, 64), nil
	case bool:
		if c {
			return "1", nil
		}
		return "0", nil
	default:
		return "", errors.New(errors.ErrorTypeValidation, "unsupported literal type").
			WithDetail("type", fmt.Sprintf("%T", v))
	}
}

func sqlOperand(o Operand) (string, error) {
	if o.Column != "" {
		return quoteIdent(o.Column), nil
	}
	return sqlLiteral(o.Literal)
}

func sqlExpr(e Expr) (string, error) {
	left, err := sqlOperand(e.Left)
	if err != nil {
		return "", err
	}
	if e.Op == "" {
		return left, nil
	}
	switch e.Op {
	case "+", "-", "*", "/":
	default:
		return "", errors.New(errors.ErrorTypeValidation, "unsupported expression operator").
			WithDetail("op", e.Op)
	}
	right, err := sqlOperand(e.Right)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s %s %s)", left, e.Op, right), nil
}

func evalOperand(o Operand, t *table.Table, row table.Row) (interface{}, error) {
	if o.Column != "" {
		idx, err := t.ColumnIndex(o.Column)
		if err != nil {
			return nil, err
		}
		return row[idx], nil
	}
	return o.Literal, nil
}

func evalExpr(e Expr, t *table.Table, row table.Row) (interface{}, error) {
	left, err := evalOperand(e.Left, t, row)
	if err != nil {
		return nil, err
	}
	if e.Op == "" {
		return left, nil
	}
	right, err := evalOperand(e.Right, t, row)
	if err != nil {
		return nil, err
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, errors.New(errors.ErrorTypeData, "expression requires numeric operands")
	}
	var out float64
	switch e.Op {
	case "+":
		out = lf + rf
	case "-":
		out = lf - rf
	case "*":
		out = lf * rf
	case "/":
		if rf == 0 {
			return nil, errors.New(errors.ErrorTypeData, "division by zero")
		}
		out = lf / rf
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "unsupported expression operator").
			WithDetail("op", e.Op)
	}
	// Keep integer arithmetic integral when both sides were integers.
	_, li := left.(int64)
	_, ri := right.(int64)
	if li && ri && e.Op != "/" {
		return int64(out), nil
	}
	return out, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch c := v.(type) {
	case int:
		return float64(c), true
	case int64:
		return float64(c), true
	case float64:
		return c, true
	default:
		return 0, false
	}
}

// compareCells evaluates cell <cmp> value. Numeric cells compare with
// coercion; strings compare lexicographically; booleans support only
// equality. NULL cells never match.
func compareCells(cell interface{}, cmp string, value interface{}) (bool, error) {
	if cell == nil || value == nil {
		return false, nil
	}
	if _, err := sqlComparator(cmp); err != nil {
		return false, err
	}
	if cb, ok := cell.(bool); ok {
		vb, ok := value.(bool)
		if !ok {
			return false, nil
		}
		switch cmp {
		case "=":
			return cb == vb, nil
		case "!=":
			return cb != vb, nil
		default:
			return false, errors.New(errors.ErrorTypeValidation, "booleans support only equality")
		}
	}
	ord := orderValues(cell, value)
	switch cmp {
	case "=":
		return ord == 0, nil
	case "!=":
		return ord != 0, nil
	case "<":
		return ord < 0, nil
	case "<=":
		return ord <= 0, nil
	case ">":
		return ord > 0, nil
	case ">=":
		return ord >= 0, nil
	}
	return false, nil
}

// orderCells orders two cells for sorting: NULLs first, then numerics, then
// everything else by string rendering.
func orderCells(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return orderValues(a, b)
}

func orderValues(a, b interface{}) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as := formatKey(a)
	bs := formatKey(b)
	return strings.Compare(as, bs)
}

func formatKey(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	case int64:
		return strconv.FormatInt(c, 10)
	case float64:
		return strconv.FormatFloat(c, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(c)
	default:
		return fmt.Sprintf("%v", c)
	}
}

// accumulator collects one aggregate over a group.
type accumulator struct {
	count int64
	sum   float64
	min   float64
	max   float64
	seen  bool
}

func (a *accumulator) addCount() {
	a.count++
}

func (a *accumulator) add(v interface{}) error {
	if v == nil {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		// COUNT works on any type; numeric aggregates reject it later.
		a.count++
		return nil
	}
	a.count++
	a.sum += f
	if !a.seen || f < a.min {
		a.min = f
	}
	if !a.seen || f > a.max {
		a.max = f
	}
	a.seen = true
	return nil
}

func (a *accumulator) result(fn string) (interface{}, error) {
	switch fn {
	case "count":
		return a.count, nil
	case "sum":
		return a.sum, nil
	case "avg":
		if a.count == 0 {
			return nil, nil
		}
		return a.sum / float64(a.count), nil
	case "min":
		if !a.seen {
			return nil, nil
		}
		return a.min, nil
	case "max":
		if !a.seen {
			return nil, nil
		}
		return a.max, nil
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "unsupported aggregate").WithDetail("func", fn)
	}
}
