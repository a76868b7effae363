package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/speedframe/speed/pkg/table"
)

func TestClassify(t *testing.T) {
	t.Run("whitelisted operations are pushable", func(t *testing.T) {
		p := New("clean").
			Filter("age", ">", int64(21)).
			WithColumn("age_next", Expr{Left: Col("age"), Op: "+", Right: Lit(int64(1))}).
			SortBy([]string{"age"}, nil).
			GroupBy([]string{"city"}, Agg{Func: "count", As: "n"}).
			Limit(10).
			Select("city", "n")
		assert.Equal(t, Pushable, Classify(p))
	})

	t.Run("opaque operation poisons the pipeline", func(t *testing.T) {
		p := New("custom").
			Filter("age", ">", int64(21)).
			Apply(func(in *table.Table) (*table.Table, error) { return in, nil })
		assert.Equal(t, NotPushable, Classify(p))
	})

	t.Run("nil pipeline", func(t *testing.T) {
		assert.Equal(t, NotPushable, Classify(nil))
	})

	t.Run("empty pipeline is pushable", func(t *testing.T) {
		assert.Equal(t, Pushable, Classify(New("noop")))
	})

	t.Run("unrenderable sql rejects", func(t *testing.T) {
		// Claims pushability but has no SQL form for its comparator.
		p := New("bad").Filter("age", "~", int64(1))
		assert.Equal(t, NotPushable, Classify(p))
	})

	t.Run("panic during inspection recovers to not pushable", func(t *testing.T) {
		p := New("hostile")
		p.ops = append(p.ops, panickyOp{})
		assert.Equal(t, NotPushable, Classify(p))
	})

	t.Run("verdict is stable across calls", func(t *testing.T) {
		p := New("stable").Filter("age", ">", int64(21))
		first := Classify(p)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, Classify(p))
		}
	})
}

type panickyOp struct{}

func (panickyOp) Name() string   { return "panicky" }
func (panickyOp) Pushable() bool { panic("no answer") }

func (panickyOp) EvalTable(t *table.Table) (*table.Table, error) { return t, nil }
func (panickyOp) SQL(string, []string) (string, []string, error) { return "", nil, nil }
