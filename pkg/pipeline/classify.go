package pipeline

import (
	"go.uber.org/zap"

	"github.com/speedframe/speed/pkg/logger"
)

// Verdict is the classifier's answer: can a pipeline be translated to SQL
// and pushed into the embedded database as a whole?
type Verdict int

const (
	// NotPushable routes the pipeline to table-based execution.
	NotPushable Verdict = iota
	// Pushable routes the pipeline to the relational executor.
	Pushable
)

// String returns the verdict label.
func (v Verdict) String() string {
	if v == Pushable {
		return "pushable"
	}
	return "not_pushable"
}

// Classify inspects a pipeline's operation list and reports whether every
// operation belongs to the relation-translatable whitelist. Classification
// is a best-effort filter: any panic while inspecting an operation is
// recovered and treated as NotPushable, never propagated. For a given
// pipeline value the verdict is stable across calls.
func Classify(p *Pipeline) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("pipeline classification panicked, treating as not pushable",
				zap.String("pipeline", p.Name()),
				zap.Any("panic", r))
			verdict = NotPushable
		}
	}()

	if p == nil {
		return NotPushable
	}
	for _, op := range p.Operations() {
		if !op.Pushable() {
			return NotPushable
		}
		// An operation that claims pushability but cannot render its SQL
		// form would fail mid-ingestion; catch it here instead. The column
		// list is unknown at classification time, so pass nil.
		if _, _, err := op.SQL("SELECT 1", nil); err != nil {
			return NotPushable
		}
	}
	return Pushable
}
