package plan

import (
	"fmt"
	"log"
	"strings"
)

// String renders an ExecutionStep's device, source sub-graph/operations, and
// boundary table sizes, grounded on the original runtime's
// ExecutionStep::dump()/logStepModel().
func (s *ExecutionStep) String() string {
	name := "<nil>"
	if s.Device != nil {
		name = s.Device.Name()
	}
	return fmt.Sprintf("ExecutionStep{device=%s sourceSubgraph=%d sourceOps=%v inputs=%d outputs=%d}",
		name, s.SourceSubgraph, s.SourceOperations, len(s.Inputs), len(s.Outputs))
}

// String renders an IfStep's branch targets, grounded on
// LogicalStep::dump()'s IF case.
func (s *IfStep) String() string {
	return fmt.Sprintf("IfStep{condition=%v then=%d else=%d}", s.Condition, s.ThenStepIndex, s.ElseStepIndex)
}

// String renders a WhileStep's cond/body/exit targets, grounded on
// LogicalStep::dump()'s WHILE case.
func (s *WhileStep) String() string {
	return fmt.Sprintf("WhileStep{cond=%d body=%d exit=%d}", s.CondStepIndex, s.BodyStepIndex, s.ExitStepIndex)
}

// String renders a GotoStep's target, grounded on LogicalStep::dump()'s
// GOTO case.
func (s *GotoStep) String() string {
	return fmt.Sprintf("GotoStep{target=%d}", s.Target)
}

// Dump renders a human-readable summary of the plan's shape — which device
// each step landed on, and the IF/WHILE/GOTO layout — grounded on the
// original runtime's ExecutionPlan::dump(): a point-in-time diagnostic
// callable on demand rather than data the interpreter consumes.
func (p *ExecutionPlan) Dump() string {
	var b strings.Builder
	switch p.kind {
	case KindEmpty:
		b.WriteString("ExecutionPlan{kind=empty}")
	case KindSimple:
		name := "<nil>"
		if p.simpleDevice != nil {
			name = p.simpleDevice.Name()
		}
		fmt.Fprintf(&b, "ExecutionPlan{kind=simple device=%s}", name)
	default:
		fmt.Fprintf(&b, "ExecutionPlan{kind=compound steps=%d}\n", len(p.Steps))
		for i, step := range p.Steps {
			fmt.Fprintf(&b, "  [%d] %s\n", i, step)
		}
	}
	return b.String()
}

// LogTo writes Dump's output to logger, one Printf call per plan, the
// original's finish()-time logStepModel() call reframed as an explicit,
// caller-invoked diagnostic rather than an implicit side effect of
// compilation.
func (p *ExecutionPlan) LogTo(logger *log.Logger) {
	if logger == nil {
		return
	}
	logger.Printf("%s", p.Dump())
}
