package partition

import (
	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/plan"
	"github.com/reach-systems/planrt/internal/planerr"
)

// toSourceIndices maps a sub-graph's local operand indices (its declared
// Inputs/Outputs list) into fully-qualified SourceOperandIndex values.
func toSourceIndices(sgIdx int, local []int) []graph.SourceOperandIndex {
	out := make([]graph.SourceOperandIndex, len(local))
	for i, l := range local {
		out[i] = graph.SourceOperandIndex{SubgraphIndex: sgIdx, OperandIndex: l}
	}
	return out
}

// emitControlFlow threads an interpreted IF or WHILE operation into the
// linear program per §4.1's layout diagrams, recursively partitioning the
// referenced sub-graph(s) in place.
func (pb *planBuilder) emitControlFlow(sgIdx int, sg graph.SubGraph, opIdx int) *planerr.PlanError {
	op := sg.Operations[opIdx]
	switch op.Type {
	case graph.OpIf:
		return pb.emitIf(sgIdx, sg, op)
	case graph.OpWhile:
		return pb.emitWhile(sgIdx, sg, op)
	default:
		return planerr.Newf(planerr.CodeInternal, "operation %s assigned interpreted but is not control flow", op.Type)
	}
}

// emitIf lays out: IfStep @ i, then-body ..., GotoStep @ j -> k, else-body
// ..., rest-of-program @ k.
func (pb *planBuilder) emitIf(sgIdx int, sg graph.SubGraph, op graph.Operation) *planerr.PlanError {
	condOperand := op.Inputs[0]
	thenRef := sg.Operands[op.Inputs[1]].Location.SubgraphIndex
	elseRef := sg.Operands[op.Inputs[2]].Location.SubgraphIndex
	outerArgs := op.Inputs[3:]

	step := &plan.IfStep{}
	pb.result.Steps = append(pb.result.Steps, step)

	thenStart := len(pb.result.Steps)
	if err := pb.partitionSubgraph(thenRef); err != nil {
		return err
	}

	gotoIdx := len(pb.result.Steps)
	pb.result.Steps = append(pb.result.Steps, &plan.GotoStep{})

	elseStart := len(pb.result.Steps)
	if err := pb.partitionSubgraph(elseRef); err != nil {
		return err
	}

	restIdx := len(pb.result.Steps)
	pb.result.Steps[gotoIdx].(*plan.GotoStep).Target = restIdx

	thenSg := pb.model.Subgraph(thenRef)
	elseSg := pb.model.Subgraph(elseRef)

	step.Condition = graph.SourceOperandIndex{SubgraphIndex: sgIdx, OperandIndex: condOperand}
	step.ThenStepIndex = thenStart
	step.ElseStepIndex = elseStart
	step.OuterInputs = toSourceIndices(sgIdx, outerArgs)
	step.OuterOutputs = toSourceIndices(sgIdx, op.Outputs)
	step.ThenInputs = toSourceIndices(thenRef, thenSg.Inputs)
	step.ThenOutputs = toSourceIndices(thenRef, thenSg.Outputs)
	step.ElseInputs = toSourceIndices(elseRef, elseSg.Inputs)
	step.ElseOutputs = toSourceIndices(elseRef, elseSg.Outputs)

	// Branch outputs alias into the outer output's location (advanceIf
	// aliases whichever branch ran onto it), so the outer position must
	// already be resolvable before either branch executes. Reserve it at
	// the larger of the two branches' static sizes per the dynamic-shape
	// resolution of the open question on divergent branch output sizes.
	for i, outer := range step.OuterOutputs {
		thenOperand := thenSg.Operands[thenSg.Outputs[i]]
		elseOperand := elseSg.Operands[elseSg.Outputs[i]]
		if pb.opts.Mode == device.PartitioningWithoutFallback && (!thenOperand.IsFullySpecified() || !elseOperand.IsFullySpecified()) {
			return planerr.New(planerr.CodeOpFailed, "IF branch output has unspecified shape and partitioning mode forbids fallback")
		}
		bytes := arenaBytesFor(thenOperand)
		if b := arenaBytesFor(elseOperand); b > bytes {
			bytes = b
		}
		pb.result.ArenaSlots = append(pb.result.ArenaSlots, plan.ArenaSlot{Index: outer, Bytes: bytes, Align: 16})
	}
	return nil
}

// emitWhile lays out: WhileStep @ i, cond-body ..., GotoStep -> i, body-body
// ..., GotoStep -> i, rest-of-program.
func (pb *planBuilder) emitWhile(sgIdx int, sg graph.SubGraph, op graph.Operation) *planerr.PlanError {
	condRef := sg.Operands[op.Inputs[0]].Location.SubgraphIndex
	bodyRef := sg.Operands[op.Inputs[1]].Location.SubgraphIndex
	outerArgs := op.Inputs[2:]

	idx := len(pb.result.Steps)
	step := &plan.WhileStep{}
	pb.result.Steps = append(pb.result.Steps, step)

	condStart := len(pb.result.Steps)
	if err := pb.partitionSubgraph(condRef); err != nil {
		return err
	}
	pb.result.Steps = append(pb.result.Steps, &plan.GotoStep{Target: idx})

	bodyStart := len(pb.result.Steps)
	if err := pb.partitionSubgraph(bodyRef); err != nil {
		return err
	}
	pb.result.Steps = append(pb.result.Steps, &plan.GotoStep{Target: idx})

	exitIdx := len(pb.result.Steps)

	condSg := pb.model.Subgraph(condRef)
	bodySg := pb.model.Subgraph(bodyRef)

	step.CondStepIndex = condStart
	step.BodyStepIndex = bodyStart
	step.ExitStepIndex = exitIdx
	step.OuterInputs = toSourceIndices(sgIdx, outerArgs)
	step.OuterOutputs = toSourceIndices(sgIdx, op.Outputs)
	step.CondInputs = toSourceIndices(condRef, condSg.Inputs)
	if len(condSg.Outputs) > 0 {
		step.CondOutput = graph.SourceOperandIndex{SubgraphIndex: condRef, OperandIndex: condSg.Outputs[0]}
	}
	step.BodyInputs = toSourceIndices(bodyRef, bodySg.Inputs)
	step.BodyOutputs = toSourceIndices(bodyRef, bodySg.Outputs)

	// Double-buffer each body output: the primary slot was already reserved
	// when the body's own ExecutionStep(s) were emitted above, so only the
	// secondary half needs adding here (§4.2's "at the transition to
	// iteration N+1, the slots are swapped").
	for _, out := range step.BodyOutputs {
		operand := bodySg.Operands[out.OperandIndex]
		pb.result.ArenaSlots = append(pb.result.ArenaSlots, plan.ArenaSlot{
			Index:     out,
			Bytes:     arenaBytesFor(operand),
			Align:     16,
			Secondary: true,
		})
	}
	return nil
}
