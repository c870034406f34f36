package partition

import (
	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/plan"
)

// stepBuilder excerpts one device's batch of operations into a private step
// model, per the lifetime table of §4.1: each referenced operand is added
// to the step's own operand list on first encounter, translated according
// to its source lifetime.
type stepBuilder struct {
	source *graph.Model
	sgIdx  int
	sg     graph.SubGraph

	operands   []graph.Operand
	operations []graph.Operation
	constants  []byte
	subgraphs  []graph.SubGraph

	localOf        map[int]int // source-local operand index -> step-local operand index
	subgraphCopied map[int]int // source model sub-graph index -> step model sub-graph index (1-based)

	mainInputs        []plan.BoundaryRef // BoundaryMainInput
	tempInputs        []plan.BoundaryRef // BoundaryTempInput
	mainOutputAsInput []plan.BoundaryRef // BoundaryMainOutputAsInput
	mainOutputs       []plan.BoundaryRef // BoundaryMainOutput
	tempOutputs       []plan.BoundaryRef // BoundaryTempOutput, keyed for stable ordering
}

func newStepBuilder(source *graph.Model, sgIdx int, sg graph.SubGraph) *stepBuilder {
	return &stepBuilder{source: source, sgIdx: sgIdx, sg: sg, localOf: make(map[int]int), subgraphCopied: make(map[int]int)}
}

// copySubgraph deep-copies the source model's sub-graph srcIdx (and,
// transitively, any sub-graph it references) into the step model's own
// Subgraphs list, rewriting constant-reference and sub-graph-reference
// operands to address the step model's own pools, and returns the step
// model's Model.Subgraph addressing index for it (matching the 1-based
// convention of graph.Model.Subgraph).
func (sb *stepBuilder) copySubgraph(srcIdx int) int {
	if idx, ok := sb.subgraphCopied[srcIdx]; ok {
		return idx
	}
	src := sb.source.Subgraph(srcIdx)
	operands := make([]graph.Operand, len(src.Operands))
	copy(operands, src.Operands)

	newIdx := len(sb.subgraphs) + 1
	sb.subgraphs = append(sb.subgraphs, graph.SubGraph{})
	sb.subgraphCopied[srcIdx] = newIdx

	for i, o := range operands {
		switch o.Lifetime {
		case graph.LifetimeConstantReference:
			offset := len(sb.constants)
			sb.constants = append(sb.constants, sb.source.Constants[o.Location.PoolOffset:o.Location.PoolOffset+o.Location.PoolLength]...)
			operands[i].Location = graph.Location{PoolOffset: offset, PoolLength: o.Location.PoolLength}
		case graph.LifetimeSubgraphReference:
			operands[i].Location.SubgraphIndex = sb.copySubgraph(o.Location.SubgraphIndex)
		}
	}

	sb.subgraphs[newIdx-1] = graph.SubGraph{
		Operands:   operands,
		Operations: append([]graph.Operation{}, src.Operations...),
		Inputs:     append([]int{}, src.Inputs...),
		Outputs:    append([]int{}, src.Outputs...),
	}
	return newIdx
}

// escapesStep reports whether local operand i of sb's sub-graph is
// consumed by any operation outside opSet, or is itself one of the
// sub-graph's own declared boundary outputs (the operand a control-flow
// step will alias into an outer location once this step completes), i.e.
// it must be exported as a step-model output rather than staying purely
// internal.
func escapesStep(sg graph.SubGraph, opSet map[int]bool, localIdx int) bool {
	for _, out := range sg.Outputs {
		if out == localIdx {
			return true
		}
	}
	for opIdx, op := range sg.Operations {
		if opSet[opIdx] {
			continue
		}
		for _, in := range op.Inputs {
			if in == localIdx {
				return true
			}
		}
	}
	return false
}

// add ingests one source operand on first encounter as either an input or
// an output use, returning its step-local operand index.
func (sb *stepBuilder) add(localIdx int, asOutput bool, opSet map[int]bool) int {
	if stepIdx, ok := sb.localOf[localIdx]; ok {
		return stepIdx
	}
	o := sb.sg.Operands[localIdx]
	src := graph.SourceOperandIndex{SubgraphIndex: sb.sgIdx, OperandIndex: localIdx}

	switch o.Lifetime {
	case graph.LifetimeConstantCopy:
		stepOp := o
		sb.operands = append(sb.operands, stepOp)
		idx := len(sb.operands) - 1
		sb.localOf[localIdx] = idx
		return idx

	case graph.LifetimeConstantReference:
		offset := len(sb.constants)
		sb.constants = append(sb.constants, sb.source.Constants[o.Location.PoolOffset:o.Location.PoolOffset+o.Location.PoolLength]...)
		stepOp := o
		stepOp.Location = graph.Location{PoolOffset: offset, PoolLength: o.Location.PoolLength}
		sb.operands = append(sb.operands, stepOp)
		idx := len(sb.operands) - 1
		sb.localOf[localIdx] = idx
		return idx

	case graph.LifetimeNoValue:
		sb.operands = append(sb.operands, o)
		idx := len(sb.operands) - 1
		sb.localOf[localIdx] = idx
		return idx

	case graph.LifetimeSubgraphReference:
		stepOp := o
		stepOp.Location.SubgraphIndex = sb.copySubgraph(o.Location.SubgraphIndex)
		sb.operands = append(sb.operands, stepOp)
		idx := len(sb.operands) - 1
		sb.localOf[localIdx] = idx
		return idx

	case graph.LifetimeModelInput:
		stepOp := o
		stepOp.Lifetime = graph.LifetimeModelInput
		stepOp.Location = graph.Location{ModelIOIndex: len(sb.mainInputs)}
		sb.operands = append(sb.operands, stepOp)
		idx := len(sb.operands) - 1
		sb.localOf[localIdx] = idx
		sb.mainInputs = append(sb.mainInputs, plan.BoundaryRef{Kind: plan.BoundaryMainInput, Source: src})
		return idx

	case graph.LifetimeModelOutput:
		if !asOutput {
			stepOp := o
			stepOp.Lifetime = graph.LifetimeModelInput
			stepOp.Location = graph.Location{ModelIOIndex: len(sb.mainInputs)}
			sb.operands = append(sb.operands, stepOp)
			idx := len(sb.operands) - 1
			sb.localOf[localIdx] = idx
			sb.mainOutputAsInput = append(sb.mainOutputAsInput, plan.BoundaryRef{Kind: plan.BoundaryMainOutputAsInput, Source: src})
			return idx
		}
		stepOp := o
		stepOp.Lifetime = graph.LifetimeModelOutput
		stepOp.Location = graph.Location{ModelIOIndex: len(sb.mainOutputs)}
		sb.operands = append(sb.operands, stepOp)
		idx := len(sb.operands) - 1
		sb.localOf[localIdx] = idx
		sb.mainOutputs = append(sb.mainOutputs, plan.BoundaryRef{Kind: plan.BoundaryMainOutput, Source: src})
		return idx

	default: // LifetimeTemporary
		if asOutput {
			exported := escapesStep(sb.sg, opSet, localIdx)
			stepOp := o
			if exported {
				stepOp.Lifetime = graph.LifetimeModelOutput
				stepOp.Location = graph.Location{ModelIOIndex: len(sb.tempOutputs)}
			}
			sb.operands = append(sb.operands, stepOp)
			idx := len(sb.operands) - 1
			sb.localOf[localIdx] = idx
			if exported {
				sb.tempOutputs = append(sb.tempOutputs, plan.BoundaryRef{Kind: plan.BoundaryTempOutput, Source: src})
			}
			return idx
		}
		// First appearance as an input: it was produced by an earlier step,
		// so it binds to this step model as an external input fed from the
		// arena.
		stepOp := o
		stepOp.Lifetime = graph.LifetimeModelInput
		stepOp.Location = graph.Location{ModelIOIndex: len(sb.mainInputs) + len(sb.tempInputs)}
		sb.operands = append(sb.operands, stepOp)
		idx := len(sb.operands) - 1
		sb.localOf[localIdx] = idx
		sb.tempInputs = append(sb.tempInputs, plan.BoundaryRef{Kind: plan.BoundaryTempInput, Source: src})
		return idx
	}
}

// build excerpts opIdxs (source-local operation indices, in order) into a
// finished ExecutionStep's step model and boundary tables.
func (sb *stepBuilder) build(opIdxs []int) (*graph.Model, []plan.BoundaryRef, []plan.BoundaryRef) {
	opSet := make(map[int]bool, len(opIdxs))
	for _, i := range opIdxs {
		opSet[i] = true
	}

	for _, opIdx := range opIdxs {
		op := sb.sg.Operations[opIdx]
		strippedInputs := stripTrailingDefaults(sb.sg, op)

		localInputs := make([]int, len(strippedInputs))
		for i, in := range strippedInputs {
			localInputs[i] = sb.add(in, false, opSet)
		}
		localOutputs := make([]int, len(op.Outputs))
		for i, out := range op.Outputs {
			localOutputs[i] = sb.add(out, true, opSet)
		}
		sb.operations = append(sb.operations, graph.Operation{Type: op.Type, Inputs: localInputs, Outputs: localOutputs})
	}

	inputs := append(append(append([]plan.BoundaryRef{}, sb.mainInputs...), sb.tempInputs...), sb.mainOutputAsInput...)
	outputs := append(append([]plan.BoundaryRef{}, sb.mainOutputs...), sb.tempOutputs...)

	inputIdxs := make([]int, 0, len(inputs))
	for _, ref := range inputs {
		inputIdxs = append(inputIdxs, sb.localOf[ref.Source.OperandIndex])
	}
	outputIdxs := make([]int, 0, len(outputs))
	for _, ref := range outputs {
		outputIdxs = append(outputIdxs, sb.localOf[ref.Source.OperandIndex])
	}

	m := &graph.Model{
		Main: graph.SubGraph{
			Operands:   sb.operands,
			Operations: sb.operations,
			Inputs:     inputIdxs,
			Outputs:    outputIdxs,
		},
		Subgraphs:        sb.subgraphs,
		Constants:        sb.constants,
		RelaxFloat32to16: sb.source.RelaxFloat32to16,
	}
	return m, inputs, outputs
}
