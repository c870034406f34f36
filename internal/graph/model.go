package graph

import "github.com/reach-systems/planrt/internal/planerr"

// SubGraph is an ordered operand list, ordered operation list, and the
// external input/output indices (into the operand list) that name its
// boundary. Exactly one SubGraph in a Model is "main"; all others are
// referenced transitively through LifetimeSubgraphReference operands.
type SubGraph struct {
	Operands   []Operand
	Operations []Operation
	Inputs     []int
	Outputs    []int
}

// SourceOperandIndex globally identifies an operand across an entire Model:
// the pair (sub-graph index, operand index within that sub-graph). 0 names
// the main sub-graph.
type SourceOperandIndex struct {
	SubgraphIndex int
	OperandIndex  int
}

// Model is the finalised client graph: a main sub-graph, the referenced
// sub-graphs it transitively pulls in, and a shared constant pool that
// LifetimeConstantReference operands address by offset.
type Model struct {
	Main        SubGraph
	Subgraphs   []SubGraph
	Constants   []byte
	RelaxFloat32to16 bool

	finished bool
}

// Subgraph returns the sub-graph at index i, where 0 is Main and i>0 is
// Subgraphs[i-1].
func (m *Model) Subgraph(i int) SubGraph {
	if i == 0 {
		return m.Main
	}
	return m.Subgraphs[i-1]
}

// SubgraphCount returns 1 (Main) plus len(Subgraphs).
func (m *Model) SubgraphCount() int {
	return 1 + len(m.Subgraphs)
}

// Operand resolves a SourceOperandIndex against this model.
func (m *Model) Operand(idx SourceOperandIndex) Operand {
	return m.Subgraph(idx.SubgraphIndex).Operands[idx.OperandIndex]
}

// Finish validates the graph and marks it immutable. Calling Finish twice
// is rejected with CodeBadState, matching the idempotence property in §8.
func (m *Model) Finish() *planerr.PlanError {
	if m.finished {
		return planerr.New(planerr.CodeBadState, "model already finished")
	}
	if err := m.validate(); err != nil {
		return err
	}
	m.finished = true
	return nil
}

// IsFinished reports whether Finish has already succeeded.
func (m *Model) IsFinished() bool {
	return m.finished
}

func (m *Model) validate() *planerr.PlanError {
	for sgIdx := 0; sgIdx < m.SubgraphCount(); sgIdx++ {
		sg := m.Subgraph(sgIdx)
		for opIdx, op := range sg.Operations {
			for _, in := range op.Inputs {
				if in < 0 || in >= len(sg.Operands) {
					return planerr.Newf(planerr.CodeBadData,
						"sub-graph %d operation %d: input index %d out of range", sgIdx, opIdx, in)
				}
			}
			for _, out := range op.Outputs {
				if out < 0 || out >= len(sg.Operands) {
					return planerr.Newf(planerr.CodeBadData,
						"sub-graph %d operation %d: output index %d out of range", sgIdx, opIdx, out)
				}
			}
		}
		for i, operand := range sg.Operands {
			if operand.Lifetime == LifetimeSubgraphReference {
				ref := operand.Location.SubgraphIndex
				if ref < 0 || ref >= m.SubgraphCount() {
					return planerr.Newf(planerr.CodeBadData,
						"sub-graph %d operand %d: references nonexistent sub-graph %d", sgIdx, i, ref)
				}
			}
			if operand.Lifetime == LifetimeConstantCopy {
				want := operand.ByteSize()
				if want >= 0 && len(operand.Location.InlineConstant) != want {
					return planerr.Newf(planerr.CodeBadData,
						"sub-graph %d operand %d: constant length %d does not match computed size %d",
						sgIdx, i, len(operand.Location.InlineConstant), want)
				}
			}
			if operand.Lifetime == LifetimeConstantReference {
				end := operand.Location.PoolOffset + operand.Location.PoolLength
				if operand.Location.PoolOffset < 0 || end > len(m.Constants) {
					return planerr.Newf(planerr.CodeBadData,
						"sub-graph %d operand %d: constant reference out of pool bounds", sgIdx, i)
				}
			}
		}
	}
	return nil
}
