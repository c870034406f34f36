package partition

import (
	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/planerr"
)

// assignment is the outcome of the per-operation device-choice rule of
// §4.1: either a concrete device that will materialise the operation into
// a step model, or an "interpreted" verdict meaning the interpreter itself
// will drive the control-flow construct by recursing into its branches.
type assignment struct {
	device      device.Device
	interpreted bool
}

// chooseDevice implements §4.1's per-operation device choice: among devices
// answering SupportsOperation, pick the lowest performance figure for the
// preference in force; ties prefer the fallback device; control-flow
// operations touching an unknown-sized operand are forced onto the
// fallback device; control-flow operations whose natural best device is the
// fallback, and which do not touch an unknown-sized operand, are assigned
// "interpreted" instead of materialised.
func chooseDevice(devices []device.Device, fallback device.Device, pref device.Preference, sg graph.SubGraph, op graph.Operation) (assignment, *planerr.PlanError) {
	var best device.Device
	bestFigure := 0.0
	haveBest := false

	t := graph.PrimaryInputType(sg, op)
	isCF := op.Type.IsControlFlow()

	for _, d := range devices {
		if !d.SupportsOperation(sg, op) {
			continue
		}
		figure := pref.Figure(d.PerformanceFor(t, isCF))
		switch {
		case !haveBest:
			best, bestFigure, haveBest = d, figure, true
		case figure < bestFigure:
			best, bestFigure = d, figure
		case figure == bestFigure && d.Name() == fallback.Name():
			best = d
		}
	}

	if !haveBest {
		return assignment{}, planerr.Newf(planerr.CodeUnsupportedDeviceCombination,
			"no device, including fallback, supports operation %s", op.Type)
	}

	if isCF {
		if graph.HasUnknownSizedOperand(sg, op) {
			return assignment{device: fallback}, nil
		}
		if best.Name() == fallback.Name() {
			return assignment{interpreted: true}, nil
		}
	}
	return assignment{device: best}, nil
}

// knownSet tracks, for one sub-graph partitioning pass, which local operand
// indices are available: model inputs, constants, no-value placeholders and
// sub-graph references are known from the start; everything else becomes
// known only once the operation that produces it has been dispatched.
type knownSet struct {
	known []bool
}

func newKnownSet(sg graph.SubGraph) *knownSet {
	k := &knownSet{known: make([]bool, len(sg.Operands))}
	for i, o := range sg.Operands {
		switch o.Lifetime {
		case graph.LifetimeModelInput, graph.LifetimeConstantCopy, graph.LifetimeConstantReference,
			graph.LifetimeNoValue, graph.LifetimeSubgraphReference:
			k.known[i] = true
		}
	}
	return k
}

func (k *knownSet) isKnown(i int) bool { return k.known[i] }

func (k *knownSet) markOutputs(op graph.Operation) {
	for _, o := range op.Outputs {
		k.known[o] = true
	}
}

func (k *knownSet) ready(op graph.Operation) bool {
	for _, i := range op.Inputs {
		if !k.known[i] {
			return false
		}
	}
	return true
}
