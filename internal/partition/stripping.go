package partition

import "github.com/reach-systems/planrt/internal/graph"

// defaultArg names one trailing optional argument and the constant bytes
// that make its presence redundant; value is compared to the operand's
// InlineConstant bytes exactly.
type defaultArg struct {
	value []byte
}

var falseByte = []byte{0}
var zeroI32 = []byte{0, 0, 0, 0}
var negOneI32 = []byte{0xff, 0xff, 0xff, 0xff}

// strippingTable maps an operation type to its trailing-argument default
// specification, read right-to-left exactly as tabulated in §6. Only
// AVERAGE_POOL_2D, MAX_POOL_2D, SOFTMAX and the two RESIZE operations are
// listed. OpConv2D and OpDepthwiseConv2D have no entry, so their trailing
// NHWC/dilation arguments are never stripped; the rest of the published
// table (DEPTH_TO_SPACE and so on) has no representative operation here.
// Input-count windows are not checked.
var strippingTable = map[graph.OperationType][]defaultArg{
	graph.OpAveragePool2D: {{value: falseByte}},
	graph.OpMaxPool2D:      {{value: falseByte}},
	graph.OpSoftmax:        {{value: negOneI32}},
	graph.OpResizeBilinear: {{value: falseByte}, {value: falseByte}, {value: falseByte}},
	graph.OpResizeNearestNeighbor: {{value: falseByte}, {value: falseByte}},
}

// stripTrailingDefaults removes trailing CONSTANT_COPY inputs whose bytes
// exactly match the documented default, widest match first (right-to-left),
// stopping at the first input that is not a matching constant-copy default
// or not constant-copy at all — constant-reference arguments are left in
// place per §6 ("constant-reference arguments are left in place").
func stripTrailingDefaults(sg graph.SubGraph, op graph.Operation) []int {
	rules, ok := strippingTable[op.Type]
	if !ok {
		return op.Inputs
	}
	inputs := append([]int{}, op.Inputs...)
	for i := len(rules) - 1; i >= 0 && len(inputs) > 0; i-- {
		last := inputs[len(inputs)-1]
		operand := sg.Operands[last]
		if operand.Lifetime != graph.LifetimeConstantCopy {
			break
		}
		if !bytesEqual(operand.Location.InlineConstant, rules[i].value) {
			break
		}
		inputs = inputs[:len(inputs)-1]
	}
	return inputs
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
