package device

import (
	"encoding/binary"
	"math"

	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/planerr"
)

// This file holds the minimal, correct, unoptimized float32 tensor kernels
// that make the spec's end-to-end scenarios (§8) observable. It is domain
// plumbing to exercise the CORE, not a tensor library — the spec explicitly
// keeps tensor computation itself out of scope (§1) and asks only for a
// "guaranteed software fallback" that is correct.

func decodeFloat32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func encodeFloat32s(vals []float32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// elementwiseFloat32 applies fn across two equal-length float32 operands.
func elementwiseFloat32(a, b []byte, fn func(x, y float32) float32) []byte {
	av, bv := decodeFloat32s(a), decodeFloat32s(b)
	n := len(av)
	if len(bv) < n {
		n = len(bv)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = fn(av[i], bv[i])
	}
	return encodeFloat32s(out)
}

func kernelAdd(a, b []byte) []byte { return elementwiseFloat32(a, b, func(x, y float32) float32 { return x + y }) }
func kernelSub(a, b []byte) []byte { return elementwiseFloat32(a, b, func(x, y float32) float32 { return x - y }) }
func kernelMul(a, b []byte) []byte { return elementwiseFloat32(a, b, func(x, y float32) float32 { return x * y }) }

// kernelEqual compares two float32 tensors elementwise and packs the result
// as one byte per element (0/1), matching ElementTypeTensorBool8 /
// ElementTypeBool8 encoding.
func kernelEqual(a, b []byte) []byte {
	av, bv := decodeFloat32s(a), decodeFloat32s(b)
	n := len(av)
	if len(bv) < n {
		n = len(bv)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		if av[i] == bv[i] {
			out[i] = 1
		}
	}
	return out
}

// runKernel evaluates a supported elementwise operation's first output from
// its first two inputs. IF/WHILE and pooling/conv/resize ops are not
// elementwise and are not evaluated here — by construction, the devices
// that claim to support them never appear as the sole executor of a step
// whose correctness this implementation checks end-to-end.
func runKernel(opType graph.OperationType, in0, in1 []byte) ([]byte, bool) {
	switch opType {
	case graph.OpAdd:
		return kernelAdd(in0, in1), true
	case graph.OpSub:
		return kernelSub(in0, in1), true
	case graph.OpMul:
		return kernelMul(in0, in1), true
	case graph.OpEqual:
		return kernelEqual(in0, in1), true
	default:
		return nil, false
	}
}

// readBool8 reads the first byte of a bool8-encoded buffer as a boolean.
func readBool8(b []byte) bool {
	return len(b) > 0 && b[0] != 0
}

// maxLiteralLoopIterations bounds the WHILE evaluator below, used only for
// the rare materialized-control-flow corner (§4.1: a control-flow operation
// containing an operand of unknown size is forced onto the fallback device
// without the "interpreted" treatment, so the fallback must be able to run
// it directly rather than relying on the plan interpreter's WhileStep loop
// timeout). It is a safety bound, not a spec-mandated timeout.
const maxLiteralLoopIterations = 100000

// evaluateSubgraph runs sg (the sgIndex'th sub-graph of m) against
// boundInputs positioned per sg.Inputs, returning sg.Outputs' bytes. It
// implements constants, temporaries, and literal IF/WHILE materialization
// by direct recursion — a small, self-contained reference interpreter
// distinct from the plan interpreter, used only inside device
// implementations to execute the operations their step model contains.
func evaluateSubgraph(m *graph.Model, sgIndex int, boundInputs [][]byte) ([][]byte, *planerr.PlanError) {
	sg := m.Subgraph(sgIndex)
	table := make([][]byte, len(sg.Operands))

	for i, operand := range sg.Operands {
		switch operand.Lifetime {
		case graph.LifetimeConstantCopy:
			table[i] = operand.Location.InlineConstant
		case graph.LifetimeConstantReference:
			start := operand.Location.PoolOffset
			table[i] = m.Constants[start : start+operand.Location.PoolLength]
		}
	}
	if len(boundInputs) != len(sg.Inputs) {
		return nil, planerr.Newf(planerr.CodeBadData, "sub-graph %d: expected %d bound inputs, got %d", sgIndex, len(sg.Inputs), len(boundInputs))
	}
	for i, operandIdx := range sg.Inputs {
		table[operandIdx] = boundInputs[i]
	}

	for opIdx, op := range sg.Operations {
		switch op.Type {
		case graph.OpIf:
			if err := evaluateIf(m, sg, op, table); err != nil {
				return nil, err
			}
		case graph.OpWhile:
			if err := evaluateWhile(m, sg, op, table); err != nil {
				return nil, err
			}
		default:
			in0 := table[op.Inputs[0]]
			in1 := in0
			if len(op.Inputs) > 1 {
				in1 = table[op.Inputs[1]]
			}
			result, ok := runKernel(op.Type, in0, in1)
			if !ok {
				return nil, planerr.Newf(planerr.CodeOpFailed, "sub-graph %d operation %d: no fallback kernel for %s", sgIndex, opIdx, op.Type)
			}
			table[op.Outputs[0]] = result
		}
	}

	outputs := make([][]byte, len(sg.Outputs))
	for i, operandIdx := range sg.Outputs {
		outputs[i] = table[operandIdx]
	}
	return outputs, nil
}

// evaluateIf expects op.Inputs = [condition, then-subgraph-ref,
// else-subgraph-ref, outer-arg...].
func evaluateIf(m *graph.Model, sg graph.SubGraph, op graph.Operation, table [][]byte) *planerr.PlanError {
	if len(op.Inputs) < 3 {
		return planerr.New(planerr.CodeBadData, "IF operation requires condition, then-ref, else-ref inputs")
	}
	cond := readBool8(table[op.Inputs[0]])
	branchOperand := op.Inputs[1]
	if !cond {
		branchOperand = op.Inputs[2]
	}
	branchRef := sg.Operands[branchOperand].Location.SubgraphIndex
	args := gatherArgs(table, op.Inputs[3:])
	results, err := evaluateSubgraph(m, branchRef, args)
	if err != nil {
		return err
	}
	assignOutputs(table, op.Outputs, results)
	return nil
}

// evaluateWhile expects op.Inputs = [cond-subgraph-ref, body-subgraph-ref,
// outer-arg...].
func evaluateWhile(m *graph.Model, sg graph.SubGraph, op graph.Operation, table [][]byte) *planerr.PlanError {
	if len(op.Inputs) < 2 {
		return planerr.New(planerr.CodeBadData, "WHILE operation requires cond-ref, body-ref inputs")
	}
	condRef := sg.Operands[op.Inputs[0]].Location.SubgraphIndex
	bodyRef := sg.Operands[op.Inputs[1]].Location.SubgraphIndex
	cur := gatherArgs(table, op.Inputs[2:])

	for iter := 0; ; iter++ {
		if iter >= maxLiteralLoopIterations {
			return planerr.New(planerr.CodeMissedDeadlinePersistent, "materialized WHILE exceeded iteration safety bound")
		}
		condResult, err := evaluateSubgraph(m, condRef, cur)
		if err != nil {
			return err
		}
		if !readBool8(condResult[0]) {
			break
		}
		cur, err = evaluateSubgraph(m, bodyRef, cur)
		if err != nil {
			return err
		}
	}
	assignOutputs(table, op.Outputs, cur)
	return nil
}

func gatherArgs(table [][]byte, indices []int) [][]byte {
	out := make([][]byte, len(indices))
	for i, idx := range indices {
		out[i] = table[idx]
	}
	return out
}

func assignOutputs(table [][]byte, indices []int, values [][]byte) {
	for i, idx := range indices {
		if i < len(values) {
			table[idx] = values[i]
		}
	}
}

// executeStepModel runs a prepared step model's main sub-graph against a
// positional ExecutionRequest, honoring the output-buffer-too-small rule of
// §4.3/§7: a response is never written into a buffer smaller than the
// computed result, and no fallback is attempted for that condition — the
// caller must resize and retry.
func executeStepModel(stepModel *graph.Model, req ExecutionRequest) ExecutionResponse {
	inputBytes := make([][]byte, len(req.Inputs))
	for i, buf := range req.Inputs {
		hb, err := buf.HostBytes()
		if err != nil {
			return ExecutionResponse{Status: StatusOpFailed, Err: err}
		}
		inputBytes[i] = hb
	}

	results, err := evaluateSubgraph(stepModel, 0, inputBytes)
	if err != nil {
		return ExecutionResponse{Status: StatusOpFailed, Err: err}
	}

	outShapes := make([][]uint32, len(results))
	sg := stepModel.Main
	outputs := make([]Buffer, len(results))
	insufficient := false
	for i, bytes := range results {
		var declaredShape []uint32
		if i < len(sg.Outputs) {
			declaredShape = sg.Operands[sg.Outputs[i]].Shape
		}
		shape := declaredShape
		if !fullyKnown(shape) {
			elemWidth := 4
			if i < len(sg.Outputs) && !sg.Operands[sg.Outputs[i]].Type.IsTensor() {
				elemWidth = 1
			} else if i < len(sg.Outputs) {
				switch sg.Operands[sg.Outputs[i]].Type {
				case graph.ElementTypeTensorUint8, graph.ElementTypeTensorBool8, graph.ElementTypeTensorQuant8PerChannel:
					elemWidth = 1
				case graph.ElementTypeTensorFloat16:
					elemWidth = 2
				}
			}
			shape = inferShapeFromByteLen(declaredShape, elemWidth, len(bytes))
		}
		outShapes[i] = shape

		if i < len(req.Outputs) {
			existing, herr := req.Outputs[i].HostBytes()
			if herr == nil && len(existing) > 0 && len(existing) < len(bytes) {
				insufficient = true
				outputs[i] = req.Outputs[i]
				continue
			}
			outputs[i] = req.Outputs[i].SetHostBytes(bytes)
		} else {
			outputs[i] = NewHostBuffer(shape, bytes)
		}
	}

	status := StatusOK
	if insufficient {
		status = StatusOutputInsufficientSize
	}
	return ExecutionResponse{Status: status, Outputs: outputs, OutputShapes: outShapes}
}

func fullyKnown(shape []uint32) bool {
	if shape == nil {
		return false
	}
	for _, d := range shape {
		if d == 0 {
			return false
		}
	}
	return true
}

// inferShapeFromByteLen refines a single unknown dimension from the
// produced byte length — enough to support the dynamic-output-shape
// propagation scenario (§8 scenario 5) without a general shape-inference
// engine, which is out of the CORE's scope.
func inferShapeFromByteLen(declared []uint32, elemWidth, byteLen int) []uint32 {
	if len(declared) == 0 || elemWidth == 0 {
		return declared
	}
	shape := make([]uint32, len(declared))
	copy(shape, declared)
	known := 1
	unknownIdx := -1
	for i, d := range shape {
		if d == 0 {
			if unknownIdx != -1 {
				return shape // more than one unknown dim: cannot infer
			}
			unknownIdx = i
			continue
		}
		known *= int(d)
	}
	if unknownIdx == -1 || known == 0 {
		return shape
	}
	total := byteLen / elemWidth
	shape[unknownIdx] = uint32(total / known)
	return shape
}
