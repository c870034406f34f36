package main

import (
	"encoding/binary"
	"math"

	"github.com/reach-systems/planrt/internal/graph"
)

// buildDemoModel returns a small, hand-built finished Model exercising
// ADD on one device and SUB on another: the accelerator supports ADD but
// never SUB, so the partitioner is forced to split the two operations
// across two devices, the first concrete scenario of §8. Model
// construction itself is explicitly out of CORE scope, so planctl builds
// one directly as a struct literal rather than through any higher-level
// API.
func buildDemoModel() *graph.Model {
	shape := []uint32{4}
	ones := encodeFloat32LE([]float32{1, 1, 1, 1})

	mainSg := graph.SubGraph{
		Operands: []graph.Operand{
			{Type: graph.ElementTypeTensorFloat32, Shape: shape, Lifetime: graph.LifetimeModelInput},
			{Type: graph.ElementTypeTensorFloat32, Shape: shape, Lifetime: graph.LifetimeModelInput},
			{Type: graph.ElementTypeTensorFloat32, Shape: shape, Lifetime: graph.LifetimeConstantCopy,
				Location: graph.Location{InlineConstant: ones}},
			{Type: graph.ElementTypeTensorFloat32, Shape: shape, Lifetime: graph.LifetimeTemporary},
			{Type: graph.ElementTypeTensorFloat32, Shape: shape, Lifetime: graph.LifetimeModelOutput},
		},
		Operations: []graph.Operation{
			{Type: graph.OpAdd, Inputs: []int{0, 1}, Outputs: []int{3}},
			{Type: graph.OpSub, Inputs: []int{3, 2}, Outputs: []int{4}},
		},
		Inputs:  []int{0, 1},
		Outputs: []int{4},
	}

	return &graph.Model{Main: mainSg}
}

func encodeFloat32LE(vals []float32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
