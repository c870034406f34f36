package device

import (
	"context"
	"math"
	"testing"

	"github.com/reach-systems/planrt/internal/graph"
)

// addModel builds a single-operation step model computing v2 = add(v0, v1)
// over two 2-element float32 tensors, the minimal shape of the spec's
// "two operations, two devices" scenario's constituent steps.
func addModel(shape []uint32) *graph.Model {
	m := &graph.Model{
		Main: graph.SubGraph{
			Operands: []graph.Operand{
				{Type: graph.ElementTypeTensorFloat32, Shape: shape, Lifetime: graph.LifetimeModelInput, Location: graph.Location{ModelIOIndex: 0}},
				{Type: graph.ElementTypeTensorFloat32, Shape: shape, Lifetime: graph.LifetimeModelInput, Location: graph.Location{ModelIOIndex: 1}},
				{Type: graph.ElementTypeTensorFloat32, Shape: shape, Lifetime: graph.LifetimeModelOutput, Location: graph.Location{ModelIOIndex: 0}},
			},
			Operations: []graph.Operation{{Type: graph.OpAdd, Inputs: []int{0, 1}, Outputs: []int{2}}},
			Inputs:     []int{0, 1},
			Outputs:    []int{2},
		},
	}
	if err := m.Finish(); err != nil {
		panic(err)
	}
	return m
}

func f32Bytes(vals ...float32) []byte { return encodeFloat32s(vals) }

func TestExecuteStepModelAdd(t *testing.T) {
	m := addModel([]uint32{2})
	req := ExecutionRequest{
		Inputs: []Buffer{
			NewHostBuffer([]uint32{2}, f32Bytes(1, 2)),
			NewHostBuffer([]uint32{2}, f32Bytes(10, 20)),
		},
	}
	resp := executeStepModel(m, req)
	if resp.Status != StatusOK {
		t.Fatalf("expected StatusOK, got %v (err=%v)", resp.Status, resp.Err)
	}
	got, _ := resp.Outputs[0].HostBytes()
	want := f32Bytes(11, 22)
	if string(got) != string(want) {
		t.Fatalf("got %v, want %v", decodeFloat32s(got), decodeFloat32s(want))
	}
}

func TestExecuteStepModelOutputInsufficientSize(t *testing.T) {
	m := addModel([]uint32{2})
	req := ExecutionRequest{
		Inputs: []Buffer{
			NewHostBuffer([]uint32{2}, f32Bytes(1, 2)),
			NewHostBuffer([]uint32{2}, f32Bytes(10, 20)),
		},
		Outputs: []Buffer{NewHostBuffer([]uint32{1}, make([]byte, 2))},
	}
	resp := executeStepModel(m, req)
	if resp.Status != StatusOutputInsufficientSize {
		t.Fatalf("expected StatusOutputInsufficientSize, got %v", resp.Status)
	}
}

func TestCPUFallbackExecuteMaterializesOpaqueInputs(t *testing.T) {
	m := addModel([]uint32{2})
	fb := NewCPUFallback()
	artifact, perr := fb.Prepare(context.Background(), m, PrepareOptions{})
	if perr != nil {
		t.Fatalf("prepare failed: %v", perr)
	}
	req := ExecutionRequest{
		Inputs: []Buffer{
			NewOpaqueBuffer([]uint32{2}, f32Bytes(1, 2)),
			NewHostBuffer([]uint32{2}, f32Bytes(3, 4)),
		},
	}
	resp := fb.Execute(context.Background(), artifact, req)
	if resp.Status != StatusOK {
		t.Fatalf("expected StatusOK, got %v (err=%v)", resp.Status, resp.Err)
	}
	got, _ := resp.Outputs[0].HostBytes()
	gotVals := decodeFloat32s(got)
	if gotVals[0] != 4 || gotVals[1] != 6 {
		t.Fatalf("unexpected result: %v", gotVals)
	}
}

func TestAcceleratorFailOpsInjection(t *testing.T) {
	m := addModel([]uint32{2})
	acc := NewAccelerator("accel-0", "1.0")
	acc.FailOps[graph.OpAdd] = true
	artifact, perr := acc.Prepare(context.Background(), m, PrepareOptions{})
	if perr != nil {
		t.Fatalf("prepare failed: %v", perr)
	}
	resp := acc.Execute(context.Background(), artifact, ExecutionRequest{
		Inputs: []Buffer{
			NewOpaqueBuffer([]uint32{2}, f32Bytes(1, 2)),
			NewOpaqueBuffer([]uint32{2}, f32Bytes(3, 4)),
		},
	})
	if resp.Status != StatusOpFailed {
		t.Fatalf("expected StatusOpFailed, got %v", resp.Status)
	}
}

func TestInferShapeFromByteLenSingleUnknownDim(t *testing.T) {
	shape := inferShapeFromByteLen([]uint32{0, 3}, 4, 4*6)
	if len(shape) != 2 || shape[0] != 2 || shape[1] != 3 {
		t.Fatalf("unexpected inferred shape: %v", shape)
	}
}

func TestMaterializeToHostCopiesOpaqueBytes(t *testing.T) {
	buf := NewOpaqueBuffer([]uint32{1}, f32Bytes(math.Pi))
	host := buf.MaterializeToHost()
	if host.Opaque {
		t.Fatal("materialized buffer should not be opaque")
	}
	b, err := host.HostBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decodeFloat32s(b)[0] != float32(math.Pi) {
		t.Fatalf("unexpected materialized value: %v", decodeFloat32s(b))
	}
}
