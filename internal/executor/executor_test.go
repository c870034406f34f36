package executor

import (
	"context"
	"math"
	"testing"

	"github.com/reach-systems/planrt/internal/controller"
	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/plan"
)

func addModel() *graph.Model {
	shape := []uint32{2}
	m := &graph.Model{
		Main: graph.SubGraph{
			Operands: []graph.Operand{
				{Type: graph.ElementTypeTensorFloat32, Shape: shape, Lifetime: graph.LifetimeModelInput},
				{Type: graph.ElementTypeTensorFloat32, Shape: shape, Lifetime: graph.LifetimeModelInput},
				{Type: graph.ElementTypeTensorFloat32, Shape: shape, Lifetime: graph.LifetimeModelOutput},
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

func float32Bytes(vals ...float32) []byte {
	out := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		b := make([]byte, 4)
		bits := math.Float32bits(v)
		b[0] = byte(bits)
		b[1] = byte(bits >> 8)
		b[2] = byte(bits >> 16)
		b[3] = byte(bits >> 24)
		out = append(out, b...)
	}
	return out
}

func newStep(model *graph.Model, d device.Device, ctrl *controller.Controller, inA, inB, out graph.SourceOperandIndex) *plan.ExecutionStep {
	artifact, err := d.Prepare(context.Background(), model, device.PrepareOptions{})
	if err != nil {
		panic(err)
	}
	ctrl.BindExternalInput(inA, 0)
	ctrl.BindExternalInput(inB, 1)
	ctrl.BindExternalOutput(out, 0)
	return &plan.ExecutionStep{
		StepModel: model,
		Device:    d,
		Artifact:  artifact,
		Inputs: []plan.BoundaryRef{
			{Kind: plan.BoundaryMainInput, Source: inA},
			{Kind: plan.BoundaryMainInput, Source: inB},
		},
		Outputs: []plan.BoundaryRef{{Kind: plan.BoundaryMainOutput, Source: out}},
	}
}

func TestRunSucceedsOnThePrimaryDevice(t *testing.T) {
	model := addModel()
	accel := device.NewAccelerator("accel-0", "1.0")
	ctrl := controller.New(plan.NewEmpty(), 0)

	inA := graph.SourceOperandIndex{SubgraphIndex: 0, OperandIndex: 0}
	inB := graph.SourceOperandIndex{SubgraphIndex: 0, OperandIndex: 1}
	out := graph.SourceOperandIndex{SubgraphIndex: 0, OperandIndex: 2}
	step := newStep(model, accel, ctrl, inA, inB, out)

	ctrl.BindExternalBuffers(
		[]device.Buffer{device.NewHostBuffer(nil, float32Bytes(1, 2)), device.NewHostBuffer(nil, float32Bytes(10, 20))},
		[]device.Buffer{device.NewHostBuffer(nil, make([]byte, 8))},
	)

	e := New(ctrl, step, Options{Mode: device.PartitioningWithFallback, Catalogue: mustCatalogue(t, accel)})
	resp, fence, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != device.StatusOK {
		t.Fatalf("expected StatusOK, got %v", resp.Status)
	}
	if fence == nil {
		t.Fatal("expected a resolved fence")
	}
	if ctrl.ExternalOutputBuffers[0].Opaque {
		t.Fatal("accelerator output should have been materialized into the bound host buffer")
	}
}

func TestRunFallsBackWhenPrimaryDeviceRejectsExecution(t *testing.T) {
	model := addModel()
	accel := device.NewAccelerator("accel-0", "1.0")
	accel.FailOps[graph.OpAdd] = true
	ctrl := controller.New(plan.NewEmpty(), 0)

	inA := graph.SourceOperandIndex{SubgraphIndex: 0, OperandIndex: 0}
	inB := graph.SourceOperandIndex{SubgraphIndex: 0, OperandIndex: 1}
	out := graph.SourceOperandIndex{SubgraphIndex: 0, OperandIndex: 2}
	step := newStep(model, accel, ctrl, inA, inB, out)

	ctrl.BindExternalBuffers(
		[]device.Buffer{device.NewHostBuffer(nil, float32Bytes(1, 2)), device.NewHostBuffer(nil, float32Bytes(10, 20))},
		[]device.Buffer{device.NewHostBuffer(nil, make([]byte, 8))},
	)

	cat := mustCatalogue(t, accel)
	e := New(ctrl, step, Options{Mode: device.PartitioningWithFallback, Catalogue: cat})
	resp, _, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != device.StatusOK {
		t.Fatalf("expected the fallback retry to succeed, got %v", resp.Status)
	}
	if step.Device.Name() != cat.Fallback().Name() {
		t.Fatalf("expected the step to be reassigned to the fallback device, got %s", step.Device.Name())
	}
}

func TestRunWithoutFallbackPropagatesDeviceFailure(t *testing.T) {
	model := addModel()
	accel := device.NewAccelerator("accel-0", "1.0")
	accel.FailOps[graph.OpAdd] = true
	ctrl := controller.New(plan.NewEmpty(), 0)

	inA := graph.SourceOperandIndex{SubgraphIndex: 0, OperandIndex: 0}
	inB := graph.SourceOperandIndex{SubgraphIndex: 0, OperandIndex: 1}
	out := graph.SourceOperandIndex{SubgraphIndex: 0, OperandIndex: 2}
	step := newStep(model, accel, ctrl, inA, inB, out)

	ctrl.BindExternalBuffers(
		[]device.Buffer{device.NewHostBuffer(nil, float32Bytes(1, 2)), device.NewHostBuffer(nil, float32Bytes(10, 20))},
		[]device.Buffer{device.NewHostBuffer(nil, make([]byte, 8))},
	)

	e := New(ctrl, step, Options{Mode: device.PartitioningWithoutFallback, Catalogue: mustCatalogue(t, accel)})
	_, _, err := e.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected an error when fallback is not permitted and the device rejects execution")
	}
}

func mustCatalogue(t *testing.T, devices ...device.Device) *device.Catalogue {
	t.Helper()
	cat, err := device.NewCatalogue(device.NewCPUFallback(), devices...)
	if err != nil {
		t.Fatalf("unexpected error building catalogue: %v", err)
	}
	return cat
}
