package partition

import (
	"context"
	"testing"

	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/plan"
)

func tensorOperand(lifetime graph.Lifetime) graph.Operand {
	return graph.Operand{Type: graph.ElementTypeTensorFloat32, Shape: []uint32{2}, Lifetime: lifetime}
}

func finish(t *testing.T, m *graph.Model) *graph.Model {
	t.Helper()
	if err := m.Finish(); err != nil {
		t.Fatalf("unexpected error finishing model: %v", err)
	}
	return m
}

func TestPartitionOfEmptyModelReturnsEmptyPlan(t *testing.T) {
	m := finish(t, &graph.Model{})
	accel := device.NewAccelerator("accel-0", "1.0")
	fallback := device.NewCPUFallback()
	p := New(Options{Devices: []device.Device{accel, fallback}, Mode: device.PartitioningWithFallback})

	result, err := p.Partition(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != plan.KindEmpty {
		t.Fatalf("expected KindEmpty, got %v", result.Kind())
	}
}

func TestPartitionFastPathProducesASimplePlanWhenOneDeviceCoversEveryOp(t *testing.T) {
	m := &graph.Model{
		Main: graph.SubGraph{
			Operands: []graph.Operand{
				tensorOperand(graph.LifetimeModelInput),
				tensorOperand(graph.LifetimeModelInput),
				tensorOperand(graph.LifetimeModelOutput),
			},
			Operations: []graph.Operation{{Type: graph.OpAdd, Inputs: []int{0, 1}, Outputs: []int{2}}},
			Inputs:     []int{0, 1},
			Outputs:    []int{2},
		},
	}
	finish(t, m)

	accel := device.NewAccelerator("accel-0", "1.0")
	fallback := device.NewCPUFallback()
	p := New(Options{Devices: []device.Device{accel, fallback}, Mode: device.PartitioningWithFallback})

	result, err := p.Partition(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != plan.KindSimple {
		t.Fatalf("expected KindSimple, got %v", result.Kind())
	}
	d, _, _ := result.Simple()
	if d.Name() != accel.Name() {
		t.Fatalf("expected the sole capable device to be chosen, got %s", d.Name())
	}
}

func TestPartitionSplitsAcrossTwoDevicesWhenNoSingleDeviceCoversEveryOp(t *testing.T) {
	// ADD(a,b)->t then SUB(t,c)->out. Accelerator never supports SUB, so
	// the model cannot take the fast path and must split across devices.
	m := &graph.Model{
		Main: graph.SubGraph{
			Operands: []graph.Operand{
				tensorOperand(graph.LifetimeModelInput),
				tensorOperand(graph.LifetimeModelInput),
				tensorOperand(graph.LifetimeModelInput),
				tensorOperand(graph.LifetimeTemporary),
				tensorOperand(graph.LifetimeModelOutput),
			},
			Operations: []graph.Operation{
				{Type: graph.OpAdd, Inputs: []int{0, 1}, Outputs: []int{3}},
				{Type: graph.OpSub, Inputs: []int{3, 2}, Outputs: []int{4}},
			},
			Inputs:  []int{0, 1, 2},
			Outputs: []int{4},
		},
	}
	finish(t, m)

	accel := device.NewAccelerator("accel-0", "1.0")
	dsp := device.NewDSP("dsp-0", "1.0")
	fallback := device.NewCPUFallback()
	p := New(Options{Devices: []device.Device{accel, dsp, fallback}, Mode: device.PartitioningWithFallback})

	result, err := p.Partition(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != plan.KindCompound {
		t.Fatalf("expected KindCompound given no device covers every op, got %v", result.Kind())
	}
	if result.StepCount() == 0 {
		t.Fatal("expected at least one step in the compound plan")
	}

	sawAccel, sawDSP := false, false
	for _, step := range result.Steps {
		es, ok := step.(*plan.ExecutionStep)
		if !ok {
			continue
		}
		switch es.Device.Name() {
		case accel.Name():
			sawAccel = true
		case dsp.Name():
			sawDSP = true
		}
	}
	if !sawAccel || !sawDSP {
		t.Fatalf("expected steps on both accelerator and dsp, got accel=%v dsp=%v", sawAccel, sawDSP)
	}
}

func TestPartitionFallsBackToFallbackDeviceWhenNoOtherDeviceSupportsTheOp(t *testing.T) {
	m := &graph.Model{
		Main: graph.SubGraph{
			Operands: []graph.Operand{
				tensorOperand(graph.LifetimeModelInput),
				tensorOperand(graph.LifetimeModelInput),
				tensorOperand(graph.LifetimeModelOutput),
			},
			Operations: []graph.Operation{{Type: graph.OpEqual, Inputs: []int{0, 1}, Outputs: []int{2}}},
			Inputs:     []int{0, 1},
			Outputs:    []int{2},
		},
	}
	finish(t, m)

	// Accelerator supports neither ADD/MUL's sibling OpEqual, so only the
	// fallback can run this model: still a valid fast path, just on the
	// fallback device.
	accel := device.NewAccelerator("accel-0", "1.0")
	fallback := device.NewCPUFallback()
	p := New(Options{Devices: []device.Device{accel, fallback}, Mode: device.PartitioningWithFallback})

	result, err := p.Partition(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != plan.KindSimple {
		t.Fatalf("expected KindSimple, got %v", result.Kind())
	}
	d, _, _ := result.Simple()
	if d.Name() != fallback.Name() {
		t.Fatalf("expected the fallback device to be chosen, got %s", d.Name())
	}
}

func TestPartitionRequiresAtLeastOneDevice(t *testing.T) {
	m := finish(t, &graph.Model{})
	p := New(Options{})
	if _, err := p.Partition(context.Background(), m); err == nil {
		t.Fatal("expected an error with no devices configured")
	}
}

func TestPartitionRejectsAnUnfinishedModel(t *testing.T) {
	m := &graph.Model{}
	p := New(Options{Devices: []device.Device{device.NewCPUFallback()}})
	if _, err := p.Partition(context.Background(), m); err == nil {
		t.Fatal("expected an error partitioning a model that was never Finish()ed")
	}
}
