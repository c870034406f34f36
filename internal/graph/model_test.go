package graph

import (
	"testing"

	"github.com/reach-systems/planrt/internal/planerr"
)

func twoAddModel() *Model {
	return &Model{
		Main: SubGraph{
			Operands: []Operand{
				{Type: ElementTypeTensorFloat32, Shape: []uint32{4}, Lifetime: LifetimeModelInput},
				{Type: ElementTypeTensorFloat32, Shape: []uint32{4}, Lifetime: LifetimeModelInput},
				{Type: ElementTypeTensorFloat32, Shape: []uint32{4}, Lifetime: LifetimeTemporary},
				{Type: ElementTypeTensorFloat32, Shape: []uint32{4}, Lifetime: LifetimeModelInput},
				{Type: ElementTypeTensorFloat32, Shape: []uint32{4}, Lifetime: LifetimeModelOutput},
			},
			Operations: []Operation{
				{Type: OpAdd, Inputs: []int{0, 1}, Outputs: []int{2}},
				{Type: OpAdd, Inputs: []int{2, 3}, Outputs: []int{4}},
			},
			Inputs:  []int{0, 1, 3},
			Outputs: []int{4},
		},
	}
}

func TestFinishTwiceRejected(t *testing.T) {
	m := twoAddModel()
	if err := m.Finish(); err != nil {
		t.Fatalf("unexpected error on first finish: %v", err)
	}
	err := m.Finish()
	if err == nil {
		t.Fatal("expected second Finish to fail")
	}
	if err.Code != planerr.CodeBadState {
		t.Errorf("expected CodeBadState, got %s", err.Code)
	}
}

func TestFinishRejectsOutOfRangeOperandIndex(t *testing.T) {
	m := twoAddModel()
	m.Main.Operations[0].Inputs[0] = 99
	err := m.Finish()
	if err == nil || err.Code != planerr.CodeBadData {
		t.Fatalf("expected CodeBadData for out-of-range input, got %v", err)
	}
}

func TestFinishRejectsBadConstantLength(t *testing.T) {
	m := twoAddModel()
	m.Main.Operands[0] = Operand{
		Type:     ElementTypeTensorFloat32,
		Shape:    []uint32{4},
		Lifetime: LifetimeConstantCopy,
		Location: Location{InlineConstant: []byte{1, 2, 3}}, // want 16 bytes
	}
	err := m.Finish()
	if err == nil || err.Code != planerr.CodeBadData {
		t.Fatalf("expected CodeBadData for constant size mismatch, got %v", err)
	}
}

func TestIsFullySpecifiedAndByteSize(t *testing.T) {
	known := Operand{Type: ElementTypeTensorFloat32, Shape: []uint32{1, 4}}
	if !known.IsFullySpecified() {
		t.Error("expected fully specified")
	}
	if known.ByteSize() != 16 {
		t.Errorf("expected 16 bytes, got %d", known.ByteSize())
	}

	unknown := Operand{Type: ElementTypeTensorFloat32, Shape: []uint32{1, 0}}
	if unknown.IsFullySpecified() {
		t.Error("expected not fully specified")
	}
	if unknown.ByteSize() != -1 {
		t.Errorf("expected -1 for unknown shape, got %d", unknown.ByteSize())
	}
}

func TestHasUnknownSizedOperand(t *testing.T) {
	sg := SubGraph{
		Operands: []Operand{
			{Type: ElementTypeTensorFloat32, Shape: []uint32{0}},
			{Type: ElementTypeTensorFloat32, Shape: []uint32{4}},
		},
	}
	op := Operation{Inputs: []int{0}, Outputs: []int{1}}
	if !HasUnknownSizedOperand(sg, op) {
		t.Error("expected unknown-sized operand to be detected")
	}
}
