package cachetoken

import (
	"testing"

	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
)

func sampleModel() *graph.Model {
	m := &graph.Model{
		Main: graph.SubGraph{
			Operands: []graph.Operand{
				{Type: graph.ElementTypeTensorFloat32, Shape: []uint32{2}, Lifetime: graph.LifetimeModelInput, Location: graph.Location{ModelIOIndex: 0}},
				{Type: graph.ElementTypeTensorFloat32, Shape: []uint32{2}, Lifetime: graph.LifetimeModelInput, Location: graph.Location{ModelIOIndex: 1}},
				{Type: graph.ElementTypeTensorFloat32, Shape: []uint32{2}, Lifetime: graph.LifetimeModelOutput, Location: graph.Location{ModelIOIndex: 0}},
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

func baseMaterial() Material {
	return Material{
		ClientToken:   []byte("client-xyz"),
		DeviceName:    "accel-0",
		DeviceVersion: "1.0",
		Preference:    device.PreferFastSingleAnswer,
		Priority:      device.PriorityDefault,
		SubgraphIndex: 0,
		OperationIdxs: []int{0},
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	m := sampleModel()
	a := Compute(m, baseMaterial())
	b := Compute(m, baseMaterial())
	if a != b {
		t.Fatalf("expected identical tokens for identical inputs, got %s vs %s", a, b)
	}
}

func TestComputeOperationOrderIndependent(t *testing.T) {
	m := sampleModel()
	mat1 := baseMaterial()
	mat1.OperationIdxs = []int{2, 0, 1}
	mat2 := baseMaterial()
	mat2.OperationIdxs = []int{0, 1, 2}
	if Compute(m, mat1) != Compute(m, mat2) {
		t.Fatal("operation index order should not affect the token")
	}
}

func TestComputeDiffersOnDeviceIdentity(t *testing.T) {
	m := sampleModel()
	base := baseMaterial()
	other := baseMaterial()
	other.DeviceName = "accel-1"
	if Compute(m, base) == Compute(m, other) {
		t.Fatal("expected different tokens for different device identity")
	}
}

func TestComputeDiffersOnPreferenceAndPriority(t *testing.T) {
	m := sampleModel()
	base := baseMaterial()
	diffPref := baseMaterial()
	diffPref.Preference = device.PreferLowPower
	if Compute(m, base) == Compute(m, diffPref) {
		t.Fatal("expected different tokens for different preference")
	}

	diffPrio := baseMaterial()
	diffPrio.Priority = device.PriorityHigh
	if Compute(m, base) == Compute(m, diffPrio) {
		t.Fatal("expected different tokens for different priority")
	}
}

func TestComputeDiffersOnStepModelContent(t *testing.T) {
	m1 := sampleModel()
	m2 := sampleModel()
	m2.Main.Operations[0].Type = graph.OpMul
	if Compute(m1, baseMaterial()) == Compute(m2, baseMaterial()) {
		t.Fatal("expected different tokens for different step model content")
	}
}

func TestComputeDiffersOnClientToken(t *testing.T) {
	m := sampleModel()
	base := baseMaterial()
	other := baseMaterial()
	other.ClientToken = []byte("different")
	if Compute(m, base) == Compute(m, other) {
		t.Fatal("expected different tokens for different client token")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	tok := Compute(sampleModel(), baseMaterial())
	if s.Has(tok) {
		t.Fatal("expected empty store to miss")
	}
	s.Put(tok, "artifact-handle")
	if !s.Has(tok) {
		t.Fatal("expected store to have token after Put")
	}
	v, ok := s.Get(tok)
	if !ok || v != "artifact-handle" {
		t.Fatalf("unexpected stored value: %v, %v", v, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("expected length 1, got %d", s.Len())
	}
}

func TestTokenStringIsHex(t *testing.T) {
	tok := Compute(sampleModel(), baseMaterial())
	if len(tok.String()) != 64 {
		t.Fatalf("expected 64 hex chars for 32-byte token, got %d", len(tok.String()))
	}
	if tok.IsZero() {
		t.Fatal("computed token should not be zero")
	}
}
