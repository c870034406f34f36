package plan

import (
	"testing"

	"github.com/reach-systems/planrt/internal/cachetoken"
	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
)

func TestNewEmptyIsFinishedAndHasNoSteps(t *testing.T) {
	p := NewEmpty()
	if p.Kind() != KindEmpty {
		t.Fatalf("expected KindEmpty, got %v", p.Kind())
	}
	if !p.IsFinished() {
		t.Fatal("NewEmpty should already be finished")
	}
	if p.StepCount() != 0 {
		t.Fatalf("expected 0 steps, got %d", p.StepCount())
	}
}

func TestNewSimpleRoundTripsItsFields(t *testing.T) {
	artifact := device.PreparedArtifact{DeviceName: "accel-0"}
	tok := cachetoken.Token{1, 2, 3}
	p := NewSimple(nil, artifact, tok)
	if p.Kind() != KindSimple {
		t.Fatalf("expected KindSimple, got %v", p.Kind())
	}
	if !p.IsFinished() {
		t.Fatal("NewSimple should already be finished")
	}
	d, a, gotTok := p.Simple()
	if d != nil || a.DeviceName != "accel-0" || gotTok != tok {
		t.Fatalf("unexpected simple fields: %v %v %v", d, a, gotTok)
	}
}

func TestCompoundBuilderStartsUnfinishedAndFinishLocks(t *testing.T) {
	m := &graph.Model{}
	p := NewCompoundBuilder(m)
	if p.Kind() != KindCompound {
		t.Fatalf("expected KindCompound, got %v", p.Kind())
	}
	if p.IsFinished() {
		t.Fatal("a freshly built compound plan should not be finished yet")
	}
	p.Steps = append(p.Steps, &GotoStep{Target: 0})
	p.Finish()
	if !p.IsFinished() {
		t.Fatal("Finish should mark the plan finished")
	}
	if p.StepCount() != 1 {
		t.Fatalf("expected 1 step, got %d", p.StepCount())
	}
}

func TestLogicalStepKindTagging(t *testing.T) {
	cases := []struct {
		step LogicalStep
		want StepKind
	}{
		{&ExecutionStep{}, StepKindExecution},
		{&IfStep{}, StepKindIf},
		{&WhileStep{}, StepKindWhile},
		{&GotoStep{}, StepKindGoto},
	}
	for _, c := range cases {
		if got := c.step.Kind(); got != c.want {
			t.Fatalf("expected Kind() %v, got %v", c.want, got)
		}
	}
}
