package plan

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/reach-systems/planrt/internal/cachetoken"
	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
)

func TestExecutionPlanDumpEmpty(t *testing.T) {
	if got := NewEmpty().Dump(); got != "ExecutionPlan{kind=empty}" {
		t.Fatalf("unexpected dump: %q", got)
	}
}

func TestExecutionPlanDumpSimple(t *testing.T) {
	p := NewSimple(nil, device.PreparedArtifact{}, cachetoken.Token{})
	if got := p.Dump(); got != "ExecutionPlan{kind=simple device=<nil>}" {
		t.Fatalf("unexpected dump: %q", got)
	}
}

func TestExecutionPlanDumpCompoundListsEveryStepInOrder(t *testing.T) {
	p := NewCompoundBuilder(&graph.Model{})
	p.Steps = append(p.Steps,
		&ExecutionStep{SourceSubgraph: 0, SourceOperations: []int{0}},
		&IfStep{ThenStepIndex: 2, ElseStepIndex: 3},
		&WhileStep{CondStepIndex: 4, BodyStepIndex: 5, ExitStepIndex: 6},
		&GotoStep{Target: 0},
	)
	p.Finish()

	got := p.Dump()
	for _, want := range []string{"kind=compound steps=4", "ExecutionStep{", "IfStep{", "WhileStep{", "GotoStep{target=0}"} {
		if !strings.Contains(got, want) {
			t.Fatalf("dump missing %q; got:\n%s", want, got)
		}
	}
}

func TestExecutionPlanLogToWritesDumpThroughLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	NewEmpty().LogTo(logger)

	if !strings.Contains(buf.String(), "ExecutionPlan{kind=empty}") {
		t.Fatalf("expected logged dump, got %q", buf.String())
	}
}

func TestExecutionPlanLogToIsNilSafe(t *testing.T) {
	NewEmpty().LogTo(nil)
}
