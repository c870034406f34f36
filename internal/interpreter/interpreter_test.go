package interpreter

import (
	"testing"
	"time"

	"github.com/reach-systems/planrt/internal/cachetoken"
	"github.com/reach-systems/planrt/internal/controller"
	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/executor"
	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/plan"
)

func TestNextOnEmptyPlanIsImmediatelyDone(t *testing.T) {
	ctrl := controller.New(plan.NewEmpty(), 0)
	res, err := Next(ctrl, executor.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeDone {
		t.Fatalf("expected OutcomeDone, got %v", res.Outcome)
	}
	if !ctrl.IsDone() {
		t.Fatal("expected the controller to be marked done")
	}
}

func TestNextOnSimplePlanRunsOnceThenDone(t *testing.T) {
	model := &graph.Model{}
	p := plan.NewSimple(nil, device.PreparedArtifact{StepModel: model}, cachetoken.Token{})
	ctrl := controller.New(p, 0)
	ctrl.BindExternalBuffers(nil, nil)

	res, err := Next(ctrl, executor.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeExecutor {
		t.Fatalf("expected OutcomeExecutor on first call, got %v", res.Outcome)
	}

	res, err = Next(ctrl, executor.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeDone {
		t.Fatal("expected a simple plan to be done after its single step")
	}
}

func TestDispatchFollowsGotoToAnExecutionStep(t *testing.T) {
	model := graph.Model{}
	execStep := &plan.ExecutionStep{StepModel: &model}
	p := plan.NewCompoundBuilder(&model)
	p.Steps = []plan.LogicalStep{&plan.GotoStep{Target: 1}, execStep}
	p.Finish()

	ctrl := controller.New(p, 0)
	res, err := Next(ctrl, executor.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeExecutor {
		t.Fatalf("expected OutcomeExecutor, got %v", res.Outcome)
	}
	if res.Executor.Step != execStep {
		t.Fatal("expected the dispatcher to land on the ExecutionStep the GotoStep targets")
	}
	if ctrl.NextStepIndex != 2 {
		t.Fatalf("expected NextStepIndex to advance past the execution step, got %d", ctrl.NextStepIndex)
	}
	if ctrl.FallbackNextStepIndex != 1 {
		t.Fatalf("expected FallbackNextStepIndex to record the execution step's own index, got %d", ctrl.FallbackNextStepIndex)
	}
}

func TestDispatchPastEndOfStepsIsDone(t *testing.T) {
	model := graph.Model{}
	p := plan.NewCompoundBuilder(&model)
	p.Steps = []plan.LogicalStep{&plan.GotoStep{Target: 0}}
	p.Finish()
	ctrl := controller.New(p, 0)
	ctrl.NextStepIndex = 5

	res, err := Next(ctrl, executor.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeDone {
		t.Fatalf("expected OutcomeDone once NextStepIndex runs past the step list, got %v", res.Outcome)
	}
}

func TestClampLoopTimeout(t *testing.T) {
	if got := ClampLoopTimeout(0); got != loopTimeoutDefault {
		t.Fatalf("expected the default for a non-positive request, got %v", got)
	}
	if got := ClampLoopTimeout(30 * time.Second); got != loopTimeoutMax {
		t.Fatalf("expected clamping to the max, got %v", got)
	}
	if got := ClampLoopTimeout(5 * time.Second); got != 5*time.Second {
		t.Fatalf("expected an in-range request to pass through unchanged, got %v", got)
	}
}
