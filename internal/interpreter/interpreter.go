// Package interpreter implements the ExecutionPlan driver of §4.2: the
// next() advancement engine that walks a compound plan's LogicalSteps,
// resolves IF/WHILE/GOTO control flow against the controller's state, and
// hands back a StepExecutor for the caller to dispatch. Grounded
// structurally on the teacher's internal/jobs DAGExecutor.ExecuteGraph
// driver loop (iterate nodes, dispatch by type, accumulate state) —
// generalized from a single forward pass over named nodes into the spec's
// indexable, loop-and-branch-aware linear program.
package interpreter

import (
	"context"
	"time"

	"github.com/reach-systems/planrt/internal/controller"
	"github.com/reach-systems/planrt/internal/executor"
	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/plan"
	"github.com/reach-systems/planrt/internal/planerr"
)

// Outcome tags what Next returned.
type Outcome int

const (
	OutcomeExecutor Outcome = iota
	OutcomeDone
)

// Result is Next's return value: either a ready-to-dispatch StepExecutor
// or a Done signal.
type Result struct {
	Outcome  Outcome
	Executor *executor.StepExecutor
}

// loopTimeoutDefault and loopTimeoutMax are the defaults of §6.
const (
	loopTimeoutDefault = 2 * time.Second
	loopTimeoutMax     = 15 * time.Second
)

// ClampLoopTimeout enforces the hard maximum of §6: requested values above
// it are clamped, not rejected.
func ClampLoopTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return loopTimeoutDefault
	}
	if requested > loopTimeoutMax {
		return loopTimeoutMax
	}
	return requested
}

// simpleModelSubgraph is the synthetic sub-graph index used to key a
// simple plan's external input/output SourceOperandIndex entries; a simple
// plan has no per-operand sub-graph identity of its own since the whole
// model dispatches as one opaque unit.
const simpleModelSubgraph = -1

// Next advances ctrl by exactly one observable step, per the plan-kind
// dispatch of §4.2.
func Next(ctrl *controller.Controller, opts executor.Options) (Result, *planerr.PlanError) {
	if ctrl.IsDone() {
		return Result{Outcome: OutcomeDone}, nil
	}

	// Seed the execution's deadline/loop-timeout on its first Next call;
	// later calls reuse what was already recorded on ctrl rather than
	// re-reading opts, so a caller varying opts.Deadline across repeated
	// calls can never push a deadline back out.
	if ctrl.LoopTimeout == 0 {
		ctrl.LoopTimeout = ClampLoopTimeout(opts.LoopTimeout)
	}
	if ctrl.Deadline == nil {
		ctrl.Deadline = opts.Deadline
	}

	switch ctrl.Plan.Kind() {
	case plan.KindEmpty:
		ctrl.MarkDone()
		return Result{Outcome: OutcomeDone}, nil

	case plan.KindSimple:
		return nextSimple(ctrl, opts)

	default:
		return dispatch(ctrl, opts)
	}
}

func nextSimple(ctrl *controller.Controller, opts executor.Options) (Result, *planerr.PlanError) {
	if ctrl.NextStepIndex > 0 {
		ctrl.MarkDone()
		return Result{Outcome: OutcomeDone}, nil
	}
	ctrl.NextStepIndex = 1

	d, artifact, token := ctrl.Plan.Simple()
	step := &plan.ExecutionStep{StepModel: artifact.StepModel, Device: d, Artifact: artifact, CacheToken: token}

	for i := range ctrl.ExternalInputBuffers {
		idx := graph.SourceOperandIndex{SubgraphIndex: simpleModelSubgraph, OperandIndex: i}
		ctrl.BindExternalInput(idx, i)
		step.Inputs = append(step.Inputs, plan.BoundaryRef{Kind: plan.BoundaryMainInput, Source: idx})
	}
	for i := range ctrl.ExternalOutputBuffers {
		idx := graph.SourceOperandIndex{SubgraphIndex: simpleModelSubgraph, OperandIndex: -(i + 1)}
		ctrl.BindExternalOutput(idx, i)
		step.Outputs = append(step.Outputs, plan.BoundaryRef{Kind: plan.BoundaryMainOutput, Source: idx})
	}
	return Result{Outcome: OutcomeExecutor, Executor: executor.New(ctrl, step, opts)}, nil
}

// dispatch handles a compound plan's current LogicalStep, recursing (per
// §4.2 "re-invoke dispatch logic") when IF/WHILE/GOTO advancement lands on
// another control-flow step rather than an ExecutionStep.
func dispatch(ctrl *controller.Controller, opts executor.Options) (Result, *planerr.PlanError) {
	if ctrl.NextStepIndex < 0 || ctrl.NextStepIndex >= len(ctrl.Plan.Steps) {
		ctrl.MarkDone()
		return Result{Outcome: OutcomeDone}, nil
	}

	// §5: a whole-execution deadline overrun discovered while the
	// interpreter is driving control flow terminates the execution with a
	// non-fallback-recoverable missed-deadline-transient status, distinct
	// from a per-step device deadline miss (which fallback may recover).
	if ctrl.PastDeadline() {
		ctrl.MarkDone()
		return Result{}, planerr.New(planerr.CodeMissedDeadlineTransient, "execution deadline exceeded").SetRetryable(false)
	}

	step := ctrl.Plan.Steps[ctrl.NextStepIndex]

	switch s := step.(type) {
	case *plan.ExecutionStep:
		ctrl.FallbackNextStepIndex = ctrl.NextStepIndex
		ctrl.NextStepIndex++
		return Result{Outcome: OutcomeExecutor, Executor: executor.New(ctrl, s, opts)}, nil

	case *plan.IfStep:
		if err := advanceIf(ctrl, s); err != nil {
			return Result{}, err
		}
		return dispatch(ctrl, opts)

	case *plan.WhileStep:
		// advanceWhile repositions NextStepIndex to the cond/body sub-plan
		// (or, on exit, to exitStepIndex) before returning; either way
		// dispatch recurses into whatever step that now points at.
		if _, err := advanceWhile(ctrl, s, ctrl.NextStepIndex); err != nil {
			return Result{}, err
		}
		return dispatch(ctrl, opts)

	case *plan.GotoStep:
		ctrl.NextStepIndex = s.Target
		return dispatch(ctrl, opts)

	default:
		return Result{}, planerr.New(planerr.CodeInternal, "unknown logical step variant")
	}
}

// advanceIf implements §4.2's IfStep advancement: wait on the previous
// fence, read the condition, alias outer input/output locations to the
// chosen branch, and jump to its first step.
func advanceIf(ctrl *controller.Controller, s *plan.IfStep) *planerr.PlanError {
	if err := waitPrevious(ctrl); err != nil {
		return err
	}
	cond, err := readBool(ctrl, s.Condition)
	if err != nil {
		return err
	}

	branchInputs, branchOutputs, target := s.ThenInputs, s.ThenOutputs, s.ThenStepIndex
	if !cond {
		branchInputs, branchOutputs, target = s.ElseInputs, s.ElseOutputs, s.ElseStepIndex
	}

	for i, outer := range s.OuterInputs {
		if i >= len(branchInputs) {
			break
		}
		if err := ctrl.Alias(branchInputs[i], outer); err != nil {
			return err
		}
	}
	for i, outer := range s.OuterOutputs {
		if i >= len(branchOutputs) {
			break
		}
		if err := ctrl.Alias(branchOutputs[i], outer); err != nil {
			return err
		}
	}

	ctrl.NextStepIndex = target
	return nil
}

// advanceWhile implements §4.2's per-iteration WhileStep state machine.
// Returns true once the loop has exited and nextStepIndex has been set to
// exitStepIndex; false while it is still driving condition/body steps.
func advanceWhile(ctrl *controller.Controller, s *plan.WhileStep, stepIndex int) (bool, *planerr.PlanError) {
	ls := ctrl.LoopState(stepIndex)

	switch ls.Stage {
	case controller.StageEvaluateCondition:
		if ls.IsOutsideLoop() {
			ls.Iteration = 0
			ls.StartedAt = time.Now()
			for i, outer := range s.OuterInputs {
				if i >= len(s.CondInputs) {
					break
				}
				if err := ctrl.Alias(s.CondInputs[i], outer); err != nil {
					return false, err
				}
			}
		} else {
			for i, bodyOut := range s.BodyOutputs {
				if i >= len(s.CondInputs) {
					break
				}
				if err := ctrl.Alias(s.CondInputs[i], bodyOut); err != nil {
					return false, err
				}
			}
		}
		ls.Stage = controller.StageEvaluateBody
		ctrl.NextStepIndex = s.CondStepIndex
		return false, nil

	case controller.StageEvaluateBody:
		if err := waitPrevious(ctrl); err != nil {
			return false, err
		}
		cond, err := readBool(ctrl, s.CondOutput)
		if err != nil {
			return false, err
		}
		if cond {
			if time.Now().Sub(ls.StartedAt) > ctrl.LoopTimeout {
				ctrl.MarkDone()
				return false, planerr.New(planerr.CodeMissedDeadlineTransient, "WHILE loop exceeded its timeout").SetRetryable(false)
			}
			for i, condIn := range s.CondInputs {
				if i >= len(s.BodyInputs) {
					break
				}
				if err := ctrl.Alias(s.BodyInputs[i], condIn); err != nil {
					return false, err
				}
			}
			if ls.Iteration > 0 {
				for _, out := range s.BodyOutputs {
					ctrl.SwapPrimarySecondary(out)
				}
			}
			ls.Iteration++
			ls.Stage = controller.StageEvaluateCondition
			ctrl.NextStepIndex = s.BodyStepIndex
			return false, nil
		}

		for i, outer := range s.OuterOutputs {
			if i >= len(s.CondInputs) {
				break
			}
			if err := ctrl.Alias(outer, s.CondInputs[i]); err != nil {
				return false, err
			}
		}
		ls.Iteration = -1
		ls.Stage = controller.StageEvaluateCondition
		ctrl.NextStepIndex = s.ExitStepIndex
		return true, nil
	}
	return false, planerr.New(planerr.CodeInternal, "unknown WHILE loop stage")
}

func waitPrevious(ctrl *controller.Controller) *planerr.PlanError {
	if ctrl.LastFence == nil {
		return nil
	}
	return ctrl.LastFence.Wait(context.Background())
}

func readBool(ctrl *controller.Controller, idx graph.SourceOperandIndex) (bool, *planerr.PlanError) {
	resolved, err := ctrl.Resolve(idx)
	if err != nil {
		return false, err
	}
	var data []byte
	switch resolved.Kind {
	case controller.LocationArenaPrimary:
		data = ctrl.ArenaBytes(resolved.ArenaOffset, resolved.ArenaSize)
	case controller.LocationExternalInput:
		data, err = ctrl.ExternalInputBuffers[resolved.ExternalIndex].HostBytes()
	case controller.LocationExternalOutput:
		data, err = ctrl.ExternalOutputBuffers[resolved.ExternalIndex].HostBytes()
	case controller.LocationConstantInline:
		data = resolved.InlineBytes
	default:
		return false, planerr.Newf(planerr.CodeBadState, "condition operand %+v has no readable location", idx)
	}
	if err != nil {
		return false, err
	}
	return len(data) > 0 && data[0] != 0, nil
}
