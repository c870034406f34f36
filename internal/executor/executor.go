// Package executor implements the StepExecutor of §4.3: it packages one
// ExecutionStep's boundary-resolved inputs/outputs into a device-specific
// request, dispatches it (sync or fenced), propagates dynamic output
// shapes, and on a recoverable back-end error rebuilds the step (partial
// fallback) or the remainder of the execution (full fallback) against the
// guaranteed software device. Grounded on the teacher's internal/model
// Registry.GetWithFallback (primary-then-fallback-chain retrieval) —
// generalized from "retry a different provider" to "retry the same
// computation on the fallback back-end, materializing opaque memory first".
package executor

import (
	"context"
	"time"

	"github.com/reach-systems/planrt/internal/cachetoken"
	"github.com/reach-systems/planrt/internal/controller"
	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/plan"
	"github.com/reach-systems/planrt/internal/planerr"
)

// Options carries the compilation/execution options a StepExecutor needs
// to retry work against the fallback device.
type Options struct {
	Mode          device.PartitioningMode
	Preference    device.Preference
	Priority      device.Priority
	ClientToken   []byte
	Catalogue     *device.Catalogue
	MeasureTiming bool

	// Deadline is the whole-execution deadline of §5, threaded into every
	// device.ExecutionRequest this StepExecutor issues.
	Deadline *time.Time

	// LoopTimeout is the caller's requested per-WHILE timeout, already
	// clamped to the hard maximum (§6); zero means "use the default".
	LoopTimeout time.Duration
}

// StepExecutor dispatches a single plan.ExecutionStep.
type StepExecutor struct {
	Controller *controller.Controller
	Step       *plan.ExecutionStep
	Opts       Options
}

// New constructs a StepExecutor bound to step.
func New(ctrl *controller.Controller, step *plan.ExecutionStep, opts Options) *StepExecutor {
	return &StepExecutor{Controller: ctrl, Step: step, Opts: opts}
}

// Run dispatches the step, performing partial/full fallback recovery per
// §4.3 when the device rejects execution and the partitioning mode allows
// it. Dispatch goes through the device's fenced entry point per §5
// Ordering: waitFor is chained into the device call itself (each device's
// ExecuteFenced waits on it before touching the step's buffers) rather
// than blocked on up front, then Run waits on the step's own resulting
// fence so its signature stays synchronous for callers that just want the
// answer.
func (e *StepExecutor) Run(ctx context.Context, waitFor *device.SyncFence) (device.ExecutionResponse, *device.SyncFence, *planerr.PlanError) {
	inputs, outputs, err := e.materialize()
	if err != nil {
		return device.ExecutionResponse{}, nil, err
	}

	req := device.ExecutionRequest{
		Inputs:      inputs,
		Outputs:     outputs,
		Measure:     e.Opts.MeasureTiming,
		Deadline:    e.Opts.Deadline,
		LoopTimeout: e.Opts.LoopTimeout,
	}
	resp, fence := e.Step.Device.ExecuteFenced(ctx, e.Step.Artifact, req, waitFor)
	if fence != nil {
		if werr := fence.Wait(ctx); werr != nil && resp.Err == nil {
			resp.Err = werr
		}
	}

	if resp.Status == device.StatusOutputInsufficientSize {
		e.propagateShapes(resp)
		return resp, fence, resp.Err
	}

	if resp.Status != device.StatusOK || resp.Err != nil {
		return e.recover(ctx, inputs, outputs)
	}

	if perr := e.writeBack(resp, outputs); perr != nil {
		return resp, nil, perr
	}
	e.propagateShapes(resp)
	e.Controller.LastFence = fence
	return resp, fence, nil
}

// AsyncResult is the outcome of a RunAsync dispatch, delivered on its
// channel once the step completes.
type AsyncResult struct {
	Response device.ExecutionResponse
	Fence    *device.SyncFence
	Err      *planerr.PlanError
}

// RunAsync dispatches the step on a background goroutine, the async
// execution mode of §4.3/§5 for callers that do not want to block the
// calling goroutine on Run. The returned channel receives exactly one
// AsyncResult and is then closed.
func (e *StepExecutor) RunAsync(ctx context.Context, waitFor *device.SyncFence) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		resp, fence, perr := e.Run(ctx, waitFor)
		out <- AsyncResult{Response: resp, Fence: fence, Err: perr}
		close(out)
	}()
	return out
}

// BurstHandle is a reusable dispatch handle for repeatedly running the
// same compiled step, grounded on the original runtime's
// ExecutionPlan::makeBursts/BurstBuilder: one StepExecutor is built once
// and replayed across calls. Each RunBurst call still goes through Run, so
// boundary locations are resolved again on every call.
type BurstHandle struct {
	executor *StepExecutor
}

// NewBurstHandle binds a reusable burst dispatch handle to step.
func NewBurstHandle(ctrl *controller.Controller, step *plan.ExecutionStep, opts Options) *BurstHandle {
	return &BurstHandle{executor: New(ctrl, step, opts)}
}

// RunBurst dispatches through the handle's bound executor. Repeated calls
// reuse the same StepExecutor rather than constructing a fresh one, the
// low-overhead path a burst controller exists to provide.
func (b *BurstHandle) RunBurst(ctx context.Context, waitFor *device.SyncFence) (device.ExecutionResponse, *device.SyncFence, *planerr.PlanError) {
	return b.executor.Run(ctx, waitFor)
}

// recover implements the partial-then-full fallback ladder of §4.3.
func (e *StepExecutor) recover(ctx context.Context, inputs, outputs []device.Buffer) (device.ExecutionResponse, *device.SyncFence, *planerr.PlanError) {
	if e.Opts.Mode != device.PartitioningWithFallback {
		return device.ExecutionResponse{}, nil, planerr.New(planerr.CodeOpFailed, "device rejected step and fallback is not permitted")
	}

	fallback := e.Opts.Catalogue.Fallback()
	alreadyFallback := e.Step.Device.Name() == fallback.Name()

	if !alreadyFallback {
		materialized := make([]device.Buffer, len(inputs))
		for i, b := range inputs {
			materialized[i] = b.MaterializeToHost()
		}
		artifact, perr := fallback.Prepare(ctx, e.Step.StepModel, device.PrepareOptions{
			Preference: e.Opts.Preference,
			Priority:   e.Opts.Priority,
			CacheToken: e.Opts.ClientToken,
		})
		if perr == nil {
			resp := fallback.Execute(ctx, artifact, device.ExecutionRequest{Inputs: materialized, Outputs: outputs, Measure: e.Opts.MeasureTiming})
			if resp.Status == device.StatusOK && resp.Err == nil {
				if perr := e.writeBack(resp, outputs); perr != nil {
					return resp, nil, perr
				}
				e.propagateShapes(resp)
				e.Step.Device = fallback
				e.Step.Artifact = artifact
				e.Step.CacheToken = cachetoken.Compute(e.Step.StepModel, cachetoken.Material{
					ClientToken:   e.Opts.ClientToken,
					DeviceName:    fallback.Name(),
					DeviceVersion: fallback.Version(),
					Preference:    e.Opts.Preference,
					Priority:      e.Opts.Priority,
					SubgraphIndex: e.Step.SourceSubgraph,
					OperationIdxs: e.Step.SourceOperations,
				})
				fence := device.NewResolvedFence(nil)
				e.Controller.LastFence = fence
				return resp, fence, nil
			}
		}
	}

	// Full fallback: the whole remaining model is re-executed against the
	// fallback device in one shot.
	return e.fullFallback(ctx)
}

// fullFallback re-runs the original model wholesale on the fallback
// device and marks the execution done, the last resort of §4.3.
func (e *StepExecutor) fullFallback(ctx context.Context) (device.ExecutionResponse, *device.SyncFence, *planerr.PlanError) {
	fallback := e.Opts.Catalogue.Fallback()
	source := e.Controller.Plan.SourceGraph
	artifact, perr := fallback.Prepare(ctx, source, device.PrepareOptions{
		Preference: e.Opts.Preference,
		Priority:   e.Opts.Priority,
	})
	if perr != nil {
		return device.ExecutionResponse{}, nil, perr
	}
	resp := fallback.Execute(ctx, artifact, device.ExecutionRequest{
		Inputs:  materializeAll(e.Controller.ExternalInputBuffers),
		Outputs: e.Controller.ExternalOutputBuffers,
	})
	if resp.Status != device.StatusOK || resp.Err != nil {
		if resp.Err != nil {
			return resp, nil, resp.Err
		}
		return resp, nil, planerr.New(planerr.CodeOpFailed, "full fallback execution failed")
	}
	for i, out := range resp.Outputs {
		if i < len(e.Controller.ExternalOutputBuffers) {
			e.Controller.ExternalOutputBuffers[i] = out
		}
	}
	e.Controller.Plan = plan.NewSimple(fallback, artifact, cachetoken.Token{})
	e.Controller.MarkDone()
	fence := device.NewResolvedFence(nil)
	e.Controller.LastFence = fence
	return resp, fence, nil
}

func materializeAll(bufs []device.Buffer) []device.Buffer {
	out := make([]device.Buffer, len(bufs))
	for i, b := range bufs {
		out[i] = b.MaterializeToHost()
	}
	return out
}

// materialize resolves the step's boundary tables into positional
// device.Buffer slices the device's Execute call expects.
func (e *StepExecutor) materialize() (inputs, outputs []device.Buffer, err *planerr.PlanError) {
	inputs = make([]device.Buffer, len(e.Step.Inputs))
	for i, ref := range e.Step.Inputs {
		buf, perr := e.resolveBuffer(ref.Source)
		if perr != nil {
			return nil, nil, perr
		}
		inputs[i] = buf
	}
	outputs = make([]device.Buffer, len(e.Step.Outputs))
	for i, ref := range e.Step.Outputs {
		buf, perr := e.resolveBuffer(ref.Source)
		if perr != nil {
			return nil, nil, perr
		}
		outputs[i] = buf
	}
	return inputs, outputs, nil
}

func (e *StepExecutor) resolveBuffer(idx graph.SourceOperandIndex) (device.Buffer, *planerr.PlanError) {
	resolved, perr := e.Controller.Resolve(idx)
	if perr != nil {
		return device.Buffer{}, perr
	}
	switch resolved.Kind {
	case controller.LocationExternalInput:
		if resolved.ExternalIndex >= len(e.Controller.ExternalInputBuffers) {
			return device.Buffer{}, planerr.Newf(planerr.CodeBadData, "external input index %d out of range", resolved.ExternalIndex)
		}
		return e.Controller.ExternalInputBuffers[resolved.ExternalIndex], nil
	case controller.LocationExternalOutput:
		if resolved.ExternalIndex >= len(e.Controller.ExternalOutputBuffers) {
			return device.Buffer{}, planerr.Newf(planerr.CodeBadData, "external output index %d out of range", resolved.ExternalIndex)
		}
		return e.Controller.ExternalOutputBuffers[resolved.ExternalIndex], nil
	case controller.LocationConstantInline:
		return device.NewHostBuffer(nil, resolved.InlineBytes), nil
	case controller.LocationConstantRef:
		start := resolved.ConstantLoc.PoolOffset
		end := start + resolved.ConstantLoc.PoolLength
		return device.NewHostBuffer(nil, e.Controller.Plan.SourceGraph.Constants[start:end]), nil
	case controller.LocationArenaPrimary:
		return e.Controller.ArenaView(nil, resolved), nil
	default:
		return device.Buffer{}, planerr.Newf(planerr.CodeBadState, "operand %+v has no resolvable buffer view", idx)
	}
}

// writeBack copies a response's output bytes into any arena-resident
// destinations; external-bound and constant-backed outputs are already
// written in place because their device.Buffer wraps the caller-owned
// slice directly.
func (e *StepExecutor) writeBack(resp device.ExecutionResponse, outputs []device.Buffer) *planerr.PlanError {
	for i, ref := range e.Step.Outputs {
		if i >= len(resp.Outputs) {
			continue
		}
		resolved, perr := e.Controller.Resolve(ref.Source)
		if perr != nil {
			return perr
		}
		if resolved.Kind != controller.LocationArenaPrimary {
			continue
		}
		data, perr := resp.Outputs[i].HostBytes()
		if perr != nil {
			return perr
		}
		dst := e.Controller.ArenaBytes(resolved.ArenaOffset, resolved.ArenaSize)
		if len(data) > len(dst) {
			return planerr.Newf(planerr.CodeOutputInsufficientSize, "step output %d exceeds its arena slot: %d > %d bytes", i, len(data), len(dst))
		}
		copy(dst, data)
	}
	return nil
}

// propagateShapes merges a response's reported output shapes into the
// controller's global shape table, per §4.3.
func (e *StepExecutor) propagateShapes(resp device.ExecutionResponse) {
	for i, ref := range e.Step.Outputs {
		if i >= len(resp.OutputShapes) || resp.OutputShapes[i] == nil {
			continue
		}
		_ = e.Controller.RefineOutputShape(ref.Source, resp.OutputShapes[i])
	}
}
