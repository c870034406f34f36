package device

import (
	"context"
	"sync"

	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/planerr"
)

// FailingDevice wraps another Device and injects configurable failures into
// its Prepare/Execute calls, generalizing Accelerator's built-in FailOps
// into a decorator any concrete Device can be wrapped in. Grounded on the
// original runtime's TestFailingDriver.cpp, a test-only driver decorator
// configurable to fail preparation or execution on specific operations so
// conformance tests can exercise fallback without a real failing back-end.
type FailingDevice struct {
	wrapped Device

	mu          sync.Mutex
	FailPrepare map[graph.OperationType]bool
	FailExecute map[graph.OperationType]bool
}

// NewFailingDevice wraps wrapped so its Prepare calls fail whenever the step
// model contains an operation named in failOps (stored as FailPrepare).
// FailExecute starts empty; set its entries to fail Execute as well. An
// empty or nil map means "never fails that phase".
func NewFailingDevice(wrapped Device, failOps map[graph.OperationType]bool) *FailingDevice {
	return &FailingDevice{wrapped: wrapped, FailPrepare: failOps, FailExecute: map[graph.OperationType]bool{}}
}

func (f *FailingDevice) Name() string    { return f.wrapped.Name() }
func (f *FailingDevice) Version() string { return f.wrapped.Version() }

func (f *FailingDevice) PerformanceFor(t graph.ElementType, isControlFlow bool) Perf {
	return f.wrapped.PerformanceFor(t, isControlFlow)
}

func (f *FailingDevice) SupportsOperation(sg graph.SubGraph, op graph.Operation) bool {
	return f.wrapped.SupportsOperation(sg, op)
}

func (f *FailingDevice) SupportedOperations(m *graph.Model) ([]bool, *planerr.PlanError) {
	return f.wrapped.SupportedOperations(m)
}

func (f *FailingDevice) Prepare(ctx context.Context, stepModel *graph.Model, opts PrepareOptions) (PreparedArtifact, *planerr.PlanError) {
	if f.matches(f.FailPrepare, stepModel) {
		return PreparedArtifact{}, planerr.New(planerr.CodeOpFailed, "injected prepare failure")
	}
	return f.wrapped.Prepare(ctx, stepModel, opts)
}

func (f *FailingDevice) Execute(ctx context.Context, artifact PreparedArtifact, req ExecutionRequest) ExecutionResponse {
	if f.matches(f.FailExecute, artifact.StepModel) {
		return ExecutionResponse{Status: StatusOpFailed, Err: planerr.New(planerr.CodeOpFailed, "injected execute failure")}
	}
	return f.wrapped.Execute(ctx, artifact, req)
}

func (f *FailingDevice) ExecuteFenced(ctx context.Context, artifact PreparedArtifact, req ExecutionRequest, waitFor *SyncFence) (ExecutionResponse, *SyncFence) {
	if waitFor != nil {
		if err := waitFor.Wait(ctx); err != nil {
			return ExecutionResponse{Status: StatusOpFailed, Err: err}, NewResolvedFence(err)
		}
	}
	resp := f.Execute(ctx, artifact, req)
	return resp, NewResolvedFence(resp.Err)
}

func (f *FailingDevice) Allocate(desc MemoryDescriptor) (Buffer, *planerr.PlanError) {
	return f.wrapped.Allocate(desc)
}

func (f *FailingDevice) matches(failOps map[graph.OperationType]bool, stepModel *graph.Model) bool {
	if len(failOps) == 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range stepModel.Main.Operations {
		if failOps[op.Type] {
			return true
		}
	}
	return false
}
