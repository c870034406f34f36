package device

import (
	"context"
	"sync"
	"time"

	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/planerr"
)

// Accelerator simulates a hardware NN accelerator: fast and low-power for a
// narrow set of float32 elementwise operations, device-opaque memory, and
// capable of failing preparation/execution on demand (FailOps) so tests can
// exercise the fallback paths of §4.3 and §7. Grounded on the teacher's
// internal/model/hosted.go — a high-capability, narrow-availability back-end
// behind the same Provider-shaped interface, repurposed from "hosted LLM
// API" to "hardware accelerator".
type Accelerator struct {
	NameStr    string
	VersionStr string

	mu      sync.Mutex
	FailOps map[graph.OperationType]bool
}

// NewAccelerator constructs a fast accelerator supporting ADD and MUL over
// float32 tensors.
func NewAccelerator(name, version string) *Accelerator {
	return &Accelerator{NameStr: name, VersionStr: version, FailOps: map[graph.OperationType]bool{}}
}

func (a *Accelerator) Name() string    { return a.NameStr }
func (a *Accelerator) Version() string { return a.VersionStr }

func (a *Accelerator) PerformanceFor(t graph.ElementType, isControlFlow bool) Perf {
	if isControlFlow {
		// Accelerators in this fleet never claim control flow.
		return Perf{ExecutionTimeNanos: 1e12, PowerUsageWatts: 1e6}
	}
	switch t {
	case graph.ElementTypeTensorFloat32, graph.ElementTypeFloat32:
		return Perf{ExecutionTimeNanos: 50, PowerUsageWatts: 0.8}
	default:
		return Perf{ExecutionTimeNanos: 1e9, PowerUsageWatts: 1e6}
	}
}

func (a *Accelerator) SupportsOperation(sg graph.SubGraph, op graph.Operation) bool {
	if op.Type.IsControlFlow() {
		return false
	}
	switch op.Type {
	case graph.OpAdd, graph.OpMul:
		return graph.PrimaryInputType(sg, op) == graph.ElementTypeTensorFloat32 && !graph.HasUnknownSizedOperand(sg, op)
	default:
		return false
	}
}

func (a *Accelerator) SupportedOperations(m *graph.Model) ([]bool, *planerr.PlanError) {
	return SupportedOperationsBySubgraph(a, m), nil
}

func (a *Accelerator) Prepare(ctx context.Context, stepModel *graph.Model, opts PrepareOptions) (PreparedArtifact, *planerr.PlanError) {
	if opts.Deadline != nil && time.Now().After(*opts.Deadline) {
		return PreparedArtifact{}, planerr.New(planerr.CodeMissedDeadlineTransient, "accelerator prepare missed deadline")
	}
	return PreparedArtifact{DeviceName: a.NameStr, StepModel: stepModel}, nil
}

func (a *Accelerator) Execute(ctx context.Context, artifact PreparedArtifact, req ExecutionRequest) ExecutionResponse {
	if a.shouldFail(artifact) {
		return ExecutionResponse{Status: StatusOpFailed, Err: planerr.New(planerr.CodeOpFailed, "accelerator rejected execution")}
	}
	return executeStepModel(artifact.StepModel, req)
}

func (a *Accelerator) ExecuteFenced(ctx context.Context, artifact PreparedArtifact, req ExecutionRequest, waitFor *SyncFence) (ExecutionResponse, *SyncFence) {
	if waitFor != nil {
		if err := waitFor.Wait(ctx); err != nil {
			return ExecutionResponse{Status: StatusOpFailed, Err: err}, NewResolvedFence(err)
		}
	}
	resp := a.Execute(ctx, artifact, req)
	return resp, NewResolvedFence(resp.Err)
}

func (a *Accelerator) Allocate(desc MemoryDescriptor) (Buffer, *planerr.PlanError) {
	return NewOpaqueBuffer(nil, make([]byte, desc.Bytes)), nil
}

func (a *Accelerator) shouldFail(artifact PreparedArtifact) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, op := range artifact.StepModel.Main.Operations {
		if a.FailOps[op.Type] {
			return true
		}
	}
	return false
}
