package device

import (
	"context"
	"time"

	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/planerr"
)

// DSP simulates a mid-tier vendor back-end: a wider operation set than
// Accelerator but slower and higher-power, host-visible memory only.
// Grounded on the teacher's internal/model/local.go — a self-hosted,
// broader-but-slower adapter behind the same interface, repurposed from
// "local LLM server" to "vendor DSP back-end".
type DSP struct {
	NameStr    string
	VersionStr string
}

func NewDSP(name, version string) *DSP {
	return &DSP{NameStr: name, VersionStr: version}
}

func (d *DSP) Name() string    { return d.NameStr }
func (d *DSP) Version() string { return d.VersionStr }

func (d *DSP) PerformanceFor(t graph.ElementType, isControlFlow bool) Perf {
	if isControlFlow {
		return Perf{ExecutionTimeNanos: 1e9, PowerUsageWatts: 1e4}
	}
	switch t {
	case graph.ElementTypeTensorFloat32, graph.ElementTypeFloat32,
		graph.ElementTypeTensorBool8, graph.ElementTypeBool8:
		return Perf{ExecutionTimeNanos: 400, PowerUsageWatts: 1.5}
	default:
		return Perf{ExecutionTimeNanos: 1e9, PowerUsageWatts: 1e4}
	}
}

func (d *DSP) SupportsOperation(sg graph.SubGraph, op graph.Operation) bool {
	if op.Type.IsControlFlow() {
		return false
	}
	switch op.Type {
	case graph.OpAdd, graph.OpMul, graph.OpSub, graph.OpEqual:
		return !graph.HasUnknownSizedOperand(sg, op)
	default:
		return false
	}
}

func (d *DSP) SupportedOperations(m *graph.Model) ([]bool, *planerr.PlanError) {
	return SupportedOperationsBySubgraph(d, m), nil
}

func (d *DSP) Prepare(ctx context.Context, stepModel *graph.Model, opts PrepareOptions) (PreparedArtifact, *planerr.PlanError) {
	if opts.Deadline != nil && time.Now().After(*opts.Deadline) {
		return PreparedArtifact{}, planerr.New(planerr.CodeMissedDeadlineTransient, "dsp prepare missed deadline")
	}
	return PreparedArtifact{DeviceName: d.NameStr, StepModel: stepModel}, nil
}

func (d *DSP) Execute(ctx context.Context, artifact PreparedArtifact, req ExecutionRequest) ExecutionResponse {
	return executeStepModel(artifact.StepModel, req)
}

func (d *DSP) ExecuteFenced(ctx context.Context, artifact PreparedArtifact, req ExecutionRequest, waitFor *SyncFence) (ExecutionResponse, *SyncFence) {
	if waitFor != nil {
		if err := waitFor.Wait(ctx); err != nil {
			return ExecutionResponse{Status: StatusOpFailed, Err: err}, NewResolvedFence(err)
		}
	}
	resp := d.Execute(ctx, artifact, req)
	return resp, NewResolvedFence(resp.Err)
}

func (d *DSP) Allocate(desc MemoryDescriptor) (Buffer, *planerr.PlanError) {
	return NewHostBuffer(nil, make([]byte, desc.Bytes)), nil
}
