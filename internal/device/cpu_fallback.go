package device

import (
	"context"
	"time"

	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/planerr"
)

// CPUFallback is the always-available software back-end, the "fallback
// device" of the GLOSSARY: it accepts every operation (including control
// flow and operands of unknown size), never rejects preparation, and is
// the mandatory last entry of every device list per §4.1. Grounded on the
// teacher's internal/model/small.go SmallModeAdapter — "deterministic,
// always Available(), offline-capable" — repurposed from a templated chat
// fallback to a real (if unoptimized) tensor executor.
type CPUFallback struct {
	NameStr    string
	VersionStr string
}

// NewCPUFallback constructs the software fallback device.
func NewCPUFallback() *CPUFallback {
	return &CPUFallback{NameStr: "cpu-fallback", VersionStr: "1.0.0"}
}

func (c *CPUFallback) Name() string    { return c.NameStr }
func (c *CPUFallback) Version() string { return c.VersionStr }

// PerformanceFor returns fixed figures, slower and higher-power than the
// other devices' figures for the float32/bool types they favour. On an
// exact tie the partitioner picks the fallback explicitly.
func (c *CPUFallback) PerformanceFor(t graph.ElementType, isControlFlow bool) Perf {
	if isControlFlow {
		return Perf{ExecutionTimeNanos: 2000, PowerUsageWatts: 2.0}
	}
	return Perf{ExecutionTimeNanos: 5000, PowerUsageWatts: 3.0}
}

// SupportsOperation always returns true: the fallback guarantees coverage.
func (c *CPUFallback) SupportsOperation(sg graph.SubGraph, op graph.Operation) bool {
	return true
}

func (c *CPUFallback) SupportedOperations(m *graph.Model) ([]bool, *planerr.PlanError) {
	return SupportedOperationsBySubgraph(c, m), nil
}

func (c *CPUFallback) Prepare(ctx context.Context, stepModel *graph.Model, opts PrepareOptions) (PreparedArtifact, *planerr.PlanError) {
	if opts.Deadline != nil && time.Now().After(*opts.Deadline) {
		return PreparedArtifact{}, planerr.New(planerr.CodeMissedDeadlineTransient, "fallback prepare missed deadline")
	}
	return PreparedArtifact{DeviceName: c.NameStr, StepModel: stepModel}, nil
}

func (c *CPUFallback) Execute(ctx context.Context, artifact PreparedArtifact, req ExecutionRequest) ExecutionResponse {
	// Opaque inputs may arrive here when a prior device's step produced
	// them and this step is a fallback retry (§4.3): materialize first,
	// the fallback never reads device-opaque memory directly.
	materialized := make([]Buffer, len(req.Inputs))
	for i, buf := range req.Inputs {
		materialized[i] = buf.MaterializeToHost()
	}
	req.Inputs = materialized
	return executeStepModel(artifact.StepModel, req)
}

func (c *CPUFallback) ExecuteFenced(ctx context.Context, artifact PreparedArtifact, req ExecutionRequest, waitFor *SyncFence) (ExecutionResponse, *SyncFence) {
	if waitFor != nil {
		if err := waitFor.Wait(ctx); err != nil {
			return ExecutionResponse{Status: StatusOpFailed, Err: err}, NewResolvedFence(err)
		}
	}
	resp := c.Execute(ctx, artifact, req)
	return resp, NewResolvedFence(resp.Err)
}

func (c *CPUFallback) Allocate(desc MemoryDescriptor) (Buffer, *planerr.PlanError) {
	return NewHostBuffer(nil, make([]byte, desc.Bytes)), nil
}
