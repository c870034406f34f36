// Package device defines the abstract back-end contract of §6: a
// capability-bearing execution target that the partitioner chooses among
// and the step executor dispatches to. Grounded structurally on the
// teacher's internal/model package (Provider interface, Registry with
// fallback chains, hosted/local/small concrete adapters) — the same shape
// of "uniform interface over heterogeneous back-ends, chained through a
// registry" repurposed from LLM providers to NN accelerators.
package device

import (
	"context"
	"time"

	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/planerr"
)

// Perf is a device's performance figure for one operand element-type or
// control-flow construct: the pair the partitioner compares per §4.1.
type Perf struct {
	ExecutionTimeNanos float64
	PowerUsageWatts    float64
}

// Preference selects which half of a Perf the partitioner minimizes.
type Preference int

const (
	PreferLowPower Preference = iota
	PreferFastSingleAnswer
	PreferSustainedSpeed
)

// Figure extracts the value Preference cares about from p.
func (pr Preference) Figure(p Perf) float64 {
	if pr == PreferLowPower {
		return p.PowerUsageWatts
	}
	return p.ExecutionTimeNanos
}

// Buffer is a position-bound input/output argument. Opaque buffers live in
// device-private memory (§6, §4.3) and must be materialized to host bytes
// before the fallback back-end — which only understands host memory — can
// read them.
type Buffer struct {
	Shape  []uint32
	hostData []byte
	opaque   []byte // present only when Opaque; never read directly
	Opaque   bool
}

// NewHostBuffer wraps host-visible bytes.
func NewHostBuffer(shape []uint32, data []byte) Buffer {
	return Buffer{Shape: shape, hostData: data}
}

// NewOpaqueBuffer wraps bytes that live behind a simulated device-private
// handle: HostBytes fails until MaterializeToHost is called.
func NewOpaqueBuffer(shape []uint32, data []byte) Buffer {
	return Buffer{Shape: shape, opaque: data, Opaque: true}
}

// HostBytes returns the buffer's bytes, or an error if it is still opaque.
func (b Buffer) HostBytes() ([]byte, *planerr.PlanError) {
	if b.Opaque {
		return nil, planerr.New(planerr.CodeOpFailed, "buffer is device-opaque; materialize before host access")
	}
	return b.hostData, nil
}

// MaterializeToHost copies an opaque buffer's bytes into a host-visible
// buffer, the step the fallback back-end requires before it can operate on
// memory a hardware device produced (§4.3 partial fallback).
func (b Buffer) MaterializeToHost() Buffer {
	if !b.Opaque {
		return b
	}
	cp := make([]byte, len(b.opaque))
	copy(cp, b.opaque)
	return Buffer{Shape: b.Shape, hostData: cp}
}

// SetHostBytes replaces the buffer's content in place, preserving Shape;
// used by devices writing results. When the existing backing slice is at
// least len(data) bytes, data is copied into it so a caller holding that
// slice sees the result; otherwise the returned Buffer wraps data itself.
func (b Buffer) SetHostBytes(data []byte) Buffer {
	if b.Opaque {
		if len(b.opaque) >= len(data) {
			n := copy(b.opaque, data)
			return Buffer{Shape: b.Shape, opaque: b.opaque[:n], Opaque: true}
		}
		return Buffer{Shape: b.Shape, opaque: data, Opaque: true}
	}
	if len(b.hostData) >= len(data) {
		n := copy(b.hostData, data)
		return Buffer{Shape: b.Shape, hostData: b.hostData[:n]}
	}
	return Buffer{Shape: b.Shape, hostData: data}
}

// Status is the outcome of one Execute/ExecuteFenced call.
type Status int

const (
	StatusOK Status = iota
	StatusOpFailed
	StatusOutputInsufficientSize
	StatusMissedDeadline
)

// ExecutionRequest binds a prepared artifact's positional inputs/outputs.
type ExecutionRequest struct {
	Inputs      []Buffer
	Outputs     []Buffer
	Measure     bool
	Deadline    *time.Time
	LoopTimeout time.Duration
}

// ExecutionResponse reports status, any output buffers rewritten in place,
// refined output shapes (dynamic shape propagation, §4.3), and timing.
type ExecutionResponse struct {
	Status       Status
	Outputs      []Buffer
	OutputShapes [][]uint32
	Timing       time.Duration
	Err          *planerr.PlanError
}

// SyncFence signals when a fenced execution's outputs are valid. A
// synchronous Execute call returns an already-resolved fence.
type SyncFence struct {
	done chan struct{}
	err  *planerr.PlanError
}

// NewResolvedFence returns a fence that is already satisfied.
func NewResolvedFence(err *planerr.PlanError) *SyncFence {
	f := &SyncFence{done: make(chan struct{})}
	close(f.done)
	f.err = err
	return f
}

// NewPendingFence returns a fence to be resolved later via Resolve.
func NewPendingFence() *SyncFence {
	return &SyncFence{done: make(chan struct{})}
}

// Resolve satisfies a pending fence exactly once.
func (f *SyncFence) Resolve(err *planerr.PlanError) {
	f.err = err
	close(f.done)
}

// Wait blocks until the fence resolves or ctx is done.
func (f *SyncFence) Wait(ctx context.Context) *planerr.PlanError {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return planerr.New(planerr.CodeMissedDeadlinePersistent, "wait on sync fence cancelled")
	}
}

// PrepareOptions carries the compilation options of §6.
type PrepareOptions struct {
	Preference  Preference
	Priority    Priority
	Deadline    *time.Time
	CacheDir    string
	CacheToken  []byte
}

// Priority mirrors the spec's compilation priority enum.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityDefault
)

// PartitioningMode selects how aggressively the partitioner and step
// executor may fall back to the software device (§4.1, §4.3).
type PartitioningMode int

const (
	PartitioningDisabled PartitioningMode = iota
	PartitioningWithFallback
	PartitioningWithoutFallback
)

// PreparedArtifact is the opaque, back-end-owned object a Prepare call
// returns; the step executor passes it back unexamined to Execute calls.
type PreparedArtifact struct {
	DeviceName string
	StepModel  *graph.Model
	handle     any
}

// MemoryDescriptor describes a buffer Allocate should reserve.
type MemoryDescriptor struct {
	Bytes int
}

// Device is the contract of §6. Every method that can fail returns a
// *planerr.PlanError so callers never need a type assertion to recover the
// code.
type Device interface {
	// Name and Version are baked into cache tokens (§4.1, §4.5).
	Name() string
	Version() string

	// PerformanceFor returns this device's {execution-time, power-usage}
	// pair for the given element type, or its control-flow pair when
	// isControlFlow is true. The partitioner passes the operation's
	// first-input type as t in both cases.
	PerformanceFor(t graph.ElementType, isControlFlow bool) Perf

	// SupportsOperation answers the per-operation predicate of §4.1 for a
	// single operation within sg.
	SupportsOperation(sg graph.SubGraph, op graph.Operation) bool

	// SupportedOperations computes the full boolean vector of §6, one
	// entry per operation of every sub-graph m holds, main first.
	SupportedOperations(m *graph.Model) ([]bool, *planerr.PlanError)

	// Prepare compiles a step model, returning an opaque artifact.
	Prepare(ctx context.Context, stepModel *graph.Model, opts PrepareOptions) (PreparedArtifact, *planerr.PlanError)

	// Execute runs synchronously.
	Execute(ctx context.Context, artifact PreparedArtifact, req ExecutionRequest) ExecutionResponse

	// ExecuteFenced runs and returns immediately with a fence that resolves
	// when outputs are valid; waitFor, if non-nil, is awaited first so
	// steps chain without host round-trips (§5 Ordering).
	ExecuteFenced(ctx context.Context, artifact PreparedArtifact, req ExecutionRequest, waitFor *SyncFence) (ExecutionResponse, *SyncFence)

	// Allocate reserves a buffer of the requested size, possibly
	// device-opaque.
	Allocate(desc MemoryDescriptor) (Buffer, *planerr.PlanError)
}

// SupportedOperationsBySubgraph is a helper concrete Device implementations
// share: walk every sub-graph of m in index order (main first) and ask
// SupportsOperation per operation. Sub-graph reference operands are not
// followed; each sub-graph held by m is visited exactly once by index.
func SupportedOperationsBySubgraph(d Device, m *graph.Model) []bool {
	var result []bool
	for i := 0; i < m.SubgraphCount(); i++ {
		sg := m.Subgraph(i)
		for _, op := range sg.Operations {
			result = append(result, d.SupportsOperation(sg, op))
		}
	}
	return result
}
