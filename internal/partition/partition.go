// Package partition implements the Graph Partitioner of §4.1: it assigns
// each operation of a finalised Model to the best-fit device, excises
// per-device step models, threads IF/WHILE/GOTO control flow into a single
// linear ExecutionPlan, and enumerates the temporaries-arena slots the
// Controller will need. Grounded on the teacher's internal/jobs Scheduler
// (topological readiness queues feeding a DAGExecutor) — the same
// readiness-queue shape, specialised from "one global ready queue" to "one
// FIFO queue per device plus an interpreted-control-flow queue", and from a
// single flat pass to the spec's recursive, branch/loop-threading pass.
package partition

import (
	"context"

	"github.com/reach-systems/planrt/internal/cachetoken"
	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/plan"
	"github.com/reach-systems/planrt/internal/planerr"
)

// Options carries the compilation inputs of §4.1.
type Options struct {
	// Devices is ordered by caller preference; the last entry must be the
	// guaranteed software fallback.
	Devices     []device.Device
	Preference  device.Preference
	Priority    device.Priority
	Mode        device.PartitioningMode
	ClientToken []byte
}

// Partitioner compiles a finalised Model into an ExecutionPlan.
type Partitioner struct {
	opts Options
}

// New constructs a Partitioner bound to opts. opts.Devices must be non-empty
// with the fallback device last.
func New(opts Options) *Partitioner {
	return &Partitioner{opts: opts}
}

// Partition is the entry point of §4.1.
func (p *Partitioner) Partition(ctx context.Context, model *graph.Model) (*plan.ExecutionPlan, *planerr.PlanError) {
	if len(p.opts.Devices) == 0 {
		return nil, planerr.New(planerr.CodeBadState, "partitioner requires at least one device (the fallback)")
	}
	if !model.IsFinished() {
		return nil, planerr.New(planerr.CodeBadState, "model must be finished before partitioning")
	}
	fallback := p.opts.Devices[len(p.opts.Devices)-1]

	if len(model.Main.Operations) == 0 {
		return plan.NewEmpty(), nil
	}

	if simple, err := p.tryFastPath(ctx, model, fallback); simple != nil || err != nil {
		return simple, err
	}

	pb := newPlanBuilder(model, p.opts, fallback)
	if err := pb.partitionSubgraph(0); err != nil {
		if p.opts.Mode == device.PartitioningWithFallback {
			return p.wholeModelFallback(ctx, model, fallback)
		}
		return nil, err
	}
	pb.recordMainBoundaries()
	pb.result.Finish()
	return pb.result, nil
}

// tryFastPath implements §4.1's fast path: a non-empty model whose every
// operation resolves to the same non-interpreted device compiles directly
// to a simple plan.
func (p *Partitioner) tryFastPath(ctx context.Context, model *graph.Model, fallback device.Device) (*plan.ExecutionPlan, *planerr.PlanError) {
	var common device.Device
	for sgIdx := 0; sgIdx < model.SubgraphCount(); sgIdx++ {
		sg := model.Subgraph(sgIdx)
		for _, op := range sg.Operations {
			a, err := chooseDevice(p.opts.Devices, fallback, p.opts.Preference, sg, op)
			if err != nil {
				return nil, nil // fall through to compound partitioning, which will surface the same error per-operation
			}
			if a.interpreted {
				return nil, nil
			}
			if common == nil {
				common = a.device
			} else if common.Name() != a.device.Name() {
				return nil, nil
			}
		}
	}
	if common == nil {
		return nil, nil
	}

	token := cachetoken.Compute(model, cachetoken.Material{
		ClientToken:   p.opts.ClientToken,
		DeviceName:    common.Name(),
		DeviceVersion: common.Version(),
		Preference:    p.opts.Preference,
		Priority:      p.opts.Priority,
	})
	artifact, perr := common.Prepare(ctx, model, device.PrepareOptions{
		Preference: p.opts.Preference,
		Priority:   p.opts.Priority,
		CacheToken: p.opts.ClientToken,
	})
	if perr != nil {
		if p.opts.Mode == device.PartitioningWithFallback && common.Name() != fallback.Name() {
			return p.wholeModelFallback(ctx, model, fallback)
		}
		return nil, perr
	}
	return plan.NewSimple(common, artifact, token), nil
}

// wholeModelFallback compiles the entire model onto the fallback device, the
// last-resort conversion §4.1 describes when compound compilation fails and
// fallback is permitted.
func (p *Partitioner) wholeModelFallback(ctx context.Context, model *graph.Model, fallback device.Device) (*plan.ExecutionPlan, *planerr.PlanError) {
	artifact, perr := fallback.Prepare(ctx, model, device.PrepareOptions{
		Preference: p.opts.Preference,
		Priority:   p.opts.Priority,
		CacheToken: p.opts.ClientToken,
	})
	if perr != nil {
		return nil, perr
	}
	token := cachetoken.Compute(model, cachetoken.Material{
		ClientToken:   p.opts.ClientToken,
		DeviceName:    fallback.Name(),
		DeviceVersion: fallback.Version(),
		Preference:    p.opts.Preference,
		Priority:      p.opts.Priority,
	})
	return plan.NewSimple(fallback, artifact, token), nil
}
