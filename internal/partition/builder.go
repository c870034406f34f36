package partition

import (
	"context"

	"github.com/reach-systems/planrt/internal/cachetoken"
	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/plan"
	"github.com/reach-systems/planrt/internal/planerr"
)

// interpretedQueue is the virtual queue index for control-flow operations
// assigned the "interpreted" verdict; it sits one past the last device so
// it drains opportunistically as soon as its inputs are ready rather than
// waiting for every device queue to run dry first — an implementation
// choice the specification leaves open (it only orders device queues
// against each other), recorded in the design ledger.
const interpretedQueueOffset = 1

// planBuilder holds the state threaded through one Partition call's
// recursive sub-graph walk: the source model, compilation options, and the
// compound plan under construction.
type planBuilder struct {
	model    *graph.Model
	opts     Options
	fallback device.Device
	result   *plan.ExecutionPlan
}

func newPlanBuilder(model *graph.Model, opts Options, fallback device.Device) *planBuilder {
	return &planBuilder{model: model, opts: opts, fallback: fallback, result: plan.NewCompoundBuilder(model)}
}

// recordMainBoundaries fills the plan's MainInputs/MainOutputs maps from the
// main sub-graph's declared signature, so the interpreter can bind
// caller-provided buffers without re-scanning every step.
func (pb *planBuilder) recordMainBoundaries() {
	for pos, operandIdx := range pb.model.Main.Inputs {
		pb.result.MainInputs[graph.SourceOperandIndex{SubgraphIndex: 0, OperandIndex: operandIdx}] = pos
	}
	for pos, operandIdx := range pb.model.Main.Outputs {
		pb.result.MainOutputs[graph.SourceOperandIndex{SubgraphIndex: 0, OperandIndex: operandIdx}] = pos
	}
}

// partitionSubgraph runs the main algorithm of §4.1 over sub-graph sgIdx,
// appending the LogicalSteps it produces to pb.result.Steps.
func (pb *planBuilder) partitionSubgraph(sgIdx int) *planerr.PlanError {
	sg := pb.model.Subgraph(sgIdx)
	known := newKnownSet(sg)

	assignments := make([]assignment, len(sg.Operations))
	queues := make(map[int][]int) // queue index -> pending operation indices
	dispatched := make([]bool, len(sg.Operations))

	deviceIndex := func(d device.Device) int {
		for i, dd := range pb.opts.Devices {
			if dd.Name() == d.Name() {
				return i
			}
		}
		return 0
	}
	interpretedIdx := len(pb.opts.Devices) - 1 + interpretedQueueOffset

	queueFor := func(a assignment) int {
		if a.interpreted {
			return interpretedIdx
		}
		return deviceIndex(a.device)
	}

	enqueueReady := func() *planerr.PlanError {
		for opIdx, op := range sg.Operations {
			if dispatched[opIdx] {
				continue
			}
			if assignments[opIdx].device != nil || assignments[opIdx].interpreted {
				continue // already assigned and enqueued
			}
			if !known.ready(op) {
				continue
			}
			a, err := chooseDevice(pb.opts.Devices, pb.fallback, pb.opts.Preference, sg, op)
			if err != nil {
				return err
			}
			assignments[opIdx] = a
			q := queueFor(a)
			queues[q] = append(queues[q], opIdx)
		}
		return nil
	}

	if err := enqueueReady(); err != nil {
		return err
	}

	for {
		idx, ok := highestNonEmpty(queues)
		if !ok {
			break
		}
		if idx == interpretedIdx {
			opIdx := queues[idx][0]
			queues[idx] = queues[idx][1:]
			if err := pb.emitControlFlow(sgIdx, sg, opIdx); err != nil {
				return err
			}
			dispatched[opIdx] = true
			known.markOutputs(sg.Operations[opIdx])
			if err := enqueueReady(); err != nil {
				return err
			}
			continue
		}

		// Drain this device's queue to exhaustion, re-checking for newly
		// ready same-device operations before finalising the step, so a
		// maximal run of consecutive same-device operations becomes one
		// ExecutionStep.
		var batch []int
		for len(queues[idx]) > 0 {
			take := queues[idx]
			queues[idx] = nil
			for _, opIdx := range take {
				batch = append(batch, opIdx)
				dispatched[opIdx] = true
				known.markOutputs(sg.Operations[opIdx])
			}
			if err := enqueueReady(); err != nil {
				return err
			}
		}
		if err := pb.emitExecutionStep(sgIdx, sg, pb.opts.Devices[idx], batch); err != nil {
			return err
		}
	}

	return nil
}

func highestNonEmpty(queues map[int][]int) (int, bool) {
	best := -1
	for idx, q := range queues {
		if len(q) == 0 {
			continue
		}
		if idx > best {
			best = idx
		}
	}
	return best, best >= 0
}

// emitExecutionStep excerpts opIdxs into a step model, compiles it against
// d, and appends the resulting ExecutionStep plus its arena-slot needs.
func (pb *planBuilder) emitExecutionStep(sgIdx int, sg graph.SubGraph, d device.Device, opIdxs []int) *planerr.PlanError {
	sb := newStepBuilder(pb.model, sgIdx, sg)
	stepModel, inputs, outputs := sb.build(opIdxs)

	if pb.opts.Mode == device.PartitioningWithoutFallback {
		for _, outIdx := range stepModel.Main.Outputs {
			if !stepModel.Main.Operands[outIdx].IsFullySpecified() {
				return planerr.New(planerr.CodeOpFailed, "step output has unspecified shape and partitioning mode forbids fallback")
			}
		}
	}

	if err := stepModel.Finish(); err != nil {
		return err
	}

	token := cachetoken.Compute(stepModel, cachetoken.Material{
		ClientToken:   pb.opts.ClientToken,
		DeviceName:    d.Name(),
		DeviceVersion: d.Version(),
		Preference:    pb.opts.Preference,
		Priority:      pb.opts.Priority,
		SubgraphIndex: sgIdx,
		OperationIdxs: opIdxs,
	})

	artifact, perr := d.Prepare(context.Background(), stepModel, device.PrepareOptions{
		Preference: pb.opts.Preference,
		Priority:   pb.opts.Priority,
		CacheToken: pb.opts.ClientToken,
	})
	if perr != nil {
		return perr
	}

	step := &plan.ExecutionStep{
		StepModel:        stepModel,
		Device:           d,
		Artifact:         artifact,
		CacheToken:       token,
		Inputs:           inputs,
		Outputs:          outputs,
		SourceSubgraph:   sgIdx,
		SourceOperations: opIdxs,
	}
	pb.result.Steps = append(pb.result.Steps, step)

	for _, ref := range outputs {
		if ref.Kind != plan.BoundaryTempOutput {
			continue
		}
		operand := sg.Operands[ref.Source.OperandIndex]
		pb.result.ArenaSlots = append(pb.result.ArenaSlots, plan.ArenaSlot{
			Index: ref.Source,
			Bytes: arenaBytesFor(operand),
			Align: 16,
		})
	}
	return nil
}

func arenaBytesFor(o graph.Operand) int {
	if n := o.ByteSize(); n > 0 {
		return n
	}
	return plan.DynamicSlotBytes
}
