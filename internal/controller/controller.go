// Package controller implements the per-execution mutable state of §3/§4.4:
// the temporaries arena, the SourceOperandIndex location maps (primary and
// secondary, the latter for WHILE double-buffering), external input/output
// bindings, boundary-constant bindings, and the advancement bookkeeping
// (next step index, fallback retry point, last sync fence, per-WhileStep
// loop state) that the interpreter drives. Grounded on the teacher's
// internal/jobs ExecutionState (a mutex-guarded per-run results map plus a
// registry reference) — the same "one mutable scratch struct per in-flight
// run" shape, expanded from a single results map into the arena/location
// maps the spec's interpreter needs.
package controller

import (
	"time"

	"github.com/google/uuid"

	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
	"github.com/reach-systems/planrt/internal/plan"
	"github.com/reach-systems/planrt/internal/planerr"
)

// LoopStage is one of the two states of a WhileStep's per-iteration state
// machine (§4.2).
type LoopStage int

const (
	StageEvaluateCondition LoopStage = iota
	StageEvaluateBody
)

// outsideLoop is the iteration-count sentinel meaning "not currently
// inside this WHILE".
const outsideLoop = -1

// LoopState is the per-WhileStep mutable state of §3.
type LoopState struct {
	Stage     LoopStage
	Iteration int
	StartedAt time.Time
}

// NewLoopState returns a loop state positioned outside any iteration.
func NewLoopState() *LoopState {
	return &LoopState{Stage: StageEvaluateCondition, Iteration: outsideLoop}
}

func (l *LoopState) IsOutsideLoop() bool { return l.Iteration == outsideLoop }

// LocationKind tags which of the controller's maps a resolved operand
// location came from, per the lookup priority of §4.2: temporary-arena
// offset, external-input index, external-output index, constant-by-
// reference descriptor.
type LocationKind int

const (
	LocationArenaPrimary LocationKind = iota
	LocationArenaSecondary
	LocationExternalInput
	LocationExternalOutput
	LocationConstantRef
	LocationConstantInline
)

// ResolvedLocation is where one operand's value currently lives.
type ResolvedLocation struct {
	Kind          LocationKind
	ArenaOffset   int
	ArenaSize     int
	ExternalIndex int
	ConstantLoc   graph.Location
	InlineBytes   []byte
}

// arenaSlot is an allocated region's offset and size within the arena.
type arenaSlot struct {
	Offset int
	Size   int
}

// Controller is the per-execution state of §3/§4.4. It is never shared
// between threads; exactly one execution owns it.
type Controller struct {
	Plan *plan.ExecutionPlan

	// ExecutionID identifies this in-flight execution for logging and
	// cache-store correlation; assigned once at construction.
	ExecutionID string

	arena     []byte
	watermark int

	primary   map[graph.SourceOperandIndex]arenaSlot
	secondary map[graph.SourceOperandIndex]arenaSlot

	externalInputs  map[graph.SourceOperandIndex]int
	externalOutputs map[graph.SourceOperandIndex]int
	constantRefs    map[graph.SourceOperandIndex]graph.Location
	constantInline  map[graph.SourceOperandIndex][]byte

	NextStepIndex         int
	FallbackNextStepIndex int
	LastFence             *device.SyncFence
	done                  bool

	loopStates map[int]*LoopState

	// ExternalInputBuffers/ExternalOutputBuffers are the caller-bound
	// buffers for the execution, indexed by the position i passed to
	// BindExternalInput/BindExternalOutput.
	ExternalInputBuffers  []device.Buffer
	ExternalOutputBuffers []device.Buffer

	// OutputShapes refines per-operand dynamic shapes observed during
	// execution (§4.3): only unspecified dimensions may be written.
	OutputShapes map[graph.SourceOperandIndex][]uint32

	// Deadline is the whole-execution deadline of §5 ("Executions accept
	// an optional deadline for the whole execution"), nil when the caller
	// set none. LoopTimeout is the per-WHILE timeout every WhileStep
	// advancement compares elapsed iteration time against; it is seeded
	// from executor.Options on the execution's first Next call and
	// already clamped to the hard maximum by then.
	Deadline    *time.Time
	LoopTimeout time.Duration
}

// PastDeadline reports whether the whole-execution deadline (if any) has
// elapsed. §5: overrun during the interpreter's control-flow handling
// terminates the execution with a non-fallback-recoverable
// missed-deadline-transient status.
func (c *Controller) PastDeadline() bool {
	return c.Deadline != nil && time.Now().After(*c.Deadline)
}

// New allocates a Controller with an arena of arenaSize bytes. arenaSize is
// computed by the partitioner from every temporary slot enumerated per
// §4.4 before the plan is handed to an execution.
func New(p *plan.ExecutionPlan, arenaSize int) *Controller {
	return &Controller{
		Plan:            p,
		ExecutionID:     uuid.NewString(),
		arena:           make([]byte, arenaSize),
		primary:         make(map[graph.SourceOperandIndex]arenaSlot),
		secondary:       make(map[graph.SourceOperandIndex]arenaSlot),
		externalInputs:  make(map[graph.SourceOperandIndex]int),
		externalOutputs: make(map[graph.SourceOperandIndex]int),
		constantRefs:    make(map[graph.SourceOperandIndex]graph.Location),
		constantInline:  make(map[graph.SourceOperandIndex][]byte),
		loopStates:      make(map[int]*LoopState),
		OutputShapes:    make(map[graph.SourceOperandIndex][]uint32),
	}
}

// NewFromPlan builds a Controller sized to hold every arena slot p's
// partitioner enumerated (§4.4), allocating each up front so Resolve finds
// a primary (and, for double-buffered operands, secondary) slot for every
// arena-resident SourceOperandIndex before the interpreter takes its first
// step.
func NewFromPlan(p *plan.ExecutionPlan) *Controller {
	total := 0
	for _, slot := range p.ArenaSlots {
		align := slot.Align
		if align <= 0 {
			align = 1
		}
		total = (total+align-1)/align*align + slot.Bytes
	}
	c := New(p, total)
	for _, slot := range p.ArenaSlots {
		if slot.Secondary {
			_ = c.AllocateSecondary(slot.Index, slot.Bytes, slot.Align)
			continue
		}
		_ = c.Allocate(slot.Index, slot.Bytes, slot.Align)
	}
	for idx, pos := range p.MainInputs {
		c.BindExternalInput(idx, pos)
	}
	for idx, pos := range p.MainOutputs {
		c.BindExternalOutput(idx, pos)
	}
	return c
}

// BindExternalBuffers installs the caller-provided positional input/output
// buffers for the whole execution, read by StepExecutor when materialising
// a step's request.
func (c *Controller) BindExternalBuffers(inputs, outputs []device.Buffer) {
	c.ExternalInputBuffers = inputs
	c.ExternalOutputBuffers = outputs
}

// RefineOutputShape merges an execution-time shape observation into idx's
// recorded shape. Per §4.3, a dimension already fully specified may never
// be overwritten with a different value; only unspecified (0) dimensions
// may be refined.
func (c *Controller) RefineOutputShape(idx graph.SourceOperandIndex, observed []uint32) *planerr.PlanError {
	existing, ok := c.OutputShapes[idx]
	if !ok {
		merged := make([]uint32, len(observed))
		copy(merged, observed)
		c.OutputShapes[idx] = merged
		return nil
	}
	if len(existing) != len(observed) {
		return planerr.Newf(planerr.CodeBadData, "output shape rank mismatch for operand %+v: %d vs %d", idx, len(existing), len(observed))
	}
	for i := range existing {
		if existing[i] == 0 {
			existing[i] = observed[i]
			continue
		}
		if observed[i] != 0 && existing[i] != observed[i] {
			return planerr.Newf(planerr.CodeBadData, "attempt to overwrite fully-specified dimension %d of operand %+v: %d -> %d", i, idx, existing[i], observed[i])
		}
	}
	return nil
}

// Allocate reserves size bytes in the arena at the given alignment using a
// high-watermark allocator (§4.4) and records idx's primary-slot offset.
// Returns out-of-memory if the arena is exhausted.
func (c *Controller) Allocate(idx graph.SourceOperandIndex, size, align int) *planerr.PlanError {
	off, err := c.allocateRaw(size, align)
	if err != nil {
		return err
	}
	c.primary[idx] = arenaSlot{Offset: off, Size: size}
	return nil
}

// AllocateSecondary reserves a second slot for idx, used for WHILE
// double-buffering.
func (c *Controller) AllocateSecondary(idx graph.SourceOperandIndex, size, align int) *planerr.PlanError {
	off, err := c.allocateRaw(size, align)
	if err != nil {
		return err
	}
	c.secondary[idx] = arenaSlot{Offset: off, Size: size}
	return nil
}

func (c *Controller) allocateRaw(size, align int) (int, *planerr.PlanError) {
	if align <= 0 {
		align = 1
	}
	aligned := (c.watermark + align - 1) / align * align
	if aligned+size > len(c.arena) {
		return 0, planerr.New(planerr.CodeOutOfMemory, "temporaries arena exhausted")
	}
	c.watermark = aligned + size
	return aligned, nil
}

// ArenaBytes returns the byte slice at a previously allocated offset.
func (c *Controller) ArenaBytes(offset, size int) []byte {
	return c.arena[offset : offset+size]
}

// SwapPrimarySecondary exchanges the primary and secondary arena offsets
// for idx, the double-buffer swap of §4.2 ("at the transition to iteration
// N+1, the slots are swapped").
func (c *Controller) SwapPrimarySecondary(idx graph.SourceOperandIndex) {
	p, hasP := c.primary[idx]
	s, hasS := c.secondary[idx]
	if hasP {
		c.secondary[idx] = p
	}
	if hasS {
		c.primary[idx] = s
	}
}

// ArenaView wraps the bytes at a resolved arena location in a host Buffer.
func (c *Controller) ArenaView(shape []uint32, resolved ResolvedLocation) device.Buffer {
	return device.NewHostBuffer(shape, c.ArenaBytes(resolved.ArenaOffset, resolved.ArenaSize))
}

// BindExternalInput records that idx is bound to the execution's
// externally-provided input at position i.
func (c *Controller) BindExternalInput(idx graph.SourceOperandIndex, i int) {
	c.externalInputs[idx] = i
}

// BindExternalOutput records that idx is bound to the execution's
// externally-provided output at position i.
func (c *Controller) BindExternalOutput(idx graph.SourceOperandIndex, i int) {
	c.externalOutputs[idx] = i
}

// BindConstantRef records a constant-by-reference boundary operand.
func (c *Controller) BindConstantRef(idx graph.SourceOperandIndex, loc graph.Location) {
	c.constantRefs[idx] = loc
}

// BindConstantInline records an inline boundary constant's bytes.
func (c *Controller) BindConstantInline(idx graph.SourceOperandIndex, data []byte) {
	c.constantInline[idx] = data
}

// Resolve looks up idx in the controller's maps in the priority order of
// §4.2: temporary-arena offset, external-input index, external-output
// index, constant-by-reference/inline descriptor.
func (c *Controller) Resolve(idx graph.SourceOperandIndex) (ResolvedLocation, *planerr.PlanError) {
	if slot, ok := c.primary[idx]; ok {
		return ResolvedLocation{Kind: LocationArenaPrimary, ArenaOffset: slot.Offset, ArenaSize: slot.Size}, nil
	}
	if i, ok := c.externalInputs[idx]; ok {
		return ResolvedLocation{Kind: LocationExternalInput, ExternalIndex: i}, nil
	}
	if i, ok := c.externalOutputs[idx]; ok {
		return ResolvedLocation{Kind: LocationExternalOutput, ExternalIndex: i}, nil
	}
	if loc, ok := c.constantRefs[idx]; ok {
		return ResolvedLocation{Kind: LocationConstantRef, ConstantLoc: loc}, nil
	}
	if data, ok := c.constantInline[idx]; ok {
		return ResolvedLocation{Kind: LocationConstantInline, InlineBytes: data}, nil
	}
	return ResolvedLocation{}, planerr.Newf(planerr.CodeBadState, "no resolvable location for operand %+v", idx)
}

// Alias makes inner resolve to whatever outer currently resolves to,
// deleting any pre-existing alias for inner first (§4.2 "deletes any
// pre-existing alias for the inner operand before installing the new
// one").
func (c *Controller) Alias(inner, outer graph.SourceOperandIndex) *planerr.PlanError {
	resolved, err := c.Resolve(outer)
	if err != nil {
		return err
	}
	c.deleteAlias(inner)
	switch resolved.Kind {
	case LocationArenaPrimary:
		c.primary[inner] = arenaSlot{Offset: resolved.ArenaOffset, Size: resolved.ArenaSize}
	case LocationArenaSecondary:
		c.secondary[inner] = arenaSlot{Offset: resolved.ArenaOffset, Size: resolved.ArenaSize}
	case LocationExternalInput:
		c.externalInputs[inner] = resolved.ExternalIndex
	case LocationExternalOutput:
		c.externalOutputs[inner] = resolved.ExternalIndex
	case LocationConstantRef:
		c.constantRefs[inner] = resolved.ConstantLoc
	case LocationConstantInline:
		c.constantInline[inner] = resolved.InlineBytes
	}
	return nil
}

func (c *Controller) deleteAlias(idx graph.SourceOperandIndex) {
	delete(c.primary, idx)
	delete(c.secondary, idx)
	delete(c.externalInputs, idx)
	delete(c.externalOutputs, idx)
	delete(c.constantRefs, idx)
	delete(c.constantInline, idx)
}

// MarkDone flags the execution as finished, used by full-plan fallback
// (§4.3) which executes the remainder of the model immediately rather than
// resuming normal step-by-step advancement.
func (c *Controller) MarkDone() { c.done = true }

// IsDone reports whether MarkDone has been called.
func (c *Controller) IsDone() bool { return c.done }

// LoopState returns the mutable loop state for the WhileStep at stepIndex,
// creating it (outside-loop) on first access.
func (c *Controller) LoopState(stepIndex int) *LoopState {
	ls, ok := c.loopStates[stepIndex]
	if !ok {
		ls = NewLoopState()
		c.loopStates[stepIndex] = ls
	}
	return ls
}
