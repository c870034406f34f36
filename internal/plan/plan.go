// Package plan defines the ExecutionPlan produced by the partitioner and
// consumed by the interpreter: a tagged-variant container (§3) holding
// either nothing, a single whole-model device dispatch, or a linear
// program of LogicalSteps plus the boundary maps that bind the program's
// arena-resident and constant operands back to the source model. Grounded
// structurally on the teacher's internal/jobs package (DAGExecutor's flat
// node list, Scheduler's ordered decision records), generalized from a
// dynamically-typed node graph to the spec's statically-tagged step
// variants — the "Go tagged struct" the original calls for (§9).
package plan

import (
	"github.com/reach-systems/planrt/internal/cachetoken"
	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
)

// Kind tags an ExecutionPlan's shape.
type Kind int

const (
	KindEmpty Kind = iota
	KindSimple
	KindCompound
)

// BoundaryKind classifies how a step model's external input or output
// position binds back to the source graph, per the ordering table of
// §4.1.
type BoundaryKind int

const (
	BoundaryMainInput BoundaryKind = iota
	BoundaryTempInput
	BoundaryMainOutputAsInput
	BoundaryMainOutput
	BoundaryTempOutput
)

// BoundaryRef is one entry of an ExecutionStep's boundary tables: the
// step-model-local position paired with the SourceOperandIndex it
// ultimately binds to in the source model.
type BoundaryRef struct {
	Kind   BoundaryKind
	Source graph.SourceOperandIndex
}

// StepKind tags a LogicalStep's variant.
type StepKind int

const (
	StepKindExecution StepKind = iota
	StepKindIf
	StepKindWhile
	StepKindGoto
)

// LogicalStep is the tagged-variant step type of §3: ExecutionStep, IfStep,
// WhileStep, and GotoStep all satisfy it.
type LogicalStep interface {
	Kind() StepKind
}

// ExecutionStep owns a freshly synthesised step model to be run on one
// device, plus the boundary tables that let the interpreter materialise
// its inputs/outputs from the controller's location maps.
type ExecutionStep struct {
	StepModel  *graph.Model
	Device     device.Device
	Artifact   device.PreparedArtifact
	CacheToken cachetoken.Token

	// Inputs/Outputs are ordered exactly as the step model's external
	// input/output lists: main-model inputs first, then temps, then
	// (inputs only) main-model-outputs-as-inputs.
	Inputs  []BoundaryRef
	Outputs []BoundaryRef

	// SourceSubgraph/SourceOperations record which sub-graph and which of
	// its operation indices this step excerpted, the data the §8
	// "step operations are a subset of / union over the source sub-graph"
	// invariant is checked against.
	SourceSubgraph   int
	SourceOperations []int
}

func (*ExecutionStep) Kind() StepKind { return StepKindExecution }

// IfStep implements the partitioner's "interpreted" IF assignment (§4.1):
// no device executes the IF operation itself; the interpreter picks a
// branch and jumps.
type IfStep struct {
	Condition graph.SourceOperandIndex

	ThenStepIndex int
	ElseStepIndex int

	OuterInputs  []graph.SourceOperandIndex
	OuterOutputs []graph.SourceOperandIndex

	ThenInputs  []graph.SourceOperandIndex
	ThenOutputs []graph.SourceOperandIndex
	ElseInputs  []graph.SourceOperandIndex
	ElseOutputs []graph.SourceOperandIndex
}

func (*IfStep) Kind() StepKind { return StepKindIf }

// WhileStep implements the partitioner's "interpreted" WHILE assignment.
type WhileStep struct {
	CondStepIndex int
	BodyStepIndex int
	ExitStepIndex int

	OuterInputs  []graph.SourceOperandIndex
	OuterOutputs []graph.SourceOperandIndex

	CondInputs []graph.SourceOperandIndex
	CondOutput graph.SourceOperandIndex

	BodyInputs  []graph.SourceOperandIndex
	BodyOutputs []graph.SourceOperandIndex
}

func (*WhileStep) Kind() StepKind { return StepKindWhile }

// GotoStep is an unconditional jump used to thread IF/WHILE layouts into a
// single linear program.
type GotoStep struct {
	Target int
}

func (*GotoStep) Kind() StepKind { return StepKindGoto }

// ExecutionPlan is the tagged-variant container of §3.
type ExecutionPlan struct {
	kind Kind

	// Simple plan fields.
	simpleDevice   device.Device
	simpleArtifact device.PreparedArtifact
	simpleToken    cachetoken.Token

	// Compound plan fields.
	Steps []LogicalStep

	// SourceGraph is the finalised Model the plan was computed from; the
	// "source-graph registry" of §3, shared by reference, never mutated.
	SourceGraph *graph.Model

	// MainInputs/MainOutputs map a main-model operand to its external
	// input/output position.
	MainInputs  map[graph.SourceOperandIndex]int
	MainOutputs map[graph.SourceOperandIndex]int

	// BoundaryConstantsInline/Ref record boundary constants reachable by
	// control-flow steps directly (bypassing an ExecutionStep's own
	// per-step-model constant pool).
	BoundaryConstantsInline map[graph.SourceOperandIndex][]byte
	BoundaryConstantsRef    map[graph.SourceOperandIndex]graph.Location

	// ArenaSlots enumerates every operand the arena must reserve space for:
	// ExecutionStep temporary outputs that escape their step (consumed by a
	// later step, or a sub-graph's declared output, which covers WHILE
	// condition outputs), IF outer-outputs, and a secondary slot for each
	// WHILE body-branch output. WHILE outer-outputs get no slot of their
	// own; they are aliased at loop exit.
	ArenaSlots []ArenaSlot

	finished bool
}

// ArenaSlot is one entry of the partitioner's arena enumeration.
type ArenaSlot struct {
	Index     graph.SourceOperandIndex
	Bytes     int
	Align     int
	Secondary bool
}

// DynamicSlotBytes is the scratch capacity reserved for a temporary whose
// size cannot be computed at compile time; execution-time writes beyond it
// surface as an output-insufficient-size error rather than corrupting the
// arena.
const DynamicSlotBytes = 1 << 20

// NewEmpty returns an empty, already-finished plan.
func NewEmpty() *ExecutionPlan {
	return &ExecutionPlan{kind: KindEmpty, finished: true}
}

// NewSimple returns a finished plan that dispatches the whole model to a
// single device in one shot.
func NewSimple(d device.Device, artifact device.PreparedArtifact, token cachetoken.Token) *ExecutionPlan {
	return &ExecutionPlan{kind: KindSimple, simpleDevice: d, simpleArtifact: artifact, simpleToken: token, finished: true}
}

// NewCompoundBuilder returns an unfinished compound plan the partitioner
// appends steps to; call Finish before handing it to the interpreter.
func NewCompoundBuilder(source *graph.Model) *ExecutionPlan {
	return &ExecutionPlan{
		kind:                    KindCompound,
		SourceGraph:             source,
		MainInputs:              make(map[graph.SourceOperandIndex]int),
		MainOutputs:             make(map[graph.SourceOperandIndex]int),
		BoundaryConstantsInline: make(map[graph.SourceOperandIndex][]byte),
		BoundaryConstantsRef:    make(map[graph.SourceOperandIndex]graph.Location),
	}
}

// Finish locks a compound plan's step list; no-op for simple/empty plans,
// which are already finished at construction.
func (p *ExecutionPlan) Finish() {
	p.finished = true
}

func (p *ExecutionPlan) Kind() Kind       { return p.kind }
func (p *ExecutionPlan) IsFinished() bool { return p.finished }

// Simple returns the device, artifact, and cache token of a simple plan.
// Callers must check Kind() == KindSimple first.
func (p *ExecutionPlan) Simple() (device.Device, device.PreparedArtifact, cachetoken.Token) {
	return p.simpleDevice, p.simpleArtifact, p.simpleToken
}

// StepCount returns the number of steps in a compound plan, 0 otherwise.
func (p *ExecutionPlan) StepCount() int {
	return len(p.Steps)
}
