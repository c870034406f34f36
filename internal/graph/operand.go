// Package graph defines the client-visible computational graph: operands,
// operations, sub-graphs, and the top-level Model. Everything here is
// immutable once Model.Finish is called; the partitioner only ever reads
// it. Grounded on the teacher's internal/registry/graph.go ExecutionGraph
// (Node/Edge), generalized from a flat named-node DAG into the spec's
// indexed, multi-sub-graph, typed-operand model.
package graph

// ElementType tags the data an Operand carries.
type ElementType int

const (
	ElementTypeUnknown ElementType = iota
	ElementTypeFloat32
	ElementTypeFloat16
	ElementTypeInt32
	ElementTypeUint8
	ElementTypeBool8
	ElementTypeTensorFloat32
	ElementTypeTensorFloat16
	ElementTypeTensorInt32
	ElementTypeTensorUint8
	ElementTypeTensorBool8
	// ElementTypeTensorQuant8PerChannel carries a per-channel scale/zero-point
	// vector instead of the single Scale/ZeroPoint pair used by other
	// quantized types; ChannelDim selects which shape dimension they index.
	ElementTypeTensorQuant8PerChannel
	// ElementTypeExtension is a vendor/OEM-namespaced type; NamespaceID and
	// TypeCode together identify it, the CORE never interprets its content.
	ElementTypeExtension
	// ElementTypeSubgraph marks an operand whose "value" is a reference to
	// another SubGraph (used only as a control-flow operation input).
	ElementTypeSubgraph
)

// IsTensor reports whether the type carries a Shape.
func (t ElementType) IsTensor() bool {
	switch t {
	case ElementTypeTensorFloat32, ElementTypeTensorFloat16, ElementTypeTensorInt32,
		ElementTypeTensorUint8, ElementTypeTensorBool8, ElementTypeTensorQuant8PerChannel:
		return true
	default:
		return false
	}
}

// IsQuantized reports whether Scale/ZeroPoint (or PerChannelScales) are
// meaningful for this type.
func (t ElementType) IsQuantized() bool {
	return t == ElementTypeTensorUint8 || t == ElementTypeTensorQuant8PerChannel
}

// Lifetime classifies where an Operand's value comes from, per §3.
type Lifetime int

const (
	LifetimeModelInput Lifetime = iota
	LifetimeModelOutput
	LifetimeConstantCopy
	LifetimeConstantReference
	LifetimeTemporary
	LifetimeNoValue
	LifetimeSubgraphReference
)

func (l Lifetime) String() string {
	switch l {
	case LifetimeModelInput:
		return "MODEL_INPUT"
	case LifetimeModelOutput:
		return "MODEL_OUTPUT"
	case LifetimeConstantCopy:
		return "CONSTANT_COPY"
	case LifetimeConstantReference:
		return "CONSTANT_REFERENCE"
	case LifetimeTemporary:
		return "TEMPORARY"
	case LifetimeNoValue:
		return "NO_VALUE"
	case LifetimeSubgraphReference:
		return "SUBGRAPH_REFERENCE"
	default:
		return "UNKNOWN"
	}
}

// Location carries the lifetime-specific payload of an Operand. Only the
// fields relevant to Lifetime are meaningful; see the invariant in §3.
type Location struct {
	// InlineConstant holds the value for LifetimeConstantCopy.
	InlineConstant []byte

	// PoolOffset/PoolLength address Model.Constants for
	// LifetimeConstantReference.
	PoolOffset int
	PoolLength int

	// ModelIOIndex is the external input/output position for
	// LifetimeModelInput/LifetimeModelOutput.
	ModelIOIndex int

	// SubgraphIndex names the referenced sub-graph for
	// LifetimeSubgraphReference.
	SubgraphIndex int
}

// Operand is one value slot in a SubGraph's operand list.
type Operand struct {
	Type ElementType

	// Shape is ordered dimension sizes; 0 in any position means "unknown
	// at compile time".
	Shape []uint32

	// Scale/ZeroPoint quantize ElementTypeTensorUint8. PerChannelScales and
	// ChannelDim quantize ElementTypeTensorQuant8PerChannel instead.
	Scale           float32
	ZeroPoint       int32
	PerChannelScales []float32
	ChannelDim      int

	// NamespaceID/TypeCode identify an ElementTypeExtension operand.
	NamespaceID uint16
	TypeCode    uint16

	Lifetime Lifetime
	Location Location
}

// IsFullySpecified reports whether every dimension of Shape is known.
func (o Operand) IsFullySpecified() bool {
	if !o.Type.IsTensor() {
		return true
	}
	for _, d := range o.Shape {
		if d == 0 {
			return false
		}
	}
	return true
}

// ByteSize returns the computed size in bytes for a fully-specified operand,
// or -1 if any dimension is unknown. Used to validate CONSTANT_COPY length
// and to size arena slots.
func (o Operand) ByteSize() int {
	if !o.Type.IsTensor() {
		return elementWidth(o.Type)
	}
	size := elementWidth(o.Type)
	for _, d := range o.Shape {
		if d == 0 {
			return -1
		}
		size *= int(d)
	}
	return size
}

func elementWidth(t ElementType) int {
	switch t {
	case ElementTypeFloat32, ElementTypeInt32, ElementTypeTensorFloat32, ElementTypeTensorInt32:
		return 4
	case ElementTypeFloat16, ElementTypeTensorFloat16:
		return 2
	case ElementTypeUint8, ElementTypeBool8, ElementTypeTensorUint8,
		ElementTypeTensorBool8, ElementTypeTensorQuant8PerChannel:
		return 1
	default:
		return 1
	}
}
