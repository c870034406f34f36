// Package cachetoken computes the 256-bit, opaque cache tokens of §4.1/§4.5:
// a deterministic fingerprint of a step model's content, the back-end that
// will compile it, and the compilation options requested. Grounded on the
// teacher's internal/determinism package (Hash/canonicalize: SHA-256 over a
// canonical, sorted-key JSON-like structure so hashing is stable across
// runs, platforms, and map-iteration order) — the same canonicalize-then-hash
// shape, repurposed from step-execution provenance to step-model compilation
// identity.
package cachetoken

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/reach-systems/planrt/internal/device"
	"github.com/reach-systems/planrt/internal/graph"
)

// Token is a fixed 32-byte (256-bit) value, opaque to everything outside
// this package per §6 ("Cache token. Fixed 32 bytes, treated as opaque by
// clients").
type Token [32]byte

// String renders the token as lowercase hex.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// IsZero reports whether t is the zero token (no client-supplied material
// and nothing computed yet).
func (t Token) IsZero() bool {
	return t == Token{}
}

// Material is everything that §4.1 requires a step's cache token to bind:
// any client-supplied token; the back-end's stable name and version; the
// compilation preference and priority; the sub-graph index within the
// model that the step executes; and every operation index the step model
// includes. Two Materials that differ in any field must hash to different
// tokens with overwhelming probability; identical Materials must hash
// identically across runs.
type Material struct {
	ClientToken   []byte
	DeviceName    string
	DeviceVersion string
	Preference    device.Preference
	Priority      device.Priority
	SubgraphIndex int
	OperationIdxs []int
}

// Compute derives a step's cache token from its compiled step model and the
// compilation Material. It is called once the step model is fully built —
// after trailing-default-argument stripping — so stripping outcomes are
// part of the token's input, per the conservative resolution of the
// cache-token/stripping-order question: more precise invalidation at the
// cost of invalidating caches whenever default detection changes.
func Compute(stepModel *graph.Model, m Material) Token {
	opIdxs := make([]int, len(m.OperationIdxs))
	copy(opIdxs, m.OperationIdxs)
	sort.Ints(opIdxs)

	payload := map[string]any{
		"client_token":    m.ClientToken,
		"device_name":     m.DeviceName,
		"device_version":  m.DeviceVersion,
		"preference":      int(m.Preference),
		"priority":        int(m.Priority),
		"subgraph_index":  m.SubgraphIndex,
		"operation_idxs":  opIdxs,
		"step_model_hash": hashModel(stepModel),
	}
	return sha256.Sum256(canonicalJSON(payload))
}

// hashModel canonicalizes a step model's operand/operation content into a
// stable digest, deliberately excluding nothing: any structural difference
// in the compiled step model must change the resulting cache token.
func hashModel(m *graph.Model) string {
	if m == nil {
		return ""
	}
	subgraphs := make([]any, 0, 1+len(m.Subgraphs))
	subgraphs = append(subgraphs, subgraphPayload(m.Main))
	for _, sg := range m.Subgraphs {
		subgraphs = append(subgraphs, subgraphPayload(sg))
	}
	payload := map[string]any{
		"subgraphs":   subgraphs,
		"constants":   m.Constants,
		"relax_f16":   m.RelaxFloat32to16,
	}
	sum := sha256.Sum256(canonicalJSON(payload))
	return hex.EncodeToString(sum[:])
}

func subgraphPayload(sg graph.SubGraph) any {
	operands := make([]any, len(sg.Operands))
	for i, o := range sg.Operands {
		operands[i] = map[string]any{
			"type":           int(o.Type),
			"shape":          o.Shape,
			"scale":          o.Scale,
			"zero_point":     o.ZeroPoint,
			"lifetime":       int(o.Lifetime),
			"pool_offset":    o.Location.PoolOffset,
			"pool_length":    o.Location.PoolLength,
			"model_io_index": o.Location.ModelIOIndex,
			"subgraph_index": o.Location.SubgraphIndex,
			"inline_const":   o.Location.InlineConstant,
			"per_channel_scales": o.PerChannelScales,
			"channel_dim":        o.ChannelDim,
			"namespace_id":       o.NamespaceID,
			"type_code":          o.TypeCode,
		}
	}
	operations := make([]any, len(sg.Operations))
	for i, op := range sg.Operations {
		operations[i] = map[string]any{
			"type":    int(op.Type),
			"inputs":  op.Inputs,
			"outputs": op.Outputs,
		}
	}
	return map[string]any{
		"operands":   operands,
		"operations": operations,
		"inputs":     sg.Inputs,
		"outputs":    sg.Outputs,
	}
}

// canonicalJSON renders v with map keys sorted, so the same logical content
// always serializes to the same bytes regardless of Go map iteration order.
func canonicalJSON(v any) []byte {
	b, err := json.Marshal(canonicalize(v))
	if err != nil {
		// Inputs are built exclusively from this package's own maps/slices
		// of marshalable primitives; a marshal failure here is a
		// programming error, not a runtime condition callers can recover
		// from.
		panic("cachetoken: canonical payload failed to marshal: " + err.Error())
	}
	return b
}

func canonicalize(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			out = append(out, k, canonicalize(vv[k]))
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return vv
	}
}
