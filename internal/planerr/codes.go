// Package planerr provides a strict error taxonomy for the graph partitioner
// and execution plan interpreter. All errors returned from CORE paths are a
// *PlanError with one of the codes below — never a bare error and never a
// panic across a package boundary.
package planerr

// Code is a string-based error code for classification.
type Code string

// Error codes, one family per §7 of the specification.
const (
	// CodeBadData marks malformed input: bad operand/operation indices,
	// size mismatches, wrong arity. Never recoverable by fallback.
	CodeBadData Code = "BAD_DATA"

	// CodeBadState marks API misuse: mutating a finished model, executing
	// an unfinished compilation, calling finish twice. Never recoverable.
	CodeBadState Code = "BAD_STATE"

	// CodeOpFailed marks a back-end rejecting preparation or execution.
	// Recoverable by fallback when the plan allows it.
	CodeOpFailed Code = "OP_FAILED"

	// CodeOutputInsufficientSize marks a back-end writing into an output
	// buffer too small to hold the result. Not recoverable by fallback;
	// the client must resize and retry.
	CodeOutputInsufficientSize Code = "OUTPUT_INSUFFICIENT_SIZE"

	// CodeMissedDeadlineTransient marks a deadline overrun that permits
	// retry with a larger budget.
	CodeMissedDeadlineTransient Code = "MISSED_DEADLINE_TRANSIENT"

	// CodeMissedDeadlinePersistent marks a deadline overrun that does not
	// permit retry.
	CodeMissedDeadlinePersistent Code = "MISSED_DEADLINE_PERSISTENT"

	// CodeOutOfMemory marks arena allocation failure. Not recoverable for
	// the current execution; the compiled plan itself remains valid.
	CodeOutOfMemory Code = "OUT_OF_MEMORY"

	// CodeUnsupportedDeviceCombination marks that no device, including the
	// fallback, can execute an operation.
	CodeUnsupportedDeviceCombination Code = "UNSUPPORTED_DEVICE_COMBINATION"

	// CodeInternal marks a CORE invariant violation; always a bug.
	CodeInternal Code = "INTERNAL_ERROR"

	// CodeUnknown is the classification fallback for foreign errors.
	CodeUnknown Code = "UNKNOWN_ERROR"
)

// Category returns the subsystem category for a code, used for metrics
// grouping and log filtering.
func (c Code) Category() string {
	switch c {
	case CodeBadData, CodeBadState:
		return "contract"
	case CodeOpFailed, CodeUnsupportedDeviceCombination:
		return "device"
	case CodeOutputInsufficientSize:
		return "buffer"
	case CodeMissedDeadlineTransient, CodeMissedDeadlinePersistent:
		return "deadline"
	case CodeOutOfMemory:
		return "arena"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether the code's default retry semantics permit a
// fallback attempt. Individual errors may still override this via
// SetRetryable — e.g. a transient deadline miss during control-flow
// interpretation is never retried regardless of code.
func (c Code) IsRetryable() bool {
	switch c {
	case CodeOpFailed, CodeMissedDeadlineTransient:
		return true
	default:
		return false
	}
}

// AllCodes returns every defined code, for documentation/testing.
func AllCodes() []Code {
	return []Code{
		CodeBadData,
		CodeBadState,
		CodeOpFailed,
		CodeOutputInsufficientSize,
		CodeMissedDeadlineTransient,
		CodeMissedDeadlinePersistent,
		CodeOutOfMemory,
		CodeUnsupportedDeviceCombination,
		CodeInternal,
		CodeUnknown,
	}
}
