package fieldvm

import (
	"errors"
	"fmt"

	"github.com/solidkernel/fieldvm/internal/opcode"
)

// ErrInvariantViolated is the catch-all failure kind every other sentinel
// in this package wraps. Callers that want to treat all evaluator-invariant
// violations uniformly can check against this with errors.Is.
var ErrInvariantViolated = errors.New("evaluator invariant violated")

// Sentinel errors for the taxonomy in spec §7. Each is a programmer error,
// not a recoverable condition: callers should abort, not retry.
var (
	// ErrBadOpcode is returned when a leaf or sentinel opcode appears where
	// an operator is required.
	ErrBadOpcode = fmt.Errorf("%w: bad opcode", ErrInvariantViolated)

	// ErrStackUnderflow is returned by Pop when the tape-stack cursor is
	// already at the base tape.
	ErrStackUnderflow = fmt.Errorf("%w: tape stack underflow", ErrInvariantViolated)

	// ErrChoiceStreamUnderrun is returned by Push(Feature) when the
	// feature's choice iterator is not fully consumed after the clause walk.
	ErrChoiceStreamUnderrun = fmt.Errorf("%w: feature choice stream underrun", ErrInvariantViolated)

	// ErrUnknownVariable is returned by UpdateVars when the map references
	// a variable id the evaluator has no slot for.
	ErrUnknownVariable = fmt.Errorf("%w: unknown variable", ErrInvariantViolated)
)

// TapeError annotates ErrBadOpcode with the slot and op that triggered it,
// a typed error wrapping a sentinel so callers can both errors.Is against
// ErrBadOpcode and recover the failing slot/op via errors.As.
type TapeError struct {
	Slot int
	Op   opcode.Opcode
	Err  error
}

// Error implements the error interface.
func (e *TapeError) Error() string {
	return fmt.Sprintf("slot %d (op %s): %v", e.Slot, e.Op, e.Err)
}

// Unwrap allows errors.Is(err, ErrBadOpcode) (or ErrInvariantViolated) to
// succeed through a TapeError.
func (e *TapeError) Unwrap() error {
	return e.Err
}
