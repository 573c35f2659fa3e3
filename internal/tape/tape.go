// Package tape defines the flattened, topologically ordered instruction
// sequence the evaluation kernels walk, and the Clause type it is built
// from.
package tape

import "github.com/solidkernel/fieldvm/internal/opcode"

// Slot is a small positive integer indexing into the Result arena. Slot 0
// is a reserved dummy; the root of the ORIGINAL tape is always slot 1.
type Slot int

// Clause is one instruction: op(a, b) -> id. For unary ops B is unused;
// CONST_VAR uses only A.
type Clause struct {
	Op   opcode.Opcode
	ID   Slot
	A, B Slot
}

// Type tags a Tape with how it was produced.
type Type int

const (
	// ORIGINAL is the full tape produced by the Builder.
	ORIGINAL Type = iota
	// INTERVAL is a tape reduced by push(INTERVAL) around a box.
	INTERVAL
	// FEATURE is a tape reduced by push(Feature) along recorded choices.
	FEATURE
	// SPECIALIZED is a tape reduced by specialize(p) using float comparisons.
	SPECIALIZED
)

func (t Type) String() string {
	switch t {
	case ORIGINAL:
		return "ORIGINAL"
	case INTERVAL:
		return "INTERVAL"
	case FEATURE:
		return "FEATURE"
	case SPECIALIZED:
		return "SPECIALIZED"
	default:
		return "UNKNOWN"
	}
}

// Box is the axis-aligned region an INTERVAL tape was reduced against.
type Box struct {
	X, Y, Z [2]float64 // [lower, upper] per axis
}

// Contains reports whether p lies within the box on all three axes.
func (b Box) Contains(p [3]float64) bool {
	return p[0] >= b.X[0] && p[0] <= b.X[1] &&
		p[1] >= b.Y[0] && p[1] <= b.Y[1] &&
		p[2] >= b.Z[0] && p[2] <= b.Z[1]
}

// Tape is a reverse-topologically-ordered clause sequence: for every
// clause with operands a, b, that clause appears before any clause whose
// id equals a or b. Evaluation proceeds from the back of Clauses forward.
type Tape struct {
	Clauses []Clause
	Root    Slot
	Type    Type
	Box     Box // meaningful only when Type == INTERVAL
}

// Len returns the number of clauses.
func (t *Tape) Len() int { return len(t.Clauses) }

// Reset clears the clause slice while retaining its backing array capacity,
// for reuse when a stack slot is pushed into again (spec §4.6/§9:
// "tapes... are never deallocated mid-life").
func (t *Tape) Reset(typ Type) {
	t.Clauses = t.Clauses[:0]
	t.Type = typ
	t.Box = Box{}
}
