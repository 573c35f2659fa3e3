// Package opcode enumerates the closed set of operators the tape machine
// can execute and classifies them for the kernels that dispatch on them.
package opcode

// Opcode identifies an operator, leaf, or sentinel in a clause.
type Opcode int

const (
	// INVALID marks an uninitialized or malformed opcode.
	INVALID Opcode = iota

	// Leaves. These never appear as the op of a Clause; they are resolved
	// at build time into a Result arena row and never re-evaluated.
	VAR_X
	VAR_Y
	VAR_Z
	VAR
	CONST

	// Unary operators.
	NEG
	SQUARE
	SQRT
	SIN
	COS
	TAN
	ASIN
	ACOS
	ATAN
	EXP
	CONST_VAR

	// Binary operators.
	ADD
	SUB
	MUL
	DIV
	MIN
	MAX
	ATAN2
	POW
	NTH_ROOT
	MOD
	NANFILL

	// LAST_OP is a sentinel marking the end of the enumeration; it must
	// never be dispatched.
	LAST_OP
)

var names = map[Opcode]string{
	INVALID:   "INVALID",
	VAR_X:     "VAR_X",
	VAR_Y:     "VAR_Y",
	VAR_Z:     "VAR_Z",
	VAR:       "VAR",
	CONST:     "CONST",
	NEG:       "NEG",
	SQUARE:    "SQUARE",
	SQRT:      "SQRT",
	SIN:       "SIN",
	COS:       "COS",
	TAN:       "TAN",
	ASIN:      "ASIN",
	ACOS:      "ACOS",
	ATAN:      "ATAN",
	EXP:       "EXP",
	CONST_VAR: "CONST_VAR",
	ADD:       "ADD",
	SUB:       "SUB",
	MUL:       "MUL",
	DIV:       "DIV",
	MIN:       "MIN",
	MAX:       "MAX",
	ATAN2:     "ATAN2",
	POW:       "POW",
	NTH_ROOT:  "NTH_ROOT",
	MOD:       "MOD",
	NANFILL:   "NANFILL",
	LAST_OP:   "LAST_OP",
}

// String returns the opcode's display name, or "UNKNOWN" for a value
// outside the enumeration.
func (o Opcode) String() string {
	if name, ok := names[o]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsLeaf reports whether op is a leaf opcode (VAR_X, VAR_Y, VAR_Z, VAR,
// CONST). Leaf opcodes must never appear as a Clause's op.
func (o Opcode) IsLeaf() bool {
	switch o {
	case VAR_X, VAR_Y, VAR_Z, VAR, CONST:
		return true
	default:
		return false
	}
}

// IsBinary reports whether op takes two operands.
func (o Opcode) IsBinary() bool {
	switch o {
	case ADD, SUB, MUL, DIV, MIN, MAX, ATAN2, POW, NTH_ROOT, MOD, NANFILL:
		return true
	default:
		return false
	}
}

// IsUnary reports whether op takes exactly one operand (stored in Clause.A;
// Clause.B is unused).
func (o Opcode) IsUnary() bool {
	switch o {
	case NEG, SQUARE, SQRT, SIN, COS, TAN, ASIN, ACOS, ATAN, EXP, CONST_VAR:
		return true
	default:
		return false
	}
}

// IsOperator reports whether op is valid as a Clause's op (unary or binary,
// i.e. not a leaf and not a sentinel).
func (o Opcode) IsOperator() bool {
	return o.IsUnary() || o.IsBinary()
}

// IsMinMax reports whether op is MIN or MAX, the only opcodes whose
// branches can be elided by range reduction.
func (o Opcode) IsMinMax() bool {
	return o == MIN || o == MAX
}

// Valid reports whether op is a real, assigned member of the enumeration
// (excludes INVALID and LAST_OP and any out-of-range value).
func (o Opcode) Valid() bool {
	return o > INVALID && o < LAST_OP
}
