// Package kernel implements the forward evaluation sweeps: values,
// spatial derivatives, intervals, and variable Jacobians, each walking the
// active tape from its back (leaves) toward its front (root).
package kernel

import (
	"fmt"
	"math"

	"github.com/solidkernel/fieldvm/internal/arena"
	"github.com/solidkernel/fieldvm/internal/ivl"
	"github.com/solidkernel/fieldvm/internal/opcode"
	"github.com/solidkernel/fieldvm/internal/tape"
)

// BadOpcodeError reports a leaf or sentinel opcode encountered where an
// operator was required — a programmer error per spec §7.
type BadOpcodeError struct {
	Slot tape.Slot
	Op   opcode.Opcode
}

func (e *BadOpcodeError) Error() string {
	return fmt.Sprintf("kernel: bad opcode %s at slot %d", e.Op, e.Slot)
}

// floorMod implements floored modulus: fmod(a,b) adjusted into [0, |b|)
// by repeatedly adding |b| while negative, per spec §4.2.
func floorMod(a, b float64) float64 {
	r := math.Mod(a, b)
	for r < 0 {
		r += math.Abs(b)
	}
	return r
}

// Values runs the forward value kernel over t's active clauses for the
// leading `count` columns, writing into a.Value.
func Values(t *tape.Tape, a *arena.Arena, count int) error {
	clauses := t.Clauses
	for i := len(clauses) - 1; i >= 0; i-- {
		c := clauses[i]
		if !c.Op.IsOperator() {
			return &BadOpcodeError{Slot: c.ID, Op: c.Op}
		}
		dst := a.Value[c.ID]
		av := a.Value[c.A]
		if c.Op.IsUnary() {
			for j := 0; j < count; j++ {
				dst[j] = unaryValue(c.Op, av[j])
			}
			continue
		}
		bv := a.Value[c.B]
		for j := 0; j < count; j++ {
			dst[j] = binaryValue(c.Op, av[j], bv[j])
		}
	}
	return nil
}

func unaryValue(op opcode.Opcode, v float64) float64 {
	switch op {
	case opcode.NEG:
		return -v
	case opcode.SQUARE:
		return v * v
	case opcode.SQRT:
		return math.Sqrt(v)
	case opcode.SIN:
		return math.Sin(v)
	case opcode.COS:
		return math.Cos(v)
	case opcode.TAN:
		return math.Tan(v)
	case opcode.ASIN:
		return math.Asin(v)
	case opcode.ACOS:
		return math.Acos(v)
	case opcode.ATAN:
		return math.Atan(v)
	case opcode.EXP:
		return math.Exp(v)
	case opcode.CONST_VAR:
		return v
	default:
		return math.NaN()
	}
}

func binaryValue(op opcode.Opcode, a, b float64) float64 {
	switch op {
	case opcode.ADD:
		return a + b
	case opcode.SUB:
		return a - b
	case opcode.MUL:
		return a * b
	case opcode.DIV:
		return a / b
	case opcode.MIN:
		return math.Min(a, b)
	case opcode.MAX:
		return math.Max(a, b)
	case opcode.ATAN2:
		return math.Atan2(a, b)
	case opcode.POW:
		return math.Pow(a, b)
	case opcode.NTH_ROOT:
		return math.Pow(a, 1/b)
	case opcode.MOD:
		return floorMod(a, b)
	case opcode.NANFILL:
		if math.IsNaN(a) {
			return b
		}
		return a
	default:
		return math.NaN()
	}
}

// Interval runs the interval kernel over every slot t.Clauses writes,
// reading operand intervals from a.Interval and writing the result back.
func Interval(t *tape.Tape, a *arena.Arena) error {
	clauses := t.Clauses
	for i := len(clauses) - 1; i >= 0; i-- {
		c := clauses[i]
		if !c.Op.IsOperator() {
			return &BadOpcodeError{Slot: c.ID, Op: c.Op}
		}
		ia := a.Interval[c.A]
		if c.Op.IsUnary() {
			a.Interval[c.ID] = unaryInterval(c.Op, ia)
			continue
		}
		ib := a.Interval[c.B]
		a.Interval[c.ID] = binaryInterval(c.Op, ia, ib)
	}
	return nil
}

func unaryInterval(op opcode.Opcode, a ivl.Interval) ivl.Interval {
	switch op {
	case opcode.NEG:
		return ivl.Neg(a)
	case opcode.SQUARE:
		return ivl.Square(a)
	case opcode.SQRT:
		return ivl.Sqrt(a)
	case opcode.SIN:
		return ivl.Sin(a)
	case opcode.COS:
		return ivl.Cos(a)
	case opcode.TAN:
		return ivl.Tan(a)
	case opcode.ASIN:
		return ivl.Asin(a)
	case opcode.ACOS:
		return ivl.Acos(a)
	case opcode.ATAN:
		return ivl.Atan(a)
	case opcode.EXP:
		return ivl.Exp(a)
	case opcode.CONST_VAR:
		return a
	default:
		return ivl.Full()
	}
}

func binaryInterval(op opcode.Opcode, a, b ivl.Interval) ivl.Interval {
	switch op {
	case opcode.ADD:
		return ivl.Add(a, b)
	case opcode.SUB:
		return ivl.Sub(a, b)
	case opcode.MUL:
		return ivl.Mul(a, b)
	case opcode.DIV:
		return ivl.Div(a, b)
	case opcode.MIN:
		return ivl.Min(a, b)
	case opcode.MAX:
		return ivl.Max(a, b)
	case opcode.ATAN2:
		return ivl.Atan2(a, b)
	case opcode.POW:
		return ivl.Pow(a, b)
	case opcode.NTH_ROOT:
		return ivl.NthRoot(a, b)
	case opcode.MOD:
		return ivl.Mod(a, b)
	case opcode.NANFILL:
		return ivl.NanFill(a, b)
	default:
		return ivl.Full()
	}
}
