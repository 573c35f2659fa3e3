package kernel

import (
	"math"

	"github.com/solidkernel/fieldvm/internal/arena"
	"github.com/solidkernel/fieldvm/internal/opcode"
	"github.com/solidkernel/fieldvm/internal/tape"
)

// Derivs runs the spatial-derivative kernel over t's active clauses for
// the leading `count` columns. Values (a.Value) must already be populated
// for this tape, e.g. by a prior call to Values. Per spec §4.3, each of
// ∂x, ∂y, ∂z is computed with the same per-opcode rule applied to the
// matching derivative row.
func Derivs(t *tape.Tape, a *arena.Arena, count int) error {
	clauses := t.Clauses
	for i := len(clauses) - 1; i >= 0; i-- {
		c := clauses[i]
		if !c.Op.IsOperator() {
			return &BadOpcodeError{Slot: c.ID, Op: c.Op}
		}
		if c.Op.IsUnary() {
			for j := 0; j < count; j++ {
				av := a.Value[c.A][j]
				a.Dx[c.ID][j] = unaryDerivSpatial(c.Op, av, a.Dx[c.A][j])
				a.Dy[c.ID][j] = unaryDerivSpatial(c.Op, av, a.Dy[c.A][j])
				a.Dz[c.ID][j] = unaryDerivSpatial(c.Op, av, a.Dz[c.A][j])
			}
			continue
		}
		for j := 0; j < count; j++ {
			av, bv := a.Value[c.A][j], a.Value[c.B][j]
			a.Dx[c.ID][j] = binaryDeriv(c.Op, av, bv, a.Dx[c.A][j], a.Dx[c.B][j])
			a.Dy[c.ID][j] = binaryDeriv(c.Op, av, bv, a.Dy[c.A][j], a.Dy[c.B][j])
			a.Dz[c.ID][j] = binaryDeriv(c.Op, av, bv, a.Dz[c.A][j], a.Dz[c.B][j])
		}
	}
	return nil
}

// unaryDerivSpatial implements the "shown for ∂x" table of spec §4.3;
// CONST_VAR passes the derivative through unchanged here (it only freezes
// the variable Jacobian, not spatial derivatives).
func unaryDerivSpatial(op opcode.Opcode, av, adx float64) float64 {
	switch op {
	case opcode.NEG:
		return -adx
	case opcode.SQUARE:
		return 2 * av * adx
	case opcode.SQRT:
		if av < 0 {
			return 0
		}
		return adx / (2 * math.Sqrt(av))
	case opcode.SIN:
		return adx * math.Cos(av)
	case opcode.COS:
		return adx * -math.Sin(av)
	case opcode.TAN:
		sec := 1 / math.Cos(av)
		return adx * sec * sec
	case opcode.ASIN:
		return adx / math.Sqrt(1-av*av)
	case opcode.ACOS:
		return adx / -math.Sqrt(1-av*av)
	case opcode.ATAN:
		return adx / (1 + av*av)
	case opcode.EXP:
		return math.Exp(av) * adx
	case opcode.CONST_VAR:
		return adx
	default:
		return math.NaN()
	}
}

func binaryDeriv(op opcode.Opcode, av, bv, adx, bdx float64) float64 {
	switch op {
	case opcode.ADD:
		return adx + bdx
	case opcode.SUB:
		return adx - bdx
	case opcode.MUL:
		return av*bdx + adx*bv
	case opcode.DIV:
		return (bv*adx - av*bdx) / (bv * bv)
	case opcode.MIN:
		if av < bv {
			return adx
		}
		return bdx
	case opcode.MAX:
		if av < bv {
			return bdx
		}
		return adx
	case opcode.ATAN2:
		return (adx*bv - av*bdx) / (av*av + bv*bv)
	case opcode.POW:
		// b is assumed constant; its own derivative contribution is
		// dropped per spec §4.3/§9.
		return math.Pow(av, bv-1) * bv * adx
	case opcode.NTH_ROOT:
		return (1 / bv) * math.Pow(av, 1/bv-1) * adx
	case opcode.MOD:
		// Approximation valid away from step points, per spec §4.3/§9.
		return adx
	case opcode.NANFILL:
		if math.IsNaN(av) {
			return bdx
		}
		return adx
	default:
		return math.NaN()
	}
}

// Jacobian runs the variable-Jacobian kernel over t's active clauses,
// using column-0 values (already populated by Values) to drive the same
// per-opcode propagation rules as Derivs, applied elementwise across the
// Jacobian vector rather than to three spatial components. CONST_VAR zeros
// the outgoing Jacobian, freezing that subtree's dependence on variables
// (spec §4.5).
func Jacobian(t *tape.Tape, a *arena.Arena) error {
	clauses := t.Clauses
	numVars := a.NumVars()
	if numVars == 0 {
		return nil
	}
	for i := len(clauses) - 1; i >= 0; i-- {
		c := clauses[i]
		if !c.Op.IsOperator() {
			return &BadOpcodeError{Slot: c.ID, Op: c.Op}
		}
		dst := a.Jacobian[c.ID]
		if c.Op.IsUnary() {
			av := a.Value[c.A][0]
			ag := a.Jacobian[c.A]
			if c.Op == opcode.CONST_VAR {
				for k := 0; k < numVars; k++ {
					dst[k] = 0
				}
				continue
			}
			for k := 0; k < numVars; k++ {
				dst[k] = unaryDerivSpatial(c.Op, av, ag[k])
			}
			continue
		}
		av, bv := a.Value[c.A][0], a.Value[c.B][0]
		ag, bg := a.Jacobian[c.A], a.Jacobian[c.B]
		for k := 0; k < numVars; k++ {
			dst[k] = binaryDeriv(c.Op, av, bv, ag[k], bg[k])
		}
	}
	return nil
}
