package kernel

import (
	"math"
	"testing"

	"github.com/solidkernel/fieldvm/internal/arena"
	"github.com/solidkernel/fieldvm/internal/opcode"
	"github.com/solidkernel/fieldvm/internal/tape"
)

// buildSquareTape constructs square(x) with x at slot 2, result at slot 1.
func buildSquareTape(n, numVars int) (*tape.Tape, *arena.Arena) {
	a := arena.New(3, n, numVars)
	tp := &tape.Tape{Clauses: []tape.Clause{{Op: opcode.SQUARE, ID: 1, A: 2}}, Root: 1}
	return tp, a
}

func TestDerivsChainRuleOnSquare(t *testing.T) {
	tp, a := buildSquareTape(1, 0)
	a.Value[2][0] = 3
	a.SetSpatialDeriv(2, 1, 0, 0) // x's own spatial derivative: d/dx(x)=1

	if err := Values(tp, a, 1); err != nil {
		t.Fatalf("Values: %v", err)
	}
	if err := Derivs(tp, a, 1); err != nil {
		t.Fatalf("Derivs: %v", err)
	}
	// d/dx(x^2) = 2x = 6
	if a.Dx[1][0] != 6 {
		t.Errorf("Dx(square(x)) at x=3 = %v, want 6", a.Dx[1][0])
	}
	if a.Dy[1][0] != 0 || a.Dz[1][0] != 0 {
		t.Errorf("Dy/Dz(square(x)) should be 0, got (%v,%v)", a.Dy[1][0], a.Dz[1][0])
	}
}

func TestDerivsMinMaxSelectsActiveBranch(t *testing.T) {
	a := arena.New(4, 1, 0)
	tp := &tape.Tape{Clauses: []tape.Clause{{Op: opcode.MAX, ID: 1, A: 2, B: 3}}, Root: 1}
	a.Value[2][0], a.Value[3][0] = 5, 2 // a wins
	a.SetSpatialDeriv(2, 1, 0, 0)
	a.SetSpatialDeriv(3, 0, 1, 0)

	if err := Derivs(tp, a, 1); err != nil {
		t.Fatalf("Derivs: %v", err)
	}
	if a.Dx[1][0] != 1 || a.Dy[1][0] != 0 {
		t.Errorf("max(a,b) with a active should inherit a's gradient, got Dx=%v Dy=%v", a.Dx[1][0], a.Dy[1][0])
	}
}

func TestUnaryDerivSpatialSqrtNegativeIsZero(t *testing.T) {
	got := unaryDerivSpatial(opcode.SQRT, -1, 1)
	if got != 0 {
		t.Errorf("unaryDerivSpatial(SQRT, av=-1) = %v, want 0", got)
	}
}

func TestUnaryDerivSpatialConstVarPassesThrough(t *testing.T) {
	got := unaryDerivSpatial(opcode.CONST_VAR, 5, 0.75)
	if got != 0.75 {
		t.Errorf("unaryDerivSpatial(CONST_VAR, adx=0.75) = %v, want 0.75 (spatial passthrough)", got)
	}
}

func TestBinaryDerivPowAssumesConstantExponent(t *testing.T) {
	// d/dx(x^3) = 3x^2
	got := binaryDeriv(opcode.POW, 2, 3, 1, 0)
	want := 3 * math.Pow(2, 2)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("binaryDeriv(POW, x=2, n=3) = %v, want %v", got, want)
	}
}

func TestJacobianConstVarZeroesOutgoingSensitivity(t *testing.T) {
	a := arena.New(3, 1, 1)
	tp := &tape.Tape{Clauses: []tape.Clause{{Op: opcode.CONST_VAR, ID: 1, A: 2}}, Root: 1}
	a.Value[2][0] = 5
	a.Jacobian[2][0] = 1 // slot 2 is sensitive to the variable

	if err := Jacobian(tp, a); err != nil {
		t.Fatalf("Jacobian: %v", err)
	}
	if a.Jacobian[1][0] != 0 {
		t.Errorf("CONST_VAR must zero the outgoing Jacobian, got %v", a.Jacobian[1][0])
	}
}

func TestJacobianPassesThroughForOrdinaryUnary(t *testing.T) {
	a := arena.New(3, 1, 1)
	tp := &tape.Tape{Clauses: []tape.Clause{{Op: opcode.NEG, ID: 1, A: 2}}, Root: 1}
	a.Value[2][0] = 5
	a.Jacobian[2][0] = 3

	if err := Jacobian(tp, a); err != nil {
		t.Fatalf("Jacobian: %v", err)
	}
	if a.Jacobian[1][0] != -3 {
		t.Errorf("Jacobian(neg(v)) = %v, want -3", a.Jacobian[1][0])
	}
}

func TestJacobianNoopWhenNoVariables(t *testing.T) {
	a := arena.New(3, 1, 0)
	tp := &tape.Tape{Clauses: []tape.Clause{{Op: opcode.NEG, ID: 1, A: 2}}, Root: 1}
	if err := Jacobian(tp, a); err != nil {
		t.Fatalf("Jacobian with zero variables should be a no-op, got err: %v", err)
	}
}
