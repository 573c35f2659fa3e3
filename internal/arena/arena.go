// Package arena implements the dense, per-slot Result storage the
// evaluation kernels read and write: value rows, spatial-derivative rows,
// an interval slot, and variable-Jacobian vectors.
package arena

import "github.com/solidkernel/fieldvm/internal/ivl"

// Arena is the Result storage for one Evaluator. It is owned exclusively
// by the Evaluator and reused across calls; nothing in here is safe for
// concurrent access.
type Arena struct {
	n       int // configured batch width
	numVars int

	Value [][]float64 // [slot][0:N) — per-slot value row
	Dx    [][]float64 // [slot][0:N) — ∂/∂x row
	Dy    [][]float64 // [slot][0:N)
	Dz    [][]float64 // [slot][0:N)

	Interval []ivl.Interval // [slot]

	// Jacobian holds, per slot, a vector of length numVars: the slot's
	// sensitivity to each free variable. Only ever evaluated at column 0
	// (parameter gradients are a single-point operation per spec §6).
	Jacobian [][]float64 // [slot][0:numVars)
}

// New allocates an Arena with room for slotCount slots (0..slotCount-1,
// slot 0 is the reserved dummy), a batch width of n, and numVars free
// variables.
func New(slotCount, n, numVars int) *Arena {
	a := &Arena{n: n, numVars: numVars}
	a.Value = make([][]float64, slotCount)
	a.Dx = make([][]float64, slotCount)
	a.Dy = make([][]float64, slotCount)
	a.Dz = make([][]float64, slotCount)
	a.Interval = make([]ivl.Interval, slotCount)
	a.Jacobian = make([][]float64, slotCount)
	for s := 0; s < slotCount; s++ {
		a.Value[s] = make([]float64, n)
		a.Dx[s] = make([]float64, n)
		a.Dy[s] = make([]float64, n)
		a.Dz[s] = make([]float64, n)
		a.Jacobian[s] = make([]float64, numVars)
	}
	return a
}

// N returns the configured batch width.
func (a *Arena) N() int { return a.n }

// NumVars returns the number of tracked free variables.
func (a *Arena) NumVars() int { return a.numVars }

// SlotCount returns the number of slots allocated.
func (a *Arena) SlotCount() int { return len(a.Value) }

// FillConst writes v into every column of slot's value row, for CONST and
// VAR leaves at build time (spec §4.1 step 4).
func (a *Arena) FillConst(slot int, v float64) {
	row := a.Value[slot]
	for i := range row {
		row[i] = v
	}
}

// SetSpatialDeriv writes the constant spatial-derivative triple for a leaf
// slot across every column (spec §4.1 step 6). Interior (operator) slots
// get their derivative rows written column-by-column by the derivative
// kernel instead and must never call this.
func (a *Arena) SetSpatialDeriv(slot int, dx, dy, dz float64) {
	for i := 0; i < a.n; i++ {
		a.Dx[slot][i] = dx
		a.Dy[slot][i] = dy
		a.Dz[slot][i] = dz
	}
}

// SetJacobianBasis sets slot's Jacobian vector to the varIndex-th standard
// basis vector, for the slot holding the varIndex-th free variable (spec
// §4.1 step 7).
func (a *Arena) SetJacobianBasis(slot, varIndex int) {
	for i := range a.Jacobian[slot] {
		a.Jacobian[slot][i] = 0
	}
	a.Jacobian[slot][varIndex] = 1
}

// Grow reallocates the arena to hold at least slotCount slots, preserving
// existing content for slots that already existed. Used when a later
// build needs a larger arena than a previous one on the same Evaluator
// (not required by the base spec, but keeps Evaluator reusable across
// DAGs of different sizes without a fresh allocation path per size).
func (a *Arena) Grow(slotCount int) {
	if slotCount <= len(a.Value) {
		return
	}
	grow := func(rows [][]float64) [][]float64 {
		out := make([][]float64, slotCount)
		copy(out, rows)
		for s := len(rows); s < slotCount; s++ {
			out[s] = make([]float64, a.n)
		}
		return out
	}
	a.Value = grow(a.Value)
	a.Dx = grow(a.Dx)
	a.Dy = grow(a.Dy)
	a.Dz = grow(a.Dz)

	ivls := make([]ivl.Interval, slotCount)
	copy(ivls, a.Interval)
	a.Interval = ivls

	jac := make([][]float64, slotCount)
	copy(jac, a.Jacobian)
	for s := len(a.Jacobian); s < slotCount; s++ {
		jac[s] = make([]float64, a.numVars)
	}
	a.Jacobian = jac
}
