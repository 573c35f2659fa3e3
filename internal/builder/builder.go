// Package builder flattens a tree.Node DAG into an ORIGINAL tape.Tape and
// seeds the companion arena.Arena, per spec §4.1.
package builder

import (
	"fmt"
	"sort"

	"github.com/solidkernel/fieldvm/internal/arena"
	"github.com/solidkernel/fieldvm/internal/opcode"
	"github.com/solidkernel/fieldvm/internal/tape"
	"github.com/solidkernel/fieldvm/internal/tree"
)

// Result is everything Build produces: the tape, the arena it was seeded
// into, the axis slots, and the variable <-> slot mapping.
type Result struct {
	Tape       *tape.Tape
	Arena      *arena.Arena
	AxisX      tape.Slot
	AxisY      tape.Slot
	AxisZ      tape.Slot
	VarSlot    map[string]tape.Slot // variable id -> slot
	SlotVar    map[tape.Slot]string // slot -> variable id
	VarIndex   map[string]int       // variable id -> Jacobian column, deterministic
	ConstSlots []tape.Slot          // slots holding CONST leaves
}

// Build flattens root (from cache) into a tape, seeding n columns of the
// value row for constants/variables and all spatial-derivative rows.
// initial supplies starting values for every free variable reachable from
// root; a variable with no entry defaults to 0.
func Build(cache *tree.Cache, root *tree.Node, initial map[string]float64, n int) (*Result, error) {
	nodes := reachableWithAxes(cache, root)
	sortForSlotting(nodes, root)

	slotOf := make(map[tree.ID]tape.Slot, len(nodes))
	counter := tape.Slot(len(nodes))
	for _, node := range nodes {
		slotOf[node.ID()] = counter
		counter--
	}
	if slotOf[root.ID()] != 1 {
		return nil, fmt.Errorf("builder: internal error, root did not receive slot 1 (got %d)", slotOf[root.ID()])
	}

	// Collect interior clauses in the same (leaves-first) walk order, then
	// reverse so the root's clause ends up first and leaf-adjacent clauses
	// last — satisfying the "clause precedes its operands' defining
	// clauses" invariant (spec §3).
	var clauses []tape.Clause
	for _, node := range nodes {
		if node.Rank() == 0 {
			continue // leaf: no clause, handled via arena seeding below
		}
		if !node.Op().IsOperator() {
			return nil, fmt.Errorf("builder: interior node with non-operator op %s", node.Op())
		}
		c := tape.Clause{Op: node.Op(), ID: slotOf[node.ID()]}
		if node.LHS() != nil {
			c.A = slotOf[node.LHS().ID()]
		}
		if node.RHS() != nil {
			c.B = slotOf[node.RHS().ID()]
		}
		clauses = append(clauses, c)
	}
	for i, j := 0, len(clauses)-1; i < j; i, j = i+1, j-1 {
		clauses[i], clauses[j] = clauses[j], clauses[i]
	}

	res := &Result{
		Tape: &tape.Tape{
			Clauses: clauses,
			Root:    1,
			Type:    tape.ORIGINAL,
		},
		VarSlot:  make(map[string]tape.Slot),
		SlotVar:  make(map[tape.Slot]string),
		VarIndex: make(map[string]int),
	}

	// Enumerate variables in deterministic (sorted-by-id) order so the
	// Jacobian basis assignment is reproducible.
	var varIDs []string
	seenVar := make(map[string]bool)
	for _, node := range nodes {
		if node.Op() == opcode.VAR && !seenVar[node.VarID()] {
			seenVar[node.VarID()] = true
			varIDs = append(varIDs, node.VarID())
		}
	}
	sort.Strings(varIDs)
	a := arena.New(len(nodes)+1, n, len(varIDs))
	for i, id := range varIDs {
		res.VarIndex[id] = i
	}

	for _, node := range nodes {
		slot := slotOf[node.ID()]
		switch node.Op() {
		case opcode.CONST:
			a.FillConst(int(slot), node.Value())
			a.SetSpatialDeriv(int(slot), 0, 0, 0)
			res.ConstSlots = append(res.ConstSlots, slot)
		case opcode.VAR:
			v := initial[node.VarID()]
			a.FillConst(int(slot), v)
			a.SetSpatialDeriv(int(slot), 0, 0, 0)
			res.VarSlot[node.VarID()] = slot
			res.SlotVar[slot] = node.VarID()
			a.SetJacobianBasis(int(slot), res.VarIndex[node.VarID()])
		case opcode.VAR_X:
			res.AxisX = slot
			a.SetSpatialDeriv(int(slot), 1, 0, 0)
		case opcode.VAR_Y:
			res.AxisY = slot
			a.SetSpatialDeriv(int(slot), 0, 1, 0)
		case opcode.VAR_Z:
			res.AxisZ = slot
			a.SetSpatialDeriv(int(slot), 0, 0, 1)
		default:
			// Interior (operator) node: derivative rows are computed by
			// the kernels, not seeded here.
		}
	}

	res.Arena = a
	return res, nil
}

// reachableWithAxes returns every node reachable from root, plus cache's
// X/Y/Z leaves even if unreferenced (spec §4.1 step 5).
func reachableWithAxes(cache *tree.Cache, root *tree.Node) []*tree.Node {
	seen := make(map[tree.ID]*tree.Node)
	for _, n := range tree.Ordered(root) {
		seen[n.ID()] = n
	}
	for _, axis := range []*tree.Node{cache.X(), cache.Y(), cache.Z()} {
		if _, ok := seen[axis.ID()]; !ok {
			seen[axis.ID()] = axis
		}
	}
	out := make([]*tree.Node, 0, len(seen))
	for _, n := range seen {
		out = append(out, n)
	}
	return out
}

// sortForSlotting orders nodes ascending by rank (leaves first), breaking
// ties by placing root last (so it always receives the lowest slot id
// regardless of whether root is itself a leaf) and otherwise by node ID
// for determinism.
func sortForSlotting(nodes []*tree.Node, root *tree.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		ni, nj := nodes[i], nodes[j]
		if ni.Rank() != nj.Rank() {
			return ni.Rank() < nj.Rank()
		}
		iIsRoot := ni.ID() == root.ID()
		jIsRoot := nj.ID() == root.ID()
		if iIsRoot != jIsRoot {
			return jIsRoot // root sorts last
		}
		return ni.ID() < nj.ID()
	})
}
