package builder

import (
	"testing"

	"github.com/solidkernel/fieldvm/internal/opcode"
	"github.com/solidkernel/fieldvm/internal/tree"
)

func TestBuildLeafRootGetsSlotOneAndEmptyTape(t *testing.T) {
	cache := tree.NewCache()
	root := cache.X()

	res, err := Build(cache, root, nil, 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Tape.Root != 1 {
		t.Errorf("Root = %d, want 1", res.Tape.Root)
	}
	if len(res.Tape.Clauses) != 0 {
		t.Errorf("a leaf root should produce an empty clause list, got %d clauses", len(res.Tape.Clauses))
	}
	if res.AxisX != 1 {
		t.Errorf("AxisX = %d, want 1 (root is x)", res.AxisX)
	}
}

func TestBuildInteriorRootGetsFirstClause(t *testing.T) {
	cache := tree.NewCache()
	root := cache.Binary(opcode.ADD, cache.X(), cache.Const(1))

	res, err := Build(cache, root, nil, 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Tape.Root != 1 {
		t.Errorf("Root = %d, want 1", res.Tape.Root)
	}
	if len(res.Tape.Clauses) != 1 {
		t.Fatalf("expected exactly 1 clause, got %d", len(res.Tape.Clauses))
	}
	clause := res.Tape.Clauses[0]
	if clause.ID != res.Tape.Root {
		t.Errorf("the root's clause must be first (index 0), got ID=%d root=%d", clause.ID, res.Tape.Root)
	}
	if clause.Op != opcode.ADD {
		t.Errorf("clause.Op = %s, want ADD", clause.Op)
	}
}

func TestBuildClausePrecedesItsOperandsDefiningClauses(t *testing.T) {
	cache := tree.NewCache()
	// max(x + 1, y - 1): two interior clauses feeding the root's MAX clause.
	lhs := cache.Binary(opcode.ADD, cache.X(), cache.Const(1))
	rhs := cache.Binary(opcode.SUB, cache.Y(), cache.Const(1))
	root := cache.Binary(opcode.MAX, lhs, rhs)

	res, err := Build(cache, root, nil, 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	pos := make(map[int]int, len(res.Tape.Clauses))
	for i, c := range res.Tape.Clauses {
		pos[int(c.ID)] = i
	}
	for _, c := range res.Tape.Clauses {
		if definingPos, ok := pos[int(c.A)]; ok && definingPos <= pos[int(c.ID)] {
			t.Errorf("clause defining slot %d (operand A of %d) must come after it in the tape", c.A, c.ID)
		}
		if c.Op.IsBinary() {
			if definingPos, ok := pos[int(c.B)]; ok && definingPos <= pos[int(c.ID)] {
				t.Errorf("clause defining slot %d (operand B of %d) must come after it in the tape", c.B, c.ID)
			}
		}
	}
}

func TestBuildSeedsConstAndVarSlots(t *testing.T) {
	cache := tree.NewCache()
	v := cache.Var("v")
	root := cache.Binary(opcode.ADD, cache.X(), cache.Binary(opcode.MUL, cache.Const(2), v))

	res, err := Build(cache, root, map[string]float64{"v": 5}, 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	foundConst2 := false
	for _, s := range res.ConstSlots {
		if res.Arena.Value[s][0] == 2 {
			foundConst2 = true
		}
	}
	if !foundConst2 {
		t.Error("ConstSlots should include the slot holding the constant 2")
	}

	slot, ok := res.VarSlot["v"]
	if !ok {
		t.Fatal("VarSlot should map \"v\" to a slot")
	}
	if res.Arena.Value[slot][0] != 5 {
		t.Errorf("variable v's initial value = %v, want 5", res.Arena.Value[slot][0])
	}
	if res.SlotVar[slot] != "v" {
		t.Errorf("SlotVar[%d] = %q, want \"v\"", slot, res.SlotVar[slot])
	}

	idx := res.VarIndex["v"]
	if res.Arena.Jacobian[slot][idx] != 1 {
		t.Errorf("variable slot's own Jacobian basis entry should be 1, got %v", res.Arena.Jacobian[slot][idx])
	}
}

func TestBuildVarIndexIsAlphabeticallyDeterministic(t *testing.T) {
	cache := tree.NewCache()
	root := cache.Binary(opcode.ADD, cache.Var("b"), cache.Var("a"))

	res, err := Build(cache, root, nil, 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.VarIndex["a"] != 0 {
		t.Errorf("VarIndex[a] = %d, want 0", res.VarIndex["a"])
	}
	if res.VarIndex["b"] != 1 {
		t.Errorf("VarIndex[b] = %d, want 1", res.VarIndex["b"])
	}
}

func TestBuildAxisSpatialDerivatives(t *testing.T) {
	cache := tree.NewCache()
	root := cache.Binary(opcode.ADD, cache.X(), cache.Y())

	res, err := Build(cache, root, nil, 2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 2; i++ {
		if res.Arena.Dx[res.AxisX][i] != 1 || res.Arena.Dy[res.AxisX][i] != 0 || res.Arena.Dz[res.AxisX][i] != 0 {
			t.Errorf("AxisX spatial derivative row wrong at column %d", i)
		}
		if res.Arena.Dx[res.AxisY][i] != 0 || res.Arena.Dy[res.AxisY][i] != 1 || res.Arena.Dz[res.AxisY][i] != 0 {
			t.Errorf("AxisY spatial derivative row wrong at column %d", i)
		}
	}
}

func TestBuildIncludesUnreferencedAxes(t *testing.T) {
	cache := tree.NewCache()
	root := cache.X() // y, z never referenced

	res, err := Build(cache, root, nil, 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.AxisY == 0 || res.AxisZ == 0 {
		t.Error("unreferenced axes must still receive slots, per the leaf-seeding invariant")
	}
}
