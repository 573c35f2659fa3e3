package arena

import "testing"

func TestNewAllocatesAllRows(t *testing.T) {
	a := New(5, 8, 2)
	if a.SlotCount() != 5 {
		t.Errorf("SlotCount() = %d, want 5", a.SlotCount())
	}
	if a.N() != 8 {
		t.Errorf("N() = %d, want 8", a.N())
	}
	if a.NumVars() != 2 {
		t.Errorf("NumVars() = %d, want 2", a.NumVars())
	}
	for s := 0; s < 5; s++ {
		if len(a.Value[s]) != 8 || len(a.Dx[s]) != 8 || len(a.Dy[s]) != 8 || len(a.Dz[s]) != 8 {
			t.Errorf("slot %d rows not sized to N=8", s)
		}
		if len(a.Jacobian[s]) != 2 {
			t.Errorf("slot %d Jacobian not sized to NumVars=2", s)
		}
	}
}

func TestFillConst(t *testing.T) {
	a := New(2, 4, 0)
	a.FillConst(1, 7.5)
	for _, v := range a.Value[1] {
		if v != 7.5 {
			t.Errorf("FillConst left %v, want 7.5", v)
		}
	}
}

func TestSetSpatialDeriv(t *testing.T) {
	a := New(2, 3, 0)
	a.SetSpatialDeriv(1, 1, 0, 0)
	for i := 0; i < 3; i++ {
		if a.Dx[1][i] != 1 || a.Dy[1][i] != 0 || a.Dz[1][i] != 0 {
			t.Errorf("column %d = (%v,%v,%v), want (1,0,0)", i, a.Dx[1][i], a.Dy[1][i], a.Dz[1][i])
		}
	}
}

func TestSetJacobianBasis(t *testing.T) {
	a := New(2, 1, 3)
	a.SetJacobianBasis(1, 2)
	want := []float64{0, 0, 1}
	for k, v := range want {
		if a.Jacobian[1][k] != v {
			t.Errorf("Jacobian[1][%d] = %v, want %v", k, a.Jacobian[1][k], v)
		}
	}
}

func TestGrowPreservesExistingContentAndExtends(t *testing.T) {
	a := New(2, 3, 1)
	a.FillConst(1, 42)
	a.SetJacobianBasis(1, 0)
	a.Interval[1] = a.Interval[1] // no-op, just exercising the field exists

	a.Grow(5)
	if a.SlotCount() != 5 {
		t.Fatalf("SlotCount() after Grow(5) = %d, want 5", a.SlotCount())
	}
	for _, v := range a.Value[1] {
		if v != 42 {
			t.Error("Grow must preserve existing slot content")
		}
	}
	if a.Jacobian[1][0] != 1 {
		t.Error("Grow must preserve existing Jacobian content")
	}
	if len(a.Value[4]) != 3 || len(a.Jacobian[4]) != 1 {
		t.Error("Grow must allocate correctly sized rows for new slots")
	}
}

func TestGrowIsNoOpWhenNotLarger(t *testing.T) {
	a := New(5, 2, 0)
	a.Grow(3)
	if a.SlotCount() != 5 {
		t.Errorf("Grow(3) on a 5-slot arena should be a no-op, got SlotCount()=%d", a.SlotCount())
	}
}
