package ivl

import (
	"math"
	"testing"
)

func TestOfAndIsValid(t *testing.T) {
	i := Of(3)
	if i.Lo != 3 || i.Hi != 3 {
		t.Fatalf("Of(3) = %+v", i)
	}
	if !i.IsValid() {
		t.Error("Of(3) should be valid")
	}
	invalid := Interval{Lo: 2, Hi: 1}
	if invalid.IsValid() {
		t.Error("Lo > Hi should be invalid")
	}
	nan := Interval{Lo: math.NaN(), Hi: 1}
	if nan.IsValid() {
		t.Error("NaN endpoint should be invalid")
	}
}

func TestContains(t *testing.T) {
	i := Interval{Lo: -1, Hi: 1}
	if !i.Contains(0) || !i.Contains(-1) || !i.Contains(1) {
		t.Error("Contains should include both endpoints")
	}
	if i.Contains(1.0001) {
		t.Error("Contains should exclude values outside the bound")
	}
}

func TestContainsInterval(t *testing.T) {
	outer := Interval{Lo: -5, Hi: 5}
	inner := Interval{Lo: -1, Hi: 1}
	if !outer.ContainsInterval(inner) {
		t.Error("outer should contain inner")
	}
	if inner.ContainsInterval(outer) {
		t.Error("inner should not contain outer")
	}
}

func TestStraddlesZero(t *testing.T) {
	if !(Interval{Lo: -1, Hi: 1}).StraddlesZero() {
		t.Error("[-1,1] should straddle zero")
	}
	if (Interval{Lo: 0, Hi: 1}).StraddlesZero() {
		t.Error("[0,1] touches but does not strictly straddle zero")
	}
}

func TestArithmeticSoundness(t *testing.T) {
	a := Interval{Lo: -2, Hi: 3}
	b := Interval{Lo: 1, Hi: 4}

	cases := []struct {
		name   string
		result Interval
		points func(x, y float64) float64
	}{
		{"Add", Add(a, b), func(x, y float64) float64 { return x + y }},
		{"Sub", Sub(a, b), func(x, y float64) float64 { return x - y }},
		{"Mul", Mul(a, b), func(x, y float64) float64 { return x * y }},
	}
	samplesA := []float64{a.Lo, a.Hi, (a.Lo + a.Hi) / 2}
	samplesB := []float64{b.Lo, b.Hi, (b.Lo + b.Hi) / 2}

	for _, c := range cases {
		for _, x := range samplesA {
			for _, y := range samplesB {
				v := c.points(x, y)
				if !c.result.Contains(v) {
					t.Errorf("%s(%v,%v): result %+v does not contain sample %v from x=%v,y=%v", c.name, a, b, c.result, v, x, y)
				}
			}
		}
	}
}

func TestDivStraddlingZeroIsFull(t *testing.T) {
	a := Of(1)
	b := Interval{Lo: -1, Hi: 1}
	got := Div(a, b)
	want := Full()
	if got != want {
		t.Errorf("Div with zero-straddling divisor = %+v, want %+v", got, want)
	}
}

func TestSqrtClampsNegativeLowerBound(t *testing.T) {
	a := Interval{Lo: -4, Hi: 9}
	got := Sqrt(a)
	if got.Lo != 0 || got.Hi != 3 {
		t.Errorf("Sqrt([-4,9]) = %+v, want [0,3]", got)
	}
}

func TestSquareAlwaysNonNegative(t *testing.T) {
	for _, a := range []Interval{{-3, -1}, {-2, 2}, {1, 5}} {
		got := Square(a)
		if got.Lo < 0 {
			t.Errorf("Square(%+v).Lo = %v, want >= 0", a, got.Lo)
		}
	}
}

func TestNanFill(t *testing.T) {
	clean := Interval{Lo: 1, Hi: 2}
	fallback := Interval{Lo: 5, Hi: 6}
	if got := NanFill(clean, fallback); got != clean {
		t.Errorf("NanFill(clean, fallback) = %+v, want %+v", got, clean)
	}
	withNaN := Interval{Lo: math.NaN(), Hi: 2}
	if got := NanFill(withNaN, fallback); got != fallback {
		t.Errorf("NanFill(withNaN, fallback) = %+v, want %+v", got, fallback)
	}
}

func TestPowEvenExponentCrossingZero(t *testing.T) {
	a := Interval{Lo: -2, Hi: 3}
	got := Pow(a, Of(2))
	if got.Lo != 0 {
		t.Errorf("Pow([-2,3], 2).Lo = %v, want 0", got.Lo)
	}
	if got.Hi != 9 {
		t.Errorf("Pow([-2,3], 2).Hi = %v, want 9", got.Hi)
	}
}

func TestMinMax(t *testing.T) {
	a := Interval{Lo: 0, Hi: 10}
	b := Interval{Lo: 5, Hi: 8}
	if got := Min(a, b); got.Lo != 0 || got.Hi != 8 {
		t.Errorf("Min(a,b) = %+v, want [0,8]", got)
	}
	if got := Max(a, b); got.Lo != 5 || got.Hi != 10 {
		t.Errorf("Max(a,b) = %+v, want [5,10]", got)
	}
}
