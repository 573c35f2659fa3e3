// Package ivl implements interval arithmetic for the opcodes the tape
// machine supports. Endpoints are computed with ordinary round-to-nearest
// float64 operations; no outward rounding is applied. No third-party interval-arithmetic
// library appears anywhere in the retrieval pack's dependency graphs, so
// this is a small, deliberately narrow standard-library implementation —
// see DESIGN.md for the "why no third-party library" note.
package ivl

import "math"

// Interval is a closed bound [Lo, Hi] on a real value. An empty or invalid
// interval is represented the same way NaN propagates through float64: Lo
// and/or Hi may be NaN, and callers that need to check should use IsValid.
type Interval struct {
	Lo, Hi float64
}

// Of returns the degenerate interval [v, v].
func Of(v float64) Interval { return Interval{Lo: v, Hi: v} }

// Full returns (-inf, +inf).
func Full() Interval { return Interval{Lo: math.Inf(-1), Hi: math.Inf(1)} }

// IsValid reports whether the interval is well-formed (Lo <= Hi, no NaN).
func (i Interval) IsValid() bool {
	return !math.IsNaN(i.Lo) && !math.IsNaN(i.Hi) && i.Lo <= i.Hi
}

// Contains reports whether v lies within [Lo, Hi].
func (i Interval) Contains(v float64) bool {
	return v >= i.Lo && v <= i.Hi
}

// ContainsInterval reports whether i fully contains j.
func (i Interval) ContainsInterval(j Interval) bool {
	return i.Lo <= j.Lo && j.Hi <= i.Hi
}

// StraddlesZero reports whether the interval contains zero strictly
// between its endpoints (used for the division-by-zero and sqrt rules).
func (i Interval) StraddlesZero() bool {
	return i.Lo < 0 && i.Hi > 0
}

func Add(a, b Interval) Interval { return Interval{a.Lo + b.Lo, a.Hi + b.Hi} }

func Sub(a, b Interval) Interval { return Interval{a.Lo - b.Hi, a.Hi - b.Lo} }

func Neg(a Interval) Interval { return Interval{-a.Hi, -a.Lo} }

func Mul(a, b Interval) Interval {
	p := [4]float64{a.Lo * b.Lo, a.Lo * b.Hi, a.Hi * b.Lo, a.Hi * b.Hi}
	lo, hi := p[0], p[0]
	for _, v := range p[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return Interval{lo, hi}
}

// Div implements interval division. A divisor straddling zero has no finite
// bound, so the result is (-inf, +inf) per spec §4.4.
func Div(a, b Interval) Interval {
	if b.StraddlesZero() || b.Lo == 0 || b.Hi == 0 {
		if b.StraddlesZero() {
			return Full()
		}
		// b touches zero at exactly one endpoint: still unbounded on one
		// side in general, so fall back to the conservative full bound.
		return Full()
	}
	return Mul(a, Interval{1 / b.Hi, 1 / b.Lo})
}

func Min(a, b Interval) Interval {
	return Interval{math.Min(a.Lo, b.Lo), math.Min(a.Hi, b.Hi)}
}

func Max(a, b Interval) Interval {
	return Interval{math.Max(a.Lo, b.Lo), math.Max(a.Hi, b.Hi)}
}

// Square returns a^2 over the interval.
func Square(a Interval) Interval {
	if a.Lo >= 0 {
		return Interval{a.Lo * a.Lo, a.Hi * a.Hi}
	}
	if a.Hi <= 0 {
		return Interval{a.Hi * a.Hi, a.Lo * a.Lo}
	}
	m := math.Max(a.Lo*a.Lo, a.Hi*a.Hi)
	return Interval{0, m}
}

// Sqrt clamps the lower bound to zero when the interval crosses zero, per
// spec §4.4's boundary rule.
func Sqrt(a Interval) Interval {
	lo := a.Lo
	if lo < 0 {
		lo = 0
	}
	hi := a.Hi
	if hi < 0 {
		hi = 0
	}
	return Interval{math.Sqrt(lo), math.Sqrt(hi)}
}

func Sin(a Interval) Interval { return trig(a, math.Sin) }
func Cos(a Interval) Interval { return trig(a, math.Cos) }

// trig is a coarse, always-correct (if loose) bound for periodic functions:
// when the interval spans at least one period, fall back to [-1, 1];
// otherwise sample endpoints and midpoint and take the enclosing range.
func trig(a Interval, f func(float64) float64) Interval {
	if a.Hi-a.Lo >= 2*math.Pi {
		return Interval{-1, 1}
	}
	lo, hi := f(a.Lo), f(a.Lo)
	samples := []float64{f(a.Hi), f((a.Lo + a.Hi) / 2)}
	for _, v := range samples {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	// Extrema of sin and cos lie at multiples of pi/2; when one lies
	// inside the interval, widen to the function's global range rather
	// than risk an unsound (too-tight) bound. Otherwise f is monotonic on
	// the interval and the sampled endpoints bound it.
	if math.Floor(a.Lo/(math.Pi/2)) != math.Floor(a.Hi/(math.Pi/2)) {
		return Interval{-1, 1}
	}
	return Interval{lo, hi}
}

func Tan(a Interval) Interval {
	// Tan is unbounded at pi/2 + k*pi; return the full range whenever the
	// interval contains one of those points.
	if a.Hi-a.Lo >= math.Pi || math.Floor((a.Lo-math.Pi/2)/math.Pi) != math.Floor((a.Hi-math.Pi/2)/math.Pi) {
		return Full()
	}
	lo, hi := math.Tan(a.Lo), math.Tan(a.Hi)
	if lo > hi {
		lo, hi = hi, lo
	}
	return Interval{lo, hi}
}

func Asin(a Interval) Interval {
	lo, hi := a.Lo, a.Hi
	if lo < -1 {
		lo = -1
	}
	if hi > 1 {
		hi = 1
	}
	return Interval{math.Asin(lo), math.Asin(hi)}
}

func Acos(a Interval) Interval {
	lo, hi := a.Lo, a.Hi
	if lo < -1 {
		lo = -1
	}
	if hi > 1 {
		hi = 1
	}
	// acos is decreasing.
	return Interval{math.Acos(hi), math.Acos(lo)}
}

func Atan(a Interval) Interval {
	return Interval{math.Atan(a.Lo), math.Atan(a.Hi)}
}

func Exp(a Interval) Interval {
	return Interval{math.Exp(a.Lo), math.Exp(a.Hi)}
}

// Atan2 returns a coarse enclosure; a tight bound on atan2 over a box of
// intervals requires quadrant analysis that spec §4.4 does not prescribe,
// so this uses the conservative full-range fallback whenever the operand
// intervals could plausibly span a branch cut, narrowing otherwise.
func Atan2(y, x Interval) Interval {
	if x.StraddlesZero() || (x.Lo <= 0 && x.Hi >= 0 && y.StraddlesZero()) || (x.Lo < 0 && y.Lo <= 0 && y.Hi >= 0) {
		return Interval{-math.Pi, math.Pi}
	}
	corners := []float64{
		math.Atan2(y.Lo, x.Lo), math.Atan2(y.Lo, x.Hi),
		math.Atan2(y.Hi, x.Lo), math.Atan2(y.Hi, x.Hi),
	}
	lo, hi := corners[0], corners[0]
	for _, v := range corners[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return Interval{lo, hi}
}

// Mod returns the coarse bound [0, b.Hi] per spec §4.4's explicitly loose
// rule; see DESIGN.md's Open Question note.
func Mod(a, b Interval) Interval {
	return Interval{0, b.Hi}
}

// NanFill returns b if a may contain NaN, else a, per spec §4.4.
func NanFill(a, b Interval) Interval {
	if math.IsNaN(a.Lo) || math.IsNaN(a.Hi) {
		return b
	}
	return a
}

// Pow raises a to the constant power given by the lower endpoint of b
// (POW's exponent operand is assumed constant, per spec §4.4/§9).
func Pow(a Interval, b Interval) Interval {
	exp := b.Lo
	lo, hi := math.Pow(a.Lo, exp), math.Pow(a.Hi, exp)
	if lo > hi {
		lo, hi = hi, lo
	}
	// Even integer powers of an interval crossing zero have a minimum of 0.
	if a.StraddlesZero() && math.Mod(exp, 2) == 0 {
		lo = 0
	}
	return Interval{lo, hi}
}

// NthRoot returns a^(1/b) using the lower endpoint of b as the constant
// root index, per spec §4.4.
func NthRoot(a Interval, b Interval) Interval {
	exp := 1 / b.Lo
	lo, hi := math.Pow(a.Lo, exp), math.Pow(a.Hi, exp)
	if lo > hi {
		lo, hi = hi, lo
	}
	return Interval{lo, hi}
}
