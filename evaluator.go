// Package fieldvm implements the tape-machine expression evaluator for a
// scalar implicit field f(x, y, z[, v...]): point/batch evaluation,
// interval bounds, range-reduction via a tape stack, and feature
// enumeration at ambiguous min/max zero-crossings.
package fieldvm

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/solidkernel/fieldvm/internal/arena"
	"github.com/solidkernel/fieldvm/internal/builder"
	"github.com/solidkernel/fieldvm/internal/feature"
	"github.com/solidkernel/fieldvm/internal/ivl"
	"github.com/solidkernel/fieldvm/internal/kernel"
	"github.com/solidkernel/fieldvm/internal/opcode"
	"github.com/solidkernel/fieldvm/internal/stack"
	"github.com/solidkernel/fieldvm/internal/tape"
	"github.com/solidkernel/fieldvm/internal/tree"
	"github.com/solidkernel/fieldvm/telemetry"
)

// Feature re-exports the feature package's type so callers never need to
// import internal/feature directly.
type Feature = feature.Feature

// Evaluator is a single-threaded, stateful evaluator over one DAG. Callers
// wishing to parallelize construct one Evaluator per worker, sharing only
// the immutable tree.Cache/tree.Node source.
type Evaluator struct {
	result *builder.Result
	stack  *stack.Stack

	metrics *telemetry.Metrics
	tracer  oteltrace.Tracer
	logger  *slog.Logger
	epsilon float64
}

// options collects the optional knobs New accepts via Option funcs.
type options struct {
	epsilon      float64
	stackCapHint int
}

// Option configures an optional Evaluator construction parameter.
type Option func(*options)

// WithEpsilon sets the half-space tolerance FeaturesAt uses when deciding
// whether a candidate branch direction is compatible with the constraints
// already accumulated (spec §4.7.e). Defaults to feature.DefaultEpsilon.
func WithEpsilon(eps float64) Option {
	return func(o *options) { o.epsilon = eps }
}

// WithStackCapacityHint preallocates room in the tape stack for n nested
// pushes before its backing slice must grow.
func WithStackCapacityHint(n int) Option {
	return func(o *options) { o.stackCapHint = n }
}

// Instrument attaches a Metrics sink, a tracer, and a logger to the
// Evaluator; all three are optional and nil-safe when unset. A nil logger
// falls back to slog.Default(). Call once after New.
func (e *Evaluator) Instrument(m *telemetry.Metrics, tracer oteltrace.Tracer, logger *slog.Logger) {
	e.metrics = m
	e.tracer = tracer
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// New builds an Evaluator from root (interned in cache), with initial
// values for any free variables it references, and a batch width of n
// columns for Values/Derivs.
//
// Description:
//
//	Flattens root into a tape via internal/builder, then allocates a
//	tape stack over it. opts configures optional tuning knobs such as
//	WithEpsilon and WithStackCapacityHint; callers loading a Config
//	typically pass WithEpsilon(cfg.FeatureEpsilon) and
//	WithStackCapacityHint(cfg.StackCapacityHint).
//
// Inputs:
//
//	cache - The tree.Cache root was interned in.
//	root - The DAG's root node.
//	initial - Starting values for any free variables root references.
//	n - Batch width (arena column count) for Values/Derivs; clamped to 1.
//	opts - Optional construction knobs, see WithEpsilon/WithStackCapacityHint.
//
// Outputs:
//
//	*Evaluator - Ready to Eval/Push/FeaturesAt.
//	error - Non-nil if building the tape fails (e.g. an unknown variable).
//
// Thread Safety: The returned Evaluator is single-threaded; construct
// one per worker when parallelizing.
func New(cache *tree.Cache, root *tree.Node, initial map[string]float64, n int, opts ...Option) (*Evaluator, error) {
	if n < 1 {
		n = 1
	}
	o := options{epsilon: feature.DefaultEpsilon, stackCapHint: 1}
	for _, opt := range opts {
		opt(&o)
	}
	res, err := builder.Build(cache, root, initial, n)
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		result:  res,
		stack:   stack.New(res.Tape, res.Arena, o.stackCapHint),
		epsilon: o.epsilon,
	}, nil
}

func (e *Evaluator) arena() *arena.Arena { return e.result.Arena }

// setPoint writes p into column 0 of the axis slots.
func (e *Evaluator) setPoint(p [3]float64) {
	a := e.arena()
	a.Value[e.result.AxisX][0] = p[0]
	a.Value[e.result.AxisY][0] = p[1]
	a.Value[e.result.AxisZ][0] = p[2]
}

// SetPoints writes xs/ys/zs into columns [0, count) of the axis slots for
// a batched Values/Derivs call. count is min(len(xs), arena width).
func (e *Evaluator) SetPoints(xs, ys, zs []float64) int {
	a := e.arena()
	count := len(xs)
	if n := a.N(); count > n {
		count = n
	}
	for j := 0; j < count; j++ {
		a.Value[e.result.AxisX][j] = xs[j]
		a.Value[e.result.AxisY][j] = ys[j]
		a.Value[e.result.AxisZ][j] = zs[j]
	}
	return count
}

func (e *Evaluator) seedLeafIntervals(box tape.Box) {
	a := e.arena()
	a.Interval[e.result.AxisX] = ivl.Interval{Lo: box.X[0], Hi: box.X[1]}
	a.Interval[e.result.AxisY] = ivl.Interval{Lo: box.Y[0], Hi: box.Y[1]}
	a.Interval[e.result.AxisZ] = ivl.Interval{Lo: box.Z[0], Hi: box.Z[1]}
	for _, s := range e.result.ConstSlots {
		a.Interval[s] = ivl.Of(a.Value[s][0])
	}
	for _, s := range e.result.VarSlot {
		a.Interval[s] = ivl.Of(a.Value[s][0])
	}
}

// Eval evaluates f at p on the current (possibly reduced) tape, per spec
// §6 eval(p).
func (e *Evaluator) Eval(p [3]float64) (float64, error) {
	e.setPoint(p)
	t := e.stack.Current()
	if err := kernel.Values(t, e.arena(), 1); err != nil {
		return 0, e.translateKernelErr(err, "eval")
	}
	e.recordEvaluation("eval")
	return e.arena().Value[t.Root][0], nil
}

// EvalInterval computes [lower, upper] bounding f over the box
// [lo, hi] via interval arithmetic on the current tape, per spec §6
// eval(lower, upper).
func (e *Evaluator) EvalInterval(lo, hi [3]float64) (ivl.Interval, error) {
	box := tape.Box{X: [2]float64{lo[0], hi[0]}, Y: [2]float64{lo[1], hi[1]}, Z: [2]float64{lo[2], hi[2]}}
	e.seedLeafIntervals(box)
	t := e.stack.Current()
	if err := kernel.Interval(t, e.arena()); err != nil {
		return ivl.Interval{}, e.translateKernelErr(err, "interval")
	}
	e.recordEvaluation("interval")
	return e.arena().Interval[t.Root], nil
}

// BaseEval delegates to the tape stack's baseEval, per spec §6 baseEval(p).
func (e *Evaluator) BaseEval(p [3]float64) (float64, error) {
	v, err := e.stack.BaseEval(p, func() { e.setPoint(p) }, 1)
	if err != nil {
		return 0, e.translateKernelErr(err, "base_eval")
	}
	return v, nil
}

// Values evaluates the leading count columns (already populated via
// SetPoints) on the current tape and returns the root's value row, per
// spec §6 values(count).
func (e *Evaluator) Values(count int) ([]float64, error) {
	t := e.stack.Current()
	if err := kernel.Values(t, e.arena(), count); err != nil {
		return nil, e.translateKernelErr(err, "values")
	}
	e.recordEvaluation("values")
	out := make([]float64, count)
	copy(out, e.arena().Value[t.Root][:count])
	return out, nil
}

// Derivs evaluates values then spatial derivatives over the leading count
// columns on the current tape, per spec §6 derivs(count).
func (e *Evaluator) Derivs(count int) (values, dx, dy, dz []float64, err error) {
	t := e.stack.Current()
	a := e.arena()
	if err = kernel.Values(t, a, count); err != nil {
		return nil, nil, nil, nil, e.translateKernelErr(err, "derivs")
	}
	if err = kernel.Derivs(t, a, count); err != nil {
		return nil, nil, nil, nil, e.translateKernelErr(err, "derivs")
	}
	e.recordEvaluation("derivs")
	values = append([]float64(nil), a.Value[t.Root][:count]...)
	dx = append([]float64(nil), a.Dx[t.Root][:count]...)
	dy = append([]float64(nil), a.Dy[t.Root][:count]...)
	dz = append([]float64(nil), a.Dz[t.Root][:count]...)
	return values, dx, dy, dz, nil
}

// Interval returns the interval most recently computed at the current
// tape's root, per spec §6 interval().
func (e *Evaluator) Interval() ivl.Interval {
	t := e.stack.Current()
	return e.arena().Interval[t.Root]
}

// Gradient evaluates the variable Jacobian at p on the current tape and
// returns ∂f/∂v for every free variable, per spec §6 gradient(p).
func (e *Evaluator) Gradient(p [3]float64) (map[string]float64, error) {
	e.setPoint(p)
	t := e.stack.Current()
	a := e.arena()
	if err := kernel.Values(t, a, 1); err != nil {
		return nil, e.translateKernelErr(err, "gradient")
	}
	if err := kernel.Jacobian(t, a); err != nil {
		return nil, e.translateKernelErr(err, "gradient")
	}
	out := make(map[string]float64, len(e.result.VarIndex))
	for id, idx := range e.result.VarIndex {
		out[id] = a.Jacobian[t.Root][idx]
	}
	return out, nil
}

// Push performs push(INTERVAL): it runs a fresh interval sweep over box
// then range-reduces onto a new stack tape, per spec §6 push().
func (e *Evaluator) Push(lo, hi [3]float64) error {
	if _, err := e.EvalInterval(lo, hi); err != nil {
		return err
	}
	box := tape.Box{X: [2]float64{lo[0], hi[0]}, Y: [2]float64{lo[1], hi[1]}, Z: [2]float64{lo[2], hi[2]}}
	if err := e.stack.PushInterval(box); err != nil {
		return e.translateKernelErr(err, "push")
	}
	util := e.stack.Utilization()
	if e.metrics != nil {
		e.metrics.RecordPush(context.Background(), "interval", util)
	}
	if e.logger != nil {
		e.logger.Debug("push(interval)", slog.Float64("utilization", util))
		if util >= 1.0 {
			e.logger.Warn("push(interval) did not reduce the tape", slog.Float64("utilization", util))
		}
	}
	return nil
}

// PushFeature performs push(Feature), per spec §6 push(Feature).
func (e *Evaluator) PushFeature(f *Feature) (*Feature, error) {
	out, err := e.stack.PushFeature(f)
	if err != nil {
		return nil, e.translateKernelErr(err, "push_feature")
	}
	util := e.stack.Utilization()
	if e.metrics != nil {
		e.metrics.RecordPush(context.Background(), "feature", util)
	}
	if e.logger != nil {
		e.logger.Debug("push(feature)", slog.Int("choices", len(out.Choices())), slog.Float64("utilization", util))
	}
	return out, nil
}

// Specialize evaluates p then collapses MIN/MAX branches by float
// comparison, per spec §6 specialize(p).
func (e *Evaluator) Specialize(p [3]float64) error {
	e.setPoint(p)
	t := e.stack.Current()
	if err := kernel.Values(t, e.arena(), 1); err != nil {
		return e.translateKernelErr(err, "specialize")
	}
	if err := e.stack.Specialize(); err != nil {
		return e.translateKernelErr(err, "specialize")
	}
	util := e.stack.Utilization()
	if e.metrics != nil {
		e.metrics.RecordPush(context.Background(), "specialize", util)
	}
	if e.logger != nil {
		e.logger.Debug("specialize", slog.Float64("point_x", p[0]), slog.Float64("point_y", p[1]), slog.Float64("point_z", p[2]), slog.Float64("utilization", util))
	}
	return nil
}

// Pop decrements the tape-stack cursor, per spec §6 pop().
func (e *Evaluator) Pop() error {
	if err := e.stack.Pop(); err != nil {
		if e.logger != nil {
			e.logger.Warn("pop() on an empty tape stack")
		}
		return ErrStackUnderflow
	}
	if e.metrics != nil {
		e.metrics.RecordPop(context.Background())
	}
	if e.logger != nil {
		e.logger.Debug("pop", slog.Float64("utilization", e.stack.Utilization()))
	}
	return nil
}

// IsAmbiguous reports whether the current tape contains any MIN/MAX
// clause whose operand values are equal in column 0, per spec §4.9.
func (e *Evaluator) IsAmbiguous() bool {
	t := e.stack.Current()
	a := e.arena()
	for _, c := range t.Clauses {
		if c.Op.IsMinMax() && a.Value[c.A][0] == a.Value[c.B][0] {
			return true
		}
	}
	return false
}

// IsAmbiguousAt evaluates at p then calls IsAmbiguous, per spec §4.9
// isAmbiguous(p).
func (e *Evaluator) IsAmbiguousAt(p [3]float64) (bool, error) {
	if _, err := e.Eval(p); err != nil {
		return false, err
	}
	return e.IsAmbiguous(), nil
}

// GetAmbiguous returns the set of columns in [0, count) where any MIN/MAX
// tie exists, per spec §4.9 getAmbiguous(count). Values(count) must have
// been called first.
func (e *Evaluator) GetAmbiguous(count int) []int {
	t := e.stack.Current()
	a := e.arena()
	set := make(map[int]struct{})
	for _, c := range t.Clauses {
		if !c.Op.IsMinMax() {
			continue
		}
		av, bv := a.Value[c.A], a.Value[c.B]
		for j := 0; j < count; j++ {
			if av[j] == bv[j] {
				set[j] = struct{}{}
			}
		}
	}
	out := make([]int, 0, len(set))
	for j := range set {
		out = append(out, j)
	}
	sort.Ints(out)
	return out
}

// SetVar writes v to the value row of the named variable's slot, per spec
// §6 setVar. Returns ErrUnknownVariable if id has no slot.
func (e *Evaluator) SetVar(id string, v float64) error {
	slot, ok := e.result.VarSlot[id]
	if !ok {
		return ErrUnknownVariable
	}
	e.arena().FillConst(int(slot), v)
	return nil
}

// VarValues reads back the current value of every free variable, per
// spec §6 varValues.
func (e *Evaluator) VarValues() map[string]float64 {
	out := make(map[string]float64, len(e.result.VarSlot))
	for id, slot := range e.result.VarSlot {
		out[id] = e.arena().Value[slot][0]
	}
	return out
}

// UpdateVars applies a batch update and reports whether anything changed,
// per spec §6 updateVars.
func (e *Evaluator) UpdateVars(updates map[string]float64) (bool, error) {
	changed := false
	for id, v := range updates {
		slot, ok := e.result.VarSlot[id]
		if !ok {
			return false, ErrUnknownVariable
		}
		if e.arena().Value[slot][0] != v {
			changed = true
		}
		e.arena().FillConst(int(slot), v)
	}
	return changed, nil
}

// Utilization returns current-tape-length / original-tape-length, per
// spec §6 utilization.
func (e *Evaluator) Utilization() float64 {
	return e.stack.Utilization()
}

// IsInside classifies p relative to the implicit surface, per spec §4.8.
func (e *Evaluator) IsInside(p [3]float64) (bool, error) {
	e.setPoint(p)
	t := e.stack.Current()
	a := e.arena()
	if err := kernel.Values(t, a, 1); err != nil {
		return false, e.translateKernelErr(err, "is_inside")
	}
	if err := kernel.Derivs(t, a, 1); err != nil {
		return false, e.translateKernelErr(err, "is_inside")
	}
	v := a.Value[t.Root][0]
	dx, dy, dz := a.Dx[t.Root][0], a.Dy[t.Root][0], a.Dz[t.Root][0]

	if v < 0 {
		return true, nil
	}
	if v > 0 {
		return false, nil
	}
	if !e.IsAmbiguous() {
		return gradNonZero(dx, dy, dz), nil
	}

	feats, ferr := e.FeaturesAt(p)
	if ferr != nil {
		return false, ferr
	}
	if len(feats) == 1 {
		g := feats[0].Gradient()
		return gradNonZero(g[0], g[1], g[2]), nil
	}
	deriv := [3]float64{dx, dy, dz}
	neg := [3]float64{-dx, -dy, -dz}
	anyPos, anyNeg := false, false
	for _, f := range feats {
		if f.IsCompatible(deriv) {
			anyPos = true
		}
		if f.IsCompatible(neg) {
			anyNeg = true
		}
	}
	return !(anyPos && !anyNeg), nil
}

func gradNonZero(dx, dy, dz float64) bool {
	return dx != 0 || dy != 0 || dz != 0
}

// FeaturesAt enumerates the distinct one-sided gradients at p.
//
// Description:
//
//	Specializes onto p, then explores a worklist of half-space-
//	constrained Features, branching at every ambiguous MIN/MAX clause
//	still reachable under the constraints accumulated so far. Scans
//	toward the root for the next ambiguous clause whenever the nearest
//	tie's branches are both infeasible, so a tie further from the
//	leaves is never skipped. Returns one Feature per distinct reachable
//	branch combination, each carrying its resolved gradient.
//
// Inputs:
//
//	p - The point to enumerate features at. Ambiguity requires an exact
//	    MIN/MAX value tie at p; an unambiguous point returns one Feature.
//
// Outputs:
//
//	[]*Feature - At least one Feature (spec §8 property 6).
//	error - Non-nil on a tape-evaluation failure.
//
// Thread Safety: Not safe to call concurrently with other Evaluator
// methods on the same instance; it pushes and pops tape-stack frames.
func (e *Evaluator) FeaturesAt(p [3]float64) ([]*Feature, error) {
	ctx := context.Background()
	start := time.Now()
	if e.tracer != nil {
		var span oteltrace.Span
		ctx, span = e.tracer.Start(ctx, "fieldvm.featuresAt",
			oteltrace.WithAttributes(attribute.String("correlation_id", uuid.NewString())))
		defer span.End()
	}
	defer func() {
		if e.metrics != nil {
			e.metrics.FeaturesAtTotal.Add(ctx, 1)
			e.metrics.FeaturesAtDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	if err := e.Specialize(p); err != nil {
		return nil, err
	}
	defer func() {
		e.stack.Pop()
		if e.metrics != nil {
			e.metrics.RecordPop(ctx)
		}
	}()

	worklist := []*Feature{feature.NewWithEpsilon(e.epsilon)}
	finished := make(map[string]*Feature)

	for len(worklist) > 0 {
		f := worklist[0]
		worklist = worklist[1:]

		out, err := e.stack.PushFeature(f)
		if err != nil {
			return nil, e.translateKernelErr(err, "features_at")
		}

		t := e.stack.Current()
		a := e.arena()
		if err := kernel.Values(t, a, 1); err != nil {
			e.stack.Pop()
			return nil, e.translateKernelErr(err, "features_at")
		}
		if err := kernel.Derivs(t, a, 1); err != nil {
			e.stack.Pop()
			return nil, e.translateKernelErr(err, "features_at")
		}

		// Scan toward the root for an ambiguous MIN/MAX clause whose
		// branches actually admit a feasible successor. A tie nearest
		// the leaves whose both branches are infeasible against the
		// half-spaces already accumulated does not end the search: a
		// tie further toward the root may still be ambiguous and
		// feasible, and dropping the feature here would lose it.
		ambiguous := false
		for i := len(t.Clauses) - 1; i >= 0 && !ambiguous; i-- {
			c := t.Clauses[i]
			if !c.Op.IsMinMax() {
				continue
			}
			if c.A == c.B {
				succ := out.Clone()
				if err := succ.Push(c.ID, 0, [3]float64{}, false); err == nil {
					worklist = append(worklist, succ)
					ambiguous = true
				}
				continue
			}
			if a.Value[c.A][0] != a.Value[c.B][0] {
				continue
			}

			var eps [3]float64
			if c.Op == opcode.MIN {
				eps = [3]float64{a.Dx[c.B][0] - a.Dx[c.A][0], a.Dy[c.B][0] - a.Dy[c.A][0], a.Dz[c.B][0] - a.Dz[c.A][0]}
			} else {
				eps = [3]float64{a.Dx[c.A][0] - a.Dx[c.B][0], a.Dy[c.A][0] - a.Dy[c.B][0], a.Dz[c.A][0] - a.Dz[c.B][0]}
			}
			neg := [3]float64{-eps[0], -eps[1], -eps[2]}

			if s0 := out.Clone(); s0.Push(c.ID, 0, eps, true) == nil {
				worklist = append(worklist, s0)
				ambiguous = true
			}
			if s1 := out.Clone(); s1.Push(c.ID, 1, neg, true) == nil {
				worklist = append(worklist, s1)
				ambiguous = true
			}
		}

		if !ambiguous {
			out.SetGradient(a.Dx[t.Root][0], a.Dy[t.Root][0], a.Dz[t.Root][0])
			finished[out.Key()] = out
		}
		e.stack.Pop()
	}

	result := make([]*Feature, 0, len(finished))
	for _, f := range finished {
		result = append(result, f)
	}
	if e.metrics != nil {
		e.metrics.FeaturesFound.Record(ctx, int64(len(result)))
	}
	return result, nil
}

// recordEvaluation increments EvaluationsTotal for a successful call of
// the given kind ("eval", "values", "derivs", "interval", ...).
func (e *Evaluator) recordEvaluation(kind string) {
	if e.metrics == nil {
		return
	}
	e.metrics.EvaluationsTotal.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("kind", kind)))
}

// translateKernelErr maps an internal-package error into a root-level
// sentinel or TapeError, recording it against ErrorsTotal under kind if a
// Metrics sink is attached.
func (e *Evaluator) translateKernelErr(err error, kind string) error {
	if err == nil {
		return nil
	}
	if e.metrics != nil {
		e.metrics.ErrorsTotal.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("kind", kind)))
	}
	switch ke := err.(type) {
	case *kernel.BadOpcodeError:
		return &TapeError{Slot: int(ke.Slot), Op: ke.Op, Err: ErrBadOpcode}
	case *feature.ChoiceStreamUnderrunError:
		return ErrChoiceStreamUnderrun
	}
	if err == stack.ErrStackUnderflow {
		return ErrStackUnderflow
	}
	return err
}
