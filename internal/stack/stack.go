// Package stack implements the tape-stack engine: push/pop of reduced
// tapes built by range-reduction (interval, feature, or point
// specialization) over a parent tape, per spec §4.6.
package stack

import (
	"errors"

	"github.com/solidkernel/fieldvm/internal/arena"
	"github.com/solidkernel/fieldvm/internal/feature"
	"github.com/solidkernel/fieldvm/internal/kernel"
	"github.com/solidkernel/fieldvm/internal/opcode"
	"github.com/solidkernel/fieldvm/internal/tape"
)

// ErrStackUnderflow is returned by Pop when the cursor is already at the
// base tape. The root package wraps this into its own sentinel at the
// Evaluator boundary.
var ErrStackUnderflow = errors.New("stack: pop at base tape")

// Stack is a sequence of tapes with a "current" cursor. Index 0 is always
// the ORIGINAL tape (the base); cursor indexes the current tape.
type Stack struct {
	tapes  []*tape.Tape
	cursor int

	disabled []bool
	remap    []tape.Slot

	arena *arena.Arena
}

// New wraps base (the ORIGINAL tape produced by the builder) and a's slots,
// with scratch arrays sized to base's slot count. capacityHint preallocates
// room in the tape list for that many nested pushes before the first
// reallocation; negative values are treated as 0 (the base tape alone).
func New(base *tape.Tape, a *arena.Arena, capacityHint int) *Stack {
	if capacityHint < 0 {
		capacityHint = 0
	}
	tapes := make([]*tape.Tape, 1, capacityHint+1)
	tapes[0] = base
	return &Stack{
		tapes:  tapes,
		cursor: 0,
		arena:  a,
	}
}

// Current returns the tape at the cursor.
func (s *Stack) Current() *tape.Tape { return s.tapes[s.cursor] }

// Depth returns the cursor (0 at the base).
func (s *Stack) Depth() int { return s.cursor }

// Base returns the ORIGINAL tape.
func (s *Stack) Base() *tape.Tape { return s.tapes[0] }

func (s *Stack) ensureScratch() {
	n := s.arena.SlotCount()
	if len(s.disabled) < n {
		s.disabled = make([]bool, n)
		s.remap = make([]tape.Slot, n)
	}
}

// resolve chases remap to its fixed point.
func resolve(remap []tape.Slot, id tape.Slot) tape.Slot {
	for remap[id] != 0 && remap[id] != id {
		id = remap[id]
	}
	return id
}

// PushInterval performs range-reduction using per-slot intervals already
// populated in the arena (via a fresh kernel.Interval sweep on the current
// tape) and materializes the reduced tape, per spec §4.6 push(INTERVAL).
func (s *Stack) PushInterval(box tape.Box) error {
	s.ensureScratch()
	cur := s.Current()

	for i := range s.disabled {
		s.disabled[i] = true
		s.remap[i] = 0
	}
	s.disabled[cur.Root] = false

	for _, c := range cur.Clauses {
		if s.disabled[c.ID] {
			continue
		}
		if c.Op.IsMinMax() {
			ia := s.arena.Interval[c.A]
			ib := s.arena.Interval[c.B]
			switch {
			case c.Op == opcode.MAX && ia.Lo > ib.Hi:
				s.disabled[c.A] = false
				s.remap[c.ID] = c.A
				continue
			case c.Op == opcode.MAX && ib.Lo > ia.Hi:
				s.disabled[c.B] = false
				s.remap[c.ID] = c.B
				continue
			case c.Op == opcode.MIN && ib.Lo > ia.Hi:
				s.disabled[c.A] = false
				s.remap[c.ID] = c.A
				continue
			case c.Op == opcode.MIN && ia.Lo > ib.Hi:
				s.disabled[c.B] = false
				s.remap[c.ID] = c.B
				continue
			}
		}
		s.disabled[c.A] = false
		if c.Op.IsBinary() {
			s.disabled[c.B] = false
		}
	}

	return s.pushTape(tape.INTERVAL, box)
}

// Specialize evaluates values at p on the current tape (via kernel.Values,
// already run by the caller into column 0) then performs the same collapse
// as PushInterval but comparing float values with strict >, per spec §4.6
// specialize(p).
func (s *Stack) Specialize() error {
	s.ensureScratch()
	cur := s.Current()

	for i := range s.disabled {
		s.disabled[i] = true
		s.remap[i] = 0
	}
	s.disabled[cur.Root] = false

	for _, c := range cur.Clauses {
		if s.disabled[c.ID] {
			continue
		}
		if c.Op.IsMinMax() {
			av := s.arena.Value[c.A][0]
			bv := s.arena.Value[c.B][0]
			switch {
			case c.Op == opcode.MAX && av > bv:
				s.disabled[c.A] = false
				s.remap[c.ID] = c.A
				continue
			case c.Op == opcode.MAX && bv > av:
				s.disabled[c.B] = false
				s.remap[c.ID] = c.B
				continue
			case c.Op == opcode.MIN && bv > av:
				s.disabled[c.A] = false
				s.remap[c.ID] = c.A
				continue
			case c.Op == opcode.MIN && av > bv:
				s.disabled[c.B] = false
				s.remap[c.ID] = c.B
				continue
			}
		}
		s.disabled[c.A] = false
		if c.Op.IsBinary() {
			s.disabled[c.B] = false
		}
	}

	return s.pushTape(tape.SPECIALIZED, tape.Box{})
}

// PushFeature walks the current tape matching clauses against f's recorded
// choices.
//
// Description:
//
//	Re-plays f's choices in tape order: at every tied MIN/MAX clause it
//	expects the next unconsumed choice to name that clause, collapses
//	it to the chosen branch, and records the choice onto a fresh output
//	Feature (preserving f's epsilon). Per spec §4.6 push(Feature).
//
// Inputs:
//
//	f - A Feature built by FeaturesAt's worklist walk, whose choices
//	    must match the current tape's tie structure exactly.
//
// Outputs:
//
//	*feature.Feature - A copy of f with choices re-recorded in walk order.
//	error - *feature.ChoiceStreamUnderrunError if f's choice stream was
//	        not fully consumed by the walk.
func (s *Stack) PushFeature(f *feature.Feature) (*feature.Feature, error) {
	s.ensureScratch()
	cur := s.Current()

	for i := range s.disabled {
		s.disabled[i] = true
		s.remap[i] = 0
	}
	s.disabled[cur.Root] = false

	out := feature.NewWithEpsilon(f.Epsilon())
	it := f.Choices()
	idx := 0

	for _, c := range cur.Clauses {
		if s.disabled[c.ID] {
			continue
		}
		if c.Op.IsMinMax() {
			av := s.arena.Value[c.A][0]
			bv := s.arena.Value[c.B][0]
			tied := c.A == c.B || av == bv
			if tied && idx < len(it) && it[idx].ClauseID == c.ID {
				ch := it[idx]
				idx++
				var chosen tape.Slot
				if ch.Branch == 0 {
					chosen = c.A
				} else {
					chosen = c.B
				}
				s.disabled[chosen] = false
				s.remap[c.ID] = chosen
				out.Record(ch)
				continue
			}
		}
		s.disabled[c.A] = false
		if c.Op.IsBinary() {
			s.disabled[c.B] = false
		}
	}

	if idx != len(it) {
		return nil, &feature.ChoiceStreamUnderrunError{Consumed: idx, Total: len(it)}
	}

	if err := s.pushTape(tape.FEATURE, tape.Box{}); err != nil {
		return nil, err
	}
	return out, nil
}

// pushTape materializes the reduced tape from disabled/remap into the next
// stack slot (allocating or reusing storage), sets its type, and advances
// the cursor, per spec §4.6 pushTape(type). Disabled clauses and collapsed
// (remapped) MIN/MAX clauses are elided.
func (s *Stack) pushTape(typ tape.Type, box tape.Box) error {
	cur := s.Current()
	next := s.cursor + 1

	var nt *tape.Tape
	if next < len(s.tapes) {
		nt = s.tapes[next]
		nt.Reset(typ)
	} else {
		nt = &tape.Tape{
			Clauses: make([]tape.Clause, 0, len(s.Base().Clauses)),
			Type:    typ,
		}
		s.tapes = append(s.tapes, nt)
	}

	for _, c := range cur.Clauses {
		if s.disabled[c.ID] || s.remap[c.ID] != 0 {
			continue
		}
		rc := c
		rc.A = resolve(s.remap, c.A)
		if c.Op.IsBinary() {
			rc.B = resolve(s.remap, c.B)
		}
		nt.Clauses = append(nt.Clauses, rc)
	}
	nt.Root = resolve(s.remap, cur.Root)
	nt.Box = box

	s.cursor = next
	return nil
}

// Pop decrements the cursor by one; the vacated tape's storage is retained
// for future reuse. Returns ErrStackUnderflow if already at the base.
func (s *Stack) Pop() error {
	if s.cursor == 0 {
		return ErrStackUnderflow
	}
	s.cursor--
	return nil
}

// BaseEval walks the stack toward the base looking for the shallowest
// INTERVAL tape whose stored box contains p, evaluates values on that
// tape via the value kernel, and restores the prior cursor — per spec
// §4.6 baseEval(p). count is the batch width to evaluate (normally 1).
func (s *Stack) BaseEval(p [3]float64, setAxes func(), count int) (float64, error) {
	saved := s.cursor
	defer func() { s.cursor = saved }()

	for depth := s.cursor; depth >= 0; depth-- {
		t := s.tapes[depth]
		if t.Type != tape.INTERVAL {
			continue
		}
		if !t.Box.Contains(p) {
			continue
		}
		s.cursor = depth
		setAxes()
		if err := kernel.Values(t, s.arena, count); err != nil {
			return 0, err
		}
		return s.arena.Value[t.Root][0], nil
	}

	t := s.Base()
	setAxes()
	if err := kernel.Values(t, s.arena, count); err != nil {
		return 0, err
	}
	return s.arena.Value[t.Root][0], nil
}

// Utilization returns current-tape-length / original-tape-length.
func (s *Stack) Utilization() float64 {
	base := len(s.Base().Clauses)
	if base == 0 {
		return 1
	}
	return float64(len(s.Current().Clauses)) / float64(base)
}
