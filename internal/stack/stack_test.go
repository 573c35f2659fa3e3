package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solidkernel/fieldvm/internal/builder"
	"github.com/solidkernel/fieldvm/internal/feature"
	"github.com/solidkernel/fieldvm/internal/kernel"
	"github.com/solidkernel/fieldvm/internal/opcode"
	"github.com/solidkernel/fieldvm/internal/tape"
	"github.com/solidkernel/fieldvm/internal/tree"
)

func buildMaxXY(t *testing.T) *builder.Result {
	cache := tree.NewCache()
	root := cache.Binary(opcode.MAX, cache.X(), cache.Y())
	res, err := builder.Build(cache, root, nil, 1)
	require.NoError(t, err)
	return res
}

func TestPushIntervalCollapsesMaxWhenOneBranchDominates(t *testing.T) {
	res := buildMaxXY(t)
	a := res.Arena

	box := tape.Box{X: [2]float64{10, 20}, Y: [2]float64{-5, 0}}
	a.Interval[res.AxisX].Lo, a.Interval[res.AxisX].Hi = box.X[0], box.X[1]
	a.Interval[res.AxisY].Lo, a.Interval[res.AxisY].Hi = box.Y[0], box.Y[1]
	a.Interval[res.AxisZ].Lo, a.Interval[res.AxisZ].Hi = 0, 0

	require.NoError(t, kernel.Interval(res.Tape, a))

	s := New(res.Tape, a, 4)
	require.NoError(t, s.PushInterval(box))

	assert.Equal(t, res.AxisX, s.Current().Root, "max(x,y) over x>>y should collapse to the x branch")
	assert.Less(t, s.Utilization(), 1.0, "a collapsed tape should be strictly smaller than the original")
}

func TestPushIntervalKeepsBothBranchesWhenAmbiguous(t *testing.T) {
	res := buildMaxXY(t)
	a := res.Arena

	box := tape.Box{X: [2]float64{-1, 1}, Y: [2]float64{-1, 1}}
	a.Interval[res.AxisX].Lo, a.Interval[res.AxisX].Hi = box.X[0], box.X[1]
	a.Interval[res.AxisY].Lo, a.Interval[res.AxisY].Hi = box.Y[0], box.Y[1]

	require.NoError(t, kernel.Interval(res.Tape, a))

	s := New(res.Tape, a, 4)
	require.NoError(t, s.PushInterval(box))

	assert.Equal(t, 1.0, s.Utilization(), "overlapping x/y ranges must keep the full max(x,y) clause")
}

func TestSpecializeCollapsesToActiveBranch(t *testing.T) {
	res := buildMaxXY(t)
	a := res.Arena
	a.Value[res.AxisX][0] = 7
	a.Value[res.AxisY][0] = -2

	s := New(res.Tape, a, 4)
	require.NoError(t, s.Specialize())

	assert.Equal(t, res.AxisX, s.Current().Root)
	assert.Equal(t, tape.SPECIALIZED, s.Current().Type)
}

func TestPopUnderflowAtBase(t *testing.T) {
	res := buildMaxXY(t)
	s := New(res.Tape, res.Arena, 4)
	err := s.Pop()
	assert.ErrorIs(t, err, ErrStackUnderflow)
}

func TestPushThenPopReturnsToBase(t *testing.T) {
	res := buildMaxXY(t)
	a := res.Arena
	a.Value[res.AxisX][0] = 7
	a.Value[res.AxisY][0] = -2

	s := New(res.Tape, a, 4)
	require.NoError(t, s.Specialize())
	require.Equal(t, 1, s.Depth())

	require.NoError(t, s.Pop())
	assert.Equal(t, 0, s.Depth())
	assert.Same(t, res.Tape, s.Current())
}

func TestPushFeatureOnTiedBranchConsumesChoice(t *testing.T) {
	res := buildMaxXY(t)
	a := res.Arena
	a.Value[res.AxisX][0] = 3
	a.Value[res.AxisY][0] = 3 // tied: max(x,y) is ambiguous here

	s := New(res.Tape, a, 4)
	f := feature.New()
	require.NoError(t, f.Push(res.Tape.Root, 0, [3]float64{}, false))

	out, err := s.PushFeature(f)
	require.NoError(t, err)
	assert.Equal(t, res.AxisX, s.Current().Root, "branch 0 should select the A operand (x)")
	assert.Len(t, out.Choices(), 1)
}

func TestPushFeatureUnderrunWhenChoiceClauseMissing(t *testing.T) {
	res := buildMaxXY(t)
	a := res.Arena
	a.Value[res.AxisX][0] = 3
	a.Value[res.AxisY][0] = 3

	s := New(res.Tape, a, 4)
	f := feature.New()
	// ClauseID 999 never appears as a tied MIN/MAX clause in this tape.
	require.NoError(t, f.Push(999, 0, [3]float64{}, false))

	_, err := s.PushFeature(f)
	require.Error(t, err)
	var underrun *feature.ChoiceStreamUnderrunError
	require.ErrorAs(t, err, &underrun)
}

func TestBaseEvalFallsBackToBaseWhenNoIntervalTapeContainsPoint(t *testing.T) {
	res := buildMaxXY(t)
	s := New(res.Tape, res.Arena, 4)

	v, err := s.BaseEval([3]float64{7, -2, 0}, func() {
		res.Arena.Value[res.AxisX][0] = 7
		res.Arena.Value[res.AxisY][0] = -2
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestBaseEvalUsesShallowestContainingIntervalTape(t *testing.T) {
	res := buildMaxXY(t)
	a := res.Arena
	box := tape.Box{X: [2]float64{10, 20}, Y: [2]float64{-5, 0}}
	a.Interval[res.AxisX].Lo, a.Interval[res.AxisX].Hi = box.X[0], box.X[1]
	a.Interval[res.AxisY].Lo, a.Interval[res.AxisY].Hi = box.Y[0], box.Y[1]
	require.NoError(t, kernel.Interval(res.Tape, a))

	s := New(res.Tape, a, 4)
	require.NoError(t, s.PushInterval(box))

	v, err := s.BaseEval([3]float64{15, -1, 0}, func() {
		a.Value[res.AxisX][0] = 15
		a.Value[res.AxisY][0] = -1
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, 15.0, v, "baseEval should use the pushed INTERVAL tape (max already collapsed to x)")
}

func TestUtilizationOfUnmodifiedBaseIsOne(t *testing.T) {
	res := buildMaxXY(t)
	s := New(res.Tape, res.Arena, 4)
	assert.Equal(t, 1.0, s.Utilization())
}
