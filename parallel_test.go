package fieldvm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solidkernel/fieldvm/internal/opcode"
	"github.com/solidkernel/fieldvm/internal/tree"
)

func TestParallelEvalMatchesSequentialEval(t *testing.T) {
	newEval := func() (*Evaluator, error) {
		cache := tree.NewCache()
		root := cache.Binary(opcode.MAX, cache.X(), cache.Y())
		return New(cache, root, nil, 1)
	}

	points := [][3]float64{
		{1, 2, 0}, {5, 3, 0}, {-1, -2, 0}, {0, 0, 0}, {9, 1, 0}, {2, 2, 0}, {3, -3, 0},
	}

	got, err := ParallelEval(context.Background(), points, 3, newEval)
	require.NoError(t, err)

	ev, err := newEval()
	require.NoError(t, err)
	want := make([]float64, len(points))
	for i, p := range points {
		v, err := ev.Eval(p)
		require.NoError(t, err)
		want[i] = v
	}

	assert.Equal(t, want, got)
}

func TestParallelEvalPropagatesWorkerError(t *testing.T) {
	wantErr := errors.New("boom")
	newEval := func() (*Evaluator, error) {
		return nil, wantErr
	}

	_, err := ParallelEval(context.Background(), [][3]float64{{0, 0, 0}}, 1, newEval)
	assert.ErrorIs(t, err, wantErr)
}

func TestParallelEvalEmptyPointsReturnsNil(t *testing.T) {
	calls := 0
	newEval := func() (*Evaluator, error) {
		calls++
		cache := tree.NewCache()
		return New(cache, cache.X(), nil, 1)
	}

	out, err := ParallelEval(context.Background(), nil, 4, newEval)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 0, calls, "newEval should never be called when there is no work")
}
