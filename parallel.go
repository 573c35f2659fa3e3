package fieldvm

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParallelEval evaluates f at every point in points using workers
// independent Evaluators, one per goroutine. An Evaluator is
// single-threaded and stateful, so callers parallelizing across points
// construct one Evaluator per worker rather than sharing a single
// instance.
//
// Description:
//
//	Splits points into workers contiguous chunks and runs each chunk on
//	its own Evaluator built by newEval, propagating the first error via
//	errgroup and canceling ctx for the remaining workers (an
//	errgroup.WithContext/g.Go/g.Wait fan-out over a pre-sized,
//	index-owned result slice). Each worker writes only into the slice
//	positions its chunk owns, so no synchronization is needed on the
//	output slice.
//
// Inputs:
//
//	ctx - Canceled for the remaining workers as soon as one returns an error.
//	points - The points to evaluate, in order.
//	workers - Goroutine count; clamped to [1, len(points)].
//	newEval - Builds one Evaluator per worker; called once per goroutine,
//	          from that goroutine, so calls may run concurrently.
//
// Outputs:
//
//	[]float64 - f(points[i]) for every i, in input order.
//	error - The first error from newEval or Eval, if any.
//
// Thread Safety: Safe to call from any goroutine; it does not touch shared
// Evaluator state, since each worker owns its own instance.
func ParallelEval(ctx context.Context, points [][3]float64, workers int, newEval func() (*Evaluator, error)) ([]float64, error) {
	if len(points) == 0 {
		return nil, nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(points) {
		workers = len(points)
	}

	out := make([]float64, len(points))
	g, gCtx := errgroup.WithContext(ctx)

	chunk := (len(points) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		if lo >= len(points) {
			break
		}
		hi := lo + chunk
		if hi > len(points) {
			hi = len(points)
		}

		lo, hi := lo, hi
		g.Go(func() error {
			ev, err := newEval()
			if err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				select {
				case <-gCtx.Done():
					return gCtx.Err()
				default:
				}
				v, err := ev.Eval(points[i])
				if err != nil {
					return err
				}
				out[i] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
